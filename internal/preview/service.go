package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/epub2tts/epub2tts/internal/cache"
	"github.com/epub2tts/epub2tts/internal/catalog"
	"github.com/epub2tts/epub2tts/internal/conversion"
)

// Preview defaults
const (
	DefaultTimeout    = 30 * time.Second
	DefaultSampleText = "This is a sample of how your audiobook will sound."
	MaxSampleRunes    = 300
)

// ErrUnsupported indicates no synthesizer is registered for the engine
var ErrUnsupported = errors.New("voice preview not available for engine")

// Service produces short voice samples for registry speakers, caching the
// audio in memory.
type Service struct {
	registry func() *catalog.Registry
	clips    *cache.MemoryCache
	logger   *log.Logger
	group    singleflight.Group

	mu     sync.RWMutex
	synths map[string]Synthesizer
}

// NewService creates a preview service. registry returns the current
// registry snapshot; clips may be nil to disable caching.
func NewService(registry func() *catalog.Registry, clips *cache.MemoryCache, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		registry: registry,
		clips:    clips,
		logger:   logger,
		synths:   make(map[string]Synthesizer),
	}
}

// Register attaches a synthesizer to an engine.
func (s *Service) Register(engine string, synth Synthesizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synths[catalog.NormalizeEngine(engine)] = synth
}

// Supports reports whether engine has a synthesizer.
func (s *Service) Supports(engine string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.synths[catalog.NormalizeEngine(engine)]
	return ok
}

// Engines returns the engines with a synthesizer.
func (s *Service) Engines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, id := range s.registry().Engines() {
		if _, ok := s.synths[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Preview returns a clip of speaker reading text. Empty text uses
// DefaultSampleText; long text is cut to MaxSampleRunes. Identical
// concurrent requests share one synthesis call.
func (s *Service) Preview(ctx context.Context, engine, speaker, text string) (cache.Clip, error) {
	engine = catalog.NormalizeEngine(engine)
	speaker = strings.TrimSpace(speaker)

	reg := s.registry()
	if !reg.HasEngine(engine) {
		return cache.Clip{}, fmt.Errorf("%w: %q", catalog.ErrUnknownEngine, engine)
	}
	if !reg.Contains(engine, speaker) {
		return cache.Clip{}, fmt.Errorf("%w: %q is not a %s speaker", conversion.ErrSpeakerNotSupported, speaker, engine)
	}

	s.mu.RLock()
	synth, ok := s.synths[engine]
	s.mu.RUnlock()
	if !ok {
		return cache.Clip{}, fmt.Errorf("%w: %s", ErrUnsupported, engine)
	}

	text = sampleText(text)
	key := cache.PreviewKey(engine, speaker, text)

	if s.clips != nil {
		if clip, ok := s.clips.Get(key); ok {
			s.logger.Debug("preview cache hit", "engine", engine, "speaker", speaker)
			return clip, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		start := time.Now()
		data, err := synth.Synthesize(ctx, speaker, text)
		if err != nil {
			return cache.Clip{}, err
		}
		if len(data) == 0 {
			return cache.Clip{}, fmt.Errorf("%s returned no audio", engine)
		}

		clip := cache.Clip{Data: data, ContentType: synth.ContentType()}
		s.logger.Debug("preview synthesized", "engine", engine, "speaker", speaker,
			"bytes", len(data), "elapsed", time.Since(start).Round(time.Millisecond))

		if s.clips != nil {
			if err := s.clips.Put(key, clip); err != nil {
				s.logger.Debug("preview not cached", "error", err)
			}
		}
		return clip, nil
	})
	if err != nil {
		return cache.Clip{}, err
	}
	return v.(cache.Clip), nil
}

func sampleText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultSampleText
	}
	if runes := []rune(text); len(runes) > MaxSampleRunes {
		return string(runes[:MaxSampleRunes])
	}
	return text
}
