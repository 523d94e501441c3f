package catalog

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Registry errors
var (
	// ErrUnknownEngine indicates the engine identifier is not registered
	ErrUnknownEngine = errors.New("unknown TTS engine")

	// ErrDuplicateEngine indicates two providers claimed the same engine identifier
	ErrDuplicateEngine = errors.New("engine already registered")

	// ErrNoSpeakers indicates a provider returned an empty speaker set
	ErrNoSpeakers = errors.New("engine has no speakers")

	// ErrInvalidProvider indicates a provider without an engine identifier
	ErrInvalidProvider = errors.New("provider has no engine identifier")
)

// Provider supplies the speaker set of a single engine. New engines are
// added by registering another Provider, never by editing an existing one.
type Provider interface {
	// Engine returns the engine identifier (e.g. "tts", "openai").
	Engine() string

	// Speakers returns the ordered speaker identifiers for the engine.
	Speakers() ([]string, error)
}

// Registry maps engine identifiers to their ordered speaker sets.
// It is immutable once built and safe for concurrent use without locking.
type Registry struct {
	order    []string
	speakers map[string][]string
	members  map[string]map[string]struct{}
}

// New builds a registry from the given providers. Each provider is queried
// exactly once; its speakers are trimmed and de-duplicated keeping the first
// occurrence.
func New(providers ...Provider) (*Registry, error) {
	r := &Registry{
		speakers: make(map[string][]string, len(providers)),
		members:  make(map[string]map[string]struct{}, len(providers)),
	}
	if err := r.register(providers); err != nil {
		return nil, err
	}
	return r, nil
}

// With returns a new registry holding the receiver's engines plus those of
// the given providers. The receiver is left untouched.
func (r *Registry) With(providers ...Provider) (*Registry, error) {
	next := &Registry{
		order:    slices.Clone(r.order),
		speakers: maps.Clone(r.speakers),
		members:  maps.Clone(r.members),
	}
	if err := next.register(providers); err != nil {
		return nil, err
	}
	return next, nil
}

func (r *Registry) register(providers []Provider) error {
	for _, p := range providers {
		id := NormalizeEngine(p.Engine())
		if id == "" {
			return ErrInvalidProvider
		}
		if _, exists := r.speakers[id]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateEngine, id)
		}

		list, err := p.Speakers()
		if err != nil {
			return fmt.Errorf("loading speakers for %s: %w", id, err)
		}
		list = uniqueSpeakers(list)
		if len(list) == 0 {
			return fmt.Errorf("%w: %s", ErrNoSpeakers, id)
		}

		set := make(map[string]struct{}, len(list))
		for _, s := range list {
			set[s] = struct{}{}
		}

		r.order = append(r.order, id)
		r.speakers[id] = list
		r.members[id] = set
	}
	return nil
}

// Engines returns the registered engine identifiers in registration order.
func (r *Registry) Engines() []string {
	return slices.Clone(r.order)
}

// Lookup returns the ordered speakers for engine, or ErrUnknownEngine.
func (r *Registry) Lookup(engine string) ([]string, error) {
	list, ok := r.speakers[NormalizeEngine(engine)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	return slices.Clone(list), nil
}

// HasEngine reports whether engine is registered.
func (r *Registry) HasEngine(engine string) bool {
	_, ok := r.speakers[NormalizeEngine(engine)]
	return ok
}

// Contains reports whether speaker belongs to engine's speaker set.
func (r *Registry) Contains(engine, speaker string) bool {
	set, ok := r.members[NormalizeEngine(engine)]
	if !ok {
		return false
	}
	_, ok = set[strings.TrimSpace(speaker)]
	return ok
}

// DefaultSpeaker returns the first speaker of engine.
func (r *Registry) DefaultSpeaker(engine string) (string, error) {
	list, ok := r.speakers[NormalizeEngine(engine)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	return list[0], nil
}

// Suggest returns up to limit speakers of engine that fuzzy-match speaker,
// best match first. Unknown engines yield nil.
func (r *Registry) Suggest(engine, speaker string, limit int) []string {
	list, ok := r.speakers[NormalizeEngine(engine)]
	if !ok || strings.TrimSpace(speaker) == "" || limit <= 0 {
		return nil
	}

	matches := fuzzy.Find(strings.TrimSpace(speaker), list)
	out := make([]string, 0, min(limit, len(matches)))
	for _, m := range matches {
		if len(out) == limit {
			break
		}
		out = append(out, m.Str)
	}
	return out
}

// EngineOf returns the engines whose speaker set contains speaker.
func (r *Registry) EngineOf(speaker string) []string {
	var engines []string
	for _, id := range r.order {
		if _, ok := r.members[id][strings.TrimSpace(speaker)]; ok {
			engines = append(engines, id)
		}
	}
	return engines
}

// NormalizeEngine lower-cases and trims an engine identifier.
func NormalizeEngine(engine string) string {
	return strings.ToLower(strings.TrimSpace(engine))
}

func uniqueSpeakers(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
