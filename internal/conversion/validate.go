package conversion

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/multierr"

	"github.com/epub2tts/epub2tts/internal/catalog"
)

// suggestionLimit caps the speakers offered for an unsupported speaker.
const suggestionLimit = 3

// Validator turns RawOptions into a Request.
type Validator struct {
	// Registry supplies the engines and their speakers.
	Registry *catalog.Registry

	// CheckSource additionally requires the source file to exist.
	CheckSource bool
}

// Validate checks raw against reg without touching the filesystem.
func Validate(reg *catalog.Registry, raw RawOptions) (*Request, error) {
	return Validator{Registry: reg}.Validate(raw)
}

// Validate checks every field of raw and returns the normalized request.
// All violations are collected; the error is a *ValidationError.
func (v Validator) Validate(raw RawOptions) (*Request, error) {
	var errs error
	add := func(field string, kind ViolationKind, format string, args ...any) *Violation {
		viol := &Violation{Field: field, Kind: kind, Message: fmt.Sprintf(format, args...)}
		errs = multierr.Append(errs, viol)
		return viol
	}

	req := &Request{
		source:        strings.TrimSpace(raw.Source),
		engine:        catalog.NormalizeEngine(raw.Engine),
		speaker:       strings.TrimSpace(raw.Speaker),
		start:         raw.Start,
		end:           raw.End,
		threads:       raw.Threads,
		minRatio:      raw.MinRatio,
		debug:         raw.Debug,
		skipLinks:     raw.SkipLinks,
		skipFootnotes: raw.SkipFootnotes,
		sayParts:      raw.SayParts,
		noDeepSpeed:   raw.NoDeepSpeed,
		skipCleanup:   raw.SkipCleanup,
	}

	// Source document
	switch {
	case req.source == "":
		add("source", KindInvalidOption, "a source file is required")
	case !slices.Contains(SourceExtensions, strings.ToLower(filepath.Ext(req.source))):
		add("source", KindInvalidOption, "%q is not an .epub or .txt file", filepath.Base(req.source))
	case v.CheckSource:
		info, err := os.Stat(req.source)
		if err != nil {
			add("source", KindInvalidOption, "cannot read %q: %v", req.source, err)
		} else if info.IsDir() {
			add("source", KindInvalidOption, "%q is a directory", req.source)
		}
	}

	// Engine and speaker
	if v.Registry == nil || !v.Registry.HasEngine(req.engine) {
		var known []string
		if v.Registry != nil {
			known = v.Registry.Engines()
		}
		add("engine", KindUnknownEngine, "unknown engine %q (expected one of %s)", raw.Engine, strings.Join(known, ", "))
	} else if !v.Registry.Contains(req.engine, req.speaker) {
		viol := add("speaker", KindSpeakerNotSupported, "speaker %q is not available for engine %q", req.speaker, req.engine)
		viol.Suggestions = v.Registry.Suggest(req.engine, req.speaker, suggestionLimit)
		if owners := v.Registry.EngineOf(req.speaker); len(owners) > 0 {
			viol.Message += fmt.Sprintf(" (it belongs to %s)", strings.Join(owners, ", "))
		}
	}

	// Chapter range
	if req.end == 0 {
		req.end = AllChapters
	}
	if req.start < 1 {
		add("start", KindInvalidRange, "start chapter must be 1 or greater, got %d", req.start)
	}
	if req.end < 1 {
		add("end", KindInvalidRange, "end chapter must be 1 or greater, got %d", req.end)
	}
	if req.start >= 1 && req.end >= 1 && req.end != AllChapters && req.start > req.end {
		add("start", KindInvalidRange, "start chapter %d is after end chapter %d", req.start, req.end)
	}

	// Output
	if f, err := ParseFormat(raw.Format); err != nil {
		add("format", KindInvalidOption, "format %q is not one of %s", raw.Format, joinValues(Formats))
	} else {
		req.format = f
	}
	if b, err := ParseBitrate(raw.Bitrate); err != nil {
		add("bitrate", KindInvalidOption, "bitrate %q is not one of %s", raw.Bitrate, joinValues(Bitrates))
	} else {
		req.bitrate = b
	}

	if req.threads < MinThreads || req.threads > MaxThreads {
		add("threads", KindInvalidOption, "threads must be between %d and %d, got %d", MinThreads, MaxThreads, req.threads)
	}
	if req.minRatio < MinRatioDisabled || req.minRatio > MaxMinRatio {
		add("minratio", KindInvalidOption, "minratio must be between %d and %d, got %d", MinRatioDisabled, MaxMinRatio, req.minRatio)
	}

	// Engine-specific
	switch req.engine {
	case catalog.EngineOpenAI:
		req.openAIKey = strings.TrimSpace(raw.OpenAIKey)
	case catalog.EngineXTTS:
		for _, s := range raw.XTTSSamples {
			if s = strings.TrimSpace(s); s != "" {
				req.xttsSamples = append(req.xttsSamples, s)
			}
		}
	case catalog.EngineKokoro:
		req.speed = raw.Speed
		if req.speed == 0 {
			req.speed = DefaultSpeed
		}
		if req.speed < MinSpeed || req.speed > MaxSpeed {
			add("speed", KindInvalidOption, "speed must be between %.1f and %.1f, got %g", MinSpeed, MaxSpeed, req.speed)
		}
	}

	if errs != nil {
		return nil, newValidationError(errs)
	}
	return req, nil
}
