package conversion

import (
	"encoding/json"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Request is a validated conversion request. It is built only by the
// validator and cannot be changed afterwards.
type Request struct {
	source  string
	engine  string
	speaker string

	start int
	end   int

	threads  int
	format   Format
	bitrate  Bitrate
	minRatio int

	debug         bool
	skipLinks     bool
	skipFootnotes bool
	sayParts      bool
	noDeepSpeed   bool
	skipCleanup   bool

	openAIKey   string
	xttsSamples []string
	speed       float64
}

func (r *Request) Source() string   { return r.source }
func (r *Request) Engine() string   { return r.engine }
func (r *Request) Speaker() string  { return r.speaker }
func (r *Request) Start() int       { return r.start }
func (r *Request) End() int         { return r.end }
func (r *Request) Threads() int     { return r.threads }
func (r *Request) Format() Format   { return r.format }
func (r *Request) Bitrate() Bitrate { return r.bitrate }
func (r *Request) MinRatio() int    { return r.minRatio }

func (r *Request) Debug() bool         { return r.debug }
func (r *Request) SkipLinks() bool     { return r.skipLinks }
func (r *Request) SkipFootnotes() bool { return r.skipFootnotes }
func (r *Request) SayParts() bool      { return r.sayParts }
func (r *Request) NoDeepSpeed() bool   { return r.noDeepSpeed }
func (r *Request) SkipCleanup() bool   { return r.skipCleanup }

// OpenAIKey is only set for the openai engine.
func (r *Request) OpenAIKey() string { return r.openAIKey }

// XTTSSamples is only set for the xtts engine.
func (r *Request) XTTSSamples() []string { return slices.Clone(r.xttsSamples) }

// Speed is only set for the kokoro engine; zero otherwise.
func (r *Request) Speed() float64 { return r.speed }

// AllChapters reports whether the range runs through the last chapter.
func (r *Request) AllChapters() bool { return r.end == AllChapters }

// BookName is the source file name without directory or extension.
func (r *Request) BookName() string {
	base := filepath.Base(r.source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ArtifactName is the file name the converter writes:
// <book>-<speaker>.<format>, speaker lower-cased with spaces replaced.
func (r *Request) ArtifactName() string {
	speaker := strings.ReplaceAll(strings.ToLower(r.speaker), " ", "-")
	speaker = strings.ReplaceAll(speaker, "/", "-")
	return r.BookName() + "-" + speaker + "." + string(r.format)
}

// WithSource returns a copy of the request reading from source. The front-end
// uses it after moving an upload into its work directory.
func (r *Request) WithSource(source string) *Request {
	next := *r
	next.source = source
	next.xttsSamples = slices.Clone(r.xttsSamples)
	return &next
}

// Raw converts the request back to raw options.
func (r *Request) Raw() RawOptions {
	return RawOptions{
		Source:        r.source,
		Engine:        r.engine,
		Speaker:       r.speaker,
		Start:         r.start,
		End:           r.end,
		Threads:       r.threads,
		Format:        string(r.format),
		Bitrate:       string(r.bitrate),
		MinRatio:      r.minRatio,
		Debug:         r.debug,
		SkipLinks:     r.skipLinks,
		SkipFootnotes: r.skipFootnotes,
		SayParts:      r.sayParts,
		NoDeepSpeed:   r.noDeepSpeed,
		SkipCleanup:   r.skipCleanup,
		OpenAIKey:     r.openAIKey,
		XTTSSamples:   slices.Clone(r.xttsSamples),
		Speed:         r.speed,
	}
}

// MarshalJSON encodes the request with the API key masked.
func (r *Request) MarshalJSON() ([]byte, error) {
	raw := r.Raw()
	if raw.OpenAIKey != "" {
		raw.OpenAIKey = "********"
	}
	return json.Marshal(raw)
}

// Result describes a successful conversion.
type Result struct {
	Artifact string        `json:"artifact"`
	Size     int64         `json:"size"`
	Elapsed  time.Duration `json:"elapsed"`
}
