package conversion

import (
	"fmt"
	"slices"
	"strings"
)

// Format is the audio container produced by the converter.
type Format string

// Supported output formats.
const (
	FormatM4B  Format = "m4b"
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
)

// Formats lists every accepted output format, default first.
var Formats = []Format{FormatM4B, FormatWAV, FormatFLAC}

// ParseFormat normalizes s and checks it against Formats.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Formats, f) {
		return "", fmt.Errorf("%w: format %q (expected one of %s)", ErrInvalidOption, s, joinValues(Formats))
	}
	return f, nil
}

// Bitrate is the audio bitrate passed to the muxer.
type Bitrate string

// Supported bitrates.
const (
	Bitrate69k  Bitrate = "69k"
	Bitrate128k Bitrate = "128k"
	Bitrate192k Bitrate = "192k"
)

// Bitrates lists every accepted bitrate, default first.
var Bitrates = []Bitrate{Bitrate69k, Bitrate128k, Bitrate192k}

// ParseBitrate normalizes s and checks it against Bitrates.
func ParseBitrate(s string) (Bitrate, error) {
	b := Bitrate(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Bitrates, b) {
		return "", fmt.Errorf("%w: bitrate %q (expected one of %s)", ErrInvalidOption, s, joinValues(Bitrates))
	}
	return b, nil
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// Limits and defaults applied by the validator.
const (
	// AllChapters is the end-chapter sentinel meaning "through the last chapter".
	AllChapters = 999

	MinThreads = 1
	MaxThreads = 64

	MinRatioDisabled = 0
	MaxMinRatio      = 100

	DefaultThreads  = 1
	DefaultMinRatio = 88

	MinSpeed     = 0.5
	MaxSpeed     = 2.0
	DefaultSpeed = 1.3
)

// SourceExtensions are the document types the converter reads.
var SourceExtensions = []string{".epub", ".txt"}

// RawOptions holds user input exactly as received from flags, form fields or
// JSON, before any validation.
type RawOptions struct {
	Source  string `json:"source" form:"source" yaml:"source"`
	Engine  string `json:"engine" form:"engine" yaml:"engine"`
	Speaker string `json:"speaker" form:"speaker" yaml:"speaker"`

	Start int `json:"start" form:"start" yaml:"start"`
	End   int `json:"end" form:"end" yaml:"end"`

	Threads  int    `json:"threads" form:"threads" yaml:"threads"`
	Format   string `json:"format" form:"format" yaml:"format"`
	Bitrate  string `json:"bitrate" form:"bitrate" yaml:"bitrate"`
	MinRatio int    `json:"minratio" form:"minratio" yaml:"minratio"`

	Debug         bool `json:"debug" form:"debug" yaml:"debug"`
	SkipLinks     bool `json:"skiplinks" form:"skiplinks" yaml:"skiplinks"`
	SkipFootnotes bool `json:"skipfootnotes" form:"skipfootnotes" yaml:"skipfootnotes"`
	SayParts      bool `json:"sayparts" form:"sayparts" yaml:"sayparts"`
	NoDeepSpeed   bool `json:"no_deepspeed" form:"no_deepspeed" yaml:"no_deepspeed"`
	SkipCleanup   bool `json:"skip_cleanup" form:"skip_cleanup" yaml:"skip_cleanup"`

	// Engine-specific
	OpenAIKey   string   `json:"openai,omitempty" form:"openai" yaml:"-"`
	XTTSSamples []string `json:"xtts,omitempty" form:"xtts" yaml:"xtts,omitempty"`
	Speed       float64  `json:"speed,omitempty" form:"speed" yaml:"speed,omitempty"`
}

// DefaultRawOptions returns the values the front-end pre-fills.
func DefaultRawOptions() RawOptions {
	return RawOptions{
		Engine:   "tts",
		Speaker:  "p335",
		Start:    1,
		End:      AllChapters,
		Threads:  DefaultThreads,
		Format:   string(FormatM4B),
		Bitrate:  string(Bitrate69k),
		MinRatio: DefaultMinRatio,
		Speed:    DefaultSpeed,
	}
}
