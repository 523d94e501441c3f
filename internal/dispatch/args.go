package dispatch

import (
	"strconv"
	"strings"

	"github.com/epub2tts/epub2tts/internal/catalog"
	"github.com/epub2tts/epub2tts/internal/conversion"
)

// Defaults passed to the converter for values the front-end does not expose.
const (
	DefaultLanguage   = "en"
	DefaultCoquiModel = "tts_models/en/vctk/vits"
)

// redacted replaces secrets in logged command lines.
const redacted = "********"

// BuildArgs returns the converter arguments for req, not including the
// interpreter and script.
func BuildArgs(req *conversion.Request) []string {
	args := []string{
		req.Source(),
		"--engine", req.Engine(),
		"--speaker", req.Speaker(),
		"--start", strconv.Itoa(req.Start()),
		"--end", strconv.Itoa(req.End()),
		"--threads", strconv.Itoa(req.Threads()),
		"--minratio", strconv.Itoa(req.MinRatio()),
		"--audioformat", string(req.Format()),
		"--bitrate", string(req.Bitrate()),
		"--language", DefaultLanguage,
	}

	if req.Engine() == catalog.EngineCoqui {
		args = append(args, "--model", DefaultCoquiModel)
	}

	flags := []struct {
		set  bool
		name string
	}{
		{req.Debug(), "--debug"},
		{req.SkipLinks(), "--skiplinks"},
		{req.SkipFootnotes(), "--skipfootnotes"},
		{req.SayParts(), "--sayparts"},
		{req.NoDeepSpeed(), "--no-deepspeed"},
		{req.SkipCleanup(), "--skip-cleanup"},
	}
	for _, f := range flags {
		if f.set {
			args = append(args, f.name)
		}
	}

	if key := req.OpenAIKey(); key != "" {
		args = append(args, "--openai", key)
	}
	if samples := req.XTTSSamples(); len(samples) > 0 {
		args = append(args, "--xtts", strings.Join(samples, ","))
	}
	if speed := req.Speed(); speed != 0 {
		args = append(args, "--speed", strconv.FormatFloat(speed, 'f', -1, 64))
	}

	return args
}

// redactArgs masks values that must not end up in logs.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--openai" {
			out[i+1] = redacted
		}
	}
	return out
}
