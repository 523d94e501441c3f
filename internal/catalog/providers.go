package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// Engine identifiers known to the external converter.
const (
	EngineCoqui  = "tts"
	EngineOpenAI = "openai"
	EngineEdge   = "edge"
	EngineKokoro = "kokoro"
	EngineXTTS   = "xtts"
	EngineKyutai = "kyutai"
)

// KyutaiFallbackVoices are used when no voice files can be found.
var KyutaiFallbackVoices = []string{"af", "am", "bf", "bm"}

// voiceExtensions are the file types treated as Kyutai voices.
var voiceExtensions = []string{".wav", ".safetensors"}

// StaticProvider serves a fixed speaker list.
type StaticProvider struct {
	ID   string
	List []string
}

// NewStaticProvider creates a provider for a fixed speaker list.
func NewStaticProvider(engine string, speakers ...string) StaticProvider {
	return StaticProvider{ID: engine, List: speakers}
}

// Engine implements Provider.
func (p StaticProvider) Engine() string { return p.ID }

// Speakers implements Provider.
func (p StaticProvider) Speakers() ([]string, error) {
	return slices.Clone(p.List), nil
}

// DirectoryProvider discovers voices by walking a directory tree for voice
// files. Speaker identifiers are slash-separated paths relative to Root.
type DirectoryProvider struct {
	ID       string
	Root     string
	Fallback []string
}

// NewKyutaiProvider creates the directory-backed Kyutai voice provider.
func NewKyutaiProvider(root string) DirectoryProvider {
	return DirectoryProvider{
		ID:       EngineKyutai,
		Root:     root,
		Fallback: KyutaiFallbackVoices,
	}
}

// Engine implements Provider.
func (p DirectoryProvider) Engine() string { return p.ID }

// Speakers implements Provider. A missing or empty directory yields the
// fallback list; other I/O failures are returned.
func (p DirectoryProvider) Speakers() ([]string, error) {
	if p.Root == "" {
		return slices.Clone(p.Fallback), nil
	}

	var voices []string
	err := filepath.WalkDir(p.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isVoiceFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(p.Root, path)
		if err != nil {
			return err
		}
		voices = append(voices, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return slices.Clone(p.Fallback), nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning voice directory %s: %w", p.Root, err)
	}

	slices.Sort(voices)
	voices = slices.Compact(voices)
	if len(voices) == 0 {
		return slices.Clone(p.Fallback), nil
	}
	return voices, nil
}

func isVoiceFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(voiceExtensions, ext)
}

// Builtin returns the registry of every engine the converter supports.
// voiceDir is the Kyutai voice directory; it may be empty or missing.
func Builtin(voiceDir string) (*Registry, error) {
	return New(BuiltinProviders(voiceDir)...)
}

// BuiltinProviders returns the providers behind Builtin, in display order.
func BuiltinProviders(voiceDir string) []Provider {
	return []Provider{
		NewStaticProvider(EngineCoqui, vctkSpeakers()...),
		NewStaticProvider(EngineOpenAI, openAIVoices...),
		NewStaticProvider(EngineEdge, edgeVoices...),
		NewStaticProvider(EngineKokoro, kokoroVoices...),
		NewStaticProvider(EngineXTTS, xttsSpeakers...),
		NewKyutaiProvider(voiceDir),
	}
}

// vctkSpeakers lists the VCTK speakers of the Coqui VITS model. p335 and
// p307 lead the list because they are the recommended voices.
func vctkSpeakers() []string {
	speakers := []string{"p335", "p307"}
	for n := 225; n <= 399; n++ {
		switch n {
		case 235, 242, 307, 335:
			continue
		}
		speakers = append(speakers, fmt.Sprintf("p%d", n))
	}
	return speakers
}

var openAIVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

var edgeVoices = []string{
	"en-US-AriaNeural", "en-US-JennyNeural", "en-US-GuyNeural", "en-US-AriaRUS",
	"en-US-BenjaminRUS", "en-US-GuyRUS", "en-US-ZiraRUS", "en-US-JessaRUS",
	"en-US-Jessa24kRUS", "en-US-Sean", "en-US-Jason", "en-US-Cora", "en-US-Jane",
	"en-US-Tony", "en-US-Amber", "en-US-Ana", "en-US-Ashley", "en-US-Brandon",
	"en-US-Christopher", "en-US-Davis", "en-US-Elizabeth", "en-US-Jacob",
	"en-US-JennyMultilingualNeural", "en-US-Michelle", "en-US-Monica", "en-US-Roger",
	"en-US-Steffan", "en-US-AndrewNeural", "en-US-EmmaNeural", "en-US-BrianNeural",
}

var kokoroVoices = []string{
	"af_sky", "af_bella", "af_sarah", "am_adam", "bf_emma", "bm_george", "af_nicole", "am_michael",
}

var xttsSpeakers = []string{
	"Claribel Dervla", "Daisy Studious", "Gracie Wise", "Tammie Ema", "Alison Dietlinde",
	"Ana Florence", "Annmarie Nele", "Asya Anara", "Brenda Stern", "Gitta Nikolina",
	"Henriette Usha", "Sofia Hellen", "Tammy Grit", "Tanja Adelina", "Vjollca Johnnie",
	"Andrew Chipper", "Badr Odhiambo", "Dionisio Schuyler", "Royston Min", "Viktor Eka",
	"Abrahan Mack", "Adde Michal", "Baldur Sanjin", "Craig Gutsy", "Damien Black",
	"Gilberto Mathias", "Ilkin Urbano", "Kazuhiko Atallah", "Ludvig Milivoj", "Suad Qasim",
	"Torcull Diarmuid", "Viktor Menelaos", "Zacharie Aimilios",
}
