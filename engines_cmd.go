package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/epub2tts/epub2tts/internal/catalog"
	"github.com/epub2tts/epub2tts/utils"
)

var engineStyle string

// engineNames are display names that title casing would get wrong.
var engineNames = map[string]string{
	catalog.EngineCoqui:  "Coqui TTS",
	catalog.EngineOpenAI: "OpenAI",
	catalog.EngineXTTS:   "XTTS",
}

var enginesCmd = &cobra.Command{
	Use:     "engines [ENGINE]",
	Short:   "List TTS engines and their speakers",
	Long:    paragraph(fmt.Sprintf("\n%s the TTS engines the converter supports. Given an engine, lists all of its speakers.", keyword("List"))),
	Example: paragraph("epub2tts engines\nepub2tts engines edge\nEPUB2TTS_VOICES_DIR=~/voices epub2tts engines kyutai"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := buildRegistry(cfg.Voices.Dir)
		if err != nil {
			return err
		}

		var md string
		if len(args) == 0 {
			md = enginesMarkdown(reg)
		} else {
			md, err = speakersMarkdown(reg, args[0])
			if err != nil {
				return err
			}
		}

		out, err := renderMarkdown(md, engineStyle)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	enginesCmd.Flags().StringVarP(&engineStyle, "style", "s", styles.AutoStyle, "style name or JSON path")
}

func displayName(engine string) string {
	if name, ok := engineNames[engine]; ok {
		return name
	}
	return cases.Title(language.English).String(engine)
}

func enginesMarkdown(reg *catalog.Registry) string {
	var b strings.Builder
	b.WriteString("# Engines\n\n")
	b.WriteString("| Engine | ID | Speakers | Default |\n")
	b.WriteString("|---|---|---:|---|\n")
	for _, id := range reg.Engines() {
		speakers, _ := reg.Lookup(id)
		def, _ := reg.DefaultSpeaker(id)
		fmt.Fprintf(&b, "| %s | `%s` | %d | %s |\n", displayName(id), id, len(speakers), def)
	}
	return b.String()
}

func speakersMarkdown(reg *catalog.Registry, engine string) (string, error) {
	speakers, err := reg.Lookup(engine)
	if err != nil {
		return "", fmt.Errorf("%w (expected one of %s)", err, strings.Join(reg.Engines(), ", "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s speakers\n\n", displayName(catalog.NormalizeEngine(engine)))
	for _, s := range speakers {
		fmt.Fprintf(&b, "- `%s`\n", s)
	}
	return b.String(), nil
}

func renderMarkdown(md, style string) (string, error) {
	width := 80
	isTerminal := term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
	if isTerminal {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 { //nolint:gosec
			width = min(w, 120)
		}
	} else if style == styles.AutoStyle {
		style = styles.NoTTYStyle
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		utils.GlamourStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("unable to render markdown: %w", err)
	}
	return out, nil
}
