package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/muesli/gitcha"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/epub2tts/epub2tts/internal/catalog"
	"github.com/epub2tts/epub2tts/internal/conversion"
	"github.com/epub2tts/epub2tts/internal/dispatch"
	"github.com/epub2tts/epub2tts/internal/launcher"
	"github.com/epub2tts/epub2tts/ui"
	"github.com/epub2tts/epub2tts/utils"
)

var (
	convertOpts = conversion.DefaultRawOptions()
	copyPath    bool
	allFiles    bool

	sourcePatterns = []string{"*.epub", "*.txt"}

	violationField = lipgloss.NewStyle().Bold(true).Render
)

var convertCmd = &cobra.Command{
	Use:   "convert SOURCE...",
	Short: "Convert books to audiobooks from the command line",
	Long: paragraph(fmt.Sprintf("\n%s one or more books without the web front-end. A directory converts every EPUB and text file below it, honouring .gitignore.",
		keyword("Convert"))),
	Example: paragraph("epub2tts convert book.epub\nepub2tts convert --engine edge --speaker en-US-GuyNeural book.txt\nepub2tts convert --start 3 --end 5 ~/books"),
	Args:    cobra.MinimumNArgs(1),
	RunE:    runConvert,
}

func init() {
	f := convertCmd.Flags()
	f.StringVarP(&convertOpts.Engine, "engine", "e", convertOpts.Engine, "TTS engine: tts, openai, edge, kokoro, xtts or kyutai")
	f.StringVarP(&convertOpts.Speaker, "speaker", "s", "", "speaker (default: the engine's first speaker)")
	f.IntVar(&convertOpts.Start, "start", convertOpts.Start, "first chapter to convert")
	f.IntVar(&convertOpts.End, "end", convertOpts.End, "last chapter to convert, 0 or 999 for all")
	f.IntVar(&convertOpts.Threads, "threads", convertOpts.Threads, "threads used by the engine")
	f.StringVar(&convertOpts.Format, "format", convertOpts.Format, "output format: m4b, wav or flac")
	f.StringVar(&convertOpts.Bitrate, "bitrate", convertOpts.Bitrate, "output bitrate")
	f.IntVar(&convertOpts.MinRatio, "minratio", convertOpts.MinRatio, "minimum match ratio when checking generated speech")
	f.BoolVar(&convertOpts.Debug, "debug", false, "ask the converter for debug output")
	f.BoolVar(&convertOpts.SkipLinks, "skiplinks", false, "don't read link text")
	f.BoolVar(&convertOpts.SkipFootnotes, "skipfootnotes", false, "don't read footnotes")
	f.BoolVar(&convertOpts.SayParts, "sayparts", false, "announce part and chapter names")
	f.BoolVar(&convertOpts.NoDeepSpeed, "no-deepspeed", false, "disable DeepSpeed for XTTS")
	f.BoolVar(&convertOpts.SkipCleanup, "skip-cleanup", false, "keep intermediate files")
	f.StringVar(&convertOpts.OpenAIKey, "openai", "", "OpenAI API key (default $OPENAI_API_KEY)")
	f.StringSliceVar(&convertOpts.XTTSSamples, "xtts", nil, "voice sample files for XTTS")
	f.Float64Var(&convertOpts.Speed, "speed", convertOpts.Speed, "speaking rate for Kokoro")
	f.BoolVarP(&copyPath, "copy-path", "c", false, "copy the path of the last audiobook to the clipboard")
	f.BoolVarP(&allFiles, "all", "a", false, "include files ignored by .gitignore")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sources, err := collectSources(args, allFiles)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(cfg.Voices.Dir)
	if err != nil {
		return err
	}

	raw := convertOpts
	if raw.OpenAIKey == "" && catalog.NormalizeEngine(raw.Engine) == catalog.EngineOpenAI {
		raw.OpenAIKey = cfg.Preview.OpenAIKey
	}
	if raw.Speaker == "" {
		if sp, err := reg.DefaultSpeaker(catalog.NormalizeEngine(raw.Engine)); err == nil {
			raw.Speaker = sp
		}
	}

	// Validate every book before converting any of them.
	validator := conversion.Validator{Registry: reg, CheckSource: true}
	requests := make([]*conversion.Request, 0, len(sources))
	var invalid bool
	for _, src := range sources {
		raw.Source = src
		req, err := validator.Validate(raw)
		if err != nil {
			invalid = true
			printViolations(cmd.ErrOrStderr(), src, err)
			continue
		}
		requests = append(requests, req)
	}
	if invalid {
		return &exitError{code: exitValidation}
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := launcher.Preflight(ctx, cfg.Requirements()); err != nil {
		return err //nolint:wrapcheck
	}

	d := dispatch.New(cfg.DispatchOptions(), log.Default())
	interactive := term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec

	var last string
	for _, req := range requests {
		result, err := convertOne(ctx, d, req, interactive, cmd.OutOrStdout())
		if err != nil {
			printFailure(cmd.ErrOrStderr(), req, err)
			return &exitError{code: exitFailure}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
			success("✓"), result.Artifact,
			faint(fmt.Sprintf("(%s in %s)", humanize.Bytes(uint64(result.Size)), result.Elapsed.Round(time.Second)))) //nolint:gosec
		last = result.Artifact
	}

	if copyPath && last != "" {
		if err := clipboard.WriteAll(last); err != nil {
			log.Warn("Could not copy to clipboard", "error", err)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), faint("Copied path to clipboard."))
		}
	}
	return nil
}

// convertOne runs a single conversion, showing the progress view when
// stdout is a terminal and plain log lines otherwise.
func convertOne(ctx context.Context, d *dispatch.Dispatcher, req *conversion.Request, interactive bool, out io.Writer) (*conversion.Result, error) {
	run := func(ctx context.Context, sink func(dispatch.Line)) (*conversion.Result, error) {
		return d.Dispatch(ctx, req, sink)
	}

	if !interactive {
		return run(ctx, func(l dispatch.Line) {
			fmt.Fprintln(out, l.Text)
		})
	}

	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}
	uiCfg.Title = filepath.Base(req.Source())
	uiCfg.Voice = req.Engine() + "/" + req.Speaker()
	return ui.Run(ctx, uiCfg, run) //nolint:wrapcheck
}

// collectSources expands directories into the books below them. Files are
// taken as given so the validator can report unsupported ones.
func collectSources(args []string, all bool) ([]string, error) {
	var sources []string
	seen := map[string]struct{}{}
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		sources = append(sources, p)
	}

	for _, arg := range args {
		p := utils.AbsPath(arg)
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			add(p)
			continue
		}

		var ch chan gitcha.SearchResult
		if all {
			ch, err = gitcha.FindAllFilesExcept(p, sourcePatterns, nil)
		} else {
			ch, err = gitcha.FindFilesExcept(p, sourcePatterns, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("unable to search %s: %w", arg, err)
		}

		var found []string
		for res := range ch {
			found = append(found, res.Path)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no books found in %s", arg)
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}
	return sources, nil
}

func printViolations(w io.Writer, source string, err error) {
	var verr *conversion.ValidationError
	if !errors.As(err, &verr) {
		fmt.Fprintln(w, errorTitle("Error:"), err)
		return
	}

	fmt.Fprintf(w, "%s %s\n", errorTitle("Invalid:"), source)
	for _, v := range verr.Violations {
		fmt.Fprintf(w, "  %s %s\n", violationField(v.Field+":"), v.Message)
		if len(v.Suggestions) > 0 {
			fmt.Fprintf(w, "    %s\n", faint("did you mean "+strings.Join(v.Suggestions, ", ")+"?"))
		}
	}
}

func printFailure(w io.Writer, req *conversion.Request, err error) {
	if errors.Is(err, conversion.ErrCanceled) {
		fmt.Fprintln(w, errorTitle("Canceled:"), req.Source())
	} else {
		fmt.Fprintln(w, errorTitle("Failed:"), req.Source())
		fmt.Fprintln(w, " ", err)
	}
	for _, l := range conversion.TailOf(err) {
		fmt.Fprintln(w, faint("  │ "+l))
	}
}
