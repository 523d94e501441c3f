package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/epub2tts/epub2tts/internal/conversion"
)

// Dispatcher defaults
const (
	DefaultInterpreter = "python3"
	DefaultScript      = "epub2tts.py"
	DefaultTailLines   = 20
	DefaultKillGrace   = 5 * time.Second

	// maxLineSize bounds a single output line; longer lines end the scan.
	maxLineSize = 1024 * 1024
)

// ErrNoArtifact indicates the converter exited cleanly without writing its
// output file.
var ErrNoArtifact = errors.New("conversion produced no output")

// Options configures a Dispatcher.
type Options struct {
	// Interpreter runs the conversion script (e.g. python3).
	Interpreter string

	// Script is the path of the conversion script.
	Script string

	// WorkDir is where the converter runs and writes its artifact. Empty
	// means the directory of the source file.
	WorkDir string

	// TailLines is how many trailing log lines a failure carries.
	TailLines int

	// CleanStale removes leftovers of earlier runs before starting. Only
	// directories the dispatcher owns are cleaned.
	CleanStale bool

	// OwnedDirs are roots, besides WorkDir, whose contents the dispatcher
	// may remove, such as the upload directory.
	OwnedDirs []string

	// KillGrace bounds how long Wait lingers on output pipes after the
	// process exits or is killed.
	KillGrace time.Duration

	// Env is appended to the inherited environment.
	Env []string
}

// DefaultOptions returns the dispatcher defaults.
func DefaultOptions() Options {
	return Options{
		Interpreter: DefaultInterpreter,
		Script:      DefaultScript,
		TailLines:   DefaultTailLines,
		CleanStale:  true,
		KillGrace:   DefaultKillGrace,
	}
}

// Dispatcher runs the external converter for validated requests.
// It holds no per-run state and may be shared between goroutines.
type Dispatcher struct {
	opts   Options
	logger *log.Logger
}

// New creates a dispatcher, filling unset options with defaults.
func New(opts Options, logger *log.Logger) *Dispatcher {
	def := DefaultOptions()
	if opts.Interpreter == "" {
		opts.Interpreter = def.Interpreter
	}
	if opts.Script == "" {
		opts.Script = def.Script
	}
	if opts.TailLines <= 0 {
		opts.TailLines = def.TailLines
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = def.KillGrace
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{opts: opts, logger: logger}
}

// Options returns the effective options.
func (d *Dispatcher) Options() Options {
	return d.opts
}

// CommandLine returns the full command for req with secrets masked.
func (d *Dispatcher) CommandLine(req *conversion.Request) []string {
	argv := append([]string{d.opts.Interpreter, d.opts.Script}, BuildArgs(req)...)
	return redactArgs(argv)
}

// ArtifactPath is where the converter is expected to write req's output.
func (d *Dispatcher) ArtifactPath(req *conversion.Request) (string, error) {
	source, err := filepath.Abs(req.Source())
	if err != nil {
		return "", err
	}
	return filepath.Join(d.workDir(source), req.ArtifactName()), nil
}

// Owns reports whether dir is WorkDir or lies below one of OwnedDirs.
// Directories of books given by path are never owned.
func (d *Dispatcher) Owns(dir string) bool {
	dir = filepath.Clean(dir)
	if d.opts.WorkDir != "" && dir == filepath.Clean(d.opts.WorkDir) {
		return true
	}
	for _, root := range d.opts.OwnedDirs {
		if root == "" {
			continue
		}
		if abs, err := filepath.Abs(root); err == nil && within(abs, dir) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) workDir(source string) string {
	if d.opts.WorkDir != "" {
		return d.opts.WorkDir
	}
	return filepath.Dir(source)
}

// Dispatch runs the converter exactly once for req. Every output line is
// handed to sink as soon as it is read; sink is called from a single
// goroutine and may be nil. There are no retries.
//
// A non-zero exit, or a clean exit without the expected artifact, yields a
// *conversion.ExternalFailure carrying the last log lines. Canceling ctx
// kills the process and yields a *conversion.CanceledError. Partial output
// is never removed.
func (d *Dispatcher) Dispatch(ctx context.Context, req *conversion.Request, sink func(Line)) (*conversion.Result, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", conversion.ErrInvalidOption)
	}
	if err := ctx.Err(); err != nil {
		return nil, &conversion.CanceledError{Cause: err}
	}

	source, err := filepath.Abs(req.Source())
	if err != nil {
		return nil, fmt.Errorf("resolving source path: %w", err)
	}
	req = req.WithSource(source)
	workDir := d.workDir(source)

	if d.opts.CleanStale && d.Owns(workDir) {
		removed, err := CleanStale(workDir, req)
		if err != nil {
			d.logger.Warn("could not clean stale files", "dir", workDir, "error", err)
		} else if len(removed) > 0 {
			d.logger.Debug("removed stale files", "dir", workDir, "count", len(removed))
		}
	}

	args := append([]string{d.opts.Script}, BuildArgs(req)...)
	cmd := exec.CommandContext(ctx, d.opts.Interpreter, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), d.opts.Env...)
	cmd.WaitDelay = d.opts.KillGrace

	// stdout and stderr share one pipe so lines keep their relative order
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	d.logger.Info("starting conversion",
		"source", filepath.Base(source),
		"engine", req.Engine(),
		"speaker", req.Speaker(),
		"dir", workDir)
	d.logger.Debug("converter command", "argv", strings.Join(d.CommandLine(req), " "))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, &conversion.ExternalFailure{
			ExitCode: -1,
			Cause:    fmt.Errorf("failed to start converter: %w", err),
		}
	}

	tail := newTail(d.opts.TailLines)
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		scanner.Split(scanLines)
		for scanner.Scan() {
			text := strings.TrimRight(scanner.Text(), " \t")
			if text == "" {
				continue
			}
			tail.add(text)
			if sink != nil {
				sink(Line{Text: text, Time: time.Now()})
			}
		}
		if err := scanner.Err(); err != nil {
			d.logger.Warn("converter output unreadable", "error", err)
			// keep draining so the process is never blocked on a full pipe
			_, _ = io.Copy(io.Discard, pr)
		}
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	<-done

	elapsed := time.Since(start)
	lines := tail.lines()

	if ctx.Err() != nil {
		d.logger.Warn("conversion canceled", "source", filepath.Base(source), "elapsed", elapsed.Round(time.Second))
		return nil, &conversion.CanceledError{Tail: lines, Cause: ctx.Err()}
	}

	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		d.logger.Error("conversion failed", "source", filepath.Base(source), "exit_code", code)
		return nil, &conversion.ExternalFailure{ExitCode: code, Tail: lines, Cause: waitErr}
	}

	artifact := filepath.Join(workDir, req.ArtifactName())
	info, err := os.Stat(artifact)
	if err != nil {
		d.logger.Error("conversion produced no artifact", "expected", artifact)
		return nil, &conversion.ExternalFailure{
			ExitCode: 0,
			Tail:     lines,
			Cause:    fmt.Errorf("%w: %s", ErrNoArtifact, artifact),
		}
	}

	d.logger.Info("conversion finished", "artifact", artifact, "elapsed", elapsed.Round(time.Second))
	return &conversion.Result{
		Artifact: artifact,
		Size:     info.Size(),
		Elapsed:  elapsed,
	}, nil
}
