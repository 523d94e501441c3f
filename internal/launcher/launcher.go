package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// Exit codes returned by Launch.
const (
	ExitOK                = 0
	ExitMissingDependency = 1
	ExitFrontEndFailed    = 1
)

// Requirements lists what the external converter needs.
type Requirements struct {
	// Interpreter runs the conversion script.
	Interpreter string

	// Modules must be importable by Interpreter.
	Modules []string

	// Script is the conversion script.
	Script string

	// Binaries are helper programs reported but not required.
	Binaries []string
}

// DefaultRequirements returns the checks run before the front-end starts.
func DefaultRequirements() Requirements {
	return Requirements{
		Interpreter: "python3",
		Modules:     []string{"ebooklib"},
		Script:      "epub2tts.py",
		Binaries:    []string{"ffmpeg"},
	}
}

// Dependencies builds the ordered checker set for r. The interpreter is
// checked first, then each module, then the script.
func Dependencies(r Requirements) *SystemDependencies {
	deps := NewSystemDependencies()
	deps.AddChecker("interpreter", &InterpreterChecker{Interpreter: r.Interpreter})
	for _, m := range r.Modules {
		deps.AddChecker("module:"+m, &ModuleChecker{Interpreter: r.Interpreter, Module: m})
	}
	if r.Script != "" {
		deps.AddChecker("script", &ScriptChecker{Path: r.Script})
	}
	for _, b := range r.Binaries {
		deps.AddChecker("binary:"+b, &BinaryChecker{Binary: b, VersionFlag: "-version"})
	}
	return deps
}

// Preflight checks r in order and stops at the first missing required
// dependency, returning it as a *MissingDependencyError.
func Preflight(ctx context.Context, r Requirements) error {
	deps := Dependencies(r)
	for _, name := range deps.names {
		status := deps.checkers[name].Check(ctx)
		if err := status.Missing(); err != nil {
			return err
		}
		log.Debug("dependency ok", "name", status.Name, "path", status.Path)
	}
	return nil
}

var diagnosticStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

// Launch runs Preflight and, only if it passes, starts the front-end. A
// missing dependency is written to stderr and yields ExitMissingDependency
// without calling start.
func Launch(ctx context.Context, r Requirements, stderr io.Writer, start func(context.Context) error) int {
	if err := Preflight(ctx, r); err != nil {
		fmt.Fprintln(stderr, diagnosticStyle.Render("Error: "+describe(err)))
		var missing *MissingDependencyError
		if errors.As(err, &missing) && missing.Instructions != "" {
			fmt.Fprintln(stderr, "  "+missing.Instructions)
		}
		return ExitMissingDependency
	}

	if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("front-end stopped", "error", err)
		return ExitFrontEndFailed
	}
	return ExitOK
}

func describe(err error) string {
	var missing *MissingDependencyError
	if !errors.As(err, &missing) {
		return err.Error()
	}
	switch missing.Kind {
	case KindInterpreter:
		return fmt.Sprintf("%s is not installed or not on PATH", missing.Name)
	case KindModule:
		return fmt.Sprintf("required module %q cannot be imported", missing.Name)
	case KindScript:
		return fmt.Sprintf("conversion script %s not found", missing.Name)
	default:
		return err.Error()
	}
}
