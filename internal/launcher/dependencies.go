package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrMissingDependency indicates a required program, module or file is absent
var ErrMissingDependency = errors.New("missing dependency")

// DependencyKind classifies what a checker looks for.
type DependencyKind string

const (
	KindInterpreter DependencyKind = "interpreter"
	KindModule      DependencyKind = "module"
	KindScript      DependencyKind = "script"
	KindBinary      DependencyKind = "binary"
)

// MissingDependencyError reports a required dependency that is not usable.
type MissingDependencyError struct {
	Name         string
	Kind         DependencyKind
	Instructions string
	Cause        error
}

// Error implements the error interface
func (e *MissingDependencyError) Error() string {
	msg := fmt.Sprintf("%s: %s %q", ErrMissingDependency, e.Kind, e.Name)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying errors
func (e *MissingDependencyError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrMissingDependency}
	}
	return []error{ErrMissingDependency, e.Cause}
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Name         string
	Kind         DependencyKind
	Required     bool
	Installed    bool
	Version      string
	Path         string
	Error        error
	Instructions string
}

// Missing converts a failed required status into an error, or nil.
func (s DependencyStatus) Missing() error {
	if s.Installed || !s.Required {
		return nil
	}
	return &MissingDependencyError{Name: s.Name, Kind: s.Kind, Instructions: s.Instructions, Cause: s.Error}
}

// DependencyChecker checks a single dependency
type DependencyChecker interface {
	Check(ctx context.Context) DependencyStatus
}

// checkTimeout bounds each external check command.
const checkTimeout = 30 * time.Second

func runCheck(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// InterpreterChecker checks that the script interpreter is on PATH and runs
type InterpreterChecker struct {
	Interpreter string
}

func (c *InterpreterChecker) Check(ctx context.Context) DependencyStatus {
	status := DependencyStatus{
		Name:     c.Interpreter,
		Kind:     KindInterpreter,
		Required: true,
	}

	path, err := exec.LookPath(c.Interpreter)
	if err != nil {
		status.Error = err
		status.Instructions = interpreterInstructions(c.Interpreter)
		return status
	}
	status.Path = path

	out, err := runCheck(ctx, path, "--version")
	if err != nil {
		status.Error = fmt.Errorf("cannot execute %s: %w", path, err)
		status.Instructions = "Interpreter found but cannot be executed. Check permissions and installation."
		return status
	}

	status.Installed = true
	status.Version = strings.TrimSpace(string(out))
	return status
}

// ModuleChecker checks that the interpreter can import a module
type ModuleChecker struct {
	Interpreter string
	Module      string
}

func (c *ModuleChecker) Check(ctx context.Context) DependencyStatus {
	status := DependencyStatus{
		Name:     c.Module,
		Kind:     KindModule,
		Required: true,
	}

	path, err := exec.LookPath(c.Interpreter)
	if err != nil {
		status.Error = fmt.Errorf("interpreter %s not available: %w", c.Interpreter, err)
		status.Instructions = interpreterInstructions(c.Interpreter)
		return status
	}

	out, err := runCheck(ctx, path, "-c", "import "+c.Module)
	if err != nil {
		status.Error = fmt.Errorf("import %s failed: %w", c.Module, err)
		if msg := lastLine(string(out)); msg != "" {
			status.Error = fmt.Errorf("import %s failed: %s", c.Module, msg)
		}
		status.Instructions = fmt.Sprintf("Install with pip:\n    %s -m pip install %s", c.Interpreter, c.Module)
		return status
	}

	status.Installed = true
	status.Path = path
	return status
}

// ScriptChecker checks that the conversion script exists
type ScriptChecker struct {
	Path string
}

func (c *ScriptChecker) Check(ctx context.Context) DependencyStatus {
	status := DependencyStatus{
		Name:     c.Path,
		Kind:     KindScript,
		Required: true,
	}

	info, err := os.Stat(c.Path)
	switch {
	case err != nil:
		status.Error = err
		status.Instructions = "Set converter.script in the config file or pass --script with the path to epub2tts.py"
	case info.IsDir():
		status.Error = fmt.Errorf("%s is a directory", c.Path)
		status.Instructions = "converter.script must point at the epub2tts.py file"
	default:
		status.Installed = true
		status.Path = c.Path
	}
	return status
}

// BinaryChecker checks for a helper program such as ffmpeg
type BinaryChecker struct {
	Binary      string
	VersionFlag string
	Required    bool
}

func (c *BinaryChecker) Check(ctx context.Context) DependencyStatus {
	status := DependencyStatus{
		Name:     c.Binary,
		Kind:     KindBinary,
		Required: c.Required,
	}

	path, err := exec.LookPath(c.Binary)
	if err != nil {
		status.Error = err
		status.Instructions = binaryInstructions(c.Binary)
		return status
	}
	status.Path = path
	status.Installed = true

	if c.VersionFlag != "" {
		if out, err := runCheck(ctx, path, c.VersionFlag); err == nil {
			// Extract version from first line
			if parts := strings.Fields(firstLine(string(out))); len(parts) >= 3 {
				status.Version = parts[2]
			}
		}
	}
	return status
}

// SystemDependencies holds all dependency checkers in check order
type SystemDependencies struct {
	names    []string
	checkers map[string]DependencyChecker
	Results  map[string]DependencyStatus
}

// NewSystemDependencies creates a new dependency checker system
func NewSystemDependencies() *SystemDependencies {
	return &SystemDependencies{
		checkers: make(map[string]DependencyChecker),
		Results:  make(map[string]DependencyStatus),
	}
}

// AddChecker adds a dependency checker
func (sd *SystemDependencies) AddChecker(name string, checker DependencyChecker) {
	if _, exists := sd.checkers[name]; !exists {
		sd.names = append(sd.names, name)
	}
	sd.checkers[name] = checker
}

// Names returns checker names in the order they were added.
func (sd *SystemDependencies) Names() []string {
	return append([]string(nil), sd.names...)
}

// CheckAll runs every checker in order and returns the first missing
// required dependency.
func (sd *SystemDependencies) CheckAll(ctx context.Context) error {
	var first error

	for _, name := range sd.names {
		status := sd.checkers[name].Check(ctx)
		sd.Results[name] = status

		if err := status.Missing(); err != nil {
			log.Error("Missing required dependency",
				"name", status.Name,
				"kind", status.Kind,
				"error", status.Error)
			if first == nil {
				first = err
			}
		} else if status.Installed {
			log.Debug("Dependency found",
				"name", status.Name,
				"version", status.Version,
				"path", status.Path)
		}
	}

	return first
}

func interpreterInstructions(name string) string {
	switch runtime.GOOS {
	case "darwin":
		return "Install with: brew install python3"
	case "windows":
		return "Download from: https://www.python.org/downloads/\n    Make sure " + name + " is on PATH"
	default:
		return "Install " + name + " with your package manager (e.g. sudo apt-get install python3)"
	}
}

func binaryInstructions(name string) string {
	switch runtime.GOOS {
	case "darwin":
		return "Install with: brew install " + name
	case "linux":
		distro := detectLinuxDistro()
		switch distro {
		case "debian", "ubuntu":
			return "Install with: sudo apt-get install " + name
		case "fedora", "rhel":
			return "Install with: sudo dnf install " + name
		case "arch":
			return "Install with: sudo pacman -S " + name
		}
		return "Install with your package manager: " + name
	default:
		return "Install " + name + " and add it to PATH"
	}
}

// detectLinuxDistro attempts to detect the Linux distribution
func detectLinuxDistro() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "unknown"
	}
	content := strings.ToLower(string(data))
	for _, distro := range []string{"ubuntu", "debian", "fedora", "arch"} {
		if strings.Contains(content, distro) {
			return distro
		}
	}
	if strings.Contains(content, "rhel") || strings.Contains(content, "centos") {
		return "rhel"
	}
	return "unknown"
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
