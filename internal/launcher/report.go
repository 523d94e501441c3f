package launcher

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	installedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	missingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	optionalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	sectionStyle   = lipgloss.NewStyle().Bold(true)
)

var kindTitles = []struct {
	kind  DependencyKind
	title string
}{
	{KindInterpreter, "Interpreter"},
	{KindModule, "Python modules"},
	{KindScript, "Conversion script"},
	{KindBinary, "Helper programs"},
}

// PrintReport renders the results of CheckAll grouped by kind.
func (sd *SystemDependencies) PrintReport() string {
	var report strings.Builder

	report.WriteString(titleStyle.Render("epub2tts Dependency Check Report"))
	report.WriteString("\n\n")

	for _, section := range kindTitles {
		var rows []DependencyStatus
		for _, name := range sd.names {
			if status, ok := sd.Results[name]; ok && status.Kind == section.kind {
				rows = append(rows, status)
			}
		}
		if len(rows) == 0 {
			continue
		}

		report.WriteString(sectionStyle.Render(section.title + ":"))
		report.WriteString("\n")
		for _, status := range rows {
			writeStatus(&report, status)
		}
		report.WriteString("\n")
	}

	return strings.TrimRight(report.String(), "\n") + "\n"
}

func writeStatus(b *strings.Builder, status DependencyStatus) {
	switch {
	case status.Installed:
		b.WriteString(installedStyle.Render(fmt.Sprintf("  ✓ %s: ", status.Name)))
		detail := status.Path
		if status.Version != "" {
			detail += " " + status.Version
		}
		b.WriteString(detail + "\n")
	case status.Required:
		b.WriteString(missingStyle.Render(fmt.Sprintf("  ✗ %s: ", status.Name)))
		b.WriteString("Not available\n")
		if status.Error != nil {
			fmt.Fprintf(b, "    %v\n", status.Error)
		}
		if status.Instructions != "" {
			fmt.Fprintf(b, "    %s\n", status.Instructions)
		}
	default:
		b.WriteString(optionalStyle.Render(fmt.Sprintf("  ○ %s: ", status.Name)))
		b.WriteString("Not installed (optional)\n")
		if status.Instructions != "" {
			fmt.Fprintf(b, "    %s\n", status.Instructions)
		}
	}
}
