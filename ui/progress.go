// Package ui provides the terminal progress view of the convert command.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"

	"github.com/epub2tts/epub2tts/internal/conversion"
	"github.com/epub2tts/epub2tts/internal/dispatch"
)

const (
	headerHeight = 2
	footerHeight = 2
)

// Runner runs a conversion, reporting every output line to sink.
type Runner func(ctx context.Context, sink func(dispatch.Line)) (*conversion.Result, error)

type lineMsg dispatch.Line

type doneMsg struct {
	result *conversion.Result
	err    error
}

type tickMsg time.Time

type model struct {
	cfg      Config
	cancel   context.CancelFunc
	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
	ready    bool

	lines     []string
	started   time.Time
	elapsed   time.Duration
	canceling bool
	done      bool

	result *conversion.Result
	err    error
}

func newModel(cfg Config, cancel context.CancelFunc) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	if cfg.MaxLines <= 0 {
		cfg.MaxLines = 500
	}

	return model{
		cfg:     cfg,
		cancel:  cancel,
		spinner: sp,
		started: time.Now(),
	}
}

// Run shows a progress view while run converts. Pressing ctrl+c cancels the
// conversion; pressing it again leaves without waiting.
func Run(ctx context.Context, cfg Config, run Runner) (*conversion.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var opts []tea.ProgramOption
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	p := tea.NewProgram(newModel(cfg, cancel), opts...)

	go func() {
		result, err := run(ctx, func(l dispatch.Line) {
			p.Send(lineMsg(l))
		})
		p.Send(doneMsg{result: result, err: err})
	}()

	log.Debug("Starting progress view", "title", cfg.Title)
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("unable to run tui program: %w", err)
	}

	m := final.(model)
	if !m.done {
		return nil, &conversion.CanceledError{Tail: tailOf(m.lines, 20), Cause: context.Canceled}
	}
	return m.result, m.err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.canceling || m.done {
				return m, tea.Quit
			}
			m.canceling = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		h := max(1, msg.Height-headerHeight-footerHeight)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, h)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = h
		}
		m.refresh()

	case lineMsg:
		m.appendLine(msg.Text)
		m.refresh()

	case doneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		m.elapsed = time.Since(m.started)
		return m, tea.Quit

	case tickMsg:
		if !m.done {
			m.elapsed = time.Since(m.started)
			cmds = append(cmds, tick())
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// appendLine adds a log line. Consecutive progress bar redraws replace each
// other.
func (m *model) appendLine(text string) {
	text = strings.TrimRight(text, " ")
	if text == "" {
		return
	}
	if n := len(m.lines); n > 0 && isProgressBar(text) && isProgressBar(m.lines[n-1]) {
		m.lines[n-1] = text
		return
	}
	m.lines = append(m.lines, text)
	if len(m.lines) > m.cfg.MaxLines {
		m.lines = m.lines[len(m.lines)-m.cfg.MaxLines:]
	}
}

func isProgressBar(s string) bool {
	return strings.Contains(s, "%|") || strings.HasSuffix(s, "it/s]")
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	width := uint(max(0, m.width)) //nolint:gosec
	out := make([]string, len(m.lines))
	for i, l := range m.lines {
		out[i] = logLineStyle(truncate.StringWithTail(l, width, ellipsis))
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(out, "\n"))
	if atBottom || m.viewport.YOffset == 0 {
		m.viewport.GotoBottom()
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		for _, l := range tailOf(m.lines, 10) {
			b.WriteString(logLineStyle(l) + "\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(m.footerView())
	return b.String()
}

func (m model) headerView() string {
	status := m.spinner.View()
	switch {
	case m.done && m.err == nil:
		status = successStyle("done")
	case m.done && errors.Is(m.err, conversion.ErrCanceled):
		status = errorStyle("canceled")
	case m.done:
		status = errorStyle("failed")
	}

	title := titleStyle(m.cfg.Title)
	voice := voiceStyle(m.cfg.Voice)
	elapsed := elapsedStyle(m.elapsed.Round(time.Second).String())

	used := ansi.PrintableRuneWidth(status) + ansi.PrintableRuneWidth(title) +
		ansi.PrintableRuneWidth(elapsed) + 3
	if m.width > 0 {
		room := max(0, m.width-used-1)
		if runewidth.StringWidth(m.cfg.Voice) > room {
			voice = voiceStyle(runewidth.Truncate(m.cfg.Voice, room, ellipsis))
		}
	}
	return fmt.Sprintf("%s %s %s %s", status, title, voice, elapsed)
}

func (m model) footerView() string {
	switch {
	case m.done:
		return ""
	case m.canceling:
		return helpStyle("canceling… press ctrl+c again to leave now")
	default:
		return helpStyle("ctrl+c cancel")
	}
}

func tailOf(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
