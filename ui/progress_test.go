package ui

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/epub2tts/epub2tts/internal/conversion"
)

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func TestProgressCollapsesBars(t *testing.T) {
	m := newModel(Config{Title: "book.epub"}, nil)

	for _, l := range []string{
		"Chapter 1",
		" 10%|█         | 1/10 [00:01<00:09,  1.00it/s]",
		" 50%|█████     | 5/10 [00:05<00:05,  1.00it/s]",
		"100%|██████████| 10/10 [00:10<00:00,  1.00it/s]",
		"Chapter 2",
		"",
	} {
		m = update(t, m, lineMsg{Text: l})
	}

	if len(m.lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(m.lines), m.lines)
	}
	if !strings.HasPrefix(m.lines[1], "100%") {
		t.Errorf("Expected the last progress redraw to win, got %q", m.lines[1])
	}
}

func TestProgressLineCap(t *testing.T) {
	m := newModel(Config{MaxLines: 5}, nil)
	for i := 0; i < 12; i++ {
		m = update(t, m, lineMsg{Text: fmt.Sprintf("line %d", i)})
	}
	if len(m.lines) != 5 || m.lines[4] != "line 11" {
		t.Errorf("Expected the newest 5 lines, got %q", m.lines)
	}
}

func TestProgressCancel(t *testing.T) {
	canceled := 0
	m := newModel(Config{}, func() { canceled++ })

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if canceled != 1 || !m.canceling {
		t.Fatalf("Expected first ctrl+c to cancel the conversion")
	}
	if !strings.Contains(m.footerView(), "again") {
		t.Errorf("Expected footer to explain how to leave, got %q", m.footerView())
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("Expected second ctrl+c to quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Expected a quit command")
	}
	if canceled != 1 {
		t.Errorf("Expected cancel to be called once, got %d", canceled)
	}
}

func TestProgressDone(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, "done"},
		{"failure", &conversion.ExternalFailure{ExitCode: 1}, "failed"},
		{"canceled", &conversion.CanceledError{Cause: errors.New("killed")}, "canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel(Config{Title: "book.epub", Voice: "tts/p335"}, nil)
			next, cmd := m.Update(doneMsg{result: &conversion.Result{Artifact: "book-p335.m4b"}, err: tt.err})
			m = next.(model)

			if !m.done {
				t.Fatal("Expected model to be done")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("Expected the view to quit when the conversion ends")
			}
			if !strings.Contains(m.headerView(), tt.want) {
				t.Errorf("Expected header to contain %q, got %q", tt.want, m.headerView())
			}
		})
	}
}

func TestProgressViewTruncates(t *testing.T) {
	m := newModel(Config{Title: "book.epub"}, nil)
	m = update(t, m, tea.WindowSizeMsg{Width: 20, Height: 10})
	m = update(t, m, lineMsg{Text: strings.Repeat("x", 100)})

	view := m.viewport.View()
	if strings.Contains(view, strings.Repeat("x", 21)) {
		t.Error("Expected long lines to be truncated to the window width")
	}
	if !strings.Contains(view, ellipsis) {
		t.Error("Expected truncated lines to end in an ellipsis")
	}
}
