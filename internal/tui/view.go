package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/charlie/internal/stream"
)

const helpText = "tab focus • enter select/run • ctrl+k cancel • ctrl+l clear message • q quit"

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.theme.Title.Render("charlie"))
	b.WriteString(m.theme.Dim.Render(fmt.Sprintf("%d task(s)", len(m.tasks))))
	b.WriteString("\n")

	b.WriteString(m.box(focusTasks).Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString(m.box(focusInput).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.box(focusOutput).Render(m.output.View()))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.messageLine())

	return b.String()
}

func (m Model) box(area focusArea) lipgloss.Style {
	style := m.theme.Border
	if m.focus == area {
		style = m.theme.FocusBorder
	}
	if m.width > 2 {
		style = style.Width(m.width - 2)
	}
	return style
}

// statusLine shows the current run's state, pid, exit code and elapsed time.
func (m Model) statusLine() string {
	if m.session == nil {
		return m.theme.Dim.Render("idle")
	}
	run := m.session.Current()
	if run == nil {
		return m.theme.Dim.Render("idle")
	}

	p := run.Process
	st := p.State()
	code := p.ExitCode()
	style := m.theme.State(st, code)

	var parts []string
	label := st.String()
	if !st.Terminal() {
		label = m.spinner.Frame(m.now.Sub(p.Started)) + " " + label
	}
	parts = append(parts, style.Render(label))
	if run.Task != "" {
		parts = append(parts, m.theme.Highlight.Render(run.Task))
	}
	parts = append(parts, fmt.Sprintf("pid %d", p.Pid()))
	if st.Terminal() && st != stream.StateCanceled {
		parts = append(parts, style.Render(fmt.Sprintf("exit %d", code)))
	}
	parts = append(parts, m.theme.Dim.Render(formatDuration(m.elapsed(p))))
	if live := len(m.session.Live()); live > 1 {
		parts = append(parts, m.theme.Dim.Render(fmt.Sprintf("%d detached", live-1)))
	}
	return strings.Join(parts, "  ")
}

func (m Model) elapsed(p *stream.Process) time.Duration {
	if p.State().Terminal() {
		return p.Duration()
	}
	return m.now.Sub(p.Started)
}

func (m Model) messageLine() string {
	if m.lastErr != "" {
		return m.theme.ErrorBar.Render("error: " + m.lastErr)
	}
	if m.notice != "" {
		return m.theme.Help.Render(m.notice + "  •  " + helpText)
	}
	return m.theme.Help.Render(helpText)
}
