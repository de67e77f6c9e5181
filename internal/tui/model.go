// Package tui is the interactive front end: a task table, a command input
// and an output pane fed by the drain loop.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/charlie/internal/config"
	"github.com/mattjoyce/charlie/internal/drain"
	"github.com/mattjoyce/charlie/internal/log"
	"github.com/mattjoyce/charlie/internal/session"
	"github.com/mattjoyce/charlie/internal/task"
)

type focusArea int

const (
	focusTasks focusArea = iota
	focusInput
	focusOutput
)

// cancelTimeout bounds a ctrl+k cancel, which waits out the grace period.
const cancelTimeout = 15 * time.Second

// Messages
type tickMsg time.Time

type reloadMsg config.Reload

type cancelDoneMsg struct {
	runID string
	err   error
}

// Options wires the model to a session and its drainer.
type Options struct {
	Session      *session.Session
	Drainer      *drain.Drainer
	Buffer       *drain.Buffer
	Tasks        []task.Task
	TickInterval time.Duration
	// Reloads is optional. A closed or nil channel disables hot reload.
	Reloads <-chan config.Reload
	Logger  *slog.Logger
}

// Model is the bubbletea model for the runner.
type Model struct {
	session  *session.Session
	drainer  *drain.Drainer
	buffer   *drain.Buffer
	interval time.Duration
	reloads  <-chan config.Reload
	logger   *slog.Logger

	tasks  []task.Task
	table  table.Model
	input  textinput.Model
	output viewport.Model

	// chosen is the task last picked with Enter. Launches use its workdir
	// wherever the table cursor has moved since.
	chosen *task.Task

	focus      focusArea
	autoScroll bool
	width      int
	height     int

	theme   Theme
	spinner Spinner
	now     time.Time
	notice  string
	lastErr string
}

// New creates a model. Tasks may be empty; Enter then runs the typed command
// in the current directory.
func New(opts Options) Model {
	theme := NewDefaultTheme()
	interval := opts.TickInterval
	if interval <= 0 {
		interval = config.DefaultSettings().TickInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("tui")
	}

	t := table.New(
		table.WithColumns(taskColumns(80)),
		table.WithFocused(true),
		table.WithHeight(6),
	)
	t.SetStyles(theme.TableStyles())

	in := textinput.New()
	in.Placeholder = "command to run"
	in.Prompt = "$ "
	in.PromptStyle = theme.InputPrompt
	in.CharLimit = 4096

	vp := viewport.New(0, 0)

	m := Model{
		session:    opts.Session,
		drainer:    opts.Drainer,
		buffer:     opts.Buffer,
		interval:   interval,
		reloads:    opts.Reloads,
		logger:     logger,
		table:      t,
		input:      in,
		output:     vp,
		autoScroll: true,
		theme:      theme,
		spinner:    NewSpinner(),
		now:        time.Now(),
	}
	m.setTasks(opts.Tasks)
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.waitReload())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitReload() tea.Cmd {
	if m.reloads == nil {
		return nil
	}
	ch := m.reloads
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return nil
		}
		return reloadMsg(r)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		m.drain()
		return m, m.tick()

	case reloadMsg:
		m.applyReload(config.Reload(msg))
		return m, m.waitReload()

	case cancelDoneMsg:
		switch {
		case errors.Is(msg.err, session.ErrNoActiveRun):
			m.notice = "nothing to cancel"
		case msg.err != nil:
			m.lastErr = fmt.Sprintf("cancel: %v", msg.err)
		default:
			m.notice = "canceled " + shortID(msg.runID)
		}
		return m, nil
	}

	return m.forward(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "q":
		if m.focus != focusInput {
			return m, tea.Quit
		}
	case "tab":
		m.setFocus((m.focus + 1) % 3)
		return m, nil
	case "shift+tab":
		m.setFocus((m.focus + 2) % 3)
		return m, nil
	case "esc":
		m.setFocus(focusTasks)
		return m, nil
	case "ctrl+k":
		return m, m.cancelCurrent()
	case "ctrl+l":
		m.notice, m.lastErr = "", ""
		return m, nil
	case "enter":
		switch m.focus {
		case focusTasks:
			if t, ok := m.selectedTask(); ok {
				m.chosen = &t
				m.input.SetValue(t.ShellCommand())
				m.input.CursorEnd()
				m.setFocus(focusInput)
			}
			return m, nil
		case focusInput:
			m.launchInput()
			return m, nil
		}
	case "G":
		if m.focus == focusOutput {
			m.autoScroll = true
			m.output.GotoBottom()
			return m, nil
		}
	}
	return m.forward(msg)
}

// forward hands a message to the focused component.
func (m Model) forward(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.focus {
	case focusTasks:
		m.table, cmd = m.table.Update(msg)
	case focusInput:
		m.input, cmd = m.input.Update(msg)
	case focusOutput:
		m.output, cmd = m.output.Update(msg)
		m.autoScroll = m.output.AtBottom()
	}
	return m, cmd
}

func (m *Model) setFocus(f focusArea) {
	m.focus = f
	if f == focusTasks {
		m.table.Focus()
	} else {
		m.table.Blur()
	}
	if f == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

// launchInput runs the input command in the selected task's workdir. The run
// is recorded under the task name only when the input still matches it.
func (m *Model) launchInput() {
	command := strings.TrimSpace(m.input.Value())
	if command == "" {
		m.notice = "nothing to run"
		return
	}
	if m.session == nil {
		m.lastErr = "no session"
		return
	}

	name, workdir := "", "."
	if t := m.chosen; t != nil {
		workdir = t.Workdir
		if command == t.ShellCommand() {
			name = t.Name
		}
	}

	run, err := m.session.Launch(name, command, workdir)
	if err != nil {
		m.lastErr = err.Error()
		m.logger.Warn("launch failed", "command", command, "workdir", workdir, "error", err)
		return
	}
	m.lastErr = ""
	m.notice = "started " + shortID(run.ID)
	m.autoScroll = true
	m.output.SetContent("")
	m.output.GotoTop()
}

func (m Model) cancelCurrent() tea.Cmd {
	if m.session == nil {
		return nil
	}
	sess := m.session
	return func() tea.Msg {
		var id string
		if run := sess.Current(); run != nil {
			id = run.ID
		}
		ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		return cancelDoneMsg{runID: id, err: sess.Cancel(ctx)}
	}
}

// drain moves pending output into the buffer and refreshes the pane when
// anything arrived.
func (m *Model) drain() {
	if m.drainer == nil || !m.drainer.Tick() {
		return
	}
	if m.buffer != nil {
		m.output.SetContent(m.buffer.View())
	}
	if m.autoScroll {
		m.output.GotoBottom()
	}
}

func (m *Model) applyReload(r config.Reload) {
	if r.Err != nil {
		m.lastErr = fmt.Sprintf("config reload failed: %v", r.Err)
		m.logger.Warn("config reload failed", "error", r.Err)
		return
	}
	tasks, err := task.FromConfig(r.Config)
	if err != nil {
		m.lastErr = fmt.Sprintf("config reload failed: %v", err)
		m.logger.Warn("config reload failed", "error", err)
		return
	}
	m.setTasks(tasks)
	if m.chosen != nil {
		if t, ok := task.Find(tasks, m.chosen.Name); ok {
			m.chosen = &t
		} else {
			m.chosen = nil
		}
	}
	if m.session != nil {
		m.session.SetConfigHash(r.Config.Fingerprint)
	}
	m.lastErr = ""
	m.notice = fmt.Sprintf("reloaded %d task(s)", len(tasks))
	m.logger.Info("tasks reloaded", "tasks", len(tasks), "fingerprint", r.Config.Fingerprint)
}

func (m *Model) setTasks(tasks []task.Task) {
	m.tasks = tasks
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, table.Row{t.Name, string(t.Shell), t.Workdir, t.Command})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m Model) selectedTask() (task.Task, bool) {
	if len(m.tasks) == 0 {
		return task.Task{}, false
	}
	c := m.table.Cursor()
	if c < 0 || c >= len(m.tasks) {
		return task.Task{}, false
	}
	return m.tasks[c], true
}

func (m *Model) layout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	inner := m.width - 2
	if inner < 10 {
		inner = 10
	}

	tableHeight := len(m.tasks) + 1
	if tableHeight < 3 {
		tableHeight = 3
	}
	if third := m.height / 3; tableHeight > third && third >= 3 {
		tableHeight = third
	}
	m.table.SetColumns(taskColumns(inner))
	m.table.SetWidth(inner)
	m.table.SetHeight(tableHeight)

	m.input.Width = inner - len(m.input.Prompt) - 1

	// title + table box + input box + status + help + output borders
	used := 1 + (tableHeight + 3) + 3 + 1 + 1 + 2
	h := m.height - used
	if h < 3 {
		h = 3
	}
	m.output.Width = inner
	m.output.Height = h
	if m.autoScroll {
		m.output.GotoBottom()
	}
}

func taskColumns(width int) []table.Column {
	name, shell, dir := 16, 6, 24
	cmd := width - name - shell - dir - 8
	if cmd < 10 {
		cmd = 10
	}
	return []table.Column{
		{Title: "Task", Width: name},
		{Title: "Shell", Width: shell},
		{Title: "Workdir", Width: dir},
		{Title: "Command", Width: cmd},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
