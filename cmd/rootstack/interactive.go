package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/rootstack/heap"
	"github.com/wippyai/rootstack/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	slotStyles = map[runtime.SlotState]lipgloss.Style{
		runtime.SlotFree:    lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
		runtime.SlotBound:   lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		runtime.SlotRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		runtime.SlotIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")),
	}

	slotGlyphs = map[runtime.SlotState]string{
		runtime.SlotFree:    "·",
		runtime.SlotBound:   "○",
		runtime.SlotRunning: "●",
		runtime.SlotIdle:    "◌",
	}
)

const maxResults = 8

// slotBoard mirrors the slot states of a pool. Loops report into it; the
// model redraws when changed fires.
type slotBoard struct {
	mu      sync.Mutex
	states  [][]runtime.SlotState
	changed chan struct{}
}

func newSlotBoard(workers, slots int) *slotBoard {
	b := &slotBoard{
		states:  make([][]runtime.SlotState, workers),
		changed: make(chan struct{}, 1),
	}
	for i := range b.states {
		b.states[i] = make([]runtime.SlotState, slots)
	}
	return b
}

func (b *slotBoard) SlotChanged(e runtime.SlotEvent) {
	b.mu.Lock()
	b.states[e.Worker][e.Slot] = e.State
	b.mu.Unlock()
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

func (b *slotBoard) snapshot() [][]runtime.SlotState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]runtime.SlotState, len(b.states))
	for i, row := range b.states {
		out[i] = append([]runtime.SlotState(nil), row...)
	}
	return out
}

type interactiveModel struct {
	err      error
	pool     *runtime.Pool
	rt       *heap.Runtime
	board    *slotBoard
	cfg      runtime.Config
	log      *zap.Logger
	files    []string
	input    textinput.Model
	spinner  spinner.Model
	progress progress.Model
	results  []string
	batch    int
	total    int
	done     int
}

type startedMsg struct {
	err  error
	pool *runtime.Pool
	rt   *heap.Runtime
}

type boardMsg struct{}

type callResultMsg struct {
	err    error
	call   string
	result int64
}

func newInteractiveModel(cfg runtime.Config, log *zap.Logger, files []string) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "add 40 2"
	ti.Prompt = "call> "
	ti.Width = 40
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &interactiveModel{
		cfg:      cfg,
		log:      log,
		files:    files,
		board:    newSlotBoard(cfg.Workers, cfg.Slots),
		input:    ti,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		batch:    1,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.startPool, m.listen, m.spinner.Tick, textinput.Blink)
}

func (m *interactiveModel) startPool() tea.Msg {
	pool, rt, err := startPool(context.Background(), m.cfg, m.log, m.files, runtime.WithObserver(m.board))
	return startedMsg{err: err, pool: pool, rt: rt}
}

func (m *interactiveModel) listen() tea.Msg {
	<-m.board.changed
	return boardMsg{}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.pool != nil {
				_ = m.pool.Cancel(context.Background())
			}
			return m, tea.Quit

		case "up":
			m.batch = min(m.batch*2, 1024)
			return m, nil

		case "down":
			m.batch = max(m.batch/2, 1)
			return m, nil

		case "enter":
			cmds := m.submit(m.input.Value())
			m.input.Reset()
			return m, tea.Batch(cmds...)
		}

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.pool, m.rt = msg.pool, msg.rt

	case boardMsg:
		return m, m.listen

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case callResultMsg:
		m.done++
		line := resultStyle.Render(fmt.Sprintf("%s = %d", msg.call, msg.result))
		if msg.err != nil {
			line = errorStyle.Render(fmt.Sprintf("%s: %v", msg.call, msg.err))
		}
		m.results = append(m.results, line)
		if len(m.results) > maxResults {
			m.results = m.results[len(m.results)-maxResults:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit queues m.batch calls of the function named in line.
func (m *interactiveModel) submit(line string) []tea.Cmd {
	fields := strings.Fields(line)
	if m.pool == nil || len(fields) == 0 {
		return nil
	}
	name := fields[0]
	args, err := parseArgs(strings.Join(fields[1:], ","))
	if err != nil {
		m.results = append(m.results, errorStyle.Render(err.Error()))
		return nil
	}
	call := fmt.Sprintf("%s(%s)", name, strings.Join(fields[1:], ", "))

	var cmds []tea.Cmd
	for range m.batch {
		d, err := runtime.TryTask[int64](m.pool, callTask(m.pool, m.rt, name, args))
		if err != nil {
			m.results = append(m.results, errorStyle.Render(fmt.Sprintf("%s: %v", call, err)))
			break
		}
		m.total++
		cmds = append(cmds, func() tea.Msg {
			v, err := d.Wait(context.Background())
			return callResultMsg{err: err, call: call, result: v}
		})
	}
	return cmds
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}
	if m.pool == nil {
		return m.spinner.View() + " Starting pool..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("rootstack"))
	b.WriteString(" ")
	b.WriteString(strings.Join(m.files, ", "))
	b.WriteString("\n\n")

	for w, row := range m.board.snapshot() {
		fmt.Fprintf(&b, "worker %d  ", w)
		for _, st := range row {
			b.WriteString(slotStyles[st].Render(slotGlyphs[st]))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	st := m.pool.Stats()
	if m.done < m.total {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "running %d/%d  queued %d  completed %d  persistent %d\n",
		st.Running, st.Slots, st.Queued, st.Completed, st.Persistent)
	if st.Heap != nil {
		fmt.Fprintf(&b, "heap: live %d  collections %d  freed %d\n",
			st.Heap.Live, st.Heap.Collections, st.Heap.Freed)
	}
	percent := 1.0
	if m.total > 0 {
		percent = float64(m.done) / float64(m.total)
	}
	b.WriteString(m.progress.ViewAs(percent))
	b.WriteString("\n\n")

	for _, r := range m.results {
		b.WriteString(r)
		b.WriteString("\n")
	}
	if len(m.results) > 0 {
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	fmt.Fprintf(&b, "  %s\n\n", funcStyle.Render(fmt.Sprintf("x%d", m.batch)))
	b.WriteString(helpStyle.Render("enter call • ↑/↓ batch size • esc quit"))
	return b.String()
}

func runInteractive(cfg runtime.Config, log *zap.Logger, files []string) error {
	m := newInteractiveModel(cfg, log, files)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	if m.pool != nil {
		err = multierr.Append(err, m.pool.Cancel(context.Background()))
	}
	return err
}
