package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/gearflow/internal/models"
	"github.com/raphaelgruber/gearflow/internal/service"
)

// recentLimit caps how many finished jobs the live view lists.
const recentLimit = 5

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobStyle colors a terminal job state.
func (t Theme) jobStyle(s models.JobStatus) lipgloss.Style {
	if s == models.JobStatusComplete {
		return t.completedStyle()
	}
	return t.errorStyle()
}

// tickMsg refreshes the elapsed time.
type tickMsg time.Time

// roundMsg carries the progress reported after a polling round.
type roundMsg service.WaitProgress

// waitDoneMsg carries the outcome of the wait.
type waitDoneMsg struct {
	result service.WaitResult
	err    error
}

// waitModel is the bubbletea model for waiting on jobs.
type waitModel struct {
	total    int
	done     int
	round    int
	started  time.Time
	now      time.Time
	recent   []models.JobHandle
	progress progress.Model
	theme    Theme
	cancel   context.CancelFunc
	finished bool
	quitting bool
	result   service.WaitResult
	err      error
}

// newWaitModel creates a model for total jobs. cancel stops the wait when the
// user quits.
func newWaitModel(total int, cancel context.CancelFunc) waitModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	now := time.Now()
	return waitModel{
		total:    total,
		started:  now,
		now:      now,
		progress: prog,
		theme:    defaultTheme,
		cancel:   cancel,
	}
}

// Init starts the elapsed-time ticker.
func (m waitModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case roundMsg:
		m.round = msg.Round
		m.done = msg.Done
		m.total = msg.Total
		m.recent = append(m.recent, msg.Finished...)
		if len(m.recent) > recentLimit {
			m.recent = m.recent[len(m.recent)-recentLimit:]
		}
		return m, nil

	case waitDoneMsg:
		m.finished = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m waitModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m waitModel) renderContent() string {
	if m.finished || m.quitting {
		return m.finalView()
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[round %d]", m.round))
	counts := fmt.Sprintf("%d/%d jobs", m.done, m.total)
	elapsed := m.now.Sub(m.started).Round(time.Second)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s\n", status, m.progress.ViewAs(pct), counts, elapsed)
	for _, h := range m.recent {
		fmt.Fprintf(&b, "  %s %s\n", h.ID, m.theme.jobStyle(h.Status).Render(string(h.Status)))
	}
	b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to stop waiting (jobs keep running)"))
	b.WriteString("\n")
	return b.String()
}

// finalView renders the completion message.
func (m waitModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nStopped waiting. Jobs continue on the platform.\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Wait failed: %s\n", m.err))
	}
	if !m.result.Complete {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Timed out with %d job(s) outstanding\n", len(m.result.Outstanding)))
	}
	return m.theme.completedStyle().Render(fmt.Sprintf("✓ All %d job(s) finished\n", len(m.result.Finished)))
}

// tickCmd returns a command that sends a tick after one second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runWaitProgress waits for handles while drawing a live progress display.
// Quitting the display cancels the wait; the jobs themselves are untouched.
func runWaitProgress(ctx context.Context, opts service.WaitOptions, handles []models.JobHandle) (service.WaitResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newWaitModel(len(handles), cancel))
	opts.OnRound = func(wp service.WaitProgress) {
		p.Send(roundMsg(wp))
	}

	done := make(chan waitDoneMsg, 1)
	go func() {
		result, err := orchestrator.WaitForJobs(ctx, opts, handles...)
		msg := waitDoneMsg{result: result, err: err}
		done <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return service.WaitResult{}, fmt.Errorf("progress UI error: %w", err)
	}

	cancel()
	msg := <-done
	return msg.result, msg.err
}
