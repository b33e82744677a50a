package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-rollover/pkg/config"
	"github.com/dd0wney/cluso-rollover/pkg/logging"
	"github.com/dd0wney/cluso-rollover/pkg/rollover"
)

const maxRecent = 6

type eventMsg rollover.Event

type doneMsg struct {
	result *runResult
	err    error
}

// memberRow is what the table shows for one member
type memberRow struct {
	id      int
	version string
	state   string
	phase   string
}

type progressModel struct {
	spinner spinner.Model
	table   table.Model
	rows    []*memberRow
	to      string
	total   int
	step    int
	recent  []string
	done    bool
	err     error
	quit    context.CancelFunc
}

func newProgressModel(file *config.File, quit context.CancelFunc) progressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF00FF"))

	columns := []table.Column{
		{Title: "Member", Width: 8},
		{Title: "Version", Width: 10},
		{Title: "State", Width: 14},
		{Title: "Phase", Width: 16},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(len(file.Members)+1),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.NoColor{}).
		Bold(false)
	t.SetStyles(s)

	m := progressModel{
		spinner: sp,
		table:   t,
		to:      file.To.Version,
		total:   len(file.Members),
		quit:    quit,
	}
	for _, e := range file.Members {
		m.rows = append(m.rows, &memberRow{
			id:      e.ID,
			version: file.From.Version,
			state:   string(rollover.StateRunningOld),
			phase:   "-",
		})
	}
	m.syncTable()
	return m
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.done && m.quit != nil {
				m.quit()
			}
			return m, tea.Quit
		}

	case eventMsg:
		m.apply(rollover.Event(msg))
		return m, nil

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply folds one event into the member rows
func (m *progressModel) apply(e rollover.Event) {
	if e.Step > 0 {
		m.step = e.Step
	}
	if row := m.row(e.MemberID); row != nil && e.Phase != rollover.PhaseLeader && e.Phase != rollover.PhasePlan {
		row.phase = string(e.Phase)
		switch e.Phase {
		case rollover.PhaseStop:
			row.state = string(rollover.StateStopped)
		case rollover.PhaseJoined:
			row.state = string(rollover.StateRunningNew)
			row.version = m.to
		}
	}

	line := string(e.Phase)
	if e.MemberID != rollover.NoMember {
		line += " member " + strconv.Itoa(e.MemberID)
	}
	if e.Phase != rollover.PhasePlan && e.Detail != "" {
		line += ": " + e.Detail
	}
	if e.Err != "" {
		line += ": " + e.Err
	}
	m.recent = append(m.recent, line)
	if len(m.recent) > maxRecent {
		m.recent = m.recent[len(m.recent)-maxRecent:]
	}
	m.syncTable()
}

func (m *progressModel) row(id int) *memberRow {
	for _, r := range m.rows {
		if r.id == id {
			return r
		}
	}
	return nil
}

func (m *progressModel) syncTable() {
	rows := make([]table.Row, len(m.rows))
	for i, r := range m.rows {
		rows[i] = table.Row{strconv.Itoa(r.id), r.version, r.state, r.phase}
	}
	m.table.SetRows(rows)
}

func (m progressModel) View() string {
	var s strings.Builder
	switch {
	case m.done && m.err == nil:
		s.WriteString(successStyle.Render("✅ Migration complete"))
	case m.done:
		s.WriteString(errorStyle.Render("❌ Migration aborted"))
	default:
		s.WriteString(fmt.Sprintf("%s %s", m.spinner.View(),
			titleStyle.Render(fmt.Sprintf("Migrating to %s: step %d/%d", m.to, m.step, m.total))))
	}
	s.WriteString("\n\n")
	s.WriteString(m.table.View())
	s.WriteString("\n\n")
	for _, line := range m.recent {
		s.WriteString(actionStyle.Render(line))
		s.WriteString("\n")
	}
	if !m.done {
		s.WriteString(actionStyle.Render("q: abort"))
		s.WriteString("\n")
	}
	return s.String()
}

// runWithTUI runs the migration behind a live progress view. Logs and
// member output go to files under the data directory.
func runWithTUI(ctx context.Context, file *config.File, opts runOptions) (*runResult, error) {
	if err := os.MkdirAll(file.DataDir, 0755); err != nil {
		return nil, err
	}
	logFile, err := os.Create(filepath.Join(file.DataDir, "rollover.log"))
	if err != nil {
		return nil, err
	}
	defer logFile.Close()
	opts.logger = logging.NewJSONLogger(logFile, file.Level())
	opts.memberOut = io.Discard

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(file, cancel))

	type outcome struct {
		result *runResult
		err    error
	}
	finished := make(chan outcome, 1)
	go func() {
		result, err := execute(ctx, file, opts, rollover.ObserverFunc(func(e rollover.Event) {
			p.Send(eventMsg(e))
		}))
		finished <- outcome{result, err}
		p.Send(doneMsg{result: result, err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-finished
		return nil, fmt.Errorf("terminal UI failed: %w", err)
	}
	out := <-finished
	return out.result, out.err
}
