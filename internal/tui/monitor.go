// Package tui is a read-only terminal view of a vault's job directories.
package tui

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattjoyce/familiar/internal/frontmatter"
	"github.com/mattjoyce/familiar/internal/jobstore"
)

const (
	refreshInterval = time.Second
	maxRows         = 200
)

// JobRow is one file shown in the table.
type JobRow struct {
	State     jobstore.State
	Name      string
	Iteration int
	Size      int64
	ModTime   time.Time
}

type snapshotMsg struct {
	counts map[jobstore.State]int
	rows   []JobRow
	err    error
	at     time.Time
}

type tickMsg time.Time

type Model struct {
	store *jobstore.Store
	name  string
	theme Theme

	width  int
	height int

	counts   map[jobstore.State]int
	rows     []JobRow
	err      error
	lastScan time.Time

	jobTable table.Model
	now      func() time.Time
}

// NewMonitor builds a monitor over store. name labels the header.
func NewMonitor(store *jobstore.Store, name string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Job", Width: 36},
			{Title: "State", Width: 10},
			{Title: "Iter", Width: 4},
			{Title: "Size", Width: 8},
			{Title: "Modified", Width: 16},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		store:    store,
		name:     name,
		theme:    NewDefaultTheme(),
		counts:   make(map[jobstore.State]int),
		jobTable: t,
		now:      time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.scan(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetWidth(m.width - 6)
		if h := m.height - 12; h > 3 {
			m.jobTable.SetHeight(h)
		}

	case snapshotMsg:
		m.err = msg.err
		m.lastScan = msg.at
		if msg.err == nil {
			m.counts = msg.counts
			m.rows = msg.rows
			m.jobTable.SetRows(m.tableRows())
		}
		return m, tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
			return tickMsg(t)
		})

	case tickMsg:
		return m, m.scan()
	}

	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

func (m Model) tableRows() []table.Row {
	now := m.now()
	rows := make([]table.Row, 0, len(m.rows))
	for _, r := range m.rows {
		iter := "-"
		if r.Iteration > 0 {
			iter = strconv.Itoa(r.Iteration)
		}
		rows = append(rows, table.Row{
			m.theme.Symbol(r.State),
			r.Name,
			string(r.State),
			iter,
			humanize.Bytes(uint64(r.Size)),
			humanize.RelTime(r.ModTime, now, "ago", "from now"),
		})
	}
	return rows
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	jobs := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Jobs"),
			m.jobTable.View(),
		),
	)

	help := m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll")

	return m.theme.Doc.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderHeader(),
			jobs,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	innerWidth := m.width - 4

	title := fmt.Sprintf(" %s · %s", strings.ToUpper(m.name), m.store.Root())
	clock := m.theme.Dim.Render(m.now().Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	counts := []string{
		fmt.Sprintf("%s Pending: %d", m.theme.Symbol(jobstore.StatePending), m.counts[jobstore.StatePending]),
		fmt.Sprintf("%s Processing: %d", m.theme.Symbol(jobstore.StateProcessing), m.counts[jobstore.StateProcessing]),
		fmt.Sprintf("%s Done: %d", m.theme.Symbol(jobstore.StateDone), m.counts[jobstore.StateDone]),
		fmt.Sprintf("%s Failed: %d", m.theme.Symbol(jobstore.StateFailed), m.counts[jobstore.StateFailed]),
	}
	statsLine := " " + strings.Join(counts, "   ")

	lines := []string{titleLine, statsLine}
	if m.err != nil {
		lines = append(lines, m.theme.Error.Render(" scan failed: "+m.err.Error()))
	}
	return m.theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) scan() tea.Cmd {
	store, now := m.store, m.now
	return func() tea.Msg {
		return loadSnapshot(store, now())
	}
}

// loadSnapshot lists every state directory. Processing and pending jobs sort
// first, then finished ones newest first.
func loadSnapshot(store *jobstore.Store, at time.Time) snapshotMsg {
	msg := snapshotMsg{counts: make(map[jobstore.State]int, 4), at: at}
	for _, state := range jobstore.AllStates() {
		entries, err := store.List(state)
		if err != nil {
			msg.err = err
			return msg
		}
		msg.counts[state] = len(entries)
		for _, e := range entries {
			msg.rows = append(msg.rows, JobRow{
				State:   e.State,
				Name:    e.Name,
				Size:    e.Size,
				ModTime: e.ModTime,
			})
		}
	}

	sort.SliceStable(msg.rows, func(i, j int) bool {
		ri, rj := rank(msg.rows[i].State), rank(msg.rows[j].State)
		if ri != rj {
			return ri < rj
		}
		return msg.rows[i].ModTime.After(msg.rows[j].ModTime)
	})
	if len(msg.rows) > maxRows {
		msg.rows = msg.rows[:maxRows]
	}
	for i := range msg.rows {
		msg.rows[i].Iteration = readIteration(store.Path(msg.rows[i].State, msg.rows[i].Name))
	}
	return msg
}

func rank(state jobstore.State) int {
	switch state {
	case jobstore.StateProcessing:
		return 0
	case jobstore.StatePending:
		return 1
	default:
		return 2
	}
}

func readIteration(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	meta, _ := frontmatter.Decode(string(data))
	return meta.Int(frontmatter.KeyIteration, 0)
}
