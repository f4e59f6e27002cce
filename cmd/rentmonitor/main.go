// Command rentmonitor is a read-only terminal dashboard over the
// operational sweep store and the Postgres sink (§FULL-MONITOR). It
// never mutates pipeline state — no scrape/pause/resume commands are
// sent from here, unlike the teacher's read-write original.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"rentpipeline/config"
	"rentpipeline/storage"
)

type tab int

const (
	tabDashboard tab = iota
	tabLogs
)

type model struct {
	ops           *storage.SQLiteStore
	activeTab     tab
	width, height int
	lastRefresh   time.Time

	dashboard dashboard
	logs      logsView
}

type tickMsg time.Time

func initialModel(ops *storage.SQLiteStore, db *storage.PostgresStore) model {
	return model{
		ops:       ops,
		activeTab: tabDashboard,
		dashboard: newDashboard(ops, db),
		logs:      newLogsView(ops),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.dashboard.Init(), m.logs.Init(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
		case "l":
			m.activeTab = tabLogs
		case "tab":
			m.activeTab = (m.activeTab + 1) % 2
		case "r":
			cmds = append(cmds, m.refreshActive())
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.logs = m.logs.SetSize(msg.Width, msg.Height-4)

	case tickMsg:
		m.lastRefresh = time.Time(msg)
		cmds = append(cmds, m.refreshActive(), tickCmd())
	}

	newDashboard, cmd1 := m.dashboard.Update(msg)
	m.dashboard = newDashboard
	cmds = append(cmds, cmd1)

	newLogs, cmd2 := m.logs.Update(msg)
	m.logs = newLogs
	cmds = append(cmds, cmd2)

	return m, tea.Batch(cmds...)
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.Refresh()
	case tabLogs:
		return m.logs.Refresh()
	}
	return nil
}

func (m model) View() string {
	tabs := m.renderTabs()
	var content string
	switch m.activeTab {
	case tabDashboard:
		content = m.dashboard.View()
	case tabLogs:
		content = m.logs.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, tabs, content, m.renderStatusBar())
}

func (m model) renderTabs() string {
	names := []string{"Dashboard", "Logs"}
	var rendered []string
	for i, name := range names {
		if tab(i) == m.activeTab {
			rendered = append(rendered, tabActiveStyle.Render(name))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderStatusBar() string {
	left := "d Dashboard  l Logs  tab Next  r Refresh  q Quit"
	right := ""
	if !m.lastRefresh.IsZero() {
		right = "updated " + relativeTime(m.lastRefresh)
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + mutedStyle.Render(right)
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rentmonitor: config error: %v\n", err)
		os.Exit(1)
	}

	ops, err := storage.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rentmonitor: sqlite error: %v\n", err)
		os.Exit(1)
	}
	defer ops.Close()

	var db *storage.PostgresStore
	if cfg.DB.Password != "" || cfg.DB.Host == "localhost" {
		db, err = storage.NewPostgresStore(context.Background(), cfg.DB.ConnString())
		if err != nil {
			fmt.Fprintf(os.Stderr, "rentmonitor: warning: postgres unavailable, school counts disabled: %v\n", err)
			db = nil
		} else {
			defer db.Close()
		}
	}

	p := tea.NewProgram(initialModel(ops, db), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "rentmonitor: %v\n", err)
		os.Exit(1)
	}
}
