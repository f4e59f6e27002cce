package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rentpipeline/models"
	"rentpipeline/storage"
)

type dashboardDataMsg struct {
	runs   []models.SweepRun
	counts []storage.SchoolSourceCount
}

type dashboard struct {
	ops           *storage.SQLiteStore
	db            *storage.PostgresStore
	width, height int
	runs          []models.SweepRun
	counts        []storage.SchoolSourceCount
}

func newDashboard(ops *storage.SQLiteStore, db *storage.PostgresStore) dashboard {
	return dashboard{ops: ops, db: db}
}

func (d dashboard) Init() tea.Cmd {
	return d.Refresh()
}

func (d dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		runs, _ := d.ops.RecentRuns(10)
		var counts []storage.SchoolSourceCount
		if d.db != nil {
			counts, _ = d.db.SchoolSourceCounts(context.Background())
		}
		return dashboardDataMsg{runs: runs, counts: counts}
	}
}

func (d dashboard) SetSize(w, h int) dashboard {
	d.width, d.height = w, h
	return d
}

func (d dashboard) Update(msg tea.Msg) (dashboard, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.runs = msg.runs
		d.counts = msg.counts
	}
	return d, nil
}

func (d dashboard) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Sweeps"),
		d.renderSchoolCards(),
		"",
		titleStyle.Render("Recent Runs"),
		d.renderRunsTable(),
	)
}

func (d dashboard) renderSchoolCards() string {
	if len(d.counts) == 0 {
		return mutedStyle.Render("No sink rows yet")
	}
	var cards []string
	bySchool := make(map[string][]storage.SchoolSourceCount)
	var order []string
	for _, c := range d.counts {
		if _, ok := bySchool[c.SchoolCode]; !ok {
			order = append(order, c.SchoolCode)
		}
		bySchool[c.SchoolCode] = append(bySchool[c.SchoolCode], c)
	}
	for _, school := range order {
		cards = append(cards, d.renderSchoolCard(school, bySchool[school]))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (d dashboard) renderSchoolCard(school string, counts []storage.SchoolSourceCount) string {
	lines := []string{statValueStyle.Render(school)}
	for _, c := range counts {
		lines = append(lines, statLabelStyle.Render(fmt.Sprintf("%s: %d", c.Source, c.Count)))
	}
	return sweepCardBorderStyle.Width(24).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (d dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return mutedStyle.Render("No runs yet")
	}

	header := fmt.Sprintf("%-8s %-6s %-10s %8s %8s %8s %8s %8s",
		"Source", "Uni", "Started", "Scraped", "Scored", "Saved", "Errors", "Status")
	out := tableHeaderStyle.Render(header) + "\n"

	for _, r := range d.runs {
		status := string(r.Status)
		started := r.StartedAt.Format("15:04:05")
		row := fmt.Sprintf("%-8s %-6s %-10s %8d %8d %8d %8d %s",
			r.Source, r.University, started, r.Scraped, r.Scored, r.Saved, r.Errors,
			statusStyleFor(status).Render(fmt.Sprintf("%-10s", status)))
		out += row + "\n"
	}
	return out
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
