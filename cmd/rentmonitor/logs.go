package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rentpipeline/models"
	"rentpipeline/storage"
)

var logLevels = []models.LogLevel{"", models.LogLevelDebug, models.LogLevelInfo, models.LogLevelWarn, models.LogLevelError}

type logsDataMsg struct {
	logs []models.ScrapeLog
}

type logsView struct {
	ops           *storage.SQLiteStore
	width, height int
	logs          []models.ScrapeLog
	levelIndex    int
}

func newLogsView(ops *storage.SQLiteStore) logsView {
	return logsView{ops: ops}
}

func (l logsView) Init() tea.Cmd {
	return l.Refresh()
}

func (l logsView) Refresh() tea.Cmd {
	level := logLevels[l.levelIndex]
	ops := l.ops
	return func() tea.Msg {
		var levelPtr *models.LogLevel
		if level != "" {
			levelPtr = &level
		}
		logs, _ := ops.RecentLogs(200, levelPtr)
		return logsDataMsg{logs: logs}
	}
}

func (l logsView) SetSize(w, h int) logsView {
	l.width, l.height = w, h
	return l
}

func (l logsView) Update(msg tea.Msg) (logsView, tea.Cmd) {
	switch m := msg.(type) {
	case logsDataMsg:
		l.logs = m.logs
	case tea.KeyMsg:
		if m.String() == "f" {
			l.levelIndex = (l.levelIndex + 1) % len(logLevels)
			return l, l.Refresh()
		}
	}
	return l, nil
}

func (l logsView) View() string {
	label := string(logLevels[l.levelIndex])
	if label == "" {
		label = "ALL"
	}
	header := titleStyle.Render(fmt.Sprintf("Logs [%s] (f to cycle filter)", label))

	if len(l.logs) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, mutedStyle.Render("No log lines yet"))
	}

	var lines []string
	max := len(l.logs)
	if l.height > 2 && max > l.height-2 {
		max = l.height - 2
	}
	for _, line := range l.logs[:max] {
		style := statLabelStyle
		switch line.Level {
		case models.LogLevelError:
			style = statusErrorStyle
		case models.LogLevelWarn:
			style = statusPendingStyle
		}
		ts := line.Timestamp.Format("15:04:05")
		source := string(line.Source)
		lines = append(lines, style.Render(fmt.Sprintf("%s [%-5s] %-8s %s", ts, line.Level, source, line.Message)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, append([]string{header}, lines...)...)
}
