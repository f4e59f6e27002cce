package models

import "time"

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ScrapeLog is one structured line from a sweep, persisted to the
// operational store for later inspection (e.g. by cmd/rentmonitor).
type ScrapeLog struct {
	ID        int64
	RunID     *int64
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Source    Source
}
