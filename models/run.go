package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
)

// SweepRun records one execution of the pipeline for a (source, university)
// pair in the operational store (§2.FULL). Distinct from the domain data
// the Postgres sink holds.
type SweepRun struct {
	ID         int64
	Source     Source
	University University
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus

	Scraped      int
	WithDetails  int
	Scored       int
	WithCommute  int
	Saved        int
	Reused       int
	Errors       int
	Delisted     int
}

// Summary renders the sweep-end summary block described in §7.
func (r *SweepRun) Summary() map[string]int {
	return map[string]int{
		"scraped":      r.Scraped,
		"with_details": r.WithDetails,
		"scored":       r.Scored,
		"with_commute": r.WithCommute,
		"saved":        r.Saved,
		"reused":       r.Reused,
		"errors":       r.Errors,
		"delisted":     r.Delisted,
	}
}
