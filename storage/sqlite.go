// SQLiteStore is the operational datastore (§2.FULL): sweep runs,
// structured log lines, and the command queue a running daemon polls.
// It never holds domain rows — those live in PostgresStore.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"rentpipeline/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL,
		university TEXT NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		scraped INTEGER DEFAULT 0,
		with_details INTEGER DEFAULT 0,
		scored INTEGER DEFAULT 0,
		with_commute INTEGER DEFAULT 0,
		saved INTEGER DEFAULT 0,
		reused INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0,
		delisted INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON sweep_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_pair ON sweep_runs(source, university, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a new sweep_runs row and returns its id.
func (s *SQLiteStore) CreateRun(run *models.SweepRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO sweep_runs (source, university, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.Source, run.University, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// UpdateRun writes the final counters and status for a sweep (§7 summary
// block), called once per sweep on completion or abandonment.
func (s *SQLiteStore) UpdateRun(run *models.SweepRun) error {
	_, err := s.db.Exec(`
		UPDATE sweep_runs SET finished_at = ?, status = ?, scraped = ?, with_details = ?,
			scored = ?, with_commute = ?, saved = ?, reused = ?, errors = ?, delisted = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Scraped, run.WithDetails,
		run.Scored, run.WithCommute, run.Saved, run.Reused, run.Errors, run.Delisted, run.ID)
	return err
}

func (s *SQLiteStore) GetRun(id int64) (*models.SweepRun, error) {
	row := s.db.QueryRow(`
		SELECT id, source, university, started_at, finished_at, status,
			scraped, with_details, scored, with_commute, saved, reused, errors, delisted
		FROM sweep_runs WHERE id = ?`, id)

	var run models.SweepRun
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.Source, &run.University, &run.StartedAt, &finishedAt, &run.Status,
		&run.Scraped, &run.WithDetails, &run.Scored, &run.WithCommute, &run.Saved, &run.Reused, &run.Errors, &run.Delisted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// RecentRuns returns the most recent sweep runs across all sources,
// newest first, for the monitor dashboard.
func (s *SQLiteStore) RecentRuns(limit int) ([]models.SweepRun, error) {
	rows, err := s.db.Query(`
		SELECT id, source, university, started_at, finished_at, status,
			scraped, with_details, scored, with_commute, saved, reused, errors, delisted
		FROM sweep_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SweepRun
	for rows.Next() {
		var run models.SweepRun
		var finishedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.Source, &run.University, &run.StartedAt, &finishedAt, &run.Status,
			&run.Scraped, &run.WithDetails, &run.Scored, &run.WithCommute, &run.Saved, &run.Reused, &run.Errors, &run.Delisted); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Log appends one structured line to scrape_logs. runID is nil for
// messages logged outside any sweep (startup, scheduler ticks).
func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message string, source models.Source) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, source)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, source)
	return err
}

func (s *SQLiteStore) GetLogsForRun(runID int64) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, source
		FROM scrape_logs WHERE run_id = ? ORDER BY timestamp`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var runIDVal sql.NullInt64
		if err := rows.Scan(&l.ID, &runIDVal, &l.Timestamp, &l.Level, &l.Message, &l.Source); err != nil {
			return nil, err
		}
		if runIDVal.Valid {
			l.RunID = &runIDVal.Int64
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// RecentLogs returns the most recent log lines across all runs, newest
// first, optionally filtered to one level, for the monitor dashboard's
// log tab.
func (s *SQLiteStore) RecentLogs(limit int, level *models.LogLevel) ([]models.ScrapeLog, error) {
	var rows *sql.Rows
	var err error
	if level != nil {
		rows, err = s.db.Query(`
			SELECT id, run_id, timestamp, level, message, source
			FROM scrape_logs WHERE level = ? ORDER BY timestamp DESC LIMIT ?`, *level, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, run_id, timestamp, level, message, source
			FROM scrape_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		var runIDVal sql.NullInt64
		if err := rows.Scan(&l.ID, &runIDVal, &l.Timestamp, &l.Level, &l.Message, &l.Source); err != nil {
			return nil, err
		}
		if runIDVal.Valid {
			l.RunID = &runIDVal.Int64
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// EnqueueCommand inserts a new command row for a running daemon to pick up.
func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var paramsJSON []byte
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return 0, err
		}
	}
	result, err := s.db.Exec(`
		INSERT INTO commands (command, params) VALUES (?, ?)`, cmd, paramsJSON)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &processedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		if processedAt.Valid {
			cmd.ProcessedAt = &processedAt.Time
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// LastRunFor returns the most recently started run for a (source,
// university) pair, used by the scheduler to decide whether a pair is
// due (§FULL-SCHED).
func (s *SQLiteStore) LastRunFor(source models.Source, university models.University) (*models.SweepRun, error) {
	row := s.db.QueryRow(`
		SELECT id, source, university, started_at, finished_at, status,
			scraped, with_details, scored, with_commute, saved, reused, errors, delisted
		FROM sweep_runs WHERE source = ? AND university = ? ORDER BY started_at DESC LIMIT 1`, source, university)

	var run models.SweepRun
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.Source, &run.University, &run.StartedAt, &finishedAt, &run.Status,
		&run.Scraped, &run.WithDetails, &run.Scored, &run.WithCommute, &run.Saved, &run.Reused, &run.Errors, &run.Delisted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// ResetAllData clears all SQLite operational tables.
func (s *SQLiteStore) ResetAllData() error {
	tables := []string{
		"scrape_logs",
		"sweep_runs",
		"commands",
	}

	for _, table := range tables {
		_, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	return nil
}
