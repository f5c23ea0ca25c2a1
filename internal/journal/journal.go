package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const maxErrorBytes = 4 * 1024

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Entry is one executed command.
type Entry struct {
	ID          string    `json:"id"`
	CommandID   string    `json:"command_id,omitempty"`
	Zone        string    `json:"zone"`
	Command     string    `json:"command"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Journal is an append-only audit log of command outcomes. It is never read
// back to rebuild dispatcher state.
type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record appends e to the command log.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry id is empty")
	}
	if e.Zone == "" {
		return fmt.Errorf("zone is empty")
	}
	if e.Status != StatusSucceeded && e.Status != StatusFailed {
		return fmt.Errorf("invalid status: %q", e.Status)
	}

	var lastError, commandID any
	if e.Error != "" {
		s := e.Error
		if len(s) > maxErrorBytes {
			s = s[:maxErrorBytes]
		}
		lastError = s
	}
	if e.CommandID != "" {
		commandID = e.CommandID
	}

	_, err := j.db.ExecContext(ctx, `
INSERT INTO command_log(id, command_id, zone, command, status, last_error, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, commandID, e.Zone, e.Command, e.Status, lastError,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert command_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for zone, newest first. An empty zone
// returns entries for every zone.
func (j *Journal) Recent(ctx context.Context, zone string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT id, command_id, zone, command, status, last_error, started_at, completed_at
FROM command_log
`
	args := []any{}
	if zone != "" {
		query += "WHERE zone = ?\n"
		args = append(args, zone)
	}
	query += "ORDER BY completed_at DESC, rowid DESC\nLIMIT ?;"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query command_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			commandID  sql.NullString
			lastError  sql.NullString
			status     string
			startedAt  string
			finishedAt string
		)
		if err := rows.Scan(&e.ID, &commandID, &e.Zone, &e.Command, &status, &lastError, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan command_log: %w", err)
		}
		e.Status = Status(status)
		if commandID.Valid {
			e.CommandID = commandID.String
		}
		if lastError.Valid {
			e.Error = lastError.String
		}
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			e.CompletedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command_log: %w", err)
	}
	return out, nil
}

// ErrNotFound is returned by Get when no entry has the given id.
var ErrNotFound = errors.New("journal entry not found")

// Get returns a single entry by id.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	var (
		e          Entry
		commandID  sql.NullString
		lastError  sql.NullString
		status     string
		startedAt  string
		finishedAt string
	)
	err := j.db.QueryRowContext(ctx, `
SELECT id, command_id, zone, command, status, last_error, started_at, completed_at
FROM command_log
WHERE id = ?;
`, id).Scan(&e.ID, &commandID, &e.Zone, &e.Command, &status, &lastError, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get command_log entry: %w", err)
	}
	e.Status = Status(status)
	e.CommandID = commandID.String
	e.Error = lastError.String
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		e.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
		e.CompletedAt = t
	}
	return &e, nil
}
