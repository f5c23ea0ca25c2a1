package journal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/zonectl/internal/storage"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func entry(zone, command string, status Status, at time.Time) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Zone:        zone,
		Command:     command,
		Status:      status,
		StartedAt:   at.Add(-10 * time.Millisecond),
		CompletedAt: at,
	}
}

func TestJournalRecordAndGet(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	ctx := context.Background()

	e := entry("KITCHEN", "play", StatusFailed, time.Now())
	e.CommandID = "cmd-1"
	e.Error = "device unreachable"
	require.NoError(t, j.Record(ctx, e))

	got, err := j.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "KITCHEN", got.Zone)
	assert.Equal(t, "play", got.Command)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "cmd-1", got.CommandID)
	assert.Equal(t, "device unreachable", got.Error)
	assert.WithinDuration(t, e.CompletedAt, got.CompletedAt, time.Millisecond)
}

func TestJournalGetNotFound(t *testing.T) {
	t.Parallel()
	j := openJournal(t)

	_, err := j.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournalRecentOrdersNewestFirst(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, j.Record(ctx, entry("KITCHEN", "A", StatusSucceeded, base)))
	require.NoError(t, j.Record(ctx, entry("KITCHEN", "B", StatusSucceeded, base.Add(time.Second))))
	require.NoError(t, j.Record(ctx, entry("OFFICE", "C", StatusSucceeded, base.Add(2*time.Second))))

	kitchen, err := j.Recent(ctx, "KITCHEN", 10)
	require.NoError(t, err)
	require.Len(t, kitchen, 2)
	assert.Equal(t, "B", kitchen[0].Command)
	assert.Equal(t, "A", kitchen[1].Command)

	all, err := j.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "C", all[0].Command)
}

func TestJournalRecordValidates(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	ctx := context.Background()

	tests := []struct {
		name string
		mod  func(*Entry)
		want string
	}{
		{"missing id", func(e *Entry) { e.ID = "" }, "entry id is empty"},
		{"missing zone", func(e *Entry) { e.Zone = "" }, "zone is empty"},
		{"bad status", func(e *Entry) { e.Status = "running" }, "invalid status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entry("KITCHEN", "play", StatusSucceeded, time.Now())
			tt.mod(&e)
			err := j.Record(ctx, e)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestJournalTruncatesLongErrors(t *testing.T) {
	t.Parallel()
	j := openJournal(t)
	ctx := context.Background()

	e := entry("KITCHEN", "play", StatusFailed, time.Now())
	e.Error = strings.Repeat("x", maxErrorBytes+100)
	require.NoError(t, j.Record(ctx, e))

	got, err := j.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, got.Error, maxErrorBytes)
}
