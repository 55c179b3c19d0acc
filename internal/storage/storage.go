// Package storage persists reminders across restarts.
//
// The only backend is a SQLite database file (modernc.org/sqlite, no cgo).
// Instants are stored as RFC 3339 text in UTC so rows stay readable with
// plain sqlite3 tooling.
package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/schedule"
)

var ErrNotFound = errors.New("reminder not found")

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Reminder is one persisted reminder row.
type Reminder struct {
	ID            int64
	Task          string
	Frequency     schedule.Frequency
	Modifier      schedule.DateModifier
	NextExecution time.Time
	UserID        int64
	ChatID        int64
	Mention       string
	CreatedAt     time.Time
}

// Recurring reports whether the row repeats after firing.
func (r Reminder) Recurring() bool {
	return r.Frequency != schedule.FreqNone || r.Modifier != schedule.ModNone
}

// Store is the persistence API used by the reminder engine.
//
// Save inserts when ID is zero (assigning the new ID on the value) and
// updates otherwise. Get, Remove and the update path of Save report a
// missing row as ErrNotFound.
type Store interface {
	Save(ctx context.Context, r *Reminder) error
	Get(ctx context.Context, id int64) (Reminder, error)
	List(ctx context.Context, chatID int64) ([]Reminder, error)
	All(ctx context.Context) ([]Reminder, error)
	Remove(ctx context.Context, id int64) error

	// PruneStale removes one-time rows whose instant passed before the
	// cutoff. Recurring rows are never pruned.
	PruneStale(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
