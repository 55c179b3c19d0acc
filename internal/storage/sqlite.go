package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/schedule"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the SQLite database at cfg.Path and runs
// the embedded migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Save(ctx context.Context, r *Reminder) error {
	if r.ID == 0 {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO reminders(task, frequency, date_modifier, next_execution, user_id, chat_id, display_mention, created_at)
			 VALUES(?,?,?,?,?,?,?,?)`,
			r.Task, string(r.Frequency), string(r.Modifier), encodeTime(r.NextExecution),
			r.UserID, r.ChatID, r.Mention, encodeTime(r.CreatedAt),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r.ID = id
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders
		 SET task = ?, frequency = ?, date_modifier = ?, next_execution = ?, display_mention = ?
		 WHERE id = ?`,
		r.Task, string(r.Frequency), string(r.Modifier), encodeTime(r.NextExecution),
		r.Mention, r.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task, frequency, date_modifier, next_execution, user_id, chat_id, display_mention, created_at
		 FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrNotFound
	}
	return r, err
}

func (s *sqliteStore) List(ctx context.Context, chatID int64) ([]Reminder, error) {
	return s.query(ctx,
		`SELECT id, task, frequency, date_modifier, next_execution, user_id, chat_id, display_mention, created_at
		 FROM reminders WHERE chat_id = ? ORDER BY next_execution, id`, chatID)
}

func (s *sqliteStore) All(ctx context.Context) ([]Reminder, error) {
	return s.query(ctx,
		`SELECT id, task, frequency, date_modifier, next_execution, user_id, chat_id, display_mention, created_at
		 FROM reminders ORDER BY next_execution, id`)
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			// A malformed row should not take down listing; log and skip.
			s.log.Warn("skipping malformed reminder row", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Remove(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE frequency = '' AND date_modifier = '' AND next_execution < ?`,
		encodeTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReminder(row scannable) (Reminder, error) {
	var (
		r          Reminder
		freq       string
		mod        string
		next, made string
	)
	err := row.Scan(&r.ID, &r.Task, &freq, &mod, &next, &r.UserID, &r.ChatID, &r.Mention, &made)
	if err != nil {
		return Reminder{}, err
	}
	r.Frequency = schedule.ParseFrequency(freq)
	r.Modifier = schedule.ParseModifier(mod)
	if r.NextExecution, err = decodeTime(next); err != nil {
		return Reminder{}, fmt.Errorf("next_execution: %w", err)
	}
	if r.CreatedAt, err = decodeTime(made); err != nil {
		return Reminder{}, fmt.Errorf("created_at: %w", err)
	}
	return r, nil
}

// encodeTime renders UTC RFC 3339 text truncated to whole seconds, so
// lexical ordering in SQL matches chronological ordering.
func encodeTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// decodeTime tolerates fractional seconds from rows written by older builds.
func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
