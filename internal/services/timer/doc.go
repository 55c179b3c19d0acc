// Package timer runs named one-shot timers and recurring maintenance jobs.
//
// One-shot timers are upserted by name: scheduling a name that already has a
// pending timer replaces it, so at most one timer exists per name. Fired
// callbacks run on a small worker pool, never on the time.AfterFunc
// goroutine.
//
// Recurring jobs use cron specs (github.com/robfig/cron/v3) and exist for
// housekeeping, not for user-visible schedules.
package timer
