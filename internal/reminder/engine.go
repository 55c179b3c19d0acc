// Package reminder implements the reminder lifecycle: create, list, edit,
// delete, fire and startup recovery. It owns the mapping between persisted
// rows and armed timers; everything chat-specific stays in the router.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Timers is the subset of the timer service the engine uses.
type Timers interface {
	Schedule(name string, at time.Time, job func(ctx context.Context) error) error
	Cancel(name string) bool
}

// Notifier delivers rendered reminder messages.
type Notifier interface {
	Send(chatID int64, text string) error
}

// Options tunes schedule resolution.
type Options struct {
	Location     *time.Location // zone for all schedule arithmetic; nil means Local
	Grace        time.Duration  // bump for one-time instants already past
	DefaultHour  int            // hour for literal dates without a time
	ModifierHour int            // hour for first/last-day-of-month schedules
}

// Engine wires the parser, the recurrence calculator, the store, the timer
// service and the notifier together.
type Engine struct {
	store    storage.Store
	timers   Timers
	notifier Notifier
	parser   *schedule.Parser
	calc     *schedule.Calculator
	log      logx.Logger
	loc      *time.Location

	now func() time.Time // injectable for tests

	// per-reminder locks serialize fire against edit/delete for the same id
	lmu   sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(store storage.Store, timers Timers, notifier Notifier, opt Options, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := opt.Location
	if loc == nil {
		loc = time.Local
	}
	p := schedule.NewParser()
	p.DefaultHour = opt.DefaultHour
	return &Engine{
		store:    store,
		timers:   timers,
		notifier: notifier,
		parser:   p,
		calc:     &schedule.Calculator{ModifierHour: opt.ModifierHour, Grace: opt.Grace},
		log:      log,
		loc:      loc,
		now:      time.Now,
		locks:    map[int64]*sync.Mutex{},
	}
}

func (e *Engine) lock(id int64) *sync.Mutex {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

func (e *Engine) dropLock(id int64) {
	e.lmu.Lock()
	delete(e.locks, id)
	e.lmu.Unlock()
}

func jobName(id int64) string { return fmt.Sprintf("reminder:%d", id) }

// Create parses text, persists the reminder and arms its timer.
//
// When the store write succeeds but the timer cannot be armed, the reminder
// is returned together with ErrSchedule: the row survives and recovery will
// arm it on the next start.
func (e *Engine) Create(ctx context.Context, chatID, userID int64, username string, isGroup bool, text string) (storage.Reminder, error) {
	now := e.now().In(e.loc)
	s := e.parser.Parse(text, now)
	if strings.TrimSpace(s.Task) == "" {
		return storage.Reminder{}, fmt.Errorf("%w: empty task in %q", ErrParse, text)
	}
	at, err := e.calc.ComputeInitial(s, now)
	if err != nil {
		return storage.Reminder{}, fmt.Errorf("%w: %q", ErrParse, text)
	}

	r := storage.Reminder{
		Task:          s.Task,
		Frequency:     s.Frequency,
		Modifier:      s.Modifier,
		NextExecution: at,
		UserID:        userID,
		ChatID:        chatID,
	}
	if isGroup && username != "" {
		r.Mention = "@" + strings.TrimPrefix(username, "@")
	}
	if err := e.store.Save(ctx, &r); err != nil {
		return storage.Reminder{}, fmt.Errorf("saving reminder: %w", err)
	}

	if err := e.arm(r); err != nil {
		e.log.Error("reminder stored but timer not armed",
			logx.Int64("id", r.ID),
			logx.Time("at", at),
			logx.Err(err))
		return r, fmt.Errorf("%w: reminder %d", ErrSchedule, r.ID)
	}
	e.log.Info("reminder created",
		logx.Int64("id", r.ID),
		logx.Int64("chat_id", chatID),
		logx.String("frequency", string(r.Frequency)),
		logx.String("modifier", string(r.Modifier)),
		logx.Time("next", at))
	return r, nil
}

// List returns the chat's reminders ordered by next execution.
func (e *Engine) List(ctx context.Context, chatID int64) ([]storage.Reminder, error) {
	rows, err := e.store.List(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}
	return rows, nil
}

// Delete cancels and removes one reminder. The chat scope check keeps one
// chat from deleting another chat's reminders by id.
func (e *Engine) Delete(ctx context.Context, chatID, id int64) error {
	m := e.lock(id)
	m.Lock()
	defer m.Unlock()

	r, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.ChatID != chatID {
		return ErrNotFound
	}
	e.timers.Cancel(jobName(id))
	if err := e.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("removing reminder %d: %w", id, err)
	}
	e.dropLock(id)
	e.log.Info("reminder deleted", logx.Int64("id", id), logx.Int64("chat_id", chatID))
	return nil
}

// DeleteAll removes every reminder in the chat and reports how many.
func (e *Engine) DeleteAll(ctx context.Context, chatID int64) (int, error) {
	rows, err := e.store.List(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("listing reminders: %w", err)
	}
	n := 0
	for _, r := range rows {
		if err := e.Delete(ctx, chatID, r.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // raced with a fire that removed it
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Edit re-parses the reminder from new text and re-arms its timer. The
// timer upsert by name guarantees the old instant never fires.
func (e *Engine) Edit(ctx context.Context, chatID, id int64, text string) (storage.Reminder, error) {
	m := e.lock(id)
	m.Lock()
	defer m.Unlock()

	r, err := e.store.Get(ctx, id)
	if err != nil {
		return storage.Reminder{}, err
	}
	if r.ChatID != chatID {
		return storage.Reminder{}, ErrNotFound
	}

	now := e.now().In(e.loc)
	s := e.parser.Parse(text, now)
	if strings.TrimSpace(s.Task) == "" {
		return storage.Reminder{}, fmt.Errorf("%w: empty task in %q", ErrParse, text)
	}
	at, err := e.calc.ComputeInitial(s, now)
	if err != nil {
		return storage.Reminder{}, fmt.Errorf("%w: %q", ErrParse, text)
	}

	r.Task = s.Task
	r.Frequency = s.Frequency
	r.Modifier = s.Modifier
	r.NextExecution = at
	if err := e.store.Save(ctx, &r); err != nil {
		return storage.Reminder{}, fmt.Errorf("updating reminder %d: %w", id, err)
	}
	if err := e.arm(r); err != nil {
		e.log.Error("edited reminder not re-armed", logx.Int64("id", id), logx.Err(err))
		return r, fmt.Errorf("%w: reminder %d", ErrSchedule, id)
	}
	e.log.Info("reminder edited",
		logx.Int64("id", id),
		logx.Int64("chat_id", chatID),
		logx.Time("next", at))
	return r, nil
}

// Recover re-arms timers for persisted reminders after a restart.
//
// A recurring reminder whose instant passed while the process was down is
// advanced to its next boundary before arming. An overdue one-time reminder
// is not fired late; its row stays for the maintenance prune.
func (e *Engine) Recover(ctx context.Context) error {
	rows, err := e.store.All(ctx)
	if err != nil {
		return fmt.Errorf("loading reminders: %w", err)
	}
	now := e.now().In(e.loc)

	armed, advanced, skipped := 0, 0, 0
	for _, r := range rows {
		if !r.NextExecution.After(now) {
			if !r.Recurring() {
				skipped++
				e.log.Warn("skipping overdue one-time reminder",
					logx.Int64("id", r.ID),
					logx.Time("was_due", r.NextExecution))
				continue
			}
			r.NextExecution = e.calc.ComputeNext(r.Frequency, r.Modifier, r.NextExecution.In(e.loc), now)
			if err := e.store.Save(ctx, &r); err != nil {
				e.log.Error("recovery could not advance reminder", logx.Int64("id", r.ID), logx.Err(err))
				continue
			}
			advanced++
		}
		if err := e.arm(r); err != nil {
			e.log.Error("recovery could not arm reminder", logx.Int64("id", r.ID), logx.Err(err))
			continue
		}
		armed++
	}
	e.log.Info("reminder recovery done",
		logx.Int("armed", armed),
		logx.Int("advanced", advanced),
		logx.Int("skipped_overdue", skipped))
	return nil
}

func (e *Engine) arm(r storage.Reminder) error {
	id := r.ID
	return e.timers.Schedule(jobName(id), r.NextExecution, func(ctx context.Context) error {
		return e.fire(ctx, id)
	})
}

// fire delivers one reminder and either advances it (recurring) or removes
// it (one-time). A delivery failure is logged but never blocks the
// advance; otherwise a broken chat would stall the schedule forever.
func (e *Engine) fire(ctx context.Context, id int64) error {
	m := e.lock(id)
	m.Lock()
	defer m.Unlock()

	r, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// deleted between timer fire and now
			return nil
		}
		return fmt.Errorf("loading reminder %d: %w", id, err)
	}

	if err := e.notifier.Send(r.ChatID, renderMessage(r)); err != nil {
		e.log.Warn("reminder delivery failed",
			logx.Int64("id", id),
			logx.Int64("chat_id", r.ChatID),
			logx.Err(err))
	}

	if !r.Recurring() {
		if err := e.store.Remove(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("removing fired reminder %d: %w", id, err)
		}
		e.dropLock(id)
		e.log.Debug("one-time reminder fired", logx.Int64("id", id))
		return nil
	}

	now := e.now().In(e.loc)
	r.NextExecution = e.calc.ComputeNext(r.Frequency, r.Modifier, r.NextExecution.In(e.loc), now)
	if err := e.store.Save(ctx, &r); err != nil {
		return fmt.Errorf("advancing reminder %d: %w", id, err)
	}
	if err := e.arm(r); err != nil {
		e.log.Error("fired reminder not re-armed",
			logx.Int64("id", id),
			logx.Time("next", r.NextExecution),
			logx.Err(err))
		return fmt.Errorf("%w: reminder %d", ErrSchedule, id)
	}
	e.log.Debug("recurring reminder fired",
		logx.Int64("id", id),
		logx.Time("next", r.NextExecution))
	return nil
}

// Mentions only make sense for one-time group reminders; a recurring one
// would ping the requester forever.
func renderMessage(r storage.Reminder) string {
	if r.Mention != "" && !r.Recurring() {
		return fmt.Sprintf("%s ⏰ %s", r.Mention, r.Task)
	}
	return "⏰ " + r.Task
}
