package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// memStore is an in-memory storage.Store for deterministic engine tests.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]storage.Reminder

	saveErr error
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]storage.Reminder{}}
}

func (m *memStore) Save(_ context.Context, r *storage.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if r.ID == 0 {
		m.nextID++
		r.ID = m.nextID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
	} else if _, ok := m.rows[r.ID]; !ok {
		return storage.ErrNotFound
	}
	m.rows[r.ID] = *r
	return nil
}

func (m *memStore) Get(_ context.Context, id int64) (storage.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return storage.Reminder{}, storage.ErrNotFound
	}
	return r, nil
}

func (m *memStore) List(_ context.Context, chatID int64) ([]storage.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Reminder
	for _, r := range m.rows {
		if r.ChatID == chatID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextExecution.Before(out[j].NextExecution) })
	return out, nil
}

func (m *memStore) All(_ context.Context) ([]storage.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Reminder
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memStore) PruneStale(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.rows {
		if !r.Recurring() && r.NextExecution.Before(cutoff) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Close() error { return nil }

// fakeTimers records armed timers so tests can fire them by hand.
type fakeTimers struct {
	mu      sync.Mutex
	jobs    map[string]func(ctx context.Context) error
	ats     map[string]time.Time
	cancels []string
	failArm bool
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{jobs: map[string]func(ctx context.Context) error{}, ats: map[string]time.Time{}}
}

func (f *fakeTimers) Schedule(name string, at time.Time, job func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failArm {
		return errors.New("timer backend down")
	}
	f.jobs[name] = job
	f.ats[name] = at
	return nil
}

func (f *fakeTimers) Cancel(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, name)
	if _, ok := f.jobs[name]; !ok {
		return false
	}
	delete(f.jobs, name)
	delete(f.ats, name)
	return true
}

func (f *fakeTimers) fire(t *testing.T, name string) error {
	t.Helper()
	f.mu.Lock()
	job, ok := f.jobs[name]
	delete(f.jobs, name)
	delete(f.ats, name)
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no armed timer %q", name)
	}
	return job(context.Background())
}

func (f *fakeTimers) armedAt(name string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.ats[name]
	return at, ok
}

func (f *fakeTimers) armedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	chats   []int64
	sendErr error
}

func (f *fakeNotifier) Send(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	f.chats = append(f.chats, chatID)
	return nil
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fixture struct {
	engine   *Engine
	store    *memStore
	timers   *fakeTimers
	notifier *fakeNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		timers:   newFakeTimers(),
		notifier: &fakeNotifier{},
		now:      time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC),
	}
	f.engine = New(f.store, f.timers, f.notifier, Options{Location: time.UTC}, logx.Nop())
	f.engine.now = func() time.Time { return f.now }
	return f
}

func TestCreateArmsTimerAndPersists(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Create(ctx, 10, 20, "alice", false, "call mom in 2 hours")
	if err != nil {
		t.Fatal(err)
	}
	if r.ID == 0 {
		t.Fatal("no ID assigned")
	}
	if r.Task != "call mom" {
		t.Fatalf("Task = %q", r.Task)
	}
	want := f.now.Add(2 * time.Hour)
	if !r.NextExecution.Equal(want) {
		t.Fatalf("NextExecution = %v, want %v", r.NextExecution, want)
	}
	at, ok := f.timers.armedAt("reminder:1")
	if !ok {
		t.Fatal("timer not armed")
	}
	if !at.Equal(want) {
		t.Fatalf("armed at %v, want %v", at, want)
	}
	if _, err := f.store.Get(ctx, r.ID); err != nil {
		t.Fatalf("row not persisted: %v", err)
	}
	if r.Mention != "" {
		t.Fatalf("Mention = %q for a direct chat", r.Mention)
	}
}

func TestCreateGroupStoresMention(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r, err := f.engine.Create(context.Background(), 10, 20, "alice", true, "standup in 1 hour")
	if err != nil {
		t.Fatal(err)
	}
	if r.Mention != "@alice" {
		t.Fatalf("Mention = %q, want @alice", r.Mention)
	}
}

func TestCreateUnparsableText(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.engine.Create(context.Background(), 10, 20, "alice", false, "just some words")
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	if n := f.timers.armedCount(); n != 0 {
		t.Fatalf("%d timers armed for a failed create", n)
	}
	all, _ := f.store.All(context.Background())
	if len(all) != 0 {
		t.Fatalf("%d rows persisted for a failed create", len(all))
	}
}

func TestCreateTimerFailureKeepsRow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.timers.failArm = true

	r, err := f.engine.Create(context.Background(), 10, 20, "alice", false, "ping in 1 hour")
	if !errors.Is(err, ErrSchedule) {
		t.Fatalf("err = %v, want ErrSchedule", err)
	}
	if _, err := f.store.Get(context.Background(), r.ID); err != nil {
		t.Fatalf("row should survive an arm failure: %v", err)
	}
}

func TestFireOneTimeDeliversAndRemoves(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Create(ctx, 10, 20, "alice", false, "tea in 5 minutes")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.timers.fire(t, "reminder:1"); err != nil {
		t.Fatal(err)
	}

	msgs := f.notifier.messages()
	if len(msgs) != 1 || msgs[0] != "⏰ tea" {
		t.Fatalf("messages = %q", msgs)
	}
	if _, err := f.store.Get(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("one-time row should be removed, got %v", err)
	}
	if n := f.timers.armedCount(); n != 0 {
		t.Fatalf("one-time fire left %d timers armed", n)
	}
}

func TestFireRecurringAdvancesAndRearms(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Create(ctx, 10, 20, "alice", false, "meds every day at 8pm")
	if err != nil {
		t.Fatal(err)
	}
	first := time.Date(2025, time.March, 10, 20, 0, 0, 0, time.UTC)
	if !r.NextExecution.Equal(first) {
		t.Fatalf("initial = %v, want %v", r.NextExecution, first)
	}

	f.now = first
	if err := f.timers.fire(t, "reminder:1"); err != nil {
		t.Fatal(err)
	}

	got, err := f.store.Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	second := first.AddDate(0, 0, 1)
	if !got.NextExecution.Equal(second) {
		t.Fatalf("advanced to %v, want %v", got.NextExecution, second)
	}
	at, ok := f.timers.armedAt("reminder:1")
	if !ok {
		t.Fatal("recurring reminder not re-armed")
	}
	if !at.Equal(second) {
		t.Fatalf("re-armed at %v, want %v", at, second)
	}
}

func TestFireDeliveryFailureStillAdvances(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.sendErr = errors.New("chat gone")

	r, err := f.engine.Create(ctx, 10, 20, "alice", false, "water plants every day at 8pm")
	if err != nil {
		t.Fatal(err)
	}
	f.now = r.NextExecution
	if err := f.timers.fire(t, "reminder:1"); err != nil {
		t.Fatal(err)
	}

	got, err := f.store.Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.NextExecution.After(r.NextExecution) {
		t.Fatal("delivery failure blocked the schedule advance")
	}
}

func TestFireMentionPrefix(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.engine.Create(context.Background(), 10, 20, "bob", true, "deploy in 1 hour")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.timers.fire(t, "reminder:1"); err != nil {
		t.Fatal(err)
	}
	msgs := f.notifier.messages()
	if len(msgs) != 1 || msgs[0] != "@bob ⏰ deploy" {
		t.Fatalf("messages = %q", msgs)
	}
}

func TestEditReplacesScheduleWithoutDuplicateTimers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Create(ctx, 10, 20, "alice", false, "old task in 1 hour")
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.engine.Edit(ctx, 10, r.ID, "new task in 3 hours")
	if err != nil {
		t.Fatal(err)
	}
	if got.Task != "new task" {
		t.Fatalf("Task = %q", got.Task)
	}
	want := f.now.Add(3 * time.Hour)
	if !got.NextExecution.Equal(want) {
		t.Fatalf("NextExecution = %v, want %v", got.NextExecution, want)
	}
	if n := f.timers.armedCount(); n != 1 {
		t.Fatalf("%d timers armed after edit, want exactly 1", n)
	}
	at, _ := f.timers.armedAt("reminder:1")
	if !at.Equal(want) {
		t.Fatalf("armed at %v, want %v", at, want)
	}
}

func TestEditWrongChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Create(ctx, 10, 20, "alice", false, "secret in 1 hour")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Edit(ctx, 999, r.ID, "hijack in 1 hour"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCancelsTimer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Create(ctx, 10, 20, "alice", false, "x in 1 hour")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Delete(ctx, 10, r.ID); err != nil {
		t.Fatal(err)
	}
	if n := f.timers.armedCount(); n != 0 {
		t.Fatalf("%d timers still armed after delete", n)
	}
	if err := f.engine.Delete(ctx, 10, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, text := range []string{"a in 1 hour", "b in 2 hours", "c in 3 hours"} {
		if _, err := f.engine.Create(ctx, 10, 20, "alice", false, text); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.engine.Create(ctx, 11, 21, "bob", false, "other chat in 1 hour"); err != nil {
		t.Fatal(err)
	}

	n, err := f.engine.DeleteAll(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("deleted %d, want 3", n)
	}
	if got := f.timers.armedCount(); got != 1 {
		t.Fatalf("%d timers armed, want 1 (the other chat's)", got)
	}
	left, _ := f.engine.List(ctx, 11)
	if len(left) != 1 {
		t.Fatalf("other chat lost its reminder")
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	seed := []storage.Reminder{
		{Task: "future one-time", NextExecution: f.now.Add(time.Hour), ChatID: 1, UserID: 1},
		{Task: "overdue one-time", NextExecution: f.now.Add(-time.Hour), ChatID: 1, UserID: 1},
		{Task: "overdue daily", Frequency: schedule.FreqDaily, NextExecution: f.now.Add(-2 * time.Hour), ChatID: 1, UserID: 1},
	}
	for i := range seed {
		if err := f.store.Save(ctx, &seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.engine.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	if n := f.timers.armedCount(); n != 2 {
		t.Fatalf("%d timers armed, want 2", n)
	}
	if _, ok := f.timers.armedAt(jobName(seed[1].ID)); ok {
		t.Fatal("overdue one-time reminder was armed")
	}

	daily, err := f.store.Get(ctx, seed[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	want := f.now.Add(24 * time.Hour) // one full period from recovery time
	if !daily.NextExecution.Equal(want) {
		t.Fatalf("overdue daily advanced to %v, want %v", daily.NextExecution, want)
	}
	if _, err := f.store.Get(ctx, seed[1].ID); err != nil {
		t.Fatal("overdue one-time row should stay until pruned")
	}
}
