package timer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// Config controls the timer service.
type Config struct {
	Workers        int
	DefaultTimeout time.Duration // per-callback timeout; 0 means none
	Timezone       string        // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
}

// minDelay keeps an already-due timer off the hot path of time.AfterFunc(0)
// racing its own registration.
const minDelay = 10 * time.Millisecond

type task struct {
	name string
	run  func(ctx context.Context) error
}

type cronDef struct {
	name    string
	spec    string
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

// Service owns the timers, the cron runner and the worker pool.
type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	loc  *time.Location
	c    *cron.Cron
	defs []cronDef

	queue    chan task
	stopCh   chan struct{}
	started  bool
	workerWG sync.WaitGroup

	// one-shot timers, keyed by name
	tmu    sync.Mutex
	timers map[string]*time.Timer
	vers   map[string]uint64
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log: log,
		cfg: cfg,
		// The queue exists from construction so timers scheduled before
		// Start() buffer instead of dropping.
		queue:  make(chan task, 256),
		timers: map[string]*time.Timer{},
		vers:   map[string]uint64{},
	}
	s.loc = loadLocation(cfg.Timezone, log)
	return s
}

// Location is the zone all user-facing instants are computed in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}

	s.c = cron.New(cron.WithLocation(s.loc))
	for i := range s.defs {
		s.registerCronLocked(&s.defs[i])
	}
	s.c.Start()

	stopCh := s.stopCh
	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker(ctx, stopCh, i)
	}
	s.log.Info("timer service started",
		logx.Int("workers", workers),
		logx.String("tz", s.loc.String()),
		logx.Int("cron_jobs", len(s.defs)))
}

// Stop cancels every pending timer, stops the cron runner and waits for the
// workers to drain, up to ctx's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stopCh := s.stopCh
	s.stopCh = nil
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.vers = map[string]uint64{}
	s.tmu.Unlock()

	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("timer service stopped")
	case <-ctx.Done():
		s.log.Warn("timer service stop timed out", logx.Err(ctx.Err()))
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
