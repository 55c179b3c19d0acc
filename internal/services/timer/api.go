package timer

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "remindbot/pkg/logx"
)

// Schedule arms a one-shot timer that runs job at the given instant. A timer
// with the same name is replaced; the version stamp makes sure a replaced
// timer's callback that already left time.AfterFunc is discarded instead of
// firing twice.
//
// An instant in the past fires after minDelay rather than erroring; the
// caller decided the instant, not us.
func (s *Service) Schedule(name string, at time.Time, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("timer name required")
	}
	if at.IsZero() {
		return errors.New("timer instant required")
	}
	if job == nil {
		return errors.New("timer job required")
	}

	delay := time.Until(at)
	if delay < minDelay {
		delay = minDelay
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()

	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
	}
	ver := s.vers[name] + 1
	s.vers[name] = ver

	s.timers[name] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		if s.vers[name] != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, name)
		s.tmu.Unlock()
		s.enqueue(task{name: name, run: job})
	})

	s.log.Debug("timer armed",
		logx.String("name", name),
		logx.Time("at", at),
		logx.Duration("delay", delay))
	return nil
}

// Cancel stops the named timer. It reports whether a pending timer existed.
func (s *Service) Cancel(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()

	t, ok := s.timers[name]
	if !ok {
		return false
	}
	_ = t.Stop()
	delete(s.timers, name)
	// The version stays and keeps counting up. Resetting it would let a
	// stale AfterFunc callback match a later timer of the same name.
	s.vers[name]++
	s.log.Debug("timer cancelled", logx.String("name", name))
	return true
}

// Pending reports whether a one-shot timer with the given name is armed.
func (s *Service) Pending(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// AddCron registers a recurring maintenance job. Jobs registered before
// Start are kept and armed when the cron runner comes up.
func (s *Service) AddCron(name, spec string, job func(ctx context.Context) error) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("cron name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.defs = append(s.defs, cronDef{name: name, spec: spec, job: job})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.registerCronLocked(d); err != nil {
		s.defs = s.defs[:len(s.defs)-1]
		return err
	}
	return nil
}

func (s *Service) registerCronLocked(d *cronDef) error {
	id, err := s.c.AddFunc(d.spec, func() {
		s.enqueue(task{name: d.name, run: d.job})
	})
	if err != nil {
		s.log.Error("cron register failed",
			logx.String("name", d.name),
			logx.String("spec", d.spec),
			logx.Err(err))
		return err
	}
	d.entryID = id
	s.log.Debug("cron registered", logx.String("name", d.name), logx.String("spec", d.spec))
	return nil
}
