package timer

import (
	"context"
	"runtime/debug"
	"time"

	logx "remindbot/pkg/logx"
)

func (s *Service) enqueue(t task) {
	select {
	case s.queue <- t:
	default:
		s.log.Warn("timer queue full, dropping callback",
			logx.String("name", t.name),
			logx.Int("queue_cap", cap(s.queue)))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, idx int) {
	defer s.workerWG.Done()
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-s.queue:
			s.execOne(ctx, t, idx)
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task, idx int) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in timer callback",
				logx.String("name", t.name),
				logx.Int("worker", idx),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	runCtx := ctx
	if s.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.DefaultTimeout)
		defer cancel()
	}

	if err := t.run(runCtx); err != nil {
		s.log.Warn("timer callback failed",
			logx.String("name", t.name),
			logx.Duration("dur", time.Since(start)),
			logx.Err(err))
		return
	}
	s.log.Debug("timer callback done",
		logx.String("name", t.name),
		logx.Duration("dur", time.Since(start)))
}
