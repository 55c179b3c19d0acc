package notify

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Service is the async delivery pipeline. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter transport.Adapter

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan job
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
	// sendWG counts in-flight enqueues; Stop waits on it before closing
	// the queue so Send can never hit a closed channel.
	sendWG sync.WaitGroup
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg.withDefaults())
	return s
}

// Apply updates the tunables. Queue size takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg.withDefaults())
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg
	// burst = rate so short spikes don't stall the workers
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	// Workers outlive ctx on purpose: shutdown drains the queue first and
	// only runCancel (Stop's deadline path) aborts deliveries early.
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	workers := s.cfg.Workers
	for i := 0; i < workers; i++ {
		idx := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notify worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
	s.log.Info("notify service started", logx.Int("workers", workers))
}

// Stop blocks intake, then drains the queue best-effort until ctx's
// deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.runCancel = nil
	s.mu.Unlock()

	// Sends that passed the accepting check are registered on sendWG;
	// everything after this point sees accepting == false.
	s.sendWG.Wait()
	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("notify service stopped")
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		s.log.Warn("notify service stop timed out, dropping queued messages")
	}
}

// Send enqueues one message for delivery. It returns ErrQueueFull when the
// pipeline is saturated and ErrStopped after Stop.
func (s *Service) Send(chatID int64, text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	if s.queue == nil || !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{chatID: chatID, text: text}:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueLog forwards one rendered log line to the operator chat. Drops
// silently when forwarding is unconfigured or the queue is full; logging
// must never block or recurse.
func (s *Service) EnqueueLog(text string) {
	s.mu.Lock()
	chatID := s.cfg.LogChatID
	s.mu.Unlock()
	if chatID == 0 {
		return
	}
	_ = s.Send(chatID, text)
}

func (s *Service) workerLoop() {
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()
	if q == nil {
		return
	}

	for j := range q {
		select {
		case <-runCtx.Done():
			return
		default:
		}
		s.sendWithRetry(runCtx, j)
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.adapter.SendText(callCtx, transport.ChatTarget{ChatID: j.chatID}, j.text, nil)
		cancel()
		if err == nil {
			if attempt > 1 {
				s.log.Debug("message delivered after retry",
					logx.Int64("chat_id", j.chatID),
					logx.Int("attempt", attempt))
			}
			return
		}
		lastErr = err
		if attempt >= maxAttempts {
			break
		}

		delay := backoff(cfg, attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}
	s.log.Warn("message delivery failed",
		logx.Int64("chat_id", j.chatID),
		logx.Int("attempts", maxAttempts),
		logx.Err(lastErr))
}

func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
