// Package notify delivers reminder messages through the chat transport.
//
// Delivery is asynchronous: Send enqueues, a small worker pool drains the
// queue behind a token-bucket rate limit and retries transient failures with
// exponential backoff. The service also accepts forwarded log lines so the
// logging layer can mirror warnings into an operator chat without knowing
// anything about Telegram.
package notify

import (
	"errors"
	"time"
)

var (
	ErrQueueFull = errors.New("notify queue full")
	ErrStopped   = errors.New("notify service stopped")
)

// Config controls the delivery pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// LogChatID receives forwarded log lines. Zero disables forwarding.
	LogChatID int64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

type job struct {
	chatID int64
	text   string
}
