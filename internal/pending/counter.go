// Package pending tracks the number of unclaimed conversations and chimes
// when it grows.
package pending

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentworkforce/supportdesk/internal/transport"
)

type CountFetcher interface {
	PendingCount(ctx context.Context) (int, error)
}

// Chimer plays the audio cue.
type Chimer interface {
	Chime(ctx context.Context)
}

type Counter struct {
	api    CountFetcher
	chimer Chimer
	logger *slog.Logger

	mu       sync.Mutex
	count    int
	observed bool
	// issued numbers fetches in start order; applied is the newest one
	// recorded. A fetch that started before the applied one is stale.
	issued   uint64
	applied  uint64
	onChange func(int)
}

type Options struct {
	Chimer   Chimer
	OnChange func(count int)
	Logger   *slog.Logger
}

func NewCounter(api CountFetcher, opts Options) *Counter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{api: api, chimer: opts.Chimer, logger: logger, onChange: opts.OnChange}
}

// Refresh fetches the count now. Used by the poll and after claim or close.
// A result overtaken by a fetch that started later is dropped.
func (c *Counter) Refresh(ctx context.Context) (int, error) {
	seq := c.nextSeq()
	n, err := c.api.PendingCount(ctx)
	if err != nil {
		return c.Count(), fmt.Errorf("pending count: %w", err)
	}
	c.observe(ctx, n, seq)
	return n, nil
}

// Observe records a count and reports whether it chimed. The first
// observation of a session never chimes.
func (c *Counter) Observe(ctx context.Context, n int) bool {
	return c.observe(ctx, n, c.nextSeq())
}

func (c *Counter) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
	return c.issued
}

func (c *Counter) observe(ctx context.Context, n int, seq uint64) bool {
	if n < 0 {
		n = 0
	}
	c.mu.Lock()
	if seq < c.applied {
		c.mu.Unlock()
		return false
	}
	c.applied = seq
	prev, seen := c.count, c.observed
	c.count = n
	c.observed = true
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil && (!seen || prev != n) {
		onChange(n)
	}
	if !seen || n <= prev {
		return false
	}
	if c.chimer != nil {
		c.chimer.Chime(ctx)
	}
	return true
}

// Observed reports whether any count has been recorded this session.
func (c *Counter) Observed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed
}

func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Run polls until ctx is done. Errors are logged; the next tick retries.
func (c *Counter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = transport.DefaultPendingInterval
	}
	transport.Every(ctx, interval, func(ctx context.Context) {
		if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("pending count poll failed", slog.Any("error", err))
		}
	})
}
