// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package governor bounds every outbound request to the listing site.
//
// A single Governor is shared by the mirror prober and both page fetchers. Callers
// acquire a permit before issuing a request and release it afterwards. Every caller
// waits a random politeness delay while holding its permit.
package governor

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/autobrr/abbot/internal/metrics"
)

type Kind string

const (
	KindListing Kind = "listing"
	KindDetail  Kind = "detail"
	KindProbe   Kind = "probe"
)

const (
	DefaultConcurrency = 3
	DefaultJitterMin   = 500 * time.Millisecond
	DefaultJitterMax   = 1500 * time.Millisecond
)

type Option func(*Governor)

// WithJitter overrides the politeness window. Tests use zero values.
func WithJitter(lo, hi time.Duration) Option {
	return func(g *Governor) {
		if hi < lo {
			hi = lo
		}
		g.jitterMin, g.jitterMax = lo, hi
	}
}

// WithRateLimit layers a requests-per-second ceiling under the permit gate. Zero disables it.
func WithRateLimit(perSecond float64) Option {
	return func(g *Governor) {
		if perSecond > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Governor) {
		g.metrics = m
	}
}

type Governor struct {
	sem     *semaphore.Weighted
	size    int64
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     zerolog.Logger

	jitterMin time.Duration
	jitterMax time.Duration

	mu       sync.Mutex
	acquired map[Kind]int64
	released map[Kind]int64
}

func New(concurrency int, opts ...Option) *Governor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	g := &Governor{
		sem:       semaphore.NewWeighted(int64(concurrency)),
		size:      int64(concurrency),
		jitterMin: DefaultJitterMin,
		jitterMax: DefaultJitterMax,
		log:       log.With().Str("module", "governor").Logger(),
		acquired:  make(map[Kind]int64),
		released:  make(map[Kind]int64),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Acquire blocks until a permit is free, waits out the jitter delay while holding it and
// then applies the rate ceiling. The permit is given back if ctx ends during any wait.
// The returned release func is idempotent and must be called on every path once
// Acquire succeeds.
func (g *Governor) Acquire(ctx context.Context, kind Kind) (func(), error) {
	start := time.Now()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.sem.Release(1)
			g.record(kind, false)
			g.metrics.PermitReleased()
		})
	}

	g.record(kind, true)
	g.metrics.PermitAcquired(string(kind))

	if err := sleep(ctx, g.jitter()); err != nil {
		release()
		return nil, err
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}

	waited := time.Since(start)
	g.metrics.ObservePermitWait(waited)
	g.log.Trace().Str("kind", string(kind)).Dur("waited", waited).Msg("permit granted")

	return release, nil
}

// Do runs fn while holding a permit.
func (g *Governor) Do(ctx context.Context, kind Kind, fn func(ctx context.Context) error) error {
	release, err := g.Acquire(ctx, kind)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

func (g *Governor) jitter() time.Duration {
	if g.jitterMax <= 0 {
		return 0
	}
	span := g.jitterMax - g.jitterMin
	if span <= 0 {
		return g.jitterMin
	}
	return g.jitterMin + rand.N(span+1)
}

func (g *Governor) record(kind Kind, acquired bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if acquired {
		g.acquired[kind]++
	} else {
		g.released[kind]++
	}
}

type Stats struct {
	Size     int64
	Acquired map[Kind]int64
	Released map[Kind]int64
}

// InFlight returns the number of permits currently held across all kinds.
func (s Stats) InFlight() int64 {
	var n int64
	for k, v := range s.Acquired {
		n += v - s.Released[k]
	}
	return n
}

func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Stats{
		Size:     g.size,
		Acquired: make(map[Kind]int64, len(g.acquired)),
		Released: make(map[Kind]int64, len(g.released)),
	}
	for k, v := range g.acquired {
		s.Acquired[k] = v
	}
	for k, v := range g.released {
		s.Released[k] = v
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
