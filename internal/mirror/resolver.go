// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/abbot/internal/metrics"
)

const DefaultBackoff = 30 * time.Second

// DefaultResolveTimeout bounds one shared walk over every candidate.
const DefaultResolveTimeout = 2 * time.Minute

// allFailedKey holds the negative entry for a resolution where every candidate failed.
// It can never collide with a hostname.
const allFailedKey = "*"

var ErrUnavailable = errors.New("no reachable mirror")

type ResolverOptions struct {
	// Backoff is how long a failed host, or a whole failed resolution, is skipped.
	Backoff time.Duration
	// PositiveTTL caches reachable hosts. Zero re-probes on every resolution.
	PositiveTTL time.Duration
	// Timeout bounds a whole resolution. It runs detached from the caller that started it.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// probeCache owns both TTL stores and the mutex guarding compound check-and-write.
type probeCache struct {
	mu       sync.Mutex
	negative *ttlcache.Cache[string, MirrorProbeResult]
	positive *ttlcache.Cache[string, MirrorProbeResult]
	last     map[string]MirrorProbeResult
}

func newProbeCache(backoff, positiveTTL time.Duration) *probeCache {
	c := &probeCache{
		negative: ttlcache.New(ttlcache.Options[string, MirrorProbeResult]{}.SetDefaultTTL(backoff)),
		last:     make(map[string]MirrorProbeResult),
	}
	if positiveTTL > 0 {
		c.positive = ttlcache.New(ttlcache.Options[string, MirrorProbeResult]{}.SetDefaultTTL(positiveTTL))
	}
	return c
}

// lookupLocked reports a fresh negative entry first so a host in backoff is never handed out.
func (c *probeCache) lookupLocked(host string) (negative, positive bool) {
	if _, ok := c.negative.Get(host); ok {
		return true, false
	}
	if c.positive != nil {
		if _, ok := c.positive.Get(host); ok {
			return false, true
		}
	}
	return false, false
}

func (c *probeCache) storeLocked(res MirrorProbeResult) {
	if res.Hostname != allFailedKey {
		c.last[res.Hostname] = res
	}
	if res.Outcome.Reachable() {
		if c.positive != nil {
			c.positive.Set(res.Hostname, res, ttlcache.DefaultTTL)
		}
		return
	}
	c.negative.Set(res.Hostname, res, ttlcache.DefaultTTL)
}

type Resolver struct {
	registry *Registry
	prober   Prober
	cache    *probeCache
	group    singleflight.Group
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewResolver(registry *Registry, prober Prober, opts ResolverOptions) *Resolver {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultResolveTimeout
	}
	return &Resolver{
		registry: registry,
		prober:   prober,
		cache:    newProbeCache(opts.Backoff, opts.PositiveTTL),
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
		log:      log.With().Str("module", "mirror").Logger(),
	}
}

func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve returns the first reachable candidate in priority order. Concurrent callers
// share one resolution. Hosts in backoff are skipped without a network call, and once
// every host has failed further calls return ErrUnavailable until the backoff lapses.
//
// The shared walk is detached from ctx, so a caller that gives up only stops waiting;
// the walk goes on for the others and still fills the cache.
func (r *Resolver) Resolve(ctx context.Context) (Candidate, error) {
	ch := r.group.DoChan("resolve", func() (any, error) {
		walkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(walkCtx)
	})

	select {
	case <-ctx.Done():
		return Candidate{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Candidate{}, res.Err
		}
		return res.Val.(Candidate), nil
	}
}

func (r *Resolver) resolve(ctx context.Context) (Candidate, error) {
	r.cache.mu.Lock()
	allFailed, _ := r.cache.lookupLocked(allFailedKey)
	r.cache.mu.Unlock()
	if allFailed {
		r.metrics.Resolution("negative")
		return Candidate{}, ErrUnavailable
	}

	for _, c := range r.registry.Candidates() {
		r.cache.mu.Lock()
		negative, positive := r.cache.lookupLocked(c.Hostname)
		r.cache.mu.Unlock()

		if negative {
			r.log.Trace().Str("host", c.Hostname).Msg("skipping mirror in backoff")
			continue
		}
		if positive {
			r.metrics.Resolution("cached")
			return c, nil
		}

		outcome := r.prober.Probe(ctx, c)
		if err := ctx.Err(); err != nil {
			// an aborted probe says nothing about the host
			r.log.Warn().Err(err).Str("host", c.Hostname).Msg("resolution abandoned")
			r.metrics.Resolution("aborted")
			return Candidate{}, err
		}
		res := MirrorProbeResult{Hostname: c.Hostname, Outcome: outcome, CheckedAt: time.Now()}

		r.cache.mu.Lock()
		r.cache.storeLocked(res)
		r.cache.mu.Unlock()

		if outcome.Reachable() {
			r.log.Debug().Str("host", c.Hostname).Msg("mirror reachable")
			r.metrics.Resolution("probed")
			return c, nil
		}
	}

	r.cache.mu.Lock()
	r.cache.storeLocked(MirrorProbeResult{Hostname: allFailedKey, Outcome: OutcomeUnreachable, CheckedAt: time.Now()})
	r.cache.mu.Unlock()

	r.log.Warn().Int("candidates", r.registry.Len()).Msg("no reachable mirror, backing off")
	r.metrics.Resolution("failed")
	return Candidate{}, ErrUnavailable
}

// Invalidate puts a host into backoff after a fetch through it failed.
func (r *Resolver) Invalidate(hostname string) {
	host := NormalizeHostname(hostname)

	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()

	if negative, _ := r.cache.lookupLocked(host); negative {
		return
	}
	r.cache.storeLocked(MirrorProbeResult{Hostname: host, Outcome: OutcomeUnreachable, CheckedAt: time.Now()})
	r.log.Info().Str("host", host).Msg("mirror marked unreachable")
}

// Status returns the latest known result per probed host, ordered by hostname.
func (r *Resolver) Status() []MirrorProbeResult {
	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()

	out := make([]MirrorProbeResult, 0, len(r.cache.last))
	for _, res := range r.cache.last {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}
