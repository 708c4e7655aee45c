// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentclient

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/abbot/internal/domain"
	"github.com/autobrr/abbot/internal/metrics"
)

// Factory builds an unconnected strategy.
type Factory func(Config) (Strategy, error)

type ManagerOption func(*Manager)

func WithFactory(f Factory) ManagerOption {
	return func(m *Manager) {
		m.factory = f
	}
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// Manager owns the strategies for the configured backend. Every operation checks out a
// strategy of its own. At most one idle connected strategy is kept for reuse.
type Manager struct {
	cfg     Config
	factory Factory
	metrics *metrics.Metrics

	mu     sync.Mutex
	idle   Strategy
	closed bool

	log zerolog.Logger
}

func NewManager(cfg Config, opts ...ManagerOption) (*Manager, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	m := &Manager{
		cfg:     cfg,
		factory: NewStrategy,
		log:     log.With().Str("module", "torrentclient").Str("backend", cfg.Backend).Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	// reject an unknown backend up front
	probe, err := m.factory(cfg)
	if err != nil {
		return nil, err
	}
	_ = probe.Close()

	return m, nil
}

func (m *Manager) Backend() string {
	return m.cfg.Backend
}

func (m *Manager) Category() string {
	return m.cfg.Category
}

// VerifyCredentials connects once. Failure is logged, never fatal.
func (m *Manager) VerifyCredentials(ctx context.Context) bool {
	s, err := m.checkout(ctx)
	if err != nil {
		m.log.Warn().Err(err).Str("url", m.cfg.URL).Msg("could not connect to torrent client")
		return false
	}
	m.checkin(s)
	m.log.Info().Str("url", m.cfg.URL).Msg("connected to torrent client")
	return true
}

func (m *Manager) AddMagnet(ctx context.Context, req domain.AddRequest) error {
	if req.Label == "" {
		req.Label = m.cfg.Category
	}
	return m.run(ctx, "add", func(ctx context.Context, s Strategy) error {
		m.log.Info().Str("savePath", req.SavePath).Str("label", req.Label).Msg("adding torrent")
		return s.AddMagnet(ctx, req)
	})
}

// List returns the torrents carrying the configured category.
func (m *Manager) List(ctx context.Context) ([]domain.TorrentRecord, error) {
	return m.ListByLabel(ctx, m.cfg.Category)
}

func (m *Manager) ListByLabel(ctx context.Context, label string) ([]domain.TorrentRecord, error) {
	var records []domain.TorrentRecord
	err := m.run(ctx, "list", func(ctx context.Context, s Strategy) error {
		var err error
		records, err = s.ListByLabel(ctx, label)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (m *Manager) Remove(ctx context.Context, id string, purge bool) error {
	return m.run(ctx, "remove", func(ctx context.Context, s Strategy) error {
		m.log.Info().Str("id", id).Bool("purge", purge).Msg("removing torrent")
		return s.Remove(ctx, id, purge)
	})
}

// Close drops the idle strategy. Strategies checked out at the time are closed on return.
func (m *Manager) Close() error {
	m.mu.Lock()
	idle := m.idle
	m.idle = nil
	m.closed = true
	m.mu.Unlock()

	if idle != nil {
		return idle.Close()
	}
	return nil
}

// run executes fn with a checked-out strategy. A failure closes that strategy and the
// operation is tried once more on a fresh connection, unless the backend answered and
// refused or the context ended.
func (m *Manager) run(ctx context.Context, op string, fn func(context.Context, Strategy) error) error {
	err := retry.Do(
		func() error {
			s, err := m.checkout(ctx)
			if err != nil {
				return err
			}

			opCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			err = fn(opCtx, s)
			cancel()

			if err != nil {
				_ = s.Close()
				return err
			}
			m.checkin(s)
			return nil
		},
		retry.Attempts(2),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			m.log.Warn().Err(err).Str("op", op).Uint("attempt", n+1).Msg("torrent client operation failed")
		}),
	)

	m.metrics.ClientOp(m.cfg.Backend, op, err)
	return err
}

func retryable(err error) bool {
	var pe *ProtocolError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrRejected), errors.As(err, &pe):
		return false
	case errors.Is(err, ErrUnsupportedBackend), errors.Is(err, ErrClosed):
		return false
	}
	return true
}

func (m *Manager) checkout(ctx context.Context) (Strategy, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if s := m.idle; s != nil {
		m.idle = nil
		m.mu.Unlock()
		if s.State() == StateConnected {
			return s, nil
		}
		_ = s.Close()
	} else {
		m.mu.Unlock()
	}

	s, err := m.factory(m.cfg)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	if err := s.Connect(connCtx); err != nil {
		_ = s.Close()
		if !errors.Is(err, ErrClientUnavailable) {
			err = errors.Wrap(ErrClientUnavailable, err.Error())
		}
		return nil, err
	}

	m.log.Debug().Msg("opened torrent client session")
	return s, nil
}

func (m *Manager) checkin(s Strategy) {
	m.mu.Lock()
	if m.idle == nil && !m.closed {
		m.idle = s
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	_ = s.Close()
}
