// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentclient talks to the supported torrent client backends through one
// uniform Strategy and hides their differences behind a Manager.
package torrentclient

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/autobrr/abbot/internal/domain"
)

const (
	BackendQbittorrent  = "qbittorrent"
	BackendTransmission = "transmission"
	BackendDeluge       = "deluge"
)

const DefaultTimeout = 30 * time.Second

var (
	ErrClientUnavailable  = errors.New("torrent client unavailable")
	ErrNotConnected       = errors.New("torrent client not connected")
	ErrClosed             = errors.New("torrent client closed")
	ErrRejected           = errors.New("torrent client rejected the request")
	ErrUnsupportedBackend = errors.New("unsupported torrent client")
)

// ProtocolError reports a response whose shape the strategy did not expect, such as a
// null result where an object was promised.
type ProtocolError struct {
	Backend string
	Op      string
	Detail  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s %s: unexpected response: %s", e.Backend, e.Op, e.Detail)
}

// Strategy is one backend. Instances are not safe for concurrent use.
type Strategy interface {
	Name() string
	Connect(ctx context.Context) error
	AddMagnet(ctx context.Context, req domain.AddRequest) error
	// ListByLabel returns the torrents carrying label. A backend that cannot filter by
	// label returns every torrent.
	ListByLabel(ctx context.Context, label string) ([]domain.TorrentRecord, error)
	Remove(ctx context.Context, id string, purge bool) error
	// NormalizeProgress converts the backend's native progress value to percent.
	NormalizeProgress(raw float64) float64
	State() State
	Close() error
}

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// lifecycle holds the Disconnected -> Connected -> Closed state shared by all strategies.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) set(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return
	}
	l.state = s
}

func (l *lifecycle) ready() error {
	switch l.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
}

func (l *lifecycle) canConnect() error {
	if l.State() == StateClosed {
		return ErrClosed
	}
	return nil
}

// Config is the connection data for one backend.
type Config struct {
	Backend  string
	URL      string
	Username string
	Password string
	Timeout  time.Duration
	Category string
}

// DefaultPort returns the web UI port each backend listens on out of the box.
func DefaultPort(backend string) int {
	switch backend {
	case BackendTransmission:
		return 9091
	case BackendDeluge:
		return 8112
	default:
		return 8080
	}
}

// ConfigFromDomain builds a Config. clientUrl wins over host, port and scheme.
func ConfigFromDomain(c *domain.Config) (Config, error) {
	backend := strings.ToLower(strings.TrimSpace(c.ClientType))
	switch backend {
	case BackendQbittorrent, BackendTransmission, BackendDeluge:
	case "delugeweb":
		backend = BackendDeluge
	default:
		return Config{}, errors.Wrapf(ErrUnsupportedBackend, "%q", c.ClientType)
	}

	base := strings.TrimSpace(c.ClientURL)
	if base == "" {
		host := c.ClientHost
		if host == "" {
			host = "localhost"
		}
		port := c.ClientPort
		if port <= 0 {
			port = DefaultPort(backend)
		}
		scheme := c.ClientScheme
		if scheme == "" {
			scheme = "http"
		}
		base = fmt.Sprintf("%s://%s:%d", scheme, host, port)
	}

	u, err := url.Parse(base)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Config{}, errors.Errorf("invalid torrent client url %q", base)
	}

	timeout := time.Duration(c.ClientTimeout) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return Config{
		Backend:  backend,
		URL:      strings.TrimRight(base, "/"),
		Username: c.ClientUsername,
		Password: c.ClientPassword,
		Timeout:  timeout,
		Category: c.Category,
	}, nil
}

// NewStrategy returns an unconnected strategy for cfg.Backend.
func NewStrategy(cfg Config) (Strategy, error) {
	switch cfg.Backend {
	case BackendQbittorrent:
		return newQbittorrent(cfg), nil
	case BackendTransmission:
		return newTransmission(cfg), nil
	case BackendDeluge:
		return newDeluge(cfg), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedBackend, "%q", cfg.Backend)
	}
}

// clampProgress rounds to two decimals and keeps the value inside [0,100].
func clampProgress(pct float64) float64 {
	if math.IsNaN(pct) || pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return math.Round(pct*100) / 100
}

func formatSize(bytes int64) string {
	if bytes < 0 {
		return domain.Unknown
	}
	return humanize.IBytes(uint64(bytes))
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return domain.Unknown
	}
	return s
}
