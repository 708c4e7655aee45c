// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/abbot/internal/governor"
	"github.com/autobrr/abbot/internal/metrics"
)

const DefaultProbeTimeout = 5 * time.Second

type Outcome string

const (
	OutcomeReachable   Outcome = "reachable"
	OutcomeUnreachable Outcome = "unreachable"
	OutcomeError       Outcome = "error"
)

func (o Outcome) Reachable() bool {
	return o == OutcomeReachable
}

// MirrorProbeResult is what the resolver remembers about one host.
type MirrorProbeResult struct {
	Hostname  string    `json:"hostname"`
	Outcome   Outcome   `json:"outcome"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Prober checks whether one candidate answers. It never returns an error; failures are outcomes.
type Prober interface {
	Probe(ctx context.Context, c Candidate) Outcome
}

type HTTPProber struct {
	client  *http.Client
	gov     *governor.Governor
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewHTTPProber returns a fail-fast prober. The client has no retry layer and follows redirects.
func NewHTTPProber(gov *governor.Governor, m *metrics.Metrics, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{
		client:  &http.Client{Timeout: timeout},
		gov:     gov,
		metrics: m,
		log:     log.With().Str("module", "prober").Logger(),
	}
}

func (p *HTTPProber) Probe(ctx context.Context, c Candidate) Outcome {
	release, err := p.gov.Acquire(ctx, governor.KindProbe)
	if err != nil {
		p.log.Debug().Err(err).Str("host", c.Hostname).Msg("probe abandoned waiting for permit")
		return OutcomeError
	}
	defer release()

	url := c.BaseURL() + "/"

	status, err := p.do(ctx, http.MethodHead, url)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusForbidden) {
		p.log.Debug().Str("host", c.Hostname).Int("status", status).Msg("HEAD rejected, retrying with GET")
		status, err = p.do(ctx, http.MethodGet, url)
	}

	outcome := OutcomeUnreachable
	switch {
	case err != nil:
		outcome = OutcomeError
		p.log.Debug().Err(err).Str("host", c.Hostname).Msg("probe failed")
	case status >= 200 && status < 400:
		outcome = OutcomeReachable
	default:
		p.log.Debug().Str("host", c.Hostname).Int("status", status).Msg("probe returned unusable status")
	}

	p.metrics.Probe(outcome.Reachable())
	return outcome
}

func (p *HTTPProber) do(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	SetBrowserHeaders(req.Header, "")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	return resp.StatusCode, nil
}
