// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/autobrr/abbot/internal/governor"
	"github.com/autobrr/abbot/internal/metrics"
	"github.com/autobrr/abbot/internal/mirror"
)

const DefaultTimeout = 15 * time.Second

// pageFetcher issues one governed GET per call through a fresh collector. The collector's
// AllowedDomains list is the mirror registry, so a link that slipped past validation is
// still refused before any connection is made.
type pageFetcher struct {
	gov       *governor.Governor
	registry  *mirror.Registry
	timeout   time.Duration
	transport http.RoundTripper
	metrics   *metrics.Metrics
}

type page struct {
	URL    string
	Status int
	Body   []byte
}

func (f *pageFetcher) fetch(ctx context.Context, kind governor.Kind, target, referer string) (*page, error) {
	release, err := f.gov.Acquire(ctx, kind)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer release()

	c := colly.NewCollector(
		colly.AllowedDomains(f.registry.Hosts()...),
		colly.UserAgent(mirror.RandomUserAgent()),
	)
	c.SetRequestTimeout(f.timeout)
	c.WithTransport(&contextTransport{ctx: ctx, base: f.transport})

	c.OnRequest(func(r *colly.Request) {
		mirror.SetBrowserHeaders(*r.Headers, referer)
	})

	var result *page
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		result = &page{URL: r.Request.URL.String(), Status: r.StatusCode, Body: r.Body}
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &FetchError{URL: target, Status: status, Err: err}
	})

	if err := c.Visit(target); err != nil && fetchErr == nil {
		if errors.Is(err, colly.ErrForbiddenDomain) {
			return nil, &SSRFError{Link: target, Reason: "host is not a listing mirror"}
		}
		fetchErr = &FetchError{URL: target, Err: err}
	}
	c.Wait()

	if fetchErr == nil && result == nil {
		fetchErr = &FetchError{URL: target, Err: ctx.Err()}
	}

	if fetchErr != nil {
		status := "error"
		if fe, ok := fetchErr.(*FetchError); ok && fe.Status != 0 {
			status = strconv.Itoa(fe.Status)
		}
		f.metrics.PageFetch(string(kind), status)
		return nil, fetchErr
	}

	f.metrics.PageFetch(string(kind), strconv.Itoa(result.Status))
	return result, nil
}

// contextTransport binds outbound requests to the caller's context so a cancelled
// search stops waiting on the network.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req.WithContext(t.ctx))
}
