// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scraper fetches search and detail pages from the listing site through the
// current mirror and turns them into domain records.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"

	"github.com/autobrr/abbot/internal/domain"
	"github.com/autobrr/abbot/internal/governor"
	"github.com/autobrr/abbot/internal/metrics"
	"github.com/autobrr/abbot/internal/mirror"
)

const DefaultPageLimit = 3

type Options struct {
	PageLimit int
	Timeout   time.Duration
	Metrics   *metrics.Metrics
	// Transport replaces the HTTP transport used for page fetches. Nil uses the default.
	Transport http.RoundTripper
}

type Scraper struct {
	resolver  *mirror.Resolver
	fetcher   *pageFetcher
	pageLimit int
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func New(resolver *mirror.Resolver, gov *governor.Governor, opts Options) *Scraper {
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultPageLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Scraper{
		resolver: resolver,
		fetcher: &pageFetcher{
			gov:       gov,
			registry:  resolver.Registry(),
			timeout:   opts.Timeout,
			transport: opts.Transport,
			metrics:   opts.Metrics,
		},
		pageLimit: opts.PageLimit,
		metrics:   opts.Metrics,
		log:       log.With().Str("module", "scraper").Logger(),
	}
}

func (s *Scraper) PageLimit() int {
	return s.pageLimit
}

// NormalizeQuery case-folds the query and collapses whitespace.
func NormalizeQuery(q string) (string, error) {
	q = strings.Join(strings.Fields(cases.Fold().String(q)), " ")
	if utf8.RuneCountInString(q) < 2 {
		return "", ErrQueryTooShort
	}
	return q, nil
}

// SearchURL builds the listing URL for one result page.
func SearchURL(c mirror.Candidate, query string, page int) string {
	return fmt.Sprintf("%s/page/%d/?s=%s", c.BaseURL(), page, url.QueryEscape(query))
}

// Search collects Stream into a slice. Results from pages fetched before a failure are
// returned without error; the error is only reported when nothing was found.
func (s *Scraper) Search(ctx context.Context, query string, pageLimit int) ([]domain.BookSummary, error) {
	results := make([]domain.BookSummary, 0)
	for book, err := range s.Stream(ctx, query, pageLimit) {
		if err != nil {
			if len(results) == 0 {
				return nil, err
			}
			break
		}
		results = append(results, book)
	}
	return results, nil
}

// Stream yields results page by page. Each call resolves the mirror again and fetches
// from page 1. It stops at the page limit, at the first empty page, or when the mirror
// fails. Pages that cannot be parsed are skipped. A terminal error is yielded once, last.
func (s *Scraper) Stream(ctx context.Context, query string, pageLimit int) iter.Seq2[domain.BookSummary, error] {
	return func(yield func(domain.BookSummary, error) bool) {
		q, err := NormalizeQuery(query)
		if err != nil {
			yield(domain.BookSummary{}, err)
			return
		}
		if pageLimit <= 0 {
			pageLimit = s.pageLimit
		}

		l := s.log.With().Str("searchID", uuid.NewString()).Str("query", q).Logger()
		start := time.Now()
		defer func() { s.metrics.ObserveSearch(time.Since(start)) }()

		cand, err := s.resolver.Resolve(ctx)
		if err != nil && ctx.Err() != nil {
			l.Debug().Err(err).Msg("search cancelled while resolving")
			yield(domain.BookSummary{}, ctx.Err())
			return
		}
		if err != nil {
			l.Warn().Err(err).Msg("search aborted, no mirror available")
			yield(domain.BookSummary{}, fmt.Errorf("%w: %v", ErrSourceUnreachable, err))
			return
		}

		l = l.With().Str("host", cand.Hostname).Logger()
		l.Info().Int("pageLimit", pageLimit).Msg("searching")

		seen := make(map[string]struct{})
		total := 0
		referer := cand.BaseURL() + "/"

		for n := 1; n <= pageLimit; n++ {
			target := SearchURL(cand, q, n)

			p, err := s.fetcher.fetch(ctx, governor.KindListing, target, referer)
			if err != nil {
				var fe *FetchError
				switch {
				case ctx.Err() != nil:
					l.Debug().Err(err).Int("page", n).Msg("search cancelled")
					yield(domain.BookSummary{}, ctx.Err())
				case errors.As(err, &fe) && fe.MirrorFault():
					s.resolver.Invalidate(cand.Hostname)
					l.Error().Err(err).Int("page", n).Msg("mirror failed during search")
					yield(domain.BookSummary{}, fmt.Errorf("%w: %v", ErrSourceUnreachable, err))
				case errors.As(err, &fe):
					// WordPress answers 404 past the last page
					l.Debug().Err(err).Int("page", n).Msg("page unavailable, ending search")
				default:
					l.Error().Err(err).Int("page", n).Msg("page fetch failed")
					yield(domain.BookSummary{}, err)
				}
				return
			}
			referer = target

			books, err := ParseListingPage(p.Body, cand.BaseURL())
			if err != nil {
				l.Warn().Err(err).Int("page", n).Msg("skipping unreadable page")
				continue
			}
			if len(books) == 0 {
				l.Debug().Int("page", n).Msg("empty page, ending search")
				break
			}

			for _, b := range books {
				if _, dup := seen[b.DetailsLink]; dup {
					continue
				}
				seen[b.DetailsLink] = struct{}{}
				total++
				if !yield(b, nil) {
					return
				}
			}
		}

		l.Info().Int("results", total).Dur("took", time.Since(start)).Msg("search complete")
	}
}

// FetchDetails loads one book page. A relative link is fetched through the current
// mirror; an absolute link must point at a registered mirror or it is rejected unfetched.
func (s *Scraper) FetchDetails(ctx context.Context, link string) (domain.BookDetails, error) {
	target, host, err := s.detailsTarget(ctx, link)
	if err != nil {
		return domain.BookDetails{}, err
	}

	l := s.log.With().Str("host", host).Str("link", link).Logger()

	p, err := s.fetcher.fetch(ctx, governor.KindDetail, target, "")
	if err != nil {
		var fe *FetchError
		if ctx.Err() == nil && errors.As(err, &fe) && fe.MirrorFault() {
			s.resolver.Invalidate(host)
			l.Error().Err(err).Msg("mirror failed fetching details")
			return domain.BookDetails{}, fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
		}
		l.Error().Err(err).Msg("could not fetch details")
		return domain.BookDetails{}, err
	}

	d, err := ParseDetailPage(p.Body, target)
	if err != nil {
		l.Error().Err(err).Msg("could not parse details")
		return domain.BookDetails{}, err
	}

	l.Debug().Str("title", d.Title).Bool("hash", d.HasInfoHash()).Int("trackers", len(d.Trackers)).Msg("details fetched")
	return d, nil
}

func (s *Scraper) detailsTarget(ctx context.Context, link string) (string, string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", "", &SSRFError{Link: link, Reason: "empty link"}
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", "", &SSRFError{Link: link, Reason: "malformed link"}
	}

	if u.IsAbs() || u.Host != "" {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", "", &SSRFError{Link: link, Reason: "scheme must be http or https"}
		}
		if u.User != nil {
			return "", "", &SSRFError{Link: link, Reason: "credentials are not allowed"}
		}
		if !s.resolver.Registry().Allowed(u.Host) {
			s.log.Warn().Str("link", link).Msg("blocked details link to foreign host")
			return "", "", &SSRFError{Link: link, Reason: "host is not a listing mirror"}
		}
		u.Host = strings.ToLower(u.Host)
		u.Fragment = ""
		return u.String(), u.Host, nil
	}

	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}

	cand, err := s.resolver.Resolve(ctx)
	if err != nil && ctx.Err() != nil {
		return "", "", ctx.Err()
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
	}

	return cand.BaseURL() + u.RequestURI(), cand.Hostname, nil
}
