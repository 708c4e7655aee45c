// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dispatch ties search, details and the torrent client together into the
// operations the API and CLI expose.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/abbot/internal/domain"
	"github.com/autobrr/abbot/internal/magnet"
	"github.com/autobrr/abbot/internal/scraper"
)

var (
	ErrNoClient       = errors.New("no torrent client configured")
	ErrInvalidRequest = errors.New("invalid request")
)

// Searcher is implemented by *scraper.Scraper.
type Searcher interface {
	Search(ctx context.Context, query string, pageLimit int) ([]domain.BookSummary, error)
	FetchDetails(ctx context.Context, link string) (domain.BookDetails, error)
}

// Client is implemented by *torrentclient.Manager.
type Client interface {
	Backend() string
	AddMagnet(ctx context.Context, req domain.AddRequest) error
	List(ctx context.Context) ([]domain.TorrentRecord, error)
	Remove(ctx context.Context, id string, purge bool) error
}

type Options struct {
	SavePathBase string
	// Trackers returns the operator's extra trackers. It is called per send so
	// configuration reloads apply.
	Trackers func() []string
}

type Service struct {
	searcher Searcher
	client   Client
	opts     Options
	log      zerolog.Logger
}

// New wires the service. client may be nil when no backend is configured; searches still
// work and client operations report KindClientUnavailable.
func New(searcher Searcher, client Client, opts Options) *Service {
	if opts.Trackers == nil {
		opts.Trackers = func() []string { return nil }
	}
	return &Service{
		searcher: searcher,
		client:   client,
		opts:     opts,
		log:      log.With().Str("module", "dispatch").Logger(),
	}
}

func (s *Service) HasClient() bool {
	return s.client != nil
}

func (s *Service) Search(ctx context.Context, query string, pageLimit int) ([]domain.BookSummary, error) {
	return s.searcher.Search(ctx, query, pageLimit)
}

func (s *Service) Details(ctx context.Context, link string) (domain.BookDetails, error) {
	return s.searcher.FetchDetails(ctx, link)
}

// SendDetails fetches the details page behind link, builds a magnet from its info hash
// and trackers and hands it to the torrent client. title names the download directory;
// the page title is used when it is empty.
func (s *Service) SendDetails(ctx context.Context, link, title string) Result {
	if strings.TrimSpace(link) == "" {
		return failure(KindInvalidRequest, "A details link is required")
	}
	if s.client == nil {
		return s.fail(ErrNoClient, "send")
	}

	d, err := s.searcher.FetchDetails(ctx, link)
	if err != nil {
		return s.fail(err, "send")
	}
	if !d.HasInfoHash() {
		return s.fail(scraper.ErrHashNotFound, "send")
	}

	if strings.TrimSpace(title) == "" {
		title = d.Title
	}

	m, err := magnet.Build(d.InfoHash, title, s.opts.Trackers(), d.Trackers)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", scraper.ErrHashNotFound, err), "send")
	}

	return s.add(ctx, m, title)
}

// SendMagnet adds a magnet the caller already holds.
func (s *Service) SendMagnet(ctx context.Context, uri, title string) Result {
	m, err := magnet.Parse(uri)
	if err != nil {
		return s.fail(errors.Join(ErrInvalidRequest, err), "send")
	}
	if s.client == nil {
		return s.fail(ErrNoClient, "send")
	}

	if strings.TrimSpace(title) == "" {
		title = m.DisplayName
	}
	return s.add(ctx, m, title)
}

func (s *Service) add(ctx context.Context, m magnet.Link, title string) Result {
	savePath := SavePath(s.opts.SavePathBase, title)
	l := s.log.With().Str("hash", m.InfoHash).Str("savePath", savePath).Logger()

	if SanitizeTitle(title) == FallbackTitle {
		l.Warn().Str("title", title).Msg("title sanitized to fallback name")
	}

	err := s.client.AddMagnet(ctx, domain.AddRequest{
		MagnetURI: m.URI,
		SavePath:  savePath,
	})
	if err != nil {
		return s.fail(err, "send")
	}

	l.Info().Str("backend", s.client.Backend()).Msg("download sent to torrent client")
	return success("Download added. It will appear in your library once the torrent completes.")
}

// Status lists the torrents carrying the configured category.
func (s *Service) Status(ctx context.Context) ([]domain.TorrentRecord, error) {
	if s.client == nil {
		return nil, ErrNoClient
	}
	records, err := s.client.List(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("could not fetch torrent status")
		return nil, err
	}
	return records, nil
}

func (s *Service) Delete(ctx context.Context, id string, purge bool) Result {
	id = strings.TrimSpace(id)
	if id == "" {
		return failure(KindInvalidRequest, "A torrent id is required")
	}
	if s.client == nil {
		return s.fail(ErrNoClient, "delete")
	}

	if err := s.client.Remove(ctx, id, purge); err != nil {
		return s.fail(err, "delete")
	}

	s.log.Info().Str("id", id).Bool("purge", purge).Msg("torrent removed")
	return success("Torrent removed.")
}

func (s *Service) fail(err error, op string) Result {
	kind := Classify(err)
	s.log.Error().Err(err).Str("op", op).Str("kind", string(kind)).Msg("operation failed")

	msg := kind.message()
	if kind == KindInvalidRequest || kind == KindClientRejected || kind == KindSSRFRejected {
		msg += ": " + err.Error()
	}
	return failure(kind, msg)
}
