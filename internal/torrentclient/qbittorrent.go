// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/abbot/internal/buildinfo"
	"github.com/autobrr/abbot/internal/domain"
)

// WebAPI 2.0.1 (qBittorrent 4.1.3) added the category filter to torrents/info.
var categoryFilterMinVersion = semver.MustParse("2.0.1")

// qbitAPI is the part of the go-qbittorrent client the strategy uses. Endpoints whose
// response body matters are posted through the client's own http.Client so the session
// cookie from LoginCtx is reused.
type qbitAPI interface {
	LoginCtx(ctx context.Context) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	DeleteTorrentsCtx(ctx context.Context, hashes []string, deleteFiles bool) error
	GetHTTPClient() *http.Client
}

// qbitRefused is the body qBittorrent sends with a 200 when it will not take a torrent.
const qbitRefused = "Fails."

type qbittorrentStrategy struct {
	lifecycle
	cfg Config
	api qbitAPI

	webAPIVersion          string
	supportsCategoryFilter bool

	log zerolog.Logger
}

func newQbittorrent(cfg Config) *qbittorrentStrategy {
	return &qbittorrentStrategy{
		cfg: cfg,
		log: log.With().Str("module", "torrentclient").Str("backend", BackendQbittorrent).Logger(),
	}
}

func (s *qbittorrentStrategy) Name() string {
	return BackendQbittorrent
}

func (s *qbittorrentStrategy) Connect(ctx context.Context) error {
	if err := s.canConnect(); err != nil {
		return err
	}

	var api qbitAPI = qbt.NewClient(qbt.Config{
		Host:     s.cfg.URL,
		Username: s.cfg.Username,
		Password: s.cfg.Password,
		Timeout:  int(s.cfg.Timeout.Seconds()),
	})
	if err := api.LoginCtx(ctx); err != nil {
		s.set(StateDisconnected)
		return errors.Wrapf(ErrClientUnavailable, "qbittorrent login: %v", err)
	}

	s.api = api
	s.refreshCapabilities(ctx)
	s.set(StateConnected)
	return nil
}

// refreshCapabilities reads the WebAPI version. Failure leaves the conservative defaults.
func (s *qbittorrentStrategy) refreshCapabilities(ctx context.Context) {
	version, err := s.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read WebAPI version, filtering categories locally")
		return
	}

	version = strings.TrimSpace(version)
	v, err := semver.NewVersion(version)
	if err != nil {
		s.log.Warn().Err(err).Str("webAPIVersion", version).Msg("unparseable WebAPI version")
		return
	}

	s.webAPIVersion = version
	s.supportsCategoryFilter = !v.LessThan(categoryFilterMinVersion)
	s.log.Debug().Str("webAPIVersion", version).Bool("supportsCategoryFilter", s.supportsCategoryFilter).Msg("qBittorrent capabilities")
}

func (s *qbittorrentStrategy) AddMagnet(ctx context.Context, req domain.AddRequest) error {
	if err := s.ready(); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("urls", req.MagnetURI)
	if req.SavePath != "" {
		form.Set("savepath", req.SavePath)
	}
	if req.Label != "" {
		form.Set("category", req.Label)
	}

	body, status, err := s.post(ctx, "torrents/add", form)
	if err != nil {
		return errors.Wrap(err, "qbittorrent add")
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Wrapf(ErrClientUnavailable, "qbittorrent add: status %d", status)
	case status == http.StatusUnsupportedMediaType:
		return errors.Wrap(ErrRejected, "qbittorrent add: torrent not valid")
	case status != http.StatusOK:
		return errors.Errorf("qbittorrent add: unexpected status %d", status)
	case body == qbitRefused:
		// 200 with "Fails." covers duplicates and unparseable magnets
		return errors.Wrap(ErrRejected, "qbittorrent add: torrent refused")
	}
	return nil
}

func (s *qbittorrentStrategy) ListByLabel(ctx context.Context, label string) ([]domain.TorrentRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	filter := qbt.TorrentFilterOptions{}
	if label != "" && s.supportsCategoryFilter {
		filter.Category = label
	}

	torrents, err := s.api.GetTorrentsCtx(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "qbittorrent list")
	}

	records := make([]domain.TorrentRecord, 0, len(torrents))
	for _, t := range torrents {
		if label != "" && !s.supportsCategoryFilter && t.Category != label {
			continue
		}
		size := t.TotalSize
		if size <= 0 {
			size = t.Size
		}
		records = append(records, domain.TorrentRecord{
			ID:       t.Hash,
			Name:     orUnknown(t.Name),
			Progress: s.NormalizeProgress(t.Progress),
			State:    orUnknown(string(t.State)),
			Size:     formatSize(size),
			Label:    t.Category,
		})
	}
	return records, nil
}

func (s *qbittorrentStrategy) Remove(ctx context.Context, id string, purge bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.api.DeleteTorrentsCtx(ctx, []string{id}, purge); err != nil {
		return errors.Wrap(err, "qbittorrent remove")
	}
	return nil
}

// NormalizeProgress scales qBittorrent's 0..1 fraction.
func (s *qbittorrentStrategy) NormalizeProgress(raw float64) float64 {
	return clampProgress(raw * 100)
}

// Close logs out so the server drops the session, then forgets the client.
func (s *qbittorrentStrategy) Close() error {
	if s.State() == StateConnected && s.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		if _, _, err := s.post(ctx, "auth/logout", nil); err != nil {
			s.log.Debug().Err(err).Msg("logout failed")
		}
		cancel()
		s.api.GetHTTPClient().CloseIdleConnections()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.api = nil
	return nil
}

// post sends a form to a WebAPI endpoint and returns the trimmed body and status.
func (s *qbittorrentStrategy) post(ctx context.Context, endpoint string, form url.Values) (string, int, error) {
	endpointURL, err := url.JoinPath(s.cfg.URL, "api/v2", endpoint)
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := s.api.GetHTTPClient().Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return strings.TrimSpace(string(raw)), resp.StatusCode, nil
}
