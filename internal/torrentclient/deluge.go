// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/autobrr/abbot/internal/buildinfo"
	"github.com/autobrr/abbot/internal/domain"
)

const delugeRPCPath = "/json"

var delugeKeys = []string{"name", "state", "progress", "total_size", "label"}

type delugeStrategy struct {
	lifecycle
	cfg        Config
	httpClient *http.Client
	id         atomic.Int64

	labelPlugin bool

	log zerolog.Logger
}

func newDeluge(cfg Config) *delugeStrategy {
	jar, _ := cookiejar.New(nil)
	return &delugeStrategy{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Jar: jar},
		log:        log.With().Str("module", "torrentclient").Str("backend", BackendDeluge).Logger(),
	}
}

func (s *delugeStrategy) Name() string {
	return BackendDeluge
}

// Connect logs in to the web UI, attaches it to a daemon when needed and records whether
// the Label plugin is enabled.
func (s *delugeStrategy) Connect(ctx context.Context) error {
	if err := s.canConnect(); err != nil {
		return err
	}

	if err := s.connect(ctx); err != nil {
		s.set(StateDisconnected)
		return errors.Wrapf(ErrClientUnavailable, "deluge: %v", err)
	}

	s.set(StateConnected)
	return nil
}

func (s *delugeStrategy) connect(ctx context.Context) error {
	ok, err := s.call(ctx, "auth.login", s.cfg.Password)
	if err != nil {
		return errors.Wrap(err, "login")
	}
	if !ok.Bool() {
		return errors.New("login refused")
	}

	connected, err := s.call(ctx, "web.connected")
	if err != nil {
		return errors.Wrap(err, "web.connected")
	}
	if !connected.Bool() {
		if err := s.attachDaemon(ctx); err != nil {
			return err
		}
	}

	plugins, err := s.call(ctx, "core.get_enabled_plugins")
	if err != nil {
		s.log.Warn().Err(err).Msg("could not list plugins, assuming no Label plugin")
		return nil
	}
	for _, p := range plugins.Array() {
		if strings.EqualFold(p.String(), "Label") {
			s.labelPlugin = true
		}
	}
	if !s.labelPlugin {
		s.log.Info().Msg("Label plugin disabled, torrents will not be labelled")
	}
	return nil
}

// attachDaemon connects the web UI to the first configured daemon host.
func (s *delugeStrategy) attachDaemon(ctx context.Context) error {
	hosts, err := s.call(ctx, "web.get_hosts")
	if err != nil {
		return errors.Wrap(err, "web.get_hosts")
	}
	list := hosts.Array()
	if len(list) == 0 {
		return errors.New("web UI has no daemon hosts")
	}

	hostID := list[0].Get("0").String()
	if _, err := s.call(ctx, "web.connect", hostID); err != nil {
		return errors.Wrap(err, "web.connect")
	}
	s.log.Debug().Str("hostID", hostID).Msg("attached web UI to daemon")
	return nil
}

func (s *delugeStrategy) AddMagnet(ctx context.Context, req domain.AddRequest) error {
	if err := s.ready(); err != nil {
		return err
	}

	opts := map[string]any{}
	if req.SavePath != "" {
		opts["download_location"] = req.SavePath
	}

	res, err := s.call(ctx, "core.add_torrent_magnet", req.MagnetURI, opts)
	if err != nil {
		return err
	}
	if res.Type != gjson.String || res.String() == "" {
		return &ProtocolError{Backend: BackendDeluge, Op: "core.add_torrent_magnet", Detail: "no torrent id in result"}
	}

	id := res.String()
	if req.Label == "" || !s.labelPlugin {
		return nil
	}

	label := strings.ToLower(req.Label)
	// label.add fails when the label exists already
	_, _ = s.call(ctx, "label.add", label)
	if _, err := s.call(ctx, "label.set_torrent", id, label); err != nil {
		s.log.Warn().Err(err).Str("id", id).Str("label", label).Msg("torrent added without label")
	}
	return nil
}

// ListByLabel uses the server-side filter when the Label plugin is on, otherwise it
// returns every torrent.
func (s *delugeStrategy) ListByLabel(ctx context.Context, label string) ([]domain.TorrentRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	filter := map[string]any{}
	if label != "" && s.labelPlugin {
		filter["label"] = strings.ToLower(label)
	}

	res, err := s.call(ctx, "core.get_torrents_status", filter, delugeKeys)
	if err != nil {
		return nil, err
	}
	if !res.IsObject() {
		return nil, &ProtocolError{Backend: BackendDeluge, Op: "core.get_torrents_status", Detail: "result is not an object"}
	}

	records := make([]domain.TorrentRecord, 0)
	res.ForEach(func(key, t gjson.Result) bool {
		if !t.IsObject() {
			return true
		}
		rec := domain.TorrentRecord{
			ID:       key.String(),
			Name:     orUnknown(t.Get("name").String()),
			Progress: s.NormalizeProgress(t.Get("progress").Float()),
			State:    orUnknown(t.Get("state").String()),
			Size:     domain.Unknown,
			Label:    t.Get("label").String(),
		}
		if size := t.Get("total_size"); size.Exists() {
			rec.Size = formatSize(size.Int())
		}
		records = append(records, rec)
		return true
	})
	return records, nil
}

func (s *delugeStrategy) Remove(ctx context.Context, id string, purge bool) error {
	if err := s.ready(); err != nil {
		return err
	}

	res, err := s.call(ctx, "core.remove_torrent", id, purge)
	if err != nil {
		return err
	}
	if res.Type == gjson.False {
		return errors.Wrapf(ErrRejected, "deluge remove %s", id)
	}
	return nil
}

// NormalizeProgress keeps Deluge's value, which is already a percentage.
func (s *delugeStrategy) NormalizeProgress(raw float64) float64 {
	return clampProgress(raw)
}

func (s *delugeStrategy) Close() error {
	if s.State() == StateConnected {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		_, _ = s.call(ctx, "auth.delete_session")
		cancel()
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.httpClient.CloseIdleConnections()
	return nil
}

// call runs one JSON-RPC method and returns its result. An error object becomes
// ErrRejected; callers check the shape of the result.
func (s *delugeStrategy) call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(map[string]any{
		"method": method,
		"params": params,
		"id":     s.id.Add(1),
	})
	if err != nil {
		return gjson.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+delugeRPCPath, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("deluge request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("deluge read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, errors.Errorf("deluge %s: unexpected status %d", method, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, &ProtocolError{Backend: BackendDeluge, Op: method, Detail: "body is not JSON"}
	}

	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return gjson.Result{}, &ProtocolError{Backend: BackendDeluge, Op: method, Detail: "body is not an object"}
	}
	if e := doc.Get("error"); e.Exists() && e.Type != gjson.Null {
		return gjson.Result{}, errors.Wrapf(ErrRejected, "deluge %s: %s", method, e.Get("message").String())
	}

	return doc.Get("result"), nil
}
