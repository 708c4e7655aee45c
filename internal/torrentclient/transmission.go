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
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/autobrr/abbot/internal/buildinfo"
	"github.com/autobrr/abbot/internal/domain"
)

const (
	transmissionRPCPath    = "/transmission/rpc"
	transmissionSessionKey = "X-Transmission-Session-Id"
)

// RPC version 16 (Transmission 3.00) introduced torrent labels.
var labelsMinRPCVersion = semver.MustParse("16")

var transmissionStatus = map[int64]string{
	0: "stopped",
	1: "check pending",
	2: "checking",
	3: "download pending",
	4: "downloading",
	5: "seed pending",
	6: "seeding",
}

var transmissionFields = []string{"id", "name", "percentDone", "status", "totalSize", "labels", "hashString"}

type transmissionStrategy struct {
	lifecycle
	cfg        Config
	httpClient *http.Client
	sessionID  atomic.Value
	tag        atomic.Int64

	rpcVersion     int64
	supportsLabels bool

	log zerolog.Logger
}

func newTransmission(cfg Config) *transmissionStrategy {
	s := &transmissionStrategy{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("module", "torrentclient").Str("backend", BackendTransmission).Logger(),
	}
	s.sessionID.Store("")
	return s
}

func (s *transmissionStrategy) Name() string {
	return BackendTransmission
}

func (s *transmissionStrategy) Connect(ctx context.Context) error {
	if err := s.canConnect(); err != nil {
		return err
	}

	args, err := s.call(ctx, "session-get", map[string]any{"fields": []string{"rpc-version", "version"}})
	if err != nil {
		s.set(StateDisconnected)
		return errors.Wrapf(ErrClientUnavailable, "transmission session-get: %v", err)
	}

	s.rpcVersion = args.Get("rpc-version").Int()
	if v, err := semver.NewVersion(strconv.FormatInt(s.rpcVersion, 10)); err == nil {
		s.supportsLabels = !v.LessThan(labelsMinRPCVersion)
	}

	s.log.Debug().Int64("rpcVersion", s.rpcVersion).Str("version", args.Get("version").String()).Bool("supportsLabels", s.supportsLabels).Msg("transmission connected")
	s.set(StateConnected)
	return nil
}

func (s *transmissionStrategy) AddMagnet(ctx context.Context, req domain.AddRequest) error {
	if err := s.ready(); err != nil {
		return err
	}

	args := map[string]any{"filename": req.MagnetURI}
	if req.SavePath != "" {
		args["download-dir"] = req.SavePath
	}
	withLabels := req.Label != "" && s.supportsLabels
	if withLabels {
		args["labels"] = []string{req.Label}
	}

	res, err := s.call(ctx, "torrent-add", args)
	if err != nil && withLabels && errors.Is(err, ErrRejected) {
		s.log.Warn().Err(err).Msg("label assignment failed, retrying without labels")
		delete(args, "labels")
		res, err = s.call(ctx, "torrent-add", args)
	}
	if err != nil {
		return err
	}

	added := res.Get("torrent-added")
	if !added.Exists() {
		added = res.Get("torrent-duplicate")
	}
	if !added.IsObject() {
		return &ProtocolError{Backend: BackendTransmission, Op: "torrent-add", Detail: "no torrent in response"}
	}

	s.log.Debug().Int64("id", added.Get("id").Int()).Str("hash", added.Get("hashString").String()).Msg("torrent added")
	return nil
}

// ListByLabel filters on the client side since torrent-get has no label filter.
// Servers older than labels get the full list.
func (s *transmissionStrategy) ListByLabel(ctx context.Context, label string) ([]domain.TorrentRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	res, err := s.call(ctx, "torrent-get", map[string]any{"fields": transmissionFields})
	if err != nil {
		return nil, err
	}

	torrents := res.Get("torrents")
	if !torrents.IsArray() {
		return nil, &ProtocolError{Backend: BackendTransmission, Op: "torrent-get", Detail: "torrents is not a list"}
	}

	records := make([]domain.TorrentRecord, 0)
	for _, t := range torrents.Array() {
		labels := t.Get("labels").Array()
		if label != "" && s.supportsLabels && !hasLabel(labels, label) {
			continue
		}

		rec := domain.TorrentRecord{
			ID:       strconv.FormatInt(t.Get("id").Int(), 10),
			Name:     orUnknown(t.Get("name").String()),
			Progress: s.NormalizeProgress(t.Get("percentDone").Float()),
			State:    domain.Unknown,
			Size:     domain.Unknown,
		}
		if name, ok := transmissionStatus[t.Get("status").Int()]; ok && t.Get("status").Exists() {
			rec.State = name
		}
		if size := t.Get("totalSize"); size.Exists() {
			rec.Size = formatSize(size.Int())
		}
		if len(labels) > 0 {
			rec.Label = labels[0].String()
		}
		records = append(records, rec)
	}
	return records, nil
}

func hasLabel(labels []gjson.Result, label string) bool {
	for _, l := range labels {
		if strings.EqualFold(l.String(), label) {
			return true
		}
	}
	return false
}

// Remove accepts the numeric torrent id or the info hash.
func (s *transmissionStrategy) Remove(ctx context.Context, id string, purge bool) error {
	if err := s.ready(); err != nil {
		return err
	}

	var tid any = id
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		tid = n
	}

	_, err := s.call(ctx, "torrent-remove", map[string]any{
		"ids":               []any{tid},
		"delete-local-data": purge,
	})
	return err
}

// NormalizeProgress scales Transmission's 0..1 percentDone.
func (s *transmissionStrategy) NormalizeProgress(raw float64) float64 {
	return clampProgress(raw * 100)
}

func (s *transmissionStrategy) Close() error {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.httpClient.CloseIdleConnections()
	return nil
}

// call runs one RPC method and returns its arguments object. A 409 is answered once with
// the session id the server hands out.
func (s *transmissionStrategy) call(ctx context.Context, method string, args map[string]any) (gjson.Result, error) {
	body, err := json.Marshal(map[string]any{
		"method":    method,
		"arguments": args,
		"tag":       s.tag.Add(1),
	})
	if err != nil {
		return gjson.Result{}, err
	}

	var raw []byte
	for attempt := 0; attempt < 2; attempt++ {
		var status int
		raw, status, err = s.post(ctx, body)
		if err != nil {
			return gjson.Result{}, err
		}
		if status == http.StatusConflict && attempt == 0 {
			continue
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return gjson.Result{}, errors.Wrapf(ErrClientUnavailable, "transmission %s: status %d", method, status)
		}
		if status != http.StatusOK {
			return gjson.Result{}, errors.Errorf("transmission %s: unexpected status %d", method, status)
		}
		break
	}

	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, &ProtocolError{Backend: BackendTransmission, Op: method, Detail: "body is not JSON"}
	}
	doc := gjson.ParseBytes(raw)
	if doc.Type == gjson.Null {
		return gjson.Result{}, &ProtocolError{Backend: BackendTransmission, Op: method, Detail: "null body"}
	}

	result := doc.Get("result")
	if !result.Exists() {
		return gjson.Result{}, &ProtocolError{Backend: BackendTransmission, Op: method, Detail: "missing result"}
	}
	if result.String() != "success" {
		return gjson.Result{}, errors.Wrapf(ErrRejected, "transmission %s: %s", method, result.String())
	}

	arguments := doc.Get("arguments")
	if !arguments.IsObject() {
		return gjson.Result{}, &ProtocolError{Backend: BackendTransmission, Op: method, Detail: "missing arguments"}
	}
	return arguments, nil
}

func (s *transmissionStrategy) post(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+transmissionRPCPath, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if id, _ := s.sessionID.Load().(string); id != "" {
		req.Header.Set(transmissionSessionKey, id)
	}
	if s.cfg.Username != "" || s.cfg.Password != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("transmission request: %w", err)
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(transmissionSessionKey); id != "" {
		s.sessionID.Store(id)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("transmission read: %w", err)
	}
	return raw, resp.StatusCode, nil
}
