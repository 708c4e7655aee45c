// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/abbot/internal/domain"
)

type txTorrent struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	PercentDone float64  `json:"percentDone"`
	Status      int      `json:"status"`
	TotalSize   int64    `json:"totalSize"`
	Labels      []string `json:"labels"`
	HashString  string   `json:"hashString"`
}

// fakeTransmission speaks enough of the RPC protocol for the strategy, including the
// session id handshake.
type fakeTransmission struct {
	*httptest.Server
	mu         sync.Mutex
	rpcVersion int
	torrents   []txTorrent
	methods    []string
	lastAdd    map[string]any
	rejectTags bool
	addReply   string
	nullList   bool
	conflicts  int
}

func newFakeTransmission(t *testing.T) *fakeTransmission {
	t.Helper()
	f := &fakeTransmission{rpcVersion: 17, torrents: []txTorrent{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTransmission) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != transmissionRPCPath {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get(transmissionSessionKey) != "session-1" {
		f.mu.Lock()
		f.conflicts++
		f.mu.Unlock()
		w.Header().Set(transmissionSessionKey, "session-1")
		w.WriteHeader(http.StatusConflict)
		return
	}

	var req struct {
		Method    string         `json:"method"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, req.Method)

	reply := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	switch req.Method {
	case "session-get":
		reply(map[string]any{"result": "success", "arguments": map[string]any{"rpc-version": f.rpcVersion, "version": "4.0.5"}})
	case "torrent-add":
		f.lastAdd = req.Arguments
		if f.addReply != "" {
			_, _ = w.Write([]byte(f.addReply))
			return
		}
		if _, ok := req.Arguments["labels"]; ok && f.rejectTags {
			reply(map[string]any{"result": "invalid argument: labels"})
			return
		}
		reply(map[string]any{"result": "success", "arguments": map[string]any{"torrent-added": map[string]any{"id": 3, "hashString": "abc", "name": "Dune"}}})
	case "torrent-get":
		if f.nullList {
			reply(map[string]any{"result": "success", "arguments": map[string]any{"torrents": nil}})
			return
		}
		reply(map[string]any{"result": "success", "arguments": map[string]any{"torrents": f.torrents}})
	case "torrent-remove":
		ids, _ := req.Arguments["ids"].([]any)
		kept := f.torrents[:0]
		for _, tr := range f.torrents {
			drop := false
			for _, id := range ids {
				switch v := id.(type) {
				case float64:
					drop = drop || int(v) == tr.ID
				case string:
					drop = drop || v == tr.HashString
				}
			}
			if !drop {
				kept = append(kept, tr)
			}
		}
		f.torrents = kept
		reply(map[string]any{"result": "success", "arguments": map[string]any{}})
	default:
		reply(map[string]any{"result": "method name not recognized"})
	}
}

func connectTransmission(t *testing.T, f *fakeTransmission) *transmissionStrategy {
	t.Helper()
	s := newTransmission(Config{Backend: BackendTransmission, URL: f.URL, Timeout: 2 * time.Second})
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTransmissionHandshake(t *testing.T) {
	f := newFakeTransmission(t)
	s := connectTransmission(t, f)

	assert.Equal(t, StateConnected, s.State())
	assert.True(t, s.supportsLabels)
	assert.Equal(t, 1, f.conflicts, "one 409 then the session id is reused")

	_, err := s.ListByLabel(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.conflicts)
}

func TestTransmissionAddMagnet(t *testing.T) {
	f := newFakeTransmission(t)
	s := connectTransmission(t, f)

	err := s.AddMagnet(context.Background(), domain.AddRequest{MagnetURI: "magnet:?xt=urn:btih:abc", Label: "abb-automated", SavePath: "/books/Dune"})
	require.NoError(t, err)
	assert.Equal(t, "magnet:?xt=urn:btih:abc", f.lastAdd["filename"])
	assert.Equal(t, "/books/Dune", f.lastAdd["download-dir"])
	assert.Equal(t, []any{"abb-automated"}, f.lastAdd["labels"])
}

func TestTransmissionAddRetriesWithoutLabels(t *testing.T) {
	f := newFakeTransmission(t)
	f.rejectTags = true
	s := connectTransmission(t, f)

	err := s.AddMagnet(context.Background(), domain.AddRequest{MagnetURI: "magnet:?xt=urn:btih:abc", Label: "abb-automated"})
	require.NoError(t, err)
	assert.Equal(t, []string{"session-get", "torrent-add", "torrent-add"}, f.methods)
	assert.NotContains(t, f.lastAdd, "labels")
}

func TestTransmissionOldServerSkipsLabels(t *testing.T) {
	f := newFakeTransmission(t)
	f.rpcVersion = 15
	f.torrents = []txTorrent{
		{ID: 1, Name: "Dune", Labels: []string{"abb-automated"}},
		{ID: 2, Name: "Other"},
	}
	s := connectTransmission(t, f)
	assert.False(t, s.supportsLabels)

	require.NoError(t, s.AddMagnet(context.Background(), domain.AddRequest{MagnetURI: "magnet:?xt=urn:btih:abc", Label: "abb-automated"}))
	assert.NotContains(t, f.lastAdd, "labels")

	records, err := s.ListByLabel(context.Background(), "abb-automated")
	require.NoError(t, err)
	assert.Len(t, records, 2, "unfiltered when labels are unsupported")
}

func TestTransmissionAddAnomalies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "null_body", reply: "null"},
		{name: "null_arguments", reply: `{"result":"success","arguments":null}`},
		{name: "empty_arguments", reply: `{"result":"success","arguments":{}}`},
		{name: "not_json", reply: "<html>oops</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeTransmission(t)
			f.addReply = tt.reply
			s := connectTransmission(t, f)

			err := s.AddMagnet(context.Background(), domain.AddRequest{MagnetURI: "magnet:?xt=urn:btih:abc"})
			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, BackendTransmission, pe.Backend)
		})
	}
}

func TestTransmissionNullTorrentList(t *testing.T) {
	f := newFakeTransmission(t)
	f.nullList = true
	s := connectTransmission(t, f)

	_, err := s.ListByLabel(context.Background(), "abb-automated")
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "torrent-get", pe.Op)
}

func TestTransmissionListAndRemove(t *testing.T) {
	f := newFakeTransmission(t)
	f.torrents = []txTorrent{
		{ID: 1, Name: "Dune", PercentDone: 0.5, Status: 4, TotalSize: 1536, Labels: []string{"abb-automated"}, HashString: "abc123"},
		{ID: 2, Name: "Other", PercentDone: 1, Status: 6, TotalSize: 10, Labels: []string{"tv"}, HashString: "def456"},
	}
	s := connectTransmission(t, f)

	records, err := s.ListByLabel(context.Background(), "abb-automated")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.TorrentRecord{ID: "1", Name: "Dune", Progress: 50.0, State: "downloading", Size: "1.5 KiB", Label: "abb-automated"}, records[0])

	require.NoError(t, s.Remove(context.Background(), "abc123", false))
	records, err = s.ListByLabel(context.Background(), "abb-automated")
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.Remove(context.Background(), "2", true))
	records, err = s.ListByLabel(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTransmissionUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newTransmission(Config{Backend: BackendTransmission, URL: srv.URL, Timeout: time.Second})
	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrClientUnavailable)
	assert.Equal(t, StateDisconnected, s.State())
}
