// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/abbot/internal/domain"
	"github.com/autobrr/abbot/internal/magnet"
	"github.com/autobrr/abbot/internal/scraper"
	"github.com/autobrr/abbot/internal/torrentclient"
)

const hash = "abcdef0123456789abcdef0123456789abcdef01"

type fakeSearcher struct {
	details    domain.BookDetails
	detailsErr error
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]domain.BookSummary, error) {
	if _, err := scraper.NormalizeQuery(query); err != nil {
		return nil, err
	}
	return []domain.BookSummary{{Title: "Dune", DetailsLink: "/abss/dune/"}}, nil
}

func (f *fakeSearcher) FetchDetails(context.Context, string) (domain.BookDetails, error) {
	return f.details, f.detailsErr
}

type fakeClient struct {
	added   []domain.AddRequest
	removed []string
	records []domain.TorrentRecord
	err     error
}

func (f *fakeClient) Backend() string { return "fake" }

func (f *fakeClient) AddMagnet(_ context.Context, req domain.AddRequest) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, req)
	return nil
}

func (f *fakeClient) List(context.Context) ([]domain.TorrentRecord, error) {
	return f.records, f.err
}

func (f *fakeClient) Remove(_ context.Context, id string, _ bool) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, id)
	return nil
}

func duneDetails() domain.BookDetails {
	return domain.BookDetails{
		BookSummary: domain.BookSummary{Title: "Dune: Deluxe Edition", DetailsLink: "/abss/dune/"},
		InfoHash:    strings.ToUpper(hash),
		Trackers:    []string{"http://page.example/announce"},
	}
}

func TestSendDetails(t *testing.T) {
	client := &fakeClient{}
	svc := New(&fakeSearcher{details: duneDetails()}, client, Options{
		SavePathBase: "/audiobooks",
		Trackers:     func() []string { return []string{"udp://extra.example:1337"} },
	})

	res := svc.SendDetails(context.Background(), "/abss/dune/", "")
	require.True(t, res.OK, res.Message)
	assert.Equal(t, KindNone, res.Kind)

	require.Len(t, client.added, 1)
	req := client.added[0]
	assert.Equal(t, "/audiobooks/Dune Deluxe Edition", req.SavePath)

	m, err := magnet.Parse(req.MagnetURI)
	require.NoError(t, err)
	assert.Equal(t, hash, m.InfoHash)
	want := append(append([]string{}, magnet.DefaultTrackers...), "udp://extra.example:1337", "http://page.example/announce")
	assert.Equal(t, want, m.Trackers)
}

func TestSendDetailsFailures(t *testing.T) {
	noHash := duneDetails()
	noHash.InfoHash = domain.Unknown

	tests := []struct {
		name     string
		searcher *fakeSearcher
		client   *fakeClient
		link     string
		want     FailureKind
	}{
		{name: "empty_link", searcher: &fakeSearcher{}, client: &fakeClient{}, link: " ", want: KindInvalidRequest},
		{name: "ssrf", searcher: &fakeSearcher{detailsErr: &scraper.SSRFError{Link: "https://evil.example", Reason: "host is not a listing mirror"}}, client: &fakeClient{}, link: "https://evil.example", want: KindSSRFRejected},
		{name: "unreachable", searcher: &fakeSearcher{detailsErr: fmt.Errorf("%w: all mirrors down", scraper.ErrSourceUnreachable)}, client: &fakeClient{}, link: "/x", want: KindSourceUnreachable},
		{name: "no_hash", searcher: &fakeSearcher{details: noHash}, client: &fakeClient{}, link: "/x", want: KindHashNotFound},
		{name: "client_down", searcher: &fakeSearcher{details: duneDetails()}, client: &fakeClient{err: torrentclient.ErrClientUnavailable}, link: "/x", want: KindClientUnavailable},
		{name: "null_reply", searcher: &fakeSearcher{details: duneDetails()}, client: &fakeClient{err: &torrentclient.ProtocolError{Backend: "deluge", Op: "add", Detail: "null"}}, link: "/x", want: KindClientProtocol},
		{name: "timeout", searcher: &fakeSearcher{details: duneDetails()}, client: &fakeClient{err: fmt.Errorf("post: %w", context.DeadlineExceeded)}, link: "/x", want: KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(tt.searcher, tt.client, Options{})
			res := svc.SendDetails(context.Background(), tt.link, "Dune")
			assert.False(t, res.OK)
			assert.Equal(t, tt.want, res.Kind)
			assert.NotEmpty(t, res.Message)
			assert.Empty(t, tt.client.added)
		})
	}
}

func TestSendWithoutClient(t *testing.T) {
	svc := New(&fakeSearcher{details: duneDetails()}, nil, Options{})
	assert.False(t, svc.HasClient())

	res := svc.SendDetails(context.Background(), "/abss/dune/", "Dune")
	assert.Equal(t, KindClientUnavailable, res.Kind)

	_, err := svc.Status(context.Background())
	require.ErrorIs(t, err, ErrNoClient)

	books, err := svc.Search(context.Background(), "dune", 1)
	require.NoError(t, err)
	assert.Len(t, books, 1, "search works without a client")
}

func TestSendMagnet(t *testing.T) {
	client := &fakeClient{}
	svc := New(&fakeSearcher{}, client, Options{})

	uri := "magnet:?xt=urn:btih:" + hash + "&dn=Children+of+Dune"
	res := svc.SendMagnet(context.Background(), uri, "")
	require.True(t, res.OK, res.Message)
	require.Len(t, client.added, 1)
	assert.Equal(t, "Children of Dune", client.added[0].SavePath)

	res = svc.SendMagnet(context.Background(), "https://example.com/file.torrent", "x")
	assert.Equal(t, KindInvalidRequest, res.Kind)
	assert.Len(t, client.added, 1)
}

func TestStatusAndDelete(t *testing.T) {
	client := &fakeClient{records: []domain.TorrentRecord{{ID: "abc123", Name: "Dune", Progress: 50}}}
	svc := New(&fakeSearcher{}, client, Options{})

	records, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)

	res := svc.Delete(context.Background(), "abc123", false)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"abc123"}, client.removed)

	res = svc.Delete(context.Background(), "", false)
	assert.Equal(t, KindInvalidRequest, res.Kind)

	client.err = fmt.Errorf("deluge remove: %w", torrentclient.ErrRejected)
	res = svc.Delete(context.Background(), "abc123", true)
	assert.Equal(t, KindClientRejected, res.Kind)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{err: nil, want: KindNone},
		{err: scraper.ErrQueryTooShort, want: KindInvalidRequest},
		{err: fmt.Errorf("page 1: %w", scraper.ErrParseFailure), want: KindParseFailure},
		{err: torrentclient.ErrNotConnected, want: KindClientUnavailable},
		{err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}
