// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package magnet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hash = "ABCDEF0123456789ABCDEF0123456789ABCDEF01"

func TestBuild(t *testing.T) {
	extra := []string{"udp://extra.example:1337", DefaultTrackers[0], " udp://extra.example:1337 ", ""}
	page := []string{"http://page.example/announce", "udp://extra.example:1337"}

	link, err := Build(hash, "Dune - Frank Herbert", extra, page)
	require.NoError(t, err)

	assert.Equal(t, strings.ToLower(hash), link.InfoHash)

	want := append(append([]string{}, DefaultTrackers...), "udp://extra.example:1337", "http://page.example/announce")
	assert.Equal(t, want, link.Trackers, "defaults first, no repeats")

	assert.True(t, strings.HasPrefix(link.URI, "magnet:?xt=urn:btih:abcdef0123456789abcdef0123456789abcdef01&dn=Dune+-+Frank+Herbert&tr="))
	assert.Equal(t, len(want), strings.Count(link.URI, "&tr="))
	assert.Contains(t, link.URI, "&tr=udp%3A%2F%2Ftracker.openbittorrent.com%3A80")
	assert.Equal(t, link.URI, link.String())
}

func TestBuildIsDeterministic(t *testing.T) {
	extra := []string{"udp://b.example:1", "udp://a.example:1"}

	first, err := Build(hash, "Name & Co", extra)
	require.NoError(t, err)

	for range 20 {
		again, err := Build(hash, "Name & Co", extra)
		require.NoError(t, err)
		assert.Equal(t, first.URI, again.URI)
	}
}

func TestBuildRejectsBadHash(t *testing.T) {
	tests := []string{"", "Unknown", "abc123", strings.Repeat("g", 40), strings.Repeat("a", 41)}

	for _, h := range tests {
		t.Run(h, func(t *testing.T) {
			_, err := Build(h, "x")
			require.ErrorIs(t, err, ErrInvalidInfoHash)
		})
	}

	_, err := Build(strings.Repeat("a", 64), "v2")
	require.NoError(t, err)
}

func TestBuildWithoutName(t *testing.T) {
	link, err := Build(hash, "  ")
	require.NoError(t, err)
	assert.NotContains(t, link.URI, "&dn=")
	assert.Equal(t, DefaultTrackers, link.Trackers)
}

func TestParseRoundTrip(t *testing.T) {
	built, err := Build(hash, "Dune", []string{"udp://extra.example:1337"})
	require.NoError(t, err)

	parsed, err := Parse(built.URI)
	require.NoError(t, err)
	assert.Equal(t, built.InfoHash, parsed.InfoHash)
	assert.Equal(t, "Dune", parsed.DisplayName)
	assert.Equal(t, built.Trackers, parsed.Trackers)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, uri := range []string{"", "https://example.com", "magnet:?dn=nohash"} {
		t.Run(uri, func(t *testing.T) {
			_, err := Parse(uri)
			require.Error(t, err)
		})
	}
}
