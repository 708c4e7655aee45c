// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package magnet assembles and validates magnet URIs.
package magnet

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var ErrInvalidInfoHash = errors.New("info hash must be 40 or 64 hex characters")

var reInfoHash = regexp.MustCompile(`^(?:[a-fA-F0-9]{40}|[a-fA-F0-9]{64})$`)

// DefaultTrackers always lead the tracker list.
var DefaultTrackers = []string{
	"udp://tracker.openbittorrent.com:80",
	"udp://opentor.org:2710",
	"udp://tracker.ccc.de:80",
	"udp://tracker.blackunicorn.xyz:6969",
	"udp://tracker.coppersurfer.tk:6969",
	"udp://tracker.leechers-paradise.org:6969",
}

type Link struct {
	InfoHash    string
	DisplayName string
	Trackers    []string
	URI         string
}

func (l Link) String() string {
	return l.URI
}

// Build returns a magnet link for infoHash. Trackers are the defaults followed by each
// extra list in order, deduplicated with the first occurrence kept. The result depends
// only on the inputs.
func Build(infoHash, displayName string, extra ...[]string) (Link, error) {
	infoHash = strings.TrimSpace(infoHash)
	if !reInfoHash.MatchString(infoHash) {
		return Link{}, fmt.Errorf("%w: %q", ErrInvalidInfoHash, infoHash)
	}
	infoHash = strings.ToLower(infoHash)

	lists := make([][]string, 0, 1+len(extra))
	lists = append(lists, DefaultTrackers)
	lists = append(lists, extra...)
	trackers := MergeTrackers(lists...)

	var sb strings.Builder
	sb.WriteString("magnet:?xt=urn:btih:")
	sb.WriteString(infoHash)
	if name := strings.TrimSpace(displayName); name != "" {
		sb.WriteString("&dn=")
		sb.WriteString(url.QueryEscape(name))
	}
	for _, tr := range trackers {
		sb.WriteString("&tr=")
		sb.WriteString(url.QueryEscape(tr))
	}

	return Link{
		InfoHash:    infoHash,
		DisplayName: strings.TrimSpace(displayName),
		Trackers:    trackers,
		URI:         sb.String(),
	}, nil
}

// MergeTrackers concatenates the lists, trimming entries and dropping blanks and repeats.
func MergeTrackers(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, tr := range list {
			tr = strings.TrimSpace(tr)
			if tr == "" {
				continue
			}
			if _, dup := seen[tr]; dup {
				continue
			}
			seen[tr] = struct{}{}
			out = append(out, tr)
		}
	}
	return out
}

// Parse validates a user-supplied magnet URI and returns its parts.
func Parse(uri string) (Link, error) {
	m, err := metainfo.ParseMagnetUri(strings.TrimSpace(uri))
	if err != nil {
		return Link{}, fmt.Errorf("invalid magnet link: %w", err)
	}

	return Link{
		InfoHash:    m.InfoHash.HexString(),
		DisplayName: m.DisplayName,
		Trackers:    m.Trackers,
		URI:         strings.TrimSpace(uri),
	}, nil
}
