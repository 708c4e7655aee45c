// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

// Unknown is the single sentinel for values the listing site leaves blank or marks with "?".
const Unknown = "Unknown"

// BookSummary is one result row from a listing page.
type BookSummary struct {
	Title       string   `json:"title"`
	CoverURL    string   `json:"cover,omitempty"`
	Categories  []string `json:"categories"`
	Language    string   `json:"language"`
	Bitrate     string   `json:"bitrate"`
	Format      string   `json:"format"`
	FileSize    string   `json:"fileSize"`
	PostDate    string   `json:"postDate"`
	DetailsLink string   `json:"link"`
}

// HasCategory reports whether the summary carries the tag, ignoring case.
func (b BookSummary) HasCategory(tag string) bool {
	for _, c := range b.Categories {
		if strings.EqualFold(c, tag) {
			return true
		}
	}
	return false
}

// BookDetails is a fully fetched detail page. It is never cached.
type BookDetails struct {
	BookSummary
	Author      string   `json:"author"`
	Narrator    string   `json:"narrator"`
	Description string   `json:"description"`
	Trackers    []string `json:"trackers"`
	InfoHash    string   `json:"infoHash"`
	RawTitle    string   `json:"rawTitle"`
}

// HasInfoHash reports whether the parser found a usable hash.
func (d BookDetails) HasInfoHash() bool {
	return d.InfoHash != "" && d.InfoHash != Unknown
}

// TorrentRecord is the backend-neutral view of one torrent.
type TorrentRecord struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Progress float64 `json:"progress"`
	State    string  `json:"state"`
	Size     string  `json:"size"`
	Label    string  `json:"label,omitempty"`
}

// AddRequest carries everything a backend needs to start a magnet download.
type AddRequest struct {
	MagnetURI string
	Label     string
	SavePath  string
}
