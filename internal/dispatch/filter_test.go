// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/abbot/internal/domain"
)

func names(records []domain.TorrentRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return out
}

func TestFilterRecords(t *testing.T) {
	records := []domain.TorrentRecord{
		{ID: "1", Name: "Children of Dune"},
		{ID: "2", Name: "Dune Messiah"},
		{ID: "3", Name: "Project Hail Mary"},
		{ID: "4", Name: "Dune"},
	}

	tests := []struct {
		name   string
		search string
		want   []string
	}{
		{name: "empty", search: "  ", want: []string{"Children of Dune", "Dune Messiah", "Project Hail Mary", "Dune"}},
		{name: "substring_keeps_order", search: "dune", want: []string{"Children of Dune", "Dune Messiah", "Dune"}},
		{name: "all_words", search: "mary hail", want: []string{"Project Hail Mary"}},
		{name: "fuzzy", search: "dnmsh", want: []string{"Dune Messiah"}},
		{name: "substring_before_fuzzy", search: "dune m", want: []string{"Dune Messiah"}},
		{name: "no_match", search: "foundation", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(FilterRecords(records, tt.search)))
		})
	}
}
