// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/autobrr/abbot/internal/domain"
)

// maxFuzzyDistance drops loose fuzzy matches.
const maxFuzzyDistance = 10

type recordMatch struct {
	record domain.TorrentRecord
	score  int
}

// FilterRecords keeps the records whose name matches search, best matches first. Substring
// matches rank above all-words matches, which rank above fuzzy matches. An empty search
// returns records unchanged.
func FilterRecords(records []domain.TorrentRecord, search string) []domain.TorrentRecord {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return records
	}
	words := strings.Fields(search)

	matches := make([]recordMatch, 0, len(records))
	for _, r := range records {
		name := strings.ToLower(r.Name)

		if strings.Contains(name, search) {
			matches = append(matches, recordMatch{record: r, score: 0})
			continue
		}

		if len(words) > 1 {
			all := true
			for _, w := range words {
				if !strings.Contains(name, w) {
					all = false
					break
				}
			}
			if all {
				matches = append(matches, recordMatch{record: r, score: 1})
				continue
			}
		}

		if fuzzy.MatchNormalizedFold(search, name) {
			if d := fuzzy.RankMatchNormalizedFold(search, name); d < maxFuzzyDistance {
				matches = append(matches, recordMatch{record: r, score: 2 + d})
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score < matches[j].score })

	out := make([]domain.TorrentRecord, len(matches))
	for i, m := range matches {
		out[i] = m.record
	}
	return out
}
