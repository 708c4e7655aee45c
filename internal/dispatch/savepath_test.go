// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Dune", want: "Dune"},
		{in: `Dune: Part <1> / "Arrakis"?*|\`, want: "Dune Part 1  Arrakis"},
		{in: "Trailing dots...  ", want: "Trailing dots"},
		{in: "", want: FallbackTitle},
		{in: "?:*", want: FallbackTitle},
		{in: "...", want: FallbackTitle},
		{in: "con", want: "con_Safe"},
		{in: "LPT1.tar.gz", want: "LPT1.tar.gz_Safe"},
		{in: "Console", want: "Console"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeTitle(tt.in))
		})
	}
}

var reSuffix = regexp.MustCompile(`_[0-9a-f]{8}$`)

func TestSavePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/books", "Dune"), SavePath("/books", "Dune"))
	assert.Equal(t, "Dune", SavePath("", "Dune"))

	a := SavePath("/books", "")
	b := SavePath("/books", "")
	assert.NotEqual(t, a, b, "fallback names are made unique")
	assert.Regexp(t, reSuffix, a)
	assert.True(t, strings.HasPrefix(filepath.Base(a), FallbackTitle))

	assert.Regexp(t, reSuffix, SavePath("", "NUL"))

	long := SavePath("", strings.Repeat("a", 300))
	assert.Regexp(t, reSuffix, long)
	assert.Equal(t, maxNameLength+9, utf8.RuneCountInString(long))
}
