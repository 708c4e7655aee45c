// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	FallbackTitle = "Unknown_Title_Fallback"
	reservedMark  = "_Safe"
	maxNameLength = 240
)

var reIllegalPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

var windowsReserved = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// SanitizeTitle turns a book title into a directory name that is valid on Windows and
// SMB shares as well as on Unix.
func SanitizeTitle(title string) string {
	name := reIllegalPathChars.ReplaceAllString(title, "")
	name = strings.Trim(name, ". ")
	if name == "" {
		return FallbackTitle
	}

	stem, _, _ := strings.Cut(name, ".")
	if isReserved(name) || isReserved(stem) {
		return name + reservedMark
	}
	return name
}

func isReserved(s string) bool {
	_, ok := windowsReserved[strings.ToUpper(strings.TrimSpace(s))]
	return ok
}

// SavePath returns the per-book download directory under base. Names that would be
// shared by unrelated books, and names too long for common filesystems, get a short
// random suffix.
func SavePath(base, title string) string {
	name := SanitizeTitle(title)

	unique := name == FallbackTitle || strings.HasSuffix(name, reservedMark)
	if utf8.RuneCountInString(name) > maxNameLength {
		name = strings.TrimRight(string([]rune(name)[:maxNameLength]), ". ")
		unique = true
	}
	if unique {
		name += "_" + uuid.NewString()[:8]
	}

	if base == "" {
		return name
	}
	return filepath.Join(base, name)
}
