// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"fmt"
	"runtime"
)

// Set via ldflags: -X github.com/autobrr/abbot/internal/buildinfo.Version=v1.0.0
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent is sent to torrent client backends, never to the listing site.
var UserAgent = "abbot/" + Version

func String() string {
	commit := Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if commit == "" {
		commit = "unknown"
	}
	return fmt.Sprintf("%s (commit %s, built %s, %s/%s)", Version, commit, Date, runtime.GOOS, runtime.GOARCH)
}
