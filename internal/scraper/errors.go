// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSourceUnreachable means every mirror failed or the whole set is in backoff.
	ErrSourceUnreachable = errors.New("source unreachable")
	// ErrParseFailure marks one page or record that could not be read. Callers skip it.
	ErrParseFailure  = errors.New("parse failure")
	ErrQueryTooShort = errors.New("query must be at least 2 characters")
	ErrHashNotFound  = errors.New("info hash not found on page")
)

// SSRFError rejects a details link that does not point at a listing mirror.
type SSRFError struct {
	Link   string
	Reason string
}

func (e *SSRFError) Error() string {
	return fmt.Sprintf("refusing to fetch %q: %s", e.Link, e.Reason)
}

func (e *SSRFError) Is(target error) bool {
	_, ok := target.(*SSRFError)
	return ok
}

// FetchError is a failed page request. Status is 0 when no response arrived.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// MirrorFault reports whether the failure points at the mirror itself rather than the page.
// 403 and 429 are how mirrors block scrapers, so they count against the mirror like a 5xx.
func (e *FetchError) MirrorFault() bool {
	switch {
	case e.Status == 0, e.Status >= 500:
		return true
	case e.Status == http.StatusForbidden, e.Status == http.StatusTooManyRequests:
		return true
	}
	return false
}
