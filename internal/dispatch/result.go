// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"context"
	"errors"

	"github.com/autobrr/abbot/internal/magnet"
	"github.com/autobrr/abbot/internal/scraper"
	"github.com/autobrr/abbot/internal/torrentclient"
)

type FailureKind string

const (
	KindNone              FailureKind = ""
	KindInvalidRequest    FailureKind = "invalid_request"
	KindSourceUnreachable FailureKind = "source_unreachable"
	KindParseFailure      FailureKind = "parse_failure"
	KindSSRFRejected      FailureKind = "ssrf_rejected"
	KindHashNotFound      FailureKind = "hash_not_found"
	KindClientUnavailable FailureKind = "client_unavailable"
	KindClientProtocol    FailureKind = "client_protocol"
	KindClientRejected    FailureKind = "client_rejected"
	KindTimeout           FailureKind = "timeout"
	KindInternal          FailureKind = "internal"
)

// Result is the outcome of an add or remove, with a message meant for the user.
type Result struct {
	OK      bool        `json:"ok"`
	Message string      `json:"message"`
	Kind    FailureKind `json:"kind,omitempty"`
}

func success(msg string) Result {
	return Result{OK: true, Message: msg}
}

func failure(kind FailureKind, msg string) Result {
	return Result{Kind: kind, Message: msg}
}

// Classify maps an error from the scrape or client layer to its failure kind.
func Classify(err error) FailureKind {
	var (
		ssrf *scraper.SSRFError
		pe   *torrentclient.ProtocolError
	)

	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &ssrf):
		return KindSSRFRejected
	case errors.Is(err, scraper.ErrQueryTooShort), errors.Is(err, magnet.ErrInvalidInfoHash), errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, scraper.ErrSourceUnreachable):
		return KindSourceUnreachable
	case errors.Is(err, scraper.ErrHashNotFound):
		return KindHashNotFound
	case errors.Is(err, scraper.ErrParseFailure):
		return KindParseFailure
	case errors.As(err, &pe):
		return KindClientProtocol
	case errors.Is(err, torrentclient.ErrRejected):
		return KindClientRejected
	case errors.Is(err, torrentclient.ErrClientUnavailable),
		errors.Is(err, torrentclient.ErrNotConnected),
		errors.Is(err, torrentclient.ErrClosed),
		errors.Is(err, ErrNoClient):
		return KindClientUnavailable
	default:
		return KindInternal
	}
}

func (k FailureKind) message() string {
	switch k {
	case KindInvalidRequest:
		return "Invalid request"
	case KindSourceUnreachable:
		return "The listing site is unreachable right now, try again later"
	case KindParseFailure:
		return "The page could not be read"
	case KindSSRFRejected:
		return "That link does not point at a known listing mirror"
	case KindHashNotFound:
		return "No info hash found on the details page"
	case KindClientUnavailable:
		return "Torrent client is unavailable"
	case KindClientProtocol:
		return "Torrent client sent an unexpected response"
	case KindClientRejected:
		return "Torrent client refused the request"
	case KindTimeout:
		return "The request timed out"
	default:
		return "Something went wrong"
	}
}
