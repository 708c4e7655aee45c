// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/abbot/internal/dispatch"
)

type ErrorResponse struct {
	Error string               `json:"error"`
	Kind  dispatch.FailureKind `json:"kind,omitempty"`
}

// RespondJSON writes data as JSON with the given status.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// RespondError writes a JSON error body.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondFailure writes a classified error, picking the status from its kind.
func RespondFailure(w http.ResponseWriter, err error) {
	kind := dispatch.Classify(err)
	RespondJSON(w, StatusForKind(kind), ErrorResponse{Error: err.Error(), Kind: kind})
}

// RespondResult writes an add or remove outcome.
func RespondResult(w http.ResponseWriter, res dispatch.Result) {
	if res.OK {
		RespondJSON(w, http.StatusOK, res)
		return
	}
	RespondJSON(w, StatusForKind(res.Kind), res)
}

func StatusForKind(kind dispatch.FailureKind) int {
	switch kind {
	case dispatch.KindNone:
		return http.StatusOK
	case dispatch.KindInvalidRequest, dispatch.KindSSRFRejected:
		return http.StatusBadRequest
	case dispatch.KindHashNotFound:
		return http.StatusUnprocessableEntity
	case dispatch.KindClientRejected:
		return http.StatusConflict
	case dispatch.KindSourceUnreachable, dispatch.KindParseFailure, dispatch.KindClientProtocol:
		return http.StatusBadGateway
	case dispatch.KindClientUnavailable:
		return http.StatusServiceUnavailable
	case dispatch.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
