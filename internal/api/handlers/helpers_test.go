// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/abbot/internal/dispatch"
	"github.com/autobrr/abbot/internal/torrentclient"
)

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind dispatch.FailureKind
		want int
	}{
		{kind: dispatch.KindNone, want: http.StatusOK},
		{kind: dispatch.KindInvalidRequest, want: http.StatusBadRequest},
		{kind: dispatch.KindSSRFRejected, want: http.StatusBadRequest},
		{kind: dispatch.KindHashNotFound, want: http.StatusUnprocessableEntity},
		{kind: dispatch.KindClientRejected, want: http.StatusConflict},
		{kind: dispatch.KindSourceUnreachable, want: http.StatusBadGateway},
		{kind: dispatch.KindClientProtocol, want: http.StatusBadGateway},
		{kind: dispatch.KindClientUnavailable, want: http.StatusServiceUnavailable},
		{kind: dispatch.KindTimeout, want: http.StatusGatewayTimeout},
		{kind: dispatch.KindInternal, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForKind(tt.kind))
		})
	}
}

func TestRespondFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondFailure(rec, fmt.Errorf("list: %w", torrentclient.ErrClientUnavailable))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"list: torrent client unavailable","kind":"client_unavailable"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	RespondFailure(rec, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
