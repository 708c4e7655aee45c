// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/abbot/internal/mirror"
)

type MirrorStatus interface {
	Status() []mirror.MirrorProbeResult
}

type MirrorsHandler struct {
	status   MirrorStatus
	registry *mirror.Registry
}

func NewMirrorsHandler(status MirrorStatus, registry *mirror.Registry) *MirrorsHandler {
	return &MirrorsHandler{status: status, registry: registry}
}

type MirrorsResponse struct {
	Candidates []string                   `json:"candidates"`
	Probes     []mirror.MirrorProbeResult `json:"probes"`
}

// List returns the candidates in priority order and the last probe result per host.
func (h *MirrorsHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := MirrorsResponse{
		Candidates: []string{},
		Probes:     h.status.Status(),
	}
	if h.registry != nil {
		resp.Candidates = h.registry.Hosts()
	}

	RespondJSON(w, http.StatusOK, resp)
}
