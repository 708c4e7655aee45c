// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"time"
)

// ReadyCheck reports why the service cannot take requests yet. Nil means ready.
type ReadyCheck func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]ReadyCheck
}

func NewHealthHandler(checks map[string]ReadyCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReady runs every check and answers 503 when one fails.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	RespondJSON(w, status, map[string]any{"status": state, "checks": results})
}
