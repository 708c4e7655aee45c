// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/abbot/internal/dispatch"
	"github.com/autobrr/abbot/internal/domain"
)

type DownloadService interface {
	HasClient() bool
	SendDetails(ctx context.Context, link, title string) dispatch.Result
	SendMagnet(ctx context.Context, uri, title string) dispatch.Result
	Status(ctx context.Context) ([]domain.TorrentRecord, error)
	Delete(ctx context.Context, id string, purge bool) dispatch.Result
}

type DownloadsHandler struct {
	service DownloadService
}

func NewDownloadsHandler(service DownloadService) *DownloadsHandler {
	return &DownloadsHandler{service: service}
}

// SendRequest names either a details link or a magnet. Title overrides the download folder name.
type SendRequest struct {
	Link   string `json:"link"`
	Magnet string `json:"magnet"`
	Title  string `json:"title"`
}

type StatusResponse struct {
	Count    int                    `json:"count"`
	Torrents []domain.TorrentRecord `json:"torrents"`
}

func (h *DownloadsHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("failed to decode send request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	link := strings.TrimSpace(req.Link)
	uri := strings.TrimSpace(req.Magnet)

	var res dispatch.Result
	switch {
	case link != "" && uri != "":
		RespondError(w, http.StatusBadRequest, "Send either a link or a magnet, not both")
		return
	case uri != "":
		res = h.service.SendMagnet(r.Context(), uri, req.Title)
	case link != "":
		res = h.service.SendDetails(r.Context(), link, req.Title)
	default:
		RespondError(w, http.StatusBadRequest, "A link or magnet is required")
		return
	}

	RespondResult(w, res)
}

// Status handles GET /api/status?search=. search narrows the list by torrent name.
func (h *DownloadsHandler) Status(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Status(r.Context())
	if err != nil {
		RespondFailure(w, err)
		return
	}
	records = dispatch.FilterRecords(records, r.URL.Query().Get("search"))

	RespondJSON(w, http.StatusOK, StatusResponse{Count: len(records), Torrents: records})
}

// Delete handles DELETE /api/torrents/{id}?purge=true. purge also removes downloaded data.
func (h *DownloadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	purge := false
	if raw := r.URL.Query().Get("purge"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "purge must be true or false")
			return
		}
		purge = v
	}

	RespondResult(w, h.service.Delete(r.Context(), id, purge))
}
