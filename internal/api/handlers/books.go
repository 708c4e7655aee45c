// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/abbot/internal/domain"
)

// maxPages caps the page count a caller may ask for in one search.
const maxPages = 10

type BookService interface {
	Search(ctx context.Context, query string, pageLimit int) ([]domain.BookSummary, error)
	Details(ctx context.Context, link string) (domain.BookDetails, error)
}

type BooksHandler struct {
	service BookService
}

func NewBooksHandler(service BookService) *BooksHandler {
	return &BooksHandler{service: service}
}

type SearchResponse struct {
	Query   string               `json:"query"`
	Count   int                  `json:"count"`
	Results []domain.BookSummary `json:"results"`
}

// Search handles GET /api/search?q=&pages=. pages is optional; zero uses the configured limit.
func (h *BooksHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		RespondError(w, http.StatusBadRequest, "Missing search query")
		return
	}

	pages := 0
	if raw := r.URL.Query().Get("pages"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPages {
			RespondError(w, http.StatusBadRequest, "pages must be between 1 and "+strconv.Itoa(maxPages))
			return
		}
		pages = n
	}

	results, err := h.service.Search(r.Context(), query, pages)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("search failed")
		RespondFailure(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, SearchResponse{Query: query, Count: len(results), Results: results})
}

// Details handles GET /api/details?link=.
func (h *BooksHandler) Details(w http.ResponseWriter, r *http.Request) {
	link := strings.TrimSpace(r.URL.Query().Get("link"))
	if link == "" {
		RespondError(w, http.StatusBadRequest, "Missing details link")
		return
	}

	details, err := h.service.Details(r.Context(), link)
	if err != nil {
		log.Warn().Err(err).Str("link", link).Msg("details fetch failed")
		RespondFailure(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, details)
}
