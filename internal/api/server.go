// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/abbot/internal/api/handlers"
	"github.com/autobrr/abbot/internal/buildinfo"
	"github.com/autobrr/abbot/internal/config"
	"github.com/autobrr/abbot/internal/metrics"
	"github.com/autobrr/abbot/internal/mirror"
)

// Service is implemented by *dispatch.Service.
type Service interface {
	handlers.BookService
	handlers.DownloadService
}

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	service  Service
	resolver *mirror.Resolver
	metrics  *metrics.Metrics
}

type Dependencies struct {
	Config   *config.AppConfig
	Version  string
	Service  Service
	Resolver *mirror.Resolver
	Metrics  *metrics.Metrics
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			// searches walk several pages through the governor
			WriteTimeout: 180 * time.Second,
			IdleTimeout:  180 * time.Second,
		},
		logger:   log.Logger.With().Str("module", "api").Logger(),
		config:   deps.Config,
		version:  deps.Version,
		service:  deps.Service,
		resolver: deps.Resolver,
		metrics:  deps.Metrics,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := net.JoinHostPort(s.config.Config.Host, fmt.Sprint(s.config.Config.Port))

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: http://%s%sapi", host, s.baseURL())

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) baseURL() string {
	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// Search responses are large JSON lists
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedMethods: []string{"HEAD", "OPTIONS", "GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		MaxAge: 300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler(map[string]handlers.ReadyCheck{
		"mirrors": s.mirrorsReady,
	})
	booksHandler := handlers.NewBooksHandler(s.service)
	downloadsHandler := handlers.NewDownloadsHandler(s.service)
	mirrorsHandler := handlers.NewMirrorsHandler(s.resolver, s.resolver.Registry())

	apiRouter := chi.NewRouter()
	apiRouter.Group(func(r chi.Router) {
		r.Use(requestLogger(s.logger))

		r.Get("/version", s.handleVersion)
		r.Get("/openapi.yaml", handleOpenAPI)

		r.Get("/search", booksHandler.Search)
		r.Get("/details", booksHandler.Details)

		r.Post("/send", downloadsHandler.Send)
		r.Get("/status", downloadsHandler.Status)
		r.Delete("/torrents/{id}", downloadsHandler.Delete)

		r.Get("/mirrors", mirrorsHandler.List)
	})

	baseURL := s.baseURL()

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	if s.config.Config.MetricsEnabled && s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Mount(baseURL+"api", apiRouter)

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + s.config.Config.BaseURL + " instead of /"))
		})
	}

	return r, nil
}

type versionResponse struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	HasClient bool   `json:"hasClient"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	handlers.RespondJSON(w, http.StatusOK, versionResponse{
		Version:   s.version,
		Build:     buildinfo.String(),
		HasClient: s.service.HasClient(),
	})
}

// mirrorsReady fails only when every host probed so far was unreachable. Nothing probed yet
// counts as ready since the first search resolves lazily.
func (s *Server) mirrorsReady(context.Context) error {
	probes := s.resolver.Status()
	if len(probes) == 0 {
		return nil
	}
	for _, p := range probes {
		if p.Outcome.Reachable() {
			return nil
		}
	}
	return fmt.Errorf("all %d probed mirrors unreachable", len(probes))
}
