/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/cueloop/internal/api"
	"github.com/friendsincode/cueloop/internal/config"
	"github.com/friendsincode/cueloop/internal/db"
	"github.com/friendsincode/cueloop/internal/eventbus"
	"github.com/friendsincode/cueloop/internal/events"
	"github.com/friendsincode/cueloop/internal/logbuffer"
	"github.com/friendsincode/cueloop/internal/orchestrator"
	"github.com/friendsincode/cueloop/internal/playlist"
	"github.com/friendsincode/cueloop/internal/remote"
	"github.com/friendsincode/cueloop/internal/storage"
	"github.com/friendsincode/cueloop/internal/telemetry"
	"github.com/friendsincode/cueloop/internal/transition"
	"github.com/friendsincode/cueloop/internal/version"
)

const requestTimeout = 60 * time.Second

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	logBuffer *logbuffer.Buffer
	bus       *events.Bus
	bridge    *remote.Bridge
	engine    *orchestrator.Engine
	api       *api.API
	forwarder *eventbus.Forwarder

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	srv := &Server{
		cfg:       cfg,
		logger:    logger.With().Str("component", "server").Logger(),
		router:    newRouter(),
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(logger); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Websocket handlers manage their own deadlines; the middleware
		// timeout covers the API routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func newRouter() chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("cueloop-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(requestTimeout)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip timeout middleware for WebSocket upgrade requests
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	return router
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(logger zerolog.Logger) error {
	persister, err := s.openPersister(logger)
	if err != nil {
		return err
	}

	player := s.cfg.Player()
	store := playlist.NewStore(persister, s.bus, logger)

	// The browser page is the provider, the countdown screen and the cue player.
	s.bridge = remote.New(logger)
	trans := transition.NewCoordinator(s.bridge, s.bridge.Cue(), player.Transition, s.bus, logger)
	s.engine = orchestrator.New(store, s.bridge, trans, player.Engine, player.Monitor, s.bus, logger)
	s.api = api.New(s.engine, s.bus, logger)
	if s.logBuffer != nil {
		s.api.SetLogBuffer(s.logBuffer)
	}

	return s.initEventExport(logger)
}

func (s *Server) initEventExport(logger zerolog.Logger) error {
	if !s.cfg.EventExportEnabled() {
		return nil
	}

	var sinks []eventbus.Sink
	if s.cfg.RedisAddr != "" {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		sinks = append(sinks, eventbus.NewRedisSink(context.Background(), redisCfg, logger))
	}
	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		sink, err := eventbus.NewNATSSink(natsCfg, logger)
		if err != nil {
			for _, sk := range sinks {
				_ = sk.Close()
			}
			return fmt.Errorf("event export: %w", err)
		}
		sinks = append(sinks, sink)
	}

	opts := eventbus.DefaultOptions()
	opts.Prefix = s.cfg.EventsPrefix
	for _, kind := range s.cfg.EventsExcluded {
		opts.Exclude = append(opts.Exclude, events.Kind(kind))
	}
	s.forwarder = eventbus.NewForwarder(s.bus, sinks, opts, logger)
	s.DeferClose(s.forwarder.Close)
	return nil
}

func (s *Server) openPersister(logger zerolog.Logger) (playlist.Persister, error) {
	if !s.cfg.StorageBackend.IsDatabase() {
		s.logger.Info().Str("path", s.cfg.StateFile).Msg("using file storage")
		return storage.NewFileStore(s.cfg.StateFile, logger), nil
	}

	database, err := db.Connect(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	s.db = database
	s.logger.Info().Str("backend", string(s.cfg.StorageBackend)).Msg("using database storage")
	return storage.NewDBStore(database, logger), nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Engine returns the playback orchestrator.
func (s *Server) Engine() *orchestrator.Engine {
	return s.engine
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.engine.Run(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		report, err := s.engine.LoadFromStorage(ctx)
		switch {
		case errors.Is(err, orchestrator.ErrStopped):
		case err != nil:
			s.logger.Warn().Err(err).Msg("restore saved playlist failed")
		default:
			s.logger.Info().Int("segments", report.Imported).Int("rejected", len(report.Problems)).Msg("saved playlist restored")
		}
	}()

	if s.forwarder != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.forwarder.Run(ctx)
		}()
	}

	// Start database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", telemetry.Handler())

	// The browser player page attaches here and becomes the provider.
	s.router.Handle("/ws/player", s.bridge)

	s.api.Routes(s.router)
}

type healthResponse struct {
	Status        string       `json:"status"`
	Version       version.Info `json:"version"`
	Storage       string       `json:"storage"`
	PlayerReady   bool         `json:"player_ready"`
	PlaylistItems int          `json:"playlist_items"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	resp := healthResponse{
		Status:        "ok",
		Version:       version.Current(),
		Storage:       string(s.cfg.StorageBackend),
		PlayerReady:   st.ProviderReady,
		PlaylistItems: st.Length,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
