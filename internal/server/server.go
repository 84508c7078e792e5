/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration into a running playback service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/timelapse/internal/api"
	"github.com/friendsincode/timelapse/internal/commit"
	"github.com/friendsincode/timelapse/internal/config"
	"github.com/friendsincode/timelapse/internal/db"
	"github.com/friendsincode/timelapse/internal/eventbus"
	"github.com/friendsincode/timelapse/internal/events"
	"github.com/friendsincode/timelapse/internal/journal"
	"github.com/friendsincode/timelapse/internal/playback"
	"github.com/friendsincode/timelapse/internal/prefs"
	"github.com/friendsincode/timelapse/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db      *gorm.DB
	prefs   prefs.Lookup
	coord   *commit.Coordinator
	journal *journal.Journal
	bus     *events.Bus
	bridge  *eventbus.Bridge
	ctrl    *playback.Controller
	api     *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("timelapse-api"))
	router.Use(telemetry.MetricsMiddleware)

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		if cerr := srv.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("cleanup after failed init")
		}
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for the events stream; handlers bound their own work.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	lookup, err := s.initPreferences()
	if err != nil {
		return err
	}
	s.prefs = lookup

	s.coord = commit.NewCoordinator(s.prefs, s.cfg.CommitTimeout, s.logger)
	if s.cfg.PhasedCommit {
		s.coord.AddArbitrator(commit.ArbitratorFunc(func(commit.Transition) bool { return true }))
	}
	s.coord.Register(commit.NewLogListener(s.logger, zerolog.DebugLevel))

	s.journal = journal.New(s.cfg.JournalSize)
	s.bus = events.NewBus()

	if err := s.initEventBridge(); err != nil {
		return err
	}

	s.ctrl = playback.NewController(s.coord, s.logger,
		playback.WithBus(s.bus),
		playback.WithJournal(s.journal),
		playback.WithPreferences(s.prefs),
		playback.WithDefaultChangeRate(s.cfg.ChangeRate),
	)
	s.DeferClose(func() error {
		s.ctrl.Close()
		return nil
	})

	var secret []byte
	if s.cfg.JWTSigningKey != "" {
		secret = []byte(s.cfg.JWTSigningKey)
	} else if s.cfg.IsProduction() {
		s.logger.Warn().Msg("TIMELAPSE_JWT_SIGNING_KEY is not set; playback control routes are unauthenticated")
	}
	s.api = api.New(s.ctrl, s.journal, s.bus, secret, s.logger)
	return nil
}

// initPreferences builds the preference lookup. The memory store is seeded
// from configuration; database stores fall back to the same values.
func (s *Server) initPreferences() (prefs.Lookup, error) {
	if s.cfg.PrefsBackend == config.PrefsMemory {
		store := prefs.NewMemoryStore(nil)
		store.SetDuration(prefs.KeyCommitTimeout, s.cfg.CommitTimeout)
		store.SetDuration(prefs.KeyChangeRate, s.cfg.ChangeRate)
		return store, nil
	}

	database, err := db.Connect(s.cfg.PrefsBackend, s.cfg.PrefsDSN, s.logger)
	if err != nil {
		return nil, fmt.Errorf("connect preference database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	store, err := prefs.NewDBStore(database, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("backend", string(s.cfg.PrefsBackend)).Msg("preference store ready")
	return store, nil
}

func (s *Server) initEventBridge() error {
	var transport eventbus.Transport

	switch s.cfg.EventBus {
	case config.EventBusRedis:
		rcfg := eventbus.DefaultRedisConfig()
		rcfg.Addr = s.cfg.RedisAddr
		rcfg.Password = s.cfg.RedisPassword
		rcfg.DB = s.cfg.RedisDB
		transport = eventbus.NewRedisTransport(rcfg, s.logger)
	case config.EventBusNATS:
		ncfg := eventbus.DefaultNATSConfig()
		ncfg.URL = s.cfg.NATSURL
		ncfg.Token = s.cfg.NATSToken
		ncfg.Name = "timelapse-" + s.cfg.InstanceID
		nt, err := eventbus.NewNATSTransport(ncfg, s.logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		transport = nt
	default:
		return nil
	}

	s.bridge = eventbus.NewBridge(s.bus, transport, s.cfg.InstanceID, s.logger)
	s.DeferClose(s.bridge.Close)
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}

// HTTPServer returns the configured HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Controller exposes the playback controller for embedding callers.
func (s *Server) Controller() *playback.Controller {
	return s.ctrl
}

// Close stops background work and releases resources in reverse order.
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
	if s.bridge == nil && s.db == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.bridge != nil {
		s.bridge.Start(ctx)
	}

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
