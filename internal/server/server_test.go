/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/timelapse/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:   "test",
		HTTPBind:      "127.0.0.1",
		HTTPPort:      8080,
		CommitTimeout: time.Second,
		ChangeRate:    time.Second,
		JournalSize:   8,
		PhasedCommit:  true,
		PrefsBackend:  config.PrefsMemory,
		EventBus:      config.EventBusMemory,
		InstanceID:    "test-node",
	}
}

func TestNewServesHealthMetricsAndAPI(t *testing.T) {
	srv, err := New(testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	if got := srv.HTTPServer().Addr; got != "127.0.0.1:8080" {
		t.Fatalf("Addr = %q", got)
	}

	for _, path := range []string{"/healthz", "/api/v1/health", "/api/v1/playback"} {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s status=%d", path, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "timelapse_api_requests_total") {
		t.Fatal("metrics endpoint does not expose API counters")
	}
}

func TestNewWithSQLitePreferences(t *testing.T) {
	cfg := testConfig()
	cfg.PrefsBackend = config.PrefsSQLite
	cfg.PrefsDSN = ":memory:"

	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if srv.db == nil {
		t.Fatal("sqlite backend should open a database")
	}
	if got := srv.coord.Timeout(); got != time.Second {
		t.Fatalf("Timeout = %v, want configured default", got)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewFailsWhenNATSUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.EventBus = config.EventBusNATS
	cfg.NATSURL = "nats://127.0.0.1:1"

	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unreachable NATS")
	}
}
