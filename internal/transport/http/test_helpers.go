package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley-server/internal/auth"
	"github.com/parleychat/parley-server/internal/config"
	"github.com/parleychat/parley-server/internal/core"
	"github.com/parleychat/parley-server/internal/store"
	"github.com/parleychat/parley-server/internal/store/sqlite"
)

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st store.Store, jwtSecret string) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return auth.NewService(st, jwtConfig)
}

type testServer struct {
	ts   *httptest.Server
	st   store.Store
	auth *auth.Service
	hub  *core.Hub
}

// startTestServer wires store, auth, hub and router the way app.New does.
func startTestServer(t *testing.T) *testServer {
	t.Helper()

	st := createTestStore(t)
	authService := createTestAuthService(t, st, "test-secret")

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "test-secret"
	cfg.WSMessagesPerMinute = 1000

	disabledLogger := zerolog.Nop()

	hub := core.NewHub(st, &disabledLogger, core.Options{
		AutoCreateRooms:   cfg.AutoCreateRooms,
		AllowMultiSession: cfg.AllowMultiSession,
		HistoryLimit:      cfg.HistoryLimit,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		BroadcastTimeout:  cfg.BroadcastTimeout,
	})
	t.Cleanup(hub.Close)

	server := NewServer(hub, authService, st, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, st: st, auth: authService, hub: hub}
}
