package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/config"
	"authsvc/internal/handlers"
)

func TestServerAppliesGlobalMiddleware(t *testing.T) {
	cfg := &config.AppConfig{
		Environment: config.EnvDevelopment,
		HTTP:        config.HTTPConfig{Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1024},
	}
	srv, err := NewHTTPServer(cfg, zerolog.Nop(), handlers.NewHandlerSet(handlers.Deps{Config: cfg, Log: zerolog.Nop()}))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerRejectsBadTrustedProxy(t *testing.T) {
	cfg := &config.AppConfig{HTTP: config.HTTPConfig{TrustedProxies: []string{"not-an-ip"}}}
	_, err := NewHTTPServer(cfg, zerolog.Nop(), handlers.NewHandlerSet(handlers.Deps{Config: cfg}))
	assert.Error(t, err)
}
