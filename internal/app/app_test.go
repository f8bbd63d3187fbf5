package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/router-for-me/GeminiDrawer/internal/config"
	"github.com/router-for-me/GeminiDrawer/internal/usage"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(t.TempDir() + "/missing.yaml")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	cfg.DatabaseDSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	return cfg
}

func TestBuildEngine_ServesBothAPIs(t *testing.T) {
	cfg := newTestConfig(t)
	conn, err := openDatabase(cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	engine, services := BuildEngine(conn, cfg)
	if services.Sender != nil {
		t.Fatalf("sender should stay nil without onebot url")
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/presets", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("presets status = %d", rec.Code)
	}

	body := bytes.NewBufferString(`{"prompt":"a cat","text_only":true,"user_id":"1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/draw", body)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("draw without keys status = %d body=%s", rec.Code, rec.Body.String())
	}

	rows, err := services.Recorder.List(req.Context(), usage.Filter{})
	if err != nil {
		t.Fatalf("list generations: %v", err)
	}
	if len(rows) != 1 || rows[0].Success {
		t.Fatalf("expected one failed generation, got %+v", rows)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/admin/keys", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("admin without token status = %d", rec.Code)
	}
}

func TestServiceOptions_FromDefaults(t *testing.T) {
	cfg := newTestConfig(t)
	opts := executorOptions(cfg)
	if opts.RequestTimeout != config.DefaultRequestTimeout || opts.MaxPolls != config.DefaultMaxPolls {
		t.Fatalf("unexpected executor options %+v", opts)
	}
	if opts.Models.RelayModel != config.DefaultRelayModel || opts.ProxyURL != "" {
		t.Fatalf("unexpected executor options %+v", opts)
	}
	settings := plannerSettings(cfg)()
	if !settings.GoogleEnabled || settings.RelayEnabled || settings.GoogleURL != config.DefaultGoogleURL {
		t.Fatalf("unexpected planner settings %+v", settings)
	}
}
