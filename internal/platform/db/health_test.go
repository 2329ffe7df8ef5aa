package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestSQLPoolStats(t *testing.T) {
	stats := SQLPoolStats(sql.DBStats{
		MaxOpenConnections: 10,
		OpenConnections:    3,
		InUse:              1,
		Idle:               2,
		WaitCount:          7,
		WaitDuration:       1500 * time.Millisecond,
	})

	if stats.TotalConns != 3 {
		t.Errorf("expected TotalConns 3, got %d", stats.TotalConns)
	}
	if stats.IdleConns != 2 {
		t.Errorf("expected IdleConns 2, got %d", stats.IdleConns)
	}
	if stats.AcquiredConns != 1 {
		t.Errorf("expected AcquiredConns 1, got %d", stats.AcquiredConns)
	}
	if stats.MaxConns != 10 {
		t.Errorf("expected MaxConns 10, got %d", stats.MaxConns)
	}
	if stats.AcquireCount != 7 {
		t.Errorf("expected AcquireCount 7, got %d", stats.AcquireCount)
	}
	if stats.AcquireDuration != "1.5s" {
		t.Errorf("expected AcquireDuration '1.5s', got %q", stats.AcquireDuration)
	}
	if !stats.Healthy {
		t.Error("expected Healthy to be true")
	}
}

func TestSQLPoolStats_NoConnections(t *testing.T) {
	stats := SQLPoolStats(sql.DBStats{MaxOpenConnections: 10})
	if stats.Healthy {
		t.Error("expected Healthy to be false when no connections are open")
	}
}

func okPinger() Pinger {
	return PingerFunc(func(context.Context) error { return nil })
}

func failingPinger() Pinger {
	return PingerFunc(func(context.Context) error { return errors.New("login failed") })
}

func TestReadyHandler_Ready(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := ReadyHandler(okPinger())(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ready" {
		t.Errorf("expected status ready, got %q", body["status"])
	}
}

func TestReadyHandler_Unavailable(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := ReadyHandler(failingPinger())(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "unavailable" {
		t.Errorf("expected status unavailable, got %q", body["status"])
	}
}

func TestReadyHandler_PingHasDeadline(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var hadDeadline bool
	p := PingerFunc(func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	ReadyHandler(p)(c)
	if !hadDeadline {
		t.Error("expected ping context to carry a deadline")
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	stats := func() *PoolStats { return &PoolStats{TotalConns: 2, Healthy: true} }
	if err := HealthHandler(failingPinger(), stats)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Status string    `json:"status"`
		Pool   PoolStats `json:"pool"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %q", body.Status)
	}
	if body.Pool.Healthy {
		t.Error("expected pool to be reported unhealthy")
	}
}

func TestHealthHandler_Healthy(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	stats := func() *PoolStats { return &PoolStats{TotalConns: 1, MaxConns: 10, Healthy: true} }
	if err := HealthHandler(okPinger(), stats)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
