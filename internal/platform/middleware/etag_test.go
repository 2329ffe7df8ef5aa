package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func searchJSON(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"query": "ap", "results": []string{}})
}

func TestETag_SetsHeaders(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/mappings/search?q=ap", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := ETag(DefaultETagConfig())(searchJSON)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("expected ETag header")
	}
	if got := rec.Header().Get("Cache-Control"); got != "private, no-cache" {
		t.Errorf("unexpected Cache-Control %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Accept, Origin" {
		t.Errorf("unexpected Vary %q", got)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected body to be flushed")
	}
}

func TestETag_NotModified(t *testing.T) {
	e := echo.New()
	mw := ETag(DefaultETagConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/mappings/search?q=ap", nil)
	rec := httptest.NewRecorder()
	if err := mw(searchJSON)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tag := rec.Header().Get("ETag")

	req = httptest.NewRequest(http.MethodGet, "/api/mappings/search?q=ap", nil)
	req.Header.Set("If-None-Match", tag)
	rec = httptest.NewRecorder()
	if err := mw(searchJSON)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotModified {
		t.Errorf("expected 304, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
}

func TestETag_ErrorResponseUntouched(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/mappings/search", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := ETag(DefaultETagConfig())(func(c echo.Context) error {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "down"})
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("ETag") != "" {
		t.Error("expected no ETag on error response")
	}
}

func TestETag_ReturnedErrorLeavesResponseUncommitted(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/mappings/search", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := ETag(DefaultETagConfig())(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	})
	if err := h(c); err == nil {
		t.Fatal("expected error to propagate")
	}
	if c.Response().Committed {
		t.Error("expected response to remain uncommitted")
	}
}

func TestETag_SkipsNonGet(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodOptions, "/api/mappings/search", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := ETag(DefaultETagConfig())(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("ETag") != "" {
		t.Error("expected no ETag for OPTIONS")
	}
}

func TestEtagMatch(t *testing.T) {
	tag := `W/"abc"`
	tests := []struct {
		header string
		want   bool
	}{
		{`W/"abc"`, true},
		{`"abc"`, true},
		{`"x", W/"abc"`, true},
		{"*", true},
		{`"other"`, false},
	}
	for _, tt := range tests {
		if got := etagMatch(tt.header, tag); got != tt.want {
			t.Errorf("etagMatch(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
