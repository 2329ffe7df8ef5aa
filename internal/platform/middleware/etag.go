package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ETagConfig controls the validators attached to successful GET responses.
type ETagConfig struct {
	CacheControl string
	VaryHeaders  []string
}

// DefaultETagConfig requires clients to revalidate every response.
func DefaultETagConfig() ETagConfig {
	return ETagConfig{
		CacheControl: "private, no-cache",
		VaryHeaders:  []string{"Accept", "Origin"},
	}
}

// bufferedWriter holds the status and body until the ETag is known.
type bufferedWriter struct {
	writer http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *bufferedWriter) Header() http.Header         { return w.writer.Header() }
func (w *bufferedWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }
func (w *bufferedWriter) WriteHeader(code int)        { w.status = code }

func (w *bufferedWriter) flush() error {
	w.writer.WriteHeader(w.status)
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := w.writer.Write(w.buf.Bytes())
	return err
}

// ETag hashes GET and HEAD response bodies into a weak ETag, sets
// Cache-Control and Vary, and answers If-None-Match hits with 304.
// Error responses pass through untouched.
func ETag(cfg ETagConfig) echo.MiddlewareFunc {
	vary := strings.Join(cfg.VaryHeaders, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}

			res := c.Response()
			orig := res.Writer
			buf := &bufferedWriter{writer: orig, status: http.StatusOK}
			res.Writer = buf
			err := next(c)
			res.Writer = orig
			if err != nil {
				// Nothing reached the client yet; let the error handler respond.
				res.Committed = false
				return err
			}

			if buf.status >= http.StatusBadRequest {
				return buf.flush()
			}

			h := res.Header()
			if cfg.CacheControl != "" {
				h.Set("Cache-Control", cfg.CacheControl)
			}
			if vary != "" {
				h.Set("Vary", vary)
			}
			tag := computeETag(buf.buf.Bytes())
			h.Set("ETag", tag)

			if inm := req.Header.Get("If-None-Match"); inm != "" && etagMatch(inm, tag) {
				h.Del("Content-Type")
				h.Del("Content-Length")
				res.Status = http.StatusNotModified
				orig.WriteHeader(http.StatusNotModified)
				return nil
			}
			return buf.flush()
		}
	}
}

func computeETag(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf(`W/"%x"`, sum[:16])
}

// etagMatch reports whether an If-None-Match value names tag. It accepts
// lists and "*" and compares weakly.
func etagMatch(header, tag string) bool {
	header = strings.TrimSpace(header)
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == strings.TrimPrefix(tag, "W/") {
			return true
		}
	}
	return false
}
