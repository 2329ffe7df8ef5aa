package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// SanitizeConfig bounds what a request may carry before it reaches a handler.
type SanitizeConfig struct {
	// MaxHeaderBytes caps any single header value.
	MaxHeaderBytes int
	// MaxParamBytes caps any single query parameter value.
	MaxParamBytes int
}

// DefaultSanitizeConfig returns the limits used by the server.
func DefaultSanitizeConfig() SanitizeConfig {
	return SanitizeConfig{
		MaxHeaderBytes: 8192,
		MaxParamBytes:  512,
	}
}

// suspiciousParam matches SQL and markup fragments that have no business in
// a procedure name. Search values are always bound parameters and JSON
// escaped on the way out, so a match is logged and never blocks.
var suspiciousParam = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|<script|javascript\s*:)`)

// Sanitize rejects requests that are malformed rather than merely odd:
// path traversal, NUL bytes, header splitting, oversized values and query
// parameters that are not valid UTF-8. Rejections are 400 with a
// {"message"} body.
func Sanitize(cfg SanitizeConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			if containsPathTraversal(path) || containsPathTraversal(rawPath) {
				return rejectRequest(c, "path traversal detected")
			}
			if containsNullByte(path) || containsNullByte(rawPath) {
				return rejectRequest(c, "null byte in path")
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > cfg.MaxHeaderBytes {
						return rejectRequest(c, "header value too large: "+name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return rejectRequest(c, "header injection detected: "+name)
					}
				}
			}

			for key, values := range req.URL.Query() {
				for _, v := range values {
					switch {
					case containsNullByte(key) || containsNullByte(v):
						return rejectRequest(c, "null byte in query parameter "+key)
					case !utf8.ValidString(key) || !utf8.ValidString(v):
						return rejectRequest(c, "query parameter "+key+" is not valid UTF-8")
					case len(v) > cfg.MaxParamBytes:
						return rejectRequest(c, "query parameter "+key+" is too long")
					}
					if suspiciousParam.MatchString(v) {
						logger.Warn().
							Str("param", key).
							Str("path", path).
							Str("remote_ip", c.RealIP()).
							Msg("suspicious query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

// containsPathTraversal checks for ".." in raw, encoded and double-encoded
// forms.
func containsPathTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") ||
		strings.Contains(lower, "%2e%2e") ||
		strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

func rejectRequest(c echo.Context, reason string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"message": reason})
}
