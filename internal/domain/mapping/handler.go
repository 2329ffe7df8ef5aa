package mapping

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler provides REST endpoints for mapping search.
type Handler struct {
	svc *Service
}

// NewHandler creates a new mapping handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers mapping routes on g, which is expected to be
// mounted at /api/mappings.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/search", h.Search)
}

// Search handles GET /api/mappings/search?q=...&limit=...
func (h *Handler) Search(c echo.Context) error {
	req, err := parseSearchRequest(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.Search(c.Request().Context(), req.Query, req.Limit)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func parseSearchRequest(c echo.Context) (SearchRequest, error) {
	req := SearchRequest{Query: c.QueryParam("q"), Limit: DefaultLimit}
	// A limit that is present but empty is rejected, not defaulted.
	if values, ok := c.QueryParams()["limit"]; ok {
		limit, err := strconv.Atoi(values[0])
		if err != nil {
			return req, echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		req.Limit = limit
	}
	if err := req.Validate(); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "mapping store unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
