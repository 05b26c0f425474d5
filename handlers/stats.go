package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/padraicbc/dhworkers/models"
)

// EntityStats returns the stored statistics of one entity.
func (h *Handler) EntityStats(c echo.Context) error {
	kind, ok := models.ParseKind(strings.ToLower(c.Param("kind")))
	if !ok || !slices.Contains(models.StatsKinds, kind) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown kind %q", c.Param("kind")))
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id param not set")
	}

	s, err := h.stats.EntityStats(c.Request().Context(), kind, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no statistics for %s %s", kind, id))
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}
