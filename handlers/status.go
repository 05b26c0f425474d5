package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/padraicbc/dhworkers/backfill"
	"github.com/padraicbc/dhworkers/checkpoint"
)

// Status returns the checkpoint, skipped units and logged errors of a run.
// With start and end query params it also lists the pending units.
func (h *Handler) Status(c echo.Context) error {
	run := c.Param("run")
	start, end := c.QueryParam("start"), c.QueryParam("end")

	var rng backfill.Range
	if start != "" || end != "" {
		var err error
		if rng, err = backfill.ParseRange(start, end); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	st, err := backfill.ReadStatus(c.Request().Context(), h.store, h.errlog, run, rng)
	switch {
	case errors.Is(err, checkpoint.ErrRunName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, checkpoint.ErrCorrupt):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}
