package controllers

import (
	"errors"
	"net/http"

	"github.com/larkpull/larkpull/internal/app"
	"github.com/larkpull/larkpull/internal/batch"
	"github.com/labstack/echo/v5"
)

type BatchController struct {
	App    *app.Context
	Runner *batch.Manager
}

// Launch starts a download batch for one table. Only one batch runs at a
// time; a second launch gets 409.
func (ctrl *BatchController) Launch(c *echo.Context) error {
	var req LaunchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.TableID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "table_id is required"})
	}

	b, err := ctrl.Runner.Launch(req.TableID)
	if err != nil {
		if errors.Is(err, batch.ErrBatchActive) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, toBatchResponse(b))
}

func (ctrl *BatchController) List(c *echo.Context) error {
	batches, err := ctrl.App.Store.GetBatches()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	out := make([]*BatchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	return c.JSON(http.StatusOK, out)
}

func (ctrl *BatchController) Get(c *echo.Context) error {
	id := c.Param("id")

	// Prefer the live batch so progress is current
	if active := ctrl.Runner.Active(); active != nil && active.ID == id {
		return c.JSON(http.StatusOK, toBatchResponse(active))
	}

	b, err := ctrl.App.Store.GetBatch(id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, toBatchResponse(b))
}

func (ctrl *BatchController) Results(c *echo.Context) error {
	id := c.Param("id")

	if _, err := ctrl.App.Store.GetBatch(id); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}

	results, err := ctrl.App.Store.GetResults(id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, results)
}

func (ctrl *BatchController) Cancel(c *echo.Context) error {
	id := c.Param("id")

	if !ctrl.Runner.Cancel(id) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active batch with that id"})
	}
	return c.NoContent(http.StatusAccepted)
}

func (ctrl *BatchController) Status(c *echo.Context) error {
	active := ctrl.Runner.Active()
	if active == nil {
		return c.JSON(http.StatusOK, StatusResponse{Active: false})
	}
	return c.JSON(http.StatusOK, StatusResponse{Active: true, Batch: toBatchResponse(active)})
}
