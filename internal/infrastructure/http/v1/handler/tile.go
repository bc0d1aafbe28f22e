package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/infrastructure/http/v1/dto"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
)

const retryAfterSeconds = 5

func (h *Handler) Tile(c *gin.Context) {
	l := logger.FromContext(c.Request.Context())

	var req dto.TileRequest
	if err := c.ShouldBindUri(&req); err != nil {
		l.Warn("invalid tile parameters", "error", err)
		h.RespondWithJSON(c, http.StatusBadRequest, "z, x and y should be non-negative integers", nil)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		l.Warn("invalid tile parameters", "error", err)
		h.RespondWithJSON(c, http.StatusBadRequest, fmt.Sprintf("z should be at most %d", tile.MaxZoom), nil)
		return
	}

	addr := tile.NewAddress(req.Z, req.X, req.Y)
	if !addr.Valid() {
		h.RespondWithJSON(c, http.StatusBadRequest, "tile is outside of the zoom level grid", nil)
		return
	}

	task := tile.NewTask(addr)
	l.Debug("tile request", "task", task.ID, "z", addr.Zoom, "x", addr.Column, "y", addr.Row)

	// The callback runs on a chain goroutine; hand the task back here.
	done := make(chan *tile.Task, 1)
	h.tiles.Load(task, func(t *tile.Task) {
		select {
		case done <- t:
		default:
		}
	})

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case got := <-done:
		h.respondWithTile(c, got)
	case <-timer.C:
		l.Warn("tile request timed out", "task", task.ID, "tile", addr.String())
		h.RespondWithJSON(c, http.StatusGatewayTimeout, "timed out waiting for tile", nil)
	case <-c.Request.Context().Done():
		l.Debug("tile request cancelled", "task", task.ID, "tile", addr.String())
		c.Status(499)
	}
}

func (h *Handler) respondWithTile(c *gin.Context, task *tile.Task) {
	switch {
	case task.HasData():
		b := task.Address.MapTile().Bound()
		c.Header("X-Tile-Bounds", fmt.Sprintf("%f,%f,%f,%f", b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()))
		c.Header("Cache-Control", "public, max-age=604800")
		c.Header("X-OpenStreetMap-Attribution", "© OpenStreetMap contributors")
		c.Data(http.StatusOK, h.format, task.Data())
	case task.NeedsLoading():
		c.Header("Retry-After", fmt.Sprint(retryAfterSeconds))
		h.RespondWithJSON(c, http.StatusServiceUnavailable, "tile is not available offline yet", nil)
	default:
		h.RespondWithJSON(c, http.StatusNotFound, "tile not found", nil)
	}
}
