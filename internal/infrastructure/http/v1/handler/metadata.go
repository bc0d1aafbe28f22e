package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/infrastructure/http/v1/dto"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/usecase"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
)

func (h *Handler) Metadata(c *gin.Context) {
	l := logger.FromContext(c.Request.Context())

	meta, stats, err := h.describer.Describe(c.Request.Context())
	if errors.Is(err, usecase.ErrNotDescribable) {
		l.Warn("tile store cannot be described", "error", err)
		h.RespondWithJSON(c, http.StatusServiceUnavailable, "tile store is not available", nil)
		return
	}
	if err != nil {
		l.Error("failed to describe tile store", "error", err)
		h.RespondWithInternalServerError(c)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "got metadata", dto.MetadataResponse{
		Metadata: meta,
		Tiles:    stats.Tiles,
		Images:   stats.Images,
	})
}
