package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
)

const (
	internalServerErrorText = "the server encountered an error and could not process your request"
)

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// TileLoader runs a tile task through the provider chain.
type TileLoader interface {
	Load(task *tile.Task, cb tile.Callback)
}

// Describer reports tileset metadata of the persistent store.
type Describer interface {
	Describe(ctx context.Context) (map[string]string, cache.Stats, error)
}

type Handler struct {
	validate  *validator.Validate
	tiles     TileLoader
	describer Describer
	format    string
	timeout   time.Duration
}

func NewHandler(v *validator.Validate, tiles TileLoader, d Describer, format string, timeout time.Duration) *Handler {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Handler{
		validate:  v,
		tiles:     tiles,
		describer: d,
		format:    format,
		timeout:   timeout,
	}
}

func (h *Handler) RespondWithInternalServerError(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusInternalServerError, internalServerErrorText, nil)
}

func (h *Handler) RespondWithJSON(c *gin.Context, code int, message string, data any) {
	success := code < 400

	r := response{
		Success: success,
		Message: message,
		Data:    data,
	}

	c.JSON(code, r)
}
