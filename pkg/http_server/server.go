package http_server

import (
	"context"
	"net"
	"net/http"

	"github.com/jaennil/guide_helper/backend/tilecache/pkg/config"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
)

// NewServer builds the HTTP server. Every request context carries ctx's
// logger.
func NewServer(ctx context.Context, cfg config.Server, handler http.Handler) *http.Server {
	l := logger.FromContext(ctx)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return logger.WithLogger(context.Background(), l)
		},
	}
}
