// Package server wires gin's HTTP surface to the orchestrator, following
// the reference gateway's *gin.Engine-embedding Server convention.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/looplj/m365gateway/internal/config"
	"github.com/looplj/m365gateway/internal/log"
	"github.com/looplj/m365gateway/internal/server/api"
	"github.com/looplj/m365gateway/internal/server/middleware"
)

type Server struct {
	*gin.Engine

	cfg    *config.Config
	server *http.Server
}

func New(cfg *config.Config, handlers *api.Handlers) *Server {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())

	srv := &Server{Engine: engine, cfg: cfg}

	SetupRoutes(srv, cfg, handlers)

	return srv
}

func (srv *Server) Run() error {
	log.Info(context.Background(), "run server", log.String("listen_url", srv.cfg.ListenURL))

	srv.server = &http.Server{
		Addr:         srv.cfg.ListenURL,
		Handler:      srv.Engine,
		ReadTimeout:  srv.cfg.RequestTimeout(),
		WriteTimeout: srv.cfg.LLMRequestTimeout(),
	}

	err := srv.server.ListenAndServe()
	if err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}

	return nil
}

func (srv *Server) Shutdown(ctx context.Context) error {
	return srv.server.Shutdown(ctx)
}
