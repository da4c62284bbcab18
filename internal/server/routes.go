package server

import (
	"github.com/gin-contrib/cors"

	"github.com/looplj/m365gateway/internal/config"
	"github.com/looplj/m365gateway/internal/server/api"
	"github.com/looplj/m365gateway/internal/server/middleware"
)

// SetupRoutes mounts /healthz once at the root and the models/chat/responses
// surface twice, under /v1 and /openai/v1, per the spec's "accept both path
// prefixes" contract.
func SetupRoutes(srv *Server, cfg *config.Config, handlers *api.Handlers) {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}

	srv.Use(cors.New(corsConfig))
	srv.Use(middleware.AccessLog())

	srv.GET("/healthz", handlers.Health)

	for _, prefix := range []string{"/v1", "/openai/v1"} {
		group := srv.Group(prefix, middleware.WithTimeout(cfg.LLMRequestTimeout()))

		group.GET("/models", handlers.ListModels)
		group.POST("/chat/completions", handlers.ChatCompletions)
		group.POST("/responses", handlers.Responses)
		group.GET("/responses", handlers.ListResponses)
		group.GET("/responses/:id", handlers.GetResponse)
		group.DELETE("/responses/:id", handlers.DeleteResponse)
	}
}
