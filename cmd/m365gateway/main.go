// Command m365gateway runs the OpenAI-compatible HTTP/SSE proxy in front of
// Microsoft 365 Copilot's Graph and Substrate transports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/looplj/m365gateway/internal/build"
	"github.com/looplj/m365gateway/internal/config"
	"github.com/looplj/m365gateway/internal/debuglog"
	"github.com/looplj/m365gateway/internal/log"
	"github.com/looplj/m365gateway/internal/m365"
	"github.com/looplj/m365gateway/internal/pkg/httpclient"
	"github.com/looplj/m365gateway/internal/server"
	"github.com/looplj/m365gateway/internal/server/api"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Println("m365gateway " + build.Version)
			return
		case "build-info":
			fmt.Println(build.GetBuildInfo().String())
			return
		case "help", "--help", "-h":
			showHelp()
			return
		}
	}

	if err := run(); err != nil {
		log.Error(context.Background(), "fatal error", log.Cause(err))
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println(`m365gateway [command]

Commands:
  (none)       run the gateway, reading the config file named by M365GW_CONFIG
               (defaults and M365GW_* env vars only when it is unset)
  version      print the build version
  build-info   print detailed build information
  help         print this message`)
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("M365GW_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.SetLevel(cfg.LogLevel)

	srv := buildServer(cfg)

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Run()
	}()

	stop, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server run: %w", err)
		}

		return nil
	case <-stop.Done():
	}

	log.Info(ctx, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

// buildServer wires every component by hand: this module forgoes the
// reference gateway's fx dependency-injection graph in favor of a single
// explicit composition root.
func buildServer(cfg *config.Config) *server.Server {
	httpClient := httpclient.New()

	graph := m365.NewGraphClient(httpClient, m365.GraphConfig{
		BaseURL:                    cfg.GraphBaseURL,
		CreateConversationPath:     cfg.CreateConversationPath,
		ChatPathTemplate:           cfg.ChatPathTemplate,
		ChatOverStreamPathTemplate: cfg.ChatOverStreamPathTemplate,
	})

	substrate := m365.NewSubstrateClient(cfg.Substrate)

	var acquirer m365.TokenAcquirer
	if cfg.TokenAcquireCommand != "" {
		acquirer = m365.CommandAcquirer{Name: cfg.TokenAcquireCommand, Args: cfg.TokenAcquireArgs}
	}

	tokens := m365.NewTokenProvider(cfg.TokenFilePath, acquirer, cfg.IgnoreIncomingAuthHeader)

	convStore := m365.NewConversationStore(cfg.ConversationTTL())
	respStore := m365.NewResponseStore(cfg.ConversationTTL())

	debugSink := debuglog.New(cfg.DebugLogDir)

	orchestrator := m365.NewOrchestrator(cfg, convStore, respStore, graph, substrate, tokens, debugSink)

	handlers := api.NewHandlers(orchestrator, cfg.DefaultModel)

	return server.New(cfg, handlers)
}
