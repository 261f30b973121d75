package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BenDundee/ravana/internal/chatui"
	"github.com/BenDundee/ravana/internal/orchestrator"
	"github.com/BenDundee/ravana/internal/server"
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the knowledge base and serve the chat API",
	Long: `Recreates the knowledge base from data/processed, configures the
agents, and serves POST /<endpoint> and GET /healthz on the deployment api
address. Prompt, agent, persona and loop-limit edits under config/ and
prompts/ apply without a restart; API keys, embeddings and the listen
address are read once at startup.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// chatCmd starts the terminal client
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running ravana server",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var chatURL string

func init() {
	chatCmd.Flags().StringVar(&chatURL, "url", "", "Chat endpoint URL (default: deployment api_url)")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bootCtx, cancel := context.WithTimeout(ctx, timeout)
	controller, err := orchestrator.New(bootCtx, cfg, orchestrator.Deps{})
	cancel()
	if err != nil {
		return err
	}
	defer controller.Close()

	docs, _ := controller.Documents()
	logger.Info("Controller ready",
		zap.Int("documents", docs),
		zap.Strings("agents", controller.Handler().Names()),
		zap.Strings("tools", controller.Registry().Names()))

	go func() {
		if err := cfg.Watch(ctx, controller.OnConfigChange); err != nil {
			logger.Warn("Config watcher unavailable", zap.Error(err))
		}
	}()

	settings := server.SettingsFrom(cfg.Deployment().API)
	logger.Info("Serving chat API", zap.String("addr", settings.Addr), zap.String("endpoint", settings.Endpoint))
	if err := server.New(settings, controller).Run(ctx); err != nil {
		return err
	}
	logger.Info("Received shutdown signal")
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	url := chatURL
	if url == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		url = cfg.Deployment().APIURL
	}
	logger.Debug("Starting chat", zap.String("url", url))
	return chatui.Run(ctx, chatui.NewClient(url, nil), chatui.Options{Timeout: timeout})
}
