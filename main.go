package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cortexhub/cortex-dispatch/internal/agent"
	"github.com/cortexhub/cortex-dispatch/internal/capability"
	"github.com/cortexhub/cortex-dispatch/internal/channel"
	"github.com/cortexhub/cortex-dispatch/internal/channel/discord"
	"github.com/cortexhub/cortex-dispatch/internal/channel/telegram"
	"github.com/cortexhub/cortex-dispatch/internal/channel/webchat"
	"github.com/cortexhub/cortex-dispatch/internal/classify"
	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/cortexhub/cortex-dispatch/internal/dispatch"
	"github.com/cortexhub/cortex-dispatch/internal/events"
	"github.com/cortexhub/cortex-dispatch/internal/logging"
	"github.com/cortexhub/cortex-dispatch/internal/memory"
	"github.com/cortexhub/cortex-dispatch/internal/model"
	"github.com/cortexhub/cortex-dispatch/internal/monitor"
	"github.com/cortexhub/cortex-dispatch/internal/route"
	"github.com/cortexhub/cortex-dispatch/internal/scheduler"
	"github.com/cortexhub/cortex-dispatch/internal/server"
	"github.com/cortexhub/cortex-dispatch/internal/tui"
	"github.com/cortexhub/cortex-dispatch/internal/workflow"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	tuiFlag := flag.Bool("tui", false, "Launch the debug chat TUI instead of the gateway")
	flag.Parse()

	// Local .env is optional
	_ = godotenv.Load()

	logger := logging.WithComponent("main")
	logger.Info("Starting Cortex-Dispatch", "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("Config not loaded, using defaults", "path", *configPath, "error", err)
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	// Model tiers
	primary, err := buildTierClient(cfg.Models.Primary)
	if err != nil {
		logger.Error("Primary tier unusable", "error", err)
		os.Exit(1)
	}
	fallback, err := buildTierClient(cfg.Models.Fallback)
	if err != nil {
		logger.Error("Fallback tier unusable", "error", err)
		os.Exit(1)
	}
	selector := model.NewSelector(primary, fallback, cfg.Models, logging.WithComponent("model"))
	for tier, client := range map[string]model.Client{"primary": primary, "fallback": fallback} {
		if err := client.Health(); err != nil {
			logger.Warn("Model tier health check failed", "tier", tier, "error", err)
		} else {
			logger.Info("Model tier OK", "tier", tier)
		}
	}

	// Conversation memory
	store, err := memory.NewStore(cfg.Memory)
	if err != nil {
		logger.Error("Memory store unavailable", "addr", cfg.Memory.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Event stream
	publisher, err := events.NewPublisher(cfg.Events, logging.WithComponent("events"))
	if err != nil {
		logger.Warn("Event stream disabled", "error", err)
		publisher = events.NopPublisher{}
	}
	defer publisher.Close()

	// Health monitor collaborator
	notifier := monitor.NewClient(cfg.Monitor, logging.WithComponent("monitor"))

	// Routing tables
	classifier, err := classify.FromConfig(cfg.Routing.ClassifierRules)
	if err != nil {
		logger.Error("Classifier rules rejected", "error", err)
		os.Exit(1)
	}
	router, err := route.FromConfig(cfg.Routing.RouterRules, logging.WithComponent("route"))
	if err != nil {
		logger.Error("Router rules rejected", "error", err)
		os.Exit(1)
	}

	// Capabilities and workflows
	extractor := model.NewExtractor(selector, cfg.Models.ExtractionModel, logging.WithComponent("extract"))
	registry := capability.NewRegistry()
	capability.RegisterBuiltins(registry, capability.Collaborators{})
	executor := capability.NewExecutor(registry, extractor, logging.WithComponent("capability"))

	workflows := workflow.NewRegistry()
	workflows.Register(workflow.NewDPAAssistant(nil))
	workflows.Register(workflow.NewDailyReport(nil))
	dispatcher := workflow.NewDispatcher(workflows, store, logging.WithComponent("workflow"))

	// Reasoning agent
	reasoner := agent.New(selector, store, notifier, cfg.Batcher, logging.WithComponent("agent"))

	pipeline := dispatch.NewPipeline(dispatch.Options{
		Classifier: classifier,
		Router:     router,
		Executor:   executor,
		Workflows:  dispatcher,
		Registry:   registry,
		Agent:      reasoner,
		Selector:   selector,
		Store:      store,
		Events:     publisher,
		Logger:     logging.WithComponent("dispatch"),
	})

	if *tuiFlag {
		if err := tui.Run(pipeline, selector); err != nil {
			logger.Error("TUI failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dev-mode rule reload
	sched := scheduler.New(*configPath, pipeline, logging.WithComponent("scheduler"))
	if err := sched.Start(cfg.Routing.ReloadCron); err != nil {
		logger.Error("Scheduler failed", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// Chat surfaces
	adapters := []channel.Adapter{
		telegram.NewTelegramAdapter(cfg.Channels.TelegramToken),
		discord.NewDiscordAdapter(cfg.Channels.DiscordToken),
		webchat.NewWebChatAdapter(cfg.Channels.WebChatPort, logging.WithComponent("webchat")),
	}
	gateway := dispatch.NewGateway(pipeline, adapters, logging.WithComponent("gateway"))
	go func() {
		if err := gateway.Run(ctx); err != nil {
			logger.Error("Gateway error", "error", err)
		}
	}()

	// HTTP API
	srv := server.New(cfg, pipeline, selector, store, logging.WithComponent("server"))
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	logger.Info("Shutdown complete")
}

// buildTierClient constructs a generation client for one tier.
func buildTierClient(tier config.TierConfig) (model.Client, error) {
	switch tier.Provider {
	case "ollama":
		return model.NewOllamaClient(&model.OllamaConfig{
			URL:          tier.BaseURL,
			DefaultModel: tier.Model,
		})
	case "openai-compatible", "openai", "":
		return model.NewOpenAIClient(&model.OpenAIConfig{
			BaseURL: tier.BaseURL,
			APIKey:  tier.APIKey,
			Model:   tier.Model,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", tier.Provider)
	}
}
