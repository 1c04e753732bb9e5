// Command api is the standalone REST/websocket service (spec.md §2): it
// serves the public user-facing surface and the internal turnengine.Repo
// surface, and publishes nudges onto the durable queue for cmd/worker to
// pick up. It never runs the turn engine itself and never starts the
// watchdog sweep — those are cmd/worker's and cmd/watchdog's jobs.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencrew/agent-mesh/internal/ai"
	"github.com/opencrew/agent-mesh/internal/config"
	"github.com/opencrew/agent-mesh/internal/crypto"
	"github.com/opencrew/agent-mesh/internal/dispatcher"
	"github.com/opencrew/agent-mesh/internal/httpapi"
	"github.com/opencrew/agent-mesh/internal/liveupdate"
	"github.com/opencrew/agent-mesh/internal/store"
	"github.com/opencrew/agent-mesh/internal/store/rabbitmq"
	"github.com/opencrew/agent-mesh/internal/store/redisstore"
	"github.com/opencrew/agent-mesh/internal/turnengine"
)

func main() {
	cfg := config.Load()

	gdb := store.Connect(cfg.DBDSN)
	if err := store.AutoMigrate(gdb); err != nil {
		log.Fatalf("automigrate: %v", err)
	}
	if err := store.SeedSystemAgent(gdb); err != nil {
		log.Fatalf("seed system agent: %v", err)
	}

	rstore := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rstore.Close()

	hub := liveupdate.NewHub(rstore, 100)
	repo := turnengine.NewRepo(gdb, hub)

	cipher, err := crypto.NewTokenCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("token cipher: %v", err)
	}

	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := model
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m, cfg.LLMRequestTimeout), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		m := model
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName, cfg.LLMRequestTimeout), nil
	})
	log.Printf("ai providers registered: %v", reg.Names())

	engine := turnengine.NewEngine(repo, reg, cipher, turnengine.Config{
		MaxRetries:          cfg.MaxRetries,
		HistoryWindow:       cfg.HistoryWindow,
		MinimumWindow:       cfg.MinimumWindow,
		SummaryThreshold:    cfg.SummaryThreshold,
		SummaryWindow:       cfg.SummaryWindow,
		SummaryMaxTokens:    cfg.SummaryMaxTokens,
		MaxMessageLength:    cfg.MaxMessageLength,
		MaxIterationsPerRun: cfg.MaxIterationsPerRun,
		LLMRequestTimeout:   cfg.LLMRequestTimeout,
	})

	publisher, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer publisher.Close()

	disp := dispatcher.New(engine, publisher)

	router := httpapi.NewRouter(gdb, cfg, cipher, repo, disp, hub)

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("api listening on %s", cfg.BindAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
