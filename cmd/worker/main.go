// Command worker is the standalone turn-worker process (spec.md §2):
// it drains the nudge queue and drives the turn engine for each project,
// independently of the API service.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/opencrew/agent-mesh/internal/ai"
	"github.com/opencrew/agent-mesh/internal/config"
	"github.com/opencrew/agent-mesh/internal/crypto"
	"github.com/opencrew/agent-mesh/internal/dispatcher"
	"github.com/opencrew/agent-mesh/internal/liveupdate"
	"github.com/opencrew/agent-mesh/internal/store"
	"github.com/opencrew/agent-mesh/internal/store/rabbitmq"
	"github.com/opencrew/agent-mesh/internal/store/redisstore"
	"github.com/opencrew/agent-mesh/internal/turnengine"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

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

	disp := dispatcher.New(engine, nil) // nil publisher: this process only consumes, never republishes

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	publisherForTopology, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("declare queue topology: %v", err)
	}
	defer publisherForTopology.Close()

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.NudgeMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.ProjectID == "" {
					log.Printf("worker=%d bad nudge message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := disp.RunNow(ctx, m.ProjectID); err != nil {
					attempt := rabbitmq.DeliveryAttempt(d.Headers)
					log.Printf("worker=%d project %s failed attempt=%d cost=%s err=%v", workerID, m.ProjectID, attempt, time.Since(start), err)
					if attempt+1 < rabbitmq.MaxDeliveryAttempts {
						if pubErr := publisherForTopology.PublishRetry(ctx, m.ProjectID, attempt+1); pubErr != nil {
							log.Printf("worker=%d requeue project %s failed: %v", workerID, m.ProjectID, pubErr)
							_ = d.Nack(false, false)
							continue
						}
						_ = d.Ack(false)
						continue
					}
					log.Printf("worker=%d project %s exhausted retries, dead-lettering", workerID, m.ProjectID)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed project=%s err=%v", workerID, m.ProjectID, err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
