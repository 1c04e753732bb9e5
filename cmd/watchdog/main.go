// Command watchdog runs the periodic stall/idle sweep (spec.md §4.6) as its
// own process, independently of cmd/api and cmd/worker, matching
// original_source/brain/watchdog_task.py's role as a separately scheduled
// task.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/opencrew/agent-mesh/internal/config"
	"github.com/opencrew/agent-mesh/internal/liveupdate"
	"github.com/opencrew/agent-mesh/internal/store"
	"github.com/opencrew/agent-mesh/internal/store/redisstore"
	"github.com/opencrew/agent-mesh/internal/turnengine"
	"github.com/opencrew/agent-mesh/internal/watchdog"
)

func main() {
	cfg := config.Load()

	gdb := store.Connect(cfg.DBDSN)
	if err := store.AutoMigrate(gdb); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	rstore := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rstore.Close()

	hub := liveupdate.NewHub(rstore, 100)
	repo := turnengine.NewRepo(gdb, hub)

	wd := watchdog.New(repo, cfg.WatchdogInterval, cfg.StallTimeout, cfg.IdleTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wd.Run(ctx)
}
