// Command orchestratord runs one project's tick reconciliation loop,
// optionally exposing the read-only status/metrics/websocket server
// from internal/httpapi. Wiring style (flag parsing, structured
// startup log, signal-driven shutdown) follows cmd/server/main.go's
// "construct collaborators, then serve" shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ocx/orchestrator/internal/clock"
	"github.com/ocx/orchestrator/internal/config"
	"github.com/ocx/orchestrator/internal/httpapi"
	"github.com/ocx/orchestrator/internal/ids"
	"github.com/ocx/orchestrator/internal/metrics"
	"github.com/ocx/orchestrator/internal/notify"
	"github.com/ocx/orchestrator/internal/orchestrator"
	"github.com/ocx/orchestrator/internal/statemanager"
	"github.com/ocx/orchestrator/internal/statusmirror"
)

func main() {
	configPath := flag.String("config", "orchestrator.yaml", "path to orchestrator config YAML")
	project := flag.String("project", "", "project name (required)")
	interval := flag.Duration("interval", 5*time.Second, "tick interval")
	spawnerURL := flag.String("spawner-url", "", "base URL of the session-spawn service; empty uses a no-op spawner")
	spawnerKey := flag.String("spawner-key", os.Getenv("ORCH_SPAWNER_API_KEY"), "bearer token for the session-spawn service")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("orchestratord: no .env loaded: %v", err)
	}

	if *project == "" {
		log.Fatal("orchestratord: -project is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("orchestratord: load config: %v", err)
	}

	log.Printf("starting orchestratord for project %q (base_dir=%s)", *project, cfg.BaseDir)

	clk := clock.System{}
	gen := ids.NewGeneratorWithClock(clk.Now)
	sm := statemanager.New(cfg.BaseDir, clk, gen, cfg.LockTimeout(), cfg.LockPoll())

	spawner := buildSpawner(*spawnerURL, *spawnerKey)
	sink := buildNotifySink(cfg.Notify)
	collector := metrics.New(*project)

	orch := orchestrator.New(sm, cfg, *project, spawner, sink)
	orch.Metrics = collector
	orch.OnSinkError = func(err error) { log.Printf("orchestratord: notify sink error: %v", err) }

	var mirror *statusmirror.Mirror
	if cfg.StatusMirror.Enabled {
		mirror, err = statusmirror.Open(cfg.StatusMirror.DSN)
		if err != nil {
			log.Fatalf("orchestratord: open status mirror: %v", err)
		}
		defer mirror.Close()
	}

	var api *httpapi.Server
	if cfg.HTTP.Enabled {
		api = httpapi.New(sm, *project)
		go func() {
			log.Printf("orchestratord: serving status API on %s", cfg.HTTP.Addr)
			if err := http.ListenAndServe(cfg.HTTP.Addr, api.Router()); err != nil {
				log.Fatalf("orchestratord: http server: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("orchestratord: shutting down")
			return
		case <-ticker.C:
			result, err := orch.Tick(ctx)
			if err != nil {
				log.Printf("orchestratord: tick failed: %v", err)
				continue
			}
			if mirror != nil {
				if err := mirror.Publish(ctx, *project, result.Status); err != nil {
					log.Printf("orchestratord: mirror publish failed: %v", err)
				}
			}
			if api != nil {
				if payload, err := json.Marshal(result.Status); err == nil {
					api.BroadcastStatus(ctx, payload)
				}
			}
		}
	}
}

func buildSpawner(baseURL, apiKey string) orchestrator.Spawner {
	if baseURL == "" {
		return orchestrator.NoopSpawner{}
	}
	return orchestrator.NewHTTPSpawner(baseURL, apiKey)
}

func buildNotifySink(cfg config.NotifyConfig) orchestrator.NotificationSink {
	switch cfg.Sink {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return notify.NewRedisSink(client, cfg.RedisChannel)
	case "pubsub":
		ctx := context.Background()
		client, err := pubsub.NewClient(ctx, cfg.GCPProject)
		if err != nil {
			log.Fatalf("orchestratord: pubsub client: %v", err)
		}
		return notify.NewPubSubSink(client.Topic(cfg.PubSubTopic))
	default:
		return notify.NewStdoutSink()
	}
}

