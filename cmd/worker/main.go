// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dialwave/dialwave-backend/internal/config"
	"github.com/dialwave/dialwave-backend/internal/db"
	"github.com/dialwave/dialwave-backend/internal/dispatch"
	"github.com/dialwave/dialwave-backend/internal/history"
	"github.com/dialwave/dialwave-backend/internal/repository"
	"github.com/dialwave/dialwave-backend/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()

	db.Init()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	itemRepo := &repository.ItemRepository{DB: db.DB}
	execLogRepo := &repository.ExecutionLogRepository{DB: db.DB}

	var sink history.Sink = history.NoopSink{}
	if cfg.AMQPURL != "" {
		amqpSink, err := history.NewAMQPSink(cfg.AMQPURL)
		if err != nil {
			log.Fatal("Failed to connect to RabbitMQ:", err)
		}
		defer amqpSink.Close()
		sink = amqpSink
	} else {
		log.Println("⚠️ AMQP_URL not set, conversation history disabled")
	}

	deps := dispatch.Deps{
		Calls:    dispatch.NewHTTPCallClient(cfg.VoiceAPIURL, cfg.ProviderAPIKey),
		Messages: dispatch.NewHTTPMessageClient(cfg.MessagingAPIURL, cfg.ProviderAPIKey),
		History:  sink,
	}

	w := worker.New(campaignRepo, itemRepo, execLogRepo, deps, worker.Config{
		TickInterval:  cfg.TickInterval,
		BatchSize:     cfg.BatchSize,
		BatchesPerSec: cfg.BatchesPerSec,
	})

	// Reclaim leases orphaned by a previous crash before the first tick
	if err := w.Recover(); err != nil {
		log.Fatal("recovery failed:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w.Run(ctx)
}
