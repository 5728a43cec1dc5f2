package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/report-bot/internal/config"
	"github.com/whisper/report-bot/internal/database"
	"github.com/whisper/report-bot/internal/messaging"
	"github.com/whisper/report-bot/internal/metrics"
	"github.com/whisper/report-bot/internal/report"
	"github.com/whisper/report-bot/internal/triage"
)

func main() {
	log.Println("Starting report triage service...")

	cfg := config.Load()

	db, err := database.Open(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "reportbot-triage"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	worker := triage.NewWorker(report.NewStore(db), natsClient)

	err = natsClient.SubscribeReportSubmitted(func(data []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := worker.HandleSubmitted(ctx, data); err != nil {
			log.Printf("[triage] %v", err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to submitted reports: %v", err)
	}

	// Metrics only; the worker has no other HTTP surface.
	metricsAddr := cfg.MetricsAddr
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[triage] metrics server: %v", err)
		}
	}()

	log.Printf("Report triage service running")
	log.Printf("  nats_url:     %s", cfg.NATSURL)
	log.Printf("  metrics_addr: %s", metricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(ctx)
	db.Close()
}
