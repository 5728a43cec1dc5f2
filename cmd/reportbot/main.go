package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/report-bot/internal/bot"
	"github.com/whisper/report-bot/internal/config"
	"github.com/whisper/report-bot/internal/database"
	"github.com/whisper/report-bot/internal/item"
	"github.com/whisper/report-bot/internal/messaging"
	"github.com/whisper/report-bot/internal/metrics"
	"github.com/whisper/report-bot/internal/protocol"
	"github.com/whisper/report-bot/internal/ratelimit"
	"github.com/whisper/report-bot/internal/report"
	"github.com/whisper/report-bot/internal/session"
	"github.com/whisper/report-bot/internal/ws"
)

func main() {
	cfg := config.Load()

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- Postgres ---
	db, err := database.Open(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "reportbot-" + cfg.ServerName
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	archive := item.NewArchive(rdb, cfg.ItemTTL)
	if err := natsClient.SubscribeArchive(func(data []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := archive.HandleEvent(ctx, data); err != nil {
			log.Printf("[archive] %v", err)
		}
	}); err != nil {
		log.Fatalf("failed to subscribe to archive events: %v", err)
	}

	registry := session.NewRegistry(session.NewRedisStore(rdb, cfg.SessionTTL), archive)
	limiter := ratelimit.NewLimiter(rdb)
	reportBot := bot.New(registry, limiter, report.NewStore(db), natsClient)

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxFrameBytes:  protocol.MaxFrameBytes,
	}, dispatcher.Dispatch)
	server.Handle("/metrics", metrics.Handler())

	dispatcher.Register(protocol.TypeDM, func(conn *ws.Connection, msg interface{}) {
		dm, ok := msg.(protocol.DMMsg)
		if !ok {
			return
		}
		reply := reportBot.HandleDM(context.Background(), conn.ReporterID, dm.Text)
		if err := server.SendMessage(conn.ID, reply); err != nil {
			log.Printf("[dm] reply to reporter=%s failed: %v", conn.ReporterID, err)
		}
	})

	server.SetAdmission(func(ctx context.Context, ip string) bool {
		allowed, _ := limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		return allowed
	})

	// Anonymous reporters cannot reconnect to their conversation.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		if !conn.Anonymous {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		reportBot.Disconnected(ctx, conn.ReporterID)
	})

	log.Printf("Report bot gateway starting")
	log.Printf("  server_name:     %s", cfg.ServerName)
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  session_ttl:     %s", cfg.SessionTTL)
	log.Printf("  item_ttl:        %s", cfg.ItemTTL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		natsClient.Close()
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
