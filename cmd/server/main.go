// The realtime gateway terminates websocket connections for the social
// platform: presence, rooms, chat, posts, stories, comments, likes,
// notifications, and file events, fanned out across replicas through Redis
// and the Kafka event stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edumatrix/realtime-gateway/internal/auth"
	"github.com/edumatrix/realtime-gateway/internal/bus"
	"github.com/edumatrix/realtime-gateway/internal/config"
	"github.com/edumatrix/realtime-gateway/internal/content"
	"github.com/edumatrix/realtime-gateway/internal/gateway"
	"github.com/edumatrix/realtime-gateway/internal/handlers"
	"github.com/edumatrix/realtime-gateway/internal/httpapi"
	"github.com/edumatrix/realtime-gateway/internal/ratelimit"
	"github.com/edumatrix/realtime-gateway/internal/room"
	"github.com/edumatrix/realtime-gateway/internal/session"
	"github.com/edumatrix/realtime-gateway/pkg/logger"
	"github.com/edumatrix/realtime-gateway/pkg/redisx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisx.NewClient(redisx.Config{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
	}, log)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	gate, err := auth.NewGatekeeper(cfg.Secrets(), cfg.InternalAPIKey, log)
	if err != nil {
		return fmt.Errorf("build gatekeeper: %w", err)
	}

	hub := gateway.NewHub(log)
	router := gateway.NewRouter(log)
	registry := session.NewRegistry(rdb.Client, cfg.ReplicaID, log)
	rooms := room.NewManager(rdb.Client, log)
	limiter := ratelimit.NewLimiter(rdb.Client, log)
	store := content.NewStore(rdb.Client, log)

	var publisher bus.Publisher = bus.NopBus{}
	var kafkaBus *bus.KafkaBus
	if cfg.KafkaEnabled {
		kafkaBus = bus.NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.ReplicaID, log)
		publisher = kafkaBus
	}
	translator := bus.NewTranslator(hub, log)
	if kafkaBus != nil {
		kafkaBus.OnMessage(translator.Handle)
	}
	relay := bus.NewRelay(rdb.Client, cfg.ReplicaID, hub, log)

	deps := &handlers.Deps{
		Log:      log,
		Features: cfg.Features(),
		Hub:      hub,
		Registry: registry,
		Rooms:    rooms,
		Limiter:  limiter,
		Store:    store,
		Bus:      publisher,
		Relay:    relay,
		Limits: handlers.Limits{
			EditWindow:       cfg.EditWindow,
			RoomHistoryLimit: cfg.RoomHistoryLimit,
			UserPostsLimit:   cfg.UserPostsLimit,
			FeedLimit:        cfg.RoomHistoryLimit,
			MaxFileSize:      cfg.MaxFileSize,
		},
	}
	deps.Register(router)

	gw := gateway.New(gateway.Options{
		AllowedOrigins: cfg.CORSOrigins,
		MaxConnections: cfg.MaxConnections,
		PingInterval:   cfg.PingInterval,
		PongTimeout:    cfg.PingTimeout,
		MaxPayloadSize: cfg.MaxPayloadSize,
	}, gate, hub, router, log)
	gw.OnConnect(deps.HandleConnect)
	gw.OnDisconnect(deps.HandleDisconnect)

	srv := httpapi.NewServer(httpapi.Options{
		Addr:         cfg.Host + ":" + cfg.Port,
		ServiceName:  cfg.AppName,
		KafkaEnabled: cfg.KafkaEnabled,
	}, gw, hub, registry, translator, rdb, log)

	log.Info("starting realtime gateway",
		zap.String("addr", cfg.Host+":"+cfg.Port),
		zap.String("replica", cfg.ReplicaID),
		zap.Bool("kafka", cfg.KafkaEnabled))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return relay.Run(ctx) })
	if kafkaBus != nil {
		g.Go(func() error {
			defer func() { _ = kafkaBus.Close() }()
			return kafkaBus.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("gateway stopped")
	return nil
}
