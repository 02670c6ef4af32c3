package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/internal/client"
	"github.com/weiawesome/wes-io-live/internal/config"
	"github.com/weiawesome/wes-io-live/internal/dedup"
	rtgrpc "github.com/weiawesome/wes-io-live/internal/grpc"
	"github.com/weiawesome/wes-io-live/internal/handler"
	"github.com/weiawesome/wes-io-live/internal/hub"
	"github.com/weiawesome/wes-io-live/internal/kafka"
	"github.com/weiawesome/wes-io-live/internal/membership"
	"github.com/weiawesome/wes-io-live/internal/presence"
	"github.com/weiawesome/wes-io-live/internal/service"
	"github.com/weiawesome/wes-io-live/internal/store"
	pkgconfig "github.com/weiawesome/wes-io-live/pkg/config"
	"github.com/weiawesome/wes-io-live/pkg/database"
	"github.com/weiawesome/wes-io-live/pkg/idgen"
	"github.com/weiawesome/wes-io-live/pkg/jwt"
	"github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/pkg/middleware"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/pkg/storage"
	"github.com/weiawesome/wes-io-live/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("realtime service exited")
	}
}

func run() error {
	if err := pkgconfig.LoadDotEnv(); err != nil {
		return err
	}
	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: cfg.Telemetry.ServiceName})
	logger := log.L()
	pkgconfig.Watch(v, func(v *viper.Viper, _ fsnotify.Event) {
		if level := v.GetString("log.level"); level != log.Level() {
			log.SetLevel(level)
			l := log.L()
			l.Info().Str("level", level).Msg("log level changed")
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// Database
	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	st := store.NewGormStore(db)
	defer st.Close()
	if cfg.Database.AutoMigrate {
		if err := st.Migrate(); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	deps := service.Deps{
		Store:    st,
		Index:    membership.NewIndex(),
		Presence: presence.NewRegistry(),
	}

	// Redis backs the presence mirror, the server event channel and,
	// optionally, the dedup window.
	if cfg.Redis.Enabled {
		ps, err := pubsub.NewRedisPubSub(pubsub.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     20,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect redis at %s: %w", cfg.Redis.Address, err)
		}
		defer ps.Close()
		rdb := ps.Client()

		deps.Mirror = presence.NewRedisMirror(rdb, cfg.Server.InstanceID, cfg.Redis.PresenceTTL)
		deps.Subscriber = ps
		if cfg.Dispatch.DedupBackend == "redis" {
			deps.Dedup = dedup.NewRedisWindow(rdb, cfg.Redis.DedupPrefix, cfg.Dispatch.DedupWindow)
		}
		logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.NewMemoryWindow(cfg.Dispatch.DedupWindow)
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		deps.Producer = producer
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
	}

	if deps.Storage, err = storage.New(ctx, cfg.Storage); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	if deps.IDs, err = idgen.New(cfg.IDs); err != nil {
		return fmt.Errorf("init id generator: %w", err)
	}

	tokens, err := newTokenManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("init token verifier: %w", err)
	}
	deps.Auth = client.NewAuthClient(tokens)

	wsHub := hub.NewHub(cfg.WebSocket)
	deps.Hub = wsHub

	engine := service.NewEngine(deps, service.Config{
		MaxContentLength:  cfg.Dispatch.MaxContentLength,
		MaxAttachments:    cfg.Dispatch.MaxAttachments,
		VerifyAttachments: cfg.Dispatch.VerifyAttachment,
		TypingExpiry:      cfg.Typing.Expiry,
		OfferTimeout:      cfg.Calls.OfferTimeout,
		RoomLockStripes:   cfg.Dispatch.RoomLockStripes,
		EventsChannel:     cfg.Redis.EventsChannel,
	})
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(log.GinMiddleware(logger, "/health", "/metrics"), gin.Recovery())
	wsHandler := handler.NewWSHandler(wsHub, engine, cfg.WebSocket)
	handler.NewHTTPHandler(engine, wsHandler, middleware.NewAuthMiddleware(tokens), st).RegisterRoutes(router)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", grpcAddr, err)
	}
	grpcServer := rtgrpc.NewServer(st, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("address", server.Addr).Msg("realtime service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("address", grpcAddr).Msg("grpc server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		grpcServer.Watch(gctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down realtime service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		shutdownCtx = log.WithLogger(shutdownCtx, logger)

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http server forced to shutdown")
		}
		wsHub.CloseAll()
		grpcServer.Stop()
		if err := engine.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("engine stop failed")
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("realtime service stopped")
	return err
}

func newTokenManager(cfg config.AuthConfig) (*jwt.Manager, error) {
	if cfg.JWTSecret != "" {
		return jwt.NewHMACManager([]byte(cfg.JWTSecret), cfg.Issuer)
	}
	if cfg.PublicKeyFile == "" {
		return nil, errors.New("either auth.jwt_secret or auth.public_key_file is required")
	}
	pub, err := jwt.LoadRSAPublicKey(cfg.PublicKeyFile)
	if err != nil {
		return nil, err
	}
	return jwt.NewRSAManager(pub, nil, cfg.Issuer)
}
