package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"convohub/internal/auth"
	"convohub/internal/cache"
	"convohub/internal/config"
	"convohub/internal/db"
	"convohub/internal/events"
	grpcserver "convohub/internal/grpc"
	"convohub/internal/handlers"
	"convohub/internal/keylock"
	"convohub/internal/logger"
	"convohub/internal/mail"
	"convohub/internal/middleware"
	"convohub/internal/observability"
	"convohub/internal/presence"
	"convohub/internal/rabbitmq"
	"convohub/internal/relay"
	"convohub/internal/repositories"
	"convohub/internal/repositories/memstore"
	"convohub/internal/repositories/mongostore"
	"convohub/internal/services"
	"convohub/internal/telemetry"
	"convohub/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Development(), cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTel.Endpoint, cfg.OTel.ServiceName)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	healthSrv := grpcserver.NewServer(log)
	store, err := openStore(ctx, cfg, log, healthSrv)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(context.Background()) }()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	defer func() { _ = publisher.Close() }()
	observability.SetPublisher(publisher)
	log.Info("audit publisher ready", zap.String("mode", rabbitmq.PublisherMode(publisher)), zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", cfg.App.Name, cfg.App.Env, log)

	registry := ws.NewRegistry()
	rooms := ws.NewRooms()
	hub := ws.NewHub(registry, rooms, log)
	tracker := presence.NewTracker(store.Users, hub, registry, cfg.Presence.OfflineGrace, log)
	defer tracker.Close()

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		healthSrv.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		r := relay.NewRedisRelay(rdb, cfg.Redis.Prefix, log)
		hub.SetRelay(r)
		go func() {
			if err := r.Run(ctx, hub); err != nil {
				log.Error("relay stopped", zap.Error(err))
			}
		}()
		mirror := cache.NewPresenceMirror(rdb, cfg.Redis.Prefix, 2*cfg.WS.PongWait)
		tracker.SetMirror(mirror)
		tracker.SetSessions(mirror)
	}

	var eventLog services.EventPublisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewProducer(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), log)
		defer func() { _ = producer.Close() }()
		eventLog = producer
	}

	var mailer services.Mailer = mail.NewLogSender(log)
	if cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, log)
	}

	deps := services.Deps{
		Store:    store,
		Notifier: hub,
		Events:   eventLog,
		Audit:    audit,
		Log:      log,
		Locks:    keylock.New(),
	}
	messageSvc := services.NewMessageService(deps)
	chatSvc := services.NewChatService(deps)
	inviteSvc := services.NewInviteService(deps, chatSvc, mailer, services.InviteConfig{TTL: cfg.Invite.TTL, FrontendURL: cfg.Invite.FrontendURL})
	userSvc := services.NewUserService(deps)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	chatWS := ws.NewChatWebSocketHandler(verifier, store.Users, registry, rooms, hub, messageSvc, tracker, ws.ClientConfig{
		SendBuffer:      cfg.WS.SendBuffer,
		WriteWait:       cfg.WS.WriteWait,
		PongWait:        cfg.WS.PongWait,
		PingPeriod:      cfg.WS.PingPeriod(),
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		EventsPerSecond: cfg.WS.EventsPerSecond,
	}, log)

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": len(registry.All()), "online_users": len(registry.OnlineUsers())})
	})
	router.GET("/ws", chatWS.Handle)

	handlers.RegisterRoutes(router, handlers.Handlers{
		Users:    handlers.NewUserHandler(userSvc),
		Chats:    handlers.NewChatHandler(chatSvc),
		Messages: handlers.NewMessageHandler(messageSvc),
		Invites:  handlers.NewInviteHandler(inviteSvc),
	}, middleware.AuthMiddleware(verifier))
	handlers.RegisterDebugRoutes(router, handlers.DebugDeps{Audit: audit, Sessions: registry}, cfg.HTTP.DebugRoutes)

	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go healthSrv.Watch(ctx, 15*time.Second)
	go func() {
		if err := healthSrv.Serve(lis); err != nil {
			log.Error("grpc server stopped", zap.Error(err))
		}
	}()
	defer healthSrv.Stop()

	srv := &http.Server{Addr: ":" + cfg.HTTP.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger, health *grpcserver.Server) (repositories.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return memstore.New().Repositories(), nil
	case config.DriverMongo:
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return repositories.Store{}, err
		}
		database := client.Database(cfg.Mongo.Database)
		if err := mongostore.EnsureIndexes(ctx, database, cfg.Mongo.RetentionDays); err != nil {
			_ = client.Disconnect(ctx)
			return repositories.Store{}, err
		}
		health.AddCheck("mongo", func(ctx context.Context) error { return client.Ping(ctx, nil) })
		return mongostore.New(client, database), nil
	default:
		database, err := db.Connect(ctx, cfg.Postgres.DSN, log)
		if err != nil {
			return repositories.Store{}, err
		}
		if err := db.RunMigrations(ctx, database.DB); err != nil {
			return repositories.Store{}, err
		}
		health.AddCheck("postgres", database.PingContext)
		return repositories.NewPostgresStore(database), nil
	}
}
