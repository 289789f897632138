package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	authsvc "clinix/internal/app/services/auth"
	chatsvc "clinix/internal/app/services/chat"
	domainauth "clinix/internal/domain/auth"
	domainbranch "clinix/internal/domain/branch"
	domainchat "clinix/internal/domain/chat"
	domainuser "clinix/internal/domain/user"
	"clinix/internal/infra/bridge"
	"clinix/internal/infra/broker/kafka"
	"clinix/internal/infra/config"
	mongodb "clinix/internal/infra/db/mongo"
	redisdb "clinix/internal/infra/db/redis"
	ginserver "clinix/internal/infra/http/gin"
	"clinix/internal/infra/mail"
	"clinix/internal/infra/obs"
	"clinix/internal/infra/outbox"
	"clinix/internal/infra/realtime"
	"clinix/internal/infra/security"
	"clinix/internal/infra/storage/memory"
	"clinix/internal/infra/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(logger)
	checks := map[string]func(ctx context.Context) error{}

	var (
		chatStore  domainchat.Store
		profileSvc authsvc.ProfileWriter
		userRepo   domainuser.Repository
		branchRepo domainbranch.Repository
		queue      outbox.Queue
		mongoConn  *mongodb.Client
	)
	if cfg.MongoURI != "" {
		mongoConn, err = mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Error("mongo connect failed", "error", err)
			os.Exit(1)
		}
		store := mongodb.NewChatStore(mongoConn.DB, hub)
		chatStore = store
		profileSvc = store
		userRepo = mongodb.NewUserRepository(mongoConn.DB)
		branchRepo = mongodb.NewBranchRepository(mongoConn.DB)
		queue = mongodb.NewOutboxQueue(mongoConn.DB)
		checks["mongo"] = mongoConn.Ping
		logger.Info("mongo storage ready", "database", cfg.MongoDB)
	} else {
		store := memory.NewChatStore(hub)
		chatStore = store
		profileSvc = store
		userRepo = memory.NewUserRepository()
		branchRepo = memory.NewBranchRepository()
		queue = memory.NewOutbox()
		logger.Warn("MONGO_URI not set, using in-memory storage")
	}

	var (
		sessionStore domainauth.SessionStore
		redisConn    *redisdb.SessionStore
	)
	if cfg.RedisAddr != "" {
		redisConn, err = redisdb.NewSessionStore(cfg.RedisAddr)
		if err != nil {
			logger.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		sessionStore = redisConn
		checks["redis"] = redisConn.Ping
		logger.Info("redis session store ready", "addr", cfg.RedisAddr)
	} else {
		sessionStore = memory.NewSessionStore()
		logger.Warn("REDIS_ADDR not set, sessions are in-memory")
	}

	chatService := &chatsvc.Service{
		Store:     chatStore,
		Feed:      hub,
		Recorder:  &outbox.Recorder{Queue: queue},
		Logger:    logger,
		OpTimeout: 10 * time.Second,
	}
	authService := &authsvc.Service{
		Users:      userRepo,
		Sessions:   sessionStore,
		Profiles:   profileSvc,
		Passwords:  security.BcryptHasher{},
		Tokens:     security.RandomTokenGenerator{},
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	}

	var uploader s3.Uploader = s3.NoopUploader{}
	if cfg.S3Endpoint != "" {
		s3Client, err := s3.NewClient(s3.Options{
			Endpoint:      cfg.S3Endpoint,
			UseSSL:        cfg.S3UseSSL,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicEndpoint,
			Logger:        logger,
		})
		if err != nil {
			logger.Warn("object storage unavailable, avatar uploads disabled", "error", err)
		} else {
			uploader = s3Client
		}
	}

	instanceID := uuid.NewString()
	eventSource := "app://clinix/" + instanceID

	var (
		producer *kafka.Producer
		consumer *kafka.Consumer
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		worker := &outbox.Worker{
			Queue:       queue,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Source:      eventSource,
			ID:          instanceID,
			Backoff:     cfg.RetryBackoff,
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()

		relay := &realtime.Relay{Hub: hub, Source: eventSource, Logger: logger}
		consumer, err = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil, relay)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		go func() {
			topic := cfg.KafkaTopicPrefix + "chat.events.v1"
			if err := consumer.Run(ctx, []string{topic}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka relay stopped", "error", err)
			}
		}()
		logger.Info("kafka relay running", "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroupID)
	} else {
		logger.Warn("KAFKA_BROKERS not set, cross-instance chat relay disabled")
	}

	var bridgeClient *bridge.Client
	if cfg.BridgeURL != "" {
		bridgeClient = bridge.NewClient(cfg.BridgeURL, logger)
		go func() {
			if err := bridgeClient.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("whatsapp bridge stopped", "error", err)
			}
		}()
	} else {
		logger.Warn("WHATSAPP_BRIDGE_URL not set, whatsapp integration disabled")
	}

	mailClient := &mail.Client{BaseURL: cfg.MailBaseURL, Logger: logger}

	handlers := ginserver.Handlers{
		Auth:    ginserver.AuthHandler{Service: authService, Chat: chatService, Logger: logger},
		Chat:    ginserver.ChatHandler{Service: chatService, Logger: logger},
		Admin:   ginserver.AdminHandler{Users: userRepo, Service: authService, Logger: logger},
		Profile: ginserver.ProfileHandler{Users: userRepo, Chat: chatService, Uploader: uploader, Logger: logger},
		Branch:  ginserver.BranchHandler{Branches: branchRepo, Logger: logger},
		Mail:    ginserver.MailHandler{Client: mailClient, Logger: logger},
		AuthMiddleware: ginserver.AuthMiddleware{
			Service: authService,
			Logger:  logger,
		}.Handle,
	}
	if bridgeClient != nil {
		handlers.Bridge = ginserver.BridgeHandler{Client: bridgeClient, Logger: logger}
	}

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: checks}, handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		chatService.Close()
		hub.Close()
		if consumer != nil {
			if err := consumer.Close(); err != nil {
				logger.Error("kafka consumer close failed", "error", err)
			}
		}
		if producer != nil {
			if err := producer.Close(); err != nil {
				logger.Error("kafka producer close failed", "error", err)
			}
		}
		if redisConn != nil {
			if err := redisConn.Close(); err != nil {
				logger.Error("redis close failed", "error", err)
			}
		}
		if mongoConn != nil {
			if err := mongoConn.Close(shutdownCtx); err != nil {
				logger.Error("mongo close failed", "error", err)
			}
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}
