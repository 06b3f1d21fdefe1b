package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	v1 "github.com/Jefrey13/customerSupport/cmd/api/router/v1"
	cacheAdapter "github.com/Jefrey13/customerSupport/internal/infrastructure/cache/adapter"
	cport "github.com/Jefrey13/customerSupport/internal/infrastructure/cache/port"
	"github.com/Jefrey13/customerSupport/internal/infrastructure/config"
	"github.com/Jefrey13/customerSupport/internal/infrastructure/database"
	"github.com/Jefrey13/customerSupport/internal/infrastructure/logging"
	"github.com/Jefrey13/customerSupport/internal/infrastructure/pubsub"
	queueAdapter "github.com/Jefrey13/customerSupport/internal/infrastructure/queue/adapter"
	"github.com/Jefrey13/customerSupport/internal/infrastructure/realtime"
	"github.com/Jefrey13/customerSupport/internal/infrastructure/scheduler"
	"github.com/Jefrey13/customerSupport/internal/infrastructure/whatsapp"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/application/task"
	chatUseCase "github.com/Jefrey13/customerSupport/internal/pkg/chat/application/usecase"
	"github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/adapter"
	repository "github.com/Jefrey13/customerSupport/internal/pkg/chat/persistence/repository/port"
	chatController "github.com/Jefrey13/customerSupport/internal/pkg/chat/presentation/controller"
	"github.com/Jefrey13/customerSupport/internal/pkg/notify"
	webhook "github.com/Jefrey13/customerSupport/internal/pkg/webhook/application/domain"
	webhookUseCase "github.com/Jefrey13/customerSupport/internal/pkg/webhook/application/usecase"
	webhookController "github.com/Jefrey13/customerSupport/internal/pkg/webhook/presentation/controller"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Storage
	var repo repository.ChatRepository
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory storage, data is lost on restart")
		repo = adapter.NewMemoryChatRepository()
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := database.NewPool(connectCtx, cfg.Database)
		cancel()
		if err != nil {
			return err
		}
		defer pool.Close()
		if cfg.Database.MigrateOnStart {
			if err := database.Migrate(pool, logger); err != nil {
				return err
			}
		}
		repo = adapter.NewPgChatRepository(pool)
	}

	// Conversation cache and media queue share Redis.
	var cache cport.Cache = cacheAdapter.NoopCache{}
	var media webhookUseCase.MediaScheduler
	var enqueuer *task.MediaEnqueuer
	var workers *queueAdapter.AsynqServer
	if cfg.Redis.URL != "" {
		rc, err := cacheAdapter.NewRedisCache(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		cache = rc

		client, err := queueAdapter.NewAsynqClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		enqueuer = task.NewMediaEnqueuer(client, cfg.Queue.MaxRetry)
		media = enqueuer

		workers, err = queueAdapter.NewAsynqServer(cfg.Redis.URL, cfg.Queue, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("redis not configured, cache and media queue disabled")
	}

	// Notifications: local websocket rooms, plus NATS when other nodes exist.
	rooms := realtime.NewRouter(logger)
	defer rooms.Close()
	publishers := []notify.Publisher{rooms}
	var relay *pubsub.NATSRelay
	if cfg.NATS.URL != "" {
		var err error
		relay, err = pubsub.NewNATSRelay(ctx, cfg.NATS, rooms, logger)
		if err != nil {
			return err
		}
		defer relay.Close()
		publishers = append(publishers, relay)
	}
	fanout := notify.NewFanout(logger, publishers)

	wa := whatsapp.NewClient(whatsapp.Options{
		BaseURL:       cfg.WhatsApp.APIURL,
		APIVersion:    cfg.WhatsApp.APIVersion,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		HTTPClient:    &http.Client{Timeout: cfg.WhatsApp.Timeout},
	})

	// Use cases
	resolveMediaUC := chatUseCase.NewResolveMediaUseCase(repo, wa, fanout)
	statusesUC := webhookUseCase.NewReconcileStatusUseCase(repo, fanout, logger)
	ingestUC := webhookUseCase.NewIngestMessageUseCase(repo, cache, cfg.Redis.ConversationTTL, media, logger)
	processUC := webhookUseCase.NewProcessWebhookUseCase(webhook.NormalizeOptions{
		RequireMessages: cfg.Webhook.RequireMessages,
		FirstChangeOnly: cfg.Webhook.FirstChangeOnly,
	}, statusesUC, ingestUC, fanout, logger)

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logging.Middleware(logger), gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		// Cache is optional; a failed ping is reported but does not fail the check.
		cacheState := "up"
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := cache.Ping(pingCtx); err != nil {
			cacheState = "down"
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK", "cache": cacheState})
	})
	sendMediaUC := chatUseCase.NewSendMediaUseCase(repo, wa, media, fanout)
	v1.RegisterRoutes(r, v1.Controllers{
		GetMessages:   chatController.NewGetMessageController(chatUseCase.NewGetMessageUseCase(repo)),
		SendMessage:   chatController.NewSendMessageController(chatUseCase.NewSendMessageUseCase(repo, wa, fanout)),
		SendMedia:     chatController.NewSendMediaController(sendMediaUC, cfg.WhatsApp.MaxUploadBytes),
		Socket:        chatController.NewChatSocketController(rooms, chatUseCase.NewJoinConversationUseCase(repo), logger),
		VerifyWebhook: webhookController.NewVerifyWebhookController(cfg.WhatsApp.VerifyToken),
		Webhook:       webhookController.NewReceiveWebhookController(processUC, cfg.HTTP.MaxBodyBytes, cfg.Webhook.ProcessTimeout, logger),
	})

	// The write deadline covers the slowest handler: a webhook bounded by
	// process_timeout or a media upload plus send. The websocket upgrade
	// clears both deadlines on the hijacked connection.
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.RequestTimeout,
		WriteTimeout:      cfg.HTTP.RequestTimeout + max(cfg.Webhook.ProcessTimeout, 2*cfg.WhatsApp.Timeout),
	}

	// Background work
	sched, err := scheduler.New(logger, map[string]scheduler.Task{
		task.MediaBackfillTaskName: {
			Schedule: cfg.Scheduler.MediaBackfill,
			Run: task.NewMediaBackfillTask(task.MediaBackfillDeps{
				Repo:     repo,
				Enqueuer: enqueuer,
				Resolver: resolveMediaUC,
				MinAge:   cfg.Scheduler.MediaBackfillAge,
				Batch:    cfg.Scheduler.MediaBackfillBatch,
				Logger:   logger,
			}),
		},
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if workers != nil {
		task.RegisterResolveMediaTask(workers, resolveMediaUC, logger)
		g.Go(func() error {
			return workers.Run(gctx)
		})
	}
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	return g.Wait()
}
