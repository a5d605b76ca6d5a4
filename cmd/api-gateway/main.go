package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/concours-api/api/swagger"
	"github.com/noah-isme/concours-api/internal/handler"
	"github.com/noah-isme/concours-api/internal/middleware"
	"github.com/noah-isme/concours-api/internal/models"
	"github.com/noah-isme/concours-api/internal/repository"
	"github.com/noah-isme/concours-api/internal/service"
	"github.com/noah-isme/concours-api/pkg/cache"
	"github.com/noah-isme/concours-api/pkg/config"
	"github.com/noah-isme/concours-api/pkg/database"
	"github.com/noah-isme/concours-api/pkg/jobs"
	"github.com/noah-isme/concours-api/pkg/logger"
	"github.com/noah-isme/concours-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/concours-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/concours-api/pkg/middleware/requestid"
	"github.com/noah-isme/concours-api/pkg/storage"
)

// @title Concours Documents API
// @version 1.0.0
// @description Candidate document submission and admin validation workflow
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
}

type blobBackend interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	blobs, err := newBlobBackend(ctx, cfg.Storage, logr)
	if err != nil {
		return err
	}

	metrics := service.NewMetricsService()

	var sender mailer.Sender = mailer.NoopSender{}
	if cfg.Notifications.EmailEnabled {
		sender = mailer.NewSMTPMailer(cfg.Notifications, logr)
	}
	emailQueue := jobs.NewQueue("notification-email", service.EmailJobHandler(sender, logr), jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
		OnExhausted: func(job jobs.Job, err error) {
			metrics.RecordNotificationFailure(job.Type, "email")
		},
	})
	cleanupQueue := jobs.NewQueue("blob-cleanup", service.BlobCleanupHandler(blobs, cfg.Documents.BlobTimeout, logr), jobs.QueueConfig{
		Workers:       1,
		MaxRetries:    5,
		RetryDelay:    30 * time.Second,
		MaxRetryDelay: 10 * time.Minute,
		Logger:        logr,
		OnExhausted: func(job jobs.Job, err error) {
			metrics.RecordCleanupExhausted()
			logr.Error("blob cleanup gave up", zap.String("job_id", job.ID), zap.Error(err))
		},
	})
	metrics.TrackQueueDepth("notification-email", emailQueue.Depth)
	metrics.TrackQueueDepth("blob-cleanup", cleanupQueue.Depth)

	documentRepo := repository.NewDocumentRepository(db)
	candidateRepo := repository.NewCandidateRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	streamRepo := repository.NewEventStreamRepository(redisClient, cfg.Events.Stream, cfg.Events.StreamMaxLen)

	var emails *jobs.Queue
	if cfg.Notifications.EmailEnabled {
		emails = emailQueue
	}
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), candidateRepo, queueOrNil(emails), cfg.Notifications.AdminEmails, metrics, logr)
	events := service.NewEventService(streamRepo, metrics, logr)
	candidateStatus := service.NewCandidateStatusService(candidateRepo, notifications, auditRepo, logr)
	events.Subscribe(models.EventCandidateDocumentsComplete, candidateStatus.HandleDocumentsComplete)

	documents := service.NewDocumentService(
		documentRepo,
		candidateRepo,
		blobs,
		notifications,
		events,
		service.CatalogFromConfig(cfg.Documents.Catalog),
		logr,
		service.DocumentServiceConfig{
			MaxFileSize:     cfg.Documents.MaxFileSizeBytes,
			MaxPerCandidate: cfg.Documents.MaxPerCandidate,
			BlobTimeout:     cfg.Documents.BlobTimeout,
			NotifyTimeout:   cfg.Documents.NotifyTimeout,
			APIPrefix:       cfg.APIPrefix,
		},
		service.WithDocumentPDFInspector(storage.NewPDFInspector()),
		service.WithDocumentCleanupQueue(cleanupQueue),
		service.WithDocumentSigner(storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)),
		service.WithDocumentAudit(auditRepo),
		service.WithDocumentMetrics(metrics),
	)
	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Expiry: cfg.JWT.Expiration})

	router := newRouter(cfg, logr, routerDeps{
		tokens:        tokens,
		metrics:       metrics,
		audit:         auditRepo,
		documents:     handler.NewDocumentHandler(documents, cfg.Documents.MaxFileSizeBytes),
		notifications: handler.NewNotificationHandler(notifications, documents),
		health: handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
			"postgres": pingPostgres(db),
			"redis":    pingRedis(redisClient),
		}),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	emailQueue.Start(ctx)
	cleanupQueue.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logr.Info("shutting down")
		err := srv.Shutdown(shutdownCtx)
		emailQueue.Stop()
		cleanupQueue.Stop()
		return err
	})
	return g.Wait()
}

type routerDeps struct {
	tokens        *service.TokenService
	metrics       *service.MetricsService
	audit         *repository.AuditRepository
	documents     *handler.DocumentHandler
	notifications *handler.NotificationHandler
	health        *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(corsmiddleware.Options{AllowedOrigins: cfg.CORS.AllowedOrigins}))
	r.Use(middleware.Metrics(deps.metrics, "/metrics", "/health"))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	downloadAudit := middleware.Audit(deps.audit, logr, models.AuditActionDocumentDownload, "document")
	api.GET("/documents/:id/download", middleware.OptionalJWT(deps.tokens), downloadAudit, deps.documents.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.tokens))
	secured.GET("/documents/catalog", deps.documents.Catalog)
	secured.GET("/documents/:id/download-url", deps.documents.DownloadURL)
	secured.GET("/notifications", deps.notifications.List)
	secured.POST("/notifications/:id/read", deps.notifications.MarkRead)

	candidate := secured.Group("/candidates/me")
	candidate.Use(middleware.RequireRoles(models.RoleCandidate))
	candidate.POST("/documents", deps.documents.Upload)
	candidate.GET("/documents", deps.documents.ListMine)
	candidate.PUT("/documents/:id/file", deps.documents.Replace)
	candidate.DELETE("/documents/:id", deps.documents.Delete)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.GET("/documents", deps.documents.ReviewQueue)
	admin.GET("/candidates/:id/documents", deps.documents.CandidateDocuments)
	admin.POST("/documents/:id/validate", deps.documents.Validate)
	admin.POST("/documents/:id/reject", deps.documents.Reject)

	return r
}

func newBlobBackend(ctx context.Context, cfg config.StorageConfig, logr *zap.Logger) (blobBackend, error) {
	switch cfg.Backend {
	case config.StorageBackendAzure:
		store, err := storage.NewAzureBlobStore(cfg.AzureConnectionString, cfg.AzureContainer, logr)
		if err != nil {
			return nil, fmt.Errorf("init azure blob store: %w", err)
		}
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := store.EnsureContainer(initCtx); err != nil {
			return nil, fmt.Errorf("ensure azure container: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewLocalStorage(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	}
}

// queueOrNil keeps a nil *jobs.Queue from becoming a non-nil interface value.
func queueOrNil(q *jobs.Queue) interface{ Enqueue(jobs.Job) error } {
	if q == nil {
		return nil
	}
	return q
}

func pingPostgres(db *sqlx.DB) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func pingRedis(client *redis.Client) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
