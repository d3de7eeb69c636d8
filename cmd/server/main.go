package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pospay.backend/internal/config"
	domainRepos "pospay.backend/internal/domain/repositories"
	"pospay.backend/internal/infrastructure/jobs"
	"pospay.backend/internal/infrastructure/ledger"
	"pospay.backend/internal/infrastructure/models"
	"pospay.backend/internal/infrastructure/repositories"
	"pospay.backend/internal/interfaces/http/handlers"
	"pospay.backend/internal/interfaces/http/middleware"
	"pospay.backend/internal/usecases"
	"pospay.backend/pkg/jwt"
	"pospay.backend/pkg/logger"
	"pospay.backend/pkg/payload"
	"pospay.backend/pkg/redis"
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	initRedis  = redis.Init
	openDB     = func(dsn string) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt: false,
		})
	}
	migrate = func(db *gorm.DB) error {
		return db.AutoMigrate(models.All()...)
	}
	runServer = serveHTTP
	getStdDB  = func(db *gorm.DB) (*sql.DB, error) { return db.DB() }
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := runMainProcess(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMainProcess() error {
	envErr := loadDotenv()

	cfg := loadCfg()

	initLog(cfg.Server.Env)
	defer logger.Sync()
	ctx := context.Background()
	if envErr != nil {
		logger.Debug(ctx, "No .env file found, using environment variables")
	}
	logger.Info(ctx, "Logger initialized", zap.String("env", cfg.Server.Env))

	if cfg.Server.Env == "production" && cfg.POS.UsesPlaceholderSecret() {
		logger.Error(ctx, "POS_SIGNING_SECRET is unset or all zeros")
		return errors.New("refusing to start with the default payload signing secret: set POS_SIGNING_SECRET")
	}

	if err := initRedis(cfg.Redis.URL, cfg.Redis.PASSWORD); err != nil {
		logger.Error(ctx, "Failed to initialize Redis", zap.Error(err))
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	logger.Info(ctx, "Redis initialized")

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg.Database.URL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := getStdDB(db)
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		logger.Warn(ctx, "Database not available, endpoints will return errors", zap.Error(err))
	} else {
		if err := migrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info(ctx, "Connected to database")
	}

	signingKey, err := cfg.POS.SigningKey()
	if err != nil {
		return fmt.Errorf("invalid payload signing key: %w", err)
	}
	codec, err := payload.NewCodec(signingKey, cfg.POS.SigningKeyID)
	if err != nil {
		return fmt.Errorf("failed to build payload codec: %w", err)
	}

	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry)

	paymentRequestRepo := repositories.NewPaymentRequestRepository(db)
	offlineSubmissionRepo := repositories.NewOfflineSubmissionRepository(db)
	uow := repositories.NewUnitOfWork(db)
	ledgerService := newLedger(ctx, cfg.Ledger)

	paymentRequestUsecase := usecases.NewPaymentRequestUsecase(paymentRequestRepo, uow, ledgerService, codec, cfg.POS.RequestTTL)
	offlinePaymentUsecase := usecases.NewOfflinePaymentUsecase(paymentRequestRepo, offlineSubmissionRepo, uow, ledgerService, cfg.POS.RequestTTL, cfg.POS.OfflineIntentMaxAge)

	paymentRequestHandler := handlers.NewPaymentRequestHandler(paymentRequestUsecase)
	offlinePaymentHandler := handlers.NewOfflinePaymentHandler(offlinePaymentUsecase)
	watchHandler := handlers.NewWatchHandler(paymentRequestUsecase, handlers.DefaultWatchInterval)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	expiryJob := jobs.NewPaymentRequestExpiryJob(paymentRequestUsecase, cfg.POS.SweepInterval, cfg.POS.SweepBatch)
	go expiryJob.Start(jobCtx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())

	applyCORSMiddleware(r)
	registerHealthRoute(r, sqlDB)
	registerMetricsRoute(r)
	registerAPIV1Routes(r, routeDeps{
		paymentRequestHandler: paymentRequestHandler,
		offlinePaymentHandler: offlinePaymentHandler,
		watchHandler:          watchHandler,
		authMiddleware:        middleware.AuthMiddleware(jwtService),
		idempotencyTTL:        cfg.POS.IdempotencyTTL,
	})

	for _, route := range r.Routes() {
		logger.Debug(ctx, "Route registered", zap.String("method", route.Method), zap.String("path", route.Path))
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "POS payment backend starting",
		zap.String("port", cfg.Server.Port),
		zap.String("signing_key_id", cfg.POS.SigningKeyID),
		zap.Duration("request_ttl", cfg.POS.RequestTTL),
	)

	err = runServer(sigCtx, r, cfg.Server.Port)
	expiryJob.Stop()
	cancel()
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info(ctx, "Server stopped")
	return nil
}

// serveHTTP serves r until ctx is done, then drains in-flight requests.
func serveHTTP(ctx context.Context, r *gin.Engine, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLedger(ctx context.Context, cfg config.LedgerConfig) domainRepos.LedgerService {
	if cfg.URL == "" {
		logger.Warn(ctx, "LEDGER_URL not set, credits are only logged")
		return ledger.NewLogLedger()
	}
	return ledger.NewHTTPLedger(cfg.URL, cfg.APIKey, cfg.Timeout)
}
