package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/handler"
	"github.com/noah-isme/hostel-api/internal/models"
	"github.com/noah-isme/hostel-api/internal/repository"
	"github.com/noah-isme/hostel-api/internal/router"
	"github.com/noah-isme/hostel-api/internal/service"
	"github.com/noah-isme/hostel-api/pkg/cache"
	"github.com/noah-isme/hostel-api/pkg/config"
	"github.com/noah-isme/hostel-api/pkg/database"
	"github.com/noah-isme/hostel-api/pkg/jobs"
	"github.com/noah-isme/hostel-api/pkg/notify"
	"github.com/noah-isme/hostel-api/pkg/storage"
)

const notificationQueue = "notifications"

// App holds the wired repositories and services shared by the API server and
// the delivery worker.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *sqlx.DB
	Redis *redis.Client
	Cache *repository.CacheRepository
	Audit *repository.AuditRepository

	Metrics       *service.MetricsService
	Auth          *service.AuthService
	Users         *service.UserService
	Hostels       *service.HostelService
	Students      *service.StudentService
	Attendance    *service.AttendanceService
	Alerts        *service.AttendanceAlertService
	Analytics     *service.AnalyticsService
	Exports       *service.ExportService
	Leaves        *service.LeaveService
	Mess          *service.MessService
	Notifications *service.NotificationService

	memoryQueue *jobs.Queue
	redisQueue  *jobs.RedisQueue
}

// New connects to Postgres and Redis and wires every service.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if cfg.Notifications.QueueDriver == config.QueueDriverRedis && !cfg.Redis.Enabled {
		_ = db.Close()
		return nil, fmt.Errorf("notification queue driver %q needs REDIS_ENABLED=true", cfg.Notifications.QueueDriver)
	}

	a := &App{Config: cfg, Logger: logger, DB: db, Redis: redisClient}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg, logger := a.Config, a.Logger
	validate := dto.NewValidator()
	tx := database.NewUnitOfWork(a.DB)

	users := repository.NewUserRepository(a.DB)
	sessions := repository.NewSessionRepository(a.DB)
	hostels := repository.NewHostelRepository(a.DB)
	students := repository.NewStudentRepository(a.DB)
	attendance := repository.NewAttendanceRepository(a.DB)
	policies := repository.NewAttendancePolicyRepository(a.DB)
	alerts := repository.NewAttendanceAlertRepository(a.DB)
	analytics := repository.NewAnalyticsRepository(a.DB)
	leaves := repository.NewLeaveRepository(a.DB)
	balances := repository.NewLeaveBalanceRepository(a.DB)
	workflow := repository.NewLeaveWorkflowRepository(a.DB)
	mess := repository.NewMessRepository(a.DB)
	notifications := repository.NewNotificationRepository(a.DB)
	a.Audit = repository.NewAuditRepository(a.DB)
	a.Cache = repository.NewCacheRepository(a.Redis, logger)

	a.Metrics = service.NewMetricsService()
	cacheSvc := service.NewCacheService(a.Cache, a.Metrics, cfg.Attendance.CacheTTL, logger, a.Cache.Enabled())

	queue := a.dispatcher()
	a.Notifications = service.NewNotificationService(notifications, users, queue, a.providers(), a.Metrics, validate, logger, service.NotificationConfig{
		MaxRetries: cfg.Notifications.MaxRetries,
		StaleAfter: cfg.Notifications.StaleAfter,
	})
	if a.memoryQueue != nil {
		a.memoryQueue.Register(service.JobDeliverNotification, a.Notifications.HandleJob)
	}

	a.Auth = service.NewAuthService(users, sessions, a.Audit, tx, validate, logger, service.AuthConfig{
		Secret:             cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
		SessionRetention:   cfg.Sessions.Retention,
	})
	a.Users = service.NewUserService(users, sessions, a.Audit, tx, validate, logger)
	a.Hostels = service.NewHostelService(hostels, users, validate, logger)
	a.Students = service.NewStudentService(students, hostels, users, validate, logger)
	a.Attendance = service.NewAttendanceService(attendance, policies, students, cacheSvc, a.Audit, tx, validate, logger, service.AttendanceConfig{
		EvaluationWindow: cfg.Attendance.EvaluationWindow,
		Location:         loadLocation(logger, "attendance", cfg.Attendance.Timezone),
	})
	a.Alerts = service.NewAttendanceAlertService(alerts, attendance, policies, students, hostels, a.Notifications, validate, logger, cfg.Attendance.EvaluationWindow)
	a.Analytics = service.NewAnalyticsService(analytics, alerts, hostels, cacheSvc, a.Metrics, logger, service.AnalyticsConfig{
		CacheTTL:      cfg.Attendance.CacheTTL,
		DefaultWindow: cfg.Attendance.EvaluationWindow,
	})
	a.Exports = service.NewExportService(analytics, hostels, logger, cfg.Attendance.EvaluationWindow)

	files, err := storage.NewLocalStorage(cfg.Storage.AttachmentDir)
	if err != nil {
		return fmt.Errorf("attachment storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	a.Leaves = service.NewLeaveService(leaves, balances, workflow, students, hostels, a.Notifications, files, signer, a.Audit, tx, validate, logger, service.LeaveConfig{
		SLA:                cfg.Leave.SLA,
		MaxAttachmentBytes: cfg.Storage.MaxFileSizeBytes,
		AllowedMIMEs:       cfg.Storage.AllowedMIMEs,
		DownloadPath:       cfg.APIPrefix + "/leaves/attachments",
	})

	a.Mess = service.NewMessService(mess, hostels, students, cacheSvc, a.Audit, validate, logger, service.MessConfig{
		CacheTTL: cfg.Mess.CacheTTL,
		Location: loadLocation(logger, "mess", cfg.Mess.Timezone),
	})
	return nil
}

func loadLocation(logger *zap.Logger, component, name string) *time.Location {
	location, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", zap.String("component", component), zap.String("timezone", name), zap.Error(err))
		return time.UTC
	}
	return location
}

func (a *App) dispatcher() jobs.Dispatcher {
	cfg := a.Config.Notifications
	if cfg.QueueDriver == config.QueueDriverRedis {
		a.redisQueue = jobs.NewRedisQueue(a.RedisJobConfig())
		return a.redisQueue
	}
	a.memoryQueue = jobs.NewQueue(notificationQueue, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     a.Logger,
	})
	return a.memoryQueue
}

// RedisJobConfig is the asynq configuration shared by producer and worker.
func (a *App) RedisJobConfig() jobs.RedisConfig {
	cfg := a.Config
	return jobs.RedisConfig{
		Addr:        cache.Addr(cfg.Redis),
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		Queue:       notificationQueue,
		Concurrency: cfg.Notifications.Workers,
		MaxRetries:  cfg.Notifications.MaxRetries,
		RetryDelay:  cfg.Notifications.RetryDelay,
		Logger:      a.Logger,
	}
}

func (a *App) providers() map[models.NotificationChannel]notify.Provider {
	cfg := a.Config.Notifications
	client := &http.Client{Timeout: 10 * time.Second}
	providers := map[models.NotificationChannel]notify.Provider{}
	if cfg.ResendAPIKey != "" {
		providers[models.ChannelEmail] = notify.NewResendEmail(resend.NewClient(cfg.ResendAPIKey), cfg.EmailFrom)
	}
	if cfg.SMSGatewayURL != "" {
		providers[models.ChannelSMS] = notify.NewSMSGateway(cfg.SMSGatewayURL, cfg.SMSGatewayToken, cfg.SMSSenderID, client)
	}
	if cfg.PushGatewayURL != "" {
		providers[models.ChannelPush] = notify.NewPushGateway(cfg.PushGatewayURL, cfg.PushGatewayToken, client)
	}
	for channel, p := range providers {
		a.Logger.Info("notification provider configured", zap.String("channel", string(channel)), zap.String("provider", p.Name()))
	}
	return providers
}

// Handlers builds the HTTP handlers over the wired services.
func (a *App) Handlers() router.Handlers {
	return router.Handlers{
		Auth:          handler.NewAuthHandler(a.Auth),
		Users:         handler.NewUserHandler(a.Users),
		Hostels:       handler.NewHostelHandler(a.Hostels),
		Students:      handler.NewStudentHandler(a.Students),
		Attendance:    handler.NewAttendanceHandler(a.Attendance, a.Alerts),
		Analytics:     handler.NewAnalyticsHandler(a.Analytics, a.Exports),
		Leaves:        handler.NewLeaveHandler(a.Leaves),
		Mess:          handler.NewMessHandler(a.Mess),
		Notifications: handler.NewNotificationHandler(a.Notifications),
		Ops: handler.NewMetricsHandler(a.Metrics, map[string]handler.ReadinessCheck{
			"postgres": a.DB.PingContext,
			"redis":    a.Cache.Ping,
		}),
	}
}

// Router builds the HTTP engine.
func (a *App) Router() http.Handler {
	cfg := a.Config
	return router.New(router.Options{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		LoginAttempts:  cfg.RateLimit.LoginAttempts,
		LoginWindow:    cfg.RateLimit.LoginWindow,
	}, router.Dependencies{
		Logger:   a.Logger,
		Metrics:  a.Metrics,
		Tokens:   a.Auth,
		Audit:    a.Audit,
		Counter:  a.Cache,
		Handlers: a.Handlers(),
	})
}

// StartBackground starts the in-process queue and the periodic sweeps. The
// returned function stops them and waits for in-flight work.
func (a *App) StartBackground(ctx context.Context) (stop func()) {
	cfg := a.Config
	if a.memoryQueue != nil {
		a.memoryQueue.Start(ctx)
	}
	stops := []func(){
		a.every(ctx, "session-cleanup", cfg.Sessions.CleanupInterval, func(ctx context.Context) error {
			removed, err := a.Auth.CleanupSessions(ctx)
			if err == nil && removed > 0 {
				a.Logger.Info("stale sessions removed", zap.Int64("count", removed))
			}
			return err
		}),
		a.every(ctx, "leave-sla", cfg.Leave.SweepInterval, a.Leaves.SweepOverdue),
		a.every(ctx, "attendance-policy", cfg.Attendance.EvaluationInterval, a.Alerts.EvaluateAll),
		a.every(ctx, "notification-retry", cfg.Notifications.RetryInterval, func(ctx context.Context) error {
			_, err := a.Notifications.RetryFailed(ctx, 100)
			return err
		}),
	}
	return func() {
		for _, s := range stops {
			s()
		}
		if a.memoryQueue != nil {
			a.memoryQueue.Stop()
		}
	}
}

// every runs fn on a ticker and records each run in the sweep metrics.
func (a *App) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) func() {
	return jobs.Every(ctx, name, interval, a.Logger, func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		a.Metrics.RecordSweep(name, time.Since(start), err)
		return err
	})
}

// Close releases the queue producer and the database and Redis connections.
func (a *App) Close() {
	if a.redisQueue != nil {
		if err := a.redisQueue.Close(); err != nil {
			a.Logger.Warn("failed to close job producer", zap.Error(err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("failed to close redis", zap.Error(err))
		}
	} else if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("failed to close postgres", zap.Error(err))
		}
	}
}
