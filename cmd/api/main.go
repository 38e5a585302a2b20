package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"campusattend/internal/analytics"
	"campusattend/internal/attendance"
	"campusattend/internal/cloudinary"
	"campusattend/internal/config"
	"campusattend/internal/correction"
	"campusattend/internal/handler"
	"campusattend/internal/identity"
	"campusattend/internal/notify"
	"campusattend/internal/queue"
	"campusattend/internal/repo"
	"campusattend/internal/repo/memory"
	"campusattend/internal/repo/postgres"
	"campusattend/internal/store"
	"campusattend/internal/telemetry"
	"campusattend/internal/timetable"
)

const serviceName = "campusattend-api"

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func newLogger(cfg config.App) *slog.Logger {
	if cfg.Production() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	loc := cfg.Location()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     !cfg.Production(),
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	health := map[string]func(context.Context) bool{}

	var st repo.Store
	switch cfg.StoreBackend {
	case "memory":
		log.Println("using in-memory store; data is lost on restart")
		st = memory.New()
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		st = postgres.New(db.Client)
		health["db"] = db.Healthy
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(64)
		q = mem
		// No worker shares an in-memory queue, so deliver in-process.
		go func() {
			if err := notify.ConsumeMail(ctx, mem, notify.NewMailer(smtpConfig(cfg), logger), logger); err != nil && ctx.Err() == nil {
				logger.Error("mail consumer stopped", "error", err)
			}
		}()
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		health["redis"] = redisClient.Healthy
	}
	mailer := notify.NewQueueMailer(q)

	charts := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if charts != nil {
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	h := &handler.Handler{
		Identity: identity.NewService(st, mailer, identity.Config{
			Issuer:        cfg.JWTIssuer,
			SigningKey:    cfg.JWTSigningKey,
			AccessTTL:     cfg.AccessTTL,
			ResetTokenTTL: cfg.ResetTokenTTL,
		}, logger),
		Timetable:        timetable.NewService(st, logger),
		Attendance:       attendance.NewService(st, loc, logger),
		Corrections:      correction.NewService(st, cfg.StrictCorrections, logger),
		Notify:           notify.NewService(st, mailer, loc, logger),
		Analytics:        analytics.NewService(st, loc),
		Charts:           charts,
		Loc:              loc,
		Production:       cfg.Production(),
		ExposeResetToken: cfg.ExposeResetToken,
		Log:              logger,
	}
	r := handler.NewRouter(h, handler.RouterConfig{
		ServiceName:     serviceName,
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Health:          health,
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func smtpConfig(cfg config.App) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}
}
