package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"campusattend/internal/config"
	"campusattend/internal/notify"
	"campusattend/internal/queue"
	"campusattend/internal/repo/postgres"
	"campusattend/internal/store"
)

// Worker delivers queued mail and sends the scheduled upcoming-class digests.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if cfg.QueueBackend == "memory" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis; the API delivers mail itself with the memory queue")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)

	smtp := notify.NewMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}, logger)

	// Digests go through the queue like any other mail so a slow relay does
	// not stall the scheduler.
	digests := notify.NewService(postgres.New(db.Client), notify.NewQueueMailer(q), cfg.Location(), logger)

	sched := cron.New(cron.WithLocation(cfg.Location()))
	if _, err := sched.AddFunc(cfg.DigestSchedule, func() {
		jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if _, err := digests.SendDigests(jobCtx); err != nil {
			logger.Error("digest run failed", "error", err)
		}
	}); err != nil {
		log.Fatalf("invalid DIGEST_SCHEDULE %q: %v", cfg.DigestSchedule, err)
	}
	sched.Start()
	log.Printf("digest scheduled: %s", cfg.DigestSchedule)

	log.Println("worker started, waiting for messages...")
	if err := notify.ConsumeMail(ctx, q, smtp, logger); err != nil && ctx.Err() == nil {
		log.Printf("queue consume failed: %v", err)
	}

	<-sched.Stop().Done()
	log.Println("worker stopped")
}
