package notify

import (
	"context"
	"log/slog"

	"campusattend/internal/metrics"
	"campusattend/internal/queue"
)

// ConsumeMail delivers mail jobs from q through mailer until ctx is done or
// the queue closes. Undecodable jobs and delivery failures are logged and
// dropped.
func ConsumeMail(ctx context.Context, q queue.Queue, mailer Mailer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != MailJobType {
			logger.Warn("skipping unknown job", "type", msg.Type)
			continue
		}
		m, err := DecodeMailJob(msg)
		if err != nil {
			metrics.MailJobs.WithLabelValues("failed").Inc()
			logger.Warn("bad mail job", "error", err)
			continue
		}
		if err := mailer.Send(ctx, m); err != nil {
			metrics.MailJobs.WithLabelValues("failed").Inc()
			logger.Error("mail delivery failed", "to", m.To, "subject", m.Subject, "error", err)
			continue
		}
		metrics.MailJobs.WithLabelValues("sent").Inc()
		logger.Info("mail delivered", "to", m.To, "subject", m.Subject)
	}
	return ctx.Err()
}
