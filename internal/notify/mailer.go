package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"campusattend/internal/metrics"
	"campusattend/internal/queue"
)

// MailJobType tags queue messages carrying a Mail.
const MailJobType = "mail"

// Mail is a plain-text message to one recipient.
type Mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer delivers mail. Callers treat delivery as fire-and-forget.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer writes mail to the log instead of delivering it.
type LogMailer struct {
	Logger *slog.Logger
}

func (l LogMailer) Send(_ context.Context, m Mail) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail not delivered, no SMTP configured", "to", m.To, "subject", m.Subject)
	return nil
}

// QueueMailer hands mail to the worker through the job queue.
type QueueMailer struct {
	q queue.Queue
}

// NewQueueMailer publishes mail jobs on q.
func NewQueueMailer(q queue.Queue) *QueueMailer {
	return &QueueMailer{q: q}
}

func (m *QueueMailer) Send(ctx context.Context, mail Mail) error {
	body, err := json.Marshal(mail)
	if err != nil {
		return err
	}
	if err := m.q.Publish(ctx, queue.Message{Type: MailJobType, Body: body}); err != nil {
		return fmt.Errorf("publish mail job: %w", err)
	}
	metrics.MailJobs.WithLabelValues("queued").Inc()
	return nil
}

// DecodeMailJob parses a queue message published by QueueMailer.
func DecodeMailJob(msg queue.Message) (Mail, error) {
	if msg.Type != MailJobType {
		return Mail{}, fmt.Errorf("unexpected job type %q", msg.Type)
	}
	var m Mail
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return Mail{}, fmt.Errorf("decode mail job: %w", err)
	}
	if m.To == "" {
		return Mail{}, fmt.Errorf("mail job has no recipient")
	}
	return m, nil
}

// SMTPConfig describes the outbound relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers mail synchronously over SMTP.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// NewSMTPMailer builds a client for cfg. Authentication is used only when a
// username is set.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, m Mail) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// NewMailer returns an SMTPMailer for cfg, or a LogMailer when no host is
// configured or the client cannot be built.
func NewMailer(cfg SMTPConfig, logger *slog.Logger) Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		return LogMailer{Logger: logger}
	}
	m, err := NewSMTPMailer(cfg)
	if err != nil {
		logger.Error("smtp mailer unavailable, logging mail instead", "error", err)
		return LogMailer{Logger: logger}
	}
	return m
}
