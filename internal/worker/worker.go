package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/brightboard/backend/config"
	"github.com/brightboard/backend/internal/notifications"
	"github.com/brightboard/backend/pkg/queue"
)

// EmailSender delivers one email. Split out so tests can fake SMTP.
type EmailSender interface {
	Send(to, subject, bodyHTML string) error
}

// SMTPSender sends mail over SMTP with optional AUTH.
type SMTPSender struct {
	cfg config.EmailConfig
}

// NewSMTPSender creates an SMTP sender from config.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers one HTML email.
func (s *SMTPSender) Send(to, subject, bodyHTML string) error {
	if s.cfg.SMTPHost == "" {
		return fmt.Errorf("smtp not configured")
	}
	addr := s.cfg.SMTPHost + ":" + strconv.Itoa(s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
	}
	msg := []byte("From: " + s.cfg.FromName + " <" + s.cfg.FromAddress + ">\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" + bodyHTML + "\r\n")
	return smtp.SendMail(addr, auth, s.cfg.FromAddress, []string{to}, msg)
}

// EmailProcessor drains the email queue: OTP mail and notification mail.
type EmailProcessor struct {
	queue         *queue.Queue
	sender        EmailSender
	notifications *notifications.Repository
	logger        *zap.Logger
}

// NewEmailProcessor creates an email worker.
func NewEmailProcessor(q *queue.Queue, sender EmailSender, notifRepo *notifications.Repository, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{queue: q, sender: sender, notifications: notifRepo, logger: logger}
}

// Process executes one email job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.RecipientEmail == "" {
		return fmt.Errorf("empty recipient")
	}

	if err := p.sender.Send(payload.RecipientEmail, payload.Subject, payload.BodyHTML); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if payload.NotificationID != nil && p.notifications != nil {
		if err := p.notifications.MarkEmailSent(ctx, *payload.NotificationID); err != nil {
			// mail went out, only the bookkeeping failed
			p.logger.Warn("mark email sent failed", zap.Error(err),
				zap.String("notification_id", payload.NotificationID.String()))
		}
	}

	p.logger.Info("email sent",
		zap.String("job_id", job.ID),
		zap.String("email_type", payload.EmailType),
		zap.String("recipient", payload.RecipientEmail))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
