package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/hospital-intake-chat/internal/config"
	"github.com/wolfman30/hospital-intake-chat/internal/events"
	"github.com/wolfman30/hospital-intake-chat/internal/notify"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

// BuildEmailSender picks the sender named by EMAIL_PROVIDER. A provider that
// is selected but not configured falls back to the logging stub.
func BuildEmailSender(cfg *appconfig.Config, sesClient *sesv2.Client, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger)
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			logger.Info("email sender: sendgrid")
			return sender
		}
		logger.Warn("EMAIL_PROVIDER=sendgrid but SENDGRID_API_KEY is empty; using stub")
	case "ses":
		if sender := notify.NewSESSender(sesClient, notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			logger.Info("email sender: ses")
			return sender
		}
		logger.Warn("EMAIL_PROVIDER=ses but no SES client; using stub")
	}
	return notify.NewStubEmailSender(logger)
}

// BuildDeliverer wires the outbox poller to the staff notifier. It returns
// nil when there is no store pool or no staff address; completed intakes then
// stay pending in the outbox until a deliverer runs with INTAKE_NOTIFY_EMAIL set.
func BuildDeliverer(pool *pgxpool.Pool, cfg *appconfig.Config, sender notify.EmailSender, metrics events.DeliveryMetrics, logger *logging.Logger) *events.Deliverer {
	if pool == nil || cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.IntakeNotifyEmail) == "" {
		logger.Warn("INTAKE_NOTIFY_EMAIL is empty; completed intakes stay in the outbox")
		return nil
	}
	notifier := notify.NewIntakeNotifier(sender, cfg.IntakeNotifyEmail, events.NewProcessedStore(pool), logger)
	return events.NewDeliverer(events.NewOutboxStore(pool), notifier, logger).
		WithInterval(cfg.OutboxPollInterval).
		WithMetrics(metrics)
}
