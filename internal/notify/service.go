package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hospital-intake-chat/internal/events"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

// ErrNotConfigured is returned while no sender or staff address is set, so
// the outbox entry stays pending until one is.
var ErrNotConfigured = errors.New("notify: staff email not configured")

// consumerName keys this notifier's rows in processed_events.
const consumerName = "intake-notify"

// kst is the clinic's local time for the email body.
var kst = time.FixedZone("KST", 9*60*60)

// ProcessedTracker remembers which outbox events were already emailed.
type ProcessedTracker interface {
	AlreadyProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	MarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
}

// IntakeNotifier emails clinic staff the collected record of each completed
// intake. It is an events.DeliveryHandler.
type IntakeNotifier struct {
	email     EmailSender
	to        string
	processed ProcessedTracker
	logger    *logging.Logger
}

// NewIntakeNotifier creates a notifier sending to the staff address to.
// processed may be nil, in which case redelivered events are emailed again.
func NewIntakeNotifier(email EmailSender, to string, processed ProcessedTracker, logger *logging.Logger) *IntakeNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &IntakeNotifier{
		email:     email,
		to:        strings.TrimSpace(to),
		processed: processed,
		logger:    logger,
	}
}

// Handle sends the staff email for intake.completed.v1 entries and ignores
// other event types.
func (n *IntakeNotifier) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != (events.IntakeCompletedV1{}).EventType() {
		n.logger.Debug("notify: ignoring event", "type", entry.Type)
		return nil
	}
	if n.email == nil || n.to == "" {
		return ErrNotConfigured
	}

	var evt events.IntakeCompletedV1
	env, err := events.DecodeEnvelope(entry.Payload, &evt)
	if err != nil {
		return fmt.Errorf("notify: decode intake event: %w", err)
	}
	eventID := env.EventID
	if eventID == uuid.Nil {
		eventID = entry.ID
	}

	if n.processed != nil {
		done, err := n.processed.AlreadyProcessed(ctx, consumerName, eventID)
		if err != nil {
			return fmt.Errorf("notify: check processed: %w", err)
		}
		if done {
			n.logger.Info("notify: intake already emailed", "event_id", eventID, "session_id", evt.SessionID)
			return nil
		}
	}

	if err := n.email.Send(ctx, IntakeEmail(n.to, evt)); err != nil {
		return err
	}

	if n.processed != nil {
		if _, err := n.processed.MarkProcessed(ctx, consumerName, eventID); err != nil {
			n.logger.Warn("notify: failed to record processed event", "error", err, "event_id", eventID)
		}
	}
	n.logger.Info("notify: intake emailed", "event_id", eventID, "session_id", evt.SessionID)
	return nil
}

// IntakeEmail renders the staff email for a completed intake.
func IntakeEmail(to string, evt events.IntakeCompletedV1) EmailMessage {
	completed := evt.CompletedAt.In(kst).Format("2006-01-02 15:04")
	rows := [][2]string{
		{"성함", evt.PatientName},
		{"연락처", evt.PhoneNumber},
		{"생년월일", evt.BirthDate},
		{"주요 증상", evt.ChiefComplaint},
		{"접수 시각", completed + " KST"},
		{"세션 ID", evt.SessionID},
	}

	var text strings.Builder
	text.WriteString("새 예약 문의가 접수되었습니다.\n\n")
	var table strings.Builder
	table.WriteString("<p>새 예약 문의가 접수되었습니다.</p><table>")
	for _, row := range rows {
		fmt.Fprintf(&text, "%s: %s\n", row[0], row[1])
		fmt.Fprintf(&table, "<tr><th align=\"left\">%s</th><td>%s</td></tr>", row[0], html.EscapeString(row[1]))
	}
	table.WriteString("</table>")

	return EmailMessage{
		To:      to,
		Subject: fmt.Sprintf("[예약 문의] %s님 (%s)", evt.PatientName, completed),
		Body:    text.String(),
		HTML:    table.String(),
	}
}
