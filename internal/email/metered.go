package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/quotagate/internal/domain"
	"github.com/DukeRupert/quotagate/internal/metrics"
)

// EmailMeter counts an outbound email against the account's daily quota.
type EmailMeter interface {
	IncrementEmailsSent(ctx context.Context, accountID string) (domain.Result, error)
}

// MeteredSender sends email on behalf of an account only while the
// account's daily email quota allows it.
type MeteredSender struct {
	meter  EmailMeter
	next   Sender
	logger *slog.Logger
}

// NewMeteredSender wraps next with the account email quota.
func NewMeteredSender(meter EmailMeter, next Sender, logger *slog.Logger) *MeteredSender {
	return &MeteredSender{meter: meter, next: next, logger: logger}
}

// Send counts the email, then delivers it. A denied count returns a
// domain.ERATELIMIT error and nothing is sent. The count is kept when
// delivery fails.
func (m *MeteredSender) Send(ctx context.Context, accountID string, msg Email) error {
	const op = "email.send"

	res, err := m.meter.IncrementEmailsSent(ctx, accountID)
	if err != nil {
		metrics.EmailOutcome("failed")
		return err
	}
	if !res.Success {
		metrics.EmailOutcome("denied")
		m.logger.Info("email blocked by quota",
			"account_id", accountID,
			"reason", res.Reason,
			"plan", res.Plan,
		)
		return domain.QuotaExceeded(op, domain.ResourceEmails, res)
	}

	if err := m.next.Send(ctx, msg); err != nil {
		metrics.EmailOutcome("failed")
		return fmt.Errorf("send for %s: %w", accountID, err)
	}
	metrics.EmailOutcome("sent")
	return nil
}
