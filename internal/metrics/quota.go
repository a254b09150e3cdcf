package metrics

// MeterDecision records the outcome of a metering operation.
func MeterDecision(resource, outcome string) {
	MeterDecisionsTotal.WithLabelValues(resource, outcome).Inc()
}

// TokensMetered adds granted tokens to the aggregate counter.
func TokensMetered(n int64) {
	if n > 0 {
		TokensMeteredTotal.Add(float64(n))
	}
}

// QuotaBlocked records a block asserted for reason.
func QuotaBlocked(reason string) {
	BlocksTotal.WithLabelValues(reason).Inc()
}

// WindowReset records a daily or monthly rollover.
func WindowReset(window string) {
	WindowResetsTotal.WithLabelValues(window).Inc()
}

// SyncCompleted records a plan synchronization outcome.
func SyncCompleted(outcome string) {
	SyncsTotal.WithLabelValues(outcome).Inc()
}

// SaveConflict records a lost optimistic concurrency check.
func SaveConflict() {
	SaveConflictsTotal.Inc()
}

// EmailOutcome records the outcome of an outbound email.
func EmailOutcome(status string) {
	EmailsTotal.WithLabelValues(status).Inc()
}

// WebhookReceived records a billing webhook and whether it was handled.
func WebhookReceived(eventType, status string) {
	WebhooksTotal.WithLabelValues(eventType, status).Inc()
}
