// Package email provides outbound email delivery for quota notices and
// account mail, gated by the account's daily email quota.
//
// This package defines a Sender interface with implementations for:
// - SMTP (Mailhog in development, any SMTP relay in production)
// - Log (writes the message to the logger instead of sending it)
package email

import (
	"context"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Sender delivers a single email message.
//
// Implementations:
// - SMTPSender: Uses SMTP protocol
// - LogSender: Logs messages, for development and tests
type Sender interface {
	Send(ctx context.Context, msg Email) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email; optional
	TextBody string // Plain text content
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromEmail is the default sender email for outbound mail.
	DefaultFromEmail = "noreply@quotagate.dev"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Quotagate"
)
