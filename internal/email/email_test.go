package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/quotagate/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSMTPSender_BuildMessage(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "localhost", Port: 1025}, discardLogger())

	t.Run("text only", func(t *testing.T) {
		msg := string(s.buildMessage(Email{To: "a@example.com", Subject: "Hi", TextBody: "hello"}))
		assert.Contains(t, msg, "From: Quotagate <noreply@quotagate.dev>\r\n")
		assert.Contains(t, msg, "To: a@example.com\r\n")
		assert.Contains(t, msg, "Subject: Hi\r\n")
		assert.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n\r\nhello")
		assert.NotContains(t, msg, "multipart")
	})

	t.Run("text and html", func(t *testing.T) {
		msg := string(s.buildMessage(Email{To: "a@example.com", Subject: "Hi", TextBody: "hello", HTMLBody: "<p>hello</p>"}))
		assert.Contains(t, msg, "multipart/alternative")
		assert.Contains(t, msg, "<p>hello</p>")
		assert.True(t, strings.HasSuffix(msg, "--\r\n"))
	})
}

func TestSMTPSender_Send(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.internal", Port: 587, Username: "u", Password: "p", From: "ops@example.com"}, discardLogger())

	var gotAddr, gotFrom string
	var gotTo []string
	var gotAuth smtp.Auth
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo = addr, a, from, to
		return nil
	}

	require.NoError(t, s.Send(context.Background(), Email{To: "dest@example.com", Subject: "s", TextBody: "b"}))
	assert.Equal(t, "mail.internal:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "ops@example.com", gotFrom)
	assert.Equal(t, []string{"dest@example.com"}, gotTo)

	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay refused") }
	assert.Error(t, s.Send(context.Background(), Email{To: "dest@example.com"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, Email{To: "dest@example.com"}), context.Canceled)
}

// =============================================================================
// MeteredSender
// =============================================================================

type fakeMeter struct {
	result domain.Result
	err    error
	calls  int
}

func (m *fakeMeter) IncrementEmailsSent(context.Context, string) (domain.Result, error) {
	m.calls++
	return m.result, m.err
}

type fakeSender struct {
	sent []Email
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg Email) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestMeteredSender(t *testing.T) {
	msg := Email{To: "owner@example.com", Subject: "Weekly digest", TextBody: "..."}
	until := time.Date(2026, 6, 16, 0, 0, 0, 0, time.UTC)

	t.Run("allowed is delivered", func(t *testing.T) {
		meter := &fakeMeter{result: domain.Result{Success: true, Remaining: 19}}
		next := &fakeSender{}

		err := NewMeteredSender(meter, next, discardLogger()).Send(context.Background(), "acct", msg)
		require.NoError(t, err)
		assert.Equal(t, []Email{msg}, next.sent)
	})

	t.Run("denied is not delivered", func(t *testing.T) {
		meter := &fakeMeter{result: domain.Result{Success: false, Blocked: true, Reason: domain.BlockEmails, BlockedUntil: &until}}
		next := &fakeSender{}

		err := NewMeteredSender(meter, next, discardLogger()).Send(context.Background(), "acct", msg)
		require.Error(t, err)
		assert.Equal(t, domain.ERATELIMIT, domain.ErrorCode(err))
		assert.Empty(t, next.sent)
	})

	t.Run("meter failure is returned", func(t *testing.T) {
		meter := &fakeMeter{err: domain.Internal(errors.New("db"), "quota.increment_emails_sent", "failed to save quota record")}
		next := &fakeSender{}

		err := NewMeteredSender(meter, next, discardLogger()).Send(context.Background(), "acct", msg)
		require.Error(t, err)
		assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
		assert.Empty(t, next.sent)
	})

	t.Run("delivery failure keeps the count", func(t *testing.T) {
		meter := &fakeMeter{result: domain.Result{Success: true, Remaining: 3}}
		next := &fakeSender{err: errors.New("smtp down")}

		err := NewMeteredSender(meter, next, discardLogger()).Send(context.Background(), "acct", msg)
		require.Error(t, err)
		assert.Equal(t, 1, meter.calls)
	})
}
