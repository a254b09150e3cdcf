package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sqlc-dev/pqtype"

	"github.com/DukeRupert/quotagate/internal/domain"
)

// PostgresDirectory is an AccountDirectory over the accounts table.
// The subscription column holds either legacy shape as raw JSON.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a PostgresDirectory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// GetSubscription reads and parses the account's subscription column.
func (d *PostgresDirectory) GetSubscription(ctx context.Context, accountID string) (domain.Subscription, error) {
	const op = "postgres_directory.get_subscription"

	var raw pqtype.NullRawMessage
	err := d.db.QueryRowContext(ctx, `SELECT subscription FROM accounts WHERE id = $1`, accountID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, domain.NotFound(op, "account", accountID)
	}
	if err != nil {
		return domain.Subscription{}, domain.Unavailable(err, op, "failed to read account subscription")
	}
	if !raw.Valid {
		return domain.Subscription{}, nil
	}
	return domain.ParseSubscription(raw.RawMessage)
}

// SubscriptionID returns the billing subscription id linked to the account,
// or "" when the account has none.
func (d *PostgresDirectory) SubscriptionID(ctx context.Context, accountID string) (string, error) {
	const op = "postgres_directory.subscription_id"

	var id sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT stripe_subscription_id FROM accounts WHERE id = $1`, accountID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NotFound(op, "account", accountID)
	}
	if err != nil {
		return "", domain.Unavailable(err, op, "failed to read subscription id")
	}
	return id.String, nil
}

// UpsertAccount creates the account or updates its email and customer id.
func (d *PostgresDirectory) UpsertAccount(ctx context.Context, accountID, email, customerID string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, stripe_customer_id)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(EXCLUDED.email, accounts.email),
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, accounts.stripe_customer_id),
			updated_at = now()`,
		accountID, email, customerID,
	)
	if err != nil {
		return fmt.Errorf("postgres directory: upsert account %q: %w", accountID, err)
	}
	return nil
}

// SetSubscription overwrites the subscription column of an account.
func (d *PostgresDirectory) SetSubscription(ctx context.Context, accountID string, sub domain.Subscription) error {
	const op = "postgres_directory.set_subscription"

	raw, err := subscriptionColumn(sub)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE accounts SET subscription = $2, updated_at = now() WHERE id = $1`,
		accountID, raw,
	)
	if err != nil {
		return fmt.Errorf("postgres directory: set subscription of %q: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound(op, "account", accountID)
	}
	return nil
}

// UpdateSubscriptionByCustomer stores sub and the billing subscription id on
// the account owning customerID and returns that account's id.
func (d *PostgresDirectory) UpdateSubscriptionByCustomer(ctx context.Context, customerID, subscriptionID string, sub domain.Subscription) (string, error) {
	const op = "postgres_directory.update_subscription"

	raw, err := subscriptionColumn(sub)
	if err != nil {
		return "", err
	}

	var accountID string
	err = d.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET subscription = $2, stripe_subscription_id = NULLIF($3, ''), updated_at = now()
		WHERE stripe_customer_id = $1
		RETURNING id`,
		customerID, raw, subscriptionID,
	).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NotFound(op, "customer", customerID)
	}
	if err != nil {
		return "", fmt.Errorf("postgres directory: update subscription for customer %q: %w", customerID, err)
	}
	return accountID, nil
}

func subscriptionColumn(sub domain.Subscription) (pqtype.NullRawMessage, error) {
	if sub.Kind == domain.SubscriptionAbsent {
		return pqtype.NullRawMessage{}, nil
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("encode subscription: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}
