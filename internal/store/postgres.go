package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/DukeRupert/quotagate/internal/domain"
)

// PostgresStore is a PostgreSQL-backed QuotaStore.
//
// Saves are conditional on the version column: a new record is inserted with
// ON CONFLICT DO NOTHING and an existing one is updated WHERE version matches,
// so a lost race affects zero rows and is reported as a conflict.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore)

// WithQuotaTable sets the quota record table name (default "quota_records").
func WithQuotaTable(name string) PostgresOption {
	return func(s *PostgresStore) { s.table = name }
}

// NewPostgresStore creates a PostgresStore. The schema is created by the
// embedded migrations.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, table: "quota_records"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const quotaColumns = `account_id, current_plan,
	daily_token_limit, monthly_call_limit, max_emails_per_day,
	tokens_used_today, calls_used_this_month, emails_sent_today,
	last_reset_date, last_monthly_reset_date, history,
	is_blocked, blocked_reason, blocked_until, subscription_expired,
	version, created_at, updated_at`

// Load reads the record for accountID.
func (s *PostgresStore) Load(ctx context.Context, accountID string) (*domain.QuotaRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE account_id = $1`, quotaColumns, pq.QuoteIdentifier(s.table))

	var (
		rec          domain.QuotaRecord
		plan         string
		history      []byte
		reason       sql.NullString
		blockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, q, accountID).Scan(
		&rec.AccountID, &plan,
		&rec.DailyTokenLimit, &rec.MonthlyCallLimit, &rec.MaxEmailsPerDay,
		&rec.TokensUsedToday, &rec.CallsUsedThisMonth, &rec.EmailsSentToday,
		&rec.LastResetDate, &rec.LastMonthlyResetDate, &history,
		&rec.IsBlocked, &reason, &blockedUntil, &rec.SubscriptionExpired,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("postgres_store.load", "quota record", accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: load %q: %w", accountID, err)
	}

	rec.CurrentPlan = domain.PlanID(plan)
	rec.LastResetDate = rec.LastResetDate.UTC()
	rec.LastMonthlyResetDate = rec.LastMonthlyResetDate.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if err := json.Unmarshal(history, &rec.History); err != nil {
		return nil, fmt.Errorf("postgres store: decode history of %q: %w", accountID, err)
	}
	if reason.Valid {
		rec.BlockedReason = domain.BlockReason(reason.String)
	}
	if blockedUntil.Valid {
		until := blockedUntil.Time.UTC()
		rec.BlockedUntil = &until
	}
	return &rec, nil
}

// Save writes rec if the stored version still equals rec.Version.
func (s *PostgresStore) Save(ctx context.Context, rec *domain.QuotaRecord) error {
	const op = "postgres_store.save"

	history := rec.History
	if history == nil {
		history = []domain.UsageSnapshot{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("postgres store: encode history: %w", err)
	}

	var reason sql.NullString
	if rec.BlockedReason != domain.BlockNone {
		reason = sql.NullString{String: string(rec.BlockedReason), Valid: true}
	}
	var blockedUntil sql.NullTime
	if rec.BlockedUntil != nil {
		blockedUntil = sql.NullTime{Time: *rec.BlockedUntil, Valid: true}
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = updatedAt
	}

	table := pq.QuoteIdentifier(s.table)
	var res sql.Result
	if rec.Version == 0 {
		q := fmt.Sprintf(`INSERT INTO %s (%s)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $17)
			ON CONFLICT (account_id) DO NOTHING`, table, quotaColumns)
		res, err = s.db.ExecContext(ctx, q,
			rec.AccountID, string(rec.CurrentPlan),
			rec.DailyTokenLimit, rec.MonthlyCallLimit, rec.MaxEmailsPerDay,
			rec.TokensUsedToday, rec.CallsUsedThisMonth, rec.EmailsSentToday,
			rec.LastResetDate, rec.LastMonthlyResetDate, string(historyJSON),
			rec.IsBlocked, reason, blockedUntil, rec.SubscriptionExpired,
			createdAt, updatedAt,
		)
	} else {
		q := fmt.Sprintf(`UPDATE %s SET
				current_plan = $2,
				daily_token_limit = $3, monthly_call_limit = $4, max_emails_per_day = $5,
				tokens_used_today = $6, calls_used_this_month = $7, emails_sent_today = $8,
				last_reset_date = $9, last_monthly_reset_date = $10, history = $11,
				is_blocked = $12, blocked_reason = $13, blocked_until = $14,
				subscription_expired = $15,
				updated_at = $16, version = version + 1
			WHERE account_id = $1 AND version = $17`, table)
		res, err = s.db.ExecContext(ctx, q,
			rec.AccountID, string(rec.CurrentPlan),
			rec.DailyTokenLimit, rec.MonthlyCallLimit, rec.MaxEmailsPerDay,
			rec.TokensUsedToday, rec.CallsUsedThisMonth, rec.EmailsSentToday,
			rec.LastResetDate, rec.LastMonthlyResetDate, string(historyJSON),
			rec.IsBlocked, reason, blockedUntil, rec.SubscriptionExpired,
			updatedAt, rec.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("postgres store: save %q: %w", rec.AccountID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres store: save %q: %w", rec.AccountID, err)
	}
	if n == 0 {
		return domain.Conflict(op, fmt.Sprintf("quota record %q changed since version %d", rec.AccountID, rec.Version))
	}

	rec.Version++
	return nil
}

// ListAccountIDs returns every account with a stored record.
func (s *PostgresStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	q := fmt.Sprintf(`SELECT account_id FROM %s ORDER BY account_id`, pq.QuoteIdentifier(s.table))

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres store: scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
