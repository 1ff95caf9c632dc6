// Package postgres provides Postgres-backed persistence for accounts, API
// keys, and the transaction ledger.
//
// Purpose:
//   This package implements the two primitives the billing core leans on:
//   the atomic "append ledger row + adjust balance" operation (an explicit
//   transaction: UPDATE accounts then INSERT transactions, committed as one
//   unit) and the conditional update used to elect a single auto-recharge
//   winner (UPDATE guarded on the observed attempt timestamp).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
)

// Store provides Postgres-backed persistence for the gateway.
type Store struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

// NewStore creates a store from a connection string and takes ownership of
// the pool.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Store{pool: pool, ownsPool: true}, nil
}

// NewStoreFromPool wraps an existing pgx pool.
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the underlying pool if the store owns it.
func (s *Store) Close() {
	if s.ownsPool && s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	return nil
}

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, params CreateAccountParams) (account.Account, error) {
	accountID := params.ID
	if accountID == "" {
		accountID = uuid.New().String()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (
			account_id,
			balance_cents,
			monthly_limit_cents,
			auto_recharge_enabled,
			auto_recharge_threshold_cents,
			auto_recharge_amount_cents,
			payment_customer_ref,
			payment_method_ref
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+accountColumns,
		accountID,
		params.BalanceCents,
		params.MonthlyLimitCents,
		params.AutoRecharge.Enabled,
		params.AutoRecharge.ThresholdCents,
		params.AutoRecharge.AmountCents,
		params.PaymentCustomerRef,
		params.PaymentMethodRef,
	)

	return scanAccount(row)
}

// CreateAPIKey inserts an API key for an account, hashing the raw secret.
func (s *Store) CreateAPIKey(ctx context.Context, accountID, secret string) (account.APIKey, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (api_key_id, account_id, secret_hash)
		VALUES ($1,$2,$3)
		RETURNING `+apiKeyColumns,
		uuid.New().String(),
		accountID,
		account.HashAPIKeySecret(secret),
	)

	return scanAPIKey(row)
}

// Get returns one account.
func (s *Store) Get(ctx context.Context, accountID string) (account.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE account_id = $1
	`, accountID)

	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.Account{}, account.ErrNotFound
	}
	return acct, err
}

// LookupAPIKey resolves a raw key secret to its key and owning account.
func (s *Store) LookupAPIKey(ctx context.Context, secret string) (account.APIKey, account.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+apiKeyColumnsPrefixed("k")+`, `+accountColumnsPrefixed("a")+`
		FROM api_keys k
		JOIN accounts a ON a.account_id = k.account_id
		WHERE k.secret_hash = $1
	`, account.HashAPIKeySecret(secret))

	key, acct, err := scanAPIKeyWithAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.APIKey{}, account.Account{}, account.ErrNotFound
	}
	return key, acct, err
}

// SetPendingMillicents overwrites the sub-cent accumulator.
func (s *Store) SetPendingMillicents(ctx context.Context, accountID string, millicents int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET pending_millicents = $2, updated_at = now()
		WHERE account_id = $1
	`, accountID, millicents)
	if err != nil {
		return fmt.Errorf("set pending millicents: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

// AcquireRechargeAttempt performs the single-winner compare-and-swap on the
// attempt timestamp. IS NOT DISTINCT FROM makes the guard hold for the
// never-attempted (NULL) case as well. Zero rows affected means another
// request moved the timestamp first.
func (s *Store) AcquireRechargeAttempt(ctx context.Context, accountID string, observed *time.Time, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET last_auto_recharge_attempt_at = $3, updated_at = now()
		WHERE account_id = $1
		  AND last_auto_recharge_attempt_at IS NOT DISTINCT FROM $2
	`, accountID, observed, now)
	if err != nil {
		return false, fmt.Errorf("acquire recharge attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordRechargeOutcome updates the attempt counters. Success resets the
// failure streak.
func (s *Store) RecordRechargeOutcome(ctx context.Context, accountID string, success bool) error {
	var query string
	if success {
		query = `
			UPDATE accounts
			SET failed_auto_recharge_count = 0,
			    successful_auto_recharge_count = successful_auto_recharge_count + 1,
			    updated_at = now()
			WHERE account_id = $1
		`
	} else {
		query = `
			UPDATE accounts
			SET failed_auto_recharge_count = failed_auto_recharge_count + 1,
			    updated_at = now()
			WHERE account_id = $1
		`
	}

	tag, err := s.pool.Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("record recharge outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	return nil
}

// TouchAPIKey updates the key's last-used timestamp.
func (s *Store) TouchAPIKey(ctx context.Context, keyID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET last_used_at = $2 WHERE api_key_id = $1
	`, keyID, at)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// Record appends a transaction row and adjusts the balance (and, for
// charges, the monthly usage counter) in one database transaction. This is
// the atomicity the billing core assumes of its ledger.
func (s *Store) Record(ctx context.Context, accountID string, txType account.TransactionType, amountCents int64, toolID, description string) (int64, error) {
	var newBalance int64
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		usageDelta := int64(0)
		if txType == account.TransactionCharge {
			usageDelta = -amountCents
		}

		row := tx.QueryRow(ctx, `
			UPDATE accounts
			SET balance_cents = balance_cents + $2,
			    usage_this_month_cents = usage_this_month_cents + $3,
			    updated_at = now()
			WHERE account_id = $1
			RETURNING balance_cents
		`, accountID, amountCents, usageDelta)
		if err := row.Scan(&newBalance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return account.ErrNotFound
			}
			return fmt.Errorf("adjust balance: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO transactions (
				transaction_id, account_id, type, amount_cents, tool_id, description
			) VALUES ($1,$2,$3,$4,$5,$6)
		`, uuid.New().String(), accountID, string(txType), amountCents, nullableString(toolID), description); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record transaction: %w", err)
	}

	return newBalance, nil
}

// ListTransactions returns an account's ledger rows, newest first.
func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]account.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []account.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
