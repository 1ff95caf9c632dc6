package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
)

// CreateAccountParams describes a new account row.
type CreateAccountParams struct {
	ID                 string
	BalanceCents       int64
	MonthlyLimitCents  *int64
	AutoRecharge       account.AutoRechargeSettings
	PaymentCustomerRef string
	PaymentMethodRef   string
}

const accountColumns = `
	account_id,
	balance_cents,
	pending_millicents,
	monthly_limit_cents,
	usage_this_month_cents,
	auto_recharge_enabled,
	auto_recharge_threshold_cents,
	auto_recharge_amount_cents,
	payment_customer_ref,
	payment_method_ref,
	last_auto_recharge_attempt_at,
	failed_auto_recharge_count,
	successful_auto_recharge_count,
	created_at,
	updated_at`

const apiKeyColumns = `
	api_key_id,
	account_id,
	secret_hash,
	last_used_at,
	created_at`

const transactionColumns = `
	transaction_id,
	account_id,
	type,
	amount_cents,
	tool_id,
	description,
	created_at`

func prefixColumns(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func accountColumnsPrefixed(alias string) string {
	return prefixColumns(accountColumns, alias)
}

func apiKeyColumnsPrefixed(alias string) string {
	return prefixColumns(apiKeyColumns, alias)
}

func scanAccount(row pgx.Row) (account.Account, error) {
	var (
		acct        account.Account
		lastAttempt *time.Time
	)
	err := row.Scan(
		&acct.ID,
		&acct.BalanceCents,
		&acct.PendingMillicents,
		&acct.MonthlyLimitCents,
		&acct.UsageThisMonthCents,
		&acct.AutoRecharge.Enabled,
		&acct.AutoRecharge.ThresholdCents,
		&acct.AutoRecharge.AmountCents,
		&acct.PaymentCustomerRef,
		&acct.PaymentMethodRef,
		&lastAttempt,
		&acct.FailedAutoRechargeCount,
		&acct.SuccessfulAutoRechargeCount,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return account.Account{}, err
	}
	acct.LastAutoRechargeAttemptAt = lastAttempt
	return acct, nil
}

func scanAPIKey(row pgx.Row) (account.APIKey, error) {
	var key account.APIKey
	err := row.Scan(
		&key.ID,
		&key.AccountID,
		&key.SecretHash,
		&key.LastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return account.APIKey{}, err
	}
	return key, nil
}

func scanAPIKeyWithAccount(row pgx.Row) (account.APIKey, account.Account, error) {
	var (
		key         account.APIKey
		acct        account.Account
		lastAttempt *time.Time
	)
	err := row.Scan(
		&key.ID,
		&key.AccountID,
		&key.SecretHash,
		&key.LastUsedAt,
		&key.CreatedAt,
		&acct.ID,
		&acct.BalanceCents,
		&acct.PendingMillicents,
		&acct.MonthlyLimitCents,
		&acct.UsageThisMonthCents,
		&acct.AutoRecharge.Enabled,
		&acct.AutoRecharge.ThresholdCents,
		&acct.AutoRecharge.AmountCents,
		&acct.PaymentCustomerRef,
		&acct.PaymentMethodRef,
		&lastAttempt,
		&acct.FailedAutoRechargeCount,
		&acct.SuccessfulAutoRechargeCount,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return account.APIKey{}, account.Account{}, err
	}
	acct.LastAutoRechargeAttemptAt = lastAttempt
	return key, acct, nil
}

func scanTransaction(row pgx.Row) (account.Transaction, error) {
	var (
		tx     account.Transaction
		txType string
		toolID *string
	)
	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&txType,
		&tx.AmountCents,
		&toolID,
		&tx.Description,
		&tx.CreatedAt,
	)
	if err != nil {
		return account.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	tx.Type = account.TransactionType(txType)
	if toolID != nil {
		tx.ToolID = *toolID
	}
	return tx, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
