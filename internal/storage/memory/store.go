// Package memory provides mutex-guarded in-memory implementations of the
// account store, transaction ledger, and counter store. It backs unit tests
// and lets the gateway run without Postgres or Redis.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
)

// Store implements account.AccountStore and account.TransactionLedger over
// in-process maps. A single mutex serializes all mutations, which also gives
// the ledger its append+balance atomicity for free.
type Store struct {
	mu           sync.Mutex
	accounts     map[string]*account.Account
	keysByID     map[string]*account.APIKey
	keysByHash   map[string]*account.APIKey
	transactions []account.Transaction
	now          func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:   make(map[string]*account.Account),
		keysByID:   make(map[string]*account.APIKey),
		keysByHash: make(map[string]*account.APIKey),
		now:        time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutAccount inserts or replaces an account.
func (s *Store) PutAccount(acct account.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := acct
	s.accounts[acct.ID] = &copied
}

// PutAPIKey inserts an API key for an existing account and returns it. The
// raw secret is hashed before indexing.
func (s *Store) PutAPIKey(accountID, secret string) account.APIKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := account.APIKey{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SecretHash: account.HashAPIKeySecret(secret),
		CreatedAt:  s.now(),
	}
	s.keysByID[key.ID] = &key
	s.keysByHash[key.SecretHash] = &key
	return key
}

// Get returns a copy of the account.
func (s *Store) Get(_ context.Context, accountID string) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return *acct, nil
}

// LookupAPIKey resolves a raw secret to its key and owning account.
func (s *Store) LookupAPIKey(_ context.Context, secret string) (account.APIKey, account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keysByHash[account.HashAPIKeySecret(secret)]
	if !ok {
		return account.APIKey{}, account.Account{}, account.ErrNotFound
	}
	acct, ok := s.accounts[key.AccountID]
	if !ok {
		return account.APIKey{}, account.Account{}, account.ErrNotFound
	}
	return *key, *acct, nil
}

// SetPendingMillicents overwrites the sub-cent accumulator.
func (s *Store) SetPendingMillicents(_ context.Context, accountID string, millicents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return account.ErrNotFound
	}
	acct.PendingMillicents = millicents
	acct.UpdatedAt = s.now()
	return nil
}

// AcquireRechargeAttempt swings the attempt timestamp only when the stored
// value still matches what the caller observed.
func (s *Store) AcquireRechargeAttempt(_ context.Context, accountID string, observed *time.Time, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return false, account.ErrNotFound
	}

	stored := acct.LastAutoRechargeAttemptAt
	switch {
	case stored == nil && observed == nil:
	case stored != nil && observed != nil && stored.Equal(*observed):
	default:
		return false, nil
	}

	acct.LastAutoRechargeAttemptAt = &now
	acct.UpdatedAt = s.now()
	return true, nil
}

// RecordRechargeOutcome updates the attempt counters.
func (s *Store) RecordRechargeOutcome(_ context.Context, accountID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return account.ErrNotFound
	}
	if success {
		acct.FailedAutoRechargeCount = 0
		acct.SuccessfulAutoRechargeCount++
	} else {
		acct.FailedAutoRechargeCount++
	}
	acct.UpdatedAt = s.now()
	return nil
}

// TouchAPIKey updates the key's last-used timestamp.
func (s *Store) TouchAPIKey(_ context.Context, keyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keysByID[keyID]
	if !ok {
		return account.ErrNotFound
	}
	key.LastUsedAt = &at
	return nil
}

// Record appends a transaction and adjusts the balance (and monthly usage
// for charges) under one lock acquisition.
func (s *Store) Record(_ context.Context, accountID string, txType account.TransactionType, amountCents int64, toolID, description string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, account.ErrNotFound
	}

	acct.BalanceCents += amountCents
	if txType == account.TransactionCharge {
		acct.UsageThisMonthCents += -amountCents
	}
	acct.UpdatedAt = s.now()

	s.transactions = append(s.transactions, account.Transaction{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Type:        txType,
		AmountCents: amountCents,
		ToolID:      toolID,
		Description: description,
		CreatedAt:   s.now(),
	})

	return acct.BalanceCents, nil
}

// Transactions returns a copy of all recorded transactions for an account.
func (s *Store) Transactions(accountID string) []account.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []account.Transaction
	for _, tx := range s.transactions {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out
}
