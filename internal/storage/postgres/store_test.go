package postgres

import (
	"context"
	"database/sql"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
)

func setupStore(t *testing.T) (*Store, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.RunContainer(ctx,
		tcpostgres.WithDatabase("gateway"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	require.NoError(t, err)

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connString)
	require.NoError(t, err)

	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..", "..")
	migrationsDir := filepath.Join(projectRoot, "migrations", "sql")

	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, migrationsDir))

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)

	store := NewStoreFromPool(pool)

	cleanup := func() {
		pool.Close()
		_ = db.Close()
		require.NoError(t, container.Terminate(ctx))
	}

	return store, cleanup
}

func TestStoreAccountAndAPIKeyLifecycle(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()

	limit := int64(5000)
	created, err := store.CreateAccount(ctx, CreateAccountParams{
		BalanceCents:      1000,
		MonthlyLimitCents: &limit,
		AutoRecharge: account.AutoRechargeSettings{
			Enabled:        true,
			ThresholdCents: 500,
			AmountCents:    1500,
		},
		PaymentCustomerRef: "cus_123",
		PaymentMethodRef:   "pm_123",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), created.BalanceCents)
	require.Equal(t, int64(0), created.PendingMillicents)
	require.True(t, created.AutoRecharge.Enabled)
	require.NotNil(t, created.MonthlyLimitCents)
	require.Equal(t, int64(5000), *created.MonthlyLimitCents)

	key, err := store.CreateAPIKey(ctx, created.ID, "pk_live_secret")
	require.NoError(t, err)
	require.Equal(t, created.ID, key.AccountID)

	foundKey, foundAcct, err := store.LookupAPIKey(ctx, "pk_live_secret")
	require.NoError(t, err)
	require.Equal(t, key.ID, foundKey.ID)
	require.Equal(t, created.ID, foundAcct.ID)
	require.Equal(t, int64(1000), foundAcct.BalanceCents)

	_, _, err = store.LookupAPIKey(ctx, "wrong-secret")
	require.ErrorIs(t, err, account.ErrNotFound)

	_, err = store.Get(ctx, "missing-account")
	require.ErrorIs(t, err, account.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.TouchAPIKey(ctx, key.ID, now))
}

func TestStoreSetPendingMillicents(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()

	created, err := store.CreateAccount(ctx, CreateAccountParams{BalanceCents: 100})
	require.NoError(t, err)

	require.NoError(t, store.SetPendingMillicents(ctx, created.ID, 700))

	acct, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(700), acct.PendingMillicents)

	require.ErrorIs(t, store.SetPendingMillicents(ctx, "missing-account", 1), account.ErrNotFound)
}

// Record must land the ledger row and the balance delta as one unit, and the
// returned balance must reflect the committed state.
func TestStoreRecordTransaction(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()

	created, err := store.CreateAccount(ctx, CreateAccountParams{BalanceCents: 100})
	require.NoError(t, err)

	newBalance, err := store.Record(ctx, created.ID, account.TransactionCharge, -1, "slugify", "charge for slugify")
	require.NoError(t, err)
	require.Equal(t, int64(99), newBalance)

	newBalance, err = store.Record(ctx, created.ID, account.TransactionDeposit, 500, "", "manual deposit")
	require.NoError(t, err)
	require.Equal(t, int64(599), newBalance)

	acct, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(599), acct.BalanceCents)
	// Only the charge counts toward monthly usage.
	require.Equal(t, int64(1), acct.UsageThisMonthCents)

	txs, err := store.ListTransactions(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	// Newest first.
	require.Equal(t, account.TransactionDeposit, txs[0].Type)
	require.Equal(t, account.TransactionCharge, txs[1].Type)
	require.Equal(t, "slugify", txs[1].ToolID)

	_, err = store.Record(ctx, "missing-account", account.TransactionCharge, -1, "", "")
	require.ErrorIs(t, err, account.ErrNotFound)
}

// The conditional update is the auto-recharge election: of N concurrent
// updates guarded on the same observed timestamp, exactly one may win.
func TestStoreAcquireRechargeAttempt(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()

	created, err := store.CreateAccount(ctx, CreateAccountParams{BalanceCents: 100})
	require.NoError(t, err)
	require.Nil(t, created.LastAutoRechargeAttemptAt)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	now := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.AcquireRechargeAttempt(ctx, created.ID, nil, now)
			if err != nil {
				t.Error(err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	acct, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, acct.LastAutoRechargeAttemptAt)
	require.True(t, acct.LastAutoRechargeAttemptAt.Equal(now))

	// A caller holding the current timestamp can move it again.
	later := now.Add(2 * time.Minute)
	won, err := store.AcquireRechargeAttempt(ctx, created.ID, acct.LastAutoRechargeAttemptAt, later)
	require.NoError(t, err)
	require.True(t, won)

	// A stale observation loses.
	won, err = store.AcquireRechargeAttempt(ctx, created.ID, &now, later.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, won)
}

func TestStoreRecordRechargeOutcome(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()

	ctx := context.Background()

	created, err := store.CreateAccount(ctx, CreateAccountParams{BalanceCents: 100})
	require.NoError(t, err)

	require.NoError(t, store.RecordRechargeOutcome(ctx, created.ID, false))
	require.NoError(t, store.RecordRechargeOutcome(ctx, created.ID, false))

	acct, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 2, acct.FailedAutoRechargeCount)

	// Success resets the failure streak.
	require.NoError(t, store.RecordRechargeOutcome(ctx, created.ID, true))

	acct, err = store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 0, acct.FailedAutoRechargeCount)
	require.Equal(t, 1, acct.SuccessfulAutoRechargeCount)
}
