// Command seed provisions a development account and API key so the gateway
// can be exercised locally right after migrations run.
//
// Usage:
//
//	DATABASE_URL=postgres://... seed [-balance 1000]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/account"
	"github.com/kbmann3521/Pioneer-Tools-sub000/internal/storage/postgres"
)

func main() {
	var (
		balance   = flag.Int64("balance", 1000, "Initial balance in cents")
		threshold = flag.Int64("recharge-threshold", 500, "Auto-recharge threshold in cents (0 disables)")
		amount    = flag.Int64("recharge-amount", 1500, "Auto-recharge top-up amount in cents")
	)
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer store.Close()

	acct, err := store.CreateAccount(ctx, postgres.CreateAccountParams{
		BalanceCents: *balance,
		AutoRecharge: account.AutoRechargeSettings{
			Enabled:        *threshold > 0,
			ThresholdCents: *threshold,
			AmountCents:    *amount,
		},
	})
	if err != nil {
		log.Fatalf("seed account: %v", err)
	}

	secret := "pk_dev_" + uuid.New().String()
	key, err := store.CreateAPIKey(ctx, acct.ID, secret)
	if err != nil {
		log.Fatalf("seed api key: %v", err)
	}

	// The raw secret is only recoverable here; the database stores a hash.
	log.Printf("Seed completed: account=%s api_key=%s balance_cents=%d", acct.ID, key.ID, acct.BalanceCents)
	log.Printf("API key secret: %s", secret)
}
