package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/billing/memory"
	"github.com/unibilling/unibilling/cross"
	"github.com/unibilling/unibilling/history"
	historymemory "github.com/unibilling/unibilling/history/memory"
	historypg "github.com/unibilling/unibilling/history/postgres"
)

// Demo wiring: the in-memory backend stands in for a real store. With
// DATABASE_URL set, purchases are recorded to postgres instead of an
// in-memory history.
func main() {
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := newHistoryStore(logger)
	if err != nil {
		logger.Fatal("Failed to create history store", zap.Error(err))
	}
	defer cleanup()

	cross.SetFactory(func() (billing.Biller, error) {
		backend := memory.NewBiller()
		backend.SeedProducts(
			&billing.Product{
				ID:             "coin_100",
				Name:           "100 Coins",
				LocalizedPrice: "0.99 USD",
				MicrosPrice:    990000,
				CurrencyCode:   "USD",
				Kind:           billing.KindConsumable,
			},
			&billing.Product{
				ID:             "premium_monthly",
				Name:           "Premium (Monthly)",
				LocalizedPrice: "4.99 USD",
				MicrosPrice:    4990000,
				CurrencyCode:   "USD",
				Kind:           billing.KindSubscription,
			},
		)
		return cross.WithHistory(logger, backend, store, memory.Platform), nil
	})

	ctx := context.Background()

	if err := cross.Connect(ctx); err != nil {
		logger.Fatal("Failed to connect", zap.Error(err))
	}
	defer func() { _ = cross.Disconnect() }()

	products, err := cross.GetProducts(ctx, []string{"coin_100"}, billing.KindConsumable)
	if err != nil {
		logger.Fatal("Failed to list products", zap.Error(err))
	}
	for _, product := range products {
		logger.Info("Product",
			zap.String("id", product.ID),
			zap.String("price", product.LocalizedPrice),
		)
	}

	purchase, err := cross.Purchase(ctx, "coin_100", billing.KindConsumable, billing.WithPayload("demo-order-1"))
	if err != nil {
		logger.Fatal("Purchase failed", zap.Error(err))
	}
	logger.Info("Purchased",
		zap.String("token", purchase.Token),
		zap.String("state", purchase.State.String()),
	)

	consumed, err := cross.Consume(ctx, "coin_100", "")
	if err != nil {
		logger.Fatal("Consume failed", zap.Error(err))
	}
	logger.Info("Consumed", zap.String("token", consumed.Token))

	records, err := store.ListByProduct(ctx, "coin_100")
	if err != nil {
		logger.Fatal("Failed to read history", zap.Error(err))
	}
	for _, record := range records {
		logger.Info("History record",
			zap.String("platform", record.Platform),
			zap.String("token", record.Purchase.Token),
			zap.Time("recorded_at", record.RecordedAt),
		)
	}
}

func newHistoryStore(logger *zap.Logger) (history.Store, func(), error) {
	databaseUrl := os.Getenv("DATABASE_URL")
	if databaseUrl == "" {
		return historymemory.NewInMemory(), func() {}, nil
	}

	db, err := sql.Open("pgx", databaseUrl)
	if err != nil {
		return nil, nil, err
	}
	if err := historypg.Migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	logger.Info("Recording purchase history to postgres")
	return historypg.NewInPostgres(db), func() { _ = db.Close() }, nil
}
