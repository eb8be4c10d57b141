package postgres

import (
	"context"
	"database/sql"
)

// Schema creates the purchase history table.
const Schema = `
CREATE TABLE IF NOT EXISTS ` + purchaseTable + ` (
	"token"               TEXT PRIMARY KEY,
	"platform"            TEXT NOT NULL,
	"productIds"          TEXT NOT NULL,
	"orderId"             TEXT NOT NULL,
	"state"               INTEGER NOT NULL,
	"acknowledged"        BOOLEAN NOT NULL,
	"autoRenewing"        BOOLEAN NOT NULL,
	"quantity"            INTEGER NOT NULL,
	"payload"             TEXT NOT NULL,
	"obfuscatedAccountId" TEXT NOT NULL,
	"obfuscatedProfileId" TEXT NOT NULL,
	"purchasedAt"         TIMESTAMPTZ,
	"expiresAt"           TIMESTAMPTZ,
	"recordedAt"          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ` + purchaseTable + `_product_idx
	ON ` + purchaseTable + ` ("productIds");
`

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
