package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/unibilling/unibilling/billing"
	"github.com/unibilling/unibilling/history"
	"github.com/unibilling/unibilling/query"
)

const purchaseTable = `unibilling_purchase_history`

type pgStore struct {
	db *sqlx.DB
}

func NewInPostgres(db *sql.DB) history.Store {
	return &pgStore{
		db: sqlx.NewDb(db, "pgx"),
	}
}

func (s *pgStore) reset() {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM `+purchaseTable)
	if err != nil {
		panic(err)
	}
}

type purchaseModel struct {
	Token               string       `db:"token"`
	Platform            string       `db:"platform"`
	ProductIDs          string       `db:"productIds"`
	OrderID             string       `db:"orderId"`
	State               int          `db:"state"`
	Acknowledged        bool         `db:"acknowledged"`
	AutoRenewing        bool         `db:"autoRenewing"`
	Quantity            int          `db:"quantity"`
	Payload             string       `db:"payload"`
	ObfuscatedAccountID string       `db:"obfuscatedAccountId"`
	ObfuscatedProfileID string       `db:"obfuscatedProfileId"`
	PurchasedAt         sql.NullTime `db:"purchasedAt"`
	ExpiresAt           sql.NullTime `db:"expiresAt"`
	RecordedAt          time.Time    `db:"recordedAt"`
}

func toModel(platform string, p *billing.Purchase) *purchaseModel {
	m := &purchaseModel{
		Token:               p.Token,
		Platform:            platform,
		ProductIDs:          strings.Join(p.ProductIDs, ","),
		OrderID:             p.OrderID,
		State:               int(p.State),
		Acknowledged:        p.Acknowledged,
		AutoRenewing:        p.AutoRenewing,
		Quantity:            p.Quantity,
		Payload:             p.Payload,
		ObfuscatedAccountID: p.ObfuscatedAccountID,
		ObfuscatedProfileID: p.ObfuscatedProfileID,
		RecordedAt:          time.Now(),
	}
	if !p.PurchasedAt.IsZero() {
		m.PurchasedAt = sql.NullTime{Time: p.PurchasedAt, Valid: true}
	}
	if !p.ExpiresAt.IsZero() {
		m.ExpiresAt = sql.NullTime{Time: p.ExpiresAt, Valid: true}
	}
	return m
}

func fromModel(m *purchaseModel) *history.Record {
	p := &billing.Purchase{
		ProductIDs:          strings.Split(m.ProductIDs, ","),
		Token:               m.Token,
		OrderID:             m.OrderID,
		State:               billing.PurchaseState(m.State),
		Acknowledged:        m.Acknowledged,
		AutoRenewing:        m.AutoRenewing,
		Quantity:            m.Quantity,
		Payload:             m.Payload,
		ObfuscatedAccountID: m.ObfuscatedAccountID,
		ObfuscatedProfileID: m.ObfuscatedProfileID,
	}
	if m.PurchasedAt.Valid {
		p.PurchasedAt = m.PurchasedAt.Time.UTC()
	}
	if m.ExpiresAt.Valid {
		p.ExpiresAt = m.ExpiresAt.Time.UTC()
	}

	return &history.Record{
		Platform:   m.Platform,
		Purchase:   p,
		RecordedAt: m.RecordedAt.UTC(),
	}
}

func (s *pgStore) RecordPurchase(ctx context.Context, platform string, purchase *billing.Purchase) error {
	m := toModel(platform, purchase)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+purchaseTable+` (
			"token", "platform", "productIds", "orderId", "state",
			"acknowledged", "autoRenewing", "quantity", "payload",
			"obfuscatedAccountId", "obfuscatedProfileId",
			"purchasedAt", "expiresAt", "recordedAt"
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		m.Token, m.Platform, m.ProductIDs, m.OrderID, m.State,
		m.Acknowledged, m.AutoRenewing, m.Quantity, m.Payload,
		m.ObfuscatedAccountID, m.ObfuscatedProfileID,
		m.PurchasedAt, m.ExpiresAt, m.RecordedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return history.ErrExists
	}
	return err
}

func (s *pgStore) GetPurchase(ctx context.Context, token string) (*history.Record, error) {
	var m purchaseModel
	query := `SELECT * FROM ` + purchaseTable + ` WHERE "token" = $1`
	err := s.db.GetContext(ctx, &m, query, token)
	if err == sql.ErrNoRows {
		return nil, history.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return fromModel(&m), nil
}

func (s *pgStore) ListByProduct(ctx context.Context, productID string, opts ...query.Option) ([]*history.Record, error) {
	options := query.ApplyOptions(opts...)

	stmt := `
		SELECT * FROM ` + purchaseTable + `
		WHERE ("productIds" = $1
		   OR "productIds" LIKE $1 || ',%'
		   OR "productIds" LIKE '%,' || $1
		   OR "productIds" LIKE '%,' || $1 || ',%')
	`
	args := []any{productID, options.Limit}

	if options.Token != "" {
		cmp := `<`
		if options.Order == query.OrderAsc {
			cmp = `>`
		}
		stmt += `
		AND ("purchasedAt", "orderId") ` + cmp + ` (
			SELECT "purchasedAt", "orderId" FROM ` + purchaseTable + ` WHERE "token" = $3
		)
		`
		args = append(args, options.Token)
	}

	if options.Order == query.OrderAsc {
		stmt += ` ORDER BY "purchasedAt" ASC, "orderId" ASC`
	} else {
		stmt += ` ORDER BY "purchasedAt" DESC, "orderId" DESC`
	}
	stmt += ` LIMIT $2`

	var models []*purchaseModel
	err := s.db.SelectContext(ctx, &models, stmt, args...)
	if err != nil {
		return nil, err
	}

	records := make([]*history.Record, 0, len(models))
	for _, m := range models {
		records = append(records, fromModel(m))
	}
	return records, nil
}
