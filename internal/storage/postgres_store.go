package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/CedrosPay/payguard/internal/config"
	"github.com/CedrosPay/payguard/internal/metrics"
)

const pqUniqueViolation = "23505"

// PostgresStore implements PaymentStore using PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	ownsDB  bool
	table   string
	metrics *metrics.Metrics
}

// NewPostgresStore opens a connection pool and creates the payments table if needed.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig, table string, m *metrics.Metrics) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store, err := newPostgresStore(ctx, db, table, m)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewPostgresStoreWithDB uses an existing pool, which the caller keeps ownership of.
func NewPostgresStoreWithDB(ctx context.Context, db *sql.DB, table string, m *metrics.Metrics) (*PostgresStore, error) {
	return newPostgresStore(ctx, db, table, m)
}

func newPostgresStore(ctx context.Context, db *sql.DB, table string, m *metrics.Metrics) (*PostgresStore, error) {
	if table == "" {
		table = DefaultTableName
	}
	s := &PostgresStore{db: db, table: table, metrics: m}
	if err := s.createTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	t := pq.QuoteIdentifier(s.table)
	idx := pq.QuoteIdentifier("idx_" + s.table + "_user_id")
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			external_reference TEXT NOT NULL UNIQUE,
			preference_id TEXT NOT NULL DEFAULT '',
			provider_payment_id TEXT NOT NULL DEFAULT '',
			amount NUMERIC(20, 4) NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			status_detail TEXT NOT NULL DEFAULT '',
			payment_method_id TEXT NOT NULL DEFAULT '',
			payment_type_id TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s ON %s (user_id);
	`, t, idx, t)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create payments table: %w", err)
	}
	return nil
}

const paymentColumns = `id, user_id, external_reference, preference_id, provider_payment_id, amount, currency,
	status, status_detail, payment_method_id, payment_type_id, metadata, created_at, updated_at`

func (s *PostgresStore) CreatePayment(ctx context.Context, rec PaymentRecord) (PaymentRecord, error) {
	if err := prepareRecord(&rec); err != nil {
		return PaymentRecord{}, err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "create_payment", "postgres")()

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, pq.QuoteIdentifier(s.table))

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.ExternalReference,
		rec.PreferenceID,
		rec.ProviderPaymentID,
		rec.Amount,
		rec.Currency,
		rec.Status,
		rec.StatusDetail,
		rec.PaymentMethodID,
		rec.PaymentTypeID,
		metadataJSON,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return PaymentRecord{}, ErrDuplicate
		}
		return PaymentRecord{}, fmt.Errorf("insert payment: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) FindByExternalReference(ctx context.Context, externalReference string) (PaymentRecord, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "find_payment", "postgres")()

	query := fmt.Sprintf(`SELECT `+paymentColumns+` FROM %s WHERE external_reference = $1`, pq.QuoteIdentifier(s.table))
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, externalReference))
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentRecord{}, ErrNotFound
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("query payment: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) UpdatePayment(ctx context.Context, id string, patch PaymentPatch) (PaymentRecord, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "update_payment", "postgres")()

	query := fmt.Sprintf(`
		UPDATE %s SET
			status              = COALESCE(NULLIF($2, ''), status),
			status_detail       = COALESCE(NULLIF($3, ''), status_detail),
			provider_payment_id = COALESCE(NULLIF($4, ''), provider_payment_id),
			payment_method_id   = COALESCE(NULLIF($5, ''), payment_method_id),
			payment_type_id     = COALESCE(NULLIF($6, ''), payment_type_id),
			updated_at          = $7
		WHERE id = $1
		RETURNING `+paymentColumns, pq.QuoteIdentifier(s.table))

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query,
		id,
		patch.Status,
		patch.StatusDetail,
		patch.ProviderPaymentID,
		patch.PaymentMethodID,
		patch.PaymentTypeID,
		time.Now().UTC(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentRecord{}, ErrNotFound
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("update payment: %w", err)
	}
	return rec, nil
}

func scanRecord(row *sql.Row) (PaymentRecord, error) {
	var rec PaymentRecord
	var metadataJSON []byte
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.ExternalReference,
		&rec.PreferenceID,
		&rec.ProviderPaymentID,
		&rec.Amount,
		&rec.Currency,
		&rec.Status,
		&rec.StatusDetail,
		&rec.PaymentMethodID,
		&rec.PaymentTypeID,
		&metadataJSON,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return PaymentRecord{}, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return PaymentRecord{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return rec, nil
}

// Close releases the pool if the store opened it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
