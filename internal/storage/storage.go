package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/payguard/internal/config"
	"github.com/CedrosPay/payguard/internal/metrics"
)

// ErrNotFound is returned when a payment record does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when a record with the same id or external reference exists.
var ErrDuplicate = errors.New("storage: duplicate payment record")

// DefaultTableName is used for both the postgres table and the mongodb collection.
const DefaultTableName = "payments"

// Payment statuses written by the service. Provider statuses pass through unchanged.
const (
	StatusCreated = "created"
)

// PaymentRecord is the local view of a payment, keyed by the external reference sent to the provider.
type PaymentRecord struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	ExternalReference string          `json:"external_reference"`
	PreferenceID      string          `json:"preference_id"`
	ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail,omitempty"`
	PaymentMethodID   string          `json:"payment_method_id,omitempty"`
	PaymentTypeID     string          `json:"payment_type_id,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// PaymentPatch carries the fields a webhook may change. Empty strings leave a field unchanged.
type PaymentPatch struct {
	Status            string
	StatusDetail      string
	ProviderPaymentID string
	PaymentMethodID   string
	PaymentTypeID     string
}

// PaymentStore persists payment records.
// Implementations provide read-your-writes consistency for a single record.
type PaymentStore interface {
	CreatePayment(ctx context.Context, rec PaymentRecord) (PaymentRecord, error)
	FindByExternalReference(ctx context.Context, externalReference string) (PaymentRecord, error)
	UpdatePayment(ctx context.Context, id string, patch PaymentPatch) (PaymentRecord, error)
	Close() error
}

// NewStore builds the configured backend.
func NewStore(cfg config.StorageConfig, m *metrics.Metrics) (PaymentStore, error) {
	table := cfg.TableName
	if table == "" {
		table = DefaultTableName
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, errors.New("storage: postgres_url required for postgres backend")
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool, table, m)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, errors.New("storage: mongodb_url required for mongodb backend")
		}
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, table, m)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// prepareRecord validates required fields and fills timestamps.
func prepareRecord(rec *PaymentRecord) error {
	if rec.ID == "" {
		return errors.New("storage: payment record requires id")
	}
	if rec.ExternalReference == "" {
		return errors.New("storage: payment record requires external reference")
	}
	if rec.Status == "" {
		rec.Status = StatusCreated
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	return nil
}

// apply merges a patch into rec.
func (p PaymentPatch) apply(rec *PaymentRecord, now time.Time) {
	if p.Status != "" {
		rec.Status = p.Status
	}
	if p.StatusDetail != "" {
		rec.StatusDetail = p.StatusDetail
	}
	if p.ProviderPaymentID != "" {
		rec.ProviderPaymentID = p.ProviderPaymentID
	}
	if p.PaymentMethodID != "" {
		rec.PaymentMethodID = p.PaymentMethodID
	}
	if p.PaymentTypeID != "" {
		rec.PaymentTypeID = p.PaymentTypeID
	}
	rec.UpdatedAt = now
}
