package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/payguard/internal/config"
)

func newRecord() PaymentRecord {
	return PaymentRecord{
		ID:                uuid.NewString(),
		UserID:            "user-1",
		ExternalReference: uuid.NewString(),
		PreferenceID:      "pref-1",
		Amount:            decimal.RequireFromString("50.00"),
		Currency:          "BRL",
		Metadata:          map[string]any{"order": "42"},
	}
}

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, store PaymentStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and find", func(t *testing.T) {
		rec := newRecord()
		created, err := store.CreatePayment(ctx, rec)
		if err != nil {
			t.Fatalf("CreatePayment: %v", err)
		}
		if created.Status != StatusCreated || created.CreatedAt.IsZero() {
			t.Errorf("created = %+v", created)
		}

		found, err := store.FindByExternalReference(ctx, rec.ExternalReference)
		if err != nil {
			t.Fatalf("FindByExternalReference: %v", err)
		}
		if found.ID != rec.ID || !found.Amount.Equal(rec.Amount) || found.Currency != "BRL" {
			t.Errorf("found = %+v", found)
		}
		if found.Metadata["order"] != "42" {
			t.Errorf("metadata = %v", found.Metadata)
		}
	})

	t.Run("duplicate external reference", func(t *testing.T) {
		rec := newRecord()
		if _, err := store.CreatePayment(ctx, rec); err != nil {
			t.Fatalf("CreatePayment: %v", err)
		}
		dup := newRecord()
		dup.ExternalReference = rec.ExternalReference
		if _, err := store.CreatePayment(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("duplicate err = %v, want ErrDuplicate", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := store.FindByExternalReference(ctx, "missing-"+uuid.NewString()); !errors.Is(err, ErrNotFound) {
			t.Errorf("find err = %v, want ErrNotFound", err)
		}
		if _, err := store.UpdatePayment(ctx, "missing-"+uuid.NewString(), PaymentPatch{Status: "approved"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("update err = %v, want ErrNotFound", err)
		}
	})

	t.Run("update applies non-empty fields", func(t *testing.T) {
		rec := newRecord()
		if _, err := store.CreatePayment(ctx, rec); err != nil {
			t.Fatalf("CreatePayment: %v", err)
		}

		updated, err := store.UpdatePayment(ctx, rec.ID, PaymentPatch{
			Status:            "approved",
			StatusDetail:      "accredited",
			ProviderPaymentID: "123456789",
		})
		if err != nil {
			t.Fatalf("UpdatePayment: %v", err)
		}
		if updated.Status != "approved" || updated.ProviderPaymentID != "123456789" {
			t.Errorf("updated = %+v", updated)
		}

		updated, err = store.UpdatePayment(ctx, rec.ID, PaymentPatch{PaymentMethodID: "pix"})
		if err != nil {
			t.Fatalf("UpdatePayment: %v", err)
		}
		if updated.Status != "approved" || updated.StatusDetail != "accredited" || updated.PaymentMethodID != "pix" {
			t.Errorf("empty patch fields overwrote values: %+v", updated)
		}

		found, _ := store.FindByExternalReference(ctx, rec.ExternalReference)
		if found.Status != "approved" {
			t.Errorf("read after write status = %q", found.Status)
		}
	})

	t.Run("requires ids", func(t *testing.T) {
		rec := newRecord()
		rec.ExternalReference = ""
		if _, err := store.CreatePayment(ctx, rec); err == nil {
			t.Error("expected error for missing external reference")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	rec := newRecord()
	created, _ := store.CreatePayment(context.Background(), rec)
	created.Metadata["order"] = "mutated"
	rec.Metadata["order"] = "mutated"

	found, _ := store.FindByExternalReference(context.Background(), rec.ExternalReference)
	if found.Metadata["order"] != "42" {
		t.Fatalf("stored metadata mutated through returned copy: %v", found.Metadata)
	}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("PAYGUARD_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("PAYGUARD_TEST_POSTGRES_URL not set")
	}
	table := "payments_test_" + time.Now().Format("20060102150405")
	store, err := NewPostgresStore(url, config.PostgresPoolConfig{}, table, nil)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer func() {
		_, _ = store.db.Exec("DROP TABLE IF EXISTS " + table)
		store.Close()
	}()
	runStoreContract(t, store)
}

func TestMongoDBStore(t *testing.T) {
	url := os.Getenv("PAYGUARD_TEST_MONGODB_URL")
	if url == "" {
		t.Skip("PAYGUARD_TEST_MONGODB_URL not set")
	}
	collection := "payments_test_" + time.Now().Format("20060102150405")
	store, err := NewMongoDBStore(url, "payguard_test", collection, nil)
	if err != nil {
		t.Fatalf("NewMongoDBStore: %v", err)
	}
	defer func() {
		_ = store.payments.Drop(context.Background())
		store.Close()
	}()
	runStoreContract(t, store)
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(config.StorageConfig{Backend: "memory"}, nil)
	if err != nil {
		t.Fatalf("NewStore memory: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("store = %T, want *MemoryStore", store)
	}

	for _, cfg := range []config.StorageConfig{
		{Backend: "postgres"},
		{Backend: "mongodb"},
		{Backend: "cassandra"},
	} {
		if _, err := NewStore(cfg, nil); err == nil {
			t.Errorf("NewStore(%q) should fail", cfg.Backend)
		}
	}
}

func TestWithQueryTimeout(t *testing.T) {
	ctx, cancel := withQueryTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > DefaultQueryTimeout {
		t.Fatalf("deadline = %v, %v", deadline, ok)
	}

	parent, parentCancel := context.WithTimeout(context.Background(), time.Minute)
	defer parentCancel()
	ctx, cancel = withQueryTimeout(parent)
	defer cancel()
	if ctx != parent {
		t.Error("existing deadline should be kept")
	}
}
