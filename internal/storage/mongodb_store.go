package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/CedrosPay/payguard/internal/metrics"
)

// MongoDBStore implements PaymentStore using MongoDB.
type MongoDBStore struct {
	client   *mongo.Client
	payments *mongo.Collection
	metrics  *metrics.Metrics
}

// paymentDocument is the stored form. Amounts are kept as decimal strings to avoid float drift.
type paymentDocument struct {
	ID                string         `bson:"_id"`
	UserID            string         `bson:"user_id"`
	ExternalReference string         `bson:"external_reference"`
	PreferenceID      string         `bson:"preference_id"`
	ProviderPaymentID string         `bson:"provider_payment_id"`
	Amount            string         `bson:"amount"`
	Currency          string         `bson:"currency"`
	Status            string         `bson:"status"`
	StatusDetail      string         `bson:"status_detail"`
	PaymentMethodID   string         `bson:"payment_method_id"`
	PaymentTypeID     string         `bson:"payment_type_id"`
	Metadata          map[string]any `bson:"metadata"`
	CreatedAt         time.Time      `bson:"created_at"`
	UpdatedAt         time.Time      `bson:"updated_at"`
}

// NewMongoDBStore connects and ensures the external_reference unique index.
func NewMongoDBStore(connectionString, database, collection string, m *metrics.Metrics) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Nested metadata decodes as maps so it round-trips through JSON unchanged.
	clientOpts := options.Client().
		ApplyURI(connectionString).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if database == "" {
		database = "payguard"
	}
	if collection == "" {
		collection = DefaultTableName
	}

	store := &MongoDBStore{
		client:   client,
		payments: client.Database(database).Collection(collection),
		metrics:  m,
	}

	_, err = store.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "external_reference", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create payments indexes: %w", err)
	}

	return store, nil
}

func (s *MongoDBStore) CreatePayment(ctx context.Context, rec PaymentRecord) (PaymentRecord, error) {
	if err := prepareRecord(&rec); err != nil {
		return PaymentRecord{}, err
	}
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "create_payment", "mongodb")()

	if _, err := s.payments.InsertOne(ctx, toDocument(rec)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return PaymentRecord{}, ErrDuplicate
		}
		return PaymentRecord{}, fmt.Errorf("insert payment: %w", err)
	}
	return rec, nil
}

func (s *MongoDBStore) FindByExternalReference(ctx context.Context, externalReference string) (PaymentRecord, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "find_payment", "mongodb")()

	var doc paymentDocument
	err := s.payments.FindOne(ctx, bson.M{"external_reference": externalReference}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentRecord{}, ErrNotFound
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("query payment: %w", err)
	}
	return fromDocument(doc)
}

func (s *MongoDBStore) UpdatePayment(ctx context.Context, id string, patch PaymentPatch) (PaymentRecord, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	defer metrics.MeasureDBQuery(s.metrics, "update_payment", "mongodb")()

	set := bson.M{"updated_at": time.Now().UTC()}
	for field, value := range map[string]string{
		"status":              patch.Status,
		"status_detail":       patch.StatusDetail,
		"provider_payment_id": patch.ProviderPaymentID,
		"payment_method_id":   patch.PaymentMethodID,
		"payment_type_id":     patch.PaymentTypeID,
	} {
		if value != "" {
			set[field] = value
		}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc paymentDocument
	err := s.payments.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PaymentRecord{}, ErrNotFound
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("update payment: %w", err)
	}
	return fromDocument(doc)
}

// Close disconnects the client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func toDocument(rec PaymentRecord) paymentDocument {
	return paymentDocument{
		ID:                rec.ID,
		UserID:            rec.UserID,
		ExternalReference: rec.ExternalReference,
		PreferenceID:      rec.PreferenceID,
		ProviderPaymentID: rec.ProviderPaymentID,
		Amount:            rec.Amount.String(),
		Currency:          rec.Currency,
		Status:            rec.Status,
		StatusDetail:      rec.StatusDetail,
		PaymentMethodID:   rec.PaymentMethodID,
		PaymentTypeID:     rec.PaymentTypeID,
		Metadata:          rec.Metadata,
		CreatedAt:         rec.CreatedAt.UTC(),
		UpdatedAt:         rec.UpdatedAt.UTC(),
	}
}

func fromDocument(doc paymentDocument) (PaymentRecord, error) {
	amount, err := decimal.NewFromString(doc.Amount)
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("decode amount %q: %w", doc.Amount, err)
	}
	return PaymentRecord{
		ID:                doc.ID,
		UserID:            doc.UserID,
		ExternalReference: doc.ExternalReference,
		PreferenceID:      doc.PreferenceID,
		ProviderPaymentID: doc.ProviderPaymentID,
		Amount:            amount,
		Currency:          doc.Currency,
		Status:            doc.Status,
		StatusDetail:      doc.StatusDetail,
		PaymentMethodID:   doc.PaymentMethodID,
		PaymentTypeID:     doc.PaymentTypeID,
		Metadata:          doc.Metadata,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}, nil
}
