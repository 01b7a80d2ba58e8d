package payments

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/payguard/internal/auth"
	"github.com/CedrosPay/payguard/internal/callbacks"
	"github.com/CedrosPay/payguard/internal/config"
	apierrors "github.com/CedrosPay/payguard/internal/errors"
	"github.com/CedrosPay/payguard/internal/provider"
	"github.com/CedrosPay/payguard/internal/storage"
	"github.com/CedrosPay/payguard/internal/webhook"
)

const testSecret = "whsec-test"

type fakeProvider struct {
	mu          sync.Mutex
	payments    map[string]provider.Payment
	getErr      error
	createErr   error
	getCalls    int32
	createCalls int32
	lastCreate  provider.PreferenceRequest
	block       bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{payments: make(map[string]provider.Payment)}
}

func (p *fakeProvider) CreatePreference(ctx context.Context, req provider.PreferenceRequest) (provider.Preference, error) {
	atomic.AddInt32(&p.createCalls, 1)
	if p.block {
		<-ctx.Done()
		return provider.Preference{}, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCreate = req
	if p.createErr != nil {
		return provider.Preference{}, p.createErr
	}
	return provider.Preference{ID: "pref-" + req.ExternalReference, CheckoutURL: "https://checkout.example.com/" + req.ExternalReference}, nil
}

func (p *fakeProvider) GetPayment(ctx context.Context, id string) (provider.Payment, error) {
	atomic.AddInt32(&p.getCalls, 1)
	if p.block {
		<-ctx.Done()
		return provider.Payment{}, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return provider.Payment{}, p.getErr
	}
	pay, ok := p.payments[id]
	if !ok {
		return provider.Payment{}, apierrors.ErrNotFound
	}
	return pay, nil
}

type countingStore struct {
	*storage.MemoryStore
	updates int32
}

func (s *countingStore) UpdatePayment(ctx context.Context, id string, patch storage.PaymentPatch) (storage.PaymentRecord, error) {
	atomic.AddInt32(&s.updates, 1)
	return s.MemoryStore.UpdatePayment(ctx, id, patch)
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []callbacks.PaymentUpdate
}

func (n *recordingNotifier) Notify(_ context.Context, u callbacks.PaymentUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.updates)
}

type fixture struct {
	svc      *Service
	provider *fakeProvider
	store    *countingStore
	notifier *recordingNotifier
}

func newFixture(t *testing.T, mutate func(*Settings), opts ...Option) *fixture {
	t.Helper()
	settings := DefaultSettings()
	settings.CallbackAllowedHosts = []string{"*.example.com"}
	if mutate != nil {
		mutate(&settings)
	}

	f := &fixture{
		provider: newFakeProvider(),
		store:    &countingStore{MemoryStore: storage.NewMemoryStore()},
		notifier: &recordingNotifier{},
	}
	base := []Option{
		WithVerifier(auth.NewSignatureVerifier(testSecret)),
		WithNotifier(f.notifier),
	}
	f.svc = NewService(settings, f.provider, f.store, append(base, opts...)...)
	return f
}

// seed stores a local record and the matching provider payment.
func (f *fixture) seed(t *testing.T, paymentID, ref string, stored, reported string) {
	t.Helper()
	_, err := f.store.CreatePayment(context.Background(), storage.PaymentRecord{
		ID:                "rec-" + ref,
		ExternalReference: ref,
		Amount:            decimal.RequireFromString(stored),
		Currency:          "BRL",
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	f.provider.mu.Lock()
	f.provider.payments[paymentID] = provider.Payment{
		ID:                paymentID,
		ExternalReference: ref,
		Status:            "approved",
		StatusDetail:      "accredited",
		Amount:            decimal.RequireFromString(reported),
		Currency:          "BRL",
		PaymentMethodID:   "pix",
		PaymentTypeID:     "bank_transfer",
	}
	f.provider.mu.Unlock()
}

func signedDelivery(dataID string) webhook.Delivery {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return webhook.Delivery{
		Notification: webhook.Notification{
			ID:     "1001",
			Type:   webhook.TypePayment,
			Action: "payment.updated",
			Data:   webhook.Data{ID: webhook.FlexString(dataID)},
		},
		SignatureHeader: auth.FormatSignatureHeader(ts, auth.Sign(testSecret, dataID, "req-1", ts)),
		RequestID:       "req-1",
	}
}

func TestHandleWebhook_DoubleDeliveryUpdatesOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "123456789", "ref-1", "50.00", "50.00")
	ctx := context.Background()

	if got := f.svc.Acknowledge(ctx, signedDelivery("123456789")); got != OutcomeProcessed {
		t.Fatalf("first delivery outcome = %s", got)
	}
	if got := f.svc.Acknowledge(ctx, signedDelivery("123456789")); got != OutcomeDuplicate {
		t.Fatalf("second delivery outcome = %s", got)
	}

	if n := atomic.LoadInt32(&f.store.updates); n != 1 {
		t.Fatalf("UpdatePayment calls = %d, want 1", n)
	}
	if n := atomic.LoadInt32(&f.provider.getCalls); n != 1 {
		t.Errorf("GetPayment calls = %d, want 1", n)
	}
	if f.notifier.count() != 1 {
		t.Errorf("notifier calls = %d, want 1", f.notifier.count())
	}

	rec, err := f.store.FindByExternalReference(ctx, "ref-1")
	if err != nil {
		t.Fatalf("FindByExternalReference: %v", err)
	}
	if rec.Status != "approved" || rec.ProviderPaymentID != "123456789" || rec.PaymentMethodID != "pix" {
		t.Errorf("record not updated: %+v", rec)
	}

	u := f.notifier.updates[0]
	if u.Status != "approved" || u.StatusDetail != "accredited" || u.ProviderPayment.ID != "123456789" || u.Payment.ID != rec.ID {
		t.Errorf("update callback payload = %+v", u)
	}
}

func TestHandleWebhook_AmountMismatchRejectsWithoutUpdate(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "555", "ref-tampered", "50.00", "99.99")

	outcome, err := f.svc.HandleWebhook(context.Background(), signedDelivery("555"))
	if outcome != OutcomeAmountMismatch || !errors.Is(err, apierrors.ErrAmountMismatch) {
		t.Fatalf("HandleWebhook = (%s, %v), want amount mismatch", outcome, err)
	}
	if n := atomic.LoadInt32(&f.store.updates); n != 0 {
		t.Fatalf("UpdatePayment calls = %d, want 0", n)
	}
	if f.notifier.count() != 0 {
		t.Error("notifier must not run on mismatch")
	}

	// Rejections are not cached; a redelivery is checked again.
	outcome, err = f.svc.HandleWebhook(context.Background(), signedDelivery("555"))
	if outcome != OutcomeAmountMismatch || err == nil {
		t.Fatalf("redelivery = (%s, %v)", outcome, err)
	}

	if got := f.svc.Acknowledge(context.Background(), signedDelivery("555")); got != OutcomeAmountMismatch {
		t.Errorf("Acknowledge = %s", got)
	}
}

func TestHandleWebhook_WithinToleranceAndCurrency(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "1", "ref-drift", "100.00", "100.005")

	if outcome, err := f.svc.HandleWebhook(context.Background(), signedDelivery("1")); err != nil || outcome != OutcomeProcessed {
		t.Fatalf("HandleWebhook = (%s, %v)", outcome, err)
	}

	f.seed(t, "2", "ref-currency", "10.00", "10.00")
	f.provider.mu.Lock()
	p := f.provider.payments["2"]
	p.Currency = "USD"
	f.provider.payments["2"] = p
	f.provider.mu.Unlock()

	if outcome, err := f.svc.HandleWebhook(context.Background(), signedDelivery("2")); !errors.Is(err, apierrors.ErrAmountMismatch) {
		t.Fatalf("currency mismatch = (%s, %v)", outcome, err)
	}
}

func TestHandleWebhook_Ignored(t *testing.T) {
	f := newFixture(t, nil)

	other := signedDelivery("9")
	other.Notification.Type = "merchant_order"
	missing := signedDelivery("")

	for name, d := range map[string]webhook.Delivery{"other type": other, "missing data id": missing} {
		t.Run(name, func(t *testing.T) {
			outcome, err := f.svc.HandleWebhook(context.Background(), d)
			if outcome != OutcomeIgnored || err != nil {
				t.Fatalf("HandleWebhook = (%s, %v)", outcome, err)
			}
		})
	}
	if n := atomic.LoadInt32(&f.provider.getCalls); n != 0 {
		t.Errorf("provider called %d times for ignored notifications", n)
	}
}

func TestHandleWebhook_SignatureInvalid(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "77", "ref-77", "10.00", "10.00")

	forged := signedDelivery("77")
	forged.SignatureHeader = auth.FormatSignatureHeader("1700000000", auth.Sign("wrong", "77", "req-1", "1700000000"))

	outcome, err := f.svc.HandleWebhook(context.Background(), forged)
	if outcome != OutcomeSignatureInvalid || !errors.Is(err, apierrors.ErrSignatureInvalid) {
		t.Fatalf("HandleWebhook = (%s, %v)", outcome, err)
	}
	if n := atomic.LoadInt32(&f.provider.getCalls); n != 0 {
		t.Fatalf("provider called for forged delivery")
	}

	// The failed verification must not mark the notification as handled.
	if outcome, err := f.svc.HandleWebhook(context.Background(), signedDelivery("77")); outcome != OutcomeProcessed || err != nil {
		t.Fatalf("genuine delivery after forgery = (%s, %v)", outcome, err)
	}
}

func TestHandleWebhook_VerifierRequiredUnlessSkipped(t *testing.T) {
	unsigned := signedDelivery("88")
	unsigned.SignatureHeader = ""

	f := newFixture(t, nil, WithVerifier(nil))
	f.seed(t, "88", "ref-88", "10.00", "10.00")
	if outcome, _ := f.svc.HandleWebhook(context.Background(), unsigned); outcome != OutcomeSignatureInvalid {
		t.Fatalf("no verifier without skip = %s", outcome)
	}

	skip := newFixture(t, func(s *Settings) { s.SkipSignatureVerification = true }, WithVerifier(nil))
	skip.seed(t, "88", "ref-88", "10.00", "10.00")
	if outcome, err := skip.svc.HandleWebhook(context.Background(), unsigned); outcome != OutcomeProcessed || err != nil {
		t.Fatalf("explicit skip = (%s, %v)", outcome, err)
	}
}

func TestHandleWebhook_GlobalRateLimit(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.WebhookLimit = 2 })
	f.seed(t, "1", "ref-a", "1.00", "1.00")
	f.seed(t, "2", "ref-b", "1.00", "1.00")
	f.seed(t, "3", "ref-c", "1.00", "1.00")

	for _, id := range []string{"1", "2"} {
		if _, err := f.svc.HandleWebhook(context.Background(), signedDelivery(id)); err != nil {
			t.Fatalf("delivery %s: %v", id, err)
		}
	}
	outcome, err := f.svc.HandleWebhook(context.Background(), signedDelivery("3"))
	if outcome != OutcomeRateLimited || !errors.Is(err, apierrors.ErrRateLimited) {
		t.Fatalf("third delivery = (%s, %v)", outcome, err)
	}
	if got := f.svc.Acknowledge(context.Background(), signedDelivery("3")); got != OutcomeRateLimited {
		t.Errorf("Acknowledge = %s", got)
	}
}

func TestHandleWebhook_NotFoundIsSoftAndNotCached(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.payments["404"] = provider.Payment{ID: "404", ExternalReference: "ref-late", Amount: decimal.NewFromInt(5), Status: "approved"}

	outcome, err := f.svc.HandleWebhook(context.Background(), signedDelivery("404"))
	if outcome != OutcomeNotFound || err != nil {
		t.Fatalf("unknown reference = (%s, %v)", outcome, err)
	}

	outcome, err = f.svc.HandleWebhook(context.Background(), signedDelivery("unknown-provider-id"))
	if outcome != OutcomeNotFound || err != nil {
		t.Fatalf("unknown provider payment = (%s, %v)", outcome, err)
	}

	// Once the record exists a redelivery is processed rather than treated as a duplicate.
	if _, err := f.store.CreatePayment(context.Background(), storage.PaymentRecord{ID: "rec-late", ExternalReference: "ref-late", Amount: decimal.NewFromInt(5)}); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if outcome, err := f.svc.HandleWebhook(context.Background(), signedDelivery("404")); outcome != OutcomeProcessed || err != nil {
		t.Fatalf("after record created = (%s, %v)", outcome, err)
	}
}

func TestHandleWebhook_ConcurrentDeliveriesUpdateOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "42", "ref-42", "20.00", "20.00")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.Acknowledge(context.Background(), signedDelivery("42"))
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&f.store.updates); n != 1 {
		t.Fatalf("UpdatePayment calls = %d, want 1", n)
	}
}

func TestHandleWebhook_CallbackFailureIsSwallowed(t *testing.T) {
	panicking := callbacks.NotifierFunc(func(context.Context, callbacks.PaymentUpdate) error {
		panic("callback exploded")
	})
	f := newFixture(t, nil, WithNotifier(panicking))
	f.seed(t, "9", "ref-9", "3.00", "3.00")

	if outcome, err := f.svc.HandleWebhook(context.Background(), signedDelivery("9")); outcome != OutcomeProcessed || err != nil {
		t.Fatalf("HandleWebhook = (%s, %v)", outcome, err)
	}

	failing := callbacks.NotifierFunc(func(context.Context, callbacks.PaymentUpdate) error {
		return errors.New("downstream 500")
	})
	g := newFixture(t, nil, WithNotifier(failing))
	g.seed(t, "9", "ref-9", "3.00", "3.00")
	if outcome, err := g.svc.HandleWebhook(context.Background(), signedDelivery("9")); outcome != OutcomeProcessed || err != nil {
		t.Fatalf("HandleWebhook with failing callback = (%s, %v)", outcome, err)
	}
}

func TestHandleWebhook_ProviderTimeout(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.ProviderTimeout = 20 * time.Millisecond })
	f.provider.block = true

	outcome, err := f.svc.HandleWebhook(context.Background(), signedDelivery("slow"))
	if outcome != OutcomeFailed || apierrors.CodeOf(err) != apierrors.ErrCodeProviderUnavailable {
		t.Fatalf("HandleWebhook = (%s, %v)", outcome, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in chain: %v", err)
	}
}

type panicVerifier struct{}

func (panicVerifier) Verify(webhook.Delivery) bool { panic("verifier bug") }

func TestAcknowledge_RecoversPanics(t *testing.T) {
	f := newFixture(t, nil, WithVerifier(panicVerifier{}))
	if got := f.svc.Acknowledge(context.Background(), signedDelivery("1")); got != OutcomeFailed {
		t.Fatalf("Acknowledge = %s, want failed", got)
	}
}

func (f *fixture) setProviderStatus(paymentID, status string) {
	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	pay := f.provider.payments[paymentID]
	pay.Status = status
	f.provider.payments[paymentID] = pay
}

func TestHandleWebhook_DedupOnEventIDKeepsLifecycleEvents(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.DedupOnEventID = true })
	f.seed(t, "pi_1", "ref-pi", "50.00", "50.00")
	f.setProviderStatus("pi_1", "pending")
	ctx := context.Background()

	created := signedDelivery("pi_1")
	created.Notification.ID = "evt_a"
	if got := f.svc.Acknowledge(ctx, created); got != OutcomeProcessed {
		t.Fatalf("created event outcome = %s", got)
	}

	f.setProviderStatus("pi_1", "approved")
	succeeded := signedDelivery("pi_1")
	succeeded.Notification.ID = "evt_b"
	if got := f.svc.Acknowledge(ctx, succeeded); got != OutcomeProcessed {
		t.Fatalf("succeeded event outcome = %s", got)
	}
	if got := f.svc.Acknowledge(ctx, succeeded); got != OutcomeDuplicate {
		t.Fatalf("retried event outcome = %s", got)
	}

	if n := atomic.LoadInt32(&f.store.updates); n != 2 {
		t.Fatalf("UpdatePayment calls = %d, want 2", n)
	}
	rec, err := f.store.FindByExternalReference(ctx, "ref-pi")
	if err != nil {
		t.Fatalf("FindByExternalReference: %v", err)
	}
	if rec.Status != "approved" {
		t.Errorf("stored status = %q, want approved", rec.Status)
	}
	if f.notifier.count() != 2 {
		t.Errorf("notifier calls = %d, want 2", f.notifier.count())
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{Environment: "development"}
	cfg.Provider.KeyPrefix = "mp"
	cfg.Validation.AmountTolerance = "0.05"
	cfg.Idempotency.PaymentTTL = config.Duration{Duration: 24 * time.Hour}
	cfg.Idempotency.WebhookTTL = config.Duration{Duration: 48 * time.Hour}

	s, err := SettingsFromConfig(cfg)
	if err != nil {
		t.Fatalf("SettingsFromConfig: %v", err)
	}
	if !s.AllowInsecureCallbacks || !s.Tolerance.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("settings = %+v", s)
	}
	if s.PaymentTTL == s.WebhookTTL {
		t.Errorf("ttls should be independent: %v", s.PaymentTTL)
	}

	if s.DedupOnEventID {
		t.Error("mercadopago deliveries dedup on type and data id only")
	}
	cfg.Provider.Name = "stripe"
	if s, _ := SettingsFromConfig(cfg); !s.DedupOnEventID {
		t.Error("stripe deliveries must dedup on the event id")
	}

	cfg.Environment = "production"
	if s, _ := SettingsFromConfig(cfg); s.AllowInsecureCallbacks {
		t.Error("production must require https callbacks")
	}

	cfg.Validation.AmountTolerance = "-1"
	if _, err := SettingsFromConfig(cfg); err == nil {
		t.Error("expected negative tolerance to fail")
	}
}
