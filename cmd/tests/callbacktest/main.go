package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/payguard/internal/callbacks"
	"github.com/CedrosPay/payguard/internal/config"
	"github.com/CedrosPay/payguard/internal/provider"
	"github.com/CedrosPay/payguard/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	reference := flag.String("reference", "callback-test", "external reference of the synthetic payment")
	status := flag.String("status", "approved", "provider status to report")
	amount := flag.String("amount", "10.00", "payment amount")
	currency := flag.String("currency", "BRL", "payment currency")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Callbacks.UpdateURL == "" {
		log.Fatalf("callbacks.update_url is not configured")
	}

	value, err := decimal.NewFromString(*amount)
	if err != nil {
		log.Fatalf("parse amount: %v", err)
	}

	update := callbacks.PaymentUpdate{
		EventType: "payment.test",
		Status:    *status,
		Payment: storage.PaymentRecord{
			ID:                "rec-" + *reference,
			ExternalReference: *reference,
			Amount:            value,
			Currency:          *currency,
			Status:            *status,
		},
		ProviderPayment: provider.Payment{
			ID:                "test-" + *reference,
			ExternalReference: *reference,
			Status:            *status,
			Amount:            value,
			Currency:          *currency,
		},
	}

	if err := callbacks.SendOnce(context.Background(), cfg.Callbacks, update); err != nil {
		log.Fatalf("send callback: %v", err)
	}

	fmt.Println("callback delivered to", cfg.Callbacks.UpdateURL)
}
