package connectors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// ChargeRequest — заявка на создание платежа во внешнем шлюзе
type ChargeRequest struct {
	ClientID    string    `json:"client_id"`
	BillingType string    `json:"billing_type"` // BOLETO, PIX, CREDIT_CARD
	Value       float64   `json:"value"`
	DueDate     time.Time `json:"due_date"`
	// Ключ передается провайдеру, но exactly-once на его стороне мы не обещаем:
	// наша гарантия — ровно одна локальная запись на ключ
	IdempotencyKey string `json:"idempotency_key"`
}

type ChargeResponse struct {
	GatewayRef string `json:"gateway_ref"` // ID платежа на стороне провайдера
	Status     string `json:"status"`      // PENDING, CONFIRMED
	InvoiceURL string `json:"invoice_url,omitempty"`
}

// PaymentGateway — контракт внешнего платежного провайдера.
// Реализация provider-специфична и остается коллаборатором ядра.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
}

// MockGateway имитирует провайдера для локальной разработки и демо:
// реалистичная задержка, управляемые отказы по billing_type.
type MockGateway struct{}

func (g *MockGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.IntN(250)) * time.Millisecond

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch req.BillingType {
	case "BOLETO", "PIX", "CREDIT_CARD":
		return &ChargeResponse{
			GatewayRef: "pay_" + uuid.New().String()[:8],
			Status:     "PENDING",
			InvoiceURL: fmt.Sprintf("https://invoices.example/%s", req.IdempotencyKey),
		}, nil
	case "unstable.billing":
		return nil, fmt.Errorf("gateway internal error")
	default:
		return nil, fmt.Errorf("billing type %s not supported by gateway", req.BillingType)
	}
}
