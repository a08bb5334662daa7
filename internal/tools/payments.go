package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/gabrielauvo/autonomo/internal/connectors"
	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/tool"

	"github.com/google/uuid"
)

var billingTypes = map[string]bool{
	"BOLETO":      true,
	"PIX":         true,
	"CREDIT_CARD": true,
}

// CreatePayment — "payments.create". Самый чувствительный инструмент:
// требует превью (RequiresPaymentPreview), фичу "payments" в тарифе
// и идет во внешний шлюз через надежностную обертку.
//
// Порядок фиксации: сначала локальная запись, потом консумация превью.
// Если шлюз ответил, а наша запись упала — платеж на стороне провайдера
// повиснет без локального следа; это осознанный компромисс, дедуп по ключу
// не даст создать второй.
type CreatePayment struct {
	base     *tool.Base
	store    PaymentStore
	previews PreviewConsumer
	gateway  connectors.PaymentGateway
}

func NewCreatePayment(base *tool.Base, store PaymentStore, previews PreviewConsumer, gateway connectors.PaymentGateway) *CreatePayment {
	return &CreatePayment{base: base, store: store, previews: previews, gateway: gateway}
}

func (t *CreatePayment) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "payments.create",
		Description: "Creates a charge for a client through the payment gateway",
		Kind:        domain.KindPaymentCreate,
		Params: map[string]any{
			"client_id":    map[string]any{"type": "string", "required": true},
			"billing_type": map[string]any{"type": "string", "enum": []string{"BOLETO", "PIX", "CREDIT_CARD"}, "required": true},
			"value":        map[string]any{"type": "number", "required": true},
			"due_date":     map[string]any{"type": "string", "format": "date", "required": true},
		},
		RequiredFeatures:       []string{"payments"},
		RequiresPaymentPreview: true,
	}
}

func (t *CreatePayment) CheckPermission(ctx context.Context, cc tool.CallContext) bool {
	return cc.Scopes["payments:write"] && cc.HasFeature("payments")
}

func (t *CreatePayment) Validate(params map[string]any, cc tool.CallContext) error {
	if _, err := tool.StringParam(params, "client_id"); err != nil {
		return err
	}
	billingType, err := tool.StringParam(params, "billing_type")
	if err != nil {
		return err
	}
	if !billingTypes[billingType] {
		return fmt.Errorf("unsupported billing type '%s'", billingType)
	}
	value, err := tool.FloatParam(params, "value")
	if err != nil {
		return err
	}
	if value <= 0 {
		return fmt.Errorf("payment value must be positive")
	}
	dueDate, err := tool.StringParam(params, "due_date")
	if err != nil {
		return err
	}
	if _, err := time.Parse("2006-01-02", dueDate); err != nil {
		return fmt.Errorf("'due_date' must be a YYYY-MM-DD date")
	}
	return nil
}

func (t *CreatePayment) Execute(ctx context.Context, params map[string]any, cc tool.CallContext) (*tool.Result, error) {
	clientID, err := tool.StringParam(params, "client_id")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}
	billingType, err := tool.StringParam(params, "billing_type")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}
	value, err := tool.FloatParam(params, "value")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}
	rawDue, err := tool.StringParam(params, "due_date")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}
	dueDate, err := time.Parse("2006-01-02", rawDue)
	if err != nil {
		return tool.Fail("'due_date' must be a YYYY-MM-DD date"), nil
	}

	if err := t.base.VerifyOwnership(ctx, cc, domain.EntityClient, clientID); err != nil {
		return tool.Fail("%s", err.Error()), nil
	}

	// Вне плана платеж создать нельзя: превью обязательно
	preview, err := t.previews.GetPreview(ctx, cc.PlanID, cc.ActionID)
	if err != nil {
		if err == domain.ErrNotFound {
			return tool.Fail("payment preview not found for this action"), nil
		}
		return nil, fmt.Errorf("load preview: %w", err)
	}
	if !preview.Valid {
		return tool.Fail("payment preview is no longer valid"), nil
	}

	idempotencyKey := fmt.Sprintf("%s_%s", cc.PlanID, preview.ActionID)
	charge, err := t.gateway.CreateCharge(ctx, connectors.ChargeRequest{
		ClientID:       clientID,
		BillingType:    billingType,
		Value:          value,
		DueDate:        dueDate,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}

	payment := &domain.ClientPayment{
		ID:          uuid.New().String(),
		UserID:      cc.UserID,
		ClientID:    clientID,
		BillingType: billingType,
		Value:       value,
		DueDate:     dueDate,
		Status:      charge.Status,
		GatewayRef:  charge.GatewayRef,
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.store.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	consumed, err := t.previews.ConsumePreview(ctx, preview.ID, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("consume preview: %w", err)
	}
	if !consumed {
		// Превью уже привязано к другому платежу: гонка, которой дедуп обязан
		// был не допустить. Фиксируем бизнес-провалом, платеж уже существует.
		return tool.Fail("payment preview was already consumed"), nil
	}

	return tool.OK(payment, tool.EntityRef{Kind: domain.EntityClientPayment, ID: payment.ID}), nil
}
