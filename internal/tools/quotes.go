package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/tool"

	"github.com/google/uuid"
)

// CreateQuote — "quotes.create". Клиент обязан существовать и принадлежать
// вызывающему: проверяется и на Validate (ранняя диагностика в плане),
// и на Execute (клиент мог исчезнуть за окно подтверждения).
type CreateQuote struct {
	base  *tool.Base
	store QuoteStore
	tier  func(userID string) string
}

func NewCreateQuote(base *tool.Base, store QuoteStore, tier func(userID string) string) *CreateQuote {
	return &CreateQuote{base: base, store: store, tier: tier}
}

func (t *CreateQuote) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "quotes.create",
		Description: "Creates a quote for an existing client",
		Kind:        domain.KindCreate,
		Params: map[string]any{
			"client_id":   map[string]any{"type": "string", "required": true},
			"description": map[string]any{"type": "string", "required": true},
			"total":       map[string]any{"type": "number", "required": true},
		},
	}
}

func (t *CreateQuote) CheckPermission(ctx context.Context, cc tool.CallContext) bool {
	return cc.Scopes["quotes:write"]
}

func (t *CreateQuote) Validate(params map[string]any, cc tool.CallContext) error {
	if _, err := tool.StringParam(params, "client_id"); err != nil {
		return err
	}
	if _, err := tool.StringParam(params, "description"); err != nil {
		return err
	}
	total, err := tool.FloatParam(params, "total")
	if err != nil {
		return err
	}
	if total <= 0 {
		return fmt.Errorf("quote total must be positive")
	}
	return nil
}

func (t *CreateQuote) Execute(ctx context.Context, params map[string]any, cc tool.CallContext) (*tool.Result, error) {
	clientID, err := tool.StringParam(params, "client_id")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}
	description, err := tool.StringParam(params, "description")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}
	total, err := tool.FloatParam(params, "total")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}

	if err := t.base.VerifyOwnership(ctx, cc, domain.EntityClient, clientID); err != nil {
		return tool.Fail("%s", err.Error()), nil
	}
	if err := t.base.CheckEntityLimit(ctx, cc, domain.EntityQuote, t.tier(cc.UserID)); err != nil {
		return tool.Fail("%s", err.Error()), nil
	}

	now := time.Now().UTC()
	quote := &domain.Quote{
		ID:          uuid.New().String(),
		UserID:      cc.UserID,
		ClientID:    clientID,
		Description: description,
		Total:       total,
		Status:      "DRAFT",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.CreateQuote(ctx, quote); err != nil {
		return nil, fmt.Errorf("create quote: %w", err)
	}

	return tool.OK(quote, tool.EntityRef{Kind: domain.EntityQuote, ID: quote.ID}), nil
}
