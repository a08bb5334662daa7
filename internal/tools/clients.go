package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/tool"

	"github.com/google/uuid"
)

// CreateClient — "clients.create". CREATE, требует подтверждения через план.
type CreateClient struct {
	base  *tool.Base
	store ClientStore
	tier  func(userID string) string
}

func NewCreateClient(base *tool.Base, store ClientStore, tier func(userID string) string) *CreateClient {
	return &CreateClient{base: base, store: store, tier: tier}
}

func (t *CreateClient) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "clients.create",
		Description: "Creates a new client with name and optional contact details",
		Kind:        domain.KindCreate,
		Params: map[string]any{
			"name":  map[string]any{"type": "string", "required": true},
			"email": map[string]any{"type": "string"},
			"phone": map[string]any{"type": "string"},
		},
	}
}

func (t *CreateClient) CheckPermission(ctx context.Context, cc tool.CallContext) bool {
	return cc.Scopes["clients:write"]
}

func (t *CreateClient) Validate(params map[string]any, cc tool.CallContext) error {
	name, err := tool.StringParam(params, "name")
	if err != nil {
		return err
	}
	if len(name) > 200 {
		return fmt.Errorf("client name is too long (max 200 characters)")
	}
	if email := tool.OptionalStringParam(params, "email"); email != "" && !strings.Contains(email, "@") {
		return fmt.Errorf("'%s' does not look like a valid email", email)
	}
	return nil
}

func (t *CreateClient) Execute(ctx context.Context, params map[string]any, cc tool.CallContext) (*tool.Result, error) {
	name, err := tool.StringParam(params, "name")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}

	if err := t.base.CheckEntityLimit(ctx, cc, domain.EntityClient, t.tier(cc.UserID)); err != nil {
		return tool.Fail("%s", err.Error()), nil
	}

	now := time.Now().UTC()
	client := &domain.Client{
		ID:        uuid.New().String(),
		UserID:    cc.UserID,
		Name:      name,
		Email:     tool.OptionalStringParam(params, "email"),
		Phone:     tool.OptionalStringParam(params, "phone"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return tool.OK(client, tool.EntityRef{Kind: domain.EntityClient, ID: client.ID}), nil
}

// GetClient — "clients.get". READ, единственный класс операций без подтверждения.
type GetClient struct {
	store ClientStore
}

func NewGetClient(store ClientStore) *GetClient {
	return &GetClient{store: store}
}

func (t *GetClient) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "clients.get",
		Description: "Looks up a client by id or by name",
		Kind:        domain.KindRead,
		Params: map[string]any{
			"id":   map[string]any{"type": "string"},
			"name": map[string]any{"type": "string"},
		},
	}
}

func (t *GetClient) CheckPermission(ctx context.Context, cc tool.CallContext) bool {
	return cc.Scopes["clients:read"] || cc.Scopes["clients:write"]
}

func (t *GetClient) Validate(params map[string]any, cc tool.CallContext) error {
	if tool.OptionalStringParam(params, "id") == "" && tool.OptionalStringParam(params, "name") == "" {
		return fmt.Errorf("either 'id' or 'name' is required")
	}
	return nil
}

func (t *GetClient) Execute(ctx context.Context, params map[string]any, cc tool.CallContext) (*tool.Result, error) {
	if id := tool.OptionalStringParam(params, "id"); id != "" {
		c, err := t.store.GetClient(ctx, id, cc.UserID)
		if err != nil {
			if err == domain.ErrNotFound {
				return tool.Fail("client not found"), nil
			}
			return nil, fmt.Errorf("get client: %w", err)
		}
		return tool.OK(c, tool.EntityRef{Kind: domain.EntityClient, ID: c.ID}), nil
	}

	name := tool.OptionalStringParam(params, "name")
	found, err := t.store.FindClientsByName(ctx, cc.UserID, name)
	if err != nil {
		return nil, fmt.Errorf("find clients: %w", err)
	}
	if len(found) == 0 {
		return tool.Fail("no clients matching '%s'", name), nil
	}
	refs := make([]tool.EntityRef, 0, len(found))
	for _, c := range found {
		refs = append(refs, tool.EntityRef{Kind: domain.EntityClient, ID: c.ID})
	}
	return tool.OK(found, refs...), nil
}
