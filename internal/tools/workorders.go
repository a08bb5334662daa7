package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/tool"
)

// Допустимые статусы наряда. Переходы не ограничиваем: пользователь волен
// вернуть наряд из DONE в IN_PROGRESS, ассистент лишь фиксирует.
var workOrderStatuses = map[string]bool{
	"SCHEDULED":   true,
	"IN_PROGRESS": true,
	"DONE":        true,
	"CANCELLED":   true,
}

// UpdateWorkOrder — "workorders.update". UPDATE, меняет статус и/или дату визита.
type UpdateWorkOrder struct {
	base  *tool.Base
	store WorkOrderStore
}

func NewUpdateWorkOrder(base *tool.Base, store WorkOrderStore) *UpdateWorkOrder {
	return &UpdateWorkOrder{base: base, store: store}
}

func (t *UpdateWorkOrder) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "workorders.update",
		Description: "Updates the status and/or scheduled date of a work order",
		Kind:        domain.KindUpdate,
		Params: map[string]any{
			"work_order_id": map[string]any{"type": "string", "required": true},
			"status":        map[string]any{"type": "string", "enum": []string{"SCHEDULED", "IN_PROGRESS", "DONE", "CANCELLED"}},
			"scheduled_at":  map[string]any{"type": "string", "format": "date-time"},
		},
	}
}

func (t *UpdateWorkOrder) CheckPermission(ctx context.Context, cc tool.CallContext) bool {
	return cc.Scopes["workorders:write"]
}

func (t *UpdateWorkOrder) Validate(params map[string]any, cc tool.CallContext) error {
	if _, err := tool.StringParam(params, "work_order_id"); err != nil {
		return err
	}
	status := tool.OptionalStringParam(params, "status")
	scheduledAt := tool.OptionalStringParam(params, "scheduled_at")
	if status == "" && scheduledAt == "" {
		return fmt.Errorf("nothing to update: provide 'status' or 'scheduled_at'")
	}
	if status != "" && !workOrderStatuses[status] {
		return fmt.Errorf("unknown work order status '%s'", status)
	}
	if scheduledAt != "" {
		if _, err := time.Parse(time.RFC3339, scheduledAt); err != nil {
			return fmt.Errorf("'scheduled_at' must be an RFC3339 timestamp")
		}
	}
	return nil
}

func (t *UpdateWorkOrder) Execute(ctx context.Context, params map[string]any, cc tool.CallContext) (*tool.Result, error) {
	id, err := tool.StringParam(params, "work_order_id")
	if err != nil {
		return tool.Fail("%s", err.Error()), nil
	}

	if err := t.base.VerifyOwnership(ctx, cc, domain.EntityWorkOrder, id); err != nil {
		return tool.Fail("%s", err.Error()), nil
	}

	status := tool.OptionalStringParam(params, "status")
	var scheduledAt *time.Time
	if raw := tool.OptionalStringParam(params, "scheduled_at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return tool.Fail("'scheduled_at' must be an RFC3339 timestamp"), nil
		}
		scheduledAt = &parsed
	}

	if err := t.store.UpdateWorkOrderStatus(ctx, id, cc.UserID, status, scheduledAt); err != nil {
		if err == domain.ErrNotFound {
			return tool.Fail("work_order not found"), nil
		}
		return nil, fmt.Errorf("update work order: %w", err)
	}

	updated, err := t.store.GetWorkOrder(ctx, id, cc.UserID)
	if err != nil {
		return nil, fmt.Errorf("reload work order: %w", err)
	}
	return tool.OK(updated, tool.EntityRef{Kind: domain.EntityWorkOrder, ID: id}), nil
}
