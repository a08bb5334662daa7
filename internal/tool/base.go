package tool

import (
	"context"
	"fmt"

	"github.com/gabrielauvo/autonomo/internal/domain"
)

// OwnerGuard отвечает на единственный вопрос: принадлежит ли сущность tenant'у.
// Реализуется репозиторием через явный switch по EntityKind.
type OwnerGuard interface {
	OwnedBy(ctx context.Context, kind domain.EntityKind, id, userID string) (bool, error)
	CountByKind(ctx context.Context, kind domain.EntityKind, userID string) (int, error)
}

// TierLimits — лимиты количества сущностей по тарифам.
// Ноль означает "без лимита".
type TierLimits map[string]map[domain.EntityKind]int

// DefaultTierLimits — базовая тарифная сетка
var DefaultTierLimits = TierLimits{
	"FREE": {
		domain.EntityClient:    30,
		domain.EntityQuote:     50,
		domain.EntityWorkOrder: 50,
	},
	"PRO": {}, // Без лимитов
}

// Base — общие проверки, которые инструменты зовут из Validate.
// Встраивается в конкретные инструменты по образцу BaseValidator.
type Base struct {
	Guard  OwnerGuard
	Limits TierLimits
}

func NewBase(guard OwnerGuard) *Base {
	return &Base{Guard: guard, Limits: DefaultTierLimits}
}

// VerifyOwnership — сущность должна существовать И принадлежать вызывающему.
// Оба провала неразличимы: "not found", чтобы не светить чужие данные.
func (b *Base) VerifyOwnership(ctx context.Context, cc CallContext, kind domain.EntityKind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id is required", kind)
	}
	owned, err := b.Guard.OwnedBy(ctx, kind, id, cc.UserID)
	if err != nil {
		return fmt.Errorf("ownership check failed: %w", err)
	}
	if !owned {
		return fmt.Errorf("%s not found", kind)
	}
	return nil
}

// CheckEntityLimit — тарифный лимит на количество сущностей данного вида.
// Фича "unlimited" в контексте выключает проверку независимо от тарифа.
func (b *Base) CheckEntityLimit(ctx context.Context, cc CallContext, kind domain.EntityKind, tier string) error {
	if cc.HasFeature("unlimited") {
		return nil
	}
	limits, ok := b.Limits[tier]
	if !ok {
		// Неизвестный тариф — считаем самым ограниченным
		limits = b.Limits["FREE"]
	}
	max, ok := limits[kind]
	if !ok || max <= 0 {
		return nil
	}

	n, err := b.Guard.CountByKind(ctx, kind, cc.UserID)
	if err != nil {
		return fmt.Errorf("entity limit check failed: %w", err)
	}
	if n >= max {
		return fmt.Errorf("plan limit reached: at most %d %ss on the %s tier", max, kind, tier)
	}
	return nil
}

// String/Float/обязательные параметры — мелкие хелперы разбора map[string]any,
// чтобы инструменты не дублировали однотипные приведения типов.

func StringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("parameter '%s' is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter '%s' must be a non-empty string", key)
	}
	return s, nil
}

func OptionalStringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func FloatParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("parameter '%s' is required", key)
	}
	// JSON-числа приходят как float64; int поддерживаем для вызовов из кода
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("parameter '%s' must be a number", key)
}
