package tool

import (
	"context"
	"fmt"

	"github.com/gabrielauvo/autonomo/internal/domain"
)

// CallContext — кто и откуда зовет инструмент. Прокидывается через весь
// пайплайн исполнения, чтобы проверка прав и аудит видели одно и то же.
type CallContext struct {
	UserID         string // Tenant. Все выборки и проверки владения скоупятся по нему.
	ConversationID string
	PlanID         string // Заполнены только при исполнении плана
	ActionID       string
	TraceID        string
	Scopes         map[string]bool // Права из токена
	Features       map[string]bool // Фичи тарифа (например, "payments")
	IP             string
	UserAgent      string
}

// HasFeature — nil-безопасная проверка фичи тарифа
func (c CallContext) HasFeature(name string) bool {
	return c.Features[name]
}

// EntityRef — ссылка на затронутую бизнес-сущность для аудита и дедупа
type EntityRef struct {
	Kind domain.EntityKind `json:"kind"`
	ID   string            `json:"id"`
}

// Result — единый формат ответа инструмента. Бизнес-провал (Success=false)
// и инфраструктурная ошибка различаются: вторую инструмент возвращает как error,
// и ее гасит реестр.
type Result struct {
	Success          bool        `json:"success"`
	Data             any         `json:"data,omitempty"`
	Error            string      `json:"error,omitempty"`
	AffectedEntities []EntityRef `json:"affected_entities,omitempty"`
}

// OK собирает успешный результат
func OK(data any, refs ...EntityRef) *Result {
	return &Result{Success: true, Data: data, AffectedEntities: refs}
}

// Fail собирает провальный результат с человекочитаемым сообщением
func Fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Metadata — публичное описание инструмента для рекламы возможностей LLM
type Metadata struct {
	Name        string            `json:"name"` // Глобально уникально, например "clients.create"
	Description string            `json:"description"`
	Kind        domain.ActionKind `json:"kind"`
	Params      map[string]any    `json:"params"` // JSON Schema параметров

	RequiredFeatures       []string `json:"required_features,omitempty"`
	RequiresPaymentPreview bool     `json:"requires_payment_preview,omitempty"`
}

// Tool — контракт способности. Каждая операция, читающая или мутирующая данные
// от имени ассистента, реализует его и регистрируется в реестре из composition root.
type Tool interface {
	Metadata() Metadata

	// CheckPermission решает, доступен ли инструмент данному вызывающему.
	// false не фатален для перечисления доступных инструментов.
	CheckPermission(ctx context.Context, cc CallContext) bool

	// Validate проверяет параметры. nil — параметры приняты; не-nil ошибка
	// содержит сообщение, пригодное для показа пользователю.
	Validate(params map[string]any, cc CallContext) error

	// Execute выполняет операцию. error — неожиданный сбой (инфраструктура),
	// бизнес-провал выражается через Result.Success=false.
	Execute(ctx context.Context, params map[string]any, cc CallContext) (*Result, error)
}
