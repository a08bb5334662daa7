package domain

import (
	"time"
)

// Статусы State Machine плана
type PlanStatus string

const (
	PlanPendingConfirmation PlanStatus = "PENDING_CONFIRMATION"
	PlanConfirmed           PlanStatus = "CONFIRMED"
	PlanExecuting           PlanStatus = "EXECUTING"
	PlanCompleted           PlanStatus = "COMPLETED"
	PlanFailed              PlanStatus = "FAILED"
	PlanRejected            PlanStatus = "REJECTED"
	PlanExpired             PlanStatus = "EXPIRED"
)

// ConfirmationWindow окно, в течение которого пользователь должен подтвердить план.
// Константа общая для plan и conversation: два "часовых механизма" обязаны совпадать,
// иначе черновик в диалоге переживет сам план.
const ConfirmationWindow = 5 * time.Minute

// planTransitions — декларативная таблица переходов.
// Все не-терминальные пути начинаются в PENDING_CONFIRMATION; возврат в него невозможен.
var planTransitions = map[PlanStatus][]PlanStatus{
	PlanPendingConfirmation: {PlanConfirmed, PlanRejected, PlanExpired},
	PlanConfirmed:           {PlanExecuting},
	PlanExecuting:           {PlanCompleted, PlanFailed},
}

// IsTerminal сообщает, достигнут ли конечный статус (из него выхода нет)
func (s PlanStatus) IsTerminal() bool {
	_, ok := planTransitions[s]
	return !ok
}

// CanTransitionTo проверяет правила конечного автомата
func (s PlanStatus) CanTransitionTo(next PlanStatus) error {
	allowed, ok := planTransitions[s]
	if !ok {
		return ErrAlreadyProcessed
	}
	for _, a := range allowed {
		if a == next {
			return nil
		}
	}
	return ErrInvalidTransition
}

// ActionKind определяет класс операции инструмента.
// От него зависит, требуется ли подтверждение человеком: только READ проходит без него.
type ActionKind string

const (
	KindRead          ActionKind = "READ"
	KindCreate        ActionKind = "CREATE"
	KindUpdate        ActionKind = "UPDATE"
	KindDelete        ActionKind = "DELETE"
	KindSend          ActionKind = "SEND"
	KindPaymentCreate ActionKind = "PAYMENT_CREATE"
	KindPaymentSend   ActionKind = "PAYMENT_SEND"
)

// RequiresConfirmation — мутирующие операции всегда идут через план
func (k ActionKind) RequiresConfirmation() bool {
	return k != KindRead
}

// Plan — пакет предложенных действий, ожидающий одобрения пользователя.
// Ровно один Plan на idempotency key (внешний контур дедупликации).
type Plan struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"` // Владелец (tenant). Все выборки скоупятся по нему.
	ConversationID string     `json:"conversation_id"`
	Summary        string     `json:"summary"`
	Actions        []Action   `json:"actions"`
	Status         PlanStatus `json:"status"`
	IdempotencyKey string     `json:"idempotency_key"`

	ResultSummary string `json:"result_summary,omitempty"`
	ErrorDetail   string `json:"error_detail,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"` // Фиксируется при создании, не продлевается
}

// IsExpired — проверка дедлайна подтверждения
func (p *Plan) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Action — один шаг внутри плана. Принадлежит ровно одному плану,
// исполняется не более одного раза за проход (дедуп через производный ключ planID_actionID).
type Action struct {
	ID          string          `json:"id"`
	PlanID      string          `json:"plan_id"`
	Position    int             `json:"position"` // Порядок исполнения (строго последовательный)
	ToolName    string          `json:"tool_name"`
	Params      map[string]any  `json:"params"`
	Description string          `json:"description"` // Человекочитаемо: что именно сделает шаг
	Kind        ActionKind      `json:"kind"`
	Preview     *PaymentPreview `json:"preview,omitempty"`
}

// PaymentPreview — "сухой прогон" платежа, отвязанный от реального платежного шлюза.
// Становится невалидным, если клиент исчез до исполнения; привязывается к реальному
// платежу не более одного раза.
type PaymentPreview struct {
	ID          string    `json:"id"`
	PlanID      string    `json:"plan_id"`
	ActionID    string    `json:"action_id"`
	ClientID    string    `json:"client_id"`
	BillingType string    `json:"billing_type"` // BOLETO, PIX, CREDIT_CARD
	Value       float64   `json:"value"`
	DueDate     time.Time `json:"due_date"`
	Valid       bool      `json:"valid"`
	PaymentID   *string   `json:"payment_id,omitempty"` // Заполняется при консумации превью
	CreatedAt   time.Time `json:"created_at"`
}

// ActionResult — результат одного шага, возвращается вызывающему целиком.
// Транспортный код при частичном провале остается 200: клиент обязан смотреть внутрь.
type ActionResult struct {
	ActionID      string `json:"action_id"`
	ToolName      string `json:"tool_name"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	WasIdempotent bool   `json:"was_idempotent,omitempty"`
}

// ExecutionReport агрегирует итог исполнения плана для ответа пользователю
type ExecutionReport struct {
	PlanID        string         `json:"plan_id"`
	Status        PlanStatus     `json:"status"`
	ResultSummary string         `json:"result_summary"`
	Results       []ActionResult `json:"results"`
}
