package audit

import "time"

// Category классифицирует событие безопасности
type Category string

const (
	CategoryToolCall      Category = "TOOL_CALL"
	CategoryActionSuccess Category = "ACTION_SUCCESS"
	CategoryActionFailed  Category = "ACTION_FAILED"
	CategorySecurityBlock Category = "SECURITY_BLOCK"
	CategoryRateLimit     Category = "RATE_LIMIT"
	CategoryPlanCreated   Category = "PLAN_CREATED"
	CategoryPlanConfirmed Category = "PLAN_CONFIRMED"
	CategoryPlanRejected  Category = "PLAN_REJECTED"
	CategoryPlanExecuted  Category = "PLAN_EXECUTED"
)

// securityCategories — что попадает в отдельную ИБ-выборку
var securityCategories = []Category{CategorySecurityBlock, CategoryRateLimit}

// Entry — неизменяемая запись одного security-значимого события.
// Input/Output сохраняются только после редактирования PII.
type Entry struct {
	ID      string `json:"id"`
	TraceID string `json:"trace_id"` // Сквозной ID запроса
	UserID  string `json:"user_id"`  // Чей tenant

	ConversationID string `json:"conversation_id,omitempty"`
	PlanID         string `json:"plan_id,omitempty"`
	ToolName       string `json:"tool_name,omitempty"`

	Category Category `json:"category"`
	Action   string   `json:"action"` // Уточнение внутри категории: "validation_failed", "plan_expired"...

	Input  map[string]any `json:"input,omitempty"`
	Output any            `json:"output,omitempty"`

	// Первая затронутая сущность (для быстрых выборок "что случилось с клиентом X")
	EntityKind string `json:"entity_kind,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Auditor — точка записи. Реализация обязана быть неблокирующей и никогда
// не возвращать ошибку вызывающему: провал аудита не отменяет операцию.
type Auditor interface {
	Log(e Entry)
}
