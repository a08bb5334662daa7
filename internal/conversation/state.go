package conversation

import (
	"encoding/json"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"
)

// State — фаза ассистента внутри одного диалога
type State string

const (
	StateIdle                 State = "IDLE"
	StatePlanning             State = "PLANNING"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateExecuting            State = "EXECUTING"
)

// transitions — декларированная таблица "ожидаемых" переходов.
// Машина намеренно пермиссивна: NLU-поток легитимно перезапускает планирование
// из любого состояния (пользователь передумал на полпути), поэтому нарушение
// таблицы — warning в лог, а не отказ.
var transitions = map[State][]State{
	StateIdle:                 {StatePlanning},
	StatePlanning:             {StatePlanning, StateAwaitingConfirmation, StateIdle},
	StateAwaitingConfirmation: {StateExecuting, StateIdle, StatePlanning},
	StateExecuting:            {StateIdle},
}

func isExpectedTransition(from, to State) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// stateDataVersion — текущая версия схемы метаданных диалога.
// Данные из БД декодируются оборонительно: чужая версия или битый JSON
// откатываются к дефолтному IDLE, а не доверяются как есть.
const stateDataVersion = 1

// PlanDraft — черновик плана, пока ассистент собирает недостающие поля
type PlanDraft struct {
	PlanID    string         `json:"plan_id,omitempty"` // Проставлен после createPlan
	Summary   string         `json:"summary,omitempty"`
	Collected map[string]any `json:"collected,omitempty"`
	Missing   []string       `json:"missing,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired — черновик живет ровно столько же, сколько окно подтверждения плана
func (d *PlanDraft) Expired(now time.Time) bool {
	return d != nil && now.After(d.ExpiresAt)
}

// StateData — типизированные метаданные диалога (вместо нетипизированного JSON-блоба)
type StateData struct {
	Version int   `json:"version"`
	State   State `json:"state"`

	PendingDraft     *PlanDraft      `json:"pending_draft,omitempty"`
	LastToolResult   json.RawMessage `json:"last_tool_result,omitempty"`
	BillingPreviewID string          `json:"billing_preview_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultStateData — безопасная отправная точка
func DefaultStateData() StateData {
	return StateData{Version: stateDataVersion, State: StateIdle}
}

// DecodeStateData разбирает сохраненные метаданные. Любое несоответствие схеме —
// пустые данные, неизвестная версия, мусорный JSON, пустой state — дает дефолт.
func DecodeStateData(raw []byte) StateData {
	if len(raw) == 0 {
		return DefaultStateData()
	}

	var data StateData
	if err := json.Unmarshal(raw, &data); err != nil {
		return DefaultStateData()
	}
	if data.Version != stateDataVersion {
		return DefaultStateData()
	}
	switch data.State {
	case StateIdle, StatePlanning, StateAwaitingConfirmation, StateExecuting:
	default:
		return DefaultStateData()
	}
	return data
}

// NewDraft — заготовка черновика с дедлайном, синхронным с планом
func NewDraft(now time.Time) *PlanDraft {
	return &PlanDraft{
		Collected: make(map[string]any),
		ExpiresAt: now.Add(domain.ConfirmationWindow),
	}
}
