package domain

import (
	"encoding/json"
	"time"
)

type IdempotencyStatus string

const (
	IdemSuccess IdempotencyStatus = "SUCCESS"
	IdemFailed  IdempotencyStatus = "FAILED"
)

// IdempotencyRecord — запись дедупликации одного вызова инструмента.
// Уникальность по составному ключу (user_id, tool_name, key); хэш параметров
// позволяет отличить честный ретрай от переиспользования ключа с другим телом.
type IdempotencyRecord struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	ToolName    string            `json:"tool_name"`
	Key         string            `json:"key"` // Ключ, присланный вызывающей стороной
	RequestHash string            `json:"request_hash"`
	Response    json.RawMessage   `json:"response"` // Сохраненный ответ, отдается при повторе дословно
	EntityIDs   []string          `json:"entity_ids,omitempty"`
	Status      IdempotencyStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}
