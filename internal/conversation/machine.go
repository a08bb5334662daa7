package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"go.uber.org/zap"
)

// Conversation — заголовок диалога для списков в UI
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository — персистентность метаданных диалога. Метаданные хранятся как
// JSONB-колонка записи разговора; чтение отдает сырые байты, декодирование —
// забота машины состояний.
type Repository interface {
	GetStateData(ctx context.Context, conversationID, userID string) ([]byte, error)
	SetStateData(ctx context.Context, conversationID, userID string, data []byte) error
	List(ctx context.Context, userID string, limit int) ([]*Conversation, error)
	Get(ctx context.Context, conversationID, userID string) (*Conversation, error)
}

// Machine — машина состояний ассистента per-conversation
type Machine struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewMachine(repo Repository, logger *zap.Logger) *Machine {
	return &Machine{
		repo:   repo,
		logger: logger.Named("conversation"),
		now:    time.Now,
	}
}

// GetState читает метаданные диалога. Просроченный черновик плана лениво
// зачищается прямо на чтении — зеркально пятиминутному окну Plan Service,
// отдельный sweep для диалогов не нужен.
func (m *Machine) GetState(ctx context.Context, conversationID, userID string) (StateData, error) {
	raw, err := m.repo.GetStateData(ctx, conversationID, userID)
	if err != nil {
		return StateData{}, fmt.Errorf("conversation: failed to load state: %w", err)
	}

	data := DecodeStateData(raw)

	if data.PendingDraft.Expired(m.now()) {
		m.logger.Debug("pending plan draft expired, resetting to idle",
			zap.String("conversation_id", conversationID))

		data.PendingDraft = nil
		data.BillingPreviewID = ""
		data.State = StateIdle
		if err := m.persist(ctx, conversationID, userID, data); err != nil {
			// Чтение важнее зачистки: отдаем уже очищенное состояние
			m.logger.Warn("failed to persist lazy draft cleanup", zap.Error(err))
		}
	}

	return data, nil
}

// SetState переводит диалог в новое состояние, примешивая mutate-правки поверх
// предыдущих данных (pending draft, последний результат, ссылка на превью
// сохраняются, если правка их не трогает). Неожиданный переход логируется,
// но не отклоняется.
func (m *Machine) SetState(ctx context.Context, conversationID, userID string, next State, mutate func(*StateData)) (StateData, error) {
	raw, err := m.repo.GetStateData(ctx, conversationID, userID)
	if err != nil {
		return StateData{}, fmt.Errorf("conversation: failed to load state: %w", err)
	}
	data := DecodeStateData(raw)

	if !isExpectedTransition(data.State, next) && data.State != next {
		m.logger.Warn("unexpected conversation state transition",
			zap.String("conversation_id", conversationID),
			zap.String("from", string(data.State)),
			zap.String("to", string(next)))
	}

	data.State = next
	if mutate != nil {
		mutate(&data)
	}
	data.Version = stateDataVersion
	data.UpdatedAt = m.now()

	if err := m.persist(ctx, conversationID, userID, data); err != nil {
		return StateData{}, err
	}
	return data, nil
}

func (m *Machine) persist(ctx context.Context, conversationID, userID string, data StateData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("conversation: failed to encode state: %w", err)
	}
	if err := m.repo.SetStateData(ctx, conversationID, userID, raw); err != nil {
		return fmt.Errorf("conversation: failed to persist state: %w", err)
	}
	return nil
}

// List — диалоги пользователя для бокового меню
func (m *Machine) List(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	convs, err := m.repo.List(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to list: %w", err)
	}
	if convs == nil {
		return []*Conversation{}, nil
	}
	return convs, nil
}

// Get — заголовок одного диалога; чужой tenant получает not found
func (m *Machine) Get(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	c, err := m.repo.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to get: %w", err)
	}
	if c == nil {
		return nil, domain.ErrNotFound
	}
	return c, nil
}
