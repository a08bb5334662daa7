package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabrielauvo/autonomo/internal/conversation"
	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/jackc/pgx/v5"
)

// GetStateData читает JSONB-метаданные диалога. Отсутствие строки — пустые
// байты без ошибки: машина состояний трактует это как дефолтное состояние.
func (r *Repo) GetStateData(ctx context.Context, conversationID, userID string) ([]byte, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT state_data FROM conversations WHERE id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get conversation state: %w", err)
	}
	return raw, nil
}

// SetStateData апсертом сохраняет метаданные: первый ход диалога создает строку
func (r *Repo) SetStateData(ctx context.Context, conversationID, userID string, data []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversations (id, user_id, title, state_data, created_at, updated_at)
		VALUES ($1, $2, '', $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			state_data = EXCLUDED.state_data,
			updated_at = NOW()
		WHERE conversations.user_id = $2`,
		conversationID, userID, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to set conversation state: %w", err)
	}
	return nil
}

// List — заголовки диалогов владельца, свежие сверху
func (r *Repo) List(ctx context.Context, userID string, limit int) ([]*conversation.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, title, COALESCE(state_data->>'state', 'IDLE'), created_at, updated_at
		FROM conversations WHERE user_id = $1
		ORDER BY updated_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query conversations: %w", err)
	}
	defer rows.Close()

	results := make([]*conversation.Conversation, 0)
	for rows.Next() {
		var c conversation.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.State, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan conversation: %w", err)
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func (r *Repo) Get(ctx context.Context, conversationID, userID string) (*conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, title, COALESCE(state_data->>'state', 'IDLE'), created_at, updated_at
		FROM conversations WHERE id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.State, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get conversation: %w", err)
	}
	return &c, nil
}
