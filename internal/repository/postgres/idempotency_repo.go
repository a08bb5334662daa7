package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepo — отдельное хранилище записей дедупликации (ср. AuditRepo):
// метод Get конфликтует по сигнатуре с Get диалогов на общем Repo.
type IdempotencyRepo struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepo(pool *pgxpool.Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Get читает запись дедупликации по составному ключу
func (r *IdempotencyRepo) Get(ctx context.Context, userID, toolName, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, tool_name, key, request_hash, response, entity_ids, status, created_at, expires_at
		FROM idempotency_records
		WHERE user_id = $1 AND tool_name = $2 AND key = $3`,
		userID, toolName, key,
	).Scan(&rec.ID, &rec.UserID, &rec.ToolName, &rec.Key, &rec.RequestHash,
		&rec.Response, &rec.EntityIDs, &rec.Status, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get idempotency record: %w", err)
	}
	return &rec, nil
}

// Upsert сохраняет запись. Конфликт по (user_id, tool_name, key) перезаписывает
// тело: это путь "запись истекла и была лениво удалена параллельным чтением".
func (r *IdempotencyRepo) Upsert(ctx context.Context, rec *domain.IdempotencyRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO idempotency_records (id, user_id, tool_name, key, request_hash, response, entity_ids, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, tool_name, key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			response     = EXCLUDED.response,
			entity_ids   = EXCLUDED.entity_ids,
			status       = EXCLUDED.status,
			created_at   = EXCLUDED.created_at,
			expires_at   = EXCLUDED.expires_at`,
		rec.ID, rec.UserID, rec.ToolName, rec.Key, rec.RequestHash,
		rec.Response, rec.EntityIDs, rec.Status, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert idempotency record: %w", err)
	}
	return nil
}

// Delete — ленивое удаление просроченной записи при чтении
func (r *IdempotencyRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete idempotency record: %w", err)
	}
	return nil
}

// DeleteExpired — фоновая зачистка для sweep'а
func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete expired records: %w", err)
	}
	return tag.RowsAffected(), nil
}
