package postgres

import (
	"context"
	"fmt"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, username, password_hash, plan_tier, scopes, created_at, updated_at`

func (r *Repo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u := &domain.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.PlanTier, &u.Scopes, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (r *Repo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	u := &domain.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.PlanTier, &u.Scopes, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// ListSuspendedUserIDs — выборка для прогрева SuspendManager при старте.
// Только ID, чтобы минимизировать трафик между БД и приложением.
func (r *Repo) ListSuspendedUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE suspended = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch suspended users: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan user id error: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return ids, nil
}

// SetSuspended — источник правды рубильника аккаунтов
func (r *Repo) SetSuspended(ctx context.Context, id string, suspended bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET suspended = $1, updated_at = NOW() WHERE id = $2`,
		suspended, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update suspension: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
