package postgres

/*
Файл entity_repo.go реализует доступ к бизнес-сущностям tenant'а.
Выбор таблицы по EntityKind идет через явный switch: набор типов закрыт,
опечатка в имени ломает компиляцию, а не уезжает в SQL.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/jackc/pgx/v5"
)

// entityTable маппит вид сущности на таблицу
func entityTable(kind domain.EntityKind) (string, error) {
	switch kind {
	case domain.EntityClient:
		return "clients", nil
	case domain.EntityQuote:
		return "quotes", nil
	case domain.EntityWorkOrder:
		return "work_orders", nil
	case domain.EntityClientPayment:
		return "client_payments", nil
	}
	return "", fmt.Errorf("postgres: unknown entity kind %q", kind)
}

// OwnedBy — принадлежит ли сущность tenant'у. Имя таблицы приходит из
// закрытого switch, никогда из пользовательского ввода.
func (r *Repo) OwnedBy(ctx context.Context, kind domain.EntityKind, id, userID string) (bool, error) {
	table, err := entityTable(kind)
	if err != nil {
		return false, err
	}

	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1 AND user_id = $2)`, table)
	if err := r.pool.QueryRow(ctx, query, id, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: ownership check failed: %w", err)
	}
	return exists, nil
}

// CountByKind — счетчик для тарифных лимитов
func (r *Repo) CountByKind(ctx context.Context, kind domain.EntityKind, userID string) (int, error) {
	table, err := entityTable(kind)
	if err != nil {
		return 0, err
	}

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = $1`, table)
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count failed: %w", err)
	}
	return n, nil
}

// ClientExists — проверка при валидации платежных превью
func (r *Repo) ClientExists(ctx context.Context, clientID, userID string) (bool, error) {
	return r.OwnedBy(ctx, domain.EntityClient, clientID, userID)
}

func (r *Repo) CreateClient(ctx context.Context, c *domain.Client) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clients (id, user_id, name, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)`,
		c.ID, c.UserID, c.Name, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create client: %w", err)
	}
	return nil
}

func (r *Repo) GetClient(ctx context.Context, id, userID string) (*domain.Client, error) {
	var c domain.Client
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, COALESCE(email, ''), COALESCE(phone, ''), created_at, updated_at
		FROM clients WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get client: %w", err)
	}
	return &c, nil
}

// FindClientsByName — поиск подстрокой без учета регистра, для "clients.get" по имени
func (r *Repo) FindClientsByName(ctx context.Context, userID, name string) ([]domain.Client, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, COALESCE(email, ''), COALESCE(phone, ''), created_at, updated_at
		FROM clients WHERE user_id = $1 AND name ILIKE '%' || $2 || '%'
		ORDER BY name ASC LIMIT 20`,
		userID, name)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to find clients: %w", err)
	}
	defer rows.Close()

	results := make([]domain.Client, 0)
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan client: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (r *Repo) CreateQuote(ctx context.Context, q *domain.Quote) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO quotes (id, user_id, client_id, description, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		q.ID, q.UserID, q.ClientID, q.Description, q.Total, q.Status, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create quote: %w", err)
	}
	return nil
}

func (r *Repo) GetWorkOrder(ctx context.Context, id, userID string) (*domain.WorkOrder, error) {
	var w domain.WorkOrder
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, client_id, description, status, scheduled_at, created_at, updated_at
		FROM work_orders WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&w.ID, &w.UserID, &w.ClientID, &w.Description, &w.Status, &w.ScheduledAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get work order: %w", err)
	}
	return &w, nil
}

// UpdateWorkOrderStatus меняет статус и/или дату визита. Пустой статус и
// nil-дата оставляют соответствующее поле как было.
func (r *Repo) UpdateWorkOrderStatus(ctx context.Context, id, userID, status string, scheduledAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE work_orders
		SET status       = COALESCE(NULLIF($1, ''), status),
		    scheduled_at = COALESCE($2, scheduled_at),
		    updated_at   = NOW()
		WHERE id = $3 AND user_id = $4`,
		status, scheduledAt, id, userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update work order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) CreatePayment(ctx context.Context, p *domain.ClientPayment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO client_payments (id, user_id, client_id, billing_type, value, due_date, status, gateway_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		p.ID, p.UserID, p.ClientID, p.BillingType, p.Value, p.DueDate, p.Status, p.GatewayRef, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create payment: %w", err)
	}
	return nil
}
