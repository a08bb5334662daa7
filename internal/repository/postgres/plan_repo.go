package postgres

/*
Файл plan_repo.go реализует хранилище планов. Вся конкурентная защита жизненного
цикла держится на условных UPDATE'ах с проверкой (id, user_id, status): из двух
одновременных переходов ровно один увидит затронутую строку.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/jackc/pgx/v5"
)

// Create сохраняет план, его действия и платежные превью одной транзакцией
func (r *Repo) Create(ctx context.Context, p *domain.Plan) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO plans (id, user_id, conversation_id, summary, status, idempotency_key, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		p.ID, p.UserID, p.ConversationID, p.Summary, p.Status, p.IdempotencyKey, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert plan: %w", err)
	}

	for _, a := range p.Actions {
		params, err := json.Marshal(a.Params)
		if err != nil {
			return fmt.Errorf("postgres: marshal action params: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO plan_actions (id, plan_id, position, tool_name, params, description, kind)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ID, a.PlanID, a.Position, a.ToolName, params, a.Description, a.Kind,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to insert action: %w", err)
		}

		if a.Preview != nil {
			pv := a.Preview
			_, err = tx.Exec(ctx, `
				INSERT INTO payment_previews (id, plan_id, action_id, client_id, billing_type, value, due_date, valid, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				pv.ID, pv.PlanID, pv.ActionID, pv.ClientID, pv.BillingType, pv.Value, pv.DueDate, pv.Valid, pv.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("postgres: failed to insert preview: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

const planColumns = `id, user_id, conversation_id, summary, status, COALESCE(idempotency_key, ''),
	COALESCE(result_summary, ''), COALESCE(error_detail, ''),
	created_at, confirmed_at, executed_at, expires_at`

func scanPlan(row pgx.Row) (*domain.Plan, error) {
	var p domain.Plan
	var confirmedAt, executedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.UserID, &p.ConversationID, &p.Summary, &p.Status, &p.IdempotencyKey,
		&p.ResultSummary, &p.ErrorDetail,
		&p.CreatedAt, &confirmedAt, &executedAt, &p.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		val := confirmedAt.Time
		p.ConfirmedAt = &val
	}
	if executedAt.Valid {
		val := executedAt.Time
		p.ExecutedAt = &val
	}
	return &p, nil
}

// loadActions подтягивает действия и превью плана в порядке исполнения
func (r *Repo) loadActions(ctx context.Context, p *domain.Plan) error {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.plan_id, a.position, a.tool_name, a.params, a.description, a.kind,
		       pv.id, pv.client_id, pv.billing_type, pv.value, pv.due_date, pv.valid, pv.payment_id, pv.created_at
		FROM plan_actions a
		LEFT JOIN payment_previews pv ON pv.action_id = a.id
		WHERE a.plan_id = $1
		ORDER BY a.position ASC`, p.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to query actions: %w", err)
	}
	defer rows.Close()

	p.Actions = make([]domain.Action, 0)
	for rows.Next() {
		var a domain.Action
		var params []byte
		var pvID, pvClientID, pvBillingType, pvPaymentID sql.NullString
		var pvValue sql.NullFloat64
		var pvDueDate, pvCreatedAt sql.NullTime
		var pvValid sql.NullBool

		err := rows.Scan(
			&a.ID, &a.PlanID, &a.Position, &a.ToolName, &params, &a.Description, &a.Kind,
			&pvID, &pvClientID, &pvBillingType, &pvValue, &pvDueDate, &pvValid, &pvPaymentID, &pvCreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to scan action: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &a.Params); err != nil {
				return fmt.Errorf("postgres: corrupt action params: %w", err)
			}
		}
		if pvID.Valid {
			preview := &domain.PaymentPreview{
				ID:          pvID.String,
				PlanID:      a.PlanID,
				ActionID:    a.ID,
				ClientID:    pvClientID.String,
				BillingType: pvBillingType.String,
				Value:       pvValue.Float64,
				DueDate:     pvDueDate.Time,
				Valid:       pvValid.Bool,
				CreatedAt:   pvCreatedAt.Time,
			}
			if pvPaymentID.Valid {
				val := pvPaymentID.String
				preview.PaymentID = &val
			}
			a.Preview = preview
		}
		p.Actions = append(p.Actions, a)
	}
	return rows.Err()
}

// GetByIdempotencyKey — внешний контур дедупликации создания планов
func (r *Repo) GetByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Plan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key)

	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get plan by key: %w", err)
	}
	if err := r.loadActions(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetScoped возвращает план только при полном совпадении (id, owner, status).
// Любое расхождение — nil, nil: чужой план неотличим от несуществующего.
func (r *Repo) GetScoped(ctx context.Context, id, userID string, status domain.PlanStatus) (*domain.Plan, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1 AND user_id = $2 AND status = $3`,
		id, userID, status)

	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get plan: %w", err)
	}
	if err := r.loadActions(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// TransitionScoped — атомарный условный переход. Штампует confirmed_at/executed_at
// по целевому статусу. false — ноль затронутых строк.
func (r *Repo) TransitionScoped(ctx context.Context, id, userID string, from, to domain.PlanStatus) (bool, error) {
	query := `UPDATE plans SET status = $1, updated_at = NOW()`
	switch to {
	case domain.PlanConfirmed:
		query += `, confirmed_at = NOW()`
	case domain.PlanExecuting:
		query += `, executed_at = NOW()`
	}
	query += ` WHERE id = $2 AND user_id = $3 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, to, id, userID, from)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to transition plan: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetResult финализирует план итогами исполнения
func (r *Repo) SetResult(ctx context.Context, id string, status domain.PlanStatus, summary, errDetail string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE plans
		SET status = $1, result_summary = $2, error_detail = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		status, summary, errDetail, id, domain.PlanExecuting,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to set plan result: %w", err)
	}
	return nil
}

// ListPending — живые (не просроченные) планы владельца, новые сверху
func (r *Repo) ListPending(ctx context.Context, userID string, now time.Time) ([]*domain.Plan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+planColumns+` FROM plans
		 WHERE user_id = $1 AND status = $2 AND expires_at > $3
		 ORDER BY created_at DESC LIMIT 100`,
		userID, domain.PlanPendingConfirmation, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query pending plans: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan plan: %w", err)
		}
		results = append(results, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	for _, p := range results {
		if err := r.loadActions(ctx, p); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ExpireOverdue пачкой переводит просроченные ожидающие планы в EXPIRED
func (r *Repo) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE plans SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= $3`,
		domain.PlanExpired, domain.PlanPendingConfirmation, now,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to expire plans: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByPlan — платежные превью плана
func (r *Repo) ListByPlan(ctx context.Context, planID string) ([]*domain.PaymentPreview, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, plan_id, action_id, client_id, billing_type, value, due_date, valid, payment_id, created_at
		FROM payment_previews WHERE plan_id = $1`, planID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query previews: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.PaymentPreview, 0)
	for rows.Next() {
		var pv domain.PaymentPreview
		var paymentID sql.NullString
		err := rows.Scan(&pv.ID, &pv.PlanID, &pv.ActionID, &pv.ClientID, &pv.BillingType,
			&pv.Value, &pv.DueDate, &pv.Valid, &paymentID, &pv.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan preview: %w", err)
		}
		if paymentID.Valid {
			val := paymentID.String
			pv.PaymentID = &val
		}
		results = append(results, &pv)
	}
	return results, rows.Err()
}

// MarkInvalid гасит превью, чей клиент исчез до исполнения
func (r *Repo) MarkInvalid(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE payment_previews SET valid = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to invalidate preview: %w", err)
	}
	return nil
}

// GetPreview — превью по (план, действие) для исполнения платежа
func (r *Repo) GetPreview(ctx context.Context, planID, actionID string) (*domain.PaymentPreview, error) {
	var pv domain.PaymentPreview
	var paymentID sql.NullString
	err := r.pool.QueryRow(ctx, `
		SELECT id, plan_id, action_id, client_id, billing_type, value, due_date, valid, payment_id, created_at
		FROM payment_previews WHERE plan_id = $1 AND action_id = $2`,
		planID, actionID,
	).Scan(&pv.ID, &pv.PlanID, &pv.ActionID, &pv.ClientID, &pv.BillingType,
		&pv.Value, &pv.DueDate, &pv.Valid, &paymentID, &pv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get preview: %w", err)
	}
	if paymentID.Valid {
		val := paymentID.String
		pv.PaymentID = &val
	}
	return &pv, nil
}

// ConsumePreview привязывает превью к платежу. Условие payment_id IS NULL
// гарантирует не более одной привязки; false — превью уже сконсумировано.
func (r *Repo) ConsumePreview(ctx context.Context, previewID, paymentID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_previews SET payment_id = $1
		WHERE id = $2 AND valid = TRUE AND payment_id IS NULL`,
		paymentID, previewID,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to consume preview: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
