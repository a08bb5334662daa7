package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gabrielauvo/autonomo/internal/audit"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepo — отдельное хранилище журнала: у него свой профиль нагрузки
// (пакетные вставки из фонового writer'а плюс редкие выборки).
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// WriteBatch сохраняет пачку записей одним INSERT с динамическими плейсхолдерами
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_logs
	numFields := 18
	placeholderStr := ""
	vals := make([]interface{}, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		ph := make([]string, 0, numFields)
		for j := 1; j <= numFields; j++ {
			ph = append(ph, fmt.Sprintf("$%d", p+j))
		}
		placeholderStr += "(" + strings.Join(ph, ", ") + "),"

		input, _ := json.Marshal(e.Input)
		output, _ := json.Marshal(e.Output)

		vals = append(vals,
			e.ID, e.TraceID, e.UserID, e.ConversationID, e.PlanID, e.ToolName,
			e.Category, e.Action, input, output, e.EntityKind, e.EntityID,
			e.Success, e.ErrorMessage, e.IP, e.UserAgent, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf(`INSERT INTO audit_logs
		(id, trace_id, user_id, conversation_id, plan_id, tool_name,
		 category, action, input, output, entity_kind, entity_id,
		 success, error_message, ip, user_agent, duration_ms, timestamp) VALUES %s`,
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

const auditColumns = `id, trace_id, user_id, COALESCE(conversation_id, ''), COALESCE(plan_id, ''),
	COALESCE(tool_name, ''), category, action, input, output,
	COALESCE(entity_kind, ''), COALESCE(entity_id, ''),
	success, COALESCE(error_message, ''), COALESCE(ip, ''), COALESCE(user_agent, ''),
	duration_ms, timestamp`

func scanEntries(rows pgx.Rows) ([]audit.Entry, error) {
	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		var input, output []byte
		err := rows.Scan(
			&e.ID, &e.TraceID, &e.UserID, &e.ConversationID, &e.PlanID,
			&e.ToolName, &e.Category, &e.Action, &input, &output,
			&e.EntityKind, &e.EntityID,
			&e.Success, &e.ErrorMessage, &e.IP, &e.UserAgent,
			&e.DurationMs, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit entry: %w", err)
		}
		if len(input) > 0 {
			json.Unmarshal(input, &e.Input)
		}
		if len(output) > 0 {
			json.Unmarshal(output, &e.Output)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// auditWindow добавляет временной диапазон к запросу
func auditWindow(query string, args []interface{}, f audit.Filter) (string, []interface{}) {
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	return query, args
}

func (r *AuditRepo) FindByUser(ctx context.Context, userID string, f audit.Filter) ([]audit.Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE user_id = $1`
	args := []interface{}{userID}

	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	query, args = auditWindow(query, args, f)

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit logs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *AuditRepo) FindByConversation(ctx context.Context, userID, conversationID string, limit int) ([]audit.Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_logs
		 WHERE user_id = $1 AND conversation_id = $2
		 ORDER BY timestamp DESC LIMIT $3`,
		userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query conversation logs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *AuditRepo) FindByPlan(ctx context.Context, userID, planID string) ([]audit.Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_logs
		 WHERE user_id = $1 AND plan_id = $2
		 ORDER BY timestamp ASC`,
		userID, planID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query plan logs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *AuditRepo) FindByCategories(ctx context.Context, userID string, categories []audit.Category, f audit.Filter) ([]audit.Entry, error) {
	cats := make([]string, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, string(c))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE user_id = $1 AND category = ANY($2)`
	args := []interface{}{userID, cats}
	query, args = auditWindow(query, args, f)

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query security logs: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountFailedSince — счетчик для failed-operations гейта rate limiter'а
func (r *AuditRepo) CountFailedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_logs
		 WHERE user_id = $1 AND success = FALSE AND timestamp >= $2`,
		userID, since,
	).Scan(&n)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: failed to count failures: %w", err)
	}
	return n, nil
}
