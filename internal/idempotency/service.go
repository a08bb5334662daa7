package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordTTL — срок жизни записи дедупликации. После него ретрай того же ключа
// считается новым запросом.
const RecordTTL = 24 * time.Hour

// Repository — хранилище записей. Get по составному ключу, Upsert — атомарная
// вставка-или-замена по тому же ключу (никаких read-then-write в два запроса).
type Repository interface {
	Get(ctx context.Context, userID, toolName, key string) (*domain.IdempotencyRecord, error)
	Upsert(ctx context.Context, rec *domain.IdempotencyRecord) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Response — что сохраняется и отдается при повторе. Дословная копия ответа
// первого исполнения: success/failure/data/entity ids.
type Response struct {
	Success   bool     `json:"success"`
	Data      any      `json:"data,omitempty"`
	Error     string   `json:"error,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// CheckResult — итог проверки дедупликации
type CheckResult struct {
	Idempotent bool
	RecordID   string
	Response   Response
	Status     domain.IdempotencyStatus
}

// Outcome — результат ExecuteWithIdempotency
type Outcome struct {
	Response      Response
	WasIdempotent bool
	RecordID      string
}

type metricsSink interface {
	IdempotencyCheck(result string) // miss, hit, conflict
}

// Service дедуплицирует исполнения инструментов по (tenant, tool, caller key).
type Service struct {
	repo    Repository
	logger  *zap.Logger
	metrics metricsSink
	now     func() time.Time
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.Named("idempotency"),
		now:    time.Now,
	}
}

// SetMetrics подключает счетчики (опционально)
func (s *Service) SetMetrics(m metricsSink) { s.metrics = m }

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.IdempotencyCheck(result)
	}
}

// Check ищет живую запись по составному ключу.
//   - записи нет -> не идемпотентно;
//   - запись протухла -> удаляем лениво, не идемпотентно (фоновый sweep лишь
//     ограничивает объем хранилища, для корректности он не нужен);
//   - запись жива, но хэш параметров другой -> ErrKeyConflict (баг вызывающего);
//   - ошибка хранилища -> fail open: никогда не блокируем исполнение из-за
//     икоты дедуп-стора, худший случай — повторное исполнение.
func (s *Service) Check(ctx context.Context, userID, toolName, key string, params map[string]any) (*CheckResult, error) {
	rec, err := s.repo.Get(ctx, userID, toolName, key)
	if err != nil {
		s.logger.Warn("idempotency store read failed, treating as miss",
			zap.String("tool", toolName), zap.Error(err))
		s.count("miss")
		return &CheckResult{Idempotent: false}, nil
	}
	if rec == nil {
		s.count("miss")
		return &CheckResult{Idempotent: false}, nil
	}

	if s.now().After(rec.ExpiresAt) {
		// Ленивое удаление: ошибка не мешает трактовать как промах
		if err := s.repo.Delete(ctx, rec.ID); err != nil {
			s.logger.Warn("failed to delete expired idempotency record",
				zap.String("record_id", rec.ID), zap.Error(err))
		}
		s.count("miss")
		return &CheckResult{Idempotent: false}, nil
	}

	if rec.RequestHash != HashParams(params) {
		s.count("conflict")
		return nil, fmt.Errorf("%w: tool %s, key %s", domain.ErrKeyConflict, toolName, key)
	}

	var resp Response
	if err := json.Unmarshal(rec.Response, &resp); err != nil {
		// Битая запись бесполезна — убираем и пропускаем исполнение
		s.logger.Error("corrupt idempotency response, dropping record",
			zap.String("record_id", rec.ID), zap.Error(err))
		_ = s.repo.Delete(ctx, rec.ID)
		s.count("miss")
		return &CheckResult{Idempotent: false}, nil
	}

	s.count("hit")
	return &CheckResult{
		Idempotent: true,
		RecordID:   rec.ID,
		Response:   resp,
		Status:     rec.Status,
	}, nil
}

// RecordInput — параметры записи результата
type RecordInput struct {
	ToolName  string
	Key       string
	Params    map[string]any
	Response  Response
	EntityIDs []string
	Status    domain.IdempotencyStatus // По умолчанию SUCCESS
}

// Record сохраняет результат исполнения (upsert по составному ключу).
// Провалы тоже записываются: ретрай упавшего вызова не должен молча
// считаться свежим запросом.
func (s *Service) Record(ctx context.Context, userID string, in RecordInput) (string, error) {
	status := in.Status
	if status == "" {
		status = domain.IdemSuccess
	}

	raw, err := json.Marshal(in.Response)
	if err != nil {
		return "", fmt.Errorf("idempotency: failed to marshal response: %w", err)
	}

	now := s.now()
	rec := &domain.IdempotencyRecord{
		ID:          uuid.New().String(),
		UserID:      userID,
		ToolName:    in.ToolName,
		Key:         in.Key,
		RequestHash: HashParams(in.Params),
		Response:    raw,
		EntityIDs:   in.EntityIDs,
		Status:      status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(RecordTTL),
	}

	if err := s.repo.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("idempotency: failed to record result: %w", err)
	}
	return rec.ID, nil
}

// ExecuteWithIdempotency — композиция Check + executor + Record.
// Единственный источник правды на вопрос "это уже происходило?".
func (s *Service) ExecuteWithIdempotency(
	ctx context.Context,
	userID, toolName, key string,
	params map[string]any,
	executor func(ctx context.Context) Response,
) (*Outcome, error) {
	check, err := s.Check(ctx, userID, toolName, key, params)
	if err != nil {
		return nil, err // ErrKeyConflict
	}
	if check.Idempotent {
		return &Outcome{
			Response:      check.Response,
			WasIdempotent: true,
			RecordID:      check.RecordID,
		}, nil
	}

	resp := executor(ctx)

	status := domain.IdemSuccess
	if !resp.Success {
		status = domain.IdemFailed
	}

	recordID, err := s.Record(ctx, userID, RecordInput{
		ToolName:  toolName,
		Key:       key,
		Params:    params,
		Response:  resp,
		EntityIDs: resp.EntityIDs,
		Status:    status,
	})
	if err != nil {
		// Результат уже есть, терять его из-за дедуп-стора нельзя — вернем
		// как есть, следующий ретрай в худшем случае исполнится повторно
		s.logger.Error("failed to persist idempotency record", zap.Error(err))
		return &Outcome{Response: resp}, nil
	}

	return &Outcome{Response: resp, RecordID: recordID}, nil
}

// CleanupExpired — периодический sweep, ограничивающий объем хранилища
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup failed: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired idempotency records removed", zap.Int64("count", n))
	}
	return n, nil
}

// IsKeyConflict — хелпер для транспортного слоя
func IsKeyConflict(err error) bool {
	return errors.Is(err, domain.ErrKeyConflict)
}
