package plan

/*
Пакет plan владеет жизненным циклом плана: предложение, подтверждение, отклонение,
строго последовательное исполнение действий через реестр инструментов и зачистка
просроченных планов.

Вся конкурентная защита построена на scoped conditional updates:
переход (id, owner, from_status) -> to_status выполняется одним UPDATE с условием,
и из двух одновременных подтверждений ровно одно увидит затронутую строку.
Отдельные блокировки не нужны.
*/

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabrielauvo/autonomo/internal/audit"
	"github.com/gabrielauvo/autonomo/internal/domain"
	"github.com/gabrielauvo/autonomo/internal/idempotency"
	"github.com/gabrielauvo/autonomo/internal/tool"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository — узкий контракт хранилища планов. Create обязан писать план,
// его действия и превью одной транзакцией.
type Repository interface {
	Create(ctx context.Context, p *domain.Plan) error
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Plan, error)

	// GetScoped возвращает план только при полном совпадении (id, owner, status);
	// любое расхождение — nil, nil. Снаружи это неотличимо от отсутствия плана.
	GetScoped(ctx context.Context, id, userID string, status domain.PlanStatus) (*domain.Plan, error)

	// TransitionScoped — атомарный условный переход. false — ноль затронутых строк:
	// план не найден, чужой или уже обработан.
	TransitionScoped(ctx context.Context, id, userID string, from, to domain.PlanStatus) (bool, error)

	SetResult(ctx context.Context, id string, status domain.PlanStatus, summary, errDetail string) error
	ListPending(ctx context.Context, userID string, now time.Time) ([]*domain.Plan, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// PreviewRepository — доступ к платежным превью плана
type PreviewRepository interface {
	ListByPlan(ctx context.Context, planID string) ([]*domain.PaymentPreview, error)
	MarkInvalid(ctx context.Context, id string) error
}

// ClientChecker — проверка, что клиент превью все еще существует у владельца
type ClientChecker interface {
	ClientExists(ctx context.Context, clientID, userID string) (bool, error)
}

// Executor — то, что нам нужно от реестра инструментов
type Executor interface {
	ExecuteTool(ctx context.Context, name string, params map[string]any, cc tool.CallContext) *tool.Result
	RequiresPaymentPreview(name string) bool
}

// Deduper — внутренний контур идемпотентности per-action
type Deduper interface {
	ExecuteWithIdempotency(ctx context.Context, userID, toolName, key string, params map[string]any,
		executor func(ctx context.Context) idempotency.Response) (*idempotency.Outcome, error)
}

// EventPublisher транслирует решения по планам (Redis Pub/Sub) для
// notification-коллаборатора. Ошибка доставки сигнала не фатальна.
type EventPublisher interface {
	PublishPlanEvent(ctx context.Context, planID string, status domain.PlanStatus) error
}

type transitionCounter interface {
	PlanTransition(to domain.PlanStatus)
}

// CreateInput — заявка на план от оркестратора
type CreateInput struct {
	UserID         string
	ConversationID string
	Summary        string
	IdempotencyKey string
	Actions        []ActionInput
	TraceID        string
}

type ActionInput struct {
	ToolName    string
	Params      map[string]any
	Description string
	Kind        domain.ActionKind
	Preview     *PreviewInput
}

type PreviewInput struct {
	ClientID    string
	BillingType string
	Value       float64
	DueDate     time.Time
}

type Service struct {
	repo     Repository
	previews PreviewRepository
	clients  ClientChecker
	executor Executor
	dedup    Deduper
	auditor  audit.Auditor
	events   EventPublisher
	metrics  transitionCounter
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	previews PreviewRepository,
	clients ClientChecker,
	executor Executor,
	dedup Deduper,
	auditor audit.Auditor,
	events EventPublisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		previews: previews,
		clients:  clients,
		executor: executor,
		dedup:    dedup,
		auditor:  auditor,
		events:   events,
		logger:   logger.Named("plan"),
		now:      time.Now,
	}
}

// SetMetrics подключает счетчик переходов (опционально)
func (s *Service) SetMetrics(m transitionCounter) { s.metrics = m }

func (s *Service) countTransition(to domain.PlanStatus) {
	if s.metrics != nil {
		s.metrics.PlanTransition(to)
	}
}

// CreatePlan создает план в PENDING_CONFIRMATION. Внешний контур идемпотентности:
// повторный вызов с тем же ключом возвращает существующий план без новой строки
// и без повторного аудита создания. Не путать с per-action дедупом при исполнении.
func (s *Service) CreatePlan(ctx context.Context, in CreateInput) (*domain.Plan, error) {
	if in.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("plan: idempotency lookup failed: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	if len(in.Actions) == 0 {
		return nil, fmt.Errorf("plan: at least one action is required")
	}

	now := s.now()
	p := &domain.Plan{
		ID:             uuid.New().String(),
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		Summary:        in.Summary,
		Status:         domain.PlanPendingConfirmation,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		// Дедлайн фиксируется здесь и больше не двигается
		ExpiresAt: now.Add(domain.ConfirmationWindow),
	}

	for i, a := range in.Actions {
		action := domain.Action{
			ID:          uuid.New().String(),
			PlanID:      p.ID,
			Position:    i,
			ToolName:    a.ToolName,
			Params:      a.Params,
			Description: a.Description,
			Kind:        a.Kind,
		}
		if a.Preview != nil {
			action.Preview = &domain.PaymentPreview{
				ID:          uuid.New().String(),
				PlanID:      p.ID,
				ActionID:    action.ID,
				ClientID:    a.Preview.ClientID,
				BillingType: a.Preview.BillingType,
				Value:       a.Preview.Value,
				DueDate:     a.Preview.DueDate,
				Valid:       true,
				CreatedAt:   now,
			}
		}
		p.Actions = append(p.Actions, action)
	}

	// План + действия + превью — одна транзакция в репозитории
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("plan: failed to persist plan: %w", err)
	}

	// В аудит — только количество действий и summary, никогда сырые параметры
	s.auditor.Log(audit.Entry{
		TraceID:        in.TraceID,
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		PlanID:         p.ID,
		Category:       audit.CategoryPlanCreated,
		Action:         "plan_created",
		Output: map[string]any{
			"action_count": len(p.Actions),
			"summary":      p.Summary,
		},
		Success: true,
	})
	s.countTransition(domain.PlanPendingConfirmation)

	return p, nil
}

// ConfirmPlan — подтверждение и исполнение как одна атомарная для пользователя
// операция. Просроченный план финализируется прямо здесь же (EXPIRED), так что
// повторная попытка подтвердить его получит обычный not found, а не вторую
// отработку логики истечения.
func (s *Service) ConfirmPlan(ctx context.Context, id, userID string, cc tool.CallContext) (*domain.ExecutionReport, error) {
	p, err := s.repo.GetScoped(ctx, id, userID, domain.PlanPendingConfirmation)
	if err != nil {
		return nil, fmt.Errorf("plan: confirm lookup failed: %w", err)
	}
	if p == nil {
		// Чужой tenant, неверный статус или нет плана — снаружи одно и то же
		return nil, domain.ErrNotFound
	}

	if p.IsExpired(s.now()) {
		ok, terr := s.repo.TransitionScoped(ctx, id, userID, domain.PlanPendingConfirmation, domain.PlanExpired)
		if terr != nil {
			return nil, fmt.Errorf("plan: failed to expire plan: %w", terr)
		}
		if ok {
			s.auditor.Log(audit.Entry{
				TraceID:  cc.TraceID,
				UserID:   userID,
				PlanID:   id,
				Category: audit.CategoryPlanRejected,
				Action:   "plan_expired",
				Success:  false,
				ErrorMessage: fmt.Sprintf("plan expired at %s",
					p.ExpiresAt.Format(time.RFC3339)),
			})
			s.countTransition(domain.PlanExpired)
			s.publish(ctx, id, domain.PlanExpired)
		}
		return nil, domain.ErrPlanExpired
	}

	ok, err := s.repo.TransitionScoped(ctx, id, userID, domain.PlanPendingConfirmation, domain.PlanConfirmed)
	if err != nil {
		return nil, fmt.Errorf("plan: failed to confirm plan: %w", err)
	}
	if !ok {
		// Гонка: кто-то успел первым. Условный апдейт и есть наш замок.
		return nil, domain.ErrNotFound
	}

	s.auditor.Log(audit.Entry{
		TraceID:        cc.TraceID,
		UserID:         userID,
		ConversationID: p.ConversationID,
		PlanID:         id,
		Category:       audit.CategoryPlanConfirmed,
		Action:         "plan_confirmed",
		Success:        true,
	})
	s.countTransition(domain.PlanConfirmed)
	s.publish(ctx, id, domain.PlanConfirmed)

	return s.executePlan(ctx, id, userID, cc)
}

// RejectPlan — одиночный условный апдейт. Ноль строк — "не найден или уже
// обработан", без уточнений.
func (s *Service) RejectPlan(ctx context.Context, id, userID string, cc tool.CallContext) error {
	ok, err := s.repo.TransitionScoped(ctx, id, userID, domain.PlanPendingConfirmation, domain.PlanRejected)
	if err != nil {
		return fmt.Errorf("plan: failed to reject plan: %w", err)
	}
	if !ok {
		return domain.ErrNotFound
	}

	s.auditor.Log(audit.Entry{
		TraceID:  cc.TraceID,
		UserID:   userID,
		PlanID:   id,
		Category: audit.CategoryPlanRejected,
		Action:   "plan_rejected",
		Success:  true,
	})
	s.countTransition(domain.PlanRejected)
	s.publish(ctx, id, domain.PlanRejected)
	return nil
}

// executePlan доступен только из ConfirmPlan. Действия идут строго последовательно:
// поздние шаги могут зависеть от побочных эффектов ранних, а частичный провал
// получает детерминированный порядок. Провал шага НЕ останавливает цикл —
// осознанная политика максимума частичного прогресса, а не fail-fast.
func (s *Service) executePlan(ctx context.Context, id, userID string, cc tool.CallContext) (*domain.ExecutionReport, error) {
	p, err := s.repo.GetScoped(ctx, id, userID, domain.PlanConfirmed)
	if err != nil {
		return nil, fmt.Errorf("plan: execute lookup failed: %w", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}

	if ok, terr := s.repo.TransitionScoped(ctx, id, userID, domain.PlanConfirmed, domain.PlanExecuting); terr != nil {
		return nil, fmt.Errorf("plan: failed to mark executing: %w", terr)
	} else if !ok {
		return nil, domain.ErrNotFound
	}
	s.countTransition(domain.PlanExecuting)

	// Платежные шаги требуют живых превью; fail closed до первого исполнения
	previewsOK := true
	if s.hasPaymentActions(p) {
		previewsOK, err = s.ValidatePaymentPreviews(ctx, id, userID)
		if err != nil {
			s.logger.Error("payment preview validation failed", zap.String("plan_id", id), zap.Error(err))
			previewsOK = false
		}
	}

	results := make([]domain.ActionResult, 0, len(p.Actions))
	var failures []string
	succeeded := 0

	for _, action := range p.Actions {
		acc := cc
		acc.UserID = userID
		acc.PlanID = id
		acc.ConversationID = p.ConversationID

		res := s.runAction(ctx, p, action, acc, previewsOK)
		results = append(results, res)
		if res.Success {
			succeeded++
		} else {
			failures = append(failures, fmt.Sprintf("%s: %s", action.ToolName, res.Error))
		}
	}

	finalStatus := domain.PlanCompleted
	if len(failures) > 0 {
		finalStatus = domain.PlanFailed
	}
	summary := fmt.Sprintf("Executed %d/%d actions successfully", succeeded, len(p.Actions))
	errDetail := strings.Join(failures, "; ")

	if err := s.repo.SetResult(ctx, id, finalStatus, summary, errDetail); err != nil {
		// Действия уже исполнены: итог важнее статуса, логируем и продолжаем
		s.logger.Error("failed to persist plan result", zap.String("plan_id", id), zap.Error(err))
	}
	s.countTransition(finalStatus)
	s.publish(ctx, id, finalStatus)

	s.auditor.Log(audit.Entry{
		TraceID:        cc.TraceID,
		UserID:         userID,
		ConversationID: p.ConversationID,
		PlanID:         id,
		Category:       audit.CategoryPlanExecuted,
		Action:         "plan_executed",
		Output:         results,
		Success:        finalStatus == domain.PlanCompleted,
		ErrorMessage:   errDetail,
	})

	return &domain.ExecutionReport{
		PlanID:        id,
		Status:        finalStatus,
		ResultSummary: summary,
		Results:       results,
	}, nil
}

// runAction исполняет один шаг через реестр под производным ключом дедупликации:
// ретрай исполнения плана не продублирует side effect отдельного действия.
func (s *Service) runAction(ctx context.Context, p *domain.Plan, action domain.Action, cc tool.CallContext, previewsOK bool) domain.ActionResult {
	out := domain.ActionResult{ActionID: action.ID, ToolName: action.ToolName}

	if s.executor.RequiresPaymentPreview(action.ToolName) && !previewsOK {
		out.Error = "payment preview is no longer valid"
		return out
	}

	cc.ActionID = action.ID
	derivedKey := fmt.Sprintf("%s_%s", p.ID, action.ID)
	outcome, err := s.dedup.ExecuteWithIdempotency(ctx, p.UserID, action.ToolName, derivedKey, action.Params,
		func(ctx context.Context) idempotency.Response {
			res := s.executor.ExecuteTool(ctx, action.ToolName, action.Params, cc)
			resp := idempotency.Response{
				Success: res.Success,
				Data:    res.Data,
				Error:   res.Error,
			}
			for _, ref := range res.AffectedEntities {
				resp.EntityIDs = append(resp.EntityIDs, ref.ID)
			}
			return resp
		})
	if err != nil {
		if errors.Is(err, domain.ErrKeyConflict) {
			out.Error = err.Error()
			return out
		}
		out.Error = fmt.Sprintf("execution failed: %v", err)
		return out
	}

	out.Success = outcome.Response.Success
	out.Error = outcome.Response.Error
	out.WasIdempotent = outcome.WasIdempotent
	return out
}

func (s *Service) hasPaymentActions(p *domain.Plan) bool {
	for _, a := range p.Actions {
		if a.Kind == domain.KindPaymentCreate || a.Kind == domain.KindPaymentSend {
			return true
		}
	}
	return false
}

// GetPendingPlans — живые планы владельца, новые сверху
func (s *Service) GetPendingPlans(ctx context.Context, userID string) ([]*domain.Plan, error) {
	plans, err := s.repo.ListPending(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("plan: failed to list pending plans: %w", err)
	}
	// Пустой список, а не null
	if plans == nil {
		return []*domain.Plan{}, nil
	}
	return plans, nil
}

// CleanupExpiredPlans — фоновая страховка для планов, которые никто не пытался
// подтвердить (основной путь истечения — внутри ConfirmPlan).
func (s *Service) CleanupExpiredPlans(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("plan: expiry sweep failed: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired plans swept", zap.Int64("count", n))
	}
	return n, nil
}

// ValidatePaymentPreviews — перед исполнением платежных шагов проверяем, что клиент
// каждого превью все еще существует у владельца. Первый пропавший клиент мгновенно
// инвалидирует превью и возвращает false (fail closed).
func (s *Service) ValidatePaymentPreviews(ctx context.Context, planID, userID string) (bool, error) {
	previews, err := s.previews.ListByPlan(ctx, planID)
	if err != nil {
		return false, fmt.Errorf("plan: failed to load previews: %w", err)
	}

	for _, pv := range previews {
		if !pv.Valid {
			return false, nil
		}
		exists, err := s.clients.ClientExists(ctx, pv.ClientID, userID)
		if err != nil {
			return false, fmt.Errorf("plan: client check failed: %w", err)
		}
		if !exists {
			if merr := s.previews.MarkInvalid(ctx, pv.ID); merr != nil {
				s.logger.Error("failed to invalidate preview",
					zap.String("preview_id", pv.ID), zap.Error(merr))
			}
			s.logger.Warn("payment preview invalidated: client vanished",
				zap.String("plan_id", planID),
				zap.String("client_id", pv.ClientID))
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) publish(ctx context.Context, planID string, status domain.PlanStatus) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPlanEvent(ctx, planID, status); err != nil {
		// Сигнал — best effort: подписчики переживут пропуск
		s.logger.Warn("plan event delivery failed",
			zap.String("plan_id", planID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
