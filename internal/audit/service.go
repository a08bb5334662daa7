package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Filter — параметры выборки журнала
type Filter struct {
	Category Category
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

func (f Filter) withDefaults() Filter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return f
}

// Store — контракт хранилища журнала: запись пачками, чтение с фильтрами.
// Все выборки скоупятся по user_id.
type Store interface {
	BatchWriter
	FindByUser(ctx context.Context, userID string, f Filter) ([]Entry, error)
	FindByConversation(ctx context.Context, userID, conversationID string, limit int) ([]Entry, error)
	FindByPlan(ctx context.Context, userID, planID string) ([]Entry, error)
	FindByCategories(ctx context.Context, userID string, categories []Category, f Filter) ([]Entry, error)
	CountFailedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Service — фасад аудита: редактирование PII перед персистентностью,
// асинхронная запись через Trail и read-пути для Console/rate limiter.
type Service struct {
	trail  *Trail
	store  Store
	logger *zap.Logger
}

func NewService(trail *Trail, store Store, logger *zap.Logger) *Service {
	return &Service{
		trail:  trail,
		store:  store,
		logger: logger.Named("audit"),
	}
}

// Log редактирует чувствительные поля и ставит запись в очередь на запись.
// Никогда не возвращает ошибку: провал аудита всегда локален.
func (s *Service) Log(e Entry) {
	defer func() {
		// Страховка от паники в редакторе на экзотических payload:
		// аудит не имеет права уронить первичную операцию
		if r := recover(); r != nil {
			s.logger.Error("audit log panic suppressed", zap.Any("panic", r))
		}
	}()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Input = RedactMap(e.Input)
	e.Output = Redact(e.Output)

	s.trail.Log(e)
}

func (s *Service) LogsByUser(ctx context.Context, userID string, f Filter) ([]Entry, error) {
	entries, err := s.store.FindByUser(ctx, userID, f.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("audit: failed to fetch user logs: %w", err)
	}
	return entries, nil
}

func (s *Service) LogsByConversation(ctx context.Context, userID, conversationID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.store.FindByConversation(ctx, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to fetch conversation logs: %w", err)
	}
	return entries, nil
}

func (s *Service) LogsByPlan(ctx context.Context, userID, planID string) ([]Entry, error) {
	entries, err := s.store.FindByPlan(ctx, userID, planID)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to fetch plan logs: %w", err)
	}
	return entries, nil
}

// SecurityLogs — выделенная ИБ-выборка: только блокировки и rate-limit отказы
func (s *Service) SecurityLogs(ctx context.Context, userID string, f Filter) ([]Entry, error) {
	entries, err := s.store.FindByCategories(ctx, userID, securityCategories, f.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("audit: failed to fetch security logs: %w", err)
	}
	return entries, nil
}

// CountFailedOperations — сколько неуспешных операций у пользователя за окно.
// Потребитель — rate limiter (failed-attempts-per-hour гейт).
func (s *Service) CountFailedOperations(ctx context.Context, userID string, window time.Duration) (int, error) {
	n, err := s.store.CountFailedSince(ctx, userID, time.Now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("audit: failed to count failed operations: %w", err)
	}
	return n, nil
}
