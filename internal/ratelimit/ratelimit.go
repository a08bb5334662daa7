package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/gabrielauvo/autonomo/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FailureCounter — сколько неуспешных операций у пользователя за окно.
// Реализуется Audit Service (countFailedOperations).
type FailureCounter interface {
	CountFailedOperations(ctx context.Context, userID string, window time.Duration) (int, error)
}

// Config — пороги лимитера
type Config struct {
	RequestsPerMinute  int
	Burst              int
	MaxFailuresPerHour int
}

// Limiter ограждает ядро оркестрации двумя гейтами:
//  1. requests-per-minute per-user (token bucket, x/time/rate);
//  2. failed-attempts-per-hour по данным аудита — защита от перебора,
//     когда каждая попытка формально "в лимите", но все они проваливаются.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	failures FailureCounter
	cfg      Config
	logger   *zap.Logger
}

func NewLimiter(cfg Config, failures FailureCounter, logger *zap.Logger) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		failures: failures,
		cfg:      cfg,
		logger:   logger.Named("ratelimit"),
	}
}

func (l *Limiter) bucket(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		b = rate.NewLimiter(rate.Limit(float64(l.cfg.RequestsPerMinute)/60.0), l.cfg.Burst)
		l.buckets[userID] = b
	}
	return b
}

// Allow проверяет оба гейта. Не ждет токен (Allow, не Wait): превышение
// лимита — это ответ 429, а не очередь.
func (l *Limiter) Allow(ctx context.Context, userID string) error {
	if l.cfg.RequestsPerMinute > 0 && !l.bucket(userID).Allow() {
		return domain.ErrRateLimited
	}

	if l.cfg.MaxFailuresPerHour > 0 && l.failures != nil {
		n, err := l.failures.CountFailedOperations(ctx, userID, time.Hour)
		if err != nil {
			// Fail open: недоступность аудита не должна отрезать пользователей
			l.logger.Warn("failure counter unavailable, skipping gate",
				zap.String("user_id", userID), zap.Error(err))
			return nil
		}
		if n >= l.cfg.MaxFailuresPerHour {
			l.logger.Warn("failed-operations gate tripped",
				zap.String("user_id", userID), zap.Int("failures", n))
			return domain.ErrRateLimited
		}
	}

	return nil
}
