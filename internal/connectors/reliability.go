package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliableGateway оборачивает платежный шлюз в контур надежности:
// rate limiter -> circuit breaker -> retries с таймаутом на попытку.
// Ядро не моделирует собственные таймауты — они живут здесь, на границе I/O.
type ReliableGateway struct {
	next    PaymentGateway
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableGateway(next PaymentGateway) *ReliableGateway {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Через сколько CB попробует полузакрыться
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся и перестаем мучить провайдера
			return counts.ConsecutiveFailures > 5
		},
	})

	// Провайдеры платежей обычно щедры на лимиты; 50 rps с запасом
	limiter := rate.NewLimiter(rate.Limit(50), 10)

	return &ReliableGateway{next: next, cb: cb, limiter: limiter}
}

func (w *ReliableGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalResp *ChargeResponse

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Провайдер вернул ThrottleError (считал Retry-After) — слушаемся его
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Иначе (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			finalResp, callErr = w.next.CreateCharge(tCtx, req)
			return callErr
		})

		return finalResp, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.(*ChargeResponse), nil
}
