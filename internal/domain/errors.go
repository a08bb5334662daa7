package domain

import "errors"

// Таксономия ошибок ядра. Важно: not-found и чужой tenant неразличимы снаружи,
// чтобы не утекал сам факт существования сущности.
var (
	ErrNotFound          = errors.New("not found")
	ErrPlanExpired       = errors.New("plan confirmation window has expired")
	ErrAlreadyProcessed  = errors.New("plan already processed")
	ErrInvalidTransition = errors.New("invalid plan status transition")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrSuspended         = errors.New("account suspended")

	// ErrKeyConflict — переиспользование idempotency key с другими параметрами.
	// Это баг вызывающей стороны: отдаем различимую ошибку, а не тихий кэш-хит.
	ErrKeyConflict = errors.New("idempotency key reused with different parameters")
)
