package connectors

import (
	"fmt"
	"time"
)

// ThrottleError — провайдер попросил подождать (прочитан Retry-After).
// Ретрай-слой использует подсказку вместо стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
