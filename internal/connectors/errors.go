package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited: локальный лимитер не дождался токена до отмены контекста.
var ErrRateLimited = errors.New("connectors: client rate limit exceeded")

// ThrottleError: бэкенд ответил 429. RetryAfter берется из заголовка Retry-After.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// StatusError: любой другой не-2xx ответ.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// clientError: ошибки 4xx (кроме 429) не означают, что бэкенд лежит.
func clientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}
