package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/orchestraguard-console/internal/domain"
	"github.com/xela07ax/orchestraguard-console/internal/infra"
)

// Сколько тела ответа с ошибкой тащим в текст ошибки.
const maxErrorBody = 512

// APIClient: клиент сервиса анализа политик.
// Каждый вызов идет через лимитер и Circuit Breaker. Повторов нет: refresh повторяет
// вызывающий (или таймер метрик).
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewAPIClient(cfg infra.APIConfig, logger *zap.Logger) *APIClient {
	l := logger.Named("api-client")

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analysis-api",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || clientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &APIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		cb:      cb,
		limiter: rate.NewLimiter(limit, burst),
		logger:  l,
	}
}

// FetchMetrics: GET /metrics, ответ вида {"metrics": {...}}.
func (c *APIClient) FetchMetrics(ctx context.Context) (domain.MetricsSnapshot, error) {
	var envelope struct {
		Metrics *domain.MetricsSnapshot `json:"metrics"`
	}
	body, err := c.do(ctx, http.MethodGet, "/metrics", nil)
	if err != nil {
		return domain.MetricsSnapshot{}, err
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.MetricsSnapshot{}, fmt.Errorf("decode metrics: %w", err)
	}
	if envelope.Metrics == nil {
		return domain.MetricsSnapshot{}, fmt.Errorf("metrics field missing: %w", domain.ErrUnexpectedReply)
	}
	return *envelope.Metrics, nil
}

// AnalyzePolicy: POST /policy/analyze. Ответ со status=error возвращается как есть,
// решение о том, ошибка ли это, принимает вызывающий.
func (c *APIClient) AnalyzePolicy(ctx context.Context, req domain.AnalyzeRequest) (*domain.AnalyzeResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/policy/analyze", req)
	if err != nil {
		return nil, err
	}
	var resp domain.AnalyzeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	return &resp, nil
}

// Intercept пробрасывает запрос агента на POST /intercept без разбора.
func (c *APIClient) Intercept(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodPost, "/intercept", payload)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("intercept: %w", domain.ErrUnexpectedReply)
	}
	return body, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	// 1. Rate Limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	// 2. Circuit Breaker
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, method, path, in)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (c *APIClient) roundTrip(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		raw, ok := in.(json.RawMessage)
		if !ok {
			var err error
			if raw, err = json.Marshal(in); err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	c.logger.Debug("api call",
		zap.String("request_id", reqID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      &StatusError{Code: resp.StatusCode, Body: truncate(body)},
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(body)}
	}
	return body, nil
}

// parseRetryAfter понимает обе формы заголовка: секунды и HTTP-дату.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
