package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/config"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/resilience"
)

// Client talks to the RAG backend REST API with rate limiting, retries
// and a circuit breaker.
type Client struct {
	resty   *resty.Client
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	limiter *rate.Limiter
}

// New creates a backend client from configuration.
func New(cfg *config.Config, logger *zap.Logger, metrics *monitoring.Metrics) *Client {
	logger = logging.OrNop(logger).Named("backend")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retry.MaxRetries
	retryClient.RetryWaitMin = cfg.Retry.MinWait.Std()
	retryClient.RetryWaitMax = cfg.Retry.MaxWait.Std()
	retryClient.CheckRetry = retryIdempotent
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = leveledLogger{logger.Sugar()}

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(strings.TrimRight(cfg.Backend.URL, "/")+cfg.Backend.APIPrefix).
		SetTimeout(cfg.Backend.Timeout.Std()).
		SetHeader("User-Agent", cfg.Backend.UserAgent).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	breaker := resilience.New("backend", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     cfg.Retry.BreakerTimeout.Std(),
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Retry.BreakerFailures
		},
		IsFailure: IsServerFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	c := &Client{
		resty:   restyClient,
		breaker: breaker,
		metrics: metrics,
		logger:  logger,
	}
	c.SetRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	return c
}

// SetRateLimit configures outbound requests per second. Zero or less
// removes the limit.
func (c *Client) SetRateLimit(rps float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	if burst <= 0 {
		burst = int(rps) + 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Breaker returns the circuit breaker snapshot.
func (c *Client) Breaker() resilience.Snapshot {
	return c.breaker.Snapshot()
}

type listResponse struct {
	Sessions []session.Summary `json:"sessions"`
}

type browsingRequest struct {
	Scope string `json:"scope"`
}

type browsingResponse struct {
	BrowsingID string `json:"browsing_id"`
}

type triggerResponse struct {
	TaskID string `json:"task_id"`
}

// GetTranscript fetches GET /sessions/{id}.
func (c *Client) GetTranscript(ctx context.Context, sessionID string) (*session.Transcript, error) {
	var transcript session.Transcript
	err := c.do(ctx, "get_transcript", request{
		method: http.MethodGet,
		path:   "/sessions/{id}",
		params: map[string]string{"id": sessionID},
		result: &transcript,
	})
	if err != nil {
		return nil, err
	}
	return &transcript, nil
}

// ListSessions fetches GET /sessions?scope=&browsing_id=.
func (c *Client) ListSessions(ctx context.Context, scope, browsingID string) ([]session.Summary, error) {
	query := map[string]string{"scope": scope}
	if browsingID != "" {
		query["browsing_id"] = browsingID
	}

	var resp listResponse
	err := c.do(ctx, "list_sessions", request{
		method: http.MethodGet,
		path:   "/sessions",
		query:  query,
		result: &resp,
	})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// CreateBrowsingSession calls POST /browsing.
func (c *Client) CreateBrowsingSession(ctx context.Context, scope string) (string, error) {
	var resp browsingResponse
	err := c.do(ctx, "create_browsing", request{
		method: http.MethodPost,
		path:   "/browsing",
		body:   browsingRequest{Scope: scope},
		result: &resp,
	})
	if err != nil {
		return "", err
	}
	if resp.BrowsingID == "" {
		return "", fmt.Errorf("create_browsing: empty browsing_id in response")
	}
	return resp.BrowsingID, nil
}

// AppendMessage calls POST /sessions/{id}/messages.
func (c *Client) AppendMessage(ctx context.Context, sessionID string, msg session.Message) error {
	return c.do(ctx, "append_message", request{
		method: http.MethodPost,
		path:   "/sessions/{id}/messages",
		params: map[string]string{"id": sessionID},
		body:   msg,
	})
}

// SaveSession calls PUT /sessions/{id}.
func (c *Client) SaveSession(ctx context.Context, transcript session.Transcript) error {
	return c.do(ctx, "save_session", request{
		method: http.MethodPut,
		path:   "/sessions/{id}",
		params: map[string]string{"id": transcript.ID},
		body:   transcript,
	})
}

// TriggerGeneration calls POST /generation/{resource} and returns the
// task id of the new run.
func (c *Client) TriggerGeneration(ctx context.Context, resource string) (string, error) {
	var resp triggerResponse
	err := c.do(ctx, "trigger_generation", request{
		method: http.MethodPost,
		path:   "/generation/{resource}",
		params: map[string]string{"resource": resource},
		result: &resp,
	})
	if err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("trigger_generation: empty task_id in response")
	}
	return resp.TaskID, nil
}

// GetStatus fetches GET /status/{resource}.
func (c *Client) GetStatus(ctx context.Context, resource string) (events.Status, error) {
	var status events.Status
	err := c.do(ctx, "get_status", request{
		method: http.MethodGet,
		path:   "/status/{resource}",
		params: map[string]string{"resource": resource},
		result: &status,
	})
	if err != nil {
		return events.Status{}, err
	}
	if status.Resource == "" {
		status.Resource = resource
	}
	return status, nil
}

type request struct {
	method string
	path   string
	params map[string]string
	query  map[string]string
	body   any
	result any
}

// do runs one request through the limiter and breaker and records it.
func (c *Client) do(ctx context.Context, op string, r request) error {
	timer := monitoring.NewTimer(c.metrics, op)

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		c.mu.RLock()
		limiter := c.limiter
		c.mu.RUnlock()

		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit: %w", op, err)
		}

		req := c.resty.R().SetContext(ctx)
		if r.params != nil {
			req.SetPathParams(r.params)
		}
		if r.query != nil {
			req.SetQueryParams(r.query)
		}
		if r.body != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(r.body)
		}
		if r.result != nil {
			req.SetResult(r.result)
		}

		resp, err := req.Execute(r.method, r.path)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if resp.IsError() {
			return &StatusError{
				Op:     op,
				Method: r.method,
				Path:   resp.Request.URL,
				Status: resp.StatusCode(),
				Body:   truncate(resp.String(), 256),
			}
		}
		return nil
	})

	timer.Stop(err)
	if err != nil {
		c.logger.Debug("Backend call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

// retryIdempotent retries transport errors and 5xx responses, except for
// POST requests that reached the server.
func retryIdempotent(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil && resp.Request.Method == http.MethodPost {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}

var (
	_ session.Backend             = (*Client)(nil)
	_ retryablehttp.LeveledLogger = leveledLogger{}
)
