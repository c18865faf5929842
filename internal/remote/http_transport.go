package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const defaultTransportTimeout = 30 * time.Second

// ServerError is a non-2xx answer from the server.
type ServerError struct {
	Status  int
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: server answered %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("remote: server answered %d %s: %s", e.Status, e.Code, e.Message)
}

// HTTPTransportConfig wires the HTTP transport.
type HTTPTransportConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RetryCount retries calls that failed before reaching the server.
	RetryCount int
	Logger     *zap.Logger
}

// HTTPTransport speaks the JSON API served by internal/server.
type HTTPTransport struct {
	client *resty.Client
	logger *zap.Logger
}

// NewHTTPTransport constructs a resty-backed transport.
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("remote base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTransportTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPTransport{client: client, logger: logger}, nil
}

// SetToken replaces the bearer token sent with every call.
func (t *HTTPTransport) SetToken(token string) {
	t.client.SetAuthToken(token)
}

// Query posts a list query for entityName.
func (t *HTTPTransport) Query(ctx context.Context, entityName string, request api.QueryRequest) (api.QueryResponse, error) {
	var response api.QueryResponse
	if err := t.post(ctx, "/api/queries/"+url.PathEscape(entityName), request, &response); err != nil {
		return api.QueryResponse{}, err
	}
	return response, nil
}

// Mutate posts one mutation.
func (t *HTTPTransport) Mutate(ctx context.Context, operation string, request api.MutationRequest) (api.MutationResponse, error) {
	var response api.MutationResponse
	if err := t.post(ctx, "/api/mutations/"+url.PathEscape(operation), request, &response); err != nil {
		return api.MutationResponse{}, err
	}
	return response, nil
}

// Ping calls the health endpoint.
func (t *HTTPTransport) Ping(ctx context.Context) error {
	resp, err := t.client.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return &ServerError{Status: resp.StatusCode(), Code: "health.unavailable"}
	}
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, path string, body any, result any) error {
	var failure api.ErrorResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&failure).
		Post(path)
	if err != nil {
		t.logger.Warn("remote call failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	if resp.IsError() {
		t.logger.Warn("remote call rejected",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("code", failure.Code))
		return &ServerError{Status: resp.StatusCode(), Code: failure.Code, Message: failure.Message}
	}
	return nil
}
