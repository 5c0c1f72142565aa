package strategysvc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/pkg/config"
	xhttp "SignalDesk/pkg/http"

	"golang.org/x/time/rate"
)

// httpBase holds the shared client, base URL and outbound throttle.
type httpBase struct {
	baseURL string
	client  *xhttp.Client
	limiter *rate.Limiter
}

// Option configures Client.
type Option func(*httpBase)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(c *xhttp.Client) Option {
	return func(b *httpBase) { b.client = c }
}

// WithLimiter replaces the outbound rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(b *httpBase) { b.limiter = l }
}

func newHTTPBase(cfg *config.Config, opts ...Option) *httpBase {
	timeout := cfg.StrategyService.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.StrategyService.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.StrategyService.Burst
	if burst < 1 {
		burst = 1
	}
	b := &httpBase{
		baseURL: strings.TrimRight(cfg.StrategyService.BaseURL, "/"),
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// call sends one request and maps every failure to *models.RemoteServiceError.
func (b *httpBase) call(ctx context.Context, op, method, path string, query map[string][]string, body, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return &models.RemoteServiceError{Op: op, Err: errors.New("strategy service client not initialized")}
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return &models.RemoteServiceError{Op: op, Err: fmt.Errorf("throttle: %w", err)}
	}

	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      method,
		URL:         b.baseURL + path,
		Headers:     map[string]string{"Accept": "application/json"},
		QueryParams: query,
		Body:        body,
	}, dest)
	if err != nil {
		re := &models.RemoteServiceError{Op: op, Err: err}
		var se *xhttp.StatusError
		if errors.As(err, &se) {
			re.Status = se.Code
		}
		return re
	}
	return nil
}

func escape(id string) string { return url.PathEscape(id) }
