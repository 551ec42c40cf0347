// Package upstream is the client for the order-management API the relay
// fronts. It builds the lookup request for the configured strategy, injects
// the access token, bounds the call with a timeout and unwraps the response
// envelope into the bare order object.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dskow/order-relay/internal/apierror"
	"github.com/dskow/order-relay/internal/config"
	"github.com/dskow/order-relay/internal/metrics"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 8 << 20

var (
	// ErrNotFound means the upstream answered but holds no matching order.
	ErrNotFound = errors.New("order not found")
	// ErrTimeout means the upstream did not answer within the configured bound.
	ErrTimeout = errors.New("upstream request timed out")
)

// StatusError is a non-2xx upstream answer. Status is the reason phrase
// without the numeric code, e.g. "Not Found".
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "Shopify API error: " + e.Status
}

// Client looks up single orders. It is safe for concurrent use; the
// underlying connection pool is shared.
type Client struct {
	http        *http.Client
	baseURL     string
	apiVersion  string
	token       string
	tokenHeader string
	strategy    string
	timeout     time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for cfg. cfg is expected to be validated.
func New(cfg config.UpstreamConfig, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion:  cfg.APIVersion,
		token:       cfg.AccessToken,
		tokenHeader: cfg.TokenHeader,
		strategy:    cfg.LookupStrategy,
		timeout:     cfg.Timeout(),
		logger:      logger,
	}
	if c.tokenHeader == "" {
		c.tokenHeader = "X-Shopify-Access-Token"
	}
	if c.strategy == "" {
		c.strategy = config.StrategyByID
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(newTransport())}
	}
	return c
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 20
	t.IdleConnTimeout = 90 * time.Second
	return t
}

// HostPort returns the upstream host:port, for reachability probes.
func (c *Client) HostPort() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// Strategy returns the lookup strategy used for orderID. The auto strategy
// resolves to by_id for all-digit identifiers and by_name_filter otherwise.
func (c *Client) Strategy(orderID string) string {
	if c.strategy != config.StrategyAuto {
		return c.strategy
	}
	if isDigits(orderID) {
		return config.StrategyByID
	}
	return config.StrategyByNameFilter
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Lookup fetches one order and returns its JSON object verbatim. Errors are
// ErrNotFound, ErrTimeout, *StatusError, or a transport/decode error.
func (c *Client) Lookup(ctx context.Context, orderID string) (json.RawMessage, error) {
	strategy := c.Strategy(orderID)
	start := time.Now()

	order, err := c.lookup(ctx, strategy, orderID)

	metrics.UpstreamDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	metrics.UpstreamRequests.WithLabelValues(strategy, Outcome(err)).Inc()
	return order, err
}

func (c *Client) lookup(ctx context.Context, strategy, orderID string) (json.RawMessage, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.orderURL(strategy, orderID), nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set(c.tokenHeader, c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(ctx, callCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck
		return nil, &StatusError{Code: resp.StatusCode, Status: reasonPhrase(resp)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, c.classify(ctx, callCtx, err)
	}
	if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("upstream response exceeds %d bytes", maxBodyBytes)
	}

	return unwrap(strategy, data)
}

// orderURL builds the lookup URL. The identifier is untrusted: it is
// escaped as a path segment or encoded as a query value.
func (c *Client) orderURL(strategy, orderID string) string {
	base := c.baseURL + "/admin/api/" + url.PathEscape(c.apiVersion)
	if strategy == config.StrategyByNameFilter {
		return base + "/orders.json?" + url.Values{"name": {orderID}}.Encode()
	}
	return base + "/orders/" + url.PathEscape(orderID) + ".json"
}

// classify reports ErrTimeout only when our own bound fired; cancellation
// by the caller is returned as-is.
func (c *Client) classify(parent, callCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		c.logger.Warn("upstream timeout", "timeout", c.timeout)
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	return err
}

func reasonPhrase(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// unwrap extracts the order object from the strategy's envelope:
// {"order":{...}} for by_id, {"orders":[...]} for by_name_filter.
func unwrap(strategy string, data []byte) (json.RawMessage, error) {
	if strategy == config.StrategyByNameFilter {
		var env struct {
			Orders []json.RawMessage `json:"orders"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode orders envelope: %w", err)
		}
		if len(env.Orders) == 0 || !isObject(env.Orders[0]) {
			return nil, ErrNotFound
		}
		return env.Orders[0], nil
	}

	var env struct {
		Order json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode order envelope: %w", err)
	}
	if !isObject(env.Order) {
		return nil, ErrNotFound
	}
	return env.Order, nil
}

// isObject reports whether raw is a JSON object. Absent, null and scalar
// envelope values (false, 0, "") all mean no order.
func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// Outcome classifies a Lookup result for metrics and logs: "ok" or an
// apierror code.
func Outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return string(apierror.NotFound)
	case errors.Is(err, ErrTimeout):
		return string(apierror.Timeout)
	case errors.As(err, &se):
		return string(apierror.UpstreamError)
	default:
		return string(apierror.InternalError)
	}
}
