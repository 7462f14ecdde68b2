// Package node talks to the control API of the channel-network nodes under
// test, and resolves the fixed-size endpoint arena the scenario actions
// address by integer index.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-resty/resty/v2"

	"github.com/channelnet/scenario-runner/pkg/logger"
)

// Channel states reported by the node API.
const (
	ChannelStateOpened  = "opened"
	ChannelStateClosed  = "closed"
	ChannelStateSettled = "settled"
)

// ErrChannelNotFound is returned when the node has no channel with the given
// partner on the configured token network.
var ErrChannelNotFound = errors.New("channel not found")

// UnreachableError indicates a control-plane connectivity failure: the
// request never produced an HTTP response.
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("node unreachable at %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from the node control API.
type APIError struct {
	Status int
	Path   string
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node API %s returned %d: %s", e.Path, e.Status, e.Detail)
}

// Channel is the node's view of a payment channel.
type Channel struct {
	ChannelID      uint64 `json:"channel_identifier"`
	TokenAddress   string `json:"token_address"`
	PartnerAddress string `json:"partner_address"`
	State          string `json:"state"`
	TotalDeposit   uint64 `json:"total_deposit"`
	Balance        uint64 `json:"balance"`
	SettleTimeout  uint64 `json:"settle_timeout"`
}

const (
	defaultRequestTimeout = 30 * time.Second

	maxErrorDetail = 512

	// Bounded backoff for read-only calls. Mutating calls are never retried
	// here to avoid duplicate side effects on ambiguous failures.
	readRetryAttempts = 3
	readRetryDelay    = 500 * time.Millisecond
)

// Client talks to a single node's REST control API.
type Client struct {
	baseURL string
	token   string
	rest    *resty.Client
	lggr    logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.rest.SetTimeout(d)
	}
}

// WithHTTPClient substitutes the underlying HTTP client, used by tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.rest = resty.NewWithClient(hc).
			SetBaseURL(c.baseURL).
			SetHeader("Content-Type", "application/json")
	}
}

// NewClient creates a client for the node at baseURL, operating on the token
// network identified by tokenAddress.
func NewClient(baseURL, tokenAddress string, lggr logger.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   tokenAddress,
		lggr:    lggr,
		rest: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultRequestTimeout).
			SetHeader("Content-Type", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the node's control API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Address returns the node's on-chain address. Read-only, retried with
// bounded backoff.
func (c *Client) Address(ctx context.Context) (string, error) {
	var out struct {
		OurAddress string `json:"our_address"`
	}
	err := c.getRetried(ctx, "/api/v1/address", &out)
	if err != nil {
		return "", err
	}

	return out.OurAddress, nil
}

// Version returns the software version the node reports. Read-only, retried
// with bounded backoff.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	err := c.getRetried(ctx, "/api/v1/version", &out)
	if err != nil {
		return "", err
	}

	return out.Version, nil
}

// OpenChannel asks the node to establish and fund a channel with partner to
// totalDeposit. A zero settleTimeout leaves the node's default in place.
func (c *Client) OpenChannel(ctx context.Context, partner string, totalDeposit, settleTimeout uint64) (*Channel, error) {
	body := map[string]any{
		"partner_address": partner,
		"token_address":   c.token,
		"total_deposit":   totalDeposit,
	}
	if settleTimeout > 0 {
		body["settle_timeout"] = settleTimeout
	}

	var ch Channel
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&ch).
		Put("/api/v1/channels")
	if err != nil {
		return nil, &UnreachableError{URL: c.baseURL, Err: err}
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}

	return &ch, nil
}

// ChannelWith returns the node's channel with partner on the configured
// token network. Read-only, retried with bounded backoff; a 404 maps to
// ErrChannelNotFound and is not retried.
func (c *Client) ChannelWith(ctx context.Context, partner string) (*Channel, error) {
	var ch Channel
	path := c.channelPath(partner)
	err := retry.Do(func() error {
		resp, err := c.rest.R().
			SetContext(ctx).
			SetResult(&ch).
			Get(path)
		if err != nil {
			return &UnreachableError{URL: c.baseURL, Err: err}
		}
		if resp.StatusCode() == http.StatusNotFound {
			return retry.Unrecoverable(fmt.Errorf("%w: partner %s", ErrChannelNotFound, partner))
		}
		if resp.IsError() {
			return retry.Unrecoverable(c.apiError(resp))
		}

		return nil
	}, c.readRetryOptions(ctx)...)
	if err != nil {
		return nil, err
	}

	return &ch, nil
}

// CloseChannel requests closure of the channel with partner. Fails when the
// channel does not exist or is not open.
func (c *Client) CloseChannel(ctx context.Context, partner string) (*Channel, error) {
	var ch Channel
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{"state": ChannelStateClosed}).
		SetResult(&ch).
		Patch(c.channelPath(partner))
	if err != nil {
		return nil, &UnreachableError{URL: c.baseURL, Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: partner %s", ErrChannelNotFound, partner)
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}

	return &ch, nil
}

// Pay initiates a payment of amount to target and returns the HTTP status of
// the payment endpoint so callers can compare against an expected status.
// Connectivity failures are surfaced immediately, never retried.
func (c *Client) Pay(ctx context.Context, target string, amount uint64) (int, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{"amount": amount}).
		Post("/api/v1/payments/" + c.token + "/" + target)
	if err != nil {
		return 0, &UnreachableError{URL: c.baseURL, Err: err}
	}

	return resp.StatusCode(), nil
}

func (c *Client) channelPath(partner string) string {
	return "/api/v1/channels/" + c.token + "/" + partner
}

func (c *Client) getRetried(ctx context.Context, path string, out any) error {
	return retry.Do(func() error {
		resp, err := c.rest.R().
			SetContext(ctx).
			SetResult(out).
			Get(path)
		if err != nil {
			return &UnreachableError{URL: c.baseURL, Err: err}
		}
		if resp.IsError() {
			return retry.Unrecoverable(c.apiError(resp))
		}

		return nil
	}, c.readRetryOptions(ctx)...)
}

func (c *Client) readRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(readRetryAttempts),
		retry.Delay(readRetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.lggr.Warnw("Node read failed, retrying", "url", c.baseURL, "attempt", n+1, "error", err)
		}),
	}
}

func (c *Client) apiError(resp *resty.Response) error {
	detail := string(resp.Body())
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail]
	}

	return &APIError{
		Status: resp.StatusCode(),
		Path:   resp.Request.URL,
		Detail: detail,
	}
}
