// Package chain provides the blockchain side of the runner: a retrying RPC
// client, the block-height poller behind wait_blocks, and the contract/event
// registry used for event-count assertions.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/channelnet/scenario-runner/pkg/logger"
)

// Default retry configuration for RPC calls.
const (
	RPCDefaultRetryAttempts = 3
	RPCDefaultRetryDelay    = time.Second
	RPCDefaultRetryTimeout  = 10 * time.Second
	RPCDefaultDialTimeout   = 10 * time.Second
)

// RetryConfig controls retry behavior for RPC calls.
type RetryConfig struct {
	Attempts    uint
	Delay       time.Duration
	Timeout     time.Duration
	DialTimeout time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:    RPCDefaultRetryAttempts,
		Delay:       RPCDefaultRetryDelay,
		Timeout:     RPCDefaultRetryTimeout,
		DialTimeout: RPCDefaultDialTimeout,
	}
}

// RPC is the subset of chain operations the runner needs. *Client implements
// it; tests substitute fakes.
type RPC interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Client wraps one or more ethclient endpoints with bounded retries. The
// first endpoint is primary; the rest are tried in order when the primary
// keeps failing.
type Client struct {
	primary     *ethclient.Client
	backups     []*ethclient.Client
	RetryConfig RetryConfig
	lggr        logger.Logger
	chainName   string
	mu          sync.RWMutex
}

var _ RPC = &Client{}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryConfig overrides the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(c *Client) {
		c.RetryConfig = cfg
	}
}

// Dial connects to the given RPC endpoints. At least one endpoint must be
// dialable and healthy (responding to eth_blockNumber) or an error is
// returned.
func Dial(ctx context.Context, chainName string, urls []string, lggr logger.Logger, opts ...ClientOption) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.New("no RPC endpoints provided, need at least one")
	}

	c := &Client{lggr: lggr, chainName: chainName, RetryConfig: defaultRetryConfig()}
	for _, opt := range opts {
		opt(c)
	}

	clients := make([]*ethclient.Client, 0, len(urls))
	for _, url := range urls {
		dialCtx, cancel := context.WithTimeout(ctx, c.RetryConfig.DialTimeout)
		client, err := ethclient.DialContext(dialCtx, url)
		cancel()
		if err != nil {
			lggr.Warnf("failed to dial RPC endpoint %s for chain %s, trying the next one: %v", url, chainName, err)
			continue
		}
		if _, err := client.BlockNumber(ctx); err != nil {
			lggr.Warnf("health check failed for RPC endpoint %s for chain %s, trying the next one: %v", url, chainName, err)
			client.Close()
			continue
		}
		clients = append(clients, client)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no usable RPC endpoints for chain %s", chainName)
	}

	c.primary = clients[0]
	c.backups = clients[1:]

	return c, nil
}

// Close closes all underlying RPC connections.
func (c *Client) Close() {
	for _, client := range c.clients() {
		client.Close()
	}
}

// BlockNumber returns the latest observed block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.withRetry(ctx, "BlockNumber", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		height, err = client.BlockNumber(ctx)

		return err
	})

	return height, err
}

// FilterLogs queries event logs matching q.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, "FilterLogs", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		logs, err = client.FilterLogs(ctx, q)

		return err
	})

	return logs, err
}

// SuggestGasPrice returns the chain's suggested gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.withRetry(ctx, "SuggestGasPrice", func(ctx context.Context, client *ethclient.Client) error {
		var err error
		price, err = client.SuggestGasPrice(ctx)

		return err
	})

	return price, err
}

// withRetry runs op against the primary endpoint with bounded retries,
// falling back to each backup in turn when all attempts fail.
func (c *Client) withRetry(ctx context.Context, opName string, op func(context.Context, *ethclient.Client) error) error {
	var lastErr error
	for i, client := range c.clients() {
		err := retry.Do(func() error {
			opCtx, cancel := ensureTimeout(ctx, c.RetryConfig.Timeout)
			defer cancel()

			return op(opCtx, client)
		},
			retry.Context(ctx),
			retry.Attempts(c.RetryConfig.Attempts),
			retry.Delay(c.RetryConfig.Delay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				c.lggr.Warnw("RPC call failed, retrying", "chain", c.chainName, "op", opName, "endpoint", i, "attempt", n+1, "error", err)
			}),
		)
		if err == nil {
			return nil
		}
		lastErr = err
		c.lggr.Infow("RPC endpoint exhausted retries, trying next", "chain", c.chainName, "op", opName, "endpoint", i)
	}

	return fmt.Errorf("all RPC endpoints failed for chain %s op %s: %w", c.chainName, opName, lastErr)
}

func (c *Client) clients() []*ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]*ethclient.Client{c.primary}, c.backups...)
}

// ensureTimeout derives a context with the given timeout unless the parent
// already carries a deadline.
func ensureTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := parent.Deadline(); hasDeadline {
		return context.WithCancel(parent)
	}

	return context.WithTimeout(parent, timeout)
}
