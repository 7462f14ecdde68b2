package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/channelnet/scenario-runner/pkg/logger"
)

// Liveness states reported by the cluster manager.
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

// ErrAlreadyInState is returned when a stop or start request targets a node
// that is already in the requested state.
var ErrAlreadyInState = errors.New("node already in target state")

// Controller toggles node liveness. Implementations issue stop/start
// commands; process lifecycle mechanics live behind this boundary.
type Controller interface {
	// Stop stops the node with the given index.
	Stop(ctx context.Context, index int) error
	// Start starts the node with the given index.
	Start(ctx context.Context, index int) error
	// Status returns StateRunning or StateStopped for the node.
	Status(ctx context.Context, index int) (string, error)
}

// UnavailableController rejects every liveness request. It stands in when no
// cluster manager is configured; scenarios without stop_node/start_node never
// notice.
type UnavailableController struct{}

// Stop implements Controller.
func (UnavailableController) Stop(context.Context, int) error {
	return errors.New("no cluster manager configured")
}

// Start implements Controller.
func (UnavailableController) Start(context.Context, int) error {
	return errors.New("no cluster manager configured")
}

// Status implements Controller.
func (UnavailableController) Status(context.Context, int) (string, error) {
	return "", errors.New("no cluster manager configured")
}

// ManagerController drives node liveness through the cluster manager's REST
// API: POST /nodes/{index}/stop, POST /nodes/{index}/start and
// GET /nodes/{index}/status. A 409 from the manager means the node is
// already in the requested state.
type ManagerController struct {
	baseURL string
	rest    *resty.Client
	lggr    logger.Logger
}

// NewManagerController creates a controller for the manager at baseURL.
func NewManagerController(baseURL string, lggr logger.Logger) *ManagerController {
	return &ManagerController{
		baseURL: baseURL,
		lggr:    lggr,
		rest: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultRequestTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Stop implements Controller.
func (c *ManagerController) Stop(ctx context.Context, index int) error {
	return c.post(ctx, index, "stop")
}

// Start implements Controller.
func (c *ManagerController) Start(ctx context.Context, index int) error {
	return c.post(ctx, index, "start")
}

// Status implements Controller.
func (c *ManagerController) Status(ctx context.Context, index int) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/nodes/%d/status", index))
	if err != nil {
		return "", &UnreachableError{URL: c.baseURL, Err: err}
	}
	if resp.IsError() {
		return "", &APIError{Status: resp.StatusCode(), Path: resp.Request.URL, Detail: string(resp.Body())}
	}

	return out.Status, nil
}

func (c *ManagerController) post(ctx context.Context, index int, action string) error {
	start := time.Now()
	resp, err := c.rest.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/nodes/%d/%s", index, action))
	if err != nil {
		return &UnreachableError{URL: c.baseURL, Err: err}
	}
	if resp.StatusCode() == http.StatusConflict {
		return fmt.Errorf("%s node %d: %w", action, index, ErrAlreadyInState)
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Path: resp.Request.URL, Detail: string(resp.Body())}
	}
	c.lggr.Infow("Node liveness toggled", "index", index, "action", action, "took", time.Since(start))

	return nil
}
