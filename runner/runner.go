// Package runner executes a loaded scenario: it walks the task tree applying
// serial/parallel composition semantics, dispatches typed actions against
// node and chain APIs, and aggregates per-leaf outcomes into a final verdict.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/channelnet/scenario-runner/chain"
	"github.com/channelnet/scenario-runner/pkg/logger"
	"github.com/channelnet/scenario-runner/scenario"
)

// Group kinds used in reports.
const (
	kindSerial   = "serial"
	kindParallel = "parallel"
)

// Runner walks the task tree of a scenario. Serial groups fail fast: the
// first failing child aborts the remainder of the group, and unstarted tasks
// are reported as skipped. Parallel groups always run every child to
// completion and fail on the conjunction of their results. Cancellation is
// cooperative; a failure stops scheduling new tasks but never interrupts an
// in-flight sibling.
type Runner struct {
	rc       *RunContext
	handlers map[scenario.Kind]HandlerFunc
	reporter Reporter
	lggr     logger.Logger
}

// New creates a Runner over the given run context.
func New(rc *RunContext, reporter Reporter, lggr logger.Logger) *Runner {
	return &Runner{
		rc:       rc,
		handlers: defaultHandlers(),
		reporter: reporter,
		lggr:     lggr,
	}
}

// Run executes the scenario's task tree and returns the aggregated summary.
// The returned error is the first failure encountered (per group semantics),
// nil when every leaf passed.
func (r *Runner) Run(ctx context.Context, sc *scenario.Scenario) (Summary, error) {
	r.lggr.Infow("Running scenario", "version", sc.Version, "nodes", sc.Nodes.Count)
	out := r.runNode(ctx, sc.Root)

	reports, err := r.reporter.GetReports()
	if err != nil {
		return Summary{}, fmt.Errorf("collect reports: %w", err)
	}
	summary := Summarize(reports)
	r.lggr.Infow("Scenario finished", "summary", summary.String())

	return summary, out.err
}

// outcome propagates a subtree result upward together with the subtree's
// report ID for child linking.
type outcome struct {
	status   Status
	err      error
	reportID string
}

func (o outcome) failed() bool {
	return o.status == StatusFailed || o.status == StatusTimedOut
}

func (r *Runner) runNode(ctx context.Context, n scenario.Node) outcome {
	switch v := n.(type) {
	case *scenario.Serial:
		return r.runSerial(ctx, v)
	case *scenario.Parallel:
		return r.runParallel(ctx, v)
	case *scenario.Leaf:
		return r.runLeaf(ctx, v)
	default:
		err := fmt.Errorf("unknown task node type %T", n)

		return r.record(NewReport(n.Name(), "unknown", StatusFailed, err), time.Now(), err)
	}
}

// runSerial executes children in order, repeating the whole group Repeat
// times. The first failing child aborts the remainder: later children of the
// current iteration are reported skipped and later iterations never start.
func (r *Runner) runSerial(ctx context.Context, g *scenario.Serial) outcome {
	start := time.Now()
	var childIDs []string

	for iter := 1; iter <= g.Repeat; iter++ {
		for i, child := range g.Children {
			out := r.runNode(ctx, child)
			childIDs = append(childIDs, out.reportID)
			if !out.failed() {
				continue
			}

			for _, rest := range g.Children[i+1:] {
				childIDs = append(childIDs, r.reportSkipped(rest))
			}
			rep := NewReport(g.TaskName, kindSerial, out.status, out.err, childIDs...)
			rep.Attempts = iter
			rep.FailedAttempt = iter

			return r.record(rep, start, out.err)
		}
	}

	rep := NewReport(g.TaskName, kindSerial, StatusPassed, nil, childIDs...)
	rep.Attempts = g.Repeat

	return r.record(rep, start, nil)
}

// runParallel starts all children concurrently and joins on completion of
// every child. Failures are collected, not short-circuited; the group result
// is the conjunction of the children's results.
func (r *Runner) runParallel(ctx context.Context, g *scenario.Parallel) outcome {
	start := time.Now()
	outs := make([]outcome, len(g.Children))

	var wg sync.WaitGroup
	for i, child := range g.Children {
		wg.Add(1)
		go func(i int, child scenario.Node) {
			defer wg.Done()
			outs[i] = r.runNode(ctx, child)
		}(i, child)
	}
	wg.Wait()

	childIDs := make([]string, 0, len(outs))
	var errs []error
	status := StatusPassed
	for _, out := range outs {
		childIDs = append(childIDs, out.reportID)
		if out.failed() {
			status = StatusFailed
			errs = append(errs, out.err)
		}
	}

	joined := errors.Join(errs...)
	rep := NewReport(g.TaskName, kindParallel, status, joined, childIDs...)

	return r.record(rep, start, joined)
}

// runLeaf invokes the action handler Repeat times in sequence, each
// iteration an independent attempt. A failing iteration is reported once for
// the leaf and stops further iterations.
func (r *Runner) runLeaf(ctx context.Context, leaf *scenario.Leaf) outcome {
	start := time.Now()

	handler, ok := r.handlers[leaf.Kind]
	if !ok {
		err := fmt.Errorf("no handler registered for action kind %q", leaf.Kind)

		return r.record(NewReport(leaf.TaskName, string(leaf.Kind), StatusFailed, err), start, err)
	}

	var err error
	attempts, failedAttempt := 0, 0
	for i := 1; i <= leaf.Repeat; i++ {
		attempts = i
		r.lggr.Infow("Executing action", "kind", leaf.Kind, "attempt", i, "of", leaf.Repeat)
		if err = handler(ctx, r.rc, leaf); err != nil {
			failedAttempt = i
			r.lggr.Warnw("Action failed", "kind", leaf.Kind, "attempt", i, "error", err)

			break
		}
	}

	status := StatusPassed
	if err != nil {
		status = StatusFailed
		if errors.Is(err, chain.ErrWaitTimedOut) || errors.Is(err, context.DeadlineExceeded) {
			status = StatusTimedOut
		}
	}

	rep := NewReport(leaf.TaskName, string(leaf.Kind), status, err)
	rep.Attempts = attempts
	rep.FailedAttempt = failedAttempt

	return r.record(rep, start, err)
}

// reportSkipped records skipped reports for an entire unstarted subtree and
// returns the subtree root's report ID. No handler in a skipped subtree ever
// executes.
func (r *Runner) reportSkipped(n scenario.Node) string {
	var childIDs []string
	switch v := n.(type) {
	case *scenario.Serial:
		for _, c := range v.Children {
			childIDs = append(childIDs, r.reportSkipped(c))
		}
	case *scenario.Parallel:
		for _, c := range v.Children {
			childIDs = append(childIDs, r.reportSkipped(c))
		}
	}

	rep := NewReport(n.Name(), nodeKind(n), StatusSkipped, nil, childIDs...)
	now := time.Now()
	rep.StartedAt = now
	rep.FinishedAt = now
	if err := r.reporter.AddReport(rep); err != nil {
		r.lggr.Errorw("Failed to record skipped report", "name", rep.Name, "error", err)
	}

	return rep.ID
}

// record stamps and stores a report, returning the matching outcome. origErr
// is the unwrapped error propagated upward so errors.Is checks keep working.
func (r *Runner) record(rep Report, start time.Time, origErr error) outcome {
	rep.StartedAt = start
	rep.FinishedAt = time.Now()
	if err := r.reporter.AddReport(rep); err != nil {
		r.lggr.Errorw("Failed to record report", "name", rep.Name, "error", err)
	}

	return outcome{status: rep.Status, err: origErr, reportID: rep.ID}
}

func nodeKind(n scenario.Node) string {
	switch v := n.(type) {
	case *scenario.Serial:
		return kindSerial
	case *scenario.Parallel:
		return kindParallel
	case *scenario.Leaf:
		return string(v.Kind)
	default:
		return "unknown"
	}
}
