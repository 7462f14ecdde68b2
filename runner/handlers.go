package runner

import (
	"context"
	"fmt"

	"github.com/channelnet/scenario-runner/chain"
	"github.com/channelnet/scenario-runner/node"
	"github.com/channelnet/scenario-runner/scenario"
	"github.com/channelnet/scenario-runner/verify"
)

// HandlerError is a failed node or chain call: a non-2xx response, an
// unexpected status, or a violated precondition. It surfaces as a failed
// leaf.
type HandlerError struct {
	Kind scenario.Kind
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func handlerErrf(kind scenario.Kind, format string, args ...any) error {
	return &HandlerError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// HandlerFunc executes one leaf action against the run context.
type HandlerFunc func(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error

// defaultHandlers maps every recognized leaf kind to its handler. The set is
// closed; the loader guarantees leaves only carry kinds present here.
func defaultHandlers() map[scenario.Kind]HandlerFunc {
	return map[scenario.Kind]HandlerFunc{
		scenario.KindOpenChannel:      handleOpenChannel,
		scenario.KindTransfer:         handleTransfer,
		scenario.KindCloseChannel:     handleCloseChannel,
		scenario.KindStopNode:         handleStopNode,
		scenario.KindStartNode:        handleStartNode,
		scenario.KindWaitBlocks:       handleWaitBlocks,
		scenario.KindStoreChannelInfo: handleStoreChannelInfo,
		scenario.KindAssert:           handleAssert,
		scenario.KindAssertEvents:     handleAssertEvents,
	}
}

// pair resolves the from/to endpoints of a channel action.
func pair(rc *RunContext, from, to int) (*node.Endpoint, *node.Endpoint, error) {
	f, err := rc.Nodes.Get(from)
	if err != nil {
		return nil, nil, err
	}
	t, err := rc.Nodes.Get(to)
	if err != nil {
		return nil, nil, err
	}

	return f, t, nil
}

func handleOpenChannel(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error {
	p := leaf.Params.(scenario.OpenChannelParams)
	from, to, err := pair(rc, p.From, p.To)
	if err != nil {
		return handlerErrf(leaf.Kind, "%v", err)
	}
	if min := rc.Settings.Token.MinDeposit; min > 0 && p.TotalDeposit < min {
		return handlerErrf(leaf.Kind, "total_deposit %d below configured funding minimum %d", p.TotalDeposit, min)
	}

	ch, err := from.Client.OpenChannel(ctx, to.Address, p.TotalDeposit, p.SettleTimeout)
	if err != nil {
		return &HandlerError{Kind: leaf.Kind, Err: err}
	}
	if ch.TotalDeposit < p.TotalDeposit {
		return handlerErrf(leaf.Kind, "channel funded to %d, requested %d", ch.TotalDeposit, p.TotalDeposit)
	}

	return nil
}

func handleTransfer(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error {
	p := leaf.Params.(scenario.TransferParams)
	from, to, err := pair(rc, p.From, p.To)
	if err != nil {
		return handlerErrf(leaf.Kind, "%v", err)
	}

	status, err := from.Client.Pay(ctx, to.Address, p.Amount)
	if err != nil {
		return &HandlerError{Kind: leaf.Kind, Err: err}
	}
	if p.ExpectedHTTPStatus != 0 {
		if status != p.ExpectedHTTPStatus {
			return handlerErrf(leaf.Kind, "payment returned status %d, expected %d", status, p.ExpectedHTTPStatus)
		}

		return nil
	}
	if status < 200 || status > 299 {
		return handlerErrf(leaf.Kind, "payment returned status %d", status)
	}

	return nil
}

func handleCloseChannel(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error {
	p := leaf.Params.(scenario.CloseChannelParams)
	from, to, err := pair(rc, p.From, p.To)
	if err != nil {
		return handlerErrf(leaf.Kind, "%v", err)
	}

	if _, err := from.Client.CloseChannel(ctx, to.Address); err != nil {
		return &HandlerError{Kind: leaf.Kind, Err: err}
	}

	return nil
}

func handleStopNode(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error {
	p := leaf.Params.(scenario.StopNodeParams)
	if err := rc.Controller.Stop(ctx, p.Index); err != nil {
		return &HandlerError{Kind: leaf.Kind, Err: err}
	}

	return nil
}

func handleStartNode(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error {
	p := leaf.Params.(scenario.StartNodeParams)
	if err := rc.Controller.Start(ctx, p.Index); err != nil {
		return &HandlerError{Kind: leaf.Kind, Err: err}
	}

	return nil
}

func handleWaitBlocks(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error {
	p := leaf.Params.(scenario.WaitBlocksParams)

	return rc.Poller.WaitBlocks(ctx, p.Count)
}

func handleStoreChannelInfo(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error {
	p := leaf.Params.(scenario.StoreChannelInfoParams)
	from, to, err := pair(rc, p.From, p.To)
	if err != nil {
		return handlerErrf(leaf.Kind, "%v", err)
	}

	ch, err := from.Client.ChannelWith(ctx, to.Address)
	if err != nil {
		return &HandlerError{Kind: leaf.Kind, Err: err}
	}
	rc.StoreChannel(p.Key, StoredChannel{
		ChannelID:      ch.ChannelID,
		TokenAddress:   ch.TokenAddress,
		From:           p.From,
		To:             p.To,
		FromAddress:    from.Address,
		PartnerAddress: to.Address,
	})

	return nil
}

func handleAssert(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error {
	p := leaf.Params.(scenario.AssertParams)
	from, to, err := pair(rc, p.From, p.To)
	if err != nil {
		return handlerErrf(leaf.Kind, "%v", err)
	}

	ch, err := from.Client.ChannelWith(ctx, to.Address)
	if err != nil {
		return &HandlerError{Kind: leaf.Kind, Err: err}
	}

	subject := fmt.Sprintf("channel %d->%d", p.From, p.To)

	return verify.Channel(subject, verify.ChannelExpectation{
		TotalDeposit: p.TotalDeposit,
		Balance:      p.Balance,
		State:        p.State,
	}, ch)
}

func handleAssertEvents(ctx context.Context, rc *RunContext, leaf *scenario.Leaf) error {
	p := leaf.Params.(scenario.AssertEventsParams)
	contract, event, err := rc.Contracts.Resolve(p.Contract, p.Event)
	if err != nil {
		return handlerErrf(leaf.Kind, "%v", err)
	}

	head, err := rc.Chain.BlockNumber(ctx)
	if err != nil {
		return &HandlerError{Kind: leaf.Kind, Err: err}
	}

	from, to := rc.NextEventWindow(p.Contract, p.Event, head)
	count := 0
	if from <= to {
		count, err = chain.CountEvents(ctx, rc.Chain, contract, event, from, to)
		if err != nil {
			return &HandlerError{Kind: leaf.Kind, Err: err}
		}
	}

	return verify.EventCount(p.Contract, p.Event, p.NumEvents, count)
}
