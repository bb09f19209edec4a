package booking

import (
	"context"
	"sync"
)

// Flow is one member's in-flight interactive selection. Its context is
// cancelled when a newer flow for the same member supersedes it; waits
// inside the flow should select on Context().Done().
type Flow struct {
	memberID int64
	ctx      context.Context
	cancel   context.CancelFunc
}

// Context returns the flow's cancellation context.
func (f *Flow) Context() context.Context {
	return f.ctx
}

// FlowGuard enforces at most one interactive flow per member. Beginning a
// new flow cancels the superseded one; ending a flow clears the registration
// only if it is still the member's current flow, so a stale completion never
// clobbers a fresher flow.
type FlowGuard struct {
	mu    sync.Mutex
	flows map[int64]*Flow
}

// NewFlowGuard returns an empty guard.
func NewFlowGuard() *FlowGuard {
	return &FlowGuard{flows: make(map[int64]*Flow)}
}

// Begin registers a new flow for the member, cancelling any previous one.
func (g *FlowGuard) Begin(ctx context.Context, memberID int64) *Flow {
	fctx, cancel := context.WithCancel(ctx)
	flow := &Flow{memberID: memberID, ctx: fctx, cancel: cancel}

	g.mu.Lock()
	prev := g.flows[memberID]
	g.flows[memberID] = flow
	g.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return flow
}

// End completes a flow. Safe to call on an already-superseded flow.
func (g *FlowGuard) End(flow *Flow) {
	g.mu.Lock()
	if g.flows[flow.memberID] == flow {
		delete(g.flows, flow.memberID)
	}
	g.mu.Unlock()
	flow.cancel()
}
