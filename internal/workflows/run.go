package workflows

import (
	"errors"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"connsync/internal/connectors"
)

// a is only used to name activities in workflow code.
var a *Activities

// SyncInput starts the sync of one connector.
type SyncInput struct {
	ConnectorID int64
}

// run tracks the state of one sync workflow execution.
type run struct {
	ctx         workflow.Context
	connectorID int64
	state       SyncState
}

func newRun(ctx workflow.Context, connectorID int64, state SyncState) (*run, error) {
	r := &run{ctx: ctx, connectorID: connectorID, state: state}
	if err := workflow.SetQueryHandler(ctx, QuerySyncState, func() (SyncState, error) {
		return r.state, nil
	}); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *run) enter(s SyncState) {
	workflow.GetLogger(r.ctx).Info("sync state", "connector", r.connectorID, "from", r.state, "to", s)
	r.state = s
}

func (r *run) start() error {
	r.enter(StateDiscovering)
	if err := workflow.ExecuteActivity(statusOptions(r.ctx), a.SyncStarted, r.connectorID).Get(r.ctx, nil); err != nil {
		return r.fail(err)
	}
	return nil
}

func (r *run) succeed() error {
	if err := workflow.ExecuteActivity(statusOptions(r.ctx), a.SyncSucceeded, r.connectorID).Get(r.ctx, nil); err != nil {
		return r.fail(err)
	}
	r.enter(StateSucceeded)
	return nil
}

func (r *run) progress(text string) {
	err := workflow.ExecuteActivity(statusOptions(r.ctx), a.ReportInitialSyncProgress, r.connectorID, text).Get(r.ctx, nil)
	if err != nil {
		workflow.GetLogger(r.ctx).Warn("reporting sync progress", "connector", r.connectorID, "error", err)
	}
}

// fail records the failure on the connector, even when the workflow was
// cancelled, and returns err.
func (r *run) fail(err error) error {
	if r.state == StateFailed {
		return err
	}
	r.enter(StateFailed)
	ctx, _ := workflow.NewDisconnectedContext(r.ctx)
	reason := ErrorType(err)
	if ferr := workflow.ExecuteActivity(statusOptions(ctx), a.SyncFailed, r.connectorID, string(reason)).Get(ctx, nil); ferr != nil {
		workflow.GetLogger(r.ctx).Error("recording sync failure", "connector", r.connectorID, "error", ferr)
	}
	return err
}

// ErrorType returns the reason code carried by an activity or child
// workflow failure.
func ErrorType(err error) connectors.ErrorType {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return connectors.ErrorType(appErr.Type())
	}
	return connectors.ErrorTypeOf(err)
}

// drain applies every buffered scope update without blocking.
func drain(ch workflow.ReceiveChannel, apply func(connectors.ScopeUpdate) error) error {
	for {
		var updates []connectors.ScopeUpdate
		if !ch.ReceiveAsync(&updates) {
			return nil
		}
		for _, u := range updates {
			if err := u.Validate(); err != nil {
				return err
			}
			if err := apply(u); err != nil {
				return err
			}
		}
	}
}
