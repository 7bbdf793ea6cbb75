package workflows

import (
	"go.temporal.io/sdk/workflow"

	"connsync/internal/connectors"
	"connsync/internal/providers/warehouse"
)

// WarehouseSyncWorkflow runs one full pass over a Snowflake or Postgres
// connector. Credentials found able to write revoke everything synced so far
// and fail the run.
func WarehouseSyncWorkflow(ctx workflow.Context, in SyncInput) error {
	r, err := newRun(ctx, in.ConnectorID, StateIdle)
	if err != nil {
		return err
	}
	if err := r.start(); err != nil {
		return err
	}

	r.enter(StateFanOut)
	var res warehouse.Result
	err = workflow.ExecuteActivity(heavyOptions(ctx), a.SyncWarehouse, in.ConnectorID).Get(ctx, &res)
	if err != nil {
		if ErrorType(err) == connectors.ErrorTypeConnectionNotReadOnly {
			r.enter(StateCleanup)
			var revoked int
			if rerr := workflow.ExecuteActivity(heavyOptions(ctx), a.RevokeWarehouse, in.ConnectorID).Get(ctx, &revoked); rerr != nil {
				workflow.GetLogger(ctx).Error("revoking warehouse connector", "connector", in.ConnectorID, "error", rerr)
			}
		}
		return r.fail(err)
	}

	r.enter(StateCleanup)
	workflow.GetLogger(ctx).Info("warehouse synced", "connector", in.ConnectorID, "tables", res.Tables,
		"removed", res.Sweep.Removed, "revoked", res.Sweep.Revoked)
	return r.succeed()
}
