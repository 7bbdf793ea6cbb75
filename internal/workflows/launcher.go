package workflows

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"connsync/internal/connectors"
	"connsync/internal/model"
)

// Launcher starts and signals sync workflows. There is at most one running
// workflow per connector.
type Launcher struct {
	client    client.Client
	db        connectors.Database
	taskQueue string
	cron      string
	logger    connectors.Logger
}

// NewLauncher creates a Launcher. A non-empty cron schedule makes started
// workflows recur.
func NewLauncher(c client.Client, db connectors.Database, taskQueue, cron string, logger connectors.Logger) *Launcher {
	return &Launcher{client: c, db: db, taskQueue: taskQueue, cron: cron, logger: logger}
}

// WorkflowID is the id of the sync workflow of a connector.
func WorkflowID(c *model.Connector) string {
	return fmt.Sprintf("%s-sync-%d", c.Provider, c.ID)
}

// IncrementalWorkflowID is the id of the incremental sync workflow of a
// connector. It runs beside the full sync.
func IncrementalWorkflowID(c *model.Connector) string {
	return fmt.Sprintf("%s-incremental-%d", c.Provider, c.ID)
}

type syncWorkflow struct {
	fn     any
	input  any
	signal string // empty when grants are only read at start
}

func workflowFor(c *model.Connector) (syncWorkflow, error) {
	switch {
	case c.Provider.IsWarehouse():
		return syncWorkflow{fn: WarehouseSyncWorkflow, input: SyncInput{ConnectorID: c.ID}}, nil
	case c.Provider == model.ProviderGoogleDrive:
		return syncWorkflow{fn: GoogleDriveSyncWorkflow, input: DriveSyncInput{ConnectorID: c.ID}, signal: SignalFolderUpdates}, nil
	case c.Provider == model.ProviderZendesk:
		return syncWorkflow{fn: ZendeskSyncWorkflow, input: SyncInput{ConnectorID: c.ID}, signal: SignalBrandUpdates}, nil
	case c.Provider == model.ProviderIntercom:
		return syncWorkflow{fn: IntercomSyncWorkflow, input: SyncInput{ConnectorID: c.ID}, signal: SignalIntercomUpdates}, nil
	}
	return syncWorkflow{}, fmt.Errorf("%w: provider %q", connectors.ErrInvariant, c.Provider)
}

// StartSync starts the sync workflow of c and returns its run id. When one
// is already running, its run id is returned instead.
func (l *Launcher) StartSync(ctx context.Context, c *model.Connector) (string, error) {
	wf, err := workflowFor(c)
	if err != nil {
		return "", err
	}
	run, err := l.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       WorkflowID(c),
		TaskQueue:                l.taskQueue,
		CronSchedule:             l.cron,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, wf.fn, wf.input)
	if err != nil {
		return "", fmt.Errorf("starting %s: %w", WorkflowID(c), err)
	}
	l.logger.Info("sync workflow started", "connector", c.ID, "workflow", run.GetID(), "run", run.GetRunID())
	return run.GetRunID(), nil
}

// StartIncremental starts the incremental sync of c and returns its run id.
// Only Drive connectors have one. When one is already running, its run id
// is returned instead.
func (l *Launcher) StartIncremental(ctx context.Context, c *model.Connector) (string, error) {
	if c.Provider != model.ProviderGoogleDrive {
		return "", fmt.Errorf("%w: provider %q has no incremental sync", connectors.ErrInvariant, c.Provider)
	}
	run, err := l.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       IncrementalWorkflowID(c),
		TaskQueue:                l.taskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, GoogleDriveIncrementalSyncWorkflow, SyncInput{ConnectorID: c.ID})
	if err != nil {
		return "", fmt.Errorf("starting %s: %w", IncrementalWorkflowID(c), err)
	}
	l.logger.Info("incremental workflow started", "connector", c.ID, "workflow", run.GetID(), "run", run.GetRunID())
	return run.GetRunID(), nil
}

// Signal delivers scope updates to the running sync of c. When no sync is
// running the updates are stored as pending scopes and a sync is started,
// which picks them up.
func (l *Launcher) Signal(ctx context.Context, c *model.Connector, updates []connectors.ScopeUpdate) error {
	for _, u := range updates {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	wf, err := workflowFor(c)
	if err != nil {
		return err
	}
	if wf.signal == "" {
		_, err := l.StartSync(ctx, c)
		return err
	}

	err = l.client.SignalWorkflow(ctx, WorkflowID(c), "", wf.signal, updates)
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("signaling %s: %w", WorkflowID(c), err)
	}

	for _, u := range updates {
		if err := l.db.AddPendingScope(ctx, &model.PendingScope{
			ConnectorID: c.ID,
			ScopeType:   u.Type,
			ScopeID:     u.ID,
			Action:      string(u.Action),
		}); err != nil {
			return fmt.Errorf("recording pending scope %s: %w", u.ID, err)
		}
	}
	_, err = l.StartSync(ctx, c)
	return err
}

// State queries the phase of the running sync of c. It reports StateIdle
// when none runs.
func (l *Launcher) State(ctx context.Context, c *model.Connector) (SyncState, error) {
	v, err := l.client.QueryWorkflow(ctx, WorkflowID(c), "", QuerySyncState)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return StateIdle, nil
		}
		return "", fmt.Errorf("querying %s: %w", WorkflowID(c), err)
	}
	var s SyncState
	if err := v.Get(&s); err != nil {
		return "", fmt.Errorf("decoding sync state: %w", err)
	}
	return s, nil
}
