package workflows

import (
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"connsync/internal/config"
)

// Dial connects to the Temporal frontend. SDK logs go through logger.
func Dial(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dialing temporal at %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// WorkflowRegistry is the part of a worker or test environment workflows
// are registered on.
type WorkflowRegistry interface {
	RegisterWorkflow(w interface{})
}

// RegisterWorkflows registers every sync workflow and child workflow.
func RegisterWorkflows(r WorkflowRegistry) {
	for _, wf := range []any{
		WarehouseSyncWorkflow,
		GoogleDriveSyncWorkflow,
		GoogleDriveIncrementalSyncWorkflow,
		ZendeskSyncWorkflow,
		ZendeskBrandSyncWorkflow,
		ZendeskGarbageCollectWorkflow,
		IntercomSyncWorkflow,
		IntercomHelpCenterSyncWorkflow,
		IntercomTeamSyncWorkflow,
	} {
		r.RegisterWorkflow(wf)
	}
}

// NewWorker creates a worker polling taskQueue with every workflow and the
// activities of acts registered.
func NewWorker(c client.Client, taskQueue string, maxConcurrentActivities int, acts *Activities) worker.Worker {
	if maxConcurrentActivities <= 0 {
		maxConcurrentActivities = 10
	}
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: maxConcurrentActivities,
	})
	RegisterWorkflows(w)
	w.RegisterActivity(acts)
	return w
}
