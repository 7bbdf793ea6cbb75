// Package workflows runs connector syncs as Temporal workflows.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"connsync/internal/connectors"
)

// Signal and query names.
const (
	SignalFolderUpdates   = "folder_updates"
	SignalBrandUpdates    = "brand_updates"
	SignalIntercomUpdates = "intercom_updates"
	QuerySyncState        = "sync_state"
)

// maxHistoryEvents bounds the history of a Drive run before it continues as new.
const maxHistoryEvents = 4000

// gcBatch is the number of tracking rows examined per collector activity.
const gcBatch = 1024

var nonRetryable = []string{
	string(connectors.ErrorTypeInvalidInternalID),
	string(connectors.ErrorTypeOAuthTokenRevoked),
	string(connectors.ErrorTypeConnectionNotReadOnly),
	string(connectors.ErrorTypeInvariantViolation),
}

func retryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        time.Second,
		BackoffCoefficient:     2,
		MaximumInterval:        5 * time.Minute,
		MaximumAttempts:        10,
		NonRetryableErrorTypes: nonRetryable,
	}
}

// statusOptions is used for bookkeeping activities.
func statusOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         retryPolicy(),
	})
}

// pageOptions is used for activities processing one listing page or batch.
func pageOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Minute,
		RetryPolicy:         retryPolicy(),
	})
}

// heavyOptions is used for activities syncing a whole container at once.
func heavyOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy:         retryPolicy(),
	})
}
