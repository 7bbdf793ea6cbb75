package connectors

import (
	"context"
	"database/sql"
	"fmt"

	"connsync/internal/model"
)

// StatusTracker records the sync markers polled by the product UI.
type StatusTracker struct {
	db     Database
	clock  Clock
	logger Logger
}

// NewStatusTracker creates a StatusTracker.
func NewStatusTracker(db Database, clock Clock, logger Logger) *StatusTracker {
	return &StatusTracker{db: db, clock: clock, logger: logger}
}

func (s *StatusTracker) load(ctx context.Context, connectorID int64) (*model.Connector, error) {
	c, err := s.db.FindConnector(ctx, connectorID)
	if err != nil {
		return nil, fmt.Errorf("finding connector %d: %w", connectorID, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %d", ErrConnectorNotFound, connectorID)
	}
	return c, nil
}

// SyncStarted marks the beginning of a sync run and opens a history entry.
func (s *StatusTracker) SyncStarted(ctx context.Context, connectorID int64, workflowID string) error {
	c, err := s.load(ctx, connectorID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	c.LastSyncStatus = model.SyncStatusRunning
	c.LastSyncStartTime = sql.NullTime{Time: now, Valid: true}
	if err := s.db.UpdateConnectorSyncStatus(ctx, c); err != nil {
		return fmt.Errorf("recording sync start: %w", err)
	}
	if _, err := s.db.CreateSyncOperation(ctx, &model.SyncOperation{
		ConnectorID: connectorID,
		WorkflowID:  workflowID,
		Operation:   "sync",
		StartedAt:   now,
	}); err != nil {
		return fmt.Errorf("recording sync operation: %w", err)
	}
	s.logger.Info("sync started", "connector", connectorID, "workflow", workflowID)
	return nil
}

// SyncSucceeded marks a successful run.
func (s *StatusTracker) SyncSucceeded(ctx context.Context, connectorID int64) error {
	c, err := s.load(ctx, connectorID)
	if err != nil {
		return err
	}
	now := sql.NullTime{Time: s.clock.Now(), Valid: true}
	c.LastSyncStatus = model.SyncStatusSucceeded
	c.LastSyncFinishTime = now
	c.LastSyncSuccessfulTime = now
	if !c.FirstSuccessfulSyncTime.Valid {
		c.FirstSuccessfulSyncTime = now
	}
	c.FirstSyncProgress = ""
	c.ErrorType = ""
	if err := s.db.UpdateConnectorSyncStatus(ctx, c); err != nil {
		return fmt.Errorf("recording sync success: %w", err)
	}
	if err := s.db.FinishSyncOperations(ctx, connectorID, model.SyncStatusSucceeded, ""); err != nil {
		return fmt.Errorf("closing sync operation: %w", err)
	}
	s.logger.Info("sync succeeded", "connector", connectorID)
	return nil
}

// SyncFailed marks a failed run with a reason code.
func (s *StatusTracker) SyncFailed(ctx context.Context, connectorID int64, reason ErrorType) error {
	c, err := s.load(ctx, connectorID)
	if err != nil {
		return err
	}
	c.LastSyncStatus = model.SyncStatusFailed
	c.LastSyncFinishTime = sql.NullTime{Time: s.clock.Now(), Valid: true}
	c.ErrorType = string(reason)
	if err := s.db.UpdateConnectorSyncStatus(ctx, c); err != nil {
		return fmt.Errorf("recording sync failure: %w", err)
	}
	if err := s.db.FinishSyncOperations(ctx, connectorID, model.SyncStatusFailed, string(reason)); err != nil {
		return fmt.Errorf("closing sync operation: %w", err)
	}
	s.logger.Warn("sync failed", "connector", connectorID, "reason", reason)
	return nil
}

// ReportInitialSyncProgress records progress text until the first success.
func (s *StatusTracker) ReportInitialSyncProgress(ctx context.Context, connectorID int64, progress string) error {
	c, err := s.load(ctx, connectorID)
	if err != nil {
		return err
	}
	if c.FirstSuccessfulSyncTime.Valid {
		return nil
	}
	c.FirstSyncProgress = progress
	if err := s.db.UpdateConnectorSyncStatus(ctx, c); err != nil {
		return fmt.Errorf("recording sync progress: %w", err)
	}
	return nil
}
