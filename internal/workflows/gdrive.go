package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"connsync/internal/connectors"
	"connsync/internal/providers/gdrive"
)

// DriveSyncInput starts or continues a Drive sync. Queue is nil on a fresh
// start and carries the remaining folders across continue-as-new.
type DriveSyncInput struct {
	ConnectorID int64
	SyncStart   time.Time
	Queue       *ScopeQueue
	Synced      int
}

// GoogleDriveSyncWorkflow visits every granted folder and its subfolders one
// listing page at a time, then collects the rows not seen during the run.
// Folder grants added or removed while it runs arrive on the folder_updates
// signal and are applied between folders.
func GoogleDriveSyncWorkflow(ctx workflow.Context, in DriveSyncInput) error {
	r, err := newRun(ctx, in.ConnectorID, StateIdle)
	if err != nil {
		return err
	}
	logger := workflow.GetLogger(ctx)

	if in.Queue == nil {
		if err := r.start(); err != nil {
			return err
		}
		in.SyncStart = workflow.Now(ctx)
		if err := workflow.ExecuteActivity(pageOptions(ctx), a.PopulateDriveCursors, in.ConnectorID).Get(ctx, nil); err != nil {
			return r.fail(err)
		}
		var roots []string
		if err := workflow.ExecuteActivity(pageOptions(ctx), a.DriveFoldersToSync, in.ConnectorID).Get(ctx, &roots); err != nil {
			return r.fail(err)
		}
		in.Queue = NewScopeQueue(roots)
	}

	updates := workflow.GetSignalChannel(ctx, SignalFolderUpdates)
	apply := func(u connectors.ScopeUpdate) error {
		logger.Info("folder scope update", "connector", in.ConnectorID, "folder", u.ID, "action", u.Action)
		return in.Queue.Apply(u.Action, u.ID)
	}

	for {
		r.enter(StateFanOut)
		if err := syncDriveFolders(ctx, r, &in, updates, apply); err != nil {
			return err
		}

		r.enter(StateCleanup)
		for after := int64(0); ; {
			var res connectors.SweepResult
			err := workflow.ExecuteActivity(pageOptions(ctx), a.GarbageCollectDrive, GCInput{
				ConnectorID: in.ConnectorID,
				SyncStart:   in.SyncStart,
				AfterID:     after,
				Batch:       gcBatch,
			}).Get(ctx, &res)
			if err != nil {
				return r.fail(err)
			}
			if !res.More {
				break
			}
			after = res.NextAfterID
		}

		// folders added during the cleanup are synced before finishing
		if err := drain(updates, apply); err != nil {
			return r.fail(err)
		}
		if in.Queue.Len() == 0 {
			return r.succeed()
		}
	}
}

func syncDriveFolders(ctx workflow.Context, r *run, in *DriveSyncInput, updates workflow.ReceiveChannel, apply func(connectors.ScopeUpdate) error) error {
	logger := workflow.GetLogger(ctx)
	for {
		if err := drain(updates, apply); err != nil {
			return r.fail(err)
		}
		folder, ok := in.Queue.Next()
		if !ok {
			break
		}
		for token := ""; ; {
			var page gdrive.PageResult
			err := workflow.ExecuteActivity(pageOptions(ctx), a.SyncDriveFolder, DriveFolderInput{
				ConnectorID: in.ConnectorID,
				FolderID:    folder,
				SyncStart:   in.SyncStart,
				PageToken:   token,
			}).Get(ctx, &page)
			if err != nil {
				return r.fail(err)
			}
			in.Queue.Push(page.Subfolders...)
			if page.NextPageToken == "" {
				break
			}
			token = page.NextPageToken
		}
		in.Synced++
		r.progress(fmt.Sprintf("%d folders synced", in.Synced))

		if workflow.GetInfo(ctx).GetCurrentHistoryLength() > maxHistoryEvents {
			if err := drain(updates, apply); err != nil {
				return r.fail(err)
			}
			logger.Info("continuing as new", "connector", in.ConnectorID, "pending", in.Queue.Len())
			return workflow.NewContinueAsNewError(ctx, GoogleDriveSyncWorkflow, *in)
		}
	}

	return nil
}

// GoogleDriveIncrementalSyncWorkflow applies the changes feed of every drive
// holding a granted root, from the cursor the last run left. Folders that
// entered the scope are then listed in full. Rows are not collected: the
// feed reports deletions itself.
func GoogleDriveIncrementalSyncWorkflow(ctx workflow.Context, in SyncInput) error {
	r, err := newRun(ctx, in.ConnectorID, StateIdle)
	if err != nil {
		return err
	}
	if err := r.start(); err != nil {
		return err
	}
	syncStart := workflow.Now(ctx)

	var drives []string
	if err := workflow.ExecuteActivity(pageOptions(ctx), a.DrivesToSync, in.ConnectorID).Get(ctx, &drives); err != nil {
		return r.fail(err)
	}

	r.enter(StateFanOut)
	var folders []string
	for _, drive := range drives {
		for token := ""; ; {
			var res gdrive.ChangesResult
			err := workflow.ExecuteActivity(pageOptions(ctx), a.SyncDriveChanges, DriveChangesInput{
				ConnectorID: in.ConnectorID,
				DriveID:     drive,
				SyncStart:   syncStart,
				PageToken:   token,
			}).Get(ctx, &res)
			if err != nil {
				return r.fail(err)
			}
			folders = append(folders, res.NewFolders...)
			if res.NextPageToken == "" {
				break
			}
			token = res.NextPageToken
		}
	}

	queue := NewScopeQueue(folders)
	for {
		folder, ok := queue.Next()
		if !ok {
			break
		}
		for token := ""; ; {
			var page gdrive.PageResult
			err := workflow.ExecuteActivity(pageOptions(ctx), a.SyncDriveFolder, DriveFolderInput{
				ConnectorID: in.ConnectorID,
				FolderID:    folder,
				SyncStart:   syncStart,
				PageToken:   token,
			}).Get(ctx, &page)
			if err != nil {
				return r.fail(err)
			}
			queue.Push(page.Subfolders...)
			if page.NextPageToken == "" {
				break
			}
			token = page.NextPageToken
		}
	}
	return r.succeed()
}
