package workflows_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"connsync/internal/connectors"
	"connsync/internal/providers/gdrive"
	"connsync/internal/providers/intercom"
	"connsync/internal/providers/warehouse"
	"connsync/internal/providers/zendesk"
	"connsync/internal/workflows"
)

var a *workflows.Activities

const connectorID = int64(1)

func newEnv(t *testing.T, acts *workflows.Activities) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	workflows.RegisterWorkflows(env)
	if acts == nil {
		acts = &workflows.Activities{}
	}
	env.RegisterActivity(acts)
	return env
}

func expectStatus(env *testsuite.TestWorkflowEnvironment, succeed bool) {
	env.OnActivity(a.SyncStarted, mock.Anything, connectorID).Return(nil).Once()
	env.OnActivity(a.ReportInitialSyncProgress, mock.Anything, connectorID, mock.Anything).Return(nil).Maybe()
	if succeed {
		env.OnActivity(a.SyncSucceeded, mock.Anything, connectorID).Return(nil).Once()
	}
}

func finalState(t *testing.T, env *testsuite.TestWorkflowEnvironment) workflows.SyncState {
	t.Helper()
	v, err := env.QueryWorkflow(workflows.QuerySyncState)
	if err != nil {
		t.Fatalf("QueryWorkflow() error = %v", err)
	}
	var s workflows.SyncState
	if err := v.Get(&s); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	return s
}

func requireSucceeded(t *testing.T, env *testsuite.TestWorkflowEnvironment) {
	t.Helper()
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error = %v", err)
	}
	if got := finalState(t, env); got != workflows.StateSucceeded {
		t.Errorf("state = %s, want %s", got, workflows.StateSucceeded)
	}
	env.AssertExpectations(t)
}

func requireFailedWith(t *testing.T, env *testsuite.TestWorkflowEnvironment, reason connectors.ErrorType) {
	t.Helper()
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	err := env.GetWorkflowError()
	if err == nil {
		t.Fatal("workflow succeeded, want failure")
	}
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || appErr.Type() != string(reason) {
		t.Errorf("workflow error = %v, want type %s", err, reason)
	}
	if got := finalState(t, env); got != workflows.StateFailed {
		t.Errorf("state = %s, want %s", got, workflows.StateFailed)
	}
	env.AssertExpectations(t)
}

func permanent(reason connectors.ErrorType) error {
	return temporal.NewNonRetryableApplicationError("boom", string(reason), nil)
}

func TestWarehouseSyncWorkflow(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newEnv(t, nil)
		expectStatus(env, true)
		env.OnActivity(a.SyncWarehouse, mock.Anything, connectorID).Return(warehouse.Result{Tables: 2}, nil).Once()

		env.ExecuteWorkflow(workflows.WarehouseSyncWorkflow, workflows.SyncInput{ConnectorID: connectorID})

		requireSucceeded(t, env)
	})

	t.Run("not read-only revokes then fails", func(t *testing.T) {
		env := newEnv(t, nil)
		expectStatus(env, false)
		env.OnActivity(a.SyncWarehouse, mock.Anything, connectorID).
			Return(warehouse.Result{}, permanent(connectors.ErrorTypeConnectionNotReadOnly)).Once()
		env.OnActivity(a.RevokeWarehouse, mock.Anything, connectorID).Return(3, nil).Once()
		env.OnActivity(a.SyncFailed, mock.Anything, connectorID, string(connectors.ErrorTypeConnectionNotReadOnly)).Return(nil).Once()

		env.ExecuteWorkflow(workflows.WarehouseSyncWorkflow, workflows.SyncInput{ConnectorID: connectorID})

		requireFailedWith(t, env, connectors.ErrorTypeConnectionNotReadOnly)
	})

	t.Run("other failures do not revoke", func(t *testing.T) {
		env := newEnv(t, nil)
		expectStatus(env, false)
		env.OnActivity(a.SyncWarehouse, mock.Anything, connectorID).
			Return(warehouse.Result{}, permanent(connectors.ErrorTypeOAuthTokenRevoked)).Once()
		env.OnActivity(a.SyncFailed, mock.Anything, connectorID, string(connectors.ErrorTypeOAuthTokenRevoked)).Return(nil).Once()

		env.ExecuteWorkflow(workflows.WarehouseSyncWorkflow, workflows.SyncInput{ConnectorID: connectorID})

		requireFailedWith(t, env, connectors.ErrorTypeOAuthTokenRevoked)
	})
}

func folderIs(id, token string) any {
	return mock.MatchedBy(func(in workflows.DriveFolderInput) bool {
		return in.FolderID == id && in.PageToken == token
	})
}

func TestGoogleDriveSyncWorkflow(t *testing.T) {
	t.Run("visits subfolders and pages", func(t *testing.T) {
		env := newEnv(t, nil)
		expectStatus(env, true)
		env.OnActivity(a.PopulateDriveCursors, mock.Anything, connectorID).Return(nil).Once()
		env.OnActivity(a.DriveFoldersToSync, mock.Anything, connectorID).Return([]string{"f1"}, nil).Once()
		env.OnActivity(a.SyncDriveFolder, mock.Anything, folderIs("f1", "")).
			Return(gdrive.PageResult{Subfolders: []string{"f1a"}, NextPageToken: "p2"}, nil).Once()
		env.OnActivity(a.SyncDriveFolder, mock.Anything, folderIs("f1", "p2")).
			Return(gdrive.PageResult{Subfolders: []string{"f1a"}}, nil).Once()
		env.OnActivity(a.SyncDriveFolder, mock.Anything, folderIs("f1a", "")).Return(gdrive.PageResult{}, nil).Once()
		env.OnActivity(a.GarbageCollectDrive, mock.Anything, mock.MatchedBy(func(in workflows.GCInput) bool { return in.AfterID == 0 })).
			Return(connectors.SweepResult{More: true, NextAfterID: 40}, nil).Once()
		env.OnActivity(a.GarbageCollectDrive, mock.Anything, mock.MatchedBy(func(in workflows.GCInput) bool { return in.AfterID == 40 })).
			Return(connectors.SweepResult{}, nil).Once()

		env.ExecuteWorkflow(workflows.GoogleDriveSyncWorkflow, workflows.DriveSyncInput{ConnectorID: connectorID})

		requireSucceeded(t, env)
	})

	t.Run("folder added by signal is synced", func(t *testing.T) {
		env := newEnv(t, nil)
		expectStatus(env, true)
		env.OnActivity(a.PopulateDriveCursors, mock.Anything, connectorID).Return(nil).Once()
		env.OnActivity(a.DriveFoldersToSync, mock.Anything, connectorID).Return([]string{"f1"}, nil).Once()
		env.OnActivity(a.SyncDriveFolder, mock.Anything, folderIs("f1", "")).Return(gdrive.PageResult{}, nil).Once()
		env.OnActivity(a.SyncDriveFolder, mock.Anything, folderIs("f2", "")).Return(gdrive.PageResult{}, nil).Once()
		env.OnActivity(a.GarbageCollectDrive, mock.Anything, mock.Anything).Return(connectors.SweepResult{}, nil)
		env.RegisterDelayedCallback(func() {
			env.SignalWorkflow(workflows.SignalFolderUpdates, []connectors.ScopeUpdate{
				{Type: connectors.ScopeFolder, ID: "f2", Action: connectors.ScopeAdded},
			})
		}, 0)

		env.ExecuteWorkflow(workflows.GoogleDriveSyncWorkflow, workflows.DriveSyncInput{ConnectorID: connectorID})

		requireSucceeded(t, env)
	})

	t.Run("revoked token fails the run", func(t *testing.T) {
		env := newEnv(t, nil)
		expectStatus(env, false)
		env.OnActivity(a.PopulateDriveCursors, mock.Anything, connectorID).Return(nil).Once()
		env.OnActivity(a.DriveFoldersToSync, mock.Anything, connectorID).Return([]string{"f1"}, nil).Once()
		env.OnActivity(a.SyncDriveFolder, mock.Anything, mock.Anything).
			Return(gdrive.PageResult{}, permanent(connectors.ErrorTypeOAuthTokenRevoked)).Once()
		env.OnActivity(a.SyncFailed, mock.Anything, connectorID, string(connectors.ErrorTypeOAuthTokenRevoked)).Return(nil).Once()

		env.ExecuteWorkflow(workflows.GoogleDriveSyncWorkflow, workflows.DriveSyncInput{ConnectorID: connectorID})

		requireFailedWith(t, env, connectors.ErrorTypeOAuthTokenRevoked)
	})
}

func changesOf(drive, token string) any {
	return mock.MatchedBy(func(in workflows.DriveChangesInput) bool {
		return in.DriveID == drive && in.PageToken == token
	})
}

func TestGoogleDriveIncrementalSyncWorkflow(t *testing.T) {
	t.Run("pages every drive then lists new folders", func(t *testing.T) {
		env := newEnv(t, nil)
		expectStatus(env, true)
		env.OnActivity(a.DrivesToSync, mock.Anything, connectorID).Return([]string{"drv", gdrive.UserDrive}, nil).Once()
		env.OnActivity(a.SyncDriveChanges, mock.Anything, changesOf("drv", "")).
			Return(gdrive.ChangesResult{NextPageToken: "c2"}, nil).Once()
		env.OnActivity(a.SyncDriveChanges, mock.Anything, changesOf("drv", "c2")).
			Return(gdrive.ChangesResult{NewFolders: []string{"f6"}}, nil).Once()
		env.OnActivity(a.SyncDriveChanges, mock.Anything, changesOf(gdrive.UserDrive, "")).
			Return(gdrive.ChangesResult{}, nil).Once()
		env.OnActivity(a.SyncDriveFolder, mock.Anything, folderIs("f6", "")).
			Return(gdrive.PageResult{Subfolders: []string{"f7"}}, nil).Once()
		env.OnActivity(a.SyncDriveFolder, mock.Anything, folderIs("f7", "")).Return(gdrive.PageResult{}, nil).Once()

		env.ExecuteWorkflow(workflows.GoogleDriveIncrementalSyncWorkflow, workflows.SyncInput{ConnectorID: connectorID})

		requireSucceeded(t, env)
	})

	t.Run("feed error fails the run", func(t *testing.T) {
		env := newEnv(t, nil)
		expectStatus(env, false)
		env.OnActivity(a.DrivesToSync, mock.Anything, connectorID).Return([]string{gdrive.UserDrive}, nil).Once()
		env.OnActivity(a.SyncDriveChanges, mock.Anything, mock.Anything).
			Return(gdrive.ChangesResult{}, permanent(connectors.ErrorTypeOAuthTokenRevoked)).Once()
		env.OnActivity(a.SyncFailed, mock.Anything, connectorID, string(connectors.ErrorTypeOAuthTokenRevoked)).Return(nil).Once()

		env.ExecuteWorkflow(workflows.GoogleDriveIncrementalSyncWorkflow, workflows.SyncInput{ConnectorID: connectorID})

		requireFailedWith(t, env, connectors.ErrorTypeOAuthTokenRevoked)
	})
}

func TestZendeskSyncWorkflow(t *testing.T) {
	env := newEnv(t, nil)
	expectStatus(env, true)
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	env.OnActivity(a.ZendeskIncrementalStart, mock.Anything, connectorID, mock.Anything).
		Return(workflows.ZendeskStart{Start: start, Incremental: true}, nil).Once()
	env.OnActivity(a.ZendeskBrandsToSync, mock.Anything, connectorID).Return([]int64{1}, nil).Once()
	env.OnActivity(a.SyncZendeskBrand, mock.Anything, mock.MatchedBy(func(in workflows.ZendeskBrandInput) bool {
		return in.BrandID == 1 && in.Incremental && in.Start.Equal(start)
	})).Return(zendesk.BrandResult{Categories: []int64{10}}, nil).Once()
	env.OnActivity(a.SyncZendeskCategoryArticles, mock.Anything, mock.MatchedBy(func(in workflows.ZendeskArticlesInput) bool {
		return in.CategoryID == 10 && in.Cursor == ""
	})).Return(zendesk.ArticlesResult{Next: "c2"}, nil).Once()
	env.OnActivity(a.SyncZendeskCategoryArticles, mock.Anything, mock.MatchedBy(func(in workflows.ZendeskArticlesInput) bool {
		return in.CategoryID == 10 && in.Cursor == "c2"
	})).Return(zendesk.ArticlesResult{}, nil).Once()
	env.OnActivity(a.SyncZendeskIncremental, mock.Anything, mock.Anything).Return(zendesk.IncrementalResult{}, nil).Once()
	env.OnActivity(a.RemoveZendeskForbiddenCategories, mock.Anything, connectorID).Return(0, nil).Once()
	env.OnActivity(a.GarbageCollectZendesk, mock.Anything, connectorID, mock.Anything).Return(connectors.SweepResult{}, nil).Once()
	env.OnActivity(a.RemoveZendeskMissingArticles, mock.Anything, mock.MatchedBy(func(in workflows.GCInput) bool { return in.AfterID == 0 })).
		Return(connectors.SweepResult{More: true, NextAfterID: 9}, nil).Once()
	env.OnActivity(a.RemoveZendeskMissingArticles, mock.Anything, mock.MatchedBy(func(in workflows.GCInput) bool { return in.AfterID == 9 })).
		Return(connectors.SweepResult{}, nil).Once()
	env.OnActivity(a.CommitZendeskCursor, mock.Anything, connectorID, mock.Anything).Return(nil).Once()

	env.ExecuteWorkflow(workflows.ZendeskSyncWorkflow, workflows.SyncInput{ConnectorID: connectorID})

	requireSucceeded(t, env)
}

func TestZendeskSyncWorkflow_FailureSkipsCursor(t *testing.T) {
	env := newEnv(t, nil)
	expectStatus(env, false)
	env.OnActivity(a.ZendeskIncrementalStart, mock.Anything, connectorID, mock.Anything).Return(workflows.ZendeskStart{}, nil).Once()
	env.OnActivity(a.ZendeskBrandsToSync, mock.Anything, connectorID).Return([]int64{1}, nil).Once()
	env.OnActivity(a.SyncZendeskBrand, mock.Anything, mock.Anything).
		Return(zendesk.BrandResult{}, permanent(connectors.ErrorTypeInvalidInternalID)).Once()
	env.OnActivity(a.SyncFailed, mock.Anything, connectorID, string(connectors.ErrorTypeInvalidInternalID)).Return(nil).Once()

	env.ExecuteWorkflow(workflows.ZendeskSyncWorkflow, workflows.SyncInput{ConnectorID: connectorID})

	requireFailedWith(t, env, connectors.ErrorTypeInvalidInternalID)
}

func TestIntercomSyncWorkflow(t *testing.T) {
	env := newEnv(t, nil)
	expectStatus(env, true)
	env.OnActivity(a.IntercomHelpCentersToSync, mock.Anything, connectorID).Return([]string{"1"}, nil).Once()
	env.OnActivity(a.IntercomTeamsToSync, mock.Anything, connectorID).Return([]string{"7"}, nil).Once()
	env.OnActivity(a.SyncIntercomHelpCenter, mock.Anything, connectorID, "1").
		Return(intercom.HelpCenterResult{Collections: []string{"10"}}, nil).Once()
	env.OnActivity(a.SyncIntercomArticles, mock.Anything, mock.MatchedBy(func(in workflows.IntercomArticlesInput) bool {
		return in.CollectionID == "10" && in.Page == 1
	})).Return(intercom.ArticlesResult{NextPage: 2}, nil).Once()
	env.OnActivity(a.SyncIntercomArticles, mock.Anything, mock.MatchedBy(func(in workflows.IntercomArticlesInput) bool {
		return in.CollectionID == "10" && in.Page == 2
	})).Return(intercom.ArticlesResult{}, nil).Once()
	env.OnActivity(a.SyncIntercomTeam, mock.Anything, connectorID, "7").Return(true, nil).Once()
	env.OnActivity(a.SyncIntercomConversations, mock.Anything, mock.Anything).Return(intercom.ConversationsResult{}, nil).Once()
	env.OnActivity(a.RemoveOldIntercomConversations, mock.Anything, connectorID, mock.Anything).Return(3, nil).Once()
	env.OnActivity(a.RemoveOldIntercomConversations, mock.Anything, connectorID, mock.Anything).Return(0, nil).Once()
	env.OnActivity(a.GarbageCollectIntercom, mock.Anything, connectorID, mock.Anything).Return(connectors.SweepResult{}, nil).Once()

	env.ExecuteWorkflow(workflows.IntercomSyncWorkflow, workflows.SyncInput{ConnectorID: connectorID})

	requireSucceeded(t, env)
}

func TestIntercomSyncWorkflow_UngrantedTeamSkipsConversations(t *testing.T) {
	env := newEnv(t, nil)
	expectStatus(env, true)
	env.OnActivity(a.IntercomHelpCentersToSync, mock.Anything, connectorID).Return([]string(nil), nil).Once()
	env.OnActivity(a.IntercomTeamsToSync, mock.Anything, connectorID).Return([]string{"7"}, nil).Once()
	env.OnActivity(a.SyncIntercomTeam, mock.Anything, connectorID, "7").Return(false, nil).Once()
	env.OnActivity(a.RemoveOldIntercomConversations, mock.Anything, connectorID, mock.Anything).Return(0, nil).Once()
	env.OnActivity(a.GarbageCollectIntercom, mock.Anything, connectorID, mock.Anything).Return(connectors.SweepResult{}, nil).Once()

	env.ExecuteWorkflow(workflows.IntercomSyncWorkflow, workflows.SyncInput{ConnectorID: connectorID})

	requireSucceeded(t, env)
}
