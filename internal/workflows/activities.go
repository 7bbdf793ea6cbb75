package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"connsync/internal/connectors"
	"connsync/internal/model"
	"connsync/internal/providers/gdrive"
	"connsync/internal/providers/intercom"
	"connsync/internal/providers/warehouse"
	"connsync/internal/providers/zendesk"
)

// Dialers open provider clients for a connector.
type Dialers struct {
	Warehouse warehouse.Dialer
	Drive     gdrive.Dialer
	Zendesk   zendesk.Dialer
	Intercom  intercom.Dialer
}

// EnvDialers reads provider credentials from the environment.
func EnvDialers() Dialers {
	return Dialers{
		Warehouse: warehouse.EnvDialer,
		Drive:     gdrive.EnvDialer,
		Zendesk:   zendesk.EnvDialer,
		Intercom:  intercom.EnvDialer,
	}
}

// Activities holds the dependencies of every sync activity. Each exported
// method is registered as an activity under its own name.
type Activities struct {
	DB        connectors.Database
	Status    *connectors.StatusTracker
	Warehouse *warehouse.Syncer
	Drive     *gdrive.Syncer
	Zendesk   *zendesk.Syncer
	Intercom  *intercom.Syncer
	Dialers   Dialers
	Logger    connectors.Logger
}

// activityError tags err with its reason code. Permanent failures are not
// retried.
func activityError(err error) error {
	if err == nil {
		return nil
	}
	typ := string(connectors.ErrorTypeOf(err))
	if connectors.IsPermanent(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), typ, err)
	}
	return temporal.NewApplicationErrorWithCause(err.Error(), typ, err)
}

func (a *Activities) connector(ctx context.Context, id int64) (*model.Connector, error) {
	c, err := a.DB.FindConnector(ctx, id)
	if err != nil {
		return nil, activityError(fmt.Errorf("finding connector %d: %w", id, err))
	}
	if c == nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("connector %d not found", id), string(connectors.ErrorTypeInvariantViolation), connectors.ErrConnectorNotFound)
	}
	return c, nil
}

// Status

func (a *Activities) SyncStarted(ctx context.Context, connectorID int64) error {
	return activityError(a.Status.SyncStarted(ctx, connectorID, activity.GetInfo(ctx).WorkflowExecution.ID))
}

func (a *Activities) SyncSucceeded(ctx context.Context, connectorID int64) error {
	return activityError(a.Status.SyncSucceeded(ctx, connectorID))
}

func (a *Activities) SyncFailed(ctx context.Context, connectorID int64, reason string) error {
	return activityError(a.Status.SyncFailed(ctx, connectorID, connectors.ErrorType(reason)))
}

func (a *Activities) ReportInitialSyncProgress(ctx context.Context, connectorID int64, progress string) error {
	return activityError(a.Status.ReportInitialSyncProgress(ctx, connectorID, progress))
}

// Warehouse

func (a *Activities) SyncWarehouse(ctx context.Context, connectorID int64) (warehouse.Result, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return warehouse.Result{}, err
	}
	client, err := a.Dialers.Warehouse(ctx, c)
	if err != nil {
		return warehouse.Result{}, activityError(fmt.Errorf("dialing warehouse: %w", err))
	}
	defer client.Close()
	res, err := a.Warehouse.Sync(ctx, c, client)
	return res, activityError(err)
}

func (a *Activities) RevokeWarehouse(ctx context.Context, connectorID int64) (int, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return 0, err
	}
	n, err := a.Warehouse.RevokeAll(ctx, c)
	return n, activityError(err)
}

// Google Drive

type DriveFolderInput struct {
	ConnectorID int64
	FolderID    string
	SyncStart   time.Time
	PageToken   string
}

// GCInput selects one collector batch.
type GCInput struct {
	ConnectorID int64
	SyncStart   time.Time
	AfterID     int64
	Batch       int
}

func (a *Activities) DriveFoldersToSync(ctx context.Context, connectorID int64) ([]string, error) {
	ids, err := a.Drive.FoldersToSync(ctx, connectorID)
	return ids, activityError(err)
}

func (a *Activities) SyncDriveFolder(ctx context.Context, in DriveFolderInput) (gdrive.PageResult, error) {
	c, client, err := a.driveClient(ctx, in.ConnectorID)
	if err != nil {
		return gdrive.PageResult{}, err
	}
	res, err := a.Drive.SyncFolderPage(ctx, c, client, in.FolderID, in.SyncStart, in.PageToken)
	return res, activityError(err)
}

func (a *Activities) GarbageCollectDrive(ctx context.Context, in GCInput) (connectors.SweepResult, error) {
	c, err := a.connector(ctx, in.ConnectorID)
	if err != nil {
		return connectors.SweepResult{}, err
	}
	res, err := a.Drive.GarbageCollect(ctx, c, in.SyncStart, in.AfterID, in.Batch)
	return res, activityError(err)
}

type DriveChangesInput struct {
	ConnectorID int64
	DriveID     string
	SyncStart   time.Time
	PageToken   string
}

func (a *Activities) driveClient(ctx context.Context, connectorID int64) (*model.Connector, gdrive.Client, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return nil, nil, err
	}
	client, err := a.Dialers.Drive(ctx, c)
	if err != nil {
		return nil, nil, activityError(fmt.Errorf("dialing drive: %w", err))
	}
	return c, client, nil
}

func (a *Activities) DrivesToSync(ctx context.Context, connectorID int64) ([]string, error) {
	c, client, err := a.driveClient(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	drives, err := a.Drive.DrivesToSync(ctx, c, client)
	return drives, activityError(err)
}

// PopulateDriveCursors records a change token for every drive without one.
func (a *Activities) PopulateDriveCursors(ctx context.Context, connectorID int64) error {
	c, client, err := a.driveClient(ctx, connectorID)
	if err != nil {
		return err
	}
	drives, err := a.Drive.DrivesToSync(ctx, c, client)
	if err != nil {
		return activityError(err)
	}
	return activityError(a.Drive.PopulateCursors(ctx, c, client, drives))
}

func (a *Activities) SyncDriveChanges(ctx context.Context, in DriveChangesInput) (gdrive.ChangesResult, error) {
	c, client, err := a.driveClient(ctx, in.ConnectorID)
	if err != nil {
		return gdrive.ChangesResult{}, err
	}
	res, err := a.Drive.SyncChanges(ctx, c, client, in.DriveID, in.SyncStart, in.PageToken)
	return res, activityError(err)
}

// Zendesk

// ZendeskStart is where the incremental article export of a run begins.
type ZendeskStart struct {
	Start       time.Time
	Incremental bool
}

type ZendeskBrandInput struct {
	ConnectorID int64
	BrandID     int64
	Incremental bool
	Start       time.Time
}

type ZendeskArticlesInput struct {
	ConnectorID int64
	BrandID     int64
	CategoryID  int64
	Cursor      string
}

func (a *Activities) zendeskClient(ctx context.Context, connectorID int64) (*model.Connector, zendesk.Client, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return nil, nil, err
	}
	client, err := a.Dialers.Zendesk(ctx, c)
	if err != nil {
		return nil, nil, activityError(fmt.Errorf("dialing zendesk: %w", err))
	}
	return c, client, nil
}

func (a *Activities) ZendeskIncrementalStart(ctx context.Context, connectorID int64, now time.Time) (ZendeskStart, error) {
	start, ok, err := a.Zendesk.IncrementalStart(ctx, connectorID, now)
	return ZendeskStart{Start: start, Incremental: ok}, activityError(err)
}

func (a *Activities) ZendeskBrandsToSync(ctx context.Context, connectorID int64) ([]int64, error) {
	c, client, err := a.zendeskClient(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	ids, err := a.Zendesk.BrandsToSync(ctx, c, client)
	return ids, activityError(err)
}

func (a *Activities) SyncZendeskBrand(ctx context.Context, in ZendeskBrandInput) (zendesk.BrandResult, error) {
	c, client, err := a.zendeskClient(ctx, in.ConnectorID)
	if err != nil {
		return zendesk.BrandResult{}, err
	}
	res, err := a.Zendesk.SyncBrand(ctx, c, client, in.BrandID, !in.Incremental)
	return res, activityError(err)
}

func (a *Activities) SyncZendeskCategoryArticles(ctx context.Context, in ZendeskArticlesInput) (zendesk.ArticlesResult, error) {
	c, client, err := a.zendeskClient(ctx, in.ConnectorID)
	if err != nil {
		return zendesk.ArticlesResult{}, err
	}
	res, err := a.Zendesk.SyncCategoryArticles(ctx, c, client, in.BrandID, in.CategoryID, in.Cursor)
	return res, activityError(err)
}

func (a *Activities) SyncZendeskIncremental(ctx context.Context, in ZendeskBrandInput) (zendesk.IncrementalResult, error) {
	c, client, err := a.zendeskClient(ctx, in.ConnectorID)
	if err != nil {
		return zendesk.IncrementalResult{}, err
	}
	res, err := a.Zendesk.SyncIncremental(ctx, c, client, in.BrandID, in.Start)
	return res, activityError(err)
}

func (a *Activities) RemoveZendeskForbiddenCategories(ctx context.Context, connectorID int64) (int, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return 0, err
	}
	n, err := a.Zendesk.RemoveForbiddenCategories(ctx, c)
	return n, activityError(err)
}

func (a *Activities) GarbageCollectZendesk(ctx context.Context, connectorID int64, syncStart time.Time) (connectors.SweepResult, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return connectors.SweepResult{}, err
	}
	res, err := a.Zendesk.GarbageCollect(ctx, c, syncStart)
	return res, activityError(err)
}

func (a *Activities) RemoveZendeskMissingArticles(ctx context.Context, in GCInput) (connectors.SweepResult, error) {
	c, client, err := a.zendeskClient(ctx, in.ConnectorID)
	if err != nil {
		return connectors.SweepResult{}, err
	}
	res, err := a.Zendesk.RemoveMissingArticles(ctx, c, client, in.AfterID, in.Batch)
	return res, activityError(err)
}

func (a *Activities) CommitZendeskCursor(ctx context.Context, connectorID int64, syncStart time.Time) error {
	return activityError(a.Zendesk.CommitCursor(ctx, connectorID, syncStart))
}

// Intercom

type IntercomArticlesInput struct {
	ConnectorID  int64
	HelpCenterID string
	CollectionID string
	Page         int
}

type IntercomConversationsInput struct {
	ConnectorID int64
	TeamID      string
	Cursor      string
}

func (a *Activities) intercomClient(ctx context.Context, connectorID int64) (*model.Connector, intercom.Client, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return nil, nil, err
	}
	client, err := a.Dialers.Intercom(ctx, c)
	if err != nil {
		return nil, nil, activityError(fmt.Errorf("dialing intercom: %w", err))
	}
	return c, client, nil
}

func (a *Activities) IntercomHelpCentersToSync(ctx context.Context, connectorID int64) ([]string, error) {
	c, client, err := a.intercomClient(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	ids, err := a.Intercom.HelpCentersToSync(ctx, c, client)
	return ids, activityError(err)
}

func (a *Activities) IntercomTeamsToSync(ctx context.Context, connectorID int64) ([]string, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	ids, err := a.Intercom.TeamsToSync(ctx, c)
	return ids, activityError(err)
}

func (a *Activities) SyncIntercomHelpCenter(ctx context.Context, connectorID int64, helpCenterID string) (intercom.HelpCenterResult, error) {
	c, client, err := a.intercomClient(ctx, connectorID)
	if err != nil {
		return intercom.HelpCenterResult{}, err
	}
	res, err := a.Intercom.SyncHelpCenter(ctx, c, client, helpCenterID)
	return res, activityError(err)
}

func (a *Activities) SyncIntercomArticles(ctx context.Context, in IntercomArticlesInput) (intercom.ArticlesResult, error) {
	c, client, err := a.intercomClient(ctx, in.ConnectorID)
	if err != nil {
		return intercom.ArticlesResult{}, err
	}
	res, err := a.Intercom.SyncCollectionArticles(ctx, c, client, in.HelpCenterID, in.CollectionID, in.Page)
	return res, activityError(err)
}

func (a *Activities) SyncIntercomTeam(ctx context.Context, connectorID int64, teamID string) (bool, error) {
	c, client, err := a.intercomClient(ctx, connectorID)
	if err != nil {
		return false, err
	}
	ok, _, err := a.Intercom.SyncTeam(ctx, c, client, teamID)
	return ok, activityError(err)
}

func (a *Activities) SyncIntercomConversations(ctx context.Context, in IntercomConversationsInput) (intercom.ConversationsResult, error) {
	c, client, err := a.intercomClient(ctx, in.ConnectorID)
	if err != nil {
		return intercom.ConversationsResult{}, err
	}
	res, err := a.Intercom.SyncConversations(ctx, c, client, in.TeamID, in.Cursor)
	return res, activityError(err)
}

func (a *Activities) RemoveOldIntercomConversations(ctx context.Context, connectorID int64, batch int) (int, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return 0, err
	}
	n, err := a.Intercom.RemoveOldConversations(ctx, c, batch)
	return n, activityError(err)
}

func (a *Activities) GarbageCollectIntercom(ctx context.Context, connectorID int64, syncStart time.Time) (connectors.SweepResult, error) {
	c, err := a.connector(ctx, connectorID)
	if err != nil {
		return connectors.SweepResult{}, err
	}
	res, err := a.Intercom.GarbageCollect(ctx, c, syncStart)
	return res, activityError(err)
}
