package workflows

import (
	"fmt"
	"strconv"
	"time"

	"go.temporal.io/sdk/workflow"

	"connsync/internal/connectors"
	"connsync/internal/providers/zendesk"
)

type ZendeskGCInput struct {
	ConnectorID int64
	SyncStart   time.Time
}

func childOptions(ctx workflow.Context, suffix string) workflow.Context {
	return workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID + "-" + suffix,
	})
}

// ZendeskSyncWorkflow syncs every brand in a child workflow, collects what
// was not seen, then moves the incremental cursor to the start of the run.
// Brand and help center grants changed while it runs arrive on the
// brand_updates signal.
func ZendeskSyncWorkflow(ctx workflow.Context, in SyncInput) error {
	r, err := newRun(ctx, in.ConnectorID, StateIdle)
	if err != nil {
		return err
	}
	if err := r.start(); err != nil {
		return err
	}
	syncStart := workflow.Now(ctx)

	var start ZendeskStart
	if err := workflow.ExecuteActivity(statusOptions(ctx), a.ZendeskIncrementalStart, in.ConnectorID, syncStart).Get(ctx, &start); err != nil {
		return r.fail(err)
	}
	var brands []int64
	if err := workflow.ExecuteActivity(pageOptions(ctx), a.ZendeskBrandsToSync, in.ConnectorID).Get(ctx, &brands); err != nil {
		return r.fail(err)
	}
	roots := make([]string, 0, len(brands))
	for _, b := range brands {
		roots = append(roots, strconv.FormatInt(b, 10))
	}
	queue := NewScopeQueue(roots)
	updates := workflow.GetSignalChannel(ctx, SignalBrandUpdates)
	apply := func(u connectors.ScopeUpdate) error {
		brandID, err := zendesk.BrandIDOf(in.ConnectorID, u.ID)
		if err != nil {
			return err
		}
		return queue.Apply(u.Action, strconv.FormatInt(brandID, 10))
	}

	r.enter(StateFanOut)
	for synced := 0; ; synced++ {
		if err := drain(updates, apply); err != nil {
			return r.fail(err)
		}
		next, ok := queue.Next()
		if !ok {
			break
		}
		brandID, err := strconv.ParseInt(next, 10, 64)
		if err != nil {
			return r.fail(fmt.Errorf("%w: brand id %q", connectors.ErrInvariant, next))
		}
		err = workflow.ExecuteChildWorkflow(childOptions(ctx, "brand-"+next), ZendeskBrandSyncWorkflow, ZendeskBrandInput{
			ConnectorID: in.ConnectorID,
			BrandID:     brandID,
			Incremental: start.Incremental,
			Start:       start.Start,
		}).Get(ctx, nil)
		if err != nil {
			return r.fail(err)
		}
		r.progress(fmt.Sprintf("%d brands synced", synced+1))
	}

	r.enter(StateCleanup)
	err = workflow.ExecuteChildWorkflow(childOptions(ctx, "gc"), ZendeskGarbageCollectWorkflow, ZendeskGCInput{
		ConnectorID: in.ConnectorID,
		SyncStart:   syncStart,
	}).Get(ctx, nil)
	if err != nil {
		return r.fail(err)
	}
	if err := workflow.ExecuteActivity(statusOptions(ctx), a.CommitZendeskCursor, in.ConnectorID, syncStart).Get(ctx, nil); err != nil {
		return r.fail(err)
	}
	return r.succeed()
}

// ZendeskBrandSyncWorkflow syncs the folders of one brand, lists the
// articles of the categories that need a full listing, then applies the
// incremental export.
func ZendeskBrandSyncWorkflow(ctx workflow.Context, in ZendeskBrandInput) error {
	var brand zendesk.BrandResult
	if err := workflow.ExecuteActivity(heavyOptions(ctx), a.SyncZendeskBrand, in).Get(ctx, &brand); err != nil {
		return err
	}
	for _, cat := range brand.Categories {
		for cursor := ""; ; {
			var page zendesk.ArticlesResult
			err := workflow.ExecuteActivity(pageOptions(ctx), a.SyncZendeskCategoryArticles, ZendeskArticlesInput{
				ConnectorID: in.ConnectorID,
				BrandID:     in.BrandID,
				CategoryID:  cat,
				Cursor:      cursor,
			}).Get(ctx, &page)
			if err != nil {
				return err
			}
			if page.Next == "" {
				break
			}
			cursor = page.Next
		}
	}
	if !in.Incremental {
		return nil
	}
	var res zendesk.IncrementalResult
	return workflow.ExecuteActivity(heavyOptions(ctx), a.SyncZendeskIncremental, in).Get(ctx, &res)
}

// ZendeskGarbageCollectWorkflow removes forbidden categories, unseen
// containers and revoked rows, then checks every tracked article against
// the API in batches.
func ZendeskGarbageCollectWorkflow(ctx workflow.Context, in ZendeskGCInput) error {
	var forbidden int
	if err := workflow.ExecuteActivity(pageOptions(ctx), a.RemoveZendeskForbiddenCategories, in.ConnectorID).Get(ctx, &forbidden); err != nil {
		return err
	}
	var swept connectors.SweepResult
	if err := workflow.ExecuteActivity(heavyOptions(ctx), a.GarbageCollectZendesk, in.ConnectorID, in.SyncStart).Get(ctx, &swept); err != nil {
		return err
	}
	for after := int64(0); ; {
		var res connectors.SweepResult
		err := workflow.ExecuteActivity(pageOptions(ctx), a.RemoveZendeskMissingArticles, GCInput{
			ConnectorID: in.ConnectorID,
			SyncStart:   in.SyncStart,
			AfterID:     after,
			Batch:       gcBatch,
		}).Get(ctx, &res)
		if err != nil {
			return err
		}
		if !res.More {
			return nil
		}
		after = res.NextAfterID
	}
}
