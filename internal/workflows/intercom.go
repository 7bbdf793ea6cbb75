package workflows

import (
	"fmt"

	"go.temporal.io/sdk/workflow"

	"connsync/internal/connectors"
	"connsync/internal/internalid"
	"connsync/internal/providers/intercom"
)

type IntercomHelpCenterInput struct {
	ConnectorID  int64
	HelpCenterID string
}

type IntercomTeamInput struct {
	ConnectorID int64
	TeamID      string
}

// IntercomSyncWorkflow syncs each help center and each granted team in a
// child workflow, then drops conversations past the retention window and
// collects what was not seen. Help center and team grants changed while it
// runs arrive on the intercom_updates signal.
func IntercomSyncWorkflow(ctx workflow.Context, in SyncInput) error {
	r, err := newRun(ctx, in.ConnectorID, StateIdle)
	if err != nil {
		return err
	}
	if err := r.start(); err != nil {
		return err
	}
	syncStart := workflow.Now(ctx)

	var helpCenters, teams []string
	if err := workflow.ExecuteActivity(pageOptions(ctx), a.IntercomHelpCentersToSync, in.ConnectorID).Get(ctx, &helpCenters); err != nil {
		return r.fail(err)
	}
	if err := workflow.ExecuteActivity(pageOptions(ctx), a.IntercomTeamsToSync, in.ConnectorID).Get(ctx, &teams); err != nil {
		return r.fail(err)
	}
	hcQueue, teamQueue := NewScopeQueue(helpCenters), NewScopeQueue(teams)
	updates := workflow.GetSignalChannel(ctx, SignalIntercomUpdates)
	apply := func(u connectors.ScopeUpdate) error {
		switch u.Type {
		case connectors.ScopeHelpCenter:
			id, err := intercom.NativeID(in.ConnectorID, u.ID, internalid.IntercomHelpCenter)
			if err != nil {
				return err
			}
			return hcQueue.Apply(u.Action, id)
		case connectors.ScopeTeam:
			id, err := intercom.NativeID(in.ConnectorID, u.ID, internalid.IntercomTeam)
			if err != nil {
				return err
			}
			return teamQueue.Apply(u.Action, id)
		}
		return fmt.Errorf("%w: intercom scope type %q", connectors.ErrInvariant, u.Type)
	}

	r.enter(StateFanOut)
	for synced := 0; ; synced++ {
		if err := drain(updates, apply); err != nil {
			return r.fail(err)
		}
		if id, ok := hcQueue.Next(); ok {
			err = workflow.ExecuteChildWorkflow(childOptions(ctx, "help-center-"+id), IntercomHelpCenterSyncWorkflow,
				IntercomHelpCenterInput{ConnectorID: in.ConnectorID, HelpCenterID: id}).Get(ctx, nil)
		} else if id, ok := teamQueue.Next(); ok {
			err = workflow.ExecuteChildWorkflow(childOptions(ctx, "team-"+id), IntercomTeamSyncWorkflow,
				IntercomTeamInput{ConnectorID: in.ConnectorID, TeamID: id}).Get(ctx, nil)
		} else {
			break
		}
		if err != nil {
			return r.fail(err)
		}
		r.progress(fmt.Sprintf("%d help centers and teams synced", synced+1))
	}

	r.enter(StateCleanup)
	for {
		var removed int
		if err := workflow.ExecuteActivity(pageOptions(ctx), a.RemoveOldIntercomConversations, in.ConnectorID, gcBatch).Get(ctx, &removed); err != nil {
			return r.fail(err)
		}
		if removed == 0 {
			break
		}
	}
	var swept connectors.SweepResult
	if err := workflow.ExecuteActivity(heavyOptions(ctx), a.GarbageCollectIntercom, in.ConnectorID, syncStart).Get(ctx, &swept); err != nil {
		return r.fail(err)
	}
	return r.succeed()
}

// IntercomHelpCenterSyncWorkflow syncs the collections of a help center and
// then the articles of each in-scope collection page by page.
func IntercomHelpCenterSyncWorkflow(ctx workflow.Context, in IntercomHelpCenterInput) error {
	var hc intercom.HelpCenterResult
	if err := workflow.ExecuteActivity(heavyOptions(ctx), a.SyncIntercomHelpCenter, in.ConnectorID, in.HelpCenterID).Get(ctx, &hc); err != nil {
		return err
	}
	for _, col := range hc.Collections {
		for page := 1; page != 0; {
			var res intercom.ArticlesResult
			err := workflow.ExecuteActivity(pageOptions(ctx), a.SyncIntercomArticles, IntercomArticlesInput{
				ConnectorID:  in.ConnectorID,
				HelpCenterID: in.HelpCenterID,
				CollectionID: col,
				Page:         page,
			}).Get(ctx, &res)
			if err != nil {
				return err
			}
			page = res.NextPage
		}
	}
	return nil
}

// IntercomTeamSyncWorkflow syncs a team folder and its recent conversations.
func IntercomTeamSyncWorkflow(ctx workflow.Context, in IntercomTeamInput) error {
	var ok bool
	if err := workflow.ExecuteActivity(pageOptions(ctx), a.SyncIntercomTeam, in.ConnectorID, in.TeamID).Get(ctx, &ok); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for cursor := ""; ; {
		var res intercom.ConversationsResult
		err := workflow.ExecuteActivity(pageOptions(ctx), a.SyncIntercomConversations, IntercomConversationsInput{
			ConnectorID: in.ConnectorID,
			TeamID:      in.TeamID,
			Cursor:      cursor,
		}).Get(ctx, &res)
		if err != nil {
			return err
		}
		if res.Next == "" {
			return nil
		}
		cursor = res.Next
	}
}
