package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/audit"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/store"
)

func moveForward(t *testing.T, e *Engine, caseID, queueID string) (Result, error) {
	t.Helper()
	var res Result
	err := e.Store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		res, err = e.MoveForward(context.Background(), tx, caseID, queueID, system)
		return err
	})
	return res, err
}

func TestMoveForwardReevaluatesNextTierOnly(t *testing.T) {
	e, st := newTestEngine(t)
	st.AddReviewer(models.Reviewer{ID: "alice", Active: true})
	st.AddReviewer(models.Reviewer{ID: "bob", Active: true})
	st.AddReviewer(models.Reviewer{ID: "carol", Active: true})
	st.AddRule(withReviewer(rule("r1", teamReception, models.StatusSubmitted, 1, queuePreScreening), "carol"))
	st.AddRule(withReviewer(rule("r2", teamEnforcement, models.StatusSubmitted, 1, queueReview, "military"), "alice"))
	st.AddRule(withReviewer(rule("r3", teamEnforcement, models.StatusSubmitted, 2, queueTriage), "bob"))
	addCase(st, "c1", models.StatusSubmitted, "military")

	_, err := e.RouteCase(context.Background(), "c1", system, false)
	require.NoError(t, err)
	before := read(t, st, "c1")
	require.Equal(t, []string{queueReview, queuePreScreening}, before.Queues)

	exitAt := fixedNow.Add(2 * time.Hour)
	e.Now = func() time.Time { return exitAt }

	res, err := moveForward(t, e, "c1", queueReview)
	require.NoError(t, err)
	assert.True(t, res.Routed)
	assert.Empty(t, res.Advanced)
	assert.ElementsMatch(t, []string{queuePreScreening, queueTriage}, res.Queues)

	snap := read(t, st, "c1")
	assert.Equal(t, models.StatusSubmitted, snap.Case.Status)
	assert.ElementsMatch(t, snap.Queues, snap.OpenQueues)

	var reviewers []string
	for _, a := range snap.Assignments {
		reviewers = append(reviewers, a.ReviewerID)
	}
	assert.ElementsMatch(t, []string{"carol", "bob"}, reviewers)

	byQueue := map[string]models.MovementRecord{}
	for _, m := range snap.Movements {
		if _, ok := byQueue[m.QueueID]; !ok {
			byQueue[m.QueueID] = m
		}
	}
	require.NotNil(t, byQueue[queueReview].ExitedAt)
	assert.Equal(t, exitAt, *byQueue[queueReview].ExitedAt)
	assert.True(t, byQueue[queuePreScreening].Open())
	assert.Equal(t, fixedNow, byQueue[queuePreScreening].EnteredAt)

	assert.Contains(t, verbs(snap.Audit), audit.VerbRemoveCaseFromQueue)
}

func TestMoveForwardSkipsQueuesVisitedAtStatus(t *testing.T) {
	e, st := newTestEngine(t)
	st.AddRule(rule("r1", teamEnforcement, models.StatusSubmitted, 1, queueReview, "military"))
	st.AddRule(rule("r2", teamEnforcement, models.StatusSubmitted, 2, queueReview))
	st.AddRule(rule("r3", teamEnforcement, models.StatusSubmitted, 3, queueTriage))
	addCase(st, "c1", models.StatusSubmitted, "military")

	// Every record shares the same timestamp; the sequence tells them apart.
	_, err := e.RouteCase(context.Background(), "c1", system, false)
	require.NoError(t, err)

	res, err := moveForward(t, e, "c1", queueReview)
	require.NoError(t, err)
	assert.Equal(t, []string{queueTriage}, res.Queues)

	snap := read(t, st, "c1")
	require.Len(t, snap.Movements, 2)
	assert.Equal(t, snap.Movements[0].EnteredAt, snap.Movements[1].EnteredAt)
	assert.Less(t, snap.Movements[0].Seq, snap.Movements[1].Seq)
}

func TestMoveForwardAdvancesWhenNoQueueRemains(t *testing.T) {
	e, st := newTestEngine(t)
	st.AddRule(rule("r1", teamReception, models.StatusSubmitted, 1, queuePreScreening))
	st.AddRule(rule("r2", teamReception, models.StatusInitialChecks, 1, queueChecks))
	addCase(st, "c1", models.StatusSubmitted)

	_, err := e.RouteCase(context.Background(), "c1", system, false)
	require.NoError(t, err)

	res, err := moveForward(t, e, "c1", queuePreScreening)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitialChecks, res.Status)
	assert.Equal(t, []models.Status{models.StatusInitialChecks}, res.Advanced)
	assert.Equal(t, []string{queueChecks}, res.Queues)

	snap := read(t, st, "c1")
	assert.Equal(t, models.StatusInitialChecks, snap.Case.Status)
	assert.Equal(t, int64(1), snap.Case.StatusSeq)
	assert.Equal(t, []string{
		audit.VerbMoveCase,
		audit.VerbRemoveCaseFromQueue,
		audit.VerbUpdatedStatus,
		audit.VerbMoveCase,
	}, verbs(snap.Audit))
}

func TestAutomaticEntriesCarrySystemActor(t *testing.T) {
	e, st := newTestEngine(t)
	st.AddRule(rule("r1", teamReception, models.StatusSubmitted, 1, queuePreScreening))
	st.AddRule(rule("r2", teamReception, models.StatusInitialChecks, 1, queueChecks))
	addCase(st, "c1", models.StatusSubmitted)
	caseworker := models.Actor{ID: "caseworker-7", Kind: models.ActorCaseworker}

	_, err := e.RouteCase(context.Background(), "c1", caseworker, false)
	require.NoError(t, err)
	err = e.Store.WithTx(context.Background(), func(tx store.Tx) error {
		_, err := e.MoveForward(context.Background(), tx, "c1", queuePreScreening, caseworker)
		return err
	})
	require.NoError(t, err)

	snap := read(t, st, "c1")
	require.Len(t, snap.Audit, 4)
	for _, entry := range snap.Audit {
		want := system.ID
		if entry.Verb == audit.VerbRemoveCaseFromQueue {
			want = caseworker.ID
		}
		assert.Equal(t, want, entry.ActorID, entry.Verb)
	}
	for _, m := range snap.Movements {
		assert.Equal(t, system.ID, m.ActorID)
	}
}

func TestMoveForwardRejectsCaseNotOnQueue(t *testing.T) {
	e, st := newTestEngine(t)
	st.AddRule(rule("r1", teamReception, models.StatusSubmitted, 1, queuePreScreening))
	addCase(st, "c1", models.StatusSubmitted)
	_, err := e.RouteCase(context.Background(), "c1", system, false)
	require.NoError(t, err)

	_, err = moveForward(t, e, "c1", queueTriage)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{queuePreScreening}, read(t, st, "c1").Queues)
}

func TestMoveForwardRejectsTerminalCase(t *testing.T) {
	e, st := newTestEngine(t)
	addCase(st, "c1", models.StatusWithdrawn)

	_, err := moveForward(t, e, "c1", queuePreScreening)
	assert.True(t, apperr.IsValidation(err))
}

func TestBulkApprove(t *testing.T) {
	e, st := newTestEngine(t)
	st.AddRule(rule("r1", teamEnforcement, models.StatusSubmitted, 1, queueReview))
	st.AddRule(rule("r2", teamEnforcement, models.StatusSubmitted, 2, queueTriage))
	addCase(st, "c1", models.StatusSubmitted)
	addCase(st, "c2", models.StatusSubmitted)
	ctx := context.Background()
	for _, id := range []string{"c1", "c2"} {
		_, err := e.RouteCase(ctx, id, system, false)
		require.NoError(t, err)
	}

	summary, err := e.BulkApprove(ctx, queueReview, []string{"c1", "c2", "c1", "missing"}, system)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Requested)
	assert.Equal(t, 2, summary.Moved)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Failures, "missing")

	for _, id := range []string{"c1", "c2"} {
		snap := read(t, st, id)
		assert.Equal(t, []string{queueTriage}, snap.Queues)
		assert.Contains(t, verbs(snap.Audit), audit.VerbRemoveCaseFromQueue)
	}
}

func TestBulkApproveValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.BulkApprove(context.Background(), queueReview, nil, system)
	assert.True(t, apperr.IsValidation(err))

	_, err = e.BulkApprove(context.Background(), "no-such-queue", []string{"c1"}, system)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
