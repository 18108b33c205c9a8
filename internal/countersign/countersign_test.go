package countersign_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/audit"
	"github.com/caseroute/backend/internal/countersign"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/routing"
	"github.com/caseroute/backend/internal/store"
	"github.com/caseroute/backend/internal/store/memory"
)

const luTag = "LU_COUNTER_REQUIRED"

var caseworker = models.Actor{ID: "officer-1", Kind: models.ActorCaseworker}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	st.AddCase(models.Case{ID: "c1", Reference: "GBSIEL/1", Status: models.StatusFinalReviewCountersign, OrgID: "org-1", Tags: []string{luTag, "military"}})
	st.AddAdvice(models.Advice{ID: "a1", CaseID: "c1", Department: "LU", CountersignOrder: 2, CountersignTags: []string{luTag}})
	st.AddAdvice(models.Advice{ID: "a2", CaseID: "c1", Department: "FCDO", CountersignOrder: 1})
	st.AddAdvice(models.Advice{ID: "a3", CaseID: "c1", Department: "MOD"})
	return st
}

func record(t *testing.T, st *memory.Store, order models.CountersignOrder, items ...countersign.Item) ([]models.CountersignDecision, error) {
	t.Helper()
	w := countersign.NewWorkflow(zerolog.Nop())
	var out []models.CountersignDecision
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = w.Record(context.Background(), tx, caseworker, "c1", order, items)
		return err
	})
	return out, err
}

func readCase(t *testing.T, st *memory.Store) (models.Case, []models.AuditEntry, []models.CountersignDecision) {
	t.Helper()
	ctx := context.Background()
	var (
		c         models.Case
		entries   []models.AuditEntry
		decisions []models.CountersignDecision
	)
	require.NoError(t, st.Read(ctx, func(r store.Reader) error {
		var err error
		if c, err = r.GetCase(ctx, "c1"); err != nil {
			return err
		}
		if entries, err = r.ListAudit(ctx, "c1"); err != nil {
			return err
		}
		decisions, err = r.ListCountersignDecisions(ctx, "c1")
		return err
	}))
	return c, entries, decisions
}

func TestRejectionStopsCountersignRouting(t *testing.T) {
	st := seed(t)
	st.AddTeam(models.Team{ID: "lu", Name: "Licensing Unit"})
	st.AddQueue(models.Queue{ID: "lu-countersign", Name: "LU Countersigning", TeamID: "lu"})
	st.AddRule(models.RoutingRule{ID: "r1", TeamID: "lu", Status: models.StatusFinalReviewCountersign, Tier: 1, QueueID: "lu-countersign", Active: true, Tags: []string{luTag}})
	engine := routing.NewEngine(st, st, models.SystemActor("system"), nil, zerolog.Nop())
	ctx := context.Background()
	system := models.SystemActor("system")

	res, err := engine.RouteCase(ctx, "c1", system, true)
	require.NoError(t, err)
	require.Equal(t, []string{"lu-countersign"}, res.Queues)

	_, err = record(t, st, models.CountersignFirst, countersign.Item{AdviceID: "a1", OutcomeAccepted: false, Reasons: "needs rework"})
	require.NoError(t, err)

	c, _, _ := readCase(t, st)
	assert.Equal(t, []string{"military"}, c.Tags)

	res, err = engine.RouteCase(ctx, "c1", system, true)
	require.NoError(t, err)
	assert.Empty(t, res.Queues)
}

func TestRejectionOnlyStripsCaseTags(t *testing.T) {
	st := seed(t)
	st.AddGoods("c1", luTag)
	var logs bytes.Buffer
	w := countersign.NewWorkflow(zerolog.New(&logs))
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx store.Tx) error {
		_, err := w.Record(ctx, tx, caseworker, "c1", models.CountersignFirst,
			[]countersign.Item{{AdviceID: "a1", OutcomeAccepted: false, Reasons: "needs rework"}})
		return err
	})
	require.NoError(t, err)

	c, _, _ := readCase(t, st)
	assert.Equal(t, []string{"military"}, c.Tags)
	require.NoError(t, st.Read(ctx, func(r store.Reader) error {
		src, err := r.TagSources(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, [][]string{{luTag}}, src.Goods)
		return nil
	}))
	assert.Contains(t, logs.String(), "countersign tags still inherited")
	assert.Contains(t, logs.String(), luTag)
}

func TestAcceptanceKeepsTags(t *testing.T) {
	st := seed(t)
	_, err := record(t, st, models.CountersignFirst, countersign.Item{AdviceID: "a1", OutcomeAccepted: true})
	require.NoError(t, err)

	c, _, _ := readCase(t, st)
	assert.Equal(t, []string{luTag, "military"}, c.Tags)
}

func TestOneAuditEntryPerBatch(t *testing.T) {
	st := seed(t)
	decisions, err := record(t, st, models.CountersignFirst,
		countersign.Item{AdviceID: "a1", OutcomeAccepted: true},
		countersign.Item{AdviceID: "a2", OutcomeAccepted: true},
	)
	require.NoError(t, err)
	assert.Len(t, decisions, 2)

	_, entries, stored := readCase(t, st)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.VerbCountersignAdvice, entries[0].Verb)
	assert.Len(t, stored, 2)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Payload, &payload))
	assert.Equal(t, "countersigned all Licensing Unit advice", payload["message"])
}

func TestSecondOrderRequiresFirst(t *testing.T) {
	st := seed(t)
	_, err := record(t, st, models.CountersignSecond, countersign.Item{AdviceID: "a1", OutcomeAccepted: true})
	assert.True(t, apperr.IsValidation(err))

	_, err = record(t, st, models.CountersignFirst, countersign.Item{AdviceID: "a1", OutcomeAccepted: true})
	require.NoError(t, err)
	_, err = record(t, st, models.CountersignSecond, countersign.Item{AdviceID: "a1", OutcomeAccepted: true})
	require.NoError(t, err)

	_, entries, stored := readCase(t, st)
	assert.Len(t, stored, 2)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(entries[len(entries)-1].Payload, &payload))
	assert.Equal(t, "senior countersigned all Licensing Unit advice", payload["message"])
}

func TestSecondOrderOnlyWhereTwoStageIsRequired(t *testing.T) {
	st := seed(t)
	_, err := record(t, st, models.CountersignFirst, countersign.Item{AdviceID: "a2", OutcomeAccepted: true})
	require.NoError(t, err)
	_, err = record(t, st, models.CountersignSecond, countersign.Item{AdviceID: "a2", OutcomeAccepted: true})
	assert.True(t, apperr.IsValidation(err))

	_, err = record(t, st, models.CountersignFirst, countersign.Item{AdviceID: "a3", OutcomeAccepted: true})
	assert.True(t, apperr.IsValidation(err))
}

func TestRecordValidatesWholeBatchFirst(t *testing.T) {
	st := seed(t)
	_, err := record(t, st, models.CountersignFirst,
		countersign.Item{AdviceID: "a1", OutcomeAccepted: false, Reasons: "needs rework"},
		countersign.Item{AdviceID: "a2", OutcomeAccepted: false},
	)
	assert.True(t, apperr.IsValidation(err))

	c, entries, stored := readCase(t, st)
	assert.Contains(t, c.Tags, luTag)
	assert.Empty(t, entries)
	assert.Empty(t, stored)

	_, err = record(t, st, models.CountersignFirst, countersign.Item{AdviceID: "nope", OutcomeAccepted: true})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = record(t, st, models.CountersignFirst)
	assert.True(t, apperr.IsValidation(err))

	_, err = record(t, st, "THIRD", countersign.Item{AdviceID: "a1", OutcomeAccepted: true})
	assert.True(t, apperr.IsValidation(err))
}

func TestDecisionIsUpdatedInPlace(t *testing.T) {
	st := seed(t)
	_, err := record(t, st, models.CountersignFirst, countersign.Item{AdviceID: "a2", OutcomeAccepted: false, Reasons: "unclear end use"})
	require.NoError(t, err)
	_, err = record(t, st, models.CountersignFirst, countersign.Item{AdviceID: "a2", OutcomeAccepted: true})
	require.NoError(t, err)

	_, _, stored := readCase(t, st)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].OutcomeAccepted)
}

func TestSatisfied(t *testing.T) {
	st := seed(t)
	ctx := context.Background()
	satisfied := func() bool {
		var ok bool
		require.NoError(t, st.Read(ctx, func(r store.Reader) error {
			var err error
			ok, err = countersign.Satisfied(ctx, r, "c1")
			return err
		}))
		return ok
	}

	assert.False(t, satisfied())
	_, err := record(t, st, models.CountersignFirst,
		countersign.Item{AdviceID: "a1", OutcomeAccepted: true},
		countersign.Item{AdviceID: "a2", OutcomeAccepted: true},
	)
	require.NoError(t, err)
	assert.False(t, satisfied())

	_, err = record(t, st, models.CountersignSecond, countersign.Item{AdviceID: "a1", OutcomeAccepted: true})
	require.NoError(t, err)
	assert.True(t, satisfied())
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "countersigned all Licensing Unit advice", countersign.Message([]string{"LU"}, models.CountersignFirst, true))
	assert.Equal(t, "declined to countersign FCDO recommendations", countersign.Message([]string{"FCDO"}, models.CountersignFirst, false))
	assert.Equal(t, "senior declined to countersign Licensing Unit advice", countersign.Message([]string{"LU"}, models.CountersignSecond, false))
}
