package routing

import (
	"context"
	"fmt"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/audit"
	"github.com/caseroute/backend/internal/ledger"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/params"
	"github.com/caseroute/backend/internal/status"
	"github.com/caseroute/backend/internal/store"
)

// MoveForward takes the case off one queue and lets the owning team's next
// tier pick it up. Queues already visited at the current status are not
// offered again. When the case ends up on no queue at all it advances to the
// next status and gets a full routing pass.
func (e *Engine) MoveForward(ctx context.Context, tx store.Tx, caseID, queueID string, actor models.Actor) (Result, error) {
	c, err := tx.GetCase(ctx, caseID)
	if err != nil {
		return Result{}, err
	}
	if status.IsTerminal(c.Status) {
		return Result{}, apperr.Validation("status", "case %s is %s and cannot be moved", c.Reference, c.Status)
	}
	current, err := tx.CaseQueues(ctx, c.ID)
	if err != nil {
		return Result{}, err
	}
	if !contains(current, queueID) {
		return Result{}, fmt.Errorf("case %q on queue %q: %w", c.ID, queueID, apperr.ErrNotFound)
	}
	q, err := tx.GetQueue(ctx, queueID)
	if err != nil {
		return Result{}, err
	}

	if err := e.exitQueue(ctx, tx, c.ID, q.ID, e.now()); err != nil {
		return Result{}, err
	}
	if err := tx.DeleteAssignments(ctx, c.ID, q.ID); err != nil {
		return Result{}, fmt.Errorf("delete assignments: %w", err)
	}
	if err := e.Audit.Emit(ctx, tx, audit.Event{
		CaseID:  c.ID,
		QueueID: q.ID,
		Actor:   actor,
		Verb:    audit.VerbRemoveCaseFromQueue,
		Payload: map[string]any{"queues": []string{q.Name}},
	}); err != nil {
		return Result{}, err
	}

	res := Result{CaseID: c.ID, Status: c.Status, Queues: without(current, q.ID), Iterations: 1}

	src, err := tx.TagSources(ctx, c.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load parameter sources: %w", err)
	}
	set := params.Extract(src)

	teamRules, err := e.Rules.ForTeam(ctx, tx, q.TeamID, c.Status)
	if err != nil {
		return Result{}, err
	}
	if passed, ok := entryTier(teamRules, q.ID, set); ok {
		visited, err := ledger.VisitedSince(ctx, tx, c.ID, c.StatusSeq)
		if err != nil {
			return Result{}, err
		}
		skip := func(r models.RoutingRule) bool {
			return r.Tier <= passed || visited[r.QueueID]
		}
		fired, tier, err := e.applyRules(ctx, tx, c.ID, teamRules, set, skip, &res)
		if err != nil {
			return Result{}, err
		}
		res.Trace = append(res.Trace, TeamEvaluation{TeamID: q.TeamID, Status: c.Status, Tier: tier, Fired: fired})
	}

	remaining, err := tx.CaseQueues(ctx, c.ID)
	if err != nil {
		return Result{}, err
	}
	if len(remaining) > 0 {
		res.Queues = remaining
		res.Routed = true
		return res, nil
	}

	next, ok := status.Next(c.Status)
	if !ok || status.IsTerminal(next) {
		res.Queues = nil
		e.Logger.Info().
			Str("case_id", c.ID).
			Str("status", string(c.Status)).
			Msg("case left on no queue at the end of the workflow")
		return res, nil
	}
	if err := e.advance(ctx, tx, &c, next); err != nil {
		return Result{}, err
	}
	routed, err := e.Route(ctx, tx, c.ID, actor, false)
	if err != nil {
		return Result{}, err
	}
	routed.Advanced = append([]models.Status{next}, routed.Advanced...)
	routed.Iterations += res.Iterations
	routed.Trace = append(res.Trace, routed.Trace...)
	return routed, nil
}

// entryTier is the lowest tier whose rule would have placed the case on
// queueID. ok is false when no active rule of the team targets the queue.
func entryTier(teamRules []models.RoutingRule, queueID string, set params.Set) (int, bool) {
	fallback, found := 0, false
	for _, r := range teamRules {
		if r.QueueID != queueID {
			continue
		}
		if params.FromTags(r.Tags).IsSubsetOf(set) {
			return r.Tier, true
		}
		if !found {
			fallback, found = r.Tier, true
		}
	}
	return fallback, found
}

type BulkSummary struct {
	QueueID   string            `json:"queue_id"`
	Requested int               `json:"requested"`
	Moved     int               `json:"moved"`
	Failed    int               `json:"failed"`
	Failures  map[string]string `json:"failures,omitempty"`
	Results   []Result          `json:"results,omitempty"`
}

// BulkApprove moves each case forward off queueID in its own transaction, so
// one bad case does not hold back the rest. A single rollup audit entry is
// written for the batch.
func (e *Engine) BulkApprove(ctx context.Context, queueID string, caseIDs []string, actor models.Actor) (BulkSummary, error) {
	if len(caseIDs) == 0 {
		return BulkSummary{}, apperr.Validation("case_ids", "at least one case is required")
	}
	var q models.Queue
	if err := e.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		q, err = tx.GetQueue(ctx, queueID)
		return err
	}); err != nil {
		return BulkSummary{}, err
	}

	summary := BulkSummary{QueueID: q.ID}
	seen := map[string]bool{}
	for _, caseID := range caseIDs {
		if seen[caseID] {
			continue
		}
		seen[caseID] = true
		summary.Requested++

		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var res Result
		err := e.Store.WithTx(ctx, func(tx store.Tx) error {
			var err error
			res, err = e.MoveForward(ctx, tx, caseID, q.ID, actor)
			return err
		})
		if err != nil {
			if summary.Failures == nil {
				summary.Failures = map[string]string{}
			}
			summary.Failures[caseID] = err.Error()
			summary.Failed++
			e.Logger.Warn().Err(err).
				Str("case_id", caseID).
				Str("queue_id", q.ID).
				Msg("bulk approval skipped case")
			continue
		}
		summary.Moved++
		summary.Results = append(summary.Results, res)
	}

	if err := e.Store.WithTx(ctx, func(tx store.Tx) error {
		return e.Audit.Emit(ctx, tx, audit.Event{
			QueueID: q.ID,
			Actor:   actor,
			Verb:    audit.VerbBulkApproval,
			Payload: map[string]any{
				"queue":     q.Name,
				"requested": summary.Requested,
				"moved":     summary.Moved,
				"failed":    summary.Failed,
			},
		})
	}); err != nil {
		return summary, err
	}

	e.Metrics.AddBulkApproval("moved", summary.Moved)
	e.Metrics.AddBulkApproval("failed", summary.Failed)
	e.Logger.Info().
		Str("queue_id", q.ID).
		Int("requested", summary.Requested).
		Int("moved", summary.Moved).
		Int("failed", summary.Failed).
		Msg("bulk approval complete")
	return summary, nil
}
