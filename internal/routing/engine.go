// Package routing decides which queues a case sits on and advances its status
// when no rule wants it.
//
// Every pass starts from a clean slate: the case leaves all of its queues,
// its parameter set is computed once, and teams are evaluated in canonical
// order. Within one team only the lowest tier that fired is honoured. When no
// rule fires anywhere the case moves to the next status of the workflow
// sequence and the loop repeats; the sequence is finite and ends in a
// terminal status, which always stops the loop.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/audit"
	"github.com/caseroute/backend/internal/directory"
	"github.com/caseroute/backend/internal/ledger"
	"github.com/caseroute/backend/internal/metrics"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/params"
	"github.com/caseroute/backend/internal/rules"
	"github.com/caseroute/backend/internal/status"
	"github.com/caseroute/backend/internal/store"
)

var tracer = otel.Tracer("github.com/caseroute/backend/internal/routing")

type Engine struct {
	Store     store.Store
	Rules     rules.Store
	Directory directory.Directory
	Audit     *audit.Emitter
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time

	// System is recorded on every queue placement and status advance the
	// engine makes on its own, whoever triggered the pass.
	System models.Actor
}

func NewEngine(st store.Store, dir directory.Directory, system models.Actor, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		Store:     st,
		Directory: dir,
		System:    system,
		Audit:     audit.NewEmitter(logger),
		Metrics:   m,
		Logger:    logger,
		Now:       time.Now,
	}
}

// TeamEvaluation records what one team contributed to a pass.
type TeamEvaluation struct {
	TeamID string        `json:"team_id"`
	Status models.Status `json:"status"`
	Tier   int           `json:"tier,omitempty"`
	Fired  []string      `json:"fired,omitempty"`
}

type Result struct {
	CaseID      string              `json:"case_id"`
	Status      models.Status       `json:"status"`
	Queues      []string            `json:"queues"`
	Assignments []models.Assignment `json:"assignments"`
	Advanced    []models.Status     `json:"advanced,omitempty"`
	Iterations  int                 `json:"iterations"`
	Routed      bool                `json:"routed"`
	Terminal    bool                `json:"terminal"`
	Trace       []TeamEvaluation    `json:"trace,omitempty"`
}

// RouteCase runs one pass in its own transaction.
func (e *Engine) RouteCase(ctx context.Context, caseID string, actor models.Actor, keepStatus bool) (Result, error) {
	var res Result
	err := e.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = e.Route(ctx, tx, caseID, actor, keepStatus)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Route runs one pass inside tx. actor is whoever asked for the pass; the
// entries the pass writes are attributed to e.System. Any error leaves tx to
// be rolled back by its owner; nothing is patched incrementally.
func (e *Engine) Route(ctx context.Context, tx store.Tx, caseID string, actor models.Actor, keepStatus bool) (res Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "routing.route",
		trace.WithAttributes(
			attribute.String("case.id", caseID),
			attribute.Bool("routing.keep_status", keepStatus),
			attribute.String("routing.requested_by", actor.ID),
		),
	)
	defer func() {
		outcome := metrics.OutcomeUnrouted
		switch {
		case err != nil:
			outcome = metrics.OutcomeFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Terminal:
			outcome = metrics.OutcomeTerminal
		case res.Routed:
			outcome = metrics.OutcomeRouted
		}
		span.SetAttributes(attribute.String("routing.outcome", outcome))
		span.End()
		e.Metrics.ObservePass(outcome, start)
	}()

	c, err := tx.GetCase(ctx, caseID)
	if err != nil {
		return Result{}, err
	}
	res = Result{CaseID: c.ID, Status: c.Status}

	if err := e.clear(ctx, tx, c.ID); err != nil {
		return Result{}, err
	}
	if status.IsTerminal(c.Status) {
		res.Terminal = true
		return res, nil
	}

	src, err := tx.TagSources(ctx, c.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load parameter sources: %w", err)
	}
	set := params.Extract(src)

	teams, err := tx.ListTeams(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list teams: %w", err)
	}
	rules.SortTeams(teams)

	for {
		res.Iterations++
		applied, err := e.applyTeams(ctx, tx, c, teams, set, &res)
		if err != nil {
			return Result{}, err
		}
		if applied {
			res.Routed = true
			break
		}
		next, ok := status.Next(c.Status)
		if keepStatus || !ok || status.IsTerminal(next) {
			break
		}
		if err := e.advance(ctx, tx, &c, next); err != nil {
			return Result{}, err
		}
		res.Advanced = append(res.Advanced, next)
	}
	res.Status = c.Status

	if !res.Routed {
		e.Logger.Info().
			Str("case_id", c.ID).
			Str("status", string(c.Status)).
			Int("iterations", res.Iterations).
			Str("requested_by", actor.ID).
			Msg("no routing rule matched; case left unrouted")
	}
	return res, nil
}

func (e *Engine) applyTeams(ctx context.Context, tx store.Tx, c models.Case, teams []models.Team, set params.Set, res *Result) (bool, error) {
	applied := false
	for _, team := range teams {
		teamRules, err := e.Rules.ForTeam(ctx, tx, team.ID, c.Status)
		if err != nil {
			return false, err
		}
		if len(teamRules) == 0 {
			continue
		}
		fired, tier, err := e.applyRules(ctx, tx, c.ID, teamRules, set, nil, res)
		if err != nil {
			return false, err
		}
		res.Trace = append(res.Trace, TeamEvaluation{TeamID: team.ID, Status: c.Status, Tier: tier, Fired: fired})
		if len(fired) > 0 {
			applied = true
		}
	}
	return applied, nil
}

// applyRules walks tier-ordered rules and fires every match until a tier has
// committed; rules of any other tier are then left alone. skip excludes
// rules before matching.
func (e *Engine) applyRules(ctx context.Context, tx store.Tx, caseID string, teamRules []models.RoutingRule, set params.Set, skip func(models.RoutingRule) bool, res *Result) ([]string, int, error) {
	var (
		fired  []string
		tier   int
		locked bool
	)
	for _, r := range teamRules {
		if locked && r.Tier != tier {
			break
		}
		if skip != nil && skip(r) {
			continue
		}
		if !params.FromTags(r.Tags).IsSubsetOf(set) {
			continue
		}
		if err := e.fire(ctx, tx, caseID, r, res); err != nil {
			return nil, 0, err
		}
		fired = append(fired, r.ID)
		locked, tier = true, r.Tier
	}
	return fired, tier, nil
}

func (e *Engine) fire(ctx context.Context, tx store.Tx, caseID string, r models.RoutingRule, res *Result) error {
	now := e.now()
	if !contains(res.Queues, r.QueueID) {
		q, err := tx.GetQueue(ctx, r.QueueID)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if err := tx.AddCaseQueue(ctx, caseID, q.ID); err != nil {
			return fmt.Errorf("add case to queue %s: %w", q.ID, err)
		}
		if _, err := ledger.Open(ctx, tx, caseID, q.ID, e.System, now); err != nil {
			return err
		}
		if err := e.Audit.Emit(ctx, tx, audit.Event{
			CaseID:  caseID,
			QueueID: q.ID,
			Actor:   e.System,
			Verb:    audit.VerbMoveCase,
			Payload: map[string]any{"queues": []string{q.Name}, "rule_id": r.ID, "tier": r.Tier},
		}); err != nil {
			return err
		}
		res.Queues = append(res.Queues, q.ID)
		e.Metrics.IncQueueAddition()
	}

	if r.ReviewerID == nil {
		return nil
	}
	active, err := e.Directory.IsActive(ctx, *r.ReviewerID)
	if err != nil {
		return fmt.Errorf("check reviewer %s: %w", *r.ReviewerID, err)
	}
	if !active {
		e.Logger.Info().
			Str("case_id", caseID).
			Str("rule_id", r.ID).
			Str("reviewer_id", *r.ReviewerID).
			Msg("skipping assignment to inactive reviewer")
		return nil
	}
	a := models.Assignment{CaseID: caseID, QueueID: r.QueueID, ReviewerID: *r.ReviewerID, CreatedAt: now}
	created, err := tx.InsertAssignment(ctx, a)
	if err != nil {
		return fmt.Errorf("assign %s on %s: %w", a.ReviewerID, a.QueueID, err)
	}
	if created {
		res.Assignments = append(res.Assignments, a)
	}
	return nil
}

// clear takes the case off every queue, closing movement records and
// dropping assignments.
func (e *Engine) clear(ctx context.Context, tx store.Tx, caseID string) error {
	now := e.now()
	current, err := tx.CaseQueues(ctx, caseID)
	if err != nil {
		return err
	}
	open, err := ledger.OpenQueues(ctx, tx, caseID)
	if err != nil {
		return err
	}
	for _, q := range union(current, open) {
		if err := e.exitQueue(ctx, tx, caseID, q, now); err != nil {
			return err
		}
	}
	if err := tx.DeleteAssignments(ctx, caseID, ""); err != nil {
		return fmt.Errorf("delete assignments: %w", err)
	}
	return nil
}

func (e *Engine) exitQueue(ctx context.Context, tx store.Tx, caseID, queueID string, at time.Time) error {
	if _, err := ledger.Close(ctx, tx, caseID, queueID, at); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		e.Logger.Warn().
			Str("case_id", caseID).
			Str("queue_id", queueID).
			Msg("queue membership had no open movement record")
	}
	if err := tx.RemoveCaseQueue(ctx, caseID, queueID); err != nil {
		return fmt.Errorf("remove case from queue %s: %w", queueID, err)
	}
	return nil
}

func (e *Engine) advance(ctx context.Context, tx store.Tx, c *models.Case, next models.Status) error {
	seq, err := tx.LatestMovementSeq(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := tx.UpdateCaseStatus(ctx, c.ID, next, seq); err != nil {
		return fmt.Errorf("advance status: %w", err)
	}
	if err := e.Audit.Emit(ctx, tx, audit.Event{
		CaseID:  c.ID,
		Actor:   e.System,
		Verb:    audit.VerbUpdatedStatus,
		Payload: map[string]any{"status": map[string]any{"old": c.Status, "new": next}, "automatic": true},
	}); err != nil {
		return err
	}
	e.Logger.Debug().
		Str("case_id", c.ID).
		Str("from", string(c.Status)).
		Str("to", string(next)).
		Msg("status advanced")
	c.Status, c.StatusSeq = next, seq
	e.Metrics.IncStatusAdvance()
	return nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
