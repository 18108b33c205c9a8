package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/caseroute/backend/internal/amendment"
	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/audit"
	"github.com/caseroute/backend/internal/countersign"
	"github.com/caseroute/backend/internal/ledger"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/routing"
	"github.com/caseroute/backend/internal/status"
	"github.com/caseroute/backend/internal/store"
)

// CaseService is the entry point for every case workflow action. Each method
// runs in a single store transaction unless noted otherwise.
type CaseService struct {
	Store      store.Store
	Engine     *routing.Engine
	Workflow   *countersign.Workflow
	Amendments *amendment.Service
	Audit      *audit.Emitter
	Logger     zerolog.Logger
	Now        func() time.Time
}

func NewCaseService(st store.Store, engine *routing.Engine, amendments *amendment.Service, logger zerolog.Logger) *CaseService {
	return &CaseService{
		Store:      st,
		Engine:     engine,
		Workflow:   countersign.NewWorkflow(logger),
		Amendments: amendments,
		Audit:      audit.NewEmitter(logger),
		Logger:     logger,
		Now:        time.Now,
	}
}

type CaseView struct {
	Case        models.Case         `json:"case"`
	Queues      []string            `json:"queues"`
	Assignments []models.Assignment `json:"assignments"`
	Licence     *models.Licence     `json:"licence,omitempty"`
}

type MovementView struct {
	models.MovementRecord
	TimeOnQueueSeconds float64 `json:"time_on_queue_seconds"`
}

func (s *CaseService) Get(ctx context.Context, caseID string) (CaseView, error) {
	var view CaseView
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if view.Case, err = tx.GetCase(ctx, caseID); err != nil {
			return err
		}
		if view.Queues, err = tx.CaseQueues(ctx, caseID); err != nil {
			return err
		}
		if view.Assignments, err = tx.CaseAssignments(ctx, caseID); err != nil {
			return err
		}
		view.Licence, err = optionalLicence(ctx, tx, caseID)
		return err
	})
	if err != nil {
		return CaseView{}, err
	}
	return view, nil
}

// Movements returns the case's queue history with time spent on each queue;
// open visits are measured up to now.
func (s *CaseService) Movements(ctx context.Context, caseID string) ([]MovementView, error) {
	var moves []models.MovementRecord
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCase(ctx, caseID); err != nil {
			return err
		}
		var err error
		moves, err = tx.ListMovements(ctx, caseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]MovementView, 0, len(moves))
	for _, m := range moves {
		out = append(out, MovementView{MovementRecord: m, TimeOnQueueSeconds: ledger.TimeOnQueue(m, now).Seconds()})
	}
	return out, nil
}

func (s *CaseService) AuditTrail(ctx context.Context, caseID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetCase(ctx, caseID); err != nil {
			return err
		}
		var err error
		entries, err = tx.ListAudit(ctx, caseID)
		return err
	})
	return entries, err
}

// SetStatus applies a checked status change and re-routes the case at its new
// status without advancing it further.
func (s *CaseService) SetStatus(ctx context.Context, actor models.Actor, caseID string, requested models.Status) (routing.Result, error) {
	var res routing.Result
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		licence, err := optionalLicence(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if err := status.Check(status.Change{Actor: actor, Current: c.Status, Requested: requested, Licence: licence}); err != nil {
			return err
		}
		if requested == models.StatusFinalised {
			ok, err := countersign.Satisfied(ctx, tx, c.ID)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Validation("status", "case %s still needs countersigning before it can be finalised", c.Reference)
			}
		}

		if requested != c.Status {
			if err := s.applyStatus(ctx, tx, actor, c, requested, licence); err != nil {
				return err
			}
		}
		res, err = s.Engine.Route(ctx, tx, c.ID, actor, true)
		return err
	})
	if err != nil {
		return routing.Result{}, err
	}
	s.Logger.Info().
		Str("case_id", caseID).
		Str("actor_id", actor.ID).
		Str("status", string(requested)).
		Strs("queues", res.Queues).
		Msg("case status updated")
	return res, nil
}

func (s *CaseService) applyStatus(ctx context.Context, tx store.Tx, actor models.Actor, c models.Case, requested models.Status, licence *models.Licence) error {
	seq, err := tx.LatestMovementSeq(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := tx.UpdateCaseStatus(ctx, c.ID, requested, seq); err != nil {
		return err
	}
	if err := s.Audit.Emit(ctx, tx, audit.Event{
		CaseID:  c.ID,
		Actor:   actor,
		Verb:    audit.VerbUpdatedStatus,
		Payload: map[string]any{"status": map[string]any{"old": c.Status, "new": requested}},
	}); err != nil {
		return err
	}

	if ls, ok := status.LicenceStatusFor(requested); ok && licence != nil && licence.Status != ls {
		if err := tx.UpdateLicenceStatus(ctx, licence.ID, ls); err != nil {
			return err
		}
		if err := s.Audit.Emit(ctx, tx, audit.Event{
			CaseID:  c.ID,
			Actor:   actor,
			Verb:    audit.VerbUpdatedLicenceStatus,
			Payload: map[string]any{"licence_id": licence.ID, "status": map[string]any{"old": licence.Status, "new": ls}},
		}); err != nil {
			return err
		}
	}

	if status.IsTerminal(requested) && c.CaseOfficerID != nil {
		if err := tx.SetCaseOfficer(ctx, c.ID, nil); err != nil {
			return err
		}
		if err := s.Audit.Emit(ctx, tx, audit.Event{
			CaseID:  c.ID,
			Actor:   actor,
			Verb:    audit.VerbRemovedCaseOfficer,
			Payload: map[string]any{"case_officer_id": *c.CaseOfficerID},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *CaseService) Route(ctx context.Context, actor models.Actor, caseID string, keepStatus bool) (routing.Result, error) {
	return s.Engine.RouteCase(ctx, caseID, actor, keepStatus)
}

func (s *CaseService) MoveForward(ctx context.Context, actor models.Actor, caseID, queueID string) (routing.Result, error) {
	var res routing.Result
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.Engine.MoveForward(ctx, tx, caseID, queueID, actor)
		return err
	})
	if err != nil {
		return routing.Result{}, err
	}
	return res, nil
}

// BulkApprove commits per case; see routing.Engine.BulkApprove.
func (s *CaseService) BulkApprove(ctx context.Context, actor models.Actor, queueID string, caseIDs []string) (routing.BulkSummary, error) {
	return s.Engine.BulkApprove(ctx, queueID, caseIDs, actor)
}

func (s *CaseService) Countersign(ctx context.Context, actor models.Actor, caseID string, order models.CountersignOrder, items []countersign.Item) ([]models.CountersignDecision, error) {
	if actor.Kind != models.ActorCaseworker {
		return nil, apperr.Permission(models.PermissionManageFinalAdvice, "actor %s cannot countersign advice", actor.ID)
	}
	var decisions []models.CountersignDecision
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		decisions, err = s.Workflow.Record(ctx, tx, actor, caseID, order, items)
		return err
	})
	if err != nil {
		return nil, err
	}
	return decisions, nil
}

func (s *CaseService) Amend(ctx context.Context, actor models.Actor, caseID string) (models.Amendment, error) {
	return s.Amendments.Create(ctx, actor, caseID)
}

func optionalLicence(ctx context.Context, r store.Reader, caseID string) (*models.Licence, error) {
	l, err := r.GetLicence(ctx, caseID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *CaseService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}
