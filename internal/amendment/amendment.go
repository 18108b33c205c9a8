// Package amendment creates exporter amendments: a draft copy of a live case
// that supersedes the original.
//
// Concurrent requests for the same case must all end up with the same
// amendment. Callers in one process share a single in-flight creation;
// across processes the unique amendment per original case decides the
// winner and the losers read it back.
package amendment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/audit"
	"github.com/caseroute/backend/internal/metrics"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/routing"
	"github.com/caseroute/backend/internal/status"
	"github.com/caseroute/backend/internal/store"
)

const (
	referenceSuffix = "/A"

	// flightTimeout bounds a shared creation once it no longer follows the
	// cancellation of the caller that started it.
	flightTimeout = 30 * time.Second
)

type Service struct {
	Store   store.Store
	Engine  *routing.Engine
	Audit   *audit.Emitter
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time

	// NewBackOff builds the retry policy for one Create call.
	NewBackOff func() backoff.BackOff

	group singleflight.Group
}

func NewService(st store.Store, engine *routing.Engine, m *metrics.Metrics, logger zerolog.Logger, maxElapsed time.Duration) *Service {
	return &Service{
		Store:      st,
		Engine:     engine,
		Audit:      audit.NewEmitter(logger),
		Metrics:    m,
		Logger:     logger,
		Now:        time.Now,
		NewBackOff: Exponential(maxElapsed),
	}
}

// Exponential retries for at most maxElapsed before giving up.
func Exponential(maxElapsed time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 25 * time.Millisecond
		b.MaxElapsedTime = maxElapsed
		return b
	}
}

// Create returns the amendment for caseID, creating it when none exists yet.
// Callers that join an in-flight creation wait for it; a caller that gives up
// early gets its own context error while the creation carries on for the
// others.
func (s *Service) Create(ctx context.Context, actor models.Actor, caseID string) (models.Amendment, error) {
	ch := s.group.DoChan(caseID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return s.create(fctx, actor, caseID)
	})
	select {
	case <-ctx.Done():
		return models.Amendment{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return models.Amendment{}, r.Err
		}
		if r.Shared {
			s.Logger.Debug().Str("case_id", caseID).Msg("amendment creation shared with in-flight request")
		}
		return r.Val.(models.Amendment), nil
	}
}

func (s *Service) create(ctx context.Context, actor models.Actor, caseID string) (models.Amendment, error) {
	var out models.Amendment
	op := func() error {
		a, err := s.attempt(ctx, actor, caseID)
		if err == nil {
			out = a
			return nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return backoff.Permanent(err)
		}
		existing, rerr := s.Get(ctx, caseID)
		switch {
		case rerr == nil:
			s.Metrics.IncAmendmentRace()
			s.Logger.Info().
				Str("case_id", caseID).
				Str("amendment_id", existing.ID).
				Msg("amendment already created concurrently")
			out = existing
			return nil
		case errors.Is(rerr, apperr.ErrNotFound):
			// The winner is not visible yet; try again.
			return err
		default:
			return backoff.Permanent(rerr)
		}
	}

	b := backoff.WithContext(s.backOff(), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return models.Amendment{}, err
	}
	return out, nil
}

func (s *Service) attempt(ctx context.Context, actor models.Actor, caseID string) (models.Amendment, error) {
	var out models.Amendment
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		// Locking the original first serialises concurrent creations; the
		// amendment lookup below then sees whatever the previous holder
		// committed.
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		existing, err := tx.GetAmendment(ctx, caseID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if c.Status == models.StatusSupersededByExporterEdit {
			return fmt.Errorf("case %s already superseded: %w", c.Reference, apperr.ErrConflict)
		}
		if status.IsTerminal(c.Status) {
			return apperr.Validation("status", "case %s is %s and cannot be amended", c.Reference, c.Status)
		}

		now := s.now()
		amended := models.Case{
			ID:        uuid.NewString(),
			Reference: c.Reference + referenceSuffix,
			Status:    models.StatusDraft,
			OrgID:     c.OrgID,
			Tags:      c.Tags,
		}
		if err := tx.InsertCase(ctx, amended); err != nil {
			return fmt.Errorf("insert amended case: %w", err)
		}
		a := models.Amendment{
			ID:             uuid.NewString(),
			OriginalCaseID: c.ID,
			AmendedCaseID:  amended.ID,
			CreatedBy:      actor.ID,
			CreatedAt:      now,
		}
		if err := tx.InsertAmendment(ctx, a); err != nil {
			return err
		}

		if err := s.supersede(ctx, tx, c, actor); err != nil {
			return err
		}
		if err := s.Audit.Emit(ctx, tx, audit.Event{
			CaseID:  c.ID,
			Actor:   actor,
			Verb:    audit.VerbCreatedAmendment,
			Payload: map[string]any{"amended_case_id": amended.ID, "amended_reference": amended.Reference},
		}); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return models.Amendment{}, err
	}
	return out, nil
}

// supersede moves the original to its terminal status and lets a routing
// pass strip its queues and assignments.
func (s *Service) supersede(ctx context.Context, tx store.Tx, c models.Case, actor models.Actor) error {
	seq, err := tx.LatestMovementSeq(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := tx.UpdateCaseStatus(ctx, c.ID, models.StatusSupersededByExporterEdit, seq); err != nil {
		return err
	}
	if err := s.Audit.Emit(ctx, tx, audit.Event{
		CaseID:  c.ID,
		Actor:   actor,
		Verb:    audit.VerbUpdatedStatus,
		Payload: map[string]any{"status": map[string]any{"old": c.Status, "new": models.StatusSupersededByExporterEdit}},
	}); err != nil {
		return err
	}
	if c.CaseOfficerID != nil {
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
	_, err = s.Engine.Route(ctx, tx, c.ID, actor, true)
	return err
}

// Get returns the amendment recorded for the original case.
func (s *Service) Get(ctx context.Context, caseID string) (models.Amendment, error) {
	var a models.Amendment
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.GetAmendment(ctx, caseID)
		return err
	})
	return a, err
}

func (s *Service) backOff() backoff.BackOff {
	if s.NewBackOff == nil {
		return backoff.NewExponentialBackOff()
	}
	return s.NewBackOff()
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}
