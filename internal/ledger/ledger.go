// Package ledger keeps the append-only history of queue visits. Records are
// only ever opened or closed, never edited otherwise.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/models"
)

type Reader interface {
	ListMovements(ctx context.Context, caseID string) ([]models.MovementRecord, error)
}

type Writer interface {
	Reader
	InsertMovement(ctx context.Context, m models.MovementRecord) (models.MovementRecord, error)
	CloseMovement(ctx context.Context, movementID string, exitedAt time.Time) error
}

func Open(ctx context.Context, w Writer, caseID, queueID string, actor models.Actor, at time.Time) (models.MovementRecord, error) {
	rec, err := w.InsertMovement(ctx, models.MovementRecord{
		CaseID:    caseID,
		QueueID:   queueID,
		ActorID:   actor.ID,
		EnteredAt: at,
	})
	if err != nil {
		return models.MovementRecord{}, fmt.Errorf("open movement %s/%s: %w", caseID, queueID, err)
	}
	return rec, nil
}

// Close ends the most recent open record for the pair.
func Close(ctx context.Context, w Writer, caseID, queueID string, at time.Time) (models.MovementRecord, error) {
	rec, err := LatestOpen(ctx, w, caseID, queueID)
	if err != nil {
		return models.MovementRecord{}, err
	}
	if err := w.CloseMovement(ctx, rec.ID, at); err != nil {
		return models.MovementRecord{}, fmt.Errorf("close movement %s: %w", rec.ID, err)
	}
	rec.ExitedAt = &at
	return rec, nil
}

func LatestOpen(ctx context.Context, r Reader, caseID, queueID string) (models.MovementRecord, error) {
	moves, err := r.ListMovements(ctx, caseID)
	if err != nil {
		return models.MovementRecord{}, err
	}
	var (
		latest models.MovementRecord
		found  bool
	)
	for _, m := range moves {
		if m.QueueID != queueID || !m.Open() {
			continue
		}
		if !found || m.Seq > latest.Seq {
			latest, found = m, true
		}
	}
	if !found {
		return models.MovementRecord{}, fmt.Errorf("open movement for case %q on queue %q: %w", caseID, queueID, apperr.ErrNotFound)
	}
	return latest, nil
}

// OpenQueues returns the queues holding an open record for the case.
func OpenQueues(ctx context.Context, r Reader, caseID string) ([]string, error) {
	moves, err := r.ListMovements(ctx, caseID)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]bool{}
	for _, m := range moves {
		if m.Open() && !seen[m.QueueID] {
			seen[m.QueueID] = true
			out = append(out, m.QueueID)
		}
	}
	return out, nil
}

// VisitedSince returns the queues entered after seq. Ordering is by sequence,
// not wall clock, so records sharing a timestamp are still distinguished.
func VisitedSince(ctx context.Context, r Reader, caseID string, seq int64) (map[string]bool, error) {
	moves, err := r.ListMovements(ctx, caseID)
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, m := range moves {
		if m.Seq > seq {
			out[m.QueueID] = true
		}
	}
	return out, nil
}

// TimeOnQueue is exit-or-now minus entry. Read side only.
func TimeOnQueue(m models.MovementRecord, now time.Time) time.Duration {
	end := now
	if m.ExitedAt != nil {
		end = *m.ExitedAt
	}
	return end.Sub(m.EnteredAt)
}
