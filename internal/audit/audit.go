// Package audit records case mutations for display. Entries are written
// through the caller's transaction so they commit with the change they
// describe.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseroute/backend/internal/models"
)

const (
	VerbMoveCase             = "move_case"
	VerbRemoveCaseFromQueue  = "remove_case_from_queue"
	VerbUpdatedStatus        = "updated_status"
	VerbCountersignAdvice    = "countersign_advice"
	VerbBulkApproval         = "bulk_approval"
	VerbCreatedAmendment     = "created_amendment"
	VerbRemovedCaseOfficer   = "removed_case_officer"
	VerbUpdatedLicenceStatus = "updated_licence_status"
)

// Writer is the slice of a store transaction the emitter needs.
type Writer interface {
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

type Event struct {
	CaseID  string
	QueueID string
	Actor   models.Actor
	Verb    string
	Payload map[string]any
}

type Emitter struct {
	Logger zerolog.Logger
	Now    func() time.Time
}

func NewEmitter(logger zerolog.Logger) *Emitter {
	return &Emitter{Logger: logger, Now: time.Now}
}

func (e *Emitter) Emit(ctx context.Context, w Writer, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	entry := models.AuditEntry{
		ID:        uuid.NewString(),
		ActorID:   ev.Actor.ID,
		Verb:      ev.Verb,
		Payload:   payload,
		CreatedAt: e.now(),
	}
	if ev.CaseID != "" {
		caseID := ev.CaseID
		entry.CaseID = &caseID
	}
	if ev.QueueID != "" {
		queueID := ev.QueueID
		entry.QueueID = &queueID
	}
	if err := w.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit %s: %w", ev.Verb, err)
	}
	e.Logger.Debug().
		Str("verb", ev.Verb).
		Str("case_id", ev.CaseID).
		Str("queue_id", ev.QueueID).
		Str("actor_id", ev.Actor.ID).
		Msg("audit")
	return nil
}

func (e *Emitter) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}
