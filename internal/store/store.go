// Package store defines the transactional persistence boundary shared by the
// postgres store and the in-memory store.
package store

import (
	"context"
	"time"

	"github.com/caseroute/backend/internal/models"
)

// Reader is the read side of a transaction. Missing entities are reported as
// wrapped apperr.ErrNotFound.
type Reader interface {
	GetCase(ctx context.Context, caseID string) (models.Case, error)
	TagSources(ctx context.Context, caseID string) (models.TagSources, error)
	ListTeams(ctx context.Context) ([]models.Team, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	// ListRules returns every rule for the team and status, active or not.
	ListRules(ctx context.Context, teamID string, status models.Status) ([]models.RoutingRule, error)
	CaseQueues(ctx context.Context, caseID string) ([]string, error)
	CaseAssignments(ctx context.Context, caseID string) ([]models.Assignment, error)
	ListMovements(ctx context.Context, caseID string) ([]models.MovementRecord, error)
	LatestMovementSeq(ctx context.Context, caseID string) (int64, error)
	GetLicence(ctx context.Context, caseID string) (models.Licence, error)
	ListAdvice(ctx context.Context, caseID string) ([]models.Advice, error)
	ListCountersignDecisions(ctx context.Context, caseID string) ([]models.CountersignDecision, error)
	GetAmendment(ctx context.Context, originalCaseID string) (models.Amendment, error)
	ListAudit(ctx context.Context, caseID string) ([]models.AuditEntry, error)
}

// Tx is a read-write unit of work. Every write made through a Tx commits or
// rolls back together.
type Tx interface {
	Reader

	InsertCase(ctx context.Context, c models.Case) error
	UpdateCaseStatus(ctx context.Context, caseID string, status models.Status, statusSeq int64) error
	SetCaseOfficer(ctx context.Context, caseID string, officerID *string) error
	RemoveCaseTags(ctx context.Context, caseID string, tags []string) error

	AddCaseQueue(ctx context.Context, caseID, queueID string) error
	RemoveCaseQueue(ctx context.Context, caseID, queueID string) error

	// InsertAssignment reports false when the triple already exists.
	InsertAssignment(ctx context.Context, a models.Assignment) (bool, error)
	// DeleteAssignments removes the case's assignments on queueID, or on
	// every queue when queueID is empty.
	DeleteAssignments(ctx context.Context, caseID, queueID string) error

	// InsertMovement assigns ID and Seq. It fails with apperr.ErrConflict if
	// the pair already has an open record.
	InsertMovement(ctx context.Context, m models.MovementRecord) (models.MovementRecord, error)
	CloseMovement(ctx context.Context, movementID string, exitedAt time.Time) error

	UpdateLicenceStatus(ctx context.Context, licenceID string, status models.LicenceStatus) error
	UpsertCountersignDecision(ctx context.Context, d models.CountersignDecision) (models.CountersignDecision, error)
	// InsertAmendment fails with apperr.ErrConflict when the original case
	// already has an amendment.
	InsertAmendment(ctx context.Context, a models.Amendment) error
	AppendAudit(ctx context.Context, e models.AuditEntry) error

	UpsertTeam(ctx context.Context, t models.Team) error
	UpsertQueue(ctx context.Context, q models.Queue) error
	UpsertRule(ctx context.Context, r models.RoutingRule) error
}

type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
