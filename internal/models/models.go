package models

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusDraft                        Status = "draft"
	StatusSubmitted                    Status = "submitted"
	StatusApplicantEditing             Status = "applicant_editing"
	StatusResubmitted                  Status = "resubmitted"
	StatusInitialChecks                Status = "initial_checks"
	StatusUnderReview                  Status = "under_review"
	StatusOGDAdvice                    Status = "ogd_advice"
	StatusUnderFinalReview             Status = "under_final_review"
	StatusFinalReviewCountersign       Status = "final_review_countersign"
	StatusFinalReviewSecondCountersign Status = "final_review_second_countersign"
	StatusReopenedForChanges           Status = "reopened_for_changes"
	StatusSuspended                    Status = "suspended"
	StatusFinalised                    Status = "finalised"
	StatusWithdrawn                    Status = "withdrawn"
	StatusClosed                       Status = "closed"
	StatusRefused                      Status = "refused"
	StatusRevoked                      Status = "revoked"
	StatusSurrendered                  Status = "surrendered"
	StatusSupersededByExporterEdit     Status = "superseded_by_exporter_edit"
)

type ActorKind string

const (
	ActorExporter   ActorKind = "exporter"
	ActorCaseworker ActorKind = "caseworker"
	ActorSystem     ActorKind = "system"
)

const (
	PermissionManageFinalAdvice = "MANAGE_LICENCE_FINAL_ADVICE"
	PermissionReopenClosedCases = "REOPEN_CLOSED_CASES"
)

type Actor struct {
	ID          string    `json:"id"`
	Kind        ActorKind `json:"kind"`
	Permissions []string  `json:"permissions,omitempty"`
}

func (a Actor) HasPermission(p string) bool {
	for _, have := range a.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

func SystemActor(id string) Actor {
	return Actor{ID: id, Kind: ActorSystem}
}

type Case struct {
	ID            string    `json:"id"`
	Reference     string    `json:"reference"`
	Status        Status    `json:"status"`
	OrgID         string    `json:"org_id"`
	CaseOfficerID *string   `json:"case_officer_id"`
	Tags          []string  `json:"tags"`
	StatusSeq     int64     `json:"status_seq"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TagSources holds every tag list a case's parameter set is built from.
type TagSources struct {
	Case         []string   `json:"case"`
	Goods        [][]string `json:"goods"`
	Destinations [][]string `json:"destinations"`
	Organisation []string   `json:"organisation"`
}

type Team struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

type Queue struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	TeamID string `json:"team_id" yaml:"team"`
}

type RoutingRule struct {
	ID         string   `json:"id"`
	TeamID     string   `json:"team_id"`
	Status     Status   `json:"status"`
	Tier       int      `json:"tier"`
	QueueID    string   `json:"queue_id"`
	ReviewerID *string  `json:"reviewer_id"`
	Active     bool     `json:"active"`
	Tags       []string `json:"tags"`
}

type Assignment struct {
	CaseID     string    `json:"case_id"`
	QueueID    string    `json:"queue_id"`
	ReviewerID string    `json:"reviewer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type MovementRecord struct {
	ID        string     `json:"id"`
	Seq       int64      `json:"seq"`
	CaseID    string     `json:"case_id"`
	QueueID   string     `json:"queue_id"`
	ActorID   string     `json:"actor_id"`
	EnteredAt time.Time  `json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at"`
}

func (m MovementRecord) Open() bool {
	return m.ExitedAt == nil
}

type Reviewer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type LicenceStatus string

const (
	LicenceIssued      LicenceStatus = "issued"
	LicenceSuspended   LicenceStatus = "suspended"
	LicenceSurrendered LicenceStatus = "surrendered"
	LicenceRevoked     LicenceStatus = "revoked"
)

type Licence struct {
	ID             string        `json:"id"`
	CaseID         string        `json:"case_id"`
	Status         LicenceStatus `json:"status"`
	DurationMonths *int          `json:"duration_months"`
}

type Advice struct {
	ID               string   `json:"id"`
	CaseID           string   `json:"case_id"`
	Department       string   `json:"department"`
	CountersignOrder int      `json:"countersign_order"`
	CountersignTags  []string `json:"countersign_tags"`
}

type CountersignOrder string

const (
	CountersignFirst  CountersignOrder = "FIRST"
	CountersignSecond CountersignOrder = "SECOND"
)

func (o CountersignOrder) Level() int {
	switch o {
	case CountersignFirst:
		return 1
	case CountersignSecond:
		return 2
	default:
		return 0
	}
}

type CountersignDecision struct {
	ID              string           `json:"id"`
	CaseID          string           `json:"case_id"`
	AdviceID        string           `json:"advice_id"`
	Order           CountersignOrder `json:"order"`
	OutcomeAccepted bool             `json:"outcome_accepted"`
	Reasons         string           `json:"reasons"`
	ReviewerID      string           `json:"reviewer_id"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type Amendment struct {
	ID             string    `json:"id"`
	OriginalCaseID string    `json:"original_case_id"`
	AmendedCaseID  string    `json:"amended_case_id"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type AuditEntry struct {
	ID        string          `json:"id"`
	CaseID    *string         `json:"case_id"`
	QueueID   *string         `json:"queue_id"`
	ActorID   string          `json:"actor_id"`
	Verb      string          `json:"verb"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
