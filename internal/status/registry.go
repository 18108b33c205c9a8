// Package status is the case status catalogue: per-status classification
// and the canonical sequence automation advances cases along.
package status

import "github.com/caseroute/backend/internal/models"

type Class int

const (
	ClassDraft Class = iota
	ClassEditable
	ClassMajorEditable
	ClassReadOnly
	ClassTerminal
)

type Info struct {
	Status        models.Status
	Class         Class
	Terminal      bool
	Editable      bool
	MajorEditable bool
	ReadOnly      bool
}

var registry = map[models.Status]Info{}

// workflow is the order automation walks a case through when no routing rule
// fires at its current status.
var workflow = []models.Status{
	models.StatusSubmitted,
	models.StatusInitialChecks,
	models.StatusUnderReview,
	models.StatusOGDAdvice,
	models.StatusUnderFinalReview,
	models.StatusFinalReviewCountersign,
	models.StatusFinalReviewSecondCountersign,
	models.StatusFinalised,
}

func init() {
	define(ClassDraft, models.StatusDraft)
	define(ClassMajorEditable, models.StatusApplicantEditing)
	define(ClassEditable,
		models.StatusSubmitted,
		models.StatusResubmitted,
		models.StatusInitialChecks,
		models.StatusUnderReview,
		models.StatusUnderFinalReview,
		models.StatusReopenedForChanges,
	)
	define(ClassReadOnly,
		models.StatusOGDAdvice,
		models.StatusFinalReviewCountersign,
		models.StatusFinalReviewSecondCountersign,
		models.StatusSuspended,
	)
	define(ClassTerminal,
		models.StatusFinalised,
		models.StatusWithdrawn,
		models.StatusClosed,
		models.StatusRefused,
		models.StatusRevoked,
		models.StatusSurrendered,
		models.StatusSupersededByExporterEdit,
	)
}

func define(class Class, statuses ...models.Status) {
	for _, s := range statuses {
		registry[s] = Info{
			Status:        s,
			Class:         class,
			Terminal:      class == ClassTerminal,
			Editable:      class == ClassEditable || class == ClassMajorEditable || class == ClassDraft,
			MajorEditable: class == ClassMajorEditable || class == ClassDraft,
			ReadOnly:      class == ClassReadOnly || class == ClassTerminal,
		}
	}
}

func Lookup(s models.Status) (Info, bool) {
	info, ok := registry[s]
	return info, ok
}

func Known(s models.Status) bool {
	_, ok := registry[s]
	return ok
}

func IsTerminal(s models.Status) bool {
	return registry[s].Terminal
}

func IsEditable(s models.Status) bool {
	return registry[s].Editable
}

func IsMajorEditable(s models.Status) bool {
	return registry[s].MajorEditable
}

func IsReadOnly(s models.Status) bool {
	return registry[s].ReadOnly
}

// Next returns the status after s in the workflow sequence. Statuses outside
// the sequence have no successor.
func Next(s models.Status) (models.Status, bool) {
	for i, candidate := range workflow {
		if candidate == s && i+1 < len(workflow) {
			return workflow[i+1], true
		}
	}
	return "", false
}

// Sequence returns a copy of the workflow sequence.
func Sequence() []models.Status {
	return append([]models.Status(nil), workflow...)
}

// LicenceStatusFor maps case statuses that also move the licence.
func LicenceStatusFor(s models.Status) (models.LicenceStatus, bool) {
	switch s {
	case models.StatusSuspended:
		return models.LicenceSuspended, true
	case models.StatusSurrendered:
		return models.LicenceSurrendered, true
	case models.StatusRevoked:
		return models.LicenceRevoked, true
	default:
		return "", false
	}
}
