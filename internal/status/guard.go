package status

import (
	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/models"
)

// Change is a requested status transition, checked before it reaches routing.
type Change struct {
	Actor     models.Actor
	Current   models.Status
	Requested models.Status
	Licence   *models.Licence
}

// Check validates a transition against the actor's role. It never mutates.
func Check(ch Change) error {
	if !Known(ch.Requested) {
		return apperr.Validation("status", "unknown status %q", ch.Requested)
	}
	switch ch.Actor.Kind {
	case models.ActorExporter:
		return checkExporter(ch)
	case models.ActorCaseworker:
		return checkCaseworker(ch)
	case models.ActorSystem:
		return nil
	default:
		return apperr.Validation("actor", "unknown actor kind %q", ch.Actor.Kind)
	}
}

func checkExporter(ch Change) error {
	switch ch.Requested {
	case models.StatusApplicantEditing:
		if IsTerminal(ch.Current) || !IsEditable(ch.Current) {
			return apperr.Validation("status", "case in status %q cannot be edited by the applicant", ch.Current)
		}
		return nil
	case models.StatusWithdrawn:
		if IsTerminal(ch.Current) {
			return apperr.Validation("status", "case in terminal status %q cannot be withdrawn", ch.Current)
		}
		return nil
	case models.StatusSurrendered:
		if ch.Current != models.StatusFinalised {
			return apperr.Validation("status", "only finalised cases can be surrendered")
		}
		if ch.Licence == nil || ch.Licence.DurationMonths == nil {
			return apperr.Validation("status", "case has no licence with a set duration to surrender")
		}
		return nil
	default:
		return apperr.Validation("status", "exporters cannot set status %q", ch.Requested)
	}
}

func checkCaseworker(ch Change) error {
	if ch.Requested == models.StatusApplicantEditing {
		return apperr.Validation("status", "caseworkers cannot set status %q", ch.Requested)
	}
	if ch.Requested == models.StatusFinalised && !ch.Actor.HasPermission(models.PermissionManageFinalAdvice) {
		return apperr.Permission(models.PermissionManageFinalAdvice, "actor %s cannot finalise cases", ch.Actor.ID)
	}
	if IsTerminal(ch.Current) && ch.Requested != ch.Current && !ch.Actor.HasPermission(models.PermissionReopenClosedCases) {
		return apperr.Permission(models.PermissionReopenClosedCases, "actor %s cannot reopen a %s case", ch.Actor.ID, ch.Current)
	}
	return nil
}
