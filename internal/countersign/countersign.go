// Package countersign records the one- or two-stage sign-off on final advice
// and gates finalisation on it.
package countersign

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/audit"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/params"
	"github.com/caseroute/backend/internal/status"
	"github.com/caseroute/backend/internal/store"
)

// DepartmentLicensingUnit is the department whose advice is described as the
// unit's own rather than as recommendations.
const DepartmentLicensingUnit = "LU"

type Item struct {
	AdviceID        string `json:"advice_id" validate:"required"`
	OutcomeAccepted bool   `json:"outcome_accepted"`
	Reasons         string `json:"reasons"`
}

type Workflow struct {
	Audit  *audit.Emitter
	Logger zerolog.Logger
}

func NewWorkflow(logger zerolog.Logger) *Workflow {
	return &Workflow{Audit: audit.NewEmitter(logger), Logger: logger}
}

// Record stores one decision per item at the given order. The whole batch is
// validated before anything is written. Rejections strip the advice's
// countersign tags from the case so later routing passes stop sending it to
// countersign queues. Only the case's own tags are touched; goods, parties and
// organisations belong to other services.
func (w *Workflow) Record(ctx context.Context, tx store.Tx, actor models.Actor, caseID string, order models.CountersignOrder, items []Item) ([]models.CountersignDecision, error) {
	if order.Level() == 0 {
		return nil, apperr.Validation("order", "unknown countersign order %q", order)
	}
	if len(items) == 0 {
		return nil, apperr.Validation("decisions", "at least one decision is required")
	}

	c, err := tx.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if status.IsTerminal(c.Status) {
		return nil, apperr.Validation("status", "case %s is %s", c.Reference, c.Status)
	}

	adviceList, err := tx.ListAdvice(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	advice := make(map[string]models.Advice, len(adviceList))
	for _, a := range adviceList {
		advice[a.ID] = a
	}
	existing, err := tx.ListCountersignDecisions(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	hasFirst := map[string]bool{}
	for _, d := range existing {
		if d.Order == models.CountersignFirst {
			hasFirst[d.AdviceID] = true
		}
	}

	seen := map[string]bool{}
	for _, it := range items {
		a, ok := advice[it.AdviceID]
		if !ok {
			return nil, apperr.NotFound("advice", it.AdviceID)
		}
		if seen[it.AdviceID] {
			return nil, apperr.Validation("decisions", "advice %s appears more than once", it.AdviceID)
		}
		seen[it.AdviceID] = true
		if a.CountersignOrder < order.Level() {
			return nil, apperr.Validation("order", "advice %s does not require a %s countersignature", a.ID, strings.ToLower(string(order)))
		}
		if order == models.CountersignSecond && !hasFirst[a.ID] {
			return nil, apperr.Validation("order", "advice %s has no first countersignature yet", a.ID)
		}
		if !it.OutcomeAccepted && strings.TrimSpace(it.Reasons) == "" {
			return nil, apperr.Validation("reasons", "reasons are required when declining to countersign")
		}
	}

	decisions := make([]models.CountersignDecision, 0, len(items))
	var (
		departments []string
		stripped    []string
	)
	accepted := true
	for _, it := range items {
		a := advice[it.AdviceID]
		d, err := tx.UpsertCountersignDecision(ctx, models.CountersignDecision{
			CaseID:          c.ID,
			AdviceID:        a.ID,
			Order:           order,
			OutcomeAccepted: it.OutcomeAccepted,
			Reasons:         it.Reasons,
			ReviewerID:      actor.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("record countersign decision: %w", err)
		}
		decisions = append(decisions, d)

		if !it.OutcomeAccepted {
			accepted = false
			if len(a.CountersignTags) > 0 {
				if err := tx.RemoveCaseTags(ctx, c.ID, a.CountersignTags); err != nil {
					return nil, fmt.Errorf("remove countersign tags: %w", err)
				}
				stripped = append(stripped, a.CountersignTags...)
			}
		}
		if !containsString(departments, a.Department) {
			departments = append(departments, a.Department)
		}
	}

	if len(stripped) > 0 {
		if err := w.warnInherited(ctx, tx, c.ID, stripped); err != nil {
			return nil, err
		}
	}

	if err := w.Audit.Emit(ctx, tx, audit.Event{
		CaseID: c.ID,
		Actor:  actor,
		Verb:   audit.VerbCountersignAdvice,
		Payload: map[string]any{
			"message":  Message(departments, order, accepted),
			"order":    order,
			"accepted": accepted,
			"count":    len(decisions),
		},
	}); err != nil {
		return nil, err
	}
	w.Logger.Info().
		Str("case_id", c.ID).
		Str("order", string(order)).
		Bool("accepted", accepted).
		Int("decisions", len(decisions)).
		Msg("countersign decisions recorded")
	return decisions, nil
}

// warnInherited reports countersign tags that still reach the parameter set
// through goods, destinations or the organisation after a rejection.
func (w *Workflow) warnInherited(ctx context.Context, tx store.Tx, caseID string, tags []string) error {
	src, err := tx.TagSources(ctx, caseID)
	if err != nil {
		return fmt.Errorf("load parameter sources: %w", err)
	}
	set := params.Extract(src)
	var still []string
	for _, t := range tags {
		if set.Contains(t) {
			still = append(still, t)
		}
	}
	if len(still) > 0 {
		w.Logger.Warn().
			Str("case_id", caseID).
			Strs("tags", still).
			Msg("countersign tags still inherited from goods, destinations or organisation")
	}
	return nil
}

// Message renders the audit text for a batch. The department of the first
// advice item decides the wording.
func Message(departments []string, order models.CountersignOrder, accepted bool) string {
	subject := "recommendations"
	if len(departments) > 0 {
		if departments[0] == DepartmentLicensingUnit {
			subject = "Licensing Unit advice"
		} else if departments[0] != "" {
			subject = departments[0] + " recommendations"
		}
	}
	verb := "countersigned all"
	if !accepted {
		verb = "declined to countersign"
	}
	if order == models.CountersignSecond {
		verb = "senior " + verb
	}
	return fmt.Sprintf("%s %s", verb, subject)
}

// Satisfied reports whether every advice item that needs countersigning has
// an accepted decision at each required order.
func Satisfied(ctx context.Context, r store.Reader, caseID string) (bool, error) {
	adviceList, err := r.ListAdvice(ctx, caseID)
	if err != nil {
		return false, err
	}
	decisions, err := r.ListCountersignDecisions(ctx, caseID)
	if err != nil {
		return false, err
	}
	accepted := map[string]map[int]bool{}
	for _, d := range decisions {
		if !d.OutcomeAccepted {
			continue
		}
		if accepted[d.AdviceID] == nil {
			accepted[d.AdviceID] = map[int]bool{}
		}
		accepted[d.AdviceID][d.Order.Level()] = true
	}
	for _, a := range adviceList {
		for level := 1; level <= a.CountersignOrder; level++ {
			if !accepted[a.ID][level] {
				return false, nil
			}
		}
	}
	return true, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
