package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/models"
)

type tx struct {
	tx pgx.Tx
}

const caseColumns = `id, reference, status, org_id, case_officer_id, tags, status_seq, created_at, updated_at`

// GetCase locks the row for the rest of the transaction, so passes over the
// same case run one after another.
func (t *tx) GetCase(ctx context.Context, caseID string) (models.Case, error) {
	var c models.Case
	err := t.tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, caseID).
		Scan(&c.ID, &c.Reference, &c.Status, &c.OrgID, &c.CaseOfficerID, &c.Tags, &c.StatusSeq, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Case{}, mapErr(err, "case", caseID)
	}
	return c, nil
}

func (t *tx) TagSources(ctx context.Context, caseID string) (models.TagSources, error) {
	var src models.TagSources
	err := t.tx.QueryRow(ctx, `
		SELECT c.tags, COALESCE(o.tags, '{}')
		FROM cases c
		LEFT JOIN organisations o ON o.id = c.org_id
		WHERE c.id = $1`, caseID).Scan(&src.Case, &src.Organisation)
	if err != nil {
		return models.TagSources{}, mapErr(err, "case", caseID)
	}

	if src.Goods, err = t.tagLists(ctx, `SELECT tags FROM case_goods WHERE case_id = $1 ORDER BY id`, caseID); err != nil {
		return models.TagSources{}, err
	}
	if src.Destinations, err = t.tagLists(ctx, `SELECT tags FROM case_parties WHERE case_id = $1 AND role = 'destination' ORDER BY id`, caseID); err != nil {
		return models.TagSources{}, err
	}
	return src, nil
}

func (t *tx) tagLists(ctx context.Context, query, caseID string) ([][]string, error) {
	rows, err := t.tx.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var tags []string
		if err := rows.Scan(&tags); err != nil {
			return nil, err
		}
		out = append(out, tags)
	}
	return out, rows.Err()
}

func (t *tx) ListTeams(ctx context.Context) ([]models.Team, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name FROM teams ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Team
	for rows.Next() {
		var team models.Team
		if err := rows.Scan(&team.ID, &team.Name); err != nil {
			return nil, err
		}
		out = append(out, team)
	}
	return out, rows.Err()
}

func (t *tx) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	var q models.Queue
	err := t.tx.QueryRow(ctx, `SELECT id, name, team_id FROM queues WHERE id = $1`, queueID).Scan(&q.ID, &q.Name, &q.TeamID)
	if err != nil {
		return models.Queue{}, mapErr(err, "queue", queueID)
	}
	return q, nil
}

func (t *tx) ListRules(ctx context.Context, teamID string, status models.Status) ([]models.RoutingRule, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, team_id, status, tier, queue_id, reviewer_id, active, tags
		FROM routing_rules
		WHERE team_id = $1 AND status = $2
		ORDER BY tier, id`, teamID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RoutingRule
	for rows.Next() {
		var r models.RoutingRule
		if err := rows.Scan(&r.ID, &r.TeamID, &r.Status, &r.Tier, &r.QueueID, &r.ReviewerID, &r.Active, &r.Tags); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *tx) CaseQueues(ctx context.Context, caseID string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT queue_id FROM case_queues WHERE case_id = $1 ORDER BY queue_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (t *tx) CaseAssignments(ctx context.Context, caseID string) ([]models.Assignment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT case_id, queue_id, reviewer_id, created_at
		FROM case_assignments
		WHERE case_id = $1
		ORDER BY queue_id, reviewer_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Assignment
	for rows.Next() {
		var a models.Assignment
		if err := rows.Scan(&a.CaseID, &a.QueueID, &a.ReviewerID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) ListMovements(ctx context.Context, caseID string) ([]models.MovementRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, seq, case_id, queue_id, actor_id, entered_at, exited_at
		FROM case_queue_movements
		WHERE case_id = $1
		ORDER BY seq`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MovementRecord
	for rows.Next() {
		var m models.MovementRecord
		if err := rows.Scan(&m.ID, &m.Seq, &m.CaseID, &m.QueueID, &m.ActorID, &m.EnteredAt, &m.ExitedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *tx) LatestMovementSeq(ctx context.Context, caseID string) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM case_queue_movements WHERE case_id = $1`, caseID).Scan(&seq)
	return seq, err
}

func (t *tx) GetLicence(ctx context.Context, caseID string) (models.Licence, error) {
	var l models.Licence
	err := t.tx.QueryRow(ctx, `SELECT id, case_id, status, duration_months FROM licences WHERE case_id = $1`, caseID).
		Scan(&l.ID, &l.CaseID, &l.Status, &l.DurationMonths)
	if err != nil {
		return models.Licence{}, mapErr(err, "licence for case", caseID)
	}
	return l, nil
}

func (t *tx) ListAdvice(ctx context.Context, caseID string) ([]models.Advice, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, case_id, department, countersign_order, countersign_tags
		FROM advice
		WHERE case_id = $1
		ORDER BY id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Advice
	for rows.Next() {
		var a models.Advice
		if err := rows.Scan(&a.ID, &a.CaseID, &a.Department, &a.CountersignOrder, &a.CountersignTags); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) ListCountersignDecisions(ctx context.Context, caseID string) ([]models.CountersignDecision, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, case_id, advice_id, decision_order, outcome_accepted, reasons, reviewer_id, created_at, updated_at
		FROM countersign_decisions
		WHERE case_id = $1
		ORDER BY advice_id, decision_order`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CountersignDecision
	for rows.Next() {
		var d models.CountersignDecision
		if err := rows.Scan(&d.ID, &d.CaseID, &d.AdviceID, &d.Order, &d.OutcomeAccepted, &d.Reasons, &d.ReviewerID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *tx) GetAmendment(ctx context.Context, originalCaseID string) (models.Amendment, error) {
	var a models.Amendment
	err := t.tx.QueryRow(ctx, `
		SELECT id, original_case_id, amended_case_id, created_by, created_at
		FROM amendments
		WHERE original_case_id = $1`, originalCaseID).
		Scan(&a.ID, &a.OriginalCaseID, &a.AmendedCaseID, &a.CreatedBy, &a.CreatedAt)
	if err != nil {
		return models.Amendment{}, mapErr(err, "amendment for case", originalCaseID)
	}
	return a, nil
}

func (t *tx) ListAudit(ctx context.Context, caseID string) ([]models.AuditEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, case_id, queue_id, actor_id, verb, payload, created_at
		FROM audit_entries
		WHERE case_id = $1
		ORDER BY pos`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var (
			e       models.AuditEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.QueueID, &e.ActorID, &e.Verb, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *tx) InsertCase(ctx context.Context, c models.Case) error {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cases (id, reference, status, org_id, case_officer_id, tags, status_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Reference, c.Status, c.OrgID, c.CaseOfficerID, tags, c.StatusSeq)
	return mapErr(err, "case", c.ID)
}

func (t *tx) UpdateCaseStatus(ctx context.Context, caseID string, status models.Status, statusSeq int64) error {
	return t.execOne(ctx, "case", caseID,
		`UPDATE cases SET status = $2, status_seq = $3, updated_at = NOW() WHERE id = $1`, caseID, status, statusSeq)
}

func (t *tx) SetCaseOfficer(ctx context.Context, caseID string, officerID *string) error {
	return t.execOne(ctx, "case", caseID,
		`UPDATE cases SET case_officer_id = $2, updated_at = NOW() WHERE id = $1`, caseID, officerID)
}

func (t *tx) RemoveCaseTags(ctx context.Context, caseID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	return t.execOne(ctx, "case", caseID, `
		UPDATE cases
		SET tags = ARRAY(SELECT tag FROM unnest(tags) AS tag WHERE tag <> ALL($2::text[])), updated_at = NOW()
		WHERE id = $1`, caseID, tags)
}

func (t *tx) AddCaseQueue(ctx context.Context, caseID, queueID string) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO case_queues (case_id, queue_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, caseID, queueID)
	return mapErr(err, "case queue", caseID+"/"+queueID)
}

func (t *tx) RemoveCaseQueue(ctx context.Context, caseID, queueID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM case_queues WHERE case_id = $1 AND queue_id = $2`, caseID, queueID)
	return err
}

func (t *tx) InsertAssignment(ctx context.Context, a models.Assignment) (bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO case_assignments (case_id, queue_id, reviewer_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`, a.CaseID, a.QueueID, a.ReviewerID, a.CreatedAt)
	if err != nil {
		return false, mapErr(err, "assignment", a.CaseID)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) DeleteAssignments(ctx context.Context, caseID, queueID string) error {
	if queueID == "" {
		_, err := t.tx.Exec(ctx, `DELETE FROM case_assignments WHERE case_id = $1`, caseID)
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM case_assignments WHERE case_id = $1 AND queue_id = $2`, caseID, queueID)
	return err
}

func (t *tx) InsertMovement(ctx context.Context, m models.MovementRecord) (models.MovementRecord, error) {
	m.ID = uuid.NewString()
	m.ExitedAt = nil
	err := t.tx.QueryRow(ctx, `
		INSERT INTO case_queue_movements (id, case_id, queue_id, actor_id, entered_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`, m.ID, m.CaseID, m.QueueID, m.ActorID, m.EnteredAt).Scan(&m.Seq)
	if err != nil {
		return models.MovementRecord{}, mapErr(err, "open movement", m.CaseID+"/"+m.QueueID)
	}
	return m, nil
}

func (t *tx) CloseMovement(ctx context.Context, movementID string, exitedAt time.Time) error {
	return t.execOne(ctx, "open movement", movementID,
		`UPDATE case_queue_movements SET exited_at = $2 WHERE id = $1 AND exited_at IS NULL`, movementID, exitedAt)
}

func (t *tx) UpdateLicenceStatus(ctx context.Context, licenceID string, status models.LicenceStatus) error {
	return t.execOne(ctx, "licence", licenceID, `UPDATE licences SET status = $2 WHERE id = $1`, licenceID, status)
}

func (t *tx) UpsertCountersignDecision(ctx context.Context, d models.CountersignDecision) (models.CountersignDecision, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO countersign_decisions (id, case_id, advice_id, decision_order, outcome_accepted, reasons, reviewer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (advice_id, decision_order) DO UPDATE SET
			outcome_accepted = EXCLUDED.outcome_accepted,
			reasons = EXCLUDED.reasons,
			reviewer_id = EXCLUDED.reviewer_id,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		d.ID, d.CaseID, d.AdviceID, d.Order, d.OutcomeAccepted, d.Reasons, d.ReviewerID).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.CountersignDecision{}, mapErr(err, "countersign decision", d.AdviceID)
	}
	return d, nil
}

func (t *tx) InsertAmendment(ctx context.Context, a models.Amendment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO amendments (id, original_case_id, amended_case_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.OriginalCaseID, a.AmendedCaseID, a.CreatedBy, a.CreatedAt)
	return mapErr(err, "amendment for case", a.OriginalCaseID)
}

func (t *tx) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO audit_entries (id, case_id, queue_id, actor_id, verb, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.CaseID, e.QueueID, e.ActorID, e.Verb, string(e.Payload), e.CreatedAt)
	return err
}

func (t *tx) UpsertTeam(ctx context.Context, team models.Team) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO teams (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, team.ID, team.Name)
	return err
}

func (t *tx) UpsertQueue(ctx context.Context, q models.Queue) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO queues (id, name, team_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, team_id = EXCLUDED.team_id`, q.ID, q.Name, q.TeamID)
	return mapErr(err, "queue", q.ID)
}

func (t *tx) UpsertRule(ctx context.Context, r models.RoutingRule) error {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO routing_rules (id, team_id, status, tier, queue_id, reviewer_id, active, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			team_id = EXCLUDED.team_id,
			status = EXCLUDED.status,
			tier = EXCLUDED.tier,
			queue_id = EXCLUDED.queue_id,
			reviewer_id = EXCLUDED.reviewer_id,
			active = EXCLUDED.active,
			tags = EXCLUDED.tags`,
		r.ID, r.TeamID, r.Status, r.Tier, r.QueueID, r.ReviewerID, r.Active, tags)
	return mapErr(err, "rule", r.ID)
}

// execOne runs an UPDATE that must touch exactly one row.
func (t *tx) execOne(ctx context.Context, entity, id, query string, args ...any) error {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return mapErr(err, entity, id)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(entity, id)
	}
	return nil
}
