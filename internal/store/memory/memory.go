// Package memory is an in-process store.Store. A transaction works on a deep
// copy of the state and swaps it in on commit, so a failed transaction leaves
// no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/store"
)

type party struct {
	Role string
	Tags []string
}

type state struct {
	cases       map[string]models.Case
	goods       map[string][][]string
	parties     map[string][]party
	orgs        map[string][]string
	teams       map[string]models.Team
	queues      map[string]models.Queue
	rules       map[string]models.RoutingRule
	caseQueues  map[string]map[string]struct{}
	assignments []models.Assignment
	movements   []models.MovementRecord
	seq         int64
	licences    map[string]models.Licence
	advice      map[string]models.Advice
	decisions   map[string]models.CountersignDecision
	amendments  map[string]models.Amendment
	audit       []models.AuditEntry
}

func newState() *state {
	return &state{
		cases:      map[string]models.Case{},
		goods:      map[string][][]string{},
		parties:    map[string][]party{},
		orgs:       map[string][]string{},
		teams:      map[string]models.Team{},
		queues:     map[string]models.Queue{},
		rules:      map[string]models.RoutingRule{},
		caseQueues: map[string]map[string]struct{}{},
		licences:   map[string]models.Licence{},
		advice:     map[string]models.Advice{},
		decisions:  map[string]models.CountersignDecision{},
		amendments: map[string]models.Amendment{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.cases {
		v.Tags = cloneStrings(v.Tags)
		if v.CaseOfficerID != nil {
			id := *v.CaseOfficerID
			v.CaseOfficerID = &id
		}
		c.cases[k] = v
	}
	for k, v := range s.goods {
		c.goods[k] = cloneNested(v)
	}
	for k, v := range s.parties {
		ps := make([]party, len(v))
		for i, p := range v {
			ps[i] = party{Role: p.Role, Tags: cloneStrings(p.Tags)}
		}
		c.parties[k] = ps
	}
	for k, v := range s.orgs {
		c.orgs[k] = cloneStrings(v)
	}
	for k, v := range s.teams {
		c.teams[k] = v
	}
	for k, v := range s.queues {
		c.queues[k] = v
	}
	for k, v := range s.rules {
		v.Tags = cloneStrings(v.Tags)
		c.rules[k] = v
	}
	for k, v := range s.caseQueues {
		m := make(map[string]struct{}, len(v))
		for q := range v {
			m[q] = struct{}{}
		}
		c.caseQueues[k] = m
	}
	c.assignments = append([]models.Assignment(nil), s.assignments...)
	c.movements = make([]models.MovementRecord, len(s.movements))
	for i, m := range s.movements {
		if m.ExitedAt != nil {
			t := *m.ExitedAt
			m.ExitedAt = &t
		}
		c.movements[i] = m
	}
	c.seq = s.seq
	for k, v := range s.licences {
		c.licences[k] = v
	}
	for k, v := range s.advice {
		v.CountersignTags = cloneStrings(v.CountersignTags)
		c.advice[k] = v
	}
	for k, v := range s.decisions {
		c.decisions[k] = v
	}
	for k, v := range s.amendments {
		c.amendments[k] = v
	}
	c.audit = append([]models.AuditEntry(nil), s.audit...)
	return c
}

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time

	// reviewers are consulted from inside transactions, so they sit behind
	// their own lock.
	dirMu     sync.RWMutex
	reviewers map[string]models.Reviewer
}

func New() *Store {
	return &Store{state: newState(), now: time.Now, reviewers: map[string]models.Reviewer{}}
}

// WithTx serializes transactions; fn sees a private copy of the state.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Read runs fn against the committed state without a copy.
func (s *Store) Read(ctx context.Context, fn func(r store.Reader) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{st: s.state, now: s.now})
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// IsActive backs the reviewer directory when no external one is configured.
func (s *Store) IsActive(_ context.Context, reviewerID string) (bool, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	r, ok := s.reviewers[reviewerID]
	return ok && r.Active, nil
}

func (s *Store) AddCase(c models.Case) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	s.state.cases[c.ID] = c
}

func (s *Store) AddGoods(caseID string, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.goods[caseID] = append(s.state.goods[caseID], tags)
}

func (s *Store) AddParty(caseID, role string, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.parties[caseID] = append(s.state.parties[caseID], party{Role: role, Tags: tags})
}

func (s *Store) AddOrganisation(orgID string, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.orgs[orgID] = tags
}

func (s *Store) AddTeam(t models.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.teams[t.ID] = t
}

func (s *Store) AddQueue(q models.Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.queues[q.ID] = q
}

func (s *Store) AddRule(r models.RoutingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.state.rules[r.ID] = r
}

func (s *Store) AddReviewer(r models.Reviewer) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.reviewers[r.ID] = r
}

func (s *Store) AddLicence(l models.Licence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.licences[l.CaseID] = l
}

func (s *Store) AddAdvice(a models.Advice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.advice[a.ID] = a
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) GetCase(_ context.Context, caseID string) (models.Case, error) {
	c, ok := t.st.cases[caseID]
	if !ok {
		return models.Case{}, apperr.NotFound("case", caseID)
	}
	c.Tags = cloneStrings(c.Tags)
	return c, nil
}

func (t *tx) TagSources(ctx context.Context, caseID string) (models.TagSources, error) {
	c, err := t.GetCase(ctx, caseID)
	if err != nil {
		return models.TagSources{}, err
	}
	src := models.TagSources{
		Case:         c.Tags,
		Goods:        cloneNested(t.st.goods[caseID]),
		Organisation: cloneStrings(t.st.orgs[c.OrgID]),
	}
	for _, p := range t.st.parties[caseID] {
		if p.Role == "destination" {
			src.Destinations = append(src.Destinations, cloneStrings(p.Tags))
		}
	}
	return src, nil
}

func (t *tx) ListTeams(_ context.Context) ([]models.Team, error) {
	out := make([]models.Team, 0, len(t.st.teams))
	for _, team := range t.st.teams {
		out = append(out, team)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) GetQueue(_ context.Context, queueID string) (models.Queue, error) {
	q, ok := t.st.queues[queueID]
	if !ok {
		return models.Queue{}, apperr.NotFound("queue", queueID)
	}
	return q, nil
}

func (t *tx) ListRules(_ context.Context, teamID string, status models.Status) ([]models.RoutingRule, error) {
	var out []models.RoutingRule
	for _, r := range t.st.rules {
		if r.TeamID == teamID && r.Status == status {
			r.Tags = cloneStrings(r.Tags)
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tx) CaseQueues(_ context.Context, caseID string) ([]string, error) {
	out := make([]string, 0, len(t.st.caseQueues[caseID]))
	for q := range t.st.caseQueues[caseID] {
		out = append(out, q)
	}
	sort.Strings(out)
	return out, nil
}

func (t *tx) CaseAssignments(_ context.Context, caseID string) ([]models.Assignment, error) {
	var out []models.Assignment
	for _, a := range t.st.assignments {
		if a.CaseID == caseID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *tx) ListMovements(_ context.Context, caseID string) ([]models.MovementRecord, error) {
	var out []models.MovementRecord
	for _, m := range t.st.movements {
		if m.CaseID == caseID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (t *tx) LatestMovementSeq(_ context.Context, caseID string) (int64, error) {
	var latest int64
	for _, m := range t.st.movements {
		if m.CaseID == caseID && m.Seq > latest {
			latest = m.Seq
		}
	}
	return latest, nil
}

func (t *tx) GetLicence(_ context.Context, caseID string) (models.Licence, error) {
	l, ok := t.st.licences[caseID]
	if !ok {
		return models.Licence{}, apperr.NotFound("licence for case", caseID)
	}
	return l, nil
}

func (t *tx) ListAdvice(_ context.Context, caseID string) ([]models.Advice, error) {
	var out []models.Advice
	for _, a := range t.st.advice {
		if a.CaseID == caseID {
			a.CountersignTags = cloneStrings(a.CountersignTags)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) ListCountersignDecisions(_ context.Context, caseID string) ([]models.CountersignDecision, error) {
	var out []models.CountersignDecision
	for _, d := range t.st.decisions {
		if d.CaseID == caseID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AdviceID == out[j].AdviceID {
			return out[i].Order.Level() < out[j].Order.Level()
		}
		return out[i].AdviceID < out[j].AdviceID
	})
	return out, nil
}

func (t *tx) GetAmendment(_ context.Context, originalCaseID string) (models.Amendment, error) {
	a, ok := t.st.amendments[originalCaseID]
	if !ok {
		return models.Amendment{}, apperr.NotFound("amendment for case", originalCaseID)
	}
	return a, nil
}

func (t *tx) ListAudit(_ context.Context, caseID string) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, e := range t.st.audit {
		if e.CaseID != nil && *e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) InsertCase(_ context.Context, c models.Case) error {
	if _, ok := t.st.cases[c.ID]; ok {
		return fmt.Errorf("case %q: %w", c.ID, apperr.ErrConflict)
	}
	now := t.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Tags = cloneStrings(c.Tags)
	t.st.cases[c.ID] = c
	return nil
}

func (t *tx) UpdateCaseStatus(_ context.Context, caseID string, status models.Status, statusSeq int64) error {
	c, ok := t.st.cases[caseID]
	if !ok {
		return apperr.NotFound("case", caseID)
	}
	c.Status = status
	c.StatusSeq = statusSeq
	c.UpdatedAt = t.now().UTC()
	t.st.cases[caseID] = c
	return nil
}

func (t *tx) SetCaseOfficer(_ context.Context, caseID string, officerID *string) error {
	c, ok := t.st.cases[caseID]
	if !ok {
		return apperr.NotFound("case", caseID)
	}
	c.CaseOfficerID = officerID
	t.st.cases[caseID] = c
	return nil
}

func (t *tx) RemoveCaseTags(_ context.Context, caseID string, tags []string) error {
	c, ok := t.st.cases[caseID]
	if !ok {
		return apperr.NotFound("case", caseID)
	}
	drop := map[string]struct{}{}
	for _, tag := range tags {
		drop[tag] = struct{}{}
	}
	kept := c.Tags[:0:0]
	for _, tag := range c.Tags {
		if _, ok := drop[tag]; !ok {
			kept = append(kept, tag)
		}
	}
	c.Tags = kept
	t.st.cases[caseID] = c
	return nil
}

func (t *tx) AddCaseQueue(_ context.Context, caseID, queueID string) error {
	if _, ok := t.st.cases[caseID]; !ok {
		return apperr.NotFound("case", caseID)
	}
	if _, ok := t.st.queues[queueID]; !ok {
		return apperr.NotFound("queue", queueID)
	}
	if t.st.caseQueues[caseID] == nil {
		t.st.caseQueues[caseID] = map[string]struct{}{}
	}
	t.st.caseQueues[caseID][queueID] = struct{}{}
	return nil
}

func (t *tx) RemoveCaseQueue(_ context.Context, caseID, queueID string) error {
	delete(t.st.caseQueues[caseID], queueID)
	return nil
}

func (t *tx) InsertAssignment(_ context.Context, a models.Assignment) (bool, error) {
	for _, existing := range t.st.assignments {
		if existing.CaseID == a.CaseID && existing.QueueID == a.QueueID && existing.ReviewerID == a.ReviewerID {
			return false, nil
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.now().UTC()
	}
	t.st.assignments = append(t.st.assignments, a)
	return true, nil
}

func (t *tx) DeleteAssignments(_ context.Context, caseID, queueID string) error {
	kept := t.st.assignments[:0:0]
	for _, a := range t.st.assignments {
		if a.CaseID == caseID && (queueID == "" || a.QueueID == queueID) {
			continue
		}
		kept = append(kept, a)
	}
	t.st.assignments = kept
	return nil
}

func (t *tx) InsertMovement(_ context.Context, m models.MovementRecord) (models.MovementRecord, error) {
	for _, existing := range t.st.movements {
		if existing.CaseID == m.CaseID && existing.QueueID == m.QueueID && existing.Open() {
			return models.MovementRecord{}, fmt.Errorf("open movement for case %q on queue %q: %w", m.CaseID, m.QueueID, apperr.ErrConflict)
		}
	}
	t.st.seq++
	m.ID = uuid.NewString()
	m.Seq = t.st.seq
	m.ExitedAt = nil
	t.st.movements = append(t.st.movements, m)
	return m, nil
}

func (t *tx) CloseMovement(_ context.Context, movementID string, exitedAt time.Time) error {
	for i, m := range t.st.movements {
		if m.ID == movementID {
			if !m.Open() {
				return fmt.Errorf("movement %q already closed: %w", movementID, apperr.ErrConflict)
			}
			at := exitedAt
			t.st.movements[i].ExitedAt = &at
			return nil
		}
	}
	return apperr.NotFound("movement", movementID)
}

func (t *tx) UpdateLicenceStatus(_ context.Context, licenceID string, status models.LicenceStatus) error {
	for caseID, l := range t.st.licences {
		if l.ID == licenceID {
			l.Status = status
			t.st.licences[caseID] = l
			return nil
		}
	}
	return apperr.NotFound("licence", licenceID)
}

func (t *tx) UpsertCountersignDecision(_ context.Context, d models.CountersignDecision) (models.CountersignDecision, error) {
	now := t.now().UTC()
	for id, existing := range t.st.decisions {
		if existing.AdviceID == d.AdviceID && existing.Order == d.Order {
			d.ID = id
			d.CreatedAt = existing.CreatedAt
			d.UpdatedAt = now
			t.st.decisions[id] = d
			return d, nil
		}
	}
	d.ID = uuid.NewString()
	d.CreatedAt, d.UpdatedAt = now, now
	t.st.decisions[d.ID] = d
	return d, nil
}

func (t *tx) InsertAmendment(_ context.Context, a models.Amendment) error {
	if _, ok := t.st.amendments[a.OriginalCaseID]; ok {
		return fmt.Errorf("amendment for case %q: %w", a.OriginalCaseID, apperr.ErrConflict)
	}
	t.st.amendments[a.OriginalCaseID] = a
	return nil
}

func (t *tx) AppendAudit(_ context.Context, e models.AuditEntry) error {
	t.st.audit = append(t.st.audit, e)
	return nil
}

func (t *tx) UpsertTeam(_ context.Context, team models.Team) error {
	t.st.teams[team.ID] = team
	return nil
}

func (t *tx) UpsertQueue(_ context.Context, q models.Queue) error {
	if _, ok := t.st.teams[q.TeamID]; !ok {
		return apperr.NotFound("team", q.TeamID)
	}
	t.st.queues[q.ID] = q
	return nil
}

func (t *tx) UpsertRule(_ context.Context, r models.RoutingRule) error {
	if _, ok := t.st.queues[r.QueueID]; !ok {
		return apperr.NotFound("queue", r.QueueID)
	}
	r.Tags = cloneStrings(r.Tags)
	t.st.rules[r.ID] = r
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneNested(in [][]string) [][]string {
	if in == nil {
		return nil
	}
	out := make([][]string, len(in))
	for i, v := range in {
		out[i] = cloneStrings(v)
	}
	return out
}
