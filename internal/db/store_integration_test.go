//go:build integration

package db

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/ledger"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/routing"
	"github.com/caseroute/backend/internal/store"
)

type StoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	store     *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("caseroute"),
		tcpostgres.WithUsername("caseroute"),
		tcpostgres.WithPassword("caseroute"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err, "start postgres container")
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.store, err = New(ctx, dsn)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Migrate(ctx))
	// Migrate twice to prove it is idempotent.
	s.Require().NoError(s.store.Migrate(ctx))
}

func (s *StoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *StoreSuite) SetupTest() {
	_, err := s.store.Pool.Exec(context.Background(), `
		TRUNCATE audit_entries, amendments, countersign_decisions, advice, licences, reviewers,
			case_queue_movements, case_assignments, case_queues, routing_rules, queues, teams,
			case_parties, case_goods, cases, organisations`)
	s.Require().NoError(err)
}

func (s *StoreSuite) exec(query string, args ...any) {
	_, err := s.store.Pool.Exec(context.Background(), query, args...)
	s.Require().NoError(err)
}

func (s *StoreSuite) seedCase(id string, status models.Status, tags ...string) {
	if tags == nil {
		tags = []string{}
	}
	s.exec(`INSERT INTO cases (id, reference, status, org_id, tags) VALUES ($1, $2, $3, 'org-1', $4)`,
		id, "GBSIEL/"+id, status, tags)
}

func (s *StoreSuite) TestTagSources() {
	ctx := context.Background()
	s.exec(`INSERT INTO organisations (id, tags) VALUES ('org-1', '{trusted}')`)
	s.seedCase("c1", models.StatusSubmitted, "military")
	s.exec(`INSERT INTO case_goods (case_id, tags) VALUES ('c1', '{firearms}')`)
	s.exec(`INSERT INTO case_parties (case_id, role, tags) VALUES ('c1', 'destination', '{ukraine}'), ('c1', 'end_user', '{ignored}')`)

	s.Require().NoError(s.store.WithTx(ctx, func(tx store.Tx) error {
		src, err := tx.TagSources(ctx, "c1")
		s.Require().NoError(err)
		s.Equal([]string{"military"}, src.Case)
		s.Equal([]string{"trusted"}, src.Organisation)
		s.Equal([][]string{{"firearms"}}, src.Goods)
		s.Equal([][]string{{"ukraine"}}, src.Destinations)
		return nil
	}))
}

func (s *StoreSuite) TestMovementConstraints() {
	ctx := context.Background()
	s.exec(`INSERT INTO teams (id, name) VALUES ('t1', 'Team')`)
	s.exec(`INSERT INTO queues (id, name, team_id) VALUES ('q1', 'Queue', 't1')`)
	s.seedCase("c1", models.StatusSubmitted)
	actor := models.SystemActor("system")
	now := time.Now().UTC().Truncate(time.Microsecond)

	var first models.MovementRecord
	s.Require().NoError(s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		first, err = ledger.Open(ctx, tx, "c1", "q1", actor, now)
		return err
	}))

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := ledger.Open(ctx, tx, "c1", "q1", actor, now)
		return err
	})
	s.ErrorIs(err, apperr.ErrConflict)

	s.Require().NoError(s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := ledger.Close(ctx, tx, "c1", "q1", now); err != nil {
			return err
		}
		second, err := ledger.Open(ctx, tx, "c1", "q1", actor, now)
		if err != nil {
			return err
		}
		s.Greater(second.Seq, first.Seq)
		return nil
	}))
}

func (s *StoreSuite) TestAmendmentUniqueness() {
	ctx := context.Background()
	s.seedCase("c1", models.StatusSubmitted)
	s.seedCase("c2", models.StatusDraft)
	s.seedCase("c3", models.StatusDraft)

	insert := func(id, amended string) error {
		return s.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.InsertAmendment(ctx, models.Amendment{ID: id, OriginalCaseID: "c1", AmendedCaseID: amended, CreatedBy: "u1", CreatedAt: time.Now()})
		})
	}
	s.Require().NoError(insert("a1", "c2"))
	s.ErrorIs(insert("a2", "c3"), apperr.ErrConflict)
}

func (s *StoreSuite) TestRoutingPassAgainstPostgres() {
	ctx := context.Background()
	s.exec(`INSERT INTO teams (id, name) VALUES ('enf', 'Enforcement')`)
	s.exec(`INSERT INTO queues (id, name, team_id) VALUES ('review', 'Enforcement Review', 'enf'), ('triage', 'Enforcement Triage', 'enf')`)
	s.exec(`INSERT INTO reviewers (id, name, active) VALUES ('alice', 'Alice', TRUE)`)
	s.exec(`INSERT INTO routing_rules (id, team_id, status, tier, queue_id, reviewer_id, tags) VALUES
		('r1', 'enf', 'submitted', 1, 'review', 'alice', '{maritime_anti_piracy}'),
		('r2', 'enf', 'submitted', 2, 'triage', NULL, '{}')`)
	s.seedCase("c1", models.StatusSubmitted, "maritime_anti_piracy")

	engine := routing.NewEngine(s.store, s.store, models.SystemActor("system"), nil, zerolog.Nop())
	res, err := engine.RouteCase(ctx, "c1", models.SystemActor("system"), false)
	s.Require().NoError(err)
	s.Equal([]string{"review"}, res.Queues)
	s.Len(res.Assignments, 1)

	// A second pass leaves the same picture behind.
	_, err = engine.RouteCase(ctx, "c1", models.SystemActor("system"), false)
	s.Require().NoError(err)
	s.Require().NoError(s.store.WithTx(ctx, func(tx store.Tx) error {
		queues, err := tx.CaseQueues(ctx, "c1")
		s.Require().NoError(err)
		open, err := ledger.OpenQueues(ctx, tx, "c1")
		s.Require().NoError(err)
		s.Equal(queues, open)

		entries, err := tx.ListAudit(ctx, "c1")
		s.Require().NoError(err)
		s.Len(entries, 2)
		s.JSONEq(`{"queues":["Enforcement Review"],"rule_id":"r1","tier":1}`, string(entries[0].Payload))
		return nil
	}))
}

func (s *StoreSuite) TestReviewerDirectory() {
	ctx := context.Background()
	n, err := s.store.ImportReviewers(ctx, []models.Reviewer{{ID: "alice", Name: "Alice", Active: true}, {ID: "bob", Name: "Bob"}})
	s.Require().NoError(err)
	s.EqualValues(2, n)

	active, err := s.store.IsActive(ctx, "alice")
	s.Require().NoError(err)
	s.True(active)
	active, err = s.store.IsActive(ctx, "bob")
	s.Require().NoError(err)
	s.False(active)
	active, err = s.store.IsActive(ctx, "ghost")
	s.Require().NoError(err)
	s.False(active)
}
