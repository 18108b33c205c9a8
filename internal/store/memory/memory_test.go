package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/store"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.AddTeam(models.Team{ID: "t1", Name: "Team"})
	s.AddQueue(models.Queue{ID: "q1", Name: "Queue", TeamID: "t1"})
	s.AddCase(models.Case{ID: "c1", Status: models.StatusSubmitted, OrgID: "o1", Tags: []string{"a"}})
	return s
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.AddCaseQueue(ctx, "c1", "q1"))
		_, err := tx.InsertMovement(ctx, models.MovementRecord{CaseID: "c1", QueueID: "q1", EnteredAt: time.Now()})
		require.NoError(t, err)
		require.NoError(t, tx.RemoveCaseTags(ctx, "c1", []string{"a"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.Read(ctx, func(r store.Reader) error {
		queues, _ := r.CaseQueues(ctx, "c1")
		assert.Empty(t, queues)
		moves, _ := r.ListMovements(ctx, "c1")
		assert.Empty(t, moves)
		c, _ := r.GetCase(ctx, "c1")
		assert.Equal(t, []string{"a"}, c.Tags)
		return nil
	}))
}

func TestMovementSequenceAndOpenUniqueness(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		first, err := tx.InsertMovement(ctx, models.MovementRecord{CaseID: "c1", QueueID: "q1", EnteredAt: now})
		require.NoError(t, err)

		_, err = tx.InsertMovement(ctx, models.MovementRecord{CaseID: "c1", QueueID: "q1", EnteredAt: now})
		assert.ErrorIs(t, err, apperr.ErrConflict)

		require.NoError(t, tx.CloseMovement(ctx, first.ID, now))
		second, err := tx.InsertMovement(ctx, models.MovementRecord{CaseID: "c1", QueueID: "q1", EnteredAt: now})
		require.NoError(t, err)
		assert.Greater(t, second.Seq, first.Seq, "identical timestamps still get ordered sequence numbers")

		latest, err := tx.LatestMovementSeq(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, second.Seq, latest)
		return nil
	}))
}

func TestInsertAssignmentGuardsDuplicates(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		a := models.Assignment{CaseID: "c1", QueueID: "q1", ReviewerID: "r1"}
		created, err := tx.InsertAssignment(ctx, a)
		require.NoError(t, err)
		assert.True(t, created)
		created, err = tx.InsertAssignment(ctx, a)
		require.NoError(t, err)
		assert.False(t, created)
		got, _ := tx.CaseAssignments(ctx, "c1")
		assert.Len(t, got, 1)
		return nil
	}))
}

func TestInsertAmendmentConflicts(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertAmendment(ctx, models.Amendment{ID: "a1", OriginalCaseID: "c1", AmendedCaseID: "c2"})
	}))
	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertAmendment(ctx, models.Amendment{ID: "a2", OriginalCaseID: "c1", AmendedCaseID: "c3"})
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestTagSourcesOnlyCountsDestinations(t *testing.T) {
	s := seeded(t)
	s.AddParty("c1", "destination", "embargo")
	s.AddParty("c1", "end_user", "ignored")
	s.AddGoods("c1", "ML1a")
	s.AddOrganisation("o1", "trusted")
	ctx := context.Background()
	require.NoError(t, s.Read(ctx, func(r store.Reader) error {
		src, err := r.TagSources(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"embargo"}}, src.Destinations)
		assert.Equal(t, [][]string{{"ML1a"}}, src.Goods)
		assert.Equal(t, []string{"trusted"}, src.Organisation)
		return nil
	}))
}

func TestMissingCaseIsNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.Read(ctx, func(r store.Reader) error {
		_, err := r.GetCase(ctx, "nope")
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
