package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseroute/backend/internal/apperr"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/store"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	Pool *pgxpool.Pool
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Migrate creates any missing tables and indexes. It is safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	pgTx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = pgTx.Rollback(ctx)
	}()
	if err := fn(&tx{tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

// IsActive reads the reviewer table outside any routing transaction.
func (s *Store) IsActive(ctx context.Context, reviewerID string) (bool, error) {
	var active bool
	err := s.Pool.QueryRow(ctx, `SELECT active FROM reviewers WHERE id = $1`, reviewerID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

// ImportReviewers bulk loads the reviewer directory into an empty table.
func (s *Store) ImportReviewers(ctx context.Context, reviewers []models.Reviewer) (int64, error) {
	rows := make([][]any, 0, len(reviewers))
	for _, r := range reviewers {
		rows = append(rows, []any{r.ID, r.Name, r.Active})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"reviewers"}, []string{"id", "name", "active"}, pgx.CopyFromRows(rows))
}

// mapErr translates driver errors into apperr sentinels.
func mapErr(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s %q: %w", entity, id, apperr.ErrConflict)
		case foreignKeyViolation:
			return fmt.Errorf("%s %q references a missing %s: %w", entity, id, pgErr.ConstraintName, apperr.ErrNotFound)
		}
	}
	return fmt.Errorf("%s %q: %w", entity, id, err)
}
