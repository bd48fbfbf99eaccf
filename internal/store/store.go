// Package store is the PostgreSQL job state store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "jobpilot-workers/internal/common/errors"
	"jobpilot-workers/internal/common/database"
	"jobpilot-workers/internal/common/logger"
)

var ErrNotFound = errors.New("NOT_FOUND")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// Store owns every read and write against the job tables. A Store obtained
// inside InTx shares the caller's transaction.
type Store struct {
	db     *sql.DB
	q      querier
	logger logger.Logger
}

func New(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		q:      db,
		logger: log.WithFields(map[string]interface{}{"component": "store"}),
	}
}

// InTx runs fn with a Store bound to a single transaction. Errors from fn
// are returned as is; begin and commit failures are retryable.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	var fnErr error
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		fnErr = fn(&Store{db: s.db, q: tx, logger: s.logger})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return dbErr("transaction", err)
	}
	return err
}

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func dbErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return apperrors.NewDatabaseError(op, err)
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func unmarshalMap(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return m, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
