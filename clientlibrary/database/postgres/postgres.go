/*
 * Copyright (c) 2021 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */

// Package postgres implements the checkpoint datastore on PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/database/models"
)

// DefaultTableName is used when no table name is given.
const DefaultTableName = "change_feed_checkpoints"

// Store is a CheckpointDatastore backed by a PostgreSQL table.
type Store struct {
	db    *sql.DB
	table string
}

// Open connects to the database at dsn, a lib/pq connection string or URL.
func Open(ctx context.Context, dsn, table string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return New(db, table), nil
}

// New wraps an open database handle.
func New(db *sql.DB, table string) *Store {
	if table == "" {
		table = DefaultTableName
	}
	return &Store{db: db, table: pq.QuoteIdentifier(table)}
}

func (s *Store) ServiceName() string {
	return "postgres"
}

func (s *Store) GetDBStats() sql.DBStats {
	return s.db.Stats()
}

func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the checkpoint table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection         TEXT        NOT NULL,
	partition_id       TEXT        NOT NULL,
	continuation_token TEXT        NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, partition_id)
)`, s.table))
	return err
}

func (s *Store) GetCheckpoints(ctx context.Context, collection string) ([]*models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT partition_id, continuation_token, updated_at FROM %s WHERE collection = $1 ORDER BY partition_id`, s.table),
		collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*models.Checkpoint
	for rows.Next() {
		ck := &models.Checkpoint{Collection: collection}
		if err := rows.Scan(&ck.PartitionID, &ck.ContinuationToken, &ck.UpdatedAt); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, ck)
	}
	return checkpoints, rows.Err()
}

// SaveCheckpoints upserts all rows in a single transaction.
func (s *Store) SaveCheckpoints(ctx context.Context, checkpoints []*models.Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (collection, partition_id, continuation_token, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (collection, partition_id)
DO UPDATE SET continuation_token = EXCLUDED.continuation_token, updated_at = EXCLUDED.updated_at`, s.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ck := range checkpoints {
		updatedAt := ck.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, ck.Collection, ck.PartitionID, ck.ContinuationToken, updatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RemoveCheckpoint(ctx context.Context, collection, partitionID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND partition_id = $2`, s.table),
		collection, partitionID)
	return err
}
