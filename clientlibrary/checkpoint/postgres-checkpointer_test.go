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
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/database/models"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
)

// fakeDatastore keeps rows in memory, keyed by collection then partition id.
type fakeDatastore struct {
	rows        map[string]map[string]*models.Checkpoint
	schemaReady bool
	statsCalls  int
	pingErr     error
}

func newFakeDatastore() *fakeDatastore {
	return &fakeDatastore{rows: make(map[string]map[string]*models.Checkpoint)}
}

func (f *fakeDatastore) ServiceName() string                   { return "fake" }
func (f *fakeDatastore) PingContext(ctx context.Context) error { return f.pingErr }
func (f *fakeDatastore) Close() error                          { return nil }

func (f *fakeDatastore) GetDBStats() sql.DBStats {
	f.statsCalls++
	return sql.DBStats{MaxOpenConnections: 4}
}

func (f *fakeDatastore) EnsureSchema(ctx context.Context) error {
	f.schemaReady = true
	return nil
}

func (f *fakeDatastore) GetCheckpoints(ctx context.Context, collection string) ([]*models.Checkpoint, error) {
	var out []*models.Checkpoint
	for _, row := range f.rows[collection] {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeDatastore) SaveCheckpoints(ctx context.Context, checkpoints []*models.Checkpoint) error {
	for _, ck := range checkpoints {
		if f.rows[ck.Collection] == nil {
			f.rows[ck.Collection] = make(map[string]*models.Checkpoint)
		}
		f.rows[ck.Collection][ck.PartitionID] = ck
	}
	return nil
}

func (f *fakeDatastore) RemoveCheckpoint(ctx context.Context, collection, partitionID string) error {
	delete(f.rows[collection], partitionID)
	return nil
}

func TestPostgresCheckpointInit(t *testing.T) {
	db := newFakeDatastore()
	checkpointer := NewPostgresCheckpoint(newTestConfig(), db)
	require.NoError(t, checkpointer.Init(context.Background()))
	assert.True(t, db.schemaReady)
	assert.Equal(t, 1, db.statsCalls)

	down := newFakeDatastore()
	down.pingErr = errors.New("connection refused")
	assert.Error(t, NewPostgresCheckpoint(newTestConfig(), down).Init(context.Background()))
	assert.False(t, down.schemaReady)
	assert.Zero(t, down.statsCalls)
}

func TestPostgresCheckpointRoundTrip(t *testing.T) {
	db := newFakeDatastore()
	checkpointer := NewPostgresCheckpoint(newTestConfig(), db)
	ctx := context.Background()

	checkpoint := par.NewCheckpointFromMap(map[string]string{"A": "10", "B": "4"})
	require.NoError(t, checkpointer.SaveCheckpoint(ctx, checkpoint))
	assert.Equal(t, "db/orders", db.rows["db/orders"]["A"].Collection)
	assert.False(t, db.rows["db/orders"]["A"].UpdatedAt.IsZero())

	checkpoint.Advance("A", "12")
	require.NoError(t, checkpointer.SaveCheckpoint(ctx, checkpoint))

	fetched, err := checkpointer.FetchCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "12", "B": "4"}, fetched.Snapshot())

	require.NoError(t, checkpointer.RemoveCheckpoint(ctx, "B"))
	fetched, err = checkpointer.FetchCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "12"}, fetched.Snapshot())
}
