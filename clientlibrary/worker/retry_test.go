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
package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/collection"
	cf "github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
)

// flakyStore fails the first reads, then serves the memory store.
type flakyStore struct {
	*collection.MemoryStore
	failures int
	reads    int
}

func (f *flakyStore) ReadPartitionChanges(ctx context.Context, input *cf.ReadPartitionChangesInput) (*cf.ReadPartitionChangesOutput, error) {
	f.reads++
	if f.failures > 0 {
		f.failures--
		return nil, errBoom
	}
	return f.MemoryStore.ReadPartitionChanges(ctx, input)
}

func TestRetryingReaderRecovers(t *testing.T) {
	store := &flakyStore{MemoryStore: newTestStore(t, map[string]int{"A": 5}, "A"), failures: 2}
	reader := NewRetryingReader(NewReader(newTestConfig().WithRetry(3, 0)).WithStore(store))

	checkpoint, count, err := reader.ReadChanges(context.Background(), testCollection, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, map[string]string{"A": "5"}, checkpoint.Snapshot())
	assert.Equal(t, 3, store.reads)
}

func TestRetryingReaderGivesUp(t *testing.T) {
	store := &flakyStore{MemoryStore: newTestStore(t, map[string]int{"A": 5}, "A"), failures: 10}
	reader := NewRetryingReader(NewReader(newTestConfig().WithRetry(3, 0)).WithStore(store))

	_, count, err := reader.ReadChanges(context.Background(), testCollection, nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, count)
	assert.Equal(t, 3, store.reads)
}

func TestRetryingReaderKeepsProgressAcrossAttempts(t *testing.T) {
	mem := newTestStore(t, map[string]int{"A": 6, "B": 4}, "A", "B")
	mem.FailReads("B", 1, errBoom)
	reader := NewRetryingReader(NewReader(newTestConfig().WithMaxRecords(2).WithRetry(2, 0)).WithStore(mem))

	checkpoint := par.NewCheckpoint()
	count, err := reader.Read(context.Background(), testCollection, checkpoint, nil)
	require.Error(t, err)
	// first attempt: all of A and one batch of B, second attempt fails right away
	assert.Equal(t, 8, count)
	assert.Equal(t, map[string]string{"A": "6", "B": "2"}, checkpoint.Snapshot())
}

func TestRetryingReaderDoesNotRetryInvalidToken(t *testing.T) {
	store := &flakyStore{MemoryStore: newTestStore(t, map[string]int{"A": 5}, "A")}
	reader := NewRetryingReader(NewReader(newTestConfig().WithRetry(5, 0)).WithStore(store))

	checkpoint := par.NewCheckpointFromMap(map[string]string{"A": "bogus"})
	_, _, err := reader.ReadChanges(context.Background(), testCollection, checkpoint)
	assert.ErrorIs(t, err, cf.ErrInvalidContinuationToken)
	assert.Equal(t, 1, store.reads)
}

func TestRetryingReaderStopsOnCancellation(t *testing.T) {
	store := &flakyStore{MemoryStore: newTestStore(t, map[string]int{"A": 5}, "A"), failures: 10}
	reader := NewRetryingReader(NewReader(newTestConfig().WithRetry(5, 0)).WithStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := reader.ReadChanges(ctx, testCollection, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.reads)
}
