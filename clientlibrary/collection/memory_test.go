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
package collection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cf "github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
)

var testCollection = cf.CollectionRef{DatabaseID: "db", CollectionID: "orders"}

func TestMemoryEnsureCollection(t *testing.T) {
	m := NewMemoryStore()
	ref, err := m.EnsureCollection(context.Background(), "db", "orders", "/id")
	require.NoError(t, err)
	assert.Equal(t, testCollection, ref)

	require.NoError(t, m.Insert(ref, "0", []byte("a")))

	// ensuring again keeps the data
	_, err = m.EnsureCollection(context.Background(), "db", "orders", "/id")
	require.NoError(t, err)
	out, err := m.ReadPartitionChanges(context.Background(), &cf.ReadPartitionChangesInput{
		Collection: ref, PartitionID: "0", StartFromBeginning: true,
	})
	require.NoError(t, err)
	assert.Len(t, out.Records, 1)

	_, err = m.EnsureCollection(context.Background(), "db", "", "/id")
	assert.Error(t, err)
}

func TestMemoryReadBatches(t *testing.T) {
	m := NewMemoryStore()
	m.CreateCollection(testCollection, "A")
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Insert(testCollection, "A", []byte{byte(i)}))
	}

	ctx := context.Background()
	out, err := m.ReadPartitionChanges(ctx, &cf.ReadPartitionChangesInput{
		Collection: testCollection, PartitionID: "A", StartFromBeginning: true, MaxRecords: 2,
	})
	require.NoError(t, err)
	assert.Len(t, out.Records, 2)
	assert.True(t, out.HasMore)
	assert.Equal(t, "2", out.ContinuationToken)

	out, err = m.ReadPartitionChanges(ctx, &cf.ReadPartitionChangesInput{
		Collection: testCollection, PartitionID: "A", ContinuationToken: "2", MaxRecords: 10,
	})
	require.NoError(t, err)
	assert.Len(t, out.Records, 3)
	assert.False(t, out.HasMore)
	assert.Equal(t, "5", out.ContinuationToken)
	assert.Equal(t, []byte{2}, out.Records[0].Data)

	// nothing new: empty batch without a token
	out, err = m.ReadPartitionChanges(ctx, &cf.ReadPartitionChangesInput{
		Collection: testCollection, PartitionID: "A", ContinuationToken: "5",
	})
	require.NoError(t, err)
	assert.Empty(t, out.Records)
	assert.Empty(t, out.ContinuationToken)
	assert.False(t, out.HasMore)
}

func TestMemoryReadWithoutTokenFromLatest(t *testing.T) {
	m := NewMemoryStore()
	m.CreateCollection(testCollection, "A")
	require.NoError(t, m.Insert(testCollection, "A", []byte("x"), []byte("y")))

	out, err := m.ReadPartitionChanges(context.Background(), &cf.ReadPartitionChangesInput{
		Collection: testCollection, PartitionID: "A",
	})
	require.NoError(t, err)
	assert.Empty(t, out.Records)
}

func TestMemoryRejectsInvalidToken(t *testing.T) {
	m := NewMemoryStore()
	m.CreateCollection(testCollection, "A")
	require.NoError(t, m.Insert(testCollection, "A", []byte("x")))

	for _, token := range []string{"garbage", "-1", "7"} {
		_, err := m.ReadPartitionChanges(context.Background(), &cf.ReadPartitionChangesInput{
			Collection: testCollection, PartitionID: "A", ContinuationToken: token,
		})
		assert.ErrorIs(t, err, cf.ErrInvalidContinuationToken, token)
	}
}

func TestMemoryListingPages(t *testing.T) {
	m := NewMemoryStore()
	m.PageSize = 2
	m.CreateCollection(testCollection, "A", "B", "C")

	ctx := context.Background()
	page, err := m.ListPartitionRangesPage(ctx, testCollection, nil)
	require.NoError(t, err)
	require.Len(t, page.Ranges, 2)
	require.NotNil(t, page.NextPageToken)
	assert.Equal(t, "A", page.Ranges[0].ID)

	page, err = m.ListPartitionRangesPage(ctx, testCollection, page.NextPageToken)
	require.NoError(t, err)
	require.Len(t, page.Ranges, 1)
	assert.Equal(t, "C", page.Ranges[0].ID)
	assert.Nil(t, page.NextPageToken)

	_, err = m.ListPartitionRangesPage(ctx, cf.CollectionRef{CollectionID: "missing"}, nil)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestMemorySplit(t *testing.T) {
	m := NewMemoryStore()
	m.CreateCollection(testCollection, "A")
	require.NoError(t, m.Insert(testCollection, "A", []byte("x")))

	assert.Error(t, m.Split(testCollection, "A", "A1"))
	require.NoError(t, m.Split(testCollection, "A", "A1", "A2"))

	page, err := m.ListPartitionRangesPage(context.Background(), testCollection, nil)
	require.NoError(t, err)
	require.Len(t, page.Ranges, 2)
	assert.Equal(t, "A1", page.Ranges[0].ID)
	assert.Equal(t, []string{"A"}, page.Ranges[0].ParentIDs)

	_, err = m.ReadPartitionChanges(context.Background(), &cf.ReadPartitionChangesInput{
		Collection: testCollection, PartitionID: "A", StartFromBeginning: true,
	})
	assert.ErrorIs(t, err, ErrPartitionGone)
	assert.ErrorIs(t, m.Insert(testCollection, "A", []byte("y")), ErrPartitionGone)
}

func TestMemoryFailureInjection(t *testing.T) {
	m := NewMemoryStore()
	m.CreateCollection(testCollection, "A")
	boom := errors.New("boom")

	m.FailListingPage(2, boom)
	_, err := m.ListPartitionRangesPage(context.Background(), testCollection, nil)
	require.NoError(t, err)
	_, err = m.ListPartitionRangesPage(context.Background(), testCollection, nil)
	assert.Equal(t, boom, err)

	m.FailReads("A", 1, boom)
	input := &cf.ReadPartitionChangesInput{Collection: testCollection, PartitionID: "A", StartFromBeginning: true}
	_, err = m.ReadPartitionChanges(context.Background(), input)
	require.NoError(t, err)
	_, err = m.ReadPartitionChanges(context.Background(), input)
	assert.Equal(t, boom, err)

	m.FailReads("A", 0, nil)
	_, err = m.ReadPartitionChanges(context.Background(), input)
	assert.NoError(t, err)
}
