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
	"fmt"
	"strconv"
	"sync"
	"time"

	cf "github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
)

// DefaultMemoryBatchSize is the batch size of MemoryStore when a read sets no cap.
const DefaultMemoryBatchSize = 100

var (
	// ErrCollectionNotFound is returned for collections that were never ensured.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrPartitionGone is returned when reading a partition that was split away.
	ErrPartitionGone = errors.New("partition is gone")
)

// MemoryStore is an in-process change feed store. Tokens are the number of records consumed
// from the partition, so they are stable across reads and easy to inspect in tests.
type MemoryStore struct {
	mux         sync.Mutex
	collections map[string]*memCollection

	// BatchSize caps a read when the request sets no cap.
	BatchSize int
	// PageSize caps a listing page. Zero lists everything in one page.
	PageSize int

	listFailures map[int]error
	listCalls    int
	readFailures map[string]*readFailure
}

type memCollection struct {
	order      []string
	partitions map[string]*memPartition
}

type memPartition struct {
	rng     par.PartitionRange
	records []*cf.ChangeRecord
	retired bool
}

type readFailure struct {
	after int
	err   error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections:  make(map[string]*memCollection),
		BatchSize:    DefaultMemoryBatchSize,
		listFailures: make(map[int]error),
		readFailures: make(map[string]*readFailure),
	}
}

// EnsureCollection creates the collection with a single partition if it does not exist.
func (m *MemoryStore) EnsureCollection(ctx context.Context, databaseID, collectionID, partitionKeyPath string) (cf.CollectionRef, error) {
	ref := cf.CollectionRef{DatabaseID: databaseID, CollectionID: collectionID}
	if collectionID == "" {
		return ref, errors.New("collection id cannot be empty")
	}

	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.collections[ref.String()]; !ok {
		m.collections[ref.String()] = newMemCollection("0")
	}
	return ref, nil
}

// CreateCollection creates or replaces a collection with the given partitions, in listing order.
func (m *MemoryStore) CreateCollection(ref cf.CollectionRef, partitionIDs ...string) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.collections[ref.String()] = newMemCollection(partitionIDs...)
}

// AddPartition adds an empty partition to an ensured collection.
func (m *MemoryStore) AddPartition(collection cf.CollectionRef, partitionID string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	if _, ok := c.partitions[partitionID]; ok {
		return fmt.Errorf("partition %s already exists", partitionID)
	}
	c.add(par.PartitionRange{ID: partitionID})
	return nil
}

// Insert appends one change per payload to the partition.
func (m *MemoryStore) Insert(collection cf.CollectionRef, partitionID string, payloads ...[]byte) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	p, ok := c.partitions[partitionID]
	if !ok || p.retired {
		return fmt.Errorf("partition %s: %w", partitionID, ErrPartitionGone)
	}
	for _, data := range payloads {
		p.records = append(p.records, &cf.ChangeRecord{
			PartitionKey:   partitionID,
			SequenceNumber: strconv.Itoa(len(p.records) + 1),
			Data:           data,
			ArrivalTime:    time.Now(),
		})
	}
	return nil
}

// Split retires the parent partition and replaces it with empty children. The parent is no
// longer listed and reading it fails with ErrPartitionGone.
func (m *MemoryStore) Split(collection cf.CollectionRef, parentID string, childIDs ...string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	parent, ok := c.partitions[parentID]
	if !ok || parent.retired {
		return fmt.Errorf("partition %s: %w", parentID, ErrPartitionGone)
	}
	if len(childIDs) < 2 {
		return errors.New("a split needs at least two children")
	}
	for _, id := range childIDs {
		if _, ok := c.partitions[id]; ok {
			return fmt.Errorf("partition %s already exists", id)
		}
	}
	parent.retired = true
	for _, id := range childIDs {
		c.add(par.PartitionRange{ID: id, ParentIDs: []string{parentID}})
	}
	return nil
}

// FailListingPage makes the listing fail with err on the given page, counted from 1 across calls.
func (m *MemoryStore) FailListingPage(page int, err error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.listFailures[page] = err
}

// FailReads makes reads of the partition fail with err once it served the given number of reads.
// A nil err removes the failure.
func (m *MemoryStore) FailReads(partitionID string, after int, err error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if err == nil {
		delete(m.readFailures, partitionID)
		return
	}
	m.readFailures[partitionID] = &readFailure{after: after, err: err}
}

// ListPartitionRangesPage lists the live partitions. Page tokens are offsets into the listing.
func (m *MemoryStore) ListPartitionRangesPage(ctx context.Context, collection cf.CollectionRef, pageToken *string) (*cf.ListPartitionRangesOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mux.Lock()
	defer m.mux.Unlock()
	m.listCalls++
	if err, ok := m.listFailures[m.listCalls]; ok {
		return nil, err
	}

	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}

	var live []par.PartitionRange
	for _, id := range c.order {
		if p := c.partitions[id]; !p.retired {
			live = append(live, p.rng)
		}
	}

	offset := 0
	if pageToken != nil {
		if offset, err = strconv.Atoi(*pageToken); err != nil || offset < 0 || offset > len(live) {
			return nil, fmt.Errorf("invalid page token %q", *pageToken)
		}
	}

	end := len(live)
	if m.PageSize > 0 && offset+m.PageSize < end {
		end = offset + m.PageSize
	}
	out := &cf.ListPartitionRangesOutput{Ranges: append([]par.PartitionRange(nil), live[offset:end]...)}
	if end < len(live) {
		next := strconv.Itoa(end)
		out.NextPageToken = &next
	}
	return out, nil
}

// ReadPartitionChanges returns the records after the token. A token past the end of the
// partition, or one that is not a record count, is rejected with ErrInvalidContinuationToken.
func (m *MemoryStore) ReadPartitionChanges(ctx context.Context, input *cf.ReadPartitionChangesInput) (*cf.ReadPartitionChangesOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mux.Lock()
	defer m.mux.Unlock()
	if f, ok := m.readFailures[input.PartitionID]; ok {
		if f.after <= 0 {
			return nil, f.err
		}
		f.after--
	}

	c, err := m.collection(input.Collection)
	if err != nil {
		return nil, err
	}
	p, ok := c.partitions[input.PartitionID]
	if !ok || p.retired {
		return nil, fmt.Errorf("partition %s: %w", input.PartitionID, ErrPartitionGone)
	}

	offset := 0
	switch {
	case input.ContinuationToken != "":
		offset, err = strconv.Atoi(input.ContinuationToken)
		if err != nil || offset < 0 || offset > len(p.records) {
			return nil, fmt.Errorf("token %q of partition %s: %w", input.ContinuationToken, input.PartitionID, cf.ErrInvalidContinuationToken)
		}
	case !input.StartFromBeginning:
		offset = len(p.records)
	}

	batch := input.MaxRecords
	if batch <= 0 {
		batch = m.BatchSize
	}
	end := len(p.records)
	if batch > 0 && offset+batch < end {
		end = offset + batch
	}

	out := &cf.ReadPartitionChangesOutput{
		Records: append([]*cf.ChangeRecord(nil), p.records[offset:end]...),
		HasMore: end < len(p.records),
	}
	if end > offset {
		out.ContinuationToken = strconv.Itoa(end)
	}
	return out, nil
}

// collection must be called with m.mux held.
func (m *MemoryStore) collection(ref cf.CollectionRef) (*memCollection, error) {
	c, ok := m.collections[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrCollectionNotFound)
	}
	return c, nil
}

func newMemCollection(partitionIDs ...string) *memCollection {
	c := &memCollection{partitions: make(map[string]*memPartition)}
	for _, id := range partitionIDs {
		c.add(par.PartitionRange{ID: id})
	}
	return c
}

func (c *memCollection) add(rng par.PartitionRange) {
	c.order = append(c.order, rng.ID)
	c.partitions[rng.ID] = &memPartition{rng: rng}
}
