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
package partition

import (
	"sort"
	"sync"
)

// PartitionRange is one slice of a collection's partition key space as reported by the store.
// Ranges split over time: the parent id is retired and two or more children replace it.
type PartitionRange struct {
	// ID is opaque and unique within the collection at a point in time.
	ID string

	// ParentIDs lists the ranges this one was split or merged from. Informational only,
	// a child never inherits a position from its parents.
	ParentIDs []string

	// Key space covered by the range, as reported by the store.
	KeyRangeStart string
	KeyRangeEnd   string
}

// Checkpoint maps partition range id to the opaque continuation token of the last consumed batch.
//
// A missing entry means the partition is read from the beginning of its stream. Entries are only
// ever advanced, never removed, by the reader; entries of retired ranges stay behind and are inert.
// The zero value is an empty checkpoint ready to use, and it is safe for concurrent use.
type Checkpoint struct {
	mux    sync.RWMutex
	tokens map[string]string
}

// NewCheckpoint returns an empty checkpoint.
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{tokens: make(map[string]string)}
}

// NewCheckpointFromMap loads a checkpoint from its serialized form. Empty tokens are skipped.
func NewCheckpointFromMap(tokens map[string]string) *Checkpoint {
	c := NewCheckpoint()
	for id, token := range tokens {
		if token != "" {
			c.tokens[id] = token
		}
	}
	return c
}

// Get returns the stored token for the partition and whether there is one.
func (c *Checkpoint) Get(partitionID string) (string, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()
	token, ok := c.tokens[partitionID]
	return token, ok
}

// Advance stores the token returned by a read of the partition. An empty token carries no
// position and is ignored. It reports whether the stored value changed.
func (c *Checkpoint) Advance(partitionID, token string) bool {
	if token == "" {
		return false
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	if c.tokens == nil {
		c.tokens = make(map[string]string)
	}
	if c.tokens[partitionID] == token {
		return false
	}
	c.tokens[partitionID] = token
	return true
}

// Len returns the number of partitions with a stored token.
func (c *Checkpoint) Len() int {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return len(c.tokens)
}

// PartitionIDs returns the ids with a stored token in sorted order.
func (c *Checkpoint) PartitionIDs() []string {
	c.mux.RLock()
	defer c.mux.RUnlock()
	ids := make([]string, 0, len(c.tokens))
	for id := range c.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies the checkpoint into a plain map, the form persisted by checkpoint stores.
func (c *Checkpoint) Snapshot() map[string]string {
	c.mux.RLock()
	defer c.mux.RUnlock()
	out := make(map[string]string, len(c.tokens))
	for id, token := range c.tokens {
		out[id] = token
	}
	return out
}

// Retain drops the entries of partitions absent from ranges and returns the dropped ids.
// The reader never calls it: pruning retired partitions is left to the caller.
func (c *Checkpoint) Retain(ranges []PartitionRange) []string {
	live := make(map[string]struct{}, len(ranges))
	for _, r := range ranges {
		live[r.ID] = struct{}{}
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	var dropped []string
	for id := range c.tokens {
		if _, ok := live[id]; !ok {
			delete(c.tokens, id)
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	return dropped
}
