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
package interfaces

import (
	"context"
	"errors"
	"time"

	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
)

// ErrInvalidContinuationToken is returned by stores that reject a continuation token as malformed or
// expired. Readers surface it; they never reset the partition to the beginning on their own.
var ErrInvalidContinuationToken = errors.New("invalid continuation token")

type (
	// CollectionRef identifies a change feed source.
	CollectionRef struct {
		DatabaseID   string
		CollectionID string
	}

	// ChangeRecord is one observed change. The payload is opaque to the library.
	ChangeRecord struct {
		PartitionKey   string
		SequenceNumber string
		Data           []byte
		ArrivalTime    time.Time
	}

	// ReadPartitionChangesInput describes one batch request against a single partition.
	ReadPartitionChangesInput struct {
		Collection  CollectionRef
		PartitionID string

		// ContinuationToken is the token of the last consumed batch, or "" for none.
		ContinuationToken string

		// StartFromBeginning requests the oldest available change when no token is given.
		StartFromBeginning bool

		// MaxRecords caps the batch size. Zero lets the store decide.
		MaxRecords int
	}

	// ReadPartitionChangesOutput is one batch of changes.
	ReadPartitionChangesOutput struct {
		Records []*ChangeRecord

		// HasMore reports that more changes are available right now.
		HasMore bool

		// ContinuationToken resumes strictly after the last record of this batch.
		// Stores may leave it empty for a batch that consumed nothing.
		ContinuationToken string
	}

	// ListPartitionRangesOutput is one page of a partition listing.
	ListPartitionRangesOutput struct {
		Ranges []par.PartitionRange

		// NextPageToken is nil once the listing is complete.
		NextPageToken *string
	}

	// PartitionLister enumerates partition ranges one page at a time.
	PartitionLister interface {
		ListPartitionRangesPage(ctx context.Context, collection CollectionRef, pageToken *string) (*ListPartitionRangesOutput, error)
	}

	// ChangeReader reads one batch of changes from a single partition.
	ChangeReader interface {
		ReadPartitionChanges(ctx context.Context, input *ReadPartitionChangesInput) (*ReadPartitionChangesOutput, error)
	}

	// CollectionManager gets or creates a collection.
	CollectionManager interface {
		EnsureCollection(ctx context.Context, databaseID, collectionID, partitionKeyPath string) (CollectionRef, error)
	}

	// ChangeFeedStore is everything the reader needs from a store.
	ChangeFeedStore interface {
		PartitionLister
		ChangeReader
		CollectionManager
	}
)

// String renders the collection as database/collection.
func (c CollectionRef) String() string {
	if c.DatabaseID == "" {
		return c.CollectionID
	}
	return c.DatabaseID + "/" + c.CollectionID
}
