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
	"errors"

	cf "github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
	"github.com/vmware/vmware-go-changefeed/logger"
)

var errStalledListing = errors.New("partition listing returned the same page token twice")

// TopologyResolver lists every partition range of a collection.
type TopologyResolver struct {
	lister cf.PartitionLister
	log    logger.Logger
}

// NewTopologyResolver creates a resolver on top of the store's paged listing.
func NewTopologyResolver(lister cf.PartitionLister, log logger.Logger) *TopologyResolver {
	return &TopologyResolver{lister: lister, log: log}
}

// ListPartitionRanges pages through the listing until the store stops returning a page token and
// returns the ranges in the order the store reported them. Any failed page fails the whole call
// with a TopologyUnavailableError. There are no retries here.
func (t *TopologyResolver) ListPartitionRanges(ctx context.Context, collection cf.CollectionRef) ([]par.PartitionRange, error) {
	var ranges []par.PartitionRange
	var pageToken *string
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, TopologyUnavailableError{Collection: collection.String(), Cause: err}
		}

		page, err := t.lister.ListPartitionRangesPage(ctx, collection, pageToken)
		if err != nil {
			t.log.Errorf("Error in listing partition ranges of %s after %d pages: %+v", collection, pages, err)
			return nil, TopologyUnavailableError{Collection: collection.String(), Cause: err}
		}
		pages++
		ranges = append(ranges, page.Ranges...)

		if page.NextPageToken == nil {
			break
		}
		if pageToken != nil && *page.NextPageToken == *pageToken {
			return nil, TopologyUnavailableError{Collection: collection.String(), Cause: errStalledListing}
		}
		pageToken = page.NextPageToken
	}

	t.log.Debugf("Listed %d partition ranges of %s in %d pages", len(ranges), collection, pages)
	return ranges, nil
}
