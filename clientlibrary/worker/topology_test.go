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
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cf "github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
	"github.com/vmware/vmware-go-changefeed/logger"
)

// pagedLister serves fixed pages and records the tokens it was asked for.
type pagedLister struct {
	pages  []*cf.ListPartitionRangesOutput
	tokens []*string
	calls  int
}

func (l *pagedLister) ListPartitionRangesPage(ctx context.Context, collection cf.CollectionRef, pageToken *string) (*cf.ListPartitionRangesOutput, error) {
	l.tokens = append(l.tokens, pageToken)
	page := l.pages[l.calls]
	if l.calls < len(l.pages)-1 {
		l.calls++
	}
	return page, nil
}

func TestTopologyResolverFollowsPageTokens(t *testing.T) {
	lister := &pagedLister{pages: []*cf.ListPartitionRangesOutput{
		{Ranges: []par.PartitionRange{{ID: "A"}}, NextPageToken: aws.String("t1")},
		{Ranges: []par.PartitionRange{}, NextPageToken: aws.String("t2")},
		{Ranges: []par.PartitionRange{{ID: "B"}, {ID: "C"}}},
	}}
	resolver := NewTopologyResolver(lister, logger.GetDefaultLogger())

	ranges, err := resolver.ListPartitionRanges(context.Background(), testCollection)
	require.NoError(t, err)
	require.Len(t, ranges, 3)
	assert.Equal(t, "C", ranges[2].ID)

	require.Len(t, lister.tokens, 3)
	assert.Nil(t, lister.tokens[0])
	assert.Equal(t, "t1", aws.StringValue(lister.tokens[1]))
	assert.Equal(t, "t2", aws.StringValue(lister.tokens[2]))
}

func TestTopologyResolverStalledListing(t *testing.T) {
	lister := &pagedLister{pages: []*cf.ListPartitionRangesOutput{
		{Ranges: []par.PartitionRange{{ID: "A"}}, NextPageToken: aws.String("same")},
	}}
	resolver := NewTopologyResolver(lister, logger.GetDefaultLogger())

	ranges, err := resolver.ListPartitionRanges(context.Background(), testCollection)
	assert.Nil(t, ranges)
	var topoErr TopologyUnavailableError
	require.True(t, errors.As(err, &topoErr))
	assert.ErrorIs(t, err, errStalledListing)
}

func TestTopologyResolverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resolver := NewTopologyResolver(&pagedLister{}, logger.GetDefaultLogger())

	_, err := resolver.ListPartitionRanges(ctx, testCollection)
	assert.ErrorIs(t, err, context.Canceled)
}
