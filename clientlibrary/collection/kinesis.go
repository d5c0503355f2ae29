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

// Package collection provides change feed stores: a Kinesis backed one, where every shard is a
// partition, and an in-memory one.
package collection

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	deagg "github.com/awslabs/kinesis-aggregation/go/deaggregator"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/config"
	cf "github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/utils"
	"github.com/vmware/vmware-go-changefeed/logger"
)

const (
	// Throttled GetRecords calls are retried this many times inside a single read.
	maxThrottleRetries = 3

	// Kinesis serves at most five GetRecords calls per second and shard.
	defaultEmptyReadPause = 200 * time.Millisecond
)

// KinesisStore maps a collection onto a Kinesis data stream. Shards are partitions and the
// continuation token is the sequence number of the last record consumed from the shard.
type KinesisStore struct {
	kc            kinesisiface.KinesisAPI
	shardCount    int
	maxEmptyReads int
	log           logger.Logger

	// emptyReadPause is waited after every maxEmptyReads consecutive empty pages.
	emptyReadPause time.Duration
}

// NewKinesisClient creates a Kinesis client from the region, endpoint and credentials of cfg.
func NewKinesisClient(cfg *config.ChangeFeedConfiguration) (kinesisiface.KinesisAPI, error) {
	awsConfig := &aws.Config{
		Region:      aws.String(cfg.RegionName),
		Credentials: cfg.KinesisCredentials,
	}
	if cfg.KinesisEndpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.KinesisEndpoint)
	}

	s, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, err
	}
	return kinesis.New(s), nil
}

// NewKinesisStore returns a store on top of kc.
func NewKinesisStore(kc kinesisiface.KinesisAPI, cfg *config.ChangeFeedConfiguration) *KinesisStore {
	return &KinesisStore{
		kc:             kc,
		shardCount:     cfg.ShardCount,
		maxEmptyReads:  cfg.MaxEmptyReads,
		log:            cfg.Logger,
		emptyReadPause: defaultEmptyReadPause,
	}
}

// StreamName returns the name of the stream backing the collection.
func StreamName(collection cf.CollectionRef) string {
	if collection.DatabaseID == "" {
		return collection.CollectionID
	}
	return collection.DatabaseID + "-" + collection.CollectionID
}

// EnsureCollection creates the stream when it does not exist and waits until it is active.
// The partition key path only matters to producers and is not stored.
func (k *KinesisStore) EnsureCollection(ctx context.Context, databaseID, collectionID, partitionKeyPath string) (cf.CollectionRef, error) {
	ref := cf.CollectionRef{DatabaseID: databaseID, CollectionID: collectionID}
	stream := aws.String(StreamName(ref))

	_, err := k.kc.DescribeStreamSummaryWithContext(ctx, &kinesis.DescribeStreamSummaryInput{StreamName: stream})
	if err == nil {
		k.log.Debugf("Stream %s already exists", *stream)
		return ref, nil
	}
	if utils.AWSErrCode(err) != kinesis.ErrCodeResourceNotFoundException {
		k.log.Errorf("Error in describing stream %s: %+v", *stream, err)
		return ref, err
	}

	k.log.Infof("Creating stream %s with %d shards, partition key path %s", *stream, k.shardCount, partitionKeyPath)
	_, err = k.kc.CreateStreamWithContext(ctx, &kinesis.CreateStreamInput{
		StreamName: stream,
		ShardCount: aws.Int64(int64(k.shardCount)),
	})
	if err != nil && utils.AWSErrCode(err) != kinesis.ErrCodeResourceInUseException {
		k.log.Errorf("Error in creating stream %s: %+v", *stream, err)
		return ref, err
	}

	if err := k.kc.WaitUntilStreamExistsWithContext(ctx, &kinesis.DescribeStreamInput{StreamName: stream}); err != nil {
		k.log.Errorf("Error in waiting for stream %s: %+v", *stream, err)
		return ref, err
	}
	return ref, nil
}

// ListPartitionRangesPage returns one ListShards page. Closed shards are listed as long as
// Kinesis retains them, so their remaining records are still read.
func (k *KinesisStore) ListPartitionRangesPage(ctx context.Context, collection cf.CollectionRef, pageToken *string) (*cf.ListPartitionRangesOutput, error) {
	args := &kinesis.ListShardsInput{}

	// When you have a nextToken, you can't set the streamName
	if pageToken != nil {
		args.NextToken = pageToken
	} else {
		args.StreamName = aws.String(StreamName(collection))
	}

	listShards, err := k.kc.ListShardsWithContext(ctx, args)
	if err != nil {
		k.log.Errorf("Error in ListShards: %s Error: %+v Request: %s", StreamName(collection), err, args)
		return nil, err
	}

	out := &cf.ListPartitionRangesOutput{NextPageToken: listShards.NextToken}
	for _, s := range listShards.Shards {
		rng := par.PartitionRange{ID: aws.StringValue(s.ShardId)}
		if s.ParentShardId != nil {
			rng.ParentIDs = append(rng.ParentIDs, *s.ParentShardId)
		}
		if s.AdjacentParentShardId != nil {
			rng.ParentIDs = append(rng.ParentIDs, *s.AdjacentParentShardId)
		}
		if s.HashKeyRange != nil {
			rng.KeyRangeStart = aws.StringValue(s.HashKeyRange.StartingHashKey)
			rng.KeyRangeEnd = aws.StringValue(s.HashKeyRange.EndingHashKey)
		}
		out.Ranges = append(out.Ranges, rng)
	}
	return out, nil
}

// ReadPartitionChanges reads one batch from the shard. Empty pages are followed as long as the
// shard is behind its tip, since a fresh iterator would have to walk the same gap again. HasMore
// is set while the shard is open and the reader is behind its tip.
func (k *KinesisStore) ReadPartitionChanges(ctx context.Context, input *cf.ReadPartitionChangesInput) (*cf.ReadPartitionChangesOutput, error) {
	log := k.log.WithFields(logger.Fields{"stream": StreamName(input.Collection), "shard": input.PartitionID})

	shardIterator, err := k.getShardIterator(ctx, input)
	if err != nil {
		return nil, err
	}

	getRecordsArgs := &kinesis.GetRecordsInput{}
	if input.MaxRecords > 0 {
		getRecordsArgs.Limit = aws.Int64(int64(input.MaxRecords))
	}

	emptyReads := 0
	retriedErrors := 0
	for {
		getRecordsArgs.ShardIterator = shardIterator
		getResp, err := k.kc.GetRecordsWithContext(ctx, getRecordsArgs)
		if err != nil {
			code := utils.AWSErrCode(err)
			if (code == kinesis.ErrCodeProvisionedThroughputExceededException || code == kinesis.ErrCodeKMSThrottlingException) &&
				retriedErrors < maxThrottleRetries {
				retriedErrors++
				// exponential backoff
				backoff := time.Duration(math.Exp2(float64(retriedErrors))*100) * time.Millisecond
				log.Warnf("GetRecords throttled, retrying in %v: %+v", backoff, err)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff):
				}
				continue
			}
			log.Errorf("Error getting records from Kinesis: %+v", err)
			return nil, err
		}
		retriedErrors = 0

		closed := getResp.NextShardIterator == nil
		behind := aws.Int64Value(getResp.MillisBehindLatest) > 0

		if len(getResp.Records) > 0 {
			records, err := toChangeRecords(getResp.Records)
			if err != nil {
				log.Errorf("Error in de-aggregating KPL records: %+v", err)
				return nil, err
			}
			last := getResp.Records[len(getResp.Records)-1]
			return &cf.ReadPartitionChangesOutput{
				Records:           records,
				HasMore:           !closed && behind,
				ContinuationToken: aws.StringValue(last.SequenceNumber),
			}, nil
		}

		if closed || !behind {
			return &cf.ReadPartitionChangesOutput{}, nil
		}
		emptyReads++
		if k.maxEmptyReads > 0 && emptyReads%k.maxEmptyReads == 0 {
			log.Debugf("%d empty reads, %d ms behind latest", emptyReads, aws.Int64Value(getResp.MillisBehindLatest))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(k.emptyReadPause):
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}
		shardIterator = getResp.NextShardIterator
	}
}

func (k *KinesisStore) getShardIterator(ctx context.Context, input *cf.ReadPartitionChangesInput) (*string, error) {
	shardIterArgs := &kinesis.GetShardIteratorInput{
		ShardId:    aws.String(input.PartitionID),
		StreamName: aws.String(StreamName(input.Collection)),
	}
	switch {
	case input.ContinuationToken != "":
		shardIterArgs.ShardIteratorType = aws.String(kinesis.ShardIteratorTypeAfterSequenceNumber)
		shardIterArgs.StartingSequenceNumber = aws.String(input.ContinuationToken)
	case input.StartFromBeginning:
		shardIterArgs.ShardIteratorType = aws.String(kinesis.ShardIteratorTypeTrimHorizon)
	default:
		shardIterArgs.ShardIteratorType = aws.String(kinesis.ShardIteratorTypeLatest)
	}

	iterResp, err := k.kc.GetShardIteratorWithContext(ctx, shardIterArgs)
	if err != nil {
		if input.ContinuationToken != "" && utils.AWSErrCode(err) == kinesis.ErrCodeInvalidArgumentException {
			return nil, fmt.Errorf("%w: %v", cf.ErrInvalidContinuationToken, err)
		}
		k.log.Errorf("Unable to get shard iterator for %s: %+v", input.PartitionID, err)
		return nil, err
	}
	return iterResp.ShardIterator, nil
}

// toChangeRecords de-aggregates records published by the KPL. A malformed aggregate fails the
// whole batch so its sequence number is never stored.
func toChangeRecords(records []*kinesis.Record) ([]*cf.ChangeRecord, error) {
	dars, err := deagg.DeaggregateRecords(records)
	if err != nil {
		return nil, err
	}

	out := make([]*cf.ChangeRecord, 0, len(dars))
	for _, r := range dars {
		out = append(out, &cf.ChangeRecord{
			PartitionKey:   aws.StringValue(r.PartitionKey),
			SequenceNumber: aws.StringValue(r.SequenceNumber),
			Data:           r.Data,
			ArrivalTime:    aws.TimeValue(r.ApproximateArrivalTimestamp),
		})
	}
	return out, nil
}
