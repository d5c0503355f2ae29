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
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/collection"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/config"
	cf "github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/metrics"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
	"github.com/vmware/vmware-go-changefeed/logger"
)

// RecordHandler receives every non-empty batch read from a partition, in feed order. A batch's
// token is stored in the checkpoint only after the handler returns nil. With more than one
// concurrent partition the handler is called from several goroutines.
type RecordHandler func(partitionID string, records []*cf.ChangeRecord) error

// Reader drains the change feed of a collection from a checkpoint. It keeps no state between
// calls: everything needed to resume lives in the checkpoint handed in by the caller.
type Reader struct {
	cfg      *config.ChangeFeedConfiguration
	lister   cf.PartitionLister
	changes  cf.ChangeReader
	mService metrics.MonitoringService
	log      logger.Logger

	initOnce sync.Once
	initErr  error
}

// NewReader constructs a Reader. Without WithStore, a Kinesis backed store is created from the
// configuration on first use.
func NewReader(cfg *config.ChangeFeedConfiguration) *Reader {
	mService := cfg.MonitoringService
	if mService == nil {
		// Replaces nil with noop monitor service (not emitting any metrics).
		mService = metrics.NoopMonitoringService{}
	}

	return &Reader{
		cfg:      cfg,
		mService: mService,
		log:      cfg.Logger,
	}
}

// WithStore is used to provide the change feed store, for non-Kinesis backends or unit testing.
func (r *Reader) WithStore(store cf.ChangeFeedStore) *Reader {
	r.lister = store
	r.changes = store
	return r
}

// WithSources wires the listing and the change reads to different implementations.
func (r *Reader) WithSources(lister cf.PartitionLister, changes cf.ChangeReader) *Reader {
	r.lister = lister
	r.changes = changes
	return r
}

// Init creates the default store and starts the monitoring service. Read calls it on demand.
func (r *Reader) Init() error {
	r.initOnce.Do(func() {
		r.initErr = r.initialize()
	})
	return r.initErr
}

// Shutdown stops the monitoring service.
func (r *Reader) Shutdown() {
	r.log.Infof("Reader shutdown is requested.")
	r.mService.Shutdown()
}

func (r *Reader) initialize() error {
	log := r.log
	log.Infof("Reader initialization in progress...")

	if r.lister == nil || r.changes == nil {
		log.Infof("Creating Kinesis backed change feed store")
		kc, err := collection.NewKinesisClient(r.cfg)
		if err != nil {
			log.Errorf("Failed in getting Kinesis session for creating Reader: %+v", err)
			return err
		}
		store := collection.NewKinesisStore(kc, r.cfg)
		if r.lister == nil {
			r.lister = store
		}
		if r.changes == nil {
			r.changes = store
		}
	} else {
		log.Infof("Use custom change feed store.")
	}

	if err := r.mService.Init(r.cfg.ApplicationName, r.cfg.Collection().String(), r.cfg.ReaderID); err != nil {
		log.Errorf("Failed to init monitoring service: %+v", err)
		return err
	}
	if err := r.mService.Start(); err != nil {
		log.Errorf("Failed to start monitoring service: %+v", err)
		return err
	}

	log.Infof("Initialization complete.")
	return nil
}

// ListPartitionRanges returns the current partition topology of the collection.
func (r *Reader) ListPartitionRanges(ctx context.Context, collection cf.CollectionRef) ([]par.PartitionRange, error) {
	if err := r.Init(); err != nil {
		return nil, err
	}
	return NewTopologyResolver(r.lister, r.log).ListPartitionRanges(ctx, collection)
}

// ReadChanges drains every partition of the collection and returns the checkpoint together with
// the number of records read. A nil checkpoint reads every partition from the beginning.
//
// The returned checkpoint is the one passed in, advanced in place. On error it still holds every
// token stored before the failure and can be persisted and handed back to resume.
func (r *Reader) ReadChanges(ctx context.Context, collection cf.CollectionRef, checkpoint *par.Checkpoint) (*par.Checkpoint, int, error) {
	if checkpoint == nil {
		checkpoint = par.NewCheckpoint()
	}
	count, err := r.Read(ctx, collection, checkpoint, nil)
	return checkpoint, count, err
}

// Read drains every partition of the collection, passing each batch to handler before its token
// is stored in checkpoint. A nil handler only counts records.
//
// Partitions without a checkpoint entry are read from the beginning. Entries of partitions that
// are no longer listed are left untouched. The first failure cancels the remaining drains and is
// returned as a TopologyUnavailableError or a PartitionReadFailedError.
func (r *Reader) Read(ctx context.Context, collection cf.CollectionRef, checkpoint *par.Checkpoint, handler RecordHandler) (int, error) {
	if checkpoint == nil {
		return 0, errors.New("checkpoint cannot be nil")
	}
	if err := r.Init(); err != nil {
		return 0, err
	}
	log := r.log.WithFields(logger.Fields{"collection": collection.String(), "reader": r.cfg.ReaderID})

	ranges, err := NewTopologyResolver(r.lister, log).ListPartitionRanges(ctx, collection)
	if err != nil {
		return 0, err
	}
	r.mService.PartitionsDiscovered(len(ranges))
	log.Infof("Found %d partitions, %d checkpoint entries", len(ranges), checkpoint.Len())

	limit := r.cfg.MaxConcurrentPartitions
	if limit <= 0 {
		// SetLimit(0) would block every task
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var total int64
	for _, pr := range ranges {
		pr := pr
		g.Go(func() error {
			n, err := r.drainPartition(gctx, log, collection, pr, checkpoint, handler)
			atomic.AddInt64(&total, int64(n))
			return err
		})
	}

	err = g.Wait()
	count := int(atomic.LoadInt64(&total))
	if err != nil {
		log.Errorf("Change feed read aborted after %d records: %+v", count, err)
		return count, err
	}

	log.Infof("Read %d records from %d partitions", count, len(ranges))
	return count, nil
}

// drainPartition reads batches until the store reports no more changes. The partition's token is
// advanced after every accepted batch so a later failure keeps the progress made so far.
func (r *Reader) drainPartition(ctx context.Context, log logger.Logger, collection cf.CollectionRef, pr par.PartitionRange,
	checkpoint *par.Checkpoint, handler RecordHandler) (int, error) {
	log = log.WithFields(logger.Fields{"partition": pr.ID})

	token, ok := checkpoint.Get(pr.ID)
	fromBeginning := !ok
	if ok {
		log.Debugf("Resuming partition after token %s", token)
	} else {
		log.Debugf("No checkpoint entry, reading partition from the beginning")
	}

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, PartitionReadFailedError{PartitionID: pr.ID, Cause: err}
		}

		start := time.Now()
		out, err := r.changes.ReadPartitionChanges(ctx, &cf.ReadPartitionChangesInput{
			Collection:         collection,
			PartitionID:        pr.ID,
			ContinuationToken:  token,
			StartFromBeginning: fromBeginning,
			MaxRecords:         r.cfg.MaxRecords,
		})
		r.mService.RecordReadTime(pr.ID, float64(time.Since(start).Milliseconds()))
		if err != nil {
			r.mService.ReadFailed(pr.ID)
			if errors.Is(err, cf.ErrInvalidContinuationToken) {
				log.Errorf("Store rejected continuation token %s: %+v", token, err)
				err = InvalidCheckpointEntryError{PartitionID: pr.ID, Token: token, Cause: err}
			} else {
				log.Errorf("Error in reading partition changes: %+v", err)
			}
			return count, PartitionReadFailedError{PartitionID: pr.ID, Cause: err}
		}

		if len(out.Records) > 0 && handler != nil {
			if err := handler(pr.ID, out.Records); err != nil {
				r.mService.ReadFailed(pr.ID)
				log.Errorf("Record handler failed on a batch of %d records: %+v", len(out.Records), err)
				return count, PartitionReadFailedError{PartitionID: pr.ID, Cause: err}
			}
		}
		count += len(out.Records)
		r.mService.IncrRecordsProcessed(pr.ID, len(out.Records))
		r.mService.IncrBytesProcessed(pr.ID, batchBytes(out.Records))

		advanced := checkpoint.Advance(pr.ID, out.ContinuationToken)
		if advanced {
			r.mService.CheckpointAdvanced(pr.ID)
			token = out.ContinuationToken
		}

		if !out.HasMore {
			break
		}
		if !advanced && len(out.Records) == 0 {
			// Same token, same answer: asking again cannot make progress.
			log.Warnf("Store reported more changes without returning any, stopping drain")
			break
		}
	}

	log.Debugf("Partition drained, %d records", count)
	return count, nil
}

func batchBytes(records []*cf.ChangeRecord) int64 {
	var n int64
	for _, r := range records {
		n += int64(len(r.Data))
	}
	return n
}
