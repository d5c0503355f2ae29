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
	"time"

	"github.com/matryer/try"

	cf "github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
	"github.com/vmware/vmware-go-changefeed/logger"
)

// RetryingReader repeats a whole read when it fails with a transient error. Every attempt resumes
// from the checkpoint left by the previous one, so batches already accepted are not delivered again.
// Rejected continuation tokens and cancellation are never retried.
type RetryingReader struct {
	reader      *Reader
	maxAttempts int
	backoff     time.Duration
	log         logger.Logger
}

// NewRetryingReader wraps reader with the retry settings of its configuration.
func NewRetryingReader(reader *Reader) *RetryingReader {
	maxAttempts := reader.cfg.RetryMaxAttempts
	if maxAttempts > try.MaxRetries {
		maxAttempts = try.MaxRetries
	}
	return &RetryingReader{
		reader:      reader,
		maxAttempts: maxAttempts,
		backoff:     time.Duration(reader.cfg.RetryBackoffMillis) * time.Millisecond,
		log:         reader.log,
	}
}

// ReadChanges behaves like Reader.ReadChanges and retries transient failures.
func (rr *RetryingReader) ReadChanges(ctx context.Context, collection cf.CollectionRef, checkpoint *par.Checkpoint) (*par.Checkpoint, int, error) {
	if checkpoint == nil {
		checkpoint = par.NewCheckpoint()
	}
	count, err := rr.Read(ctx, collection, checkpoint, nil)
	return checkpoint, count, err
}

// Read behaves like Reader.Read and retries transient failures. The count covers all attempts.
func (rr *RetryingReader) Read(ctx context.Context, collection cf.CollectionRef, checkpoint *par.Checkpoint, handler RecordHandler) (int, error) {
	total := 0
	backoff := rr.backoff

	var lastErr error
	_ = try.Do(func(attempt int) (bool, error) {
		n, err := rr.reader.Read(ctx, collection, checkpoint, handler)
		total += n
		lastErr = err
		if err == nil {
			return false, nil
		}
		if attempt >= rr.maxAttempts || !isRetryable(ctx, err) {
			return false, err
		}

		rr.log.Warnf("Attempt %d of %d to read %s failed, retrying in %v: %+v", attempt, rr.maxAttempts, collection, backoff, err)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			return false, lastErr
		case <-time.After(backoff):
		}
		backoff *= 2
		return true, err
	})

	return total, lastErr
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var invalid InvalidCheckpointEntryError
	if errors.As(err, &invalid) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
