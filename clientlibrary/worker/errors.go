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
	"fmt"
)

// TopologyUnavailableError is returned when the partition ranges of a collection cannot be listed.
// No partial topology is ever used.
type TopologyUnavailableError struct {
	Collection string
	Cause      error
}

func (e TopologyUnavailableError) Error() string {
	return fmt.Sprintf("partition topology unavailable for %s: %v", e.Collection, e.Cause)
}

func (e TopologyUnavailableError) Unwrap() error {
	return e.Cause
}

// PartitionReadFailedError is returned when draining a partition fails. Checkpoint entries written
// before the failure, for this partition or others, are kept.
type PartitionReadFailedError struct {
	PartitionID string
	Cause       error
}

func (e PartitionReadFailedError) Error() string {
	return fmt.Sprintf("read of partition %s failed: %v", e.PartitionID, e.Cause)
}

func (e PartitionReadFailedError) Unwrap() error {
	return e.Cause
}

// InvalidCheckpointEntryError is the cause of a PartitionReadFailedError when the store rejects the
// stored continuation token. The entry is left untouched; resetting it is the caller's decision.
type InvalidCheckpointEntryError struct {
	PartitionID string
	Token       string
	Cause       error
}

func (e InvalidCheckpointEntryError) Error() string {
	return fmt.Sprintf("continuation token %q of partition %s rejected: %v", e.Token, e.PartitionID, e.Cause)
}

func (e InvalidCheckpointEntryError) Unwrap() error {
	return e.Cause
}
