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
package checkpoint

import (
	"context"

	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
)

const (
	CollectionKey        = "Collection"
	PartitionIDKey       = "PartitionID"
	ContinuationTokenKey = "Checkpoint"
	UpdatedAtKey         = "UpdatedAt"
)

// Checkpointer persists the checkpoint of one collection between runs. The reader itself never
// touches a Checkpointer: callers fetch before a read and save after it, including after a failed
// read so the progress made before the failure survives.
type Checkpointer interface {
	// Init prepares the backend, creating tables or directories when missing.
	Init(ctx context.Context) error

	// FetchCheckpoint loads the stored checkpoint. An empty checkpoint is returned when nothing
	// was stored yet.
	FetchCheckpoint(ctx context.Context) (*par.Checkpoint, error)

	// SaveCheckpoint stores every entry of the checkpoint. Stored entries missing from it are kept.
	SaveCheckpoint(ctx context.Context, checkpoint *par.Checkpoint) error

	// RemoveCheckpoint deletes the entry of one partition, typically a retired one.
	RemoveCheckpoint(ctx context.Context, partitionID string) error
}
