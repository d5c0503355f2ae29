package database

import (
	"context"
	"database/sql"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/database/models"
)

type Datastore interface {
	ServiceName() string
	GetDBStats() sql.DBStats
	PingContext(context.Context) error
	Close() error
}

// CheckpointDatastore stores checkpoint entries, one row per collection and partition.
type CheckpointDatastore interface {
	Datastore
	EnsureSchema(ctx context.Context) error
	GetCheckpoints(ctx context.Context, collection string) ([]*models.Checkpoint, error)
	SaveCheckpoints(ctx context.Context, checkpoints []*models.Checkpoint) error
	RemoveCheckpoint(ctx context.Context, collection, partitionID string) error
}
