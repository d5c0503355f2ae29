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
	"time"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/config"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/database"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/database/models"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
	"github.com/vmware/vmware-go-changefeed/logger"
)

// PostgresCheckpoint implements the Checkpointer interface on top of a CheckpointDatastore.
type PostgresCheckpoint struct {
	log        logger.Logger
	collection string
	Datastore  database.CheckpointDatastore
}

func NewPostgresCheckpoint(cfg *config.ChangeFeedConfiguration, db database.CheckpointDatastore) *PostgresCheckpoint {
	return &PostgresCheckpoint{
		log:        cfg.Logger,
		collection: cfg.Collection().String(),
		Datastore:  db,
	}
}

func (c *PostgresCheckpoint) Init(ctx context.Context) error {
	if err := c.Datastore.PingContext(ctx); err != nil {
		c.log.Errorf("Unable to reach %s: %+v", c.Datastore.ServiceName(), err)
		return err
	}
	if err := c.Datastore.EnsureSchema(ctx); err != nil {
		c.log.Errorf("Unable to prepare checkpoint schema in %s: %+v", c.Datastore.ServiceName(), err)
		return err
	}

	stats := c.Datastore.GetDBStats()
	c.log.Infof("Checkpoint store %s ready, %d open connections (max %d)",
		c.Datastore.ServiceName(), stats.OpenConnections, stats.MaxOpenConnections)
	return nil
}

func (c *PostgresCheckpoint) FetchCheckpoint(ctx context.Context) (*par.Checkpoint, error) {
	rows, err := c.Datastore.GetCheckpoints(ctx, c.collection)
	if err != nil {
		c.log.Errorf("Unable to fetch checkpoint of %s: %+v", c.collection, err)
		return nil, err
	}

	tokens := make(map[string]string, len(rows))
	for _, row := range rows {
		tokens[row.PartitionID] = row.ContinuationToken
	}
	c.log.Debugf("Retrieved %d checkpoint entries of %s", len(tokens), c.collection)
	return par.NewCheckpointFromMap(tokens), nil
}

func (c *PostgresCheckpoint) SaveCheckpoint(ctx context.Context, checkpoint *par.Checkpoint) error {
	now := time.Now().UTC()
	snapshot := checkpoint.Snapshot()
	rows := make([]*models.Checkpoint, 0, len(snapshot))
	for _, partitionID := range checkpoint.PartitionIDs() {
		token, ok := snapshot[partitionID]
		if !ok {
			continue
		}
		rows = append(rows, &models.Checkpoint{
			Collection:        c.collection,
			PartitionID:       partitionID,
			ContinuationToken: token,
			UpdatedAt:         now,
		})
	}

	if err := c.Datastore.SaveCheckpoints(ctx, rows); err != nil {
		c.log.Errorf("Unable to save checkpoint of %s: %+v", c.collection, err)
		return err
	}
	return nil
}

func (c *PostgresCheckpoint) RemoveCheckpoint(ctx context.Context, partitionID string) error {
	err := c.Datastore.RemoveCheckpoint(ctx, c.collection, partitionID)
	if err != nil {
		c.log.Errorf("Unable to remove checkpoint of partition: %s, collection: %s: %+v", partitionID, c.collection, err)
		return err
	}

	c.log.Infof("Checkpoint of partition: %s has been removed.", partitionID)
	return nil
}
