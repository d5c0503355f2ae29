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

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/config"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/utils"
	"github.com/vmware/vmware-go-changefeed/logger"
)

const (
	// NumMaxRetries is the max times of doing retry
	NumMaxRetries = 10
)

// DynamoCheckpoint implements the Checkpointer interface using DynamoDB as a backend. One item per
// partition, keyed by collection and partition id.
type DynamoCheckpoint struct {
	log                          logger.Logger
	TableName                    string
	collection                   string
	checkpointTableReadCapacity  int64
	checkpointTableWriteCapacity int64

	svc     dynamodbiface.DynamoDBAPI
	config  *config.ChangeFeedConfiguration
	Retries int
}

func NewDynamoCheckpoint(cfg *config.ChangeFeedConfiguration) *DynamoCheckpoint {
	checkpointer := &DynamoCheckpoint{
		log:                          cfg.Logger,
		TableName:                    cfg.TableName,
		collection:                   cfg.Collection().String(),
		checkpointTableReadCapacity:  int64(cfg.InitialCheckpointTableReadCapacity),
		checkpointTableWriteCapacity: int64(cfg.InitialCheckpointTableWriteCapacity),
		config:                       cfg,
		Retries:                      NumMaxRetries,
	}

	return checkpointer
}

// WithDynamoDB is used to provide DynamoDB service
func (checkpointer *DynamoCheckpoint) WithDynamoDB(svc dynamodbiface.DynamoDBAPI) *DynamoCheckpoint {
	checkpointer.svc = svc
	return checkpointer
}

// Init creates the DynamoDB client when none was provided and the table when it does not exist.
func (checkpointer *DynamoCheckpoint) Init(ctx context.Context) error {
	if checkpointer.svc == nil {
		checkpointer.log.Infof("Creating DynamoDB session")

		awsConfig := &aws.Config{
			Region:      aws.String(checkpointer.config.RegionName),
			Credentials: checkpointer.config.DynamoDBCredentials,
			Retryer: client.DefaultRetryer{
				NumMaxRetries:    checkpointer.Retries,
				MinRetryDelay:    client.DefaultRetryerMinRetryDelay,
				MinThrottleDelay: client.DefaultRetryerMinThrottleDelay,
				MaxRetryDelay:    client.DefaultRetryerMaxRetryDelay,
				MaxThrottleDelay: client.DefaultRetryerMaxRetryDelay,
			},
		}
		if checkpointer.config.DynamoDBEndpoint != "" {
			awsConfig.Endpoint = aws.String(checkpointer.config.DynamoDBEndpoint)
		}

		s, err := session.NewSession(awsConfig)
		if err != nil {
			checkpointer.log.Errorf("Failed in getting DynamoDB session for creating checkpointer: %+v", err)
			return err
		}
		checkpointer.svc = dynamodb.New(s)
	}

	if !checkpointer.doesTableExist(ctx) {
		return checkpointer.createTable(ctx)
	}
	return nil
}

// FetchCheckpoint queries every item of the collection, following LastEvaluatedKey.
func (checkpointer *DynamoCheckpoint) FetchCheckpoint(ctx context.Context) (*par.Checkpoint, error) {
	tokens := make(map[string]string)
	input := &dynamodb.QueryInput{
		TableName:              aws.String(checkpointer.TableName),
		KeyConditionExpression: aws.String(CollectionKey + " = :collection"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":collection": {S: aws.String(checkpointer.collection)},
		},
		ConsistentRead: aws.Bool(true),
	}

	for {
		out, err := checkpointer.svc.QueryWithContext(ctx, input)
		if err != nil {
			checkpointer.log.Errorf("Error in fetching checkpoint of %s: %+v", checkpointer.collection, err)
			return nil, err
		}
		for _, item := range out.Items {
			partitionID, ok := item[PartitionIDKey]
			if !ok {
				continue
			}
			if token, ok := item[ContinuationTokenKey]; ok {
				tokens[aws.StringValue(partitionID.S)] = aws.StringValue(token.S)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	checkpointer.log.Debugf("Retrieved %d checkpoint entries of %s", len(tokens), checkpointer.collection)
	return par.NewCheckpointFromMap(tokens), nil
}

// SaveCheckpoint writes one item per partition.
func (checkpointer *DynamoCheckpoint) SaveCheckpoint(ctx context.Context, checkpoint *par.Checkpoint) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for partitionID, token := range checkpoint.Snapshot() {
		marshalledCheckpoint := map[string]*dynamodb.AttributeValue{
			CollectionKey: {
				S: aws.String(checkpointer.collection),
			},
			PartitionIDKey: {
				S: aws.String(partitionID),
			},
			ContinuationTokenKey: {
				S: aws.String(token),
			},
			UpdatedAtKey: {
				S: aws.String(now),
			},
		}
		if err := checkpointer.saveItem(ctx, marshalledCheckpoint); err != nil {
			checkpointer.log.Errorf("Error in saving checkpoint of partition %s: %+v", partitionID, err)
			return err
		}
	}
	return nil
}

// RemoveCheckpoint deletes the item of a partition that no longer exists.
func (checkpointer *DynamoCheckpoint) RemoveCheckpoint(ctx context.Context, partitionID string) error {
	_, err := checkpointer.svc.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(checkpointer.TableName),
		Key: map[string]*dynamodb.AttributeValue{
			CollectionKey: {
				S: aws.String(checkpointer.collection),
			},
			PartitionIDKey: {
				S: aws.String(partitionID),
			},
		},
	})

	if err != nil {
		checkpointer.log.Errorf("Error in removing checkpoint of partition: %s, Error: %+v", partitionID, err)
	} else {
		checkpointer.log.Infof("Checkpoint of partition: %s has been removed.", partitionID)
	}
	return err
}

func (checkpointer *DynamoCheckpoint) createTable(ctx context.Context) error {
	checkpointer.log.Infof("Creating checkpoint table %s", checkpointer.TableName)
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(CollectionKey),
				AttributeType: aws.String("S"),
			},
			{
				AttributeName: aws.String(PartitionIDKey),
				AttributeType: aws.String("S"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(CollectionKey),
				KeyType:       aws.String("HASH"),
			},
			{
				AttributeName: aws.String(PartitionIDKey),
				KeyType:       aws.String("RANGE"),
			},
		},
		ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(checkpointer.checkpointTableReadCapacity),
			WriteCapacityUnits: aws.Int64(checkpointer.checkpointTableWriteCapacity),
		},
		TableName: aws.String(checkpointer.TableName),
	}
	_, err := checkpointer.svc.CreateTableWithContext(ctx, input)
	if err != nil && utils.AWSErrCode(err) != dynamodb.ErrCodeResourceInUseException {
		return err
	}
	return checkpointer.svc.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(checkpointer.TableName),
	})
}

func (checkpointer *DynamoCheckpoint) doesTableExist(ctx context.Context) bool {
	input := &dynamodb.DescribeTableInput{
		TableName: aws.String(checkpointer.TableName),
	}
	_, err := checkpointer.svc.DescribeTableWithContext(ctx, input)
	return err == nil
}

func (checkpointer *DynamoCheckpoint) saveItem(ctx context.Context, item map[string]*dynamodb.AttributeValue) error {
	_, err := checkpointer.svc.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(checkpointer.TableName),
		Item:      item,
	})
	return err
}
