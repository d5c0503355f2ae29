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
package config

import (
	"log"

	"github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/metrics"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/utils"
	"github.com/vmware/vmware-go-changefeed/logger"
)

// NewChangeFeedConfig creates a default ChangeFeedConfiguration based on the required fields.
func NewChangeFeedConfig(applicationName, databaseID, collectionID, regionName, readerID string) *ChangeFeedConfiguration {
	return NewChangeFeedConfigWithCredentials(applicationName, databaseID, collectionID, regionName, readerID, nil, nil)
}

// NewChangeFeedConfigWithCredential uses the same credentials for Kinesis and DynamoDB.
func NewChangeFeedConfigWithCredential(applicationName, databaseID, collectionID, regionName, readerID string,
	creds *credentials.Credentials) *ChangeFeedConfiguration {
	return NewChangeFeedConfigWithCredentials(applicationName, databaseID, collectionID, regionName, readerID, creds, creds)
}

// NewChangeFeedConfigWithCredentials creates a default ChangeFeedConfiguration with specific credentials for each service.
func NewChangeFeedConfigWithCredentials(applicationName, databaseID, collectionID, regionName, readerID string,
	kinesisCreds, dynamodbCreds *credentials.Credentials) *ChangeFeedConfiguration {
	checkIsValueNotEmpty("ApplicationName", applicationName)
	checkIsValueNotEmpty("CollectionID", collectionID)
	checkIsValueNotEmpty("RegionName", regionName)

	if empty(readerID) {
		readerID = utils.MustNewUUID()
	}

	return &ChangeFeedConfiguration{
		ApplicationName:                     applicationName,
		DatabaseID:                          databaseID,
		CollectionID:                        collectionID,
		PartitionKeyPath:                    DefaultPartitionKeyPath,
		RegionName:                          regionName,
		ReaderID:                            readerID,
		KinesisCredentials:                  kinesisCreds,
		DynamoDBCredentials:                 dynamodbCreds,
		TableName:                           applicationName,
		ShardCount:                          DefaultShardCount,
		MaxRecords:                          DefaultMaxRecords,
		MaxConcurrentPartitions:             DefaultMaxConcurrentPartitions,
		MaxEmptyReads:                       DefaultMaxEmptyReads,
		RetryMaxAttempts:                    DefaultRetryMaxAttempts,
		RetryBackoffMillis:                  DefaultRetryBackoffMillis,
		InitialCheckpointTableReadCapacity:  DefaultInitialCheckpointTableReadCapacity,
		InitialCheckpointTableWriteCapacity: DefaultInitialCheckpointTableWriteCapacity,
		Logger:                              logger.GetDefaultLogger(),
	}
}

// Collection returns the reference of the configured collection.
func (c *ChangeFeedConfiguration) Collection() interfaces.CollectionRef {
	return interfaces.CollectionRef{DatabaseID: c.DatabaseID, CollectionID: c.CollectionID}
}

// WithKinesisEndpoint is used to provide an alternative Kinesis endpoint
func (c *ChangeFeedConfiguration) WithKinesisEndpoint(kinesisEndpoint string) *ChangeFeedConfiguration {
	c.KinesisEndpoint = kinesisEndpoint
	return c
}

// WithDynamoDBEndpoint is used to provide an alternative DynamoDB endpoint
func (c *ChangeFeedConfiguration) WithDynamoDBEndpoint(dynamoDBEndpoint string) *ChangeFeedConfiguration {
	c.DynamoDBEndpoint = dynamoDBEndpoint
	return c
}

// WithTableName to provide alternative checkpoint table
func (c *ChangeFeedConfiguration) WithTableName(tableName string) *ChangeFeedConfiguration {
	checkIsValueNotEmpty("TableName", tableName)
	c.TableName = tableName
	return c
}

func (c *ChangeFeedConfiguration) WithPartitionKeyPath(path string) *ChangeFeedConfiguration {
	checkIsValueNotEmpty("PartitionKeyPath", path)
	c.PartitionKeyPath = path
	return c
}

func (c *ChangeFeedConfiguration) WithShardCount(shardCount int) *ChangeFeedConfiguration {
	checkIsValuePositive("ShardCount", shardCount)
	c.ShardCount = shardCount
	return c
}

// WithMaxRecords caps the number of records requested per read. Zero removes the cap.
func (c *ChangeFeedConfiguration) WithMaxRecords(maxRecords int) *ChangeFeedConfiguration {
	checkIsValueNotNegative("MaxRecords", maxRecords)
	c.MaxRecords = maxRecords
	return c
}

// WithMaxConcurrentPartitions bounds how many partitions are drained at the same time.
func (c *ChangeFeedConfiguration) WithMaxConcurrentPartitions(n int) *ChangeFeedConfiguration {
	checkIsValuePositive("MaxConcurrentPartitions", n)
	c.MaxConcurrentPartitions = n
	return c
}

func (c *ChangeFeedConfiguration) WithMaxEmptyReads(n int) *ChangeFeedConfiguration {
	checkIsValuePositive("MaxEmptyReads", n)
	c.MaxEmptyReads = n
	return c
}

// WithRetry configures the retrying reader. maxAttempts counts the first attempt.
func (c *ChangeFeedConfiguration) WithRetry(maxAttempts, backoffMillis int) *ChangeFeedConfiguration {
	checkIsValuePositive("RetryMaxAttempts", maxAttempts)
	checkIsValueNotNegative("RetryBackoffMillis", backoffMillis)
	c.RetryMaxAttempts = maxAttempts
	c.RetryBackoffMillis = backoffMillis
	return c
}

func (c *ChangeFeedConfiguration) WithLogger(logger logger.Logger) *ChangeFeedConfiguration {
	if logger == nil {
		log.Panic("Logger cannot be null")
	}
	c.Logger = logger
	return c
}

// WithMonitoringService sets the monitoring service to use to publish metrics.
func (c *ChangeFeedConfiguration) WithMonitoringService(mService metrics.MonitoringService) *ChangeFeedConfiguration {
	// Nil case is handled downward (at reader creation) so no need to do it here.
	c.MonitoringService = mService
	return c
}
