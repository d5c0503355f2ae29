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
	"strings"

	creds "github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/metrics"
	"github.com/vmware/vmware-go-changefeed/logger"
)

const (
	// Max records to request per read. Zero means no explicit cap: the store decides the batch size.
	DefaultMaxRecords = 0

	// Partitions drained at the same time. One keeps the reference sequential order.
	DefaultMaxConcurrentPartitions = 1

	// Consecutive empty pages a store reads before pausing. Kinesis returns empty pages while
	// walking over trimmed or sparse parts of a shard.
	DefaultMaxEmptyReads = 5

	// Attempts made by the retrying reader for a whole ReadChanges call.
	DefaultRetryMaxAttempts = 3

	// Backoff between two attempts of the retrying reader. Doubled after each failure.
	DefaultRetryBackoffMillis = 500

	// Shards created by EnsureCollection when the collection does not exist yet.
	DefaultShardCount = 1

	// Default partition key path used when creating collections.
	DefaultPartitionKeyPath = "/id"

	// The DynamoDB checkpoint table will be provisioned with this read capacity.
	DefaultInitialCheckpointTableReadCapacity = 10

	// The DynamoDB checkpoint table will be provisioned with this write capacity.
	DefaultInitialCheckpointTableWriteCapacity = 10
)

// ChangeFeedConfiguration holds everything needed to read a collection's change feed.
// Note: There is no need to configure credential provider. Credential can be get from InstanceProfile.
type ChangeFeedConfiguration struct {
	// ApplicationName names the consuming application. It is the metrics namespace and the default
	// checkpoint table name.
	ApplicationName string

	// DatabaseID and CollectionID identify the collection to read.
	DatabaseID   string
	CollectionID string

	// PartitionKeyPath is used when the collection has to be created.
	PartitionKeyPath string

	// RegionName The region name for the service
	RegionName string

	// ReaderID distinguishes reader processes in logs and metrics.
	ReaderID string

	// KinesisEndpoint is an optional endpoint URL that overrides the default generated endpoint for a Kinesis client.
	KinesisEndpoint string

	// DynamoDBEndpoint is an optional endpoint URL that overrides the default generated endpoint for a DynamoDB client.
	DynamoDBEndpoint string

	// KinesisCredentials is used to access Kinesis
	KinesisCredentials *creds.Credentials

	// DynamoDBCredentials is used to access DynamoDB
	DynamoDBCredentials *creds.Credentials

	// TableName is the checkpoint table, defaults to ApplicationName.
	TableName string

	// ShardCount is the number of partitions requested when creating the collection.
	ShardCount int

	// MaxRecords caps a single read. Zero lets the store decide.
	MaxRecords int

	// MaxConcurrentPartitions bounds the partition drains running at the same time.
	MaxConcurrentPartitions int

	// MaxEmptyReads is the number of consecutive empty pages read before a short pause.
	MaxEmptyReads int

	// RetryMaxAttempts and RetryBackoffMillis configure the retrying reader.
	RetryMaxAttempts   int
	RetryBackoffMillis int

	// Capacity provisioned when the DynamoDB checkpoint table is created.
	InitialCheckpointTableReadCapacity  int
	InitialCheckpointTableWriteCapacity int

	// Logger used to log message.
	Logger logger.Logger

	// MonitoringService publishes per reader metrics.
	MonitoringService metrics.MonitoringService
}

func empty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// checkIsValueNotEmpty makes sure the value is not empty.
func checkIsValueNotEmpty(key string, value string) {
	if empty(value) {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Non-empty value expected for %v, actual: %v", key, value)
	}
}

// checkIsValuePositive makes sure the value is possitive.
func checkIsValuePositive(key string, value int) {
	if value <= 0 {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Positive value expected for %v, actual: %v", key, value)
	}
}

func checkIsValueNotNegative(key string, value int) {
	if value < 0 {
		log.Panicf("Non-negative value expected for %v, actual: %v", key, value)
	}
}
