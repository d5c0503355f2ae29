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
package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/config"
	"github.com/vmware/vmware-go-changefeed/logger"
	"github.com/vmware/vmware-go-changefeed/logger/zap"
	"github.com/vmware/vmware-go-changefeed/logger/zerolog"
)

// fileConfig is the YAML layout of --config. Zero values keep the library defaults.
type fileConfig struct {
	ApplicationName  string `yaml:"application_name"`
	DatabaseID       string `yaml:"database_id"`
	CollectionID     string `yaml:"collection_id"`
	PartitionKeyPath string `yaml:"partition_key_path"`
	Region           string `yaml:"region"`
	ReaderID         string `yaml:"reader_id"`
	KinesisEndpoint  string `yaml:"kinesis_endpoint"`
	DynamoDBEndpoint string `yaml:"dynamodb_endpoint"`
	ShardCount       int    `yaml:"shard_count"`

	Read       ReadConfig       `yaml:"read"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ReadConfig struct {
	MaxRecords              int `yaml:"max_records"`
	MaxConcurrentPartitions int `yaml:"max_concurrent_partitions"`
	MaxEmptyReads           int `yaml:"max_empty_reads"`
	RetryMaxAttempts        int `yaml:"retry_max_attempts"`
	RetryBackoffMillis      int `yaml:"retry_backoff_millis"`
}

// CheckpointConfig selects the checkpoint backend. The first one set wins, in field order.
type CheckpointConfig struct {
	File          string `yaml:"file"`
	Table         string `yaml:"table"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table"`
}

type LoggingConfig struct {
	// Backend is logrus, zap or zerolog.
	Backend string `yaml:"backend"`
	Level   string `yaml:"level"`
	JSON    bool   `yaml:"json"`
	File    string `yaml:"file"`
}

type MetricsConfig struct {
	PrometheusListen string `yaml:"prometheus_listen"`
	CloudWatch       bool   `yaml:"cloudwatch"`
}

// loadFileConfig reads and parses the YAML file at path.
func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &fc, nil
}

func (fc *fileConfig) validate() error {
	if fc.ApplicationName == "" {
		return errors.New("application_name is required")
	}
	if fc.CollectionID == "" {
		return errors.New("collection_id is required")
	}
	if fc.Region == "" {
		return errors.New("region is required")
	}

	numbers := []struct {
		name  string
		value int
	}{
		{"shard_count", fc.ShardCount},
		{"read.max_records", fc.Read.MaxRecords},
		{"read.max_concurrent_partitions", fc.Read.MaxConcurrentPartitions},
		{"read.max_empty_reads", fc.Read.MaxEmptyReads},
		{"read.retry_max_attempts", fc.Read.RetryMaxAttempts},
		{"read.retry_backoff_millis", fc.Read.RetryBackoffMillis},
	}
	for _, n := range numbers {
		if n.value < 0 {
			return fmt.Errorf("%s cannot be negative", n.name)
		}
	}

	switch fc.Logging.Backend {
	case "", "logrus", "zap", "zerolog":
	default:
		return fmt.Errorf("unknown logging backend %q", fc.Logging.Backend)
	}
	return nil
}

// changeFeedConfig overlays the file onto the library defaults.
func (fc *fileConfig) changeFeedConfig() (*config.ChangeFeedConfiguration, error) {
	if err := fc.validate(); err != nil {
		return nil, err
	}

	cfg := config.NewChangeFeedConfig(fc.ApplicationName, fc.DatabaseID, fc.CollectionID, fc.Region, fc.ReaderID).
		WithLogger(fc.logger())
	if fc.PartitionKeyPath != "" {
		cfg.WithPartitionKeyPath(fc.PartitionKeyPath)
	}
	if fc.KinesisEndpoint != "" {
		cfg.WithKinesisEndpoint(fc.KinesisEndpoint)
	}
	if fc.DynamoDBEndpoint != "" {
		cfg.WithDynamoDBEndpoint(fc.DynamoDBEndpoint)
	}
	if fc.Checkpoint.Table != "" {
		cfg.WithTableName(fc.Checkpoint.Table)
	}
	if fc.ShardCount > 0 {
		cfg.WithShardCount(fc.ShardCount)
	}
	if fc.Read.MaxRecords > 0 {
		cfg.WithMaxRecords(fc.Read.MaxRecords)
	}
	if fc.Read.MaxConcurrentPartitions > 0 {
		cfg.WithMaxConcurrentPartitions(fc.Read.MaxConcurrentPartitions)
	}
	if fc.Read.MaxEmptyReads > 0 {
		cfg.WithMaxEmptyReads(fc.Read.MaxEmptyReads)
	}
	if fc.Read.RetryMaxAttempts > 0 || fc.Read.RetryBackoffMillis > 0 {
		attempts := fc.Read.RetryMaxAttempts
		if attempts == 0 {
			attempts = config.DefaultRetryMaxAttempts
		}
		backoff := fc.Read.RetryBackoffMillis
		if backoff == 0 {
			backoff = config.DefaultRetryBackoffMillis
		}
		cfg.WithRetry(attempts, backoff)
	}
	return cfg, nil
}

func (fc *fileConfig) logger() logger.Logger {
	level := fc.Logging.Level
	if level == "" {
		level = logger.Info
	}
	lc := logger.Configuration{
		EnableConsole:     true,
		ConsoleJSONFormat: fc.Logging.JSON,
		ConsoleLevel:      level,
		EnableFile:        fc.Logging.File != "",
		FileJSONFormat:    true,
		FileLevel:         level,
		Filename:          fc.Logging.File,
		LocalTime:         true,
	}

	switch fc.Logging.Backend {
	case "zap":
		return zap.NewZapLoggerWithConfig(lc)
	case "zerolog":
		return zerolog.NewZerologLoggerWithConfig(lc)
	default:
		return logger.NewLogrusLoggerWithConfig(lc)
	}
}
