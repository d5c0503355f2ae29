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

// changefeed reads the change feed of a collection from its stored checkpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	chk "github.com/vmware/vmware-go-changefeed/clientlibrary/checkpoint"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/collection"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/config"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/database/postgres"
	cf "github.com/vmware/vmware-go-changefeed/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/metrics"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/metrics/cloudwatch"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/metrics/prometheus"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
	"github.com/vmware/vmware-go-changefeed/clientlibrary/worker"
)

const saveTimeout = 30 * time.Second

var (
	configPath         string
	checkpointFile     string
	checkpointTable    string
	checkpointPostgres string
	pruneStale         bool
	printRecords       bool
)

var rootCmd = &cobra.Command{
	Use:   "changefeed [command]",
	Short: "read the change feed of a collection",
	Long: `
  Reads every change of a collection since the stored checkpoint, one partition
  at a time, and stores the new checkpoint once the read is over.
`,
	SilenceUsage: true,
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "read all changes since the stored checkpoint",
	Long: `
  Reads all partitions to their current end. The checkpoint is saved even when
  the read fails, so the next run resumes where this one stopped.
`,
	RunE: runRead,
}

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "create the collection when it does not exist",
	RunE:  runEnsure,
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "print the partition ranges of the collection",
	RunE:  runPartitions,
}

var resetCmd = &cobra.Command{
	Use:   "reset [partition-id...]",
	Short: "drop checkpoint entries so the partitions are read from the beginning",
	Long: `
  Removes the checkpoint entries of the given partitions. Use it after a read
  failed on a continuation token the store no longer accepts.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReset,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "changefeed.yaml", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&checkpointFile, "checkpoint-file", "", "store the checkpoint in this YAML file")
	rootCmd.PersistentFlags().StringVar(&checkpointTable, "checkpoint-table", "", "store the checkpoint in this DynamoDB table")
	rootCmd.PersistentFlags().StringVar(&checkpointPostgres, "checkpoint-postgres", "", "store the checkpoint in the PostgreSQL database at this DSN")

	readCmd.Flags().BoolVar(&pruneStale, "prune-stale", false, "drop checkpoint entries of partitions that no longer exist")
	readCmd.Flags().BoolVar(&printRecords, "print", false, "print every record as partition, sequence number and payload")

	rootCmd.AddCommand(readCmd, ensureCmd, partitionsCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func handleInterrupt(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	cancel()
}

// setup loads --config and applies the checkpoint flags on top of it.
func setup() (*fileConfig, *config.ChangeFeedConfiguration, error) {
	fc, err := loadFileConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case checkpointFile != "":
		fc.Checkpoint = CheckpointConfig{File: checkpointFile}
	case checkpointTable != "":
		fc.Checkpoint = CheckpointConfig{Table: checkpointTable}
	case checkpointPostgres != "":
		fc.Checkpoint = CheckpointConfig{PostgresDSN: checkpointPostgres, PostgresTable: fc.Checkpoint.PostgresTable}
	}

	cfg, err := fc.changeFeedConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.WithMonitoringService(newMonitoringService(fc, cfg))
	return fc, cfg, nil
}

func newMonitoringService(fc *fileConfig, cfg *config.ChangeFeedConfiguration) metrics.MonitoringService {
	switch {
	case fc.Metrics.PrometheusListen != "":
		return prometheus.NewMonitoringService(fc.Metrics.PrometheusListen, cfg.RegionName, cfg.Logger)
	case fc.Metrics.CloudWatch:
		return cloudwatch.NewMonitoringServiceWithOptions(cfg.RegionName, cfg.KinesisCredentials, cfg.Logger,
			cloudwatch.DefaultCloudwatchMetricsBufferDuration)
	default:
		return nil
	}
}

// newCheckpointer returns the configured checkpoint backend and a function releasing it.
// Without any backend configured the checkpoint goes to <application>-checkpoint.yaml.
func newCheckpointer(ctx context.Context, fc *fileConfig, cfg *config.ChangeFeedConfiguration) (chk.Checkpointer, func(), error) {
	noop := func() {}
	switch {
	case fc.Checkpoint.File != "":
		return chk.NewFileCheckpoint(cfg, fc.Checkpoint.File), noop, nil
	case fc.Checkpoint.Table != "":
		return chk.NewDynamoCheckpoint(cfg), noop, nil
	case fc.Checkpoint.PostgresDSN != "":
		store, err := postgres.Open(ctx, fc.Checkpoint.PostgresDSN, fc.Checkpoint.PostgresTable)
		if err != nil {
			return nil, noop, fmt.Errorf("open checkpoint database: %w", err)
		}
		return chk.NewPostgresCheckpoint(cfg, store), func() { store.Close() }, nil
	default:
		return chk.NewFileCheckpoint(cfg, cfg.ApplicationName+"-checkpoint.yaml"), noop, nil
	}
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleInterrupt(cancel)

	fc, cfg, err := setup()
	if err != nil {
		return err
	}
	checkpointer, release, err := newCheckpointer(ctx, fc, cfg)
	if err != nil {
		return err
	}
	defer release()

	reader := worker.NewReader(cfg)
	defer reader.Shutdown()

	count, err := readOnce(ctx, cmd.OutOrStdout(), cfg, reader, checkpointer, readOptions{print: printRecords, prune: pruneStale})
	var invalid worker.InvalidCheckpointEntryError
	if errors.As(err, &invalid) {
		fmt.Fprintf(cmd.ErrOrStderr(), "The store rejected the checkpoint of partition %s. Run %q to read it from the beginning.\n",
			invalid.PartitionID, "changefeed reset "+invalid.PartitionID)
	}
	if err != nil {
		return err
	}

	if !printRecords {
		fmt.Fprintln(cmd.OutOrStdout(), count)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Read %d changes\n", count)
	}
	return nil
}

type readOptions struct {
	print bool
	prune bool
}

// readOnce runs one read from the stored checkpoint and saves the result, also after a failed read.
func readOnce(ctx context.Context, out io.Writer, cfg *config.ChangeFeedConfiguration, reader *worker.Reader,
	checkpointer chk.Checkpointer, opts readOptions) (int, error) {
	log := cfg.Logger

	if err := checkpointer.Init(ctx); err != nil {
		return 0, err
	}
	checkpoint, err := checkpointer.FetchCheckpoint(ctx)
	if err != nil {
		return 0, err
	}

	var handler worker.RecordHandler
	if opts.print {
		var mux sync.Mutex
		handler = func(partitionID string, records []*cf.ChangeRecord) error {
			mux.Lock()
			defer mux.Unlock()
			for _, r := range records {
				if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", partitionID, r.SequenceNumber, r.Data); err != nil {
					return err
				}
			}
			return nil
		}
	}

	count, readErr := worker.NewRetryingReader(reader).Read(ctx, cfg.Collection(), checkpoint, handler)

	// The read context may be cancelled already.
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := checkpointer.SaveCheckpoint(saveCtx, checkpoint); err != nil {
		log.Errorf("Failed to save checkpoint: %+v", err)
		if readErr == nil {
			return count, err
		}
	}
	if readErr != nil {
		return count, readErr
	}

	if opts.prune {
		if err := prune(ctx, cfg, reader, checkpoint, checkpointer); err != nil {
			return count, err
		}
	}
	return count, nil
}

// prune removes the stored entries of partitions missing from the current topology.
func prune(ctx context.Context, cfg *config.ChangeFeedConfiguration, reader *worker.Reader, checkpoint *par.Checkpoint,
	checkpointer chk.Checkpointer) error {
	ranges, err := reader.ListPartitionRanges(ctx, cfg.Collection())
	if err != nil {
		return err
	}
	dropped := checkpoint.Retain(ranges)
	for _, id := range dropped {
		if err := checkpointer.RemoveCheckpoint(ctx, id); err != nil {
			return err
		}
	}
	if len(dropped) > 0 {
		cfg.Logger.Infof("Pruned checkpoint entries of retired partitions: %s", strings.Join(dropped, ", "))
	}
	return nil
}

func runEnsure(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleInterrupt(cancel)

	_, cfg, err := setup()
	if err != nil {
		return err
	}
	kc, err := collection.NewKinesisClient(cfg)
	if err != nil {
		return err
	}

	ref, err := collection.NewKinesisStore(kc, cfg).EnsureCollection(ctx, cfg.DatabaseID, cfg.CollectionID, cfg.PartitionKeyPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s ready (stream %s)\n", ref, collection.StreamName(ref))
	return nil
}

func runPartitions(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleInterrupt(cancel)

	_, cfg, err := setup()
	if err != nil {
		return err
	}
	reader := worker.NewReader(cfg)
	defer reader.Shutdown()

	ranges, err := reader.ListPartitionRanges(ctx, cfg.Collection())
	if err != nil {
		return err
	}
	return printPartitions(cmd.OutOrStdout(), ranges)
}

func printPartitions(out io.Writer, ranges []par.PartitionRange) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PARTITION\tPARENTS\tKEY RANGE")
	for _, r := range ranges {
		parents := strings.Join(r.ParentIDs, ",")
		if parents == "" {
			parents = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t[%s, %s]\n", r.ID, parents, r.KeyRangeStart, r.KeyRangeEnd)
	}
	return w.Flush()
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleInterrupt(cancel)

	fc, cfg, err := setup()
	if err != nil {
		return err
	}
	checkpointer, release, err := newCheckpointer(ctx, fc, cfg)
	if err != nil {
		return err
	}
	defer release()

	if err := checkpointer.Init(ctx); err != nil {
		return err
	}
	for _, id := range args {
		if err := checkpointer.RemoveCheckpoint(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
