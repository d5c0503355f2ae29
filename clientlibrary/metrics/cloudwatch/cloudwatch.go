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
package cloudwatch

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	cwatch "github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"

	"github.com/vmware/vmware-go-changefeed/logger"
)

// DefaultCloudwatchMetricsBufferDuration is how long metrics are aggregated before being sent.
const DefaultCloudwatchMetricsBufferDuration = 10 * time.Second

// MonitoringService buffers per-partition metrics and flushes them to CloudWatch periodically.
type MonitoringService struct {
	appName    string
	collection string
	readerID   string
	region     string
	creds      *credentials.Credentials
	logger     logger.Logger

	// control how often to publish to CloudWatch
	bufferDuration time.Duration

	svc cloudwatchiface.CloudWatchAPI

	mux              sync.Mutex
	partitions       int64
	partitionMetrics map[string]*cloudWatchMetrics

	stop      chan struct{}
	waitGroup sync.WaitGroup
}

type cloudWatchMetrics struct {
	processedRecords   int64
	processedBytes     int64
	checkpointAdvances int64
	readFailures       int64
	readTime           []float64
}

// NewMonitoringService returns a CloudWatch publisher using the default buffer duration.
func NewMonitoringService(region string, creds *credentials.Credentials) *MonitoringService {
	return NewMonitoringServiceWithOptions(region, creds, logger.GetDefaultLogger(), DefaultCloudwatchMetricsBufferDuration)
}

// NewMonitoringServiceWithOptions returns a CloudWatch publisher with a custom logger and buffer duration.
func NewMonitoringServiceWithOptions(region string, creds *credentials.Credentials, logger logger.Logger, bufferDur time.Duration) *MonitoringService {
	return &MonitoringService{
		region:         region,
		creds:          creds,
		logger:         logger,
		bufferDuration: bufferDur,
	}
}

// WithCloudWatch injects the CloudWatch client, for custom endpoints or unit testing.
func (cw *MonitoringService) WithCloudWatch(svc cloudwatchiface.CloudWatchAPI) *MonitoringService {
	cw.svc = svc
	return cw
}

func (cw *MonitoringService) Init(appName, collection, readerID string) error {
	cw.appName = appName
	cw.collection = collection
	cw.readerID = readerID
	cw.partitionMetrics = make(map[string]*cloudWatchMetrics)

	if cw.svc != nil {
		return nil
	}

	cfg := &aws.Config{Region: aws.String(cw.region)}
	cfg = cfg.WithCredentials(cw.creds)
	s, err := session.NewSession(cfg)
	if err != nil {
		cw.logger.Errorf("Error in creating session for cloudwatch. %+v", err)
		return err
	}
	cw.svc = cwatch.New(s)
	return nil
}

func (cw *MonitoringService) Start() error {
	cw.stop = make(chan struct{})
	cw.waitGroup.Add(1)
	go func() {
		defer cw.waitGroup.Done()
		cw.eventloop()
	}()
	return nil
}

func (cw *MonitoringService) Shutdown() {
	if cw.stop == nil {
		return
	}
	close(cw.stop)
	cw.waitGroup.Wait()
	cw.stop = nil
	cw.logger.Infof("Shutting down cloudwatch metrics system...")
}

func (cw *MonitoringService) eventloop() {
	ticker := time.NewTicker(cw.bufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cw.flush()
		case <-cw.stop:
			cw.flush()
			return
		}
	}
}

// flush sends one PutMetricData request per partition. Buffers are reset only on success.
func (cw *MonitoringService) flush() {
	cw.mux.Lock()
	defer cw.mux.Unlock()

	now := time.Now()
	collectionDimension := &cwatch.Dimension{Name: aws.String("Collection"), Value: aws.String(cw.collection)}
	readerDimension := &cwatch.Dimension{Name: aws.String("ReaderID"), Value: aws.String(cw.readerID)}

	if _, err := cw.svc.PutMetricData(&cwatch.PutMetricDataInput{
		Namespace: aws.String(cw.appName),
		MetricData: []*cwatch.MetricDatum{{
			Dimensions: []*cwatch.Dimension{collectionDimension, readerDimension},
			MetricName: aws.String("Partitions"),
			Unit:       aws.String(cwatch.StandardUnitCount),
			Timestamp:  &now,
			Value:      aws.Float64(float64(cw.partitions)),
		}},
	}); err != nil {
		cw.logger.Errorf("Error in publishing cloudwatch metrics. Error: %+v", err)
	}

	for partition, metric := range cw.partitionMetrics {
		dimensions := []*cwatch.Dimension{
			collectionDimension,
			{Name: aws.String("Partition"), Value: aws.String(partition)},
		}
		data := []*cwatch.MetricDatum{
			{
				Dimensions: dimensions,
				MetricName: aws.String("RecordsProcessed"),
				Unit:       aws.String(cwatch.StandardUnitCount),
				Timestamp:  &now,
				Value:      aws.Float64(float64(metric.processedRecords)),
			},
			{
				Dimensions: dimensions,
				MetricName: aws.String("DataBytesProcessed"),
				Unit:       aws.String(cwatch.StandardUnitBytes),
				Timestamp:  &now,
				Value:      aws.Float64(float64(metric.processedBytes)),
			},
			{
				Dimensions: dimensions,
				MetricName: aws.String("CheckpointAdvances"),
				Unit:       aws.String(cwatch.StandardUnitCount),
				Timestamp:  &now,
				Value:      aws.Float64(float64(metric.checkpointAdvances)),
			},
			{
				Dimensions: dimensions,
				MetricName: aws.String("ReadFailures"),
				Unit:       aws.String(cwatch.StandardUnitCount),
				Timestamp:  &now,
				Value:      aws.Float64(float64(metric.readFailures)),
			},
		}
		if len(metric.readTime) > 0 {
			data = append(data, &cwatch.MetricDatum{
				Dimensions: dimensions,
				MetricName: aws.String("ReadPartitionChanges.Time"),
				Unit:       aws.String(cwatch.StandardUnitMilliseconds),
				Timestamp:  &now,
				StatisticValues: &cwatch.StatisticSet{
					SampleCount: aws.Float64(float64(len(metric.readTime))),
					Sum:         sumFloat64(metric.readTime),
					Maximum:     maxFloat64(metric.readTime),
					Minimum:     minFloat64(metric.readTime),
				},
			})
		}

		_, err := cw.svc.PutMetricData(&cwatch.PutMetricDataInput{
			Namespace:  aws.String(cw.appName),
			MetricData: data,
		})
		if err != nil {
			cw.logger.Errorf("Error in publishing cloudwatch metrics for partition %s. Error: %+v", partition, err)
			continue
		}
		cw.partitionMetrics[partition] = &cloudWatchMetrics{}
	}
}

// metricsFor must be called with cw.mux held.
func (cw *MonitoringService) metricsFor(partition string) *cloudWatchMetrics {
	m, ok := cw.partitionMetrics[partition]
	if !ok {
		m = &cloudWatchMetrics{}
		cw.partitionMetrics[partition] = m
	}
	return m
}

func (cw *MonitoringService) PartitionsDiscovered(count int) {
	cw.mux.Lock()
	defer cw.mux.Unlock()
	cw.partitions = int64(count)
}

func (cw *MonitoringService) IncrRecordsProcessed(partition string, count int) {
	cw.mux.Lock()
	defer cw.mux.Unlock()
	cw.metricsFor(partition).processedRecords += int64(count)
}

func (cw *MonitoringService) IncrBytesProcessed(partition string, count int64) {
	cw.mux.Lock()
	defer cw.mux.Unlock()
	cw.metricsFor(partition).processedBytes += count
}

func (cw *MonitoringService) RecordReadTime(partition string, millis float64) {
	cw.mux.Lock()
	defer cw.mux.Unlock()
	m := cw.metricsFor(partition)
	m.readTime = append(m.readTime, millis)
}

func (cw *MonitoringService) CheckpointAdvanced(partition string) {
	cw.mux.Lock()
	defer cw.mux.Unlock()
	cw.metricsFor(partition).checkpointAdvances++
}

func (cw *MonitoringService) ReadFailed(partition string) {
	cw.mux.Lock()
	defer cw.mux.Unlock()
	cw.metricsFor(partition).readFailures++
}

func sumFloat64(slice []float64) *float64 {
	sum := float64(0)
	for _, num := range slice {
		sum += num
	}
	return &sum
}

func maxFloat64(slice []float64) *float64 {
	if len(slice) < 1 {
		return aws.Float64(0)
	}
	max := slice[0]
	for _, num := range slice {
		if num > max {
			max = num
		}
	}
	return &max
}

func minFloat64(slice []float64) *float64 {
	if len(slice) < 1 {
		return aws.Float64(0)
	}
	min := slice[0]
	for _, num := range slice {
		if num < min {
			min = num
		}
	}
	return &min
}
