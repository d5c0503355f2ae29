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
package prometheus

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vmware/vmware-go-changefeed/logger"
)

// MonitoringService publishes change feed metrics to Prometheus.
// Collectors live in their own registry so several readers can share a process.
type MonitoringService struct {
	listenAddress string
	namespace     string
	collection    string
	readerID      string
	region        string
	logger        logger.Logger

	registry *prom.Registry
	server   *http.Server

	partitions         prom.Gauge
	processedRecords   *prom.CounterVec
	processedBytes     *prom.CounterVec
	readTime           *prom.HistogramVec
	checkpointAdvances *prom.CounterVec
	readFailures       *prom.CounterVec
}

// NewMonitoringService returns a Monitoring service publishing metrics to Prometheus.
// An empty listenAddress disables the HTTP listener.
func NewMonitoringService(listenAddress, region string, logger logger.Logger) *MonitoringService {
	return &MonitoringService{
		listenAddress: listenAddress,
		region:        region,
		logger:        logger,
		registry:      prom.NewRegistry(),
	}
}

// Registry exposes the collectors, mostly for scraping in tests.
func (p *MonitoringService) Registry() *prom.Registry {
	return p.registry
}

func (p *MonitoringService) Init(appName, collection, readerID string) error {
	p.namespace = appName
	p.collection = collection
	p.readerID = readerID

	labels := []string{"collection", "partition"}
	p.partitions = prom.NewGauge(prom.GaugeOpts{
		Name:        p.namespace + `_partitions`,
		Help:        "Number of partition ranges found by the last topology resolution",
		ConstLabels: prom.Labels{"collection": collection, "reader": readerID},
	})
	p.processedRecords = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_processed_records`,
		Help: "Number of change records processed",
	}, labels)
	p.processedBytes = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_processed_bytes`,
		Help: "Number of payload bytes processed",
	}, labels)
	p.readTime = prom.NewHistogramVec(prom.HistogramOpts{
		Name: p.namespace + `_read_duration_seconds`,
		Help: "The time taken to read one batch of changes",
	}, labels)
	p.checkpointAdvances = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_checkpoint_advances`,
		Help: "Number of times a partition continuation token moved forward",
	}, labels)
	p.readFailures = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_read_failures`,
		Help: "Number of partition drains that failed",
	}, labels)

	metrics := []prom.Collector{
		p.partitions,
		p.processedRecords,
		p.processedBytes,
		p.readTime,
		p.checkpointAdvances,
		p.readFailures,
	}
	for _, metric := range metrics {
		if err := p.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func (p *MonitoringService) Start() error {
	if p.listenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	p.server = &http.Server{Addr: p.listenAddress, Handler: mux}
	go func() {
		p.logger.Infof("Starting Prometheus listener on %s", p.listenAddress)
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Errorf("Error starting Prometheus metrics endpoint. %+v", err)
		}
		p.logger.Infof("Stopped metrics server")
	}()

	return nil
}

func (p *MonitoringService) Shutdown() {
	if p.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Warnf("Error stopping Prometheus listener: %+v", err)
	}
}

func (p *MonitoringService) PartitionsDiscovered(count int) {
	p.partitions.Set(float64(count))
}

func (p *MonitoringService) IncrRecordsProcessed(partition string, count int) {
	p.processedRecords.With(p.labels(partition)).Add(float64(count))
}

func (p *MonitoringService) IncrBytesProcessed(partition string, count int64) {
	p.processedBytes.With(p.labels(partition)).Add(float64(count))
}

func (p *MonitoringService) RecordReadTime(partition string, millis float64) {
	p.readTime.With(p.labels(partition)).Observe(millis / 1000)
}

func (p *MonitoringService) CheckpointAdvanced(partition string) {
	p.checkpointAdvances.With(p.labels(partition)).Inc()
}

func (p *MonitoringService) ReadFailed(partition string) {
	p.readFailures.With(p.labels(partition)).Inc()
}

func (p *MonitoringService) labels(partition string) prom.Labels {
	return prom.Labels{"collection": p.collection, "partition": partition}
}
