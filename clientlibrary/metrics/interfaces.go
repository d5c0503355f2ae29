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
package metrics

// MonitoringService receives per-partition read metrics from the change feed reader.
type MonitoringService interface {
	Init(appName, collection, readerID string) error
	Start() error
	PartitionsDiscovered(int)
	IncrRecordsProcessed(string, int)
	IncrBytesProcessed(string, int64)
	RecordReadTime(string, float64)
	CheckpointAdvanced(string)
	ReadFailed(string)
	Shutdown()
}

// NoopMonitoringService implements MonitoringService by does nothing.
type NoopMonitoringService struct{}

func (NoopMonitoringService) Init(appName, collection, readerID string) error { return nil }
func (NoopMonitoringService) Start() error                                    { return nil }
func (NoopMonitoringService) Shutdown()                                       {}

func (NoopMonitoringService) PartitionsDiscovered(count int)                   {}
func (NoopMonitoringService) IncrRecordsProcessed(partition string, count int) {}
func (NoopMonitoringService) IncrBytesProcessed(partition string, count int64) {}
func (NoopMonitoringService) RecordReadTime(partition string, millis float64)  {}
func (NoopMonitoringService) CheckpointAdvanced(partition string)              {}
func (NoopMonitoringService) ReadFailed(partition string)                      {}
