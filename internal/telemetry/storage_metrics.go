package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// StorageMetrics holds all the metric instruments for the storage core.
type StorageMetrics struct {
	PagesAllocatedCounter metric.Int64Counter
	PagesReadCounter      metric.Int64Counter
	PagesWrittenCounter   metric.Int64Counter
	IoQueueDepthUpDown    metric.Int64UpDownCounter
	IoTaskLatencyHist     metric.Int64Histogram
	PoolHitCounter        metric.Int64Counter
	PoolMissCounter       metric.Int64Counter
	EvictionCounter       metric.Int64Counter
	WritebackCounter      metric.Int64Counter
}

// NewStorageMetrics creates and registers all the metrics for the storage core.
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	pagesAllocatedCounter, err := meter.Int64Counter(
		"picodb.storage.pages_allocated_total",
		metric.WithDescription("Total number of pages allocated by extending the data file."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pagesReadCounter, err := meter.Int64Counter(
		"picodb.storage.pages_read_total",
		metric.WithDescription("Total number of page reads served from disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pagesWrittenCounter, err := meter.Int64Counter(
		"picodb.storage.pages_written_total",
		metric.WithDescription("Total number of page writes issued to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	ioQueueDepthUpDown, err := meter.Int64UpDownCounter(
		"picodb.io_queue.depth",
		metric.WithDescription("Number of tasks currently pending or in flight in the I/O queue."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	ioTaskLatencyHist, err := meter.Int64Histogram(
		"picodb.io_queue.task_duration",
		metric.WithDescription("The latency of I/O queue tasks."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	poolHitCounter, err := meter.Int64Counter(
		"picodb.buffer_pool.hits_total",
		metric.WithDescription("Total number of page requests served from the buffer pool."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	poolMissCounter, err := meter.Int64Counter(
		"picodb.buffer_pool.misses_total",
		metric.WithDescription("Total number of page requests that required a disk read."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictionCounter, err := meter.Int64Counter(
		"picodb.buffer_pool.evictions_total",
		metric.WithDescription("Total number of pages evicted from the buffer pool."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writebackCounter, err := meter.Int64Counter(
		"picodb.buffer_pool.writebacks_total",
		metric.WithDescription("Total number of dirty pages written back before eviction."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &StorageMetrics{
		PagesAllocatedCounter: pagesAllocatedCounter,
		PagesReadCounter:      pagesReadCounter,
		PagesWrittenCounter:   pagesWrittenCounter,
		IoQueueDepthUpDown:    ioQueueDepthUpDown,
		IoTaskLatencyHist:     ioTaskLatencyHist,
		PoolHitCounter:        poolHitCounter,
		PoolMissCounter:       poolMissCounter,
		EvictionCounter:       evictionCounter,
		WritebackCounter:      writebackCounter,
	}, nil
}
