package kestrel

import (
	"sync/atomic"
	"time"
)

// metrics tracks runtime statistics for a Proxy. All fields are
// thread-safe via atomic operations so the hot request path never
// blocks on a mutex to record a counter.
type metrics struct {
	start             atomic.Value // time.Time
	activeConnections atomic.Int64
	totalConnections  atomic.Int64
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	sessionMatches    atomic.Int64
	curlFallbacks     atomic.Int64
}

// MetricsValues is a point-in-time snapshot of proxy metrics.
type MetricsValues struct {
	Uptime            int64
	ActiveConnections int64
	TotalConnections  int64
	BytesSent         uint64
	BytesReceived     uint64
	SessionMatches    int64
	CurlFallbacks     int64
}

func newMetrics() *metrics {
	m := &metrics{}
	m.start.Store(time.Now())
	return m
}

func (m *metrics) connectionOpened() {
	m.activeConnections.Add(1)
	m.totalConnections.Add(1)
}

func (m *metrics) connectionClosed() {
	m.activeConnections.Add(-1)
}

func (m *metrics) recordBytesSent(n uint64)     { m.bytesSent.Add(n) }
func (m *metrics) recordBytesReceived(n uint64) { m.bytesReceived.Add(n) }
func (m *metrics) recordSessionMatch()          { m.sessionMatches.Add(1) }
func (m *metrics) recordCurlFallback()          { m.curlFallbacks.Add(1) }

func (m *metrics) uptime() int64 {
	start := m.start.Load().(time.Time)
	if start.IsZero() {
		return 0
	}
	return time.Since(start).Milliseconds()
}

func (m *metrics) snapshot() MetricsValues {
	return MetricsValues{
		Uptime:            m.uptime(),
		ActiveConnections: m.activeConnections.Load(),
		TotalConnections:  m.totalConnections.Load(),
		BytesSent:         m.bytesSent.Load(),
		BytesReceived:     m.bytesReceived.Load(),
		SessionMatches:    m.sessionMatches.Load(),
		CurlFallbacks:     m.curlFallbacks.Load(),
	}
}

// metricsCollector periodically emits metrics snapshots as events.
type metricsCollector struct {
	metrics  *metrics
	interval time.Duration
	stop     chan struct{}
	emit     func(Event)
}

func newMetricsCollector(m *metrics, interval time.Duration, emit func(Event)) *metricsCollector {
	return &metricsCollector{metrics: m, interval: interval, stop: make(chan struct{}), emit: emit}
}

func (mc *metricsCollector) Start() {
	go func() {
		ticker := time.NewTicker(mc.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mc.emit(NewMetricsSnapshotEvent(mc.metrics.snapshot()))
			case <-mc.stop:
				return
			}
		}
	}()
}

func (mc *metricsCollector) Stop() {
	close(mc.stop)
}
