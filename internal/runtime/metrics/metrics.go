// Package metrics records worker and dispatch statistics as Prometheus
// collectors and keeps a per-event-type snapshot for the web UI.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Handler outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeQueued   = "queued"
	OutcomeRejected = "rejected"
)

// WorkerMetrics tracks consumption and handler execution.
type WorkerMetrics struct {
	mu sync.RWMutex

	eventCounts map[string]*EventTypeMetrics

	messagesTotal   *prometheus.CounterVec
	handlersTotal   *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	fallbacksTotal  *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	idlePollsTotal  *prometheus.CounterVec
	skippedTotal    *prometheus.CounterVec
	workersRunning  *prometheus.GaugeVec
	registerer      prometheus.Registerer
	registered      bool
}

// EventTypeMetrics holds the counters of one event type.
type EventTypeMetrics struct {
	MessagesReceived  uint64    `json:"messages_received"`
	HandlersSucceeded uint64    `json:"handlers_succeeded"`
	HandlersFailed    uint64    `json:"handlers_failed"`
	HandlersQueued    uint64    `json:"handlers_queued"`
	HandlersRejected  uint64    `json:"handlers_rejected"`
	Fallbacks         uint64    `json:"fallbacks"`
	LastReceivedAt    time.Time `json:"last_received_at,omitempty"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
}

// Snapshot is a point-in-time copy of every event type's counters.
type Snapshot struct {
	TotalMessages uint64                       `json:"total_messages"`
	TotalFailures uint64                       `json:"total_failures"`
	EventTypes    map[string]*EventTypeMetrics `json:"event_types"`
	CollectedAt   time.Time                    `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "herald",
			Subsystem: "worker",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates a collector set. A nil registerer uses the Prometheus default.
func New(registerer prometheus.Registerer) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkerMetrics{
		eventCounts:     make(map[string]*EventTypeMetrics),
		registerer:      registerer,
		messagesTotal:   newCounterVec("messages_total", "Messages consumed and acknowledged", []string{"topic", "event_type"}),
		handlersTotal:   newCounterVec("handler_executions_total", "Handler executions by outcome", []string{"event_type", "handler", "outcome"}),
		fallbacksTotal:  newCounterVec("router_fallbacks_total", "Messages without handlers forwarded through the topic router", []string{"event_type", "target"}),
		transportErrors: newCounterVec("transport_errors_total", "Unexpected errors returned by Consume", []string{"connection"}),
		idlePollsTotal:  newCounterVec("idle_polls_total", "Polls that returned no message", []string{"connection"}),
		skippedTotal:    newCounterVec("skipped_total", "Messages acknowledged without dispatch because they are outside the topic", []string{"topic"}),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "herald",
				Subsystem: "worker",
				Name:      "handler_duration_seconds",
				Help:      "Inline handler execution time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"event_type", "handler"},
		),
		workersRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "herald",
				Subsystem: "worker",
				Name:      "running",
				Help:      "Worker loops currently running",
			},
			[]string{"topic"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *WorkerMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.handlersTotal,
		m.handlerDuration,
		m.fallbacksTotal,
		m.transportErrors,
		m.idlePollsTotal,
		m.skippedTotal,
		m.workersRunning,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordMessage records a consumed message.
func (m *WorkerMetrics) RecordMessage(topic, eventType string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(eventType)
	stats.MessagesReceived++
	stats.LastReceivedAt = time.Now()
	stats.LastUpdatedAt = stats.LastReceivedAt

	m.messagesTotal.WithLabelValues(topic, eventType).Inc()
}

// RecordHandler records one handler outcome. duration is ignored for queued
// and rejected handlers.
func (m *WorkerMetrics) RecordHandler(eventType, handler, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(eventType)
	switch outcome {
	case OutcomeSuccess:
		stats.HandlersSucceeded++
	case OutcomeFailure:
		stats.HandlersFailed++
	case OutcomeQueued:
		stats.HandlersQueued++
	case OutcomeRejected:
		stats.HandlersRejected++
	}
	stats.LastUpdatedAt = time.Now()

	m.handlersTotal.WithLabelValues(eventType, handler, outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeFailure {
		m.handlerDuration.WithLabelValues(eventType, handler).Observe(duration.Seconds())
	}
}

// RecordFallback records a router fallback notification.
func (m *WorkerMetrics) RecordFallback(eventType, target string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(eventType)
	stats.Fallbacks++
	stats.LastUpdatedAt = time.Now()

	m.fallbacksTotal.WithLabelValues(eventType, target).Inc()
}

// RecordTransportError records an unexpected Consume error.
func (m *WorkerMetrics) RecordTransportError(connection string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(connection).Inc()
}

// RecordIdlePoll records an empty poll.
func (m *WorkerMetrics) RecordIdlePoll(connection string) {
	if m == nil {
		return
	}
	m.idlePollsTotal.WithLabelValues(connection).Inc()
}

// RecordSkipped records a message acknowledged without dispatch.
func (m *WorkerMetrics) RecordSkipped(topic string) {
	if m == nil {
		return
	}
	m.skippedTotal.WithLabelValues(topic).Inc()
}

// WorkerStarted and WorkerStopped track running loops per topic.
func (m *WorkerMetrics) WorkerStarted(topic string) {
	if m == nil {
		return
	}
	m.workersRunning.WithLabelValues(topic).Inc()
}

func (m *WorkerMetrics) WorkerStopped(topic string) {
	if m == nil {
		return
	}
	m.workersRunning.WithLabelValues(topic).Dec()
}

// GetSnapshot returns a point-in-time copy of all event type counters.
func (m *WorkerMetrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := Snapshot{
		EventTypes:  make(map[string]*EventTypeMetrics, len(m.eventCounts)),
		CollectedAt: time.Now(),
	}
	for eventType, stats := range m.eventCounts {
		copied := *stats
		snapshot.EventTypes[eventType] = &copied
		snapshot.TotalMessages += stats.MessagesReceived
		snapshot.TotalFailures += stats.HandlersFailed
	}
	return snapshot
}

// GetEventTypeMetrics returns a copy of one event type's counters, or nil.
func (m *WorkerMetrics) GetEventTypeMetrics(eventType string) *EventTypeMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.eventCounts[eventType]; ok {
		copied := *stats
		return &copied
	}
	return nil
}

func (m *WorkerMetrics) getOrCreate(eventType string) *EventTypeMetrics {
	if stats, ok := m.eventCounts[eventType]; ok {
		return stats
	}
	stats := &EventTypeMetrics{}
	m.eventCounts[eventType] = stats
	return stats
}

// Reset clears all metrics (useful for testing).
func (m *WorkerMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventCounts = make(map[string]*EventTypeMetrics)
	m.messagesTotal.Reset()
	m.handlersTotal.Reset()
	m.handlerDuration.Reset()
	m.fallbacksTotal.Reset()
	m.transportErrors.Reset()
	m.idlePollsTotal.Reset()
	m.skippedTotal.Reset()
	m.workersRunning.Reset()
}
