package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ack modes reported on commitguard_commits_total.
const (
	AckModeManual = "manual"
	AckModeAuto   = "auto"
)

// CommitMetrics tracks commits, duplicates, overtime and publish failures.
type CommitMetrics struct {
	mu sync.RWMutex

	// Per-topic counts
	topicCounts     map[string]*CommitTopicMetrics
	publishFailures uint64
	discarded       uint64

	// Prometheus collectors
	commitsTotal         *prometheus.CounterVec
	duplicatesTotal      *prometheus.CounterVec
	overtimeTotal        *prometheus.CounterVec
	publishFailuresTotal *prometheus.CounterVec
	outboxDiscardedTotal prometheus.Counter
	processingSeconds    *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// CommitTopicMetrics holds the counts for one inbound topic.
type CommitTopicMetrics struct {
	Commits       uint64        `json:"commits"`
	Duplicates    uint64        `json:"duplicates"`
	Overtime      uint64        `json:"overtime"`
	LastDuration  time.Duration `json:"last_duration_ns"`
	LastCommitAt  time.Time     `json:"last_commit_at,omitempty"`
	LastUpdatedAt time.Time     `json:"last_updated_at"`
}

// CommitMetricsSnapshot provides a point-in-time view of the commit metrics.
type CommitMetricsSnapshot struct {
	TotalCommits         uint64                         `json:"total_commits"`
	TotalDuplicates      uint64                         `json:"total_duplicates"`
	TotalOvertime        uint64                         `json:"total_overtime"`
	TotalPublishFailures uint64                         `json:"total_publish_failures"`
	TotalDiscarded       uint64                         `json:"total_discarded"`
	TopicMetrics         map[string]*CommitTopicMetrics `json:"topic_metrics"`
	CollectedAt          time.Time                      `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "commitguard",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewCommitMetrics creates the collectors. A nil registerer selects the
// Prometheus default registerer.
func NewCommitMetrics(registerer prometheus.Registerer) *CommitMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CommitMetrics{
		topicCounts:          make(map[string]*CommitTopicMetrics),
		registerer:           registerer,
		commitsTotal:         newCounterVec("commits_total", "Inbound messages committed", []string{"ack_mode"}),
		duplicatesTotal:      newCounterVec("duplicates_total", "Redelivered messages recognised as already processed", []string{"topic"}),
		overtimeTotal:        newCounterVec("overtime_total", "Messages whose processing exceeded the max processing time", []string{"topic"}),
		publishFailuresTotal: newCounterVec("publish_failures_total", "Outbound messages that failed to publish", []string{"binding"}),
		outboxDiscardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "commitguard",
			Name:      "outbox_discarded_total",
			Help:      "Buffered outbound messages dropped because their inbound message never committed",
		}),
		processingSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "commitguard",
				Name:      "processing_duration_seconds",
				Help:      "Time from begin to commit of an inbound message",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 60, 300, 600},
			},
			[]string{"topic"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *CommitMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.commitsTotal,
		m.duplicatesTotal,
		m.overtimeTotal,
		m.publishFailuresTotal,
		m.outboxDiscardedTotal,
		m.processingSeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordCommit records one committed message on topic.
func (m *CommitMetrics) RecordCommit(topic, ackMode string, elapsed time.Duration, overtime bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.Commits++
	metrics.LastDuration = elapsed
	metrics.LastCommitAt = now
	metrics.LastUpdatedAt = now
	if overtime {
		metrics.Overtime++
		m.overtimeTotal.WithLabelValues(topic).Inc()
	}

	m.commitsTotal.WithLabelValues(ackMode).Inc()
	m.processingSeconds.WithLabelValues(topic).Observe(elapsed.Seconds())
}

// RecordDuplicate records a skipped redelivery on topic.
func (m *CommitMetrics) RecordDuplicate(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateTopicMetrics(topic)
	metrics.Duplicates++
	metrics.LastUpdatedAt = time.Now()

	m.duplicatesTotal.WithLabelValues(topic).Inc()
}

// RecordPublishFailure records a failed send on binding.
func (m *CommitMetrics) RecordPublishFailure(binding string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.publishFailures++
	m.mu.Unlock()

	m.publishFailuresTotal.WithLabelValues(binding).Inc()
}

// RecordDiscarded records outbound messages dropped from an uncommitted cycle.
func (m *CommitMetrics) RecordDiscarded(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.mu.Lock()
	m.discarded += uint64(count)
	m.mu.Unlock()

	m.outboxDiscardedTotal.Add(float64(count))
}

// GetTopicMetrics returns a copy of the counts for topic, or nil.
func (m *CommitMetrics) GetTopicMetrics(topic string) *CommitTopicMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics, ok := m.topicCounts[topic]
	if !ok {
		return nil
	}
	clone := *metrics
	return &clone
}

// GetSnapshot returns a point-in-time snapshot of all counts.
func (m *CommitMetrics) GetSnapshot() CommitMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := CommitMetricsSnapshot{
		TopicMetrics:         make(map[string]*CommitTopicMetrics, len(m.topicCounts)),
		TotalPublishFailures: m.publishFailures,
		TotalDiscarded:       m.discarded,
		CollectedAt:          time.Now(),
	}
	for topic, metrics := range m.topicCounts {
		clone := *metrics
		snapshot.TopicMetrics[topic] = &clone
		snapshot.TotalCommits += metrics.Commits
		snapshot.TotalDuplicates += metrics.Duplicates
		snapshot.TotalOvertime += metrics.Overtime
	}
	return snapshot
}

func (m *CommitMetrics) getOrCreateTopicMetrics(topic string) *CommitTopicMetrics {
	metrics, ok := m.topicCounts[topic]
	if !ok {
		metrics = &CommitTopicMetrics{}
		m.topicCounts[topic] = metrics
	}
	return metrics
}
