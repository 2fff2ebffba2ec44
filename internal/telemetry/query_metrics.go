// Package telemetry records how analyses behave: outcome and degradation
// counts, latency, recurring error terms and queries that found nothing.
// Aggregates are kept in memory, flushed to the local history database and
// exported to Prometheus. Nothing leaves the machine.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is the terminal state of one analysis.
type Outcome string

const (
	OutcomeReturned Outcome = "returned"   // answered and recorded
	OutcomeUnsaved  Outcome = "unrecorded" // answered, history write failed
	OutcomeFailed   Outcome = "failed"     // no answer produced
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a coarse histogram bucket for end-to-end analysis time.
// Analyses include an LLM call, so buckets are in seconds rather than ms.
type LatencyBucket string

const (
	BucketS1   LatencyBucket = "s1"   // <1s
	BucketS5   LatencyBucket = "s5"   // 1-5s
	BucketS15  LatencyBucket = "s15"  // 5-15s
	BucketS60  LatencyBucket = "s60"  // 15-60s
	BucketSlow LatencyBucket = "slow" // >=60s
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < time.Second:
		return BucketS1
	case d < 5*time.Second:
		return BucketS5
	case d < 15*time.Second:
		return BucketS15
	case d < time.Minute:
		return BucketS60
	default:
		return BucketSlow
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent is one finished analysis.
type QueryEvent struct {
	Query       string
	Outcome     Outcome
	ResultCount int // context chunks handed to the generator
	Degraded    []string
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether retrieval found nothing for the query.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer; capacity <= 0 means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first. Never nil.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, 0, b.size)
	start := (b.head - b.size + b.capacity) % b.capacity
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%b.capacity])
	}
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Terms
// =============================================================================

// ExtractTerms lowercases query and keeps whitespace-separated words of
// at least three characters, trimmed of surrounding punctuation.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:()[]{}\"'`")
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it appeared in queries.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// QueryMetricsSnapshot is an immutable copy of the collected metrics.
type QueryMetricsSnapshot struct {
	OutcomeCounts       map[Outcome]int64       `json:"outcome_counts"`
	DegradedCounts      map[string]int64        `json:"degraded_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	RepeatCount         int64                   `json:"repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of analyses with no context, in percent.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// =============================================================================
// Store
// =============================================================================

// QueryMetricsStore persists flushed aggregates.
type QueryMetricsStore interface {
	SaveOutcomeCounts(date string, counts map[Outcome]int64) error
	SaveDegradedCounts(date string, counts map[string]int64) error
	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)
	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
}

// =============================================================================
// Query Metrics
// =============================================================================

// QueryMetricsConfig configures the collector.
type QueryMetricsConfig struct {
	TopTermsCapacity      int           // default: 100
	ZeroResultsCapacity   int           // default: 100
	RecentQueriesCapacity int           // default: 500
	FlushInterval         time.Duration // default: 60s, 0 disables auto-flush
}

// DefaultQueryMetricsConfig returns the defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// QueryMetrics collects analysis telemetry. Safe for concurrent use.
//
// Counters accumulate between flushes; Flush adds the pending deltas to the
// store and resets them, so a crash loses at most one interval.
type QueryMetrics struct {
	mu sync.Mutex

	outcomes        map[Outcome]int64
	degraded        map[string]int64
	latencies       map[LatencyBucket]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	recentQueries   *lru.Cache[string, struct{}]
	totalQueries    int64
	zeroResultCount int64
	repeatCount     int64
	startTime       time.Time

	// deltas not yet flushed
	pendingOutcomes  map[Outcome]int64
	pendingDegraded  map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingTerms     map[string]int64
	pendingZero      []QueryEvent

	prom   *Metrics
	store  QueryMetricsStore
	config QueryMetricsConfig
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewQueryMetrics creates a collector with default configuration.
// store and prom may both be nil.
func NewQueryMetrics(store QueryMetricsStore, prom *Metrics) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, prom, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with custom configuration.
func NewQueryMetricsWithConfig(store QueryMetricsStore, prom *Metrics, cfg QueryMetricsConfig) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		outcomes:         make(map[Outcome]int64),
		degraded:         make(map[string]int64),
		latencies:        make(map[LatencyBucket]int64),
		topTerms:         topTerms,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries:    recent,
		startTime:        time.Now(),
		pendingOutcomes:  make(map[Outcome]int64),
		pendingDegraded:  make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		pendingTerms:     make(map[string]int64),
		prom:             prom,
		store:            store,
		config:           cfg,
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.wg.Add(1)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one finished analysis.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.totalQueries++
	m.outcomes[event.Outcome]++
	m.pendingOutcomes[event.Outcome]++

	for _, d := range event.Degraded {
		m.degraded[d]++
		m.pendingDegraded[d]++
	}

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pendingTerms[term]++
	}

	if event.IsZeroResult() && event.Outcome != OutcomeFailed {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		m.pendingZero = append(m.pendingZero, event)
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++

	key := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.repeatCount++
	}
	m.recentQueries.Add(key, struct{}{})

	m.prom.ObserveAnalysis(event.Outcome, event.Latency)
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns a copy of the in-memory aggregates.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &QueryMetricsSnapshot{
		OutcomeCounts:       copyMap(m.outcomes),
		DegradedCounts:      copyMap(m.degraded),
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: copyMap(m.latencies),
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		RepeatCount:         m.repeatCount,
		Since:               m.startTime,
	}
}

func copyMap[K comparable](in map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Flush writes pending deltas to the store. A failed flush keeps the
// deltas for the next attempt.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	outcomes, degraded, latencies, terms, zero := m.pendingOutcomes, m.pendingDegraded, m.pendingLatencies, m.pendingTerms, m.pendingZero
	m.pendingOutcomes = make(map[Outcome]int64)
	m.pendingDegraded = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingZero = nil
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	err := m.flushPending(today, outcomes, degraded, latencies, terms, zero)
	if err != nil {
		m.mu.Lock()
		mergeInto(m.pendingOutcomes, outcomes)
		mergeInto(m.pendingDegraded, degraded)
		mergeInto(m.pendingLatencies, latencies)
		mergeInto(m.pendingTerms, terms)
		m.pendingZero = append(zero, m.pendingZero...)
		m.mu.Unlock()
	}
	return err
}

func (m *QueryMetrics) flushPending(date string, outcomes map[Outcome]int64, degraded map[string]int64,
	latencies map[LatencyBucket]int64, terms map[string]int64, zero []QueryEvent) error {
	if err := m.store.SaveOutcomeCounts(date, outcomes); err != nil {
		return err
	}
	if err := m.store.SaveDegradedCounts(date, degraded); err != nil {
		return err
	}
	if err := m.store.UpsertTermCounts(terms); err != nil {
		return err
	}
	if err := m.store.SaveLatencyCounts(date, latencies); err != nil {
		return err
	}
	for _, ev := range zero {
		if err := m.store.AddZeroResultQuery(ev.Query, ev.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

func mergeInto[K comparable](dst, src map[K]int64) {
	for k, v := range src {
		dst[k] += v
	}
}

// Close stops auto-flush and flushes once more.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	return m.Flush()
}
