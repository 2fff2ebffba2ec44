package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[string](3)
	for _, q := range []string{"q1", "q2", "q3", "q4", "q5"} {
		buf.Add(q)
	}

	assert.Equal(t, []string{"q3", "q4", "q5"}, buf.Items())
	assert.Equal(t, 3, buf.Size())
}

func TestCircularBuffer_EmptyItemsNotNil(t *testing.T) {
	items := NewCircularBuffer[int](4).Items()
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{200 * time.Millisecond, BucketS1},
		{2 * time.Second, BucketS5},
		{10 * time.Second, BucketS15},
		{30 * time.Second, BucketS60},
		{2 * time.Minute, BucketSlow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"nullpointerexception", "authservice", "line"},
		ExtractTerms("NullPointerException in AuthService, line 42"))
	assert.Nil(t, ExtractTerms("   "))
}

func TestQueryMetrics_RecordAndSnapshot(t *testing.T) {
	// Given: a collector without persistence
	m := NewQueryMetricsWithConfig(nil, nil, QueryMetricsConfig{FlushInterval: 0})
	defer m.Close()

	// When: recording three analyses, one repeated and one with no context
	m.Record(QueryEvent{Query: "timeout database", Outcome: OutcomeReturned, ResultCount: 3, Latency: 2 * time.Second})
	m.Record(QueryEvent{Query: "Timeout Database ", Outcome: OutcomeReturned, ResultCount: 0, Latency: 300 * time.Millisecond,
		Degraded: []string{"retrieval"}})
	m.Record(QueryEvent{Query: "disk full", Outcome: OutcomeFailed, Latency: time.Second})

	// Then: aggregates reflect every event
	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(2), snap.OutcomeCounts[OutcomeReturned])
	assert.Equal(t, int64(1), snap.OutcomeCounts[OutcomeFailed])
	assert.Equal(t, int64(1), snap.DegradedCounts["retrieval"])
	assert.Equal(t, int64(1), snap.RepeatCount)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"Timeout Database "}, snap.ZeroResultQueries)
	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, TermCount{Term: "database", Count: 2}, snap.TopTerms[0])
	assert.InDelta(t, 33.3, snap.ZeroResultPercentage(), 0.1)
}

type failingStore struct {
	QueryMetricsStore
	fail  bool
	saved map[Outcome]int64
}

func (s *failingStore) SaveOutcomeCounts(_ string, c map[Outcome]int64) error {
	if s.fail {
		return errors.New("disk I/O error")
	}
	for k, v := range c {
		s.saved[k] += v
	}
	return nil
}
func (s *failingStore) SaveDegradedCounts(string, map[string]int64) error       { return nil }
func (s *failingStore) UpsertTermCounts(map[string]int64) error                 { return nil }
func (s *failingStore) SaveLatencyCounts(string, map[LatencyBucket]int64) error { return nil }
func (s *failingStore) AddZeroResultQuery(string, time.Time) error              { return nil }

func TestQueryMetrics_FailedFlushKeepsDeltas(t *testing.T) {
	// Given: a store that fails on the first flush
	st := &failingStore{fail: true, saved: map[Outcome]int64{}}
	m := NewQueryMetricsWithConfig(st, nil, QueryMetricsConfig{FlushInterval: 0})
	m.Record(QueryEvent{Query: "q", Outcome: OutcomeReturned, ResultCount: 1})

	// When: flushing fails, then succeeds
	require.Error(t, m.Flush())
	st.fail = false
	require.NoError(t, m.Flush())

	// Then: the event is persisted exactly once
	assert.Equal(t, int64(1), st.saved[OutcomeReturned])
	require.NoError(t, m.Flush())
	assert.Equal(t, int64(1), st.saved[OutcomeReturned])
}

func TestQueryMetrics_RecordAfterCloseIsIgnored(t *testing.T) {
	m := NewQueryMetrics(nil, nil)
	require.NoError(t, m.Close())

	m.Record(QueryEvent{Query: "late", Outcome: OutcomeReturned})

	assert.Equal(t, int64(0), m.Snapshot().TotalQueries)
	assert.NoError(t, m.Close())
}
