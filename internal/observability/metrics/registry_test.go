package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCacheOutcome(t *testing.T) {
	for _, outcome := range []string{"hit", "miss", "stale"} {
		t.Run(outcome, func(t *testing.T) {
			before := testutil.ToFloat64(CacheOutcomesTotal.WithLabelValues(outcome))
			RecordCacheOutcome(outcome)
			after := testutil.ToFloat64(CacheOutcomesTotal.WithLabelValues(outcome))
			assert.Equal(t, before+1, after)
		})
	}
}

func TestRecordFetch(t *testing.T) {
	before := testutil.ToFloat64(FetchesTotal.WithLabelValues("example.com", "success"))
	RecordFetch("example.com", "success")
	after := testutil.ToFloat64(FetchesTotal.WithLabelValues("example.com", "success"))
	assert.Equal(t, before+1, after)
}

func TestRecordFetchDuration(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordFetchDuration("example.com", 250*time.Millisecond)
	})
}

func TestRecordTaskSubmittedAndCompleted(t *testing.T) {
	before := testutil.ToFloat64(TasksSubmittedTotal.WithLabelValues("feed"))
	RecordTaskSubmitted("feed")
	after := testutil.ToFloat64(TasksSubmittedTotal.WithLabelValues("feed"))
	assert.Equal(t, before+1, after)

	beforeDone := testutil.ToFloat64(TasksCompletedTotal.WithLabelValues("feed", "done"))
	RecordTaskCompleted("feed", "done")
	afterDone := testutil.ToFloat64(TasksCompletedTotal.WithLabelValues("feed", "done"))
	assert.Equal(t, beforeDone+1, afterDone)
}

func TestSetTasksRunning(t *testing.T) {
	SetTasksRunning(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(TasksRunning))
	SetTasksRunning(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(TasksRunning))
}

func TestRecordPing(t *testing.T) {
	tests := []struct {
		kind    string
		outcome string
	}{
		{"websub", "sent"},
		{"webmention", "no_endpoint"},
		{"wayback", "error"},
	}
	for _, tt := range tests {
		before := testutil.ToFloat64(PingsTotal.WithLabelValues(tt.kind, tt.outcome))
		RecordPing(tt.kind, tt.outcome)
		after := testutil.ToFloat64(PingsTotal.WithLabelValues(tt.kind, tt.outcome))
		assert.Equal(t, before+1, after)
	}
}
