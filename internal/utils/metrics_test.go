package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCollectorConcurrentCounters(t *testing.T) {
	m := NewMetricsCollector()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.IncGauge("open")
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(20), m.GetCounterValue("hits"))
	assert.Equal(t, int64(20), m.GetGauge("open"))
	assert.Equal(t, int64(0), m.GetCounterValue("missing"))
}

func TestHistogramTracksBounds(t *testing.T) {
	m := NewMetricsCollector()
	for _, v := range []int64{5, 1, 9} {
		m.RecordHistogram("latency", v)
	}
	h := m.GetMetrics()["histograms"].(map[string]map[string]int64)["latency"]
	assert.Equal(t, map[string]int64{"count": 3, "sum": 15, "min": 1, "max": 9}, h)
}

func TestAPIMetricsRecorders(t *testing.T) {
	am := NewAPIMetricsWith(NewMetricsCollector())
	am.RecordAPIRequest("/api/sessions/:id", "GET", 404, time.Millisecond)
	am.RecordGeneration("scene_detail", false, time.Millisecond)
	am.RecordInvalidation("background", 3, true)

	c := am.Collector()
	assert.Equal(t, int64(1), c.GetCounterValue("api_responses_4xx"))
	assert.Equal(t, int64(1), c.GetCounterValue("generation_failures_scene_detail"))
	assert.Equal(t, int64(3), c.GetCounterValue("invalidated_scenes_total"))
	assert.Equal(t, int64(1), c.GetCounterValue("invalidated_chains_total"))
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("WARN")
	assert.NoError(t, err)
	assert.Equal(t, WARNING, level)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}
