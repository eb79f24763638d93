package metrics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ai-report-go/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEventSource 返回固定事件集的内存实现
type fakeEventSource struct {
	events []models.MetricEvent
	calls  int
}

func (f *fakeEventSource) GetMetricEventsSince(ctx context.Context, since time.Time) ([]models.MetricEvent, error) {
	f.calls++
	return f.events, nil
}

// fakeSnapshotCache 单槽位快照缓存
type fakeSnapshotCache struct {
	stored map[int]string
}

func (f *fakeSnapshotCache) CacheMetricsSnapshot(ctx context.Context, windowMinutes int, snapshotJSON string) error {
	if f.stored == nil {
		f.stored = make(map[int]string)
	}
	f.stored[windowMinutes] = snapshotJSON
	return nil
}

func (f *fakeSnapshotCache) GetCachedMetricsSnapshot(ctx context.Context, windowMinutes int) (string, error) {
	return f.stored[windowMinutes], nil
}

func ev(component, metricType string, value float64) models.MetricEvent {
	return models.MetricEvent{Component: component, MetricType: metricType, Value: value, CreatedAt: time.Now()}
}

func TestAggregateStats(t *testing.T) {
	events := []models.MetricEvent{
		ev("quality", "composite_score", 0.9),
		ev("quality", "composite_score", 0.7),
		ev("quality", "composite_score", 0.5),
		ev("quality", "composite_score", 0.8),
		ev("retriever", "retrieval_latency", 0.10),
		ev("retriever", "retrieval_latency", 0.30),
	}

	snap := Aggregate(events, 60)
	require.NotNil(t, snap)
	assert.Equal(t, 60, snap.WindowMinutes)
	assert.Equal(t, 6, snap.EventCount)
	require.Len(t, snap.Components, 2)

	q := snap.Stats("quality", "composite_score")
	assert.Equal(t, int64(4), q.Count)
	assert.InDelta(t, 0.725, q.Avg, 1e-9)
	assert.InDelta(t, 0.5, q.Min, 1e-9)
	assert.InDelta(t, 0.9, q.Max, 1e-9)
	assert.InDelta(t, 0.9, q.P95, 1e-9, "4个样本的P95取最大观测值")

	r := snap.Stats("retriever", "retrieval_latency")
	assert.Equal(t, int64(2), r.Count)
	assert.InDelta(t, 0.4, r.Sum, 1e-9)

	// 缺失组合返回零值而不是panic
	missing := snap.Stats("retriever", "no_such_metric")
	assert.Equal(t, int64(0), missing.Count)
	missing = snap.Stats("no_such_component", "x")
	assert.Equal(t, int64(0), missing.Count)
}

func TestAggregateP95LargeSample(t *testing.T) {
	var events []models.MetricEvent
	for i := 1; i <= 100; i++ {
		events = append(events, ev("generation", "latency", float64(i)))
	}
	snap := Aggregate(events, 15)
	stats := snap.Stats("generation", "latency")
	assert.Equal(t, int64(100), stats.Count)
	assert.InDelta(t, 95.0, stats.P95, 1e-9)
	assert.InDelta(t, 1.0, stats.Min, 1e-9)
	assert.InDelta(t, 100.0, stats.Max, 1e-9)
}

func TestSnapshotterBuild(t *testing.T) {
	source := &fakeEventSource{events: []models.MetricEvent{
		ev("ingest", "document_ingested", 1.5),
		ev("ingest", "document_ingested", 2.5),
	}}
	s := NewSnapshotter(source, nil, 60, nil)

	snap, err := s.Build(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 60, snap.WindowMinutes, "窗口参数非法时退回配置默认值")
	assert.InDelta(t, 2.0, snap.Stats("ingest", "document_ingested").Avg, 1e-9)
}

func TestSnapshotterCacheAside(t *testing.T) {
	source := &fakeEventSource{events: []models.MetricEvent{ev("quality", "composite_score", 0.8)}}
	cache := &fakeSnapshotCache{}
	s := NewSnapshotter(source, cache, 60, nil)

	ctx := context.Background()

	// 第一次未命中缓存，走聚合并回填
	snap1, err := s.Snapshot(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
	require.Contains(t, cache.stored, 30, "快照应回填到缓存")

	var cached Snapshot
	require.NoError(t, json.Unmarshal([]byte(cache.stored[30]), &cached))
	assert.Equal(t, snap1.EventCount, cached.EventCount)

	// 第二次同窗口直接命中缓存，不再聚合
	snap2, err := s.Snapshot(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls, "缓存命中时不应再查事件表")
	assert.Equal(t, snap1.EventCount, snap2.EventCount)

	// 不同窗口各自独立缓存
	_, err = s.Snapshot(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestComponentSnapshotMissingComponent(t *testing.T) {
	source := &fakeEventSource{}
	s := NewSnapshotter(source, nil, 60, nil)

	comp, err := s.ComponentSnapshot(context.Background(), "classifier", 60)
	require.NoError(t, err)
	assert.Equal(t, "classifier", comp.Component)
	assert.Empty(t, comp.Metrics, "无事件的组件返回空统计而不是错误")
}
