package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEventStore 捕获落库批次的内存实现
type fakeEventStore struct {
	mu     sync.Mutex
	events []models.MetricEvent
	fail   bool
}

func (f *fakeEventStore) BatchInsertMetricEvents(ctx context.Context, events []models.MetricEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeEventStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeEventStore) all() []models.MetricEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.MetricEvent, len(f.events))
	copy(out, f.events)
	return out
}

func TestCollectorFlushOnStop(t *testing.T) {
	store := &fakeEventStore{}
	c := NewCollector(store, config.MetricsConfig{BufferSize: 64, FlushIntervalSeconds: 3600}, nil)
	c.Start()

	c.Record("generation", "section_completed", 1.2, map[string]string{"section_id": "conclusion"})
	c.Record("quality", "composite_score", 0.82, nil)
	c.Record("retriever", "retrieval_latency", 0.05, nil)

	// 间隔设得很长，落库只能发生在Stop的收尾flush里
	c.Stop()

	events := store.all()
	require.Len(t, events, 3, "Stop后缓冲事件应全部落库")
	assert.Equal(t, "generation", events[0].Component)
	assert.Equal(t, "section_completed", events[0].MetricType)
	assert.InDelta(t, 1.2, events[0].Value, 1e-9)
	assert.NotEmpty(t, events[0].MetadataJSON, "带metadata的事件应序列化JSON")
	assert.False(t, events[0].CreatedAt.IsZero(), "事件时间戳应在Record时写定")
	assert.Empty(t, events[1].MetadataJSON, "无metadata的事件不应有JSON")
}

func TestCollectorPeriodicFlush(t *testing.T) {
	store := &fakeEventStore{}
	c := NewCollector(store, config.MetricsConfig{BufferSize: 64, FlushIntervalSeconds: 1}, nil)
	c.Start()
	defer c.Stop()

	c.Record("ingest", "document_ingested", 2.5, nil)

	// 等一个flush周期多一点
	deadline := time.Now().Add(3 * time.Second)
	for store.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, 1, store.count(), "周期flush应把事件落库")
}

func TestCollectorDropsWhenBufferFull(t *testing.T) {
	store := &fakeEventStore{}
	// 故意不Start：没有消费者，缓冲只有2个位置
	c := NewCollector(store, config.MetricsConfig{BufferSize: 2, FlushIntervalSeconds: 3600}, nil)

	for i := 0; i < 10; i++ {
		c.Record("generation", "section_completed", float64(i), nil)
	}

	assert.Equal(t, int64(8), c.Dropped(), "缓冲满后多余事件应被丢弃")

	// Record永不阻塞、永不panic，Stop后亦然
	c.Start()
	c.Stop()
	c.Record("generation", "section_completed", 99, nil)
	assert.Equal(t, 2, store.count(), "Stop收尾应落库缓冲里的2条")
}

func TestCollectorStoreFailureDoesNotPanic(t *testing.T) {
	store := &fakeEventStore{fail: true}
	c := NewCollector(store, config.MetricsConfig{BufferSize: 8, FlushIntervalSeconds: 3600}, nil)
	c.Start()
	c.Record("quality", "composite_score", 0.5, nil)
	// 落库失败只告警不崩溃
	assert.NotPanics(t, func() { c.Stop() })
	assert.Equal(t, 0, store.count())
}
