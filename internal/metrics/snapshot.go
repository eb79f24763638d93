package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("metrics")

// EventSource 快照聚合的事件来源，由MySQL适配器实现
type EventSource interface {
	GetMetricEventsSince(ctx context.Context, since time.Time) ([]models.MetricEvent, error)
}

// SnapshotCache 快照结果缓存，由Redis适配器实现，可为nil
type SnapshotCache interface {
	CacheMetricsSnapshot(ctx context.Context, windowMinutes int, snapshotJSON string) error
	GetCachedMetricsSnapshot(ctx context.Context, windowMinutes int) (string, error)
}

// MetricStats 单个指标在窗口内的聚合统计
type MetricStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P95   float64 `json:"p95"`
}

// ComponentStats 单个组件的全部指标统计，按metric_type分组
type ComponentStats struct {
	Component string                 `json:"component"`
	Metrics   map[string]MetricStats `json:"metrics"`
}

// Snapshot 一个滚动窗口的指标快照
type Snapshot struct {
	WindowMinutes int                        `json:"window_minutes"`
	GeneratedAt   time.Time                  `json:"generated_at"`
	EventCount    int                        `json:"event_count"`
	Components    map[string]*ComponentStats `json:"components"`
}

// Stats 取某组件某指标的统计，缺失时返回零值
func (s *Snapshot) Stats(component, metricType string) MetricStats {
	if s == nil {
		return MetricStats{}
	}
	comp, ok := s.Components[component]
	if !ok {
		return MetricStats{}
	}
	return comp.Metrics[metricType]
}

// Snapshotter 指标快照构建器。
// 聚合在内存中完成：窗口受TTL与写入速率约束，事件量有限，
// 一次范围查询换一次全量聚合比在MySQL里拼百分位划算。
type Snapshotter struct {
	source        EventSource
	cache         SnapshotCache
	windowMinutes int
	logger        *zerolog.Logger
}

// NewSnapshotter 构建快照器，cache为nil时每次都直接聚合
func NewSnapshotter(source EventSource, cache SnapshotCache, windowMinutes int, zlog *zerolog.Logger) *Snapshotter {
	if zlog == nil {
		nop := zerolog.Nop()
		zlog = &nop
	}
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	return &Snapshotter{
		source:        source,
		cache:         cache,
		windowMinutes: windowMinutes,
		logger:        zlog,
	}
}

// DefaultWindowMinutes 返回配置的默认窗口长度
func (s *Snapshotter) DefaultWindowMinutes() int {
	return s.windowMinutes
}

// Snapshot 返回窗口快照，优先命中Redis缓存。
// windowMinutes<=0 时使用配置的默认窗口。
func (s *Snapshotter) Snapshot(ctx context.Context, windowMinutes int) (*Snapshot, error) {
	if windowMinutes <= 0 {
		windowMinutes = s.windowMinutes
	}

	if s.cache != nil {
		if cached, err := s.cache.GetCachedMetricsSnapshot(ctx, windowMinutes); err == nil && cached != "" {
			var snap Snapshot
			if err := json.Unmarshal([]byte(cached), &snap); err == nil {
				return &snap, nil
			}
			s.logger.Warn().Msg("缓存的指标快照解析失败，回退到重新聚合")
		}
	}

	snap, err := s.Build(ctx, windowMinutes)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if snapJSON, err := json.Marshal(snap); err == nil {
			if err := s.cache.CacheMetricsSnapshot(ctx, windowMinutes, string(snapJSON)); err != nil {
				s.logger.Warn().Err(err).Msg("写入指标快照缓存失败")
			}
		}
	}
	return snap, nil
}

// Build 绕过缓存直接聚合一个窗口快照
func (s *Snapshotter) Build(ctx context.Context, windowMinutes int) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "BuildMetricsSnapshot")
	defer span.End()
	span.SetAttributes(attribute.Int("window_minutes", windowMinutes))

	if s.source == nil {
		return nil, fmt.Errorf("指标事件来源未初始化")
	}
	if windowMinutes <= 0 {
		windowMinutes = s.windowMinutes
	}

	since := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	events, err := s.source.GetMetricEventsSince(ctx, since)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("读取窗口指标事件失败: %w", err)
	}

	snap := Aggregate(events, windowMinutes)
	span.SetAttributes(attribute.Int("event_count", snap.EventCount))
	return snap, nil
}

// ComponentSnapshot 返回单个组件的窗口统计，组件无事件时返回空Metrics
func (s *Snapshotter) ComponentSnapshot(ctx context.Context, component string, windowMinutes int) (*ComponentStats, error) {
	snap, err := s.Snapshot(ctx, windowMinutes)
	if err != nil {
		return nil, err
	}
	if comp, ok := snap.Components[component]; ok {
		return comp, nil
	}
	return &ComponentStats{Component: component, Metrics: map[string]MetricStats{}}, nil
}

// Aggregate 把一批指标事件聚合成快照，纯函数
func Aggregate(events []models.MetricEvent, windowMinutes int) *Snapshot {
	snap := &Snapshot{
		WindowMinutes: windowMinutes,
		GeneratedAt:   time.Now(),
		EventCount:    len(events),
		Components:    make(map[string]*ComponentStats),
	}

	// (component, metric_type) -> 全部取值
	values := make(map[string]map[string][]float64)
	for _, ev := range events {
		byType, ok := values[ev.Component]
		if !ok {
			byType = make(map[string][]float64)
			values[ev.Component] = byType
		}
		byType[ev.MetricType] = append(byType[ev.MetricType], ev.Value)
	}

	for component, byType := range values {
		comp := &ComponentStats{
			Component: component,
			Metrics:   make(map[string]MetricStats, len(byType)),
		}
		for metricType, vals := range byType {
			comp.Metrics[metricType] = computeStats(vals)
		}
		snap.Components[component] = comp
	}
	return snap
}

func computeStats(vals []float64) MetricStats {
	if len(vals) == 0 {
		return MetricStats{}
	}

	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	// 最近秩法取P95：ceil(0.95*n)的那个观测值
	p95Index := (len(sorted)*95 + 99) / 100
	if p95Index > len(sorted) {
		p95Index = len(sorted)
	}
	if p95Index < 1 {
		p95Index = 1
	}

	return MetricStats{
		Count: int64(len(sorted)),
		Sum:   sum,
		Avg:   sum / float64(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P95:   sorted[p95Index-1],
	}
}
