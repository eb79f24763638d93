package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"ai-report-go/internal/api/handler"
	"ai-report-go/internal/config"
	"ai-report-go/internal/metrics"
	"ai-report-go/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeEventSource 返回固定的指标事件集合
type fakeEventSource struct {
	events []models.MetricEvent
	err    error
}

func (f *fakeEventSource) GetMetricEventsSince(ctx context.Context, since time.Time) ([]models.MetricEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

// fakeAlertStore 内存告警存储，状态迁移语义与MySQL实现一致：
// 未命中行（不存在或状态不符）返回 (false, nil)
type fakeAlertStore struct {
	alerts map[uint64]*models.AlertRecord
	nextID uint64
}

func newFakeAlertStore(seed ...models.AlertRecord) *fakeAlertStore {
	s := &fakeAlertStore{alerts: make(map[uint64]*models.AlertRecord), nextID: 1}
	for i := range seed {
		rec := seed[i]
		if rec.AlertID == 0 {
			rec.AlertID = s.nextID
		}
		s.alerts[rec.AlertID] = &rec
		if rec.AlertID >= s.nextID {
			s.nextID = rec.AlertID + 1
		}
	}
	return s
}

func (s *fakeAlertStore) CreateAlert(ctx context.Context, alert *models.AlertRecord) error {
	alert.AlertID = s.nextID
	s.nextID++
	s.alerts[alert.AlertID] = alert
	return nil
}

func (s *fakeAlertStore) FindOpenAlert(ctx context.Context, ruleName, component string) (*models.AlertRecord, error) {
	for _, rec := range s.alerts {
		if rec.RuleName == ruleName && rec.Component == component &&
			(rec.Status == metrics.AlertStatusRaised || rec.Status == metrics.AlertStatusAcknowledged) {
			return rec, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeAlertStore) GetAlertByID(ctx context.Context, alertID uint64) (*models.AlertRecord, error) {
	rec, ok := s.alerts[alertID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return rec, nil
}

func (s *fakeAlertStore) ListAlerts(ctx context.Context, status string, limit int) ([]models.AlertRecord, error) {
	var out []models.AlertRecord
	for _, rec := range s.alerts {
		if status == "" || rec.Status == status {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AlertID < out[j].AlertID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeAlertStore) TransitionAlertStatus(ctx context.Context, alertID uint64, fromStatuses []string, to string, now time.Time) (bool, error) {
	rec, ok := s.alerts[alertID]
	if !ok {
		return false, nil
	}
	eligible := false
	for _, from := range fromStatuses {
		if rec.Status == from {
			eligible = true
			break
		}
	}
	if !eligible {
		return false, nil
	}
	rec.Status = to
	switch to {
	case metrics.AlertStatusAcknowledged:
		rec.AcknowledgedAt = &now
	case metrics.AlertStatusResolved:
		rec.ResolvedAt = &now
	}
	return true, nil
}

// newMetricsHandler 用内存fake搭一套完整的快照+告警链路
func newMetricsHandler(source *fakeEventSource, store *fakeAlertStore) *handler.MetricsHandler {
	snapshotter := metrics.NewSnapshotter(source, nil, 30, nil)
	engine := metrics.NewAlertEngine(snapshotter, store, config.MetricsConfig{}, nil)
	return handler.NewMetricsHandler(snapshotter, engine)
}

func metricEvent(component, metricType string, value float64) models.MetricEvent {
	return models.MetricEvent{
		Component:  component,
		MetricType: metricType,
		Value:      value,
		CreatedAt:  time.Now(),
	}
}

// TestMetricsSnapshotAggregatesWindow 快照按组件和指标类型聚合窗口内事件
func TestMetricsSnapshotAggregatesWindow(t *testing.T) {
	source := &fakeEventSource{events: []models.MetricEvent{
		metricEvent("quality", "composite_score", 0.8),
		metricEvent("quality", "composite_score", 0.6),
		metricEvent("generation", "fallback_used", 2),
	}}
	h := newMetricsHandler(source, newFakeAlertStore())

	c := app.NewContext(16)
	h.HandleSnapshot(context.Background(), c)

	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(c.Response.Body(), &snap))
	assert.Equal(t, 30, snap.WindowMinutes)
	assert.Equal(t, 3, snap.EventCount)

	quality := snap.Stats("quality", "composite_score")
	assert.Equal(t, int64(2), quality.Count)
	assert.InDelta(t, 0.7, quality.Avg, 1e-9)
	assert.InDelta(t, 0.6, quality.Min, 1e-9)
	assert.InDelta(t, 0.8, quality.Max, 1e-9)

	assert.Equal(t, int64(1), snap.Stats("generation", "fallback_used").Count)
}

// TestMetricsSnapshotWindowQueryParam window参数覆盖默认窗口
func TestMetricsSnapshotWindowQueryParam(t *testing.T) {
	h := newMetricsHandler(&fakeEventSource{}, newFakeAlertStore())

	c := app.NewContext(16)
	c.QueryArgs().Add("window", "15")
	h.HandleSnapshot(context.Background(), c)

	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(c.Response.Body(), &snap))
	assert.Equal(t, 15, snap.WindowMinutes)
}

// TestMetricsSnapshotSourceError 事件来源不可用时返回500
func TestMetricsSnapshotSourceError(t *testing.T) {
	source := &fakeEventSource{err: errors.New("connection refused")}
	h := newMetricsHandler(source, newFakeAlertStore())

	c := app.NewContext(16)
	h.HandleSnapshot(context.Background(), c)

	assert.Equal(t, consts.StatusInternalServerError, c.Response.StatusCode())
	assert.NotContains(t, string(c.Response.Body()), "connection refused")
}

// TestComponentStatsReturnsSingleComponent 组件视图只返回该组件的指标
func TestComponentStatsReturnsSingleComponent(t *testing.T) {
	source := &fakeEventSource{events: []models.MetricEvent{
		metricEvent("retriever", "retrieval_latency", 120),
		metricEvent("retriever", "retrieval_latency", 80),
		metricEvent("strategy", "strategy_selected", 1),
	}}
	h := newMetricsHandler(source, newFakeAlertStore())

	c := app.NewContext(16)
	c.Params = append(c.Params, param.Param{Key: "component", Value: "retriever"})
	h.HandleComponentStats(context.Background(), c)

	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var stats metrics.ComponentStats
	require.NoError(t, json.Unmarshal(c.Response.Body(), &stats))
	assert.Equal(t, "retriever", stats.Component)
	assert.Equal(t, int64(2), stats.Metrics["retrieval_latency"].Count)
	assert.NotContains(t, stats.Metrics, "strategy_selected")
}

// TestComponentStatsUnknownComponent 无事件的组件返回空指标而不是404
func TestComponentStatsUnknownComponent(t *testing.T) {
	h := newMetricsHandler(&fakeEventSource{}, newFakeAlertStore())

	c := app.NewContext(16)
	c.Params = append(c.Params, param.Param{Key: "component", Value: "nonexistent"})
	h.HandleComponentStats(context.Background(), c)

	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var stats metrics.ComponentStats
	require.NoError(t, json.Unmarshal(c.Response.Body(), &stats))
	assert.Equal(t, "nonexistent", stats.Component)
	assert.Empty(t, stats.Metrics)
}

// TestListAlertsFiltersByStatus status参数过滤，缺省返回全部
func TestListAlertsFiltersByStatus(t *testing.T) {
	store := newFakeAlertStore(
		models.AlertRecord{RuleName: "quality_floor", Component: "quality", Status: metrics.AlertStatusRaised},
		models.AlertRecord{RuleName: "error_rate", Component: "generation", Status: metrics.AlertStatusRaised},
		models.AlertRecord{RuleName: "fallback_rate", Component: "generation", Status: metrics.AlertStatusResolved},
	)
	h := newMetricsHandler(&fakeEventSource{}, store)

	c := app.NewContext(16)
	c.QueryArgs().Add("status", metrics.AlertStatusRaised)
	h.HandleListAlerts(context.Background(), c)

	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var resp struct {
		Alerts []models.AlertRecord `json:"alerts"`
		Count  int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &resp))
	assert.Equal(t, 2, resp.Count)
	for _, a := range resp.Alerts {
		assert.Equal(t, metrics.AlertStatusRaised, a.Status)
	}

	// 不带status返回全部
	c2 := app.NewContext(16)
	h.HandleListAlerts(context.Background(), c2)
	require.NoError(t, json.Unmarshal(c2.Response.Body(), &resp))
	assert.Equal(t, 3, resp.Count)
}

// TestAlertLifecycleTransitions raised→acknowledged→resolved的完整流转，
// 重复确认返回409，未知ID返回404
func TestAlertLifecycleTransitions(t *testing.T) {
	store := newFakeAlertStore(
		models.AlertRecord{AlertID: 1, RuleName: "quality_floor", Component: "quality", Status: metrics.AlertStatusRaised},
	)
	h := newMetricsHandler(&fakeEventSource{}, store)

	ackCtx := func(id string) *app.RequestContext {
		c := app.NewContext(16)
		c.Params = append(c.Params, param.Param{Key: "id", Value: id})
		return c
	}

	// raised → acknowledged
	c := ackCtx("1")
	h.HandleAcknowledgeAlert(context.Background(), c)
	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var rec models.AlertRecord
	require.NoError(t, json.Unmarshal(c.Response.Body(), &rec))
	assert.Equal(t, metrics.AlertStatusAcknowledged, rec.Status)
	assert.NotNil(t, rec.AcknowledgedAt)

	// 已确认的告警再次确认 → 409
	c = ackCtx("1")
	h.HandleAcknowledgeAlert(context.Background(), c)
	assert.Equal(t, consts.StatusConflict, c.Response.StatusCode())

	// acknowledged → resolved
	c = ackCtx("1")
	h.HandleResolveAlert(context.Background(), c)
	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())
	require.NoError(t, json.Unmarshal(c.Response.Body(), &rec))
	assert.Equal(t, metrics.AlertStatusResolved, rec.Status)
	assert.NotNil(t, rec.ResolvedAt)

	// 不存在的告警 → 404
	c = ackCtx("99")
	h.HandleAcknowledgeAlert(context.Background(), c)
	assert.Equal(t, consts.StatusNotFound, c.Response.StatusCode())

	// 非数字ID → 400
	c = ackCtx("abc")
	h.HandleAcknowledgeAlert(context.Background(), c)
	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
}

// TestAlertEngineRaisesThroughHandler 引擎评估产生的告警能通过接口查到
func TestAlertEngineRaisesThroughHandler(t *testing.T) {
	// 质量得分均值低于下限且样本数达标，应触发quality_below_floor规则
	source := &fakeEventSource{events: []models.MetricEvent{
		metricEvent("quality", "composite_score", 0.2),
		metricEvent("quality", "composite_score", 0.3),
		metricEvent("quality", "composite_score", 0.25),
		metricEvent("quality", "composite_score", 0.4),
		metricEvent("quality", "composite_score", 0.35),
		metricEvent("quality", "composite_score", 0.3),
	}}
	store := newFakeAlertStore()

	snapshotter := metrics.NewSnapshotter(source, nil, 30, nil)
	engine := metrics.NewAlertEngine(snapshotter, store, config.MetricsConfig{
		QualityFloor: 0.6,
	}, nil)

	raised, err := engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	require.Greater(t, raised, 0, "质量均值低于下限应产生告警")

	h := handler.NewMetricsHandler(snapshotter, engine)
	c := app.NewContext(16)
	c.QueryArgs().Add("status", metrics.AlertStatusRaised)
	h.HandleListAlerts(context.Background(), c)

	var resp struct {
		Alerts []models.AlertRecord `json:"alerts"`
		Count  int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &resp))
	require.GreaterOrEqual(t, resp.Count, 1)
	assert.Equal(t, "quality", resp.Alerts[0].Component)
	assert.NotEmpty(t, resp.Alerts[0].Message)
}
