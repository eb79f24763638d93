package metrics

import (
	"context"
	"testing"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeAlertStore 带状态机语义的内存告警存储
type fakeAlertStore struct {
	alerts map[uint64]*models.AlertRecord
	nextID uint64
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: make(map[uint64]*models.AlertRecord), nextID: 1}
}

func (f *fakeAlertStore) CreateAlert(ctx context.Context, alert *models.AlertRecord) error {
	alert.AlertID = f.nextID
	f.nextID++
	alert.CreatedAt = time.Now()
	f.alerts[alert.AlertID] = alert
	return nil
}

func (f *fakeAlertStore) FindOpenAlert(ctx context.Context, ruleName, component string) (*models.AlertRecord, error) {
	for _, a := range f.alerts {
		if a.RuleName == ruleName && a.Component == component &&
			(a.Status == AlertStatusRaised || a.Status == AlertStatusAcknowledged) {
			return a, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAlertStore) GetAlertByID(ctx context.Context, alertID uint64) (*models.AlertRecord, error) {
	a, ok := f.alerts[alertID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (f *fakeAlertStore) ListAlerts(ctx context.Context, status string, limit int) ([]models.AlertRecord, error) {
	var out []models.AlertRecord
	for _, a := range f.alerts {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAlertStore) TransitionAlertStatus(ctx context.Context, alertID uint64, fromStatuses []string, to string, now time.Time) (bool, error) {
	a, ok := f.alerts[alertID]
	if !ok {
		return false, nil
	}
	for _, from := range fromStatuses {
		if a.Status == from {
			a.Status = to
			switch to {
			case AlertStatusAcknowledged:
				a.AcknowledgedAt = &now
			case AlertStatusResolved:
				a.ResolvedAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func alertTestConfig() config.MetricsConfig {
	return config.MetricsConfig{
		SnapshotWindowMinutes: 60,
		AlertIntervalSeconds:  60,
		QualityFloor:          0.60,
		ErrorRateCeiling:      0.20,
		FallbackRateCeiling:   0.30,
		EmptyRateCeiling:      0.30,
	}
}

// repeatEv 生成n条同值事件
func repeatEv(component, metricType string, value float64, n int) []models.MetricEvent {
	out := make([]models.MetricEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ev(component, metricType, value))
	}
	return out
}

func newTestEngine(events []models.MetricEvent) (*AlertEngine, *fakeAlertStore) {
	cfg := alertTestConfig()
	source := &fakeEventSource{events: events}
	snapshots := NewSnapshotter(source, nil, cfg.SnapshotWindowMinutes, nil)
	store := newFakeAlertStore()
	return NewAlertEngine(snapshots, store, cfg, nil), store
}

func TestAlertQualityBelowFloor(t *testing.T) {
	// 6个样本，平均0.5 < 阈值0.6
	engine, store := newTestEngine(repeatEv("quality", "composite_score", 0.5, 6))

	raised, err := engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, raised)

	alerts, err := store.ListAlerts(context.Background(), AlertStatusRaised, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "quality_below_floor", alerts[0].RuleName)
	assert.Equal(t, "quality", alerts[0].Component)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)
	assert.InDelta(t, 0.5, alerts[0].ObservedValue, 1e-9)
	assert.InDelta(t, 0.6, alerts[0].ThresholdValue, 1e-9)
}

func TestAlertMinSampleGuard(t *testing.T) {
	// 只有3个样本，低于最小样本数，不应告警
	engine, store := newTestEngine(repeatEv("quality", "composite_score", 0.1, 3))

	raised, err := engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, raised, "样本不足时规则不评估")

	alerts, _ := store.ListAlerts(context.Background(), "", 10)
	assert.Empty(t, alerts)
}

func TestAlertErrorRateAndDedup(t *testing.T) {
	// 10次完成里3次错误 => 错误率0.3 > 0.2
	events := append(repeatEv("generation", "section_completed", 1, 10),
		repeatEv("generation", "generation_error", 1, 3)...)
	engine, store := newTestEngine(events)

	ctx := context.Background()
	raised, err := engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, raised)

	// 第二轮评估：同规则已有open告警，不重复拉起
	raised, err = engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, raised, "open状态的同名告警不应重复")

	alerts, _ := store.ListAlerts(ctx, "", 10)
	require.Len(t, alerts, 1)
	assert.Equal(t, "generation_error_rate", alerts[0].RuleName)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
}

func TestAlertFallbackAndEmptyRates(t *testing.T) {
	events := append(repeatEv("generation", "section_completed", 1, 10),
		repeatEv("generation", "fallback_used", 2, 4)...) // 兜底率0.4 > 0.3
	events = append(events, repeatEv("retriever", "retrieval_latency", 0.1, 10)...)
	events = append(events, repeatEv("retriever", "retrieval_empty", 1, 4)...) // 空检索率0.4 > 0.3

	engine, store := newTestEngine(events)
	raised, err := engine.EvaluateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, raised)

	alerts, _ := store.ListAlerts(context.Background(), "", 10)
	names := make(map[string]bool)
	for _, a := range alerts {
		names[a.RuleName] = true
	}
	assert.True(t, names["fallback_rate"])
	assert.True(t, names["retrieval_empty_rate"])
}

func TestAlertLifecycle(t *testing.T) {
	engine, store := newTestEngine(repeatEv("quality", "composite_score", 0.5, 6))
	ctx := context.Background()

	_, err := engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	alerts, _ := store.ListAlerts(ctx, AlertStatusRaised, 10)
	require.Len(t, alerts, 1)
	id := alerts[0].AlertID

	// raised -> acknowledged
	ok, err := engine.Acknowledge(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	// acknowledged不能再acknowledge
	ok, err = engine.Acknowledge(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "重复acknowledge应失败")

	// acknowledged期间仍算open，不重复告警
	raised, err := engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, raised)

	// acknowledged -> resolved
	ok, err = engine.Resolve(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := engine.GetAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, AlertStatusResolved, got.Status)
	assert.NotNil(t, got.AcknowledgedAt)
	assert.NotNil(t, got.ResolvedAt)

	// resolved之后同规则可以再次触发
	raised, err = engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, raised, "resolved后规则可重新拉起告警")
}

func TestResolveDirectlyFromRaised(t *testing.T) {
	engine, store := newTestEngine(repeatEv("quality", "composite_score", 0.5, 6))
	ctx := context.Background()

	_, err := engine.EvaluateOnce(ctx)
	require.NoError(t, err)
	alerts, _ := store.ListAlerts(ctx, AlertStatusRaised, 10)
	require.Len(t, alerts, 1)

	// raised可以跳过acknowledged直接resolved
	ok, err := engine.Resolve(ctx, alerts[0].AlertID)
	require.NoError(t, err)
	assert.True(t, ok)
}
