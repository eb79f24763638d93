package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/storage/models"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// 告警状态机: raised -> acknowledged -> resolved
const (
	AlertStatusRaised       = "raised"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// minSampleCount 窗口内样本低于该值时规则不评估，避免冷启动误报
const minSampleCount = 5

// AlertStore 告警记录的持久化端，由MySQL适配器实现
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.AlertRecord) error
	FindOpenAlert(ctx context.Context, ruleName, component string) (*models.AlertRecord, error)
	GetAlertByID(ctx context.Context, alertID uint64) (*models.AlertRecord, error)
	ListAlerts(ctx context.Context, status string, limit int) ([]models.AlertRecord, error)
	TransitionAlertStatus(ctx context.Context, alertID uint64, fromStatuses []string, to string, now time.Time) (bool, error)
}

// alertRule 单条阈值规则。eval返回观测值和是否越限
type alertRule struct {
	name      string
	component string
	severity  string
	threshold float64
	message   string
	eval      func(snap *Snapshot) (observed float64, triggered bool)
}

// AlertEngine 周期性地用窗口快照评估阈值规则。
// 同一规则在open状态(raised/acknowledged)下不会重复告警，
// resolved之后才可能再次触发。
type AlertEngine struct {
	snapshots *Snapshotter
	store     AlertStore
	interval  time.Duration
	rules     []alertRule
	logger    *zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewAlertEngine 从配置构建阈值规则并返回告警引擎
func NewAlertEngine(snapshots *Snapshotter, store AlertStore, cfg config.MetricsConfig, zlog *zerolog.Logger) *AlertEngine {
	if zlog == nil {
		nop := zerolog.Nop()
		zlog = &nop
	}
	interval := time.Duration(cfg.AlertIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	return &AlertEngine{
		snapshots: snapshots,
		store:     store,
		interval:  interval,
		rules:     buildRules(cfg),
		logger:    zlog,
		done:      make(chan struct{}),
	}
}

// buildRules 把配置阈值翻译成规则表。
// 比率类规则的分母统一取窗口内的完成/调用次数。
func buildRules(cfg config.MetricsConfig) []alertRule {
	return []alertRule{
		{
			name:      "quality_below_floor",
			component: "quality",
			severity:  SeverityWarning,
			threshold: cfg.QualityFloor,
			message:   "窗口内平均质量得分低于下限",
			eval: func(snap *Snapshot) (float64, bool) {
				stats := snap.Stats("quality", "composite_score")
				if stats.Count < minSampleCount {
					return 0, false
				}
				return stats.Avg, stats.Avg < cfg.QualityFloor
			},
		},
		{
			name:      "generation_error_rate",
			component: "generation",
			severity:  SeverityCritical,
			threshold: cfg.ErrorRateCeiling,
			message:   "窗口内章节生成错误率超过上限",
			eval: func(snap *Snapshot) (float64, bool) {
				completed := snap.Stats("generation", "section_completed")
				if completed.Count < minSampleCount {
					return 0, false
				}
				errs := snap.Stats("generation", "generation_error")
				rate := float64(errs.Count) / float64(completed.Count)
				return rate, rate > cfg.ErrorRateCeiling
			},
		},
		{
			name:      "fallback_rate",
			component: "generation",
			severity:  SeverityWarning,
			threshold: cfg.FallbackRateCeiling,
			message:   "窗口内章节兜底率超过上限",
			eval: func(snap *Snapshot) (float64, bool) {
				completed := snap.Stats("generation", "section_completed")
				if completed.Count < minSampleCount {
					return 0, false
				}
				fallbacks := snap.Stats("generation", "fallback_used")
				rate := float64(fallbacks.Count) / float64(completed.Count)
				return rate, rate > cfg.FallbackRateCeiling
			},
		},
		{
			name:      "retrieval_empty_rate",
			component: "retriever",
			severity:  SeverityWarning,
			threshold: cfg.EmptyRateCeiling,
			message:   "窗口内空检索比例超过上限",
			eval: func(snap *Snapshot) (float64, bool) {
				total := snap.Stats("retriever", "retrieval_latency")
				if total.Count < minSampleCount {
					return 0, false
				}
				empty := snap.Stats("retriever", "retrieval_empty")
				rate := float64(empty.Count) / float64(total.Count)
				return rate, rate > cfg.EmptyRateCeiling
			},
		},
	}
}

// Start 启动周期评估协程
func (e *AlertEngine) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ticker := time.NewTicker(e.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if _, err := e.EvaluateOnce(ctx); err != nil {
						e.logger.Warn().Err(err).Msg("告警规则评估失败")
					}
					cancel()
				case <-e.done:
					return
				}
			}
		}()
	})
}

// Stop 停止周期评估
func (e *AlertEngine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
	})
}

// EvaluateOnce 执行一轮规则评估，返回本轮新拉起的告警数
func (e *AlertEngine) EvaluateOnce(ctx context.Context) (int, error) {
	if e.snapshots == nil || e.store == nil {
		return 0, fmt.Errorf("告警引擎依赖未初始化")
	}

	// 评估用实时聚合，不走快照缓存，避免缓存延迟掩盖越限
	snap, err := e.snapshots.Build(ctx, e.snapshots.DefaultWindowMinutes())
	if err != nil {
		return 0, err
	}

	raised := 0
	for _, rule := range e.rules {
		observed, triggered := rule.eval(snap)
		if !triggered {
			continue
		}

		// 同规则已有open告警则跳过
		if _, err := e.store.FindOpenAlert(ctx, rule.name, rule.component); err == nil {
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			e.logger.Warn().Err(err).Str("rule", rule.name).Msg("查询open告警失败，跳过本条规则")
			continue
		}

		alert := &models.AlertRecord{
			RuleName:       rule.name,
			Component:      rule.component,
			Severity:       rule.severity,
			Message:        fmt.Sprintf("%s (观测值 %.4f, 阈值 %.4f, 窗口 %d 分钟)", rule.message, observed, rule.threshold, snap.WindowMinutes),
			ThresholdValue: rule.threshold,
			ObservedValue:  observed,
			Status:         AlertStatusRaised,
		}
		if err := e.store.CreateAlert(ctx, alert); err != nil {
			e.logger.Error().Err(err).Str("rule", rule.name).Msg("写入告警记录失败")
			continue
		}
		raised++
		e.logger.Warn().
			Str("rule", rule.name).
			Str("component", rule.component).
			Str("severity", rule.severity).
			Float64("observed", observed).
			Float64("threshold", rule.threshold).
			Msg("触发告警")
	}
	return raised, nil
}

// Acknowledge 把告警从raised迁移到acknowledged
func (e *AlertEngine) Acknowledge(ctx context.Context, alertID uint64) (bool, error) {
	return e.store.TransitionAlertStatus(ctx, alertID,
		[]string{AlertStatusRaised}, AlertStatusAcknowledged, time.Now())
}

// Resolve 把告警迁移到resolved，raised和acknowledged都允许直接解决
func (e *AlertEngine) Resolve(ctx context.Context, alertID uint64) (bool, error) {
	return e.store.TransitionAlertStatus(ctx, alertID,
		[]string{AlertStatusRaised, AlertStatusAcknowledged}, AlertStatusResolved, time.Now())
}

// ListAlerts 按状态列出告警，直接代理到存储层
func (e *AlertEngine) ListAlerts(ctx context.Context, status string, limit int) ([]models.AlertRecord, error) {
	return e.store.ListAlerts(ctx, status, limit)
}

// GetAlert 读取单条告警
func (e *AlertEngine) GetAlert(ctx context.Context, alertID uint64) (*models.AlertRecord, error) {
	return e.store.GetAlertByID(ctx, alertID)
}
