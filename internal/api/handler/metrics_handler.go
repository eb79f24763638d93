package handler

import (
	"context"
	"errors"
	"strconv"

	"ai-report-go/internal/logger"
	"ai-report-go/internal/metrics"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"
)

// MetricsHandler 暴露指标快照与告警操作
type MetricsHandler struct {
	snapshots *metrics.Snapshotter
	alerts    *metrics.AlertEngine
}

func NewMetricsHandler(snapshots *metrics.Snapshotter, alerts *metrics.AlertEngine) *MetricsHandler {
	return &MetricsHandler{
		snapshots: snapshots,
		alerts:    alerts,
	}
}

// windowFromQuery 解析window查询参数（分钟），非法或缺省用0交给下层取默认值
func windowFromQuery(c *app.RequestContext) int {
	windowStr := c.Query("window")
	if windowStr == "" {
		return 0
	}
	window, err := strconv.Atoi(windowStr)
	if err != nil || window < 0 {
		return 0
	}
	return window
}

// HandleSnapshot 返回滚动窗口内全部组件的聚合指标
func (h *MetricsHandler) HandleSnapshot(ctx context.Context, c *app.RequestContext) {
	snapshot, err := h.snapshots.Snapshot(ctx, windowFromQuery(c))
	if err != nil {
		logger.Error().Err(err).Msg("构建指标快照失败")
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "构建指标快照失败"})
		return
	}
	c.JSON(consts.StatusOK, snapshot)
}

// HandleComponentStats 返回单个组件的聚合指标
func (h *MetricsHandler) HandleComponentStats(ctx context.Context, c *app.RequestContext) {
	component := c.Param("component")
	if component == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "缺少组件名"})
		return
	}

	stats, err := h.snapshots.ComponentSnapshot(ctx, component, windowFromQuery(c))
	if err != nil {
		logger.Error().Err(err).Str("component", component).Msg("查询组件指标失败")
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "查询组件指标失败"})
		return
	}
	c.JSON(consts.StatusOK, stats)
}

// HandleListAlerts 按状态列出告警，status缺省时返回全部
func (h *MetricsHandler) HandleListAlerts(ctx context.Context, c *app.RequestContext) {
	status := c.Query("status")

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil && val > 0 && val <= 500 {
			limit = val
		}
	}

	alerts, err := h.alerts.ListAlerts(ctx, status, limit)
	if err != nil {
		logger.Error().Err(err).Str("status", status).Msg("查询告警列表失败")
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "查询告警列表失败"})
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// HandleAcknowledgeAlert 把告警从raised置为acknowledged
func (h *MetricsHandler) HandleAcknowledgeAlert(ctx context.Context, c *app.RequestContext) {
	h.transitionAlert(ctx, c, h.alerts.Acknowledge, "确认")
}

// HandleResolveAlert 把告警置为resolved
func (h *MetricsHandler) HandleResolveAlert(ctx context.Context, c *app.RequestContext) {
	h.transitionAlert(ctx, c, h.alerts.Resolve, "解除")
}

func (h *MetricsHandler) transitionAlert(ctx context.Context, c *app.RequestContext,
	transition func(context.Context, uint64) (bool, error), action string) {

	alertID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "非法的告警ID"})
		return
	}

	ok, err := transition(ctx, alertID)
	if err != nil {
		logger.Error().Err(err).Uint64("alert_id", alertID).Msg("告警状态流转失败")
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "告警状态流转失败"})
		return
	}
	if !ok {
		// 迁移未命中行：告警不存在或当前状态不允许该流转
		if _, err := h.alerts.GetAlert(ctx, alertID); errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "告警不存在"})
			return
		}
		c.JSON(consts.StatusConflict, map[string]interface{}{"error": "告警当前状态不允许" + action})
		return
	}

	alert, err := h.alerts.GetAlert(ctx, alertID)
	if err != nil {
		logger.Error().Err(err).Uint64("alert_id", alertID).Msg("读取告警失败")
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "读取告警失败"})
		return
	}
	c.JSON(consts.StatusOK, alert)
}
