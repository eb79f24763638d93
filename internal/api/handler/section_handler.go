package handler

import (
	"context"
	"errors"

	"ai-report-go/internal/logger"
	"ai-report-go/internal/processor"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"
)

// SectionHandler 处理报告章节的生成触发与状态查询
type SectionHandler struct {
	reports processor.ReportService
}

func NewSectionHandler(reports processor.ReportService) *SectionHandler {
	return &SectionHandler{reports: reports}
}

// HandleTriggerGeneration 触发一个章节的后台生成，立即返回pending视图。
// 同一章节已在生成中时返回当前状态，不会重复触发
func (h *SectionHandler) HandleTriggerGeneration(ctx context.Context, c *app.RequestContext) {
	caseUUID := c.Param("case_uuid")
	sectionID := c.Param("section_id")
	if caseUUID == "" || sectionID == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "缺少案件UUID或章节ID"})
		return
	}

	result, err := h.reports.TriggerSectionGeneration(ctx, caseUUID, sectionID)
	if err != nil {
		if errors.Is(err, processor.ErrUnknownSection) {
			c.JSON(consts.StatusBadRequest, map[string]interface{}{
				"error":    "未定义的报告章节",
				"sections": processor.SectionIDs(),
			})
			return
		}
		logger.Error().Err(err).
			Str("case_uuid", caseUUID).
			Str("section_id", sectionID).
			Msg("触发章节生成失败")
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "触发章节生成失败"})
		return
	}

	c.JSON(consts.StatusAccepted, result)
}

// HandleGetSection 查询章节生成结果。
// 响应只携带净化后的错误类别，服务商原始错误文本不出API边界
func (h *SectionHandler) HandleGetSection(ctx context.Context, c *app.RequestContext) {
	caseUUID := c.Param("case_uuid")
	sectionID := c.Param("section_id")
	if caseUUID == "" || sectionID == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "缺少案件UUID或章节ID"})
		return
	}

	result, err := h.reports.GetSectionResult(ctx, caseUUID, sectionID)
	if err != nil {
		switch {
		case errors.Is(err, processor.ErrUnknownSection):
			c.JSON(consts.StatusBadRequest, map[string]interface{}{
				"error":    "未定义的报告章节",
				"sections": processor.SectionIDs(),
			})
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "章节尚未生成"})
		default:
			logger.Error().Err(err).
				Str("case_uuid", caseUUID).
				Str("section_id", sectionID).
				Msg("查询章节结果失败")
			c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "查询章节结果失败"})
		}
		return
	}

	c.JSON(consts.StatusOK, result)
}
