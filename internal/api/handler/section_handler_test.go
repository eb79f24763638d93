package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ai-report-go/internal/api/handler"
	"ai-report-go/internal/processor"
	"ai-report-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeReportService 记录调用参数并返回预设结果
type fakeReportService struct {
	triggerResult *types.SectionResult
	triggerErr    error
	getResult     *types.SectionResult
	getErr        error

	lastCaseUUID  string
	lastSectionID string
	triggerCalls  int
	getCalls      int
}

func (f *fakeReportService) GenerateSection(ctx context.Context, caseUUID, sectionID string) (*types.SectionResult, error) {
	return f.getResult, f.getErr
}

func (f *fakeReportService) TriggerSectionGeneration(ctx context.Context, caseUUID, sectionID string) (*types.SectionResult, error) {
	f.triggerCalls++
	f.lastCaseUUID = caseUUID
	f.lastSectionID = sectionID
	return f.triggerResult, f.triggerErr
}

func (f *fakeReportService) GetSectionResult(ctx context.Context, caseUUID, sectionID string) (*types.SectionResult, error) {
	f.getCalls++
	f.lastCaseUUID = caseUUID
	f.lastSectionID = sectionID
	return f.getResult, f.getErr
}

// sectionRequestCtx 构造带路径参数的请求上下文
func sectionRequestCtx(caseUUID, sectionID string) *app.RequestContext {
	c := app.NewContext(16)
	if caseUUID != "" {
		c.Params = append(c.Params, param.Param{Key: "case_uuid", Value: caseUUID})
	}
	if sectionID != "" {
		c.Params = append(c.Params, param.Param{Key: "section_id", Value: sectionID})
	}
	return c
}

// TestTriggerSectionGenerationReturnsAccepted 触发生成返回202和pending视图
func TestTriggerSectionGenerationReturnsAccepted(t *testing.T) {
	fake := &fakeReportService{
		triggerResult: &types.SectionResult{
			CaseUUID:  "case-001",
			SectionID: "medical_history",
			Status:    types.SectionStatusPending,
		},
	}
	h := handler.NewSectionHandler(fake)

	c := sectionRequestCtx("case-001", "medical_history")
	h.HandleTriggerGeneration(context.Background(), c)

	assert.Equal(t, consts.StatusAccepted, c.Response.StatusCode())
	assert.Equal(t, 1, fake.triggerCalls)
	assert.Equal(t, "case-001", fake.lastCaseUUID)
	assert.Equal(t, "medical_history", fake.lastSectionID)

	var result types.SectionResult
	require.NoError(t, json.Unmarshal(c.Response.Body(), &result))
	assert.Equal(t, types.SectionStatusPending, result.Status)
}

// TestTriggerSectionGenerationUnknownSection 非法章节ID返回400并附合法章节列表
func TestTriggerSectionGenerationUnknownSection(t *testing.T) {
	fake := &fakeReportService{triggerErr: processor.ErrUnknownSection}
	h := handler.NewSectionHandler(fake)

	c := sectionRequestCtx("case-001", "no_such_section")
	h.HandleTriggerGeneration(context.Background(), c)

	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())

	var resp struct {
		Error    string   `json:"error"`
		Sections []string `json:"sections"`
	}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &resp))
	assert.NotEmpty(t, resp.Error)
	assert.Contains(t, resp.Sections, "medical_history")
	assert.Contains(t, resp.Sections, "conclusion")
}

// TestTriggerSectionGenerationMissingParams 缺少路径参数直接400，不触达服务层
func TestTriggerSectionGenerationMissingParams(t *testing.T) {
	fake := &fakeReportService{}
	h := handler.NewSectionHandler(fake)

	c := sectionRequestCtx("case-001", "")
	h.HandleTriggerGeneration(context.Background(), c)

	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
	assert.Equal(t, 0, fake.triggerCalls)
}

// TestGetSectionReturnsResult 查询已生成章节返回200和完整结果
func TestGetSectionReturnsResult(t *testing.T) {
	fake := &fakeReportService{
		getResult: &types.SectionResult{
			CaseUUID:  "case-002",
			SectionID: "conclusion",
			Status:    types.SectionStatusGenerated,
			Content:   "综上，申请人伤情与材料记载一致。",
			Contributing: []types.ChunkRef{
				{ChunkID: 7, DocumentUUID: "doc-1"},
			},
		},
	}
	h := handler.NewSectionHandler(fake)

	c := sectionRequestCtx("case-002", "conclusion")
	h.HandleGetSection(context.Background(), c)

	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())
	assert.Equal(t, 1, fake.getCalls)

	var result types.SectionResult
	require.NoError(t, json.Unmarshal(c.Response.Body(), &result))
	assert.Equal(t, types.SectionStatusGenerated, result.Status)
	assert.NotEmpty(t, result.Content)
	assert.Len(t, result.Contributing, 1)
	assert.Empty(t, result.ErrorCategory)
}

// TestGetSectionNotYetGenerated 章节从未生成过时返回404
func TestGetSectionNotYetGenerated(t *testing.T) {
	fake := &fakeReportService{getErr: gorm.ErrRecordNotFound}
	h := handler.NewSectionHandler(fake)

	c := sectionRequestCtx("case-003", "introduction")
	h.HandleGetSection(context.Background(), c)

	assert.Equal(t, consts.StatusNotFound, c.Response.StatusCode())
}

// TestGetSectionFallbackViewCarriesCategory 兜底章节对外只暴露错误类别，
// 正文仍是非空的静态兜底文本
func TestGetSectionFallbackViewCarriesCategory(t *testing.T) {
	fake := &fakeReportService{
		getResult: &types.SectionResult{
			CaseUUID:      "case-004",
			SectionID:     "assessment_analysis",
			Status:        types.SectionStatusFailedWithFallback,
			Content:       "本章节内容暂缺。鉴定分析需结合完整案件材料由鉴定人出具，本节以正式鉴定意见书为准。",
			FallbackTier:  2,
			ErrorCategory: "generation_blocked",
		},
	}
	h := handler.NewSectionHandler(fake)

	c := sectionRequestCtx("case-004", "assessment_analysis")
	h.HandleGetSection(context.Background(), c)

	assert.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var result types.SectionResult
	require.NoError(t, json.Unmarshal(c.Response.Body(), &result))
	assert.Equal(t, types.SectionStatusFailedWithFallback, result.Status)
	assert.Equal(t, "generation_blocked", result.ErrorCategory)
	assert.NotEmpty(t, result.Content)
}

// TestGetSectionInternalErrorIsSanitized 服务商原始错误文本不得出现在响应中
func TestGetSectionInternalErrorIsSanitized(t *testing.T) {
	fake := &fakeReportService{
		getErr: errors.New("API returned 400: DataInspectionFailed, output data may contain inappropriate content"),
	}
	h := handler.NewSectionHandler(fake)

	c := sectionRequestCtx("case-005", "medical_history")
	h.HandleGetSection(context.Background(), c)

	assert.Equal(t, consts.StatusInternalServerError, c.Response.StatusCode())
	assert.NotContains(t, string(c.Response.Body()), "DataInspectionFailed")
}
