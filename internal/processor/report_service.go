package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/constants"
	"ai-report-go/internal/logger"
	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/types"
	"ai-report-go/pkg/utils"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 异步生成任务的硬性兜底时限，正常情况下各阶段超时远早于此生效
const asyncRunTimeout = 10 * time.Minute

// ReportService 报告章节生成的服务层接口
type ReportService interface {
	// GenerateSection 同步执行一个章节的完整生成状态机并持久化终态
	GenerateSection(ctx context.Context, caseUUID, sectionID string) (*types.SectionResult, error)

	// TriggerSectionGeneration 异步触发章节生成，立即返回pending视图，
	// 结果用GetSectionResult轮询
	TriggerSectionGeneration(ctx context.Context, caseUUID, sectionID string) (*types.SectionResult, error)

	// GetSectionResult 读取章节当前状态与内容
	GetSectionResult(ctx context.Context, caseUUID, sectionID string) (*types.SectionResult, error)
}

// reportServiceImpl 是ReportService的实现
type reportServiceImpl struct {
	pipeline  *DocumentPipeline
	config    *config.Config
	logger    *zerolog.Logger
	strategy  *StrategySelector
	generator *SectionGenerator
}

// NewReportService 从流水线组件装配章节生成服务。
// 向量检索、Redis缓存等可选依赖缺失时自动降级，不影响服务构建。
func NewReportService(pipeline *DocumentPipeline, cfg *config.Config, zlog *zerolog.Logger) (ReportService, error) {
	if pipeline == nil || pipeline.Storage == nil || pipeline.Storage.MySQL == nil {
		return nil, ErrStorageNotInit
	}
	if zlog == nil {
		nop := zerolog.Nop()
		zlog = &nop
	}

	assembler := NewContextAssembler(cfg.Pipeline.Assembler)
	quality := NewQualityController(cfg.Pipeline.Quality)

	// 接口字段逐个判空赋值，避免把typed nil塞进接口
	var vectors VectorSearcher
	if pipeline.Storage.Qdrant != nil {
		vectors = pipeline.Storage.Qdrant
	}
	var cache QueryVectorCache
	if pipeline.Storage.Redis != nil {
		cache = pipeline.Storage.Redis
	}
	retriever := NewHybridRetriever(pipeline.Storage.MySQL, vectors, pipeline.Embedder, cache, cfg.Pipeline.Retriever)

	genTimeout := config.GetDuration(cfg.Generation.GenerationTimeout, 60*time.Second)
	sectionGen := NewSectionGenerator(
		pipeline.Generator,
		retriever,
		pipeline.Storage.MySQL,
		assembler,
		quality,
		pipeline.Metrics,
		genTimeout,
	)

	return &reportServiceImpl{
		pipeline:  pipeline,
		config:    cfg,
		logger:    zlog,
		strategy:  NewStrategySelector(cfg.Pipeline.Strategy),
		generator: sectionGen,
	}, nil
}

// TriggerSectionGeneration 实现ReportService接口
func (rs *reportServiceImpl) TriggerSectionGeneration(ctx context.Context, caseUUID, sectionID string) (*types.SectionResult, error) {
	if _, err := TemplateFor(sectionID); err != nil {
		return nil, err
	}

	section, err := rs.pipeline.Storage.MySQL.GetOrCreateReportSection(ctx, caseUUID, sectionID)
	if err != nil {
		return nil, fmt.Errorf("创建章节记录失败: %w", err)
	}

	// 后台任务脱离请求上下文，带硬性兜底时限
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), asyncRunTimeout)
		defer cancel()
		if _, err := rs.GenerateSection(runCtx, caseUUID, sectionID); err != nil {
			rs.logger.Error().Err(err).
				Str("case_uuid", caseUUID).
				Str("section_id", sectionID).
				Msg("后台章节生成失败")
		}
	}()

	return &types.SectionResult{
		CaseUUID:  caseUUID,
		SectionID: sectionID,
		Status:    types.SectionStatusPending,
		// 触发视图不带旧内容，轮询接口拿完整行
		FallbackTier: section.FallbackTier,
	}, nil
}

// GenerateSection 实现ReportService接口
func (rs *reportServiceImpl) GenerateSection(ctx context.Context, caseUUID, sectionID string) (*types.SectionResult, error) {
	ctx, span := tracer.Start(ctx, "GenerateReportSection")
	defer span.End()
	span.SetAttributes(
		attribute.String("case_uuid", caseUUID),
		attribute.String("section_id", sectionID),
	)

	tpl, err := TemplateFor(sectionID)
	if err != nil {
		span.SetStatus(codes.Error, "未知章节")
		return nil, err
	}

	ctx, log := logger.WithSection(ctx, caseUUID, sectionID)

	section, err := rs.pipeline.Storage.MySQL.GetOrCreateReportSection(ctx, caseUUID, sectionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "章节记录读取失败")
		return nil, fmt.Errorf("创建章节记录失败: %w", err)
	}

	// 章节级分布式锁：同一(案件,章节)同时只允许一个生成任务。
	// Redis不可用时降级为无锁运行。
	var lockValue string
	if redis := rs.pipeline.Storage.Redis; redis != nil {
		lockValue, err = redis.AcquireSectionLock(ctx, caseUUID, sectionID)
		if err != nil {
			log.Warn().Err(err).Msg("获取章节锁失败，本次无锁执行")
		} else if lockValue == "" {
			log.Info().Msg("章节正在生成中，跳过重复触发")
			span.SetStatus(codes.Ok, "已在生成中")
			return sectionResultFromRow(section), nil
		} else {
			defer func() {
				if _, rerr := redis.ReleaseSectionLock(context.Background(), caseUUID, sectionID, lockValue); rerr != nil {
					log.Warn().Err(rerr).Msg("释放章节锁失败，锁将按TTL过期")
				}
			}()
		}
	}

	// 轮询方可见的运行中状态
	if err := rs.pipeline.Storage.MySQL.UpdateReportSectionFields(
		rs.pipeline.Storage.MySQL.DB().WithContext(ctx), section.SectionDBID,
		map[string]interface{}{"status": string(types.SectionStatusPending)}); err != nil {
		log.Warn().Err(err).Msg("更新章节为pending状态失败")
	}

	startTime := time.Now()

	strategy := rs.resolveCaseStrategy(ctx, caseUUID)
	span.SetAttributes(attribute.String("strategy", string(strategy)))
	rs.pipeline.Metrics.Record("strategy", "strategy_selected", 1, map[string]string{
		"strategy":   string(strategy),
		"section_id": sectionID,
	})

	outcome, err := rs.generator.Run(ctx, caseUUID, tpl, strategy)
	if err != nil {
		// 只有上下文取消会走到这里：不落终态，章节停留在pending，
		// 下一次触发从头执行
		span.RecordError(err)
		span.SetStatus(codes.Error, "生成被取消")
		return nil, err
	}

	if err := rs.persistOutcome(ctx, section, outcome); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "终态落库失败")
		return nil, err
	}

	elapsed := time.Since(startTime)
	rs.pipeline.Metrics.Record("generation", "section_completed", elapsed.Seconds(), map[string]string{
		"section_id": sectionID,
		"strategy":   string(outcome.StrategyUsed),
		"tier":       fmt.Sprintf("%d", outcome.FallbackTier),
		"status":     string(outcome.Status),
	})

	span.SetAttributes(
		attribute.String("final_status", string(outcome.Status)),
		attribute.Int("fallback_tier", outcome.FallbackTier),
		attribute.Int("attempts", len(outcome.Attempts)),
	)
	span.SetStatus(codes.Ok, "")
	log.Info().
		Str("status", string(outcome.Status)).
		Int("fallback_tier", outcome.FallbackTier).
		Int("attempts", len(outcome.Attempts)).
		Dur("elapsed", elapsed).
		Msg("章节生成完成")

	return &types.SectionResult{
		CaseUUID:      caseUUID,
		SectionID:     sectionID,
		Status:        outcome.Status,
		Content:       outcome.Content,
		FallbackTier:  outcome.FallbackTier,
		Contributing:  outcome.Contributing,
		ErrorCategory: outcome.ErrorCategory,
	}, nil
}

// resolveCaseStrategy 在案件粒度上复用文档级策略规则：
// 字符数取案件全部可用文档之和，置信度取最保守的一条分类。
// 单文档案件因此与摄取时的文档级决策一致。
func (rs *reportServiceImpl) resolveCaseStrategy(ctx context.Context, caseUUID string) types.Strategy {
	log := logger.FromContext(ctx)
	mysql := rs.pipeline.Storage.MySQL

	docs, err := mysql.ListCaseDocumentsByStatus(ctx, caseUUID,
		[]string{constants.StatusIngested, constants.StatusEmbedded})
	if err != nil {
		log.Warn().Err(err).Msg("读取案件文档失败，策略按hybrid处理")
		return types.StrategyHybrid
	}

	totalChars := 0
	for _, d := range docs {
		totalChars += d.ContentChars
	}

	var weakest *types.Classification
	if records, err := mysql.ListClassificationsByCase(ctx, caseUUID); err == nil {
		for _, rec := range records {
			if weakest == nil || rec.Confidence < weakest.Confidence {
				weakest = &types.Classification{
					DocType:    types.DocumentType(rec.DocType),
					Confidence: rec.Confidence,
				}
			}
		}
	} else {
		log.Warn().Err(err).Msg("读取案件分类结果失败")
	}

	return rs.strategy.Select(totalChars, weakest)
}

// persistOutcome 终态落库：章节行更新与质量评估记录同事务写入
func (rs *reportServiceImpl) persistOutcome(ctx context.Context, section *models.ReportSection, outcome *SectionOutcome) error {
	mysql := rs.pipeline.Storage.MySQL
	now := time.Now()

	var contributingJSON datatypes.JSON
	if len(outcome.Contributing) > 0 {
		if b, err := json.Marshal(outcome.Contributing); err == nil {
			contributingJSON = b
		}
	}

	return mysql.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":                   string(outcome.Status),
			"content":                  outcome.Content,
			"fallback_tier":            outcome.FallbackTier,
			"strategy_used":            string(outcome.StrategyUsed),
			"contributing_chunks_json": contributingJSON,
			"error_category":           outcome.ErrorCategory,
			"generation_attempts":      section.GenerationAttempts + len(outcome.Attempts),
			"last_generated_at":        utils.TimePtr(now),
		}
		if err := mysql.UpdateReportSectionFields(tx, section.SectionDBID, updates); err != nil {
			return fmt.Errorf("更新章节终态失败: %w", err)
		}

		// 每次生成尝试追加一条审计记录；生成请求本身失败的尝试
		// 记零分并在issues里标注净化类别
		for _, rec := range outcome.Attempts {
			record := &models.QualityScoreRecord{
				SectionDBID: section.SectionDBID,
				CaseUUID:    section.CaseUUID,
				SectionID:   section.SectionID,
				Attempt:     section.GenerationAttempts + rec.Attempt,
			}
			if rec.Score != nil {
				record.Completeness = rec.Score.Completeness
				record.Coherence = rec.Score.Coherence
				record.Accuracy = rec.Score.Accuracy
				record.Consistency = rec.Score.Consistency
				record.Composite = rec.Score.Composite
				record.Passed = rec.Score.Passed
				record.IssuesJSON = utils.ConvertArrayToJSON(rec.Score.Issues)
			} else {
				issues := []string{"generation_error"}
				if outcome.ErrorCategory != "" {
					issues = append(issues, outcome.ErrorCategory)
				}
				record.IssuesJSON = utils.ConvertArrayToJSON(issues)
			}
			if err := mysql.CreateQualityScore(tx, record); err != nil {
				return fmt.Errorf("写入质量评估记录失败: %w", err)
			}
		}
		return nil
	})
}

// GetSectionResult 实现ReportService接口
func (rs *reportServiceImpl) GetSectionResult(ctx context.Context, caseUUID, sectionID string) (*types.SectionResult, error) {
	if !IsValidSectionID(sectionID) {
		return nil, ErrUnknownSection
	}
	section, err := rs.pipeline.Storage.MySQL.GetReportSection(ctx, caseUUID, sectionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("读取章节记录失败: %w", err)
	}
	return sectionResultFromRow(section), nil
}

// sectionResultFromRow 把章节行转换为对外结果视图。
// ErrorCategory已是净化类别，原始错误从未落库。
func sectionResultFromRow(row *models.ReportSection) *types.SectionResult {
	result := &types.SectionResult{
		CaseUUID:      row.CaseUUID,
		SectionID:     row.SectionID,
		Status:        types.SectionStatus(row.Status),
		Content:       row.Content,
		FallbackTier:  row.FallbackTier,
		ErrorCategory: row.ErrorCategory,
	}
	if len(row.ContributingChunksJSON) > 0 {
		if err := json.Unmarshal(row.ContributingChunksJSON, &result.Contributing); err != nil {
			result.Contributing = nil
		}
	}
	return result
}
