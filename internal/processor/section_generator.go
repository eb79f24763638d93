package processor

import (
	"context"
	"errors"
	"time"

	"ai-report-go/internal/logger"
	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/tracing"
	"ai-report-go/internal/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SectionRetriever 章节生成所需的检索能力子集
type SectionRetriever interface {
	Retrieve(ctx context.Context, caseUUID, query string, limit int) (*types.RetrievalResult, error)
}

// CaseChunkLoader 按原文顺序加载案件当前代次分块，
// direct策略与检索落空后的兜底上下文都从这里取材
type CaseChunkLoader interface {
	GetCurrentChunksByCase(ctx context.Context, caseUUID string, limit int) ([]models.DocumentChunk, error)
}

// AttemptRecord 单次生成尝试的评估记录，生成出错的尝试没有Score
type AttemptRecord struct {
	Attempt int
	Score   *types.QualityScore
}

// SectionOutcome 一次章节生成（含重试与兜底）的完整结果。
// 终态只有两种：accepted（正文通过校验）和fallback（静态兜底），
// 两种终态的Content都保证非空。
type SectionOutcome struct {
	Status        types.SectionStatus
	Content       string
	FallbackTier  int // 0=首次生成 1=简化重试 2=静态兜底
	StrategyUsed  types.Strategy
	Contributing  []types.ChunkRef
	ErrorCategory string // 落兜底时的净化错误类别，纯质量不达标时为空
	Attempts      []AttemptRecord
	FinalState    GenerationState
}

// SectionGenerator 章节生成状态机。
// 流程：组装上下文 -> 生成 -> 质量校验；未通过时用简化提示词
// 和减半上下文重试一次，再失败落静态兜底文本。
// 不接触数据库行，持久化由上层服务负责。
type SectionGenerator struct {
	generator ChatGenerator
	retriever SectionRetriever
	chunks    CaseChunkLoader
	assembler *ContextAssembler
	quality   *QualityController
	metrics   MetricSink
	timeout   time.Duration // 单次生成请求超时
}

// NewSectionGenerator 组装章节生成器，metrics为nil时使用空实现
func NewSectionGenerator(generator ChatGenerator, retriever SectionRetriever, chunks CaseChunkLoader,
	assembler *ContextAssembler, quality *QualityController, metrics MetricSink, timeout time.Duration) *SectionGenerator {
	if metrics == nil {
		metrics = noopMetricSink{}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SectionGenerator{
		generator: generator,
		retriever: retriever,
		chunks:    chunks,
		assembler: assembler,
		quality:   quality,
		metrics:   metrics,
		timeout:   timeout,
	}
}

// Run 执行一个章节的完整生成状态机。
// 只有上下文取消会返回error，其余失败都收敛为兜底终态。
func (g *SectionGenerator) Run(ctx context.Context, caseUUID string, tpl *SectionTemplate, strategy types.Strategy) (*SectionOutcome, error) {
	ctx, span := tracer.Start(ctx, "GenerateSection")
	defer span.End()
	span.SetAttributes(
		attribute.String("case_uuid", caseUUID),
		attribute.String("section_id", tpl.SectionID),
		attribute.String("strategy", string(strategy)),
	)

	ctx, log := logger.WithSection(ctx, caseUUID, tpl.SectionID)

	outcome := &SectionOutcome{
		StrategyUsed: strategy,
		FinalState:   GenStatePending,
	}

	if g.generator == nil {
		// 没有生成客户端时整条生成链路不可用，直接落兜底
		log.Warn().Msg("生成客户端未配置，章节直接落静态兜底")
		g.finishWithFallback(outcome, tpl, CategoryExternalStoreUnavailable)
		span.SetStatus(codes.Ok, "无生成客户端，已兜底")
		return outcome, nil
	}

	// 组装上下文。buildCtx带预算参数，重试时减半重建
	buildCtx, category := g.prepareContextBuilder(ctx, caseUUID, tpl, strategy)
	if buildCtx == nil {
		// 案件没有任何可用材料，生成无从谈起
		g.finishWithFallback(outcome, tpl, category)
		span.SetStatus(codes.Ok, "无可用材料，已兜底")
		return outcome, nil
	}

	budget := g.assembler.Budget()
	var lastCategory string

	for attempt := 1; attempt <= 2; attempt++ {
		if err := ctx.Err(); err != nil {
			// 协作式取消：两次尝试之间让出，不产生半成品终态
			return nil, err
		}

		simplified := attempt == 2
		attemptBudget := budget
		if simplified {
			attemptBudget = budget / 2
		}
		sctx := buildCtx(attemptBudget)
		outcome.Contributing = sctx.Contributing

		content, genErr := g.generateOnce(ctx, tpl, sctx, simplified, attempt)
		if genErr != nil {
			category := ClassifyGenerationError(genErr)
			lastCategory = category
			// 原始错误只进日志和span，不落库不出API
			log.Warn().Err(genErr).Int("attempt", attempt).Str("category", category).Msg("章节生成请求失败")
			g.metrics.Record("generation", "generation_error", 1, map[string]string{
				"section_id": tpl.SectionID,
				"category":   category,
			})
			outcome.Attempts = append(outcome.Attempts, AttemptRecord{Attempt: attempt})

			if attempt == 1 && g.shouldRetry(category) {
				g.advance(outcome, GenStateRetried)
				g.metrics.Record("generation", "generation_retried", 1, map[string]string{"section_id": tpl.SectionID})
				continue
			}
			g.finishWithFallback(outcome, tpl, category)
			span.SetStatus(codes.Ok, "生成失败，已兜底")
			return outcome, nil
		}

		g.advance(outcome, GenStateGenerated)

		score := g.quality.Evaluate(content, tpl, sctx)
		g.advance(outcome, GenStateValidated)
		outcome.Attempts = append(outcome.Attempts, AttemptRecord{Attempt: attempt, Score: score})
		g.metrics.Record("quality", "composite_score", score.Composite, map[string]string{
			"section_id": tpl.SectionID,
		})
		log.Debug().
			Int("attempt", attempt).
			Float64("composite", score.Composite).
			Bool("passed", score.Passed).
			Strs("issues", score.Issues).
			Msg("章节质量评估完成")

		if score.Passed {
			g.advance(outcome, GenStateAccepted)
			outcome.Status = types.SectionStatusGenerated
			outcome.Content = content
			outcome.FallbackTier = attempt - 1
			span.SetAttributes(
				attribute.Int("fallback_tier", outcome.FallbackTier),
				attribute.Float64("composite_score", score.Composite),
				attribute.String("content_preview", tracing.SafeDocumentContent(content)),
			)
			span.SetStatus(codes.Ok, "")
			return outcome, nil
		}

		g.metrics.Record("quality", "evaluation_failed", 1, map[string]string{"section_id": tpl.SectionID})
		if attempt == 1 {
			g.advance(outcome, GenStateRetried)
			g.metrics.Record("generation", "generation_retried", 1, map[string]string{"section_id": tpl.SectionID})
		}
	}

	// 两次尝试都未通过校验：纯质量不达标，类别留空
	g.finishWithFallback(outcome, tpl, lastCategory)
	span.SetStatus(codes.Ok, "质量未达标，已兜底")
	return outcome, nil
}

// prepareContextBuilder 按策略准备上下文构建闭包。
// direct直接取原文分块；hybrid和full_retrieval走混合检索，
// 检索落空或检索链路不可用时退回原文分块。
// 返回nil表示案件没有任何材料，第二个返回值给出净化类别。
func (g *SectionGenerator) prepareContextBuilder(ctx context.Context, caseUUID string, tpl *SectionTemplate, strategy types.Strategy) (func(budget int) *types.SectionContext, string) {
	log := logger.FromContext(ctx)

	if strategy != types.StrategyDirect && g.retriever != nil {
		retrieveStart := time.Now()
		result, err := g.retriever.Retrieve(ctx, caseUUID, tpl.Query, 0)
		g.metrics.Record("retriever", "retrieval_latency", time.Since(retrieveStart).Seconds(), map[string]string{
			"section_id": tpl.SectionID,
		})

		switch {
		case err != nil:
			// 检索两条腿全断，退化为原文分块
			log.Warn().Err(err).Msg("混合检索不可用，退回原文分块上下文")
			g.metrics.Record("retriever", "retrieval_error", 1, map[string]string{"category": CategoryOf(err)})
		case result.Empty:
			log.Info().Str("reason", result.Reason).Msg("检索无可用上下文，退回原文分块")
			g.metrics.Record("retriever", "retrieval_empty", 1, map[string]string{"reason": result.Reason})
		default:
			if result.FloorRelaxed {
				g.metrics.Record("retriever", "floor_relaxed", 1, nil)
			}
			g.metrics.Record("retriever", "retrieval_hits", float64(len(result.Chunks)), map[string]string{
				"section_id": tpl.SectionID,
			})
			scored := result.Chunks
			return func(budget int) *types.SectionContext {
				return g.assembler.BuildSectionContext(caseUUID, tpl.SectionID, scored, budget)
			}, ""
		}
	}

	// direct策略或检索兜底：按原文顺序取当前代次分块
	if g.chunks == nil {
		return nil, CategoryExternalStoreUnavailable
	}
	raw, err := g.chunks.GetCurrentChunksByCase(ctx, caseUUID, 0)
	if err != nil {
		log.Error().Err(err).Msg("加载案件分块失败")
		return nil, CategoryExternalStoreUnavailable
	}
	if len(raw) == 0 {
		return nil, CategoryRetrievalEmpty
	}
	return func(budget int) *types.SectionContext {
		return g.assembler.BuildDirectContext(caseUUID, tpl.SectionID, raw, budget)
	}, ""
}

// generateOnce 发起一次带超时的生成请求
func (g *SectionGenerator) generateOnce(ctx context.Context, tpl *SectionTemplate, sctx *types.SectionContext, simplified bool, attempt int) (string, error) {
	messages := g.assembler.BuildMessages(tpl, sctx, simplified)

	gctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	gctx, span := tracer.Start(gctx, "GenerateSectionAttempt",
		trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("simplified", simplified),
			attribute.Int("context_chars", len([]rune(sctx.Text))),
		))
	defer span.End()

	resp, err := g.generator.Generate(gctx, messages)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			tracing.RecordError(span, err, tracing.ErrorTypeTimeout)
		} else {
			tracing.RecordError(span, err, tracing.ErrorTypeGeneration)
		}
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	return resp.Content, nil
}

// shouldRetry 判断首次生成出错后是否进入简化重试。
// 策略拦截是否重试由配置控制，其余类别一律重试一次。
func (g *SectionGenerator) shouldRetry(category string) bool {
	if category == CategoryGenerationBlocked {
		return g.quality.RetryOnPolicyBlock()
	}
	return true
}

// advance 推进生成状态机，非法迁移记录告警但不中断流程
func (g *SectionGenerator) advance(outcome *SectionOutcome, to GenerationState) {
	if !CanTransitionGeneration(outcome.FinalState, to) {
		logger.Warn().
			Str("from", string(outcome.FinalState)).
			Str("to", string(to)).
			Msg("生成状态机出现非法迁移")
		return
	}
	outcome.FinalState = to
}

// finishWithFallback 收敛到静态兜底终态，Content保证非空
func (g *SectionGenerator) finishWithFallback(outcome *SectionOutcome, tpl *SectionTemplate, category string) {
	g.advance(outcome, GenStateFallback)
	outcome.Status = types.SectionStatusFailedWithFallback
	outcome.Content = tpl.FallbackText
	outcome.FallbackTier = 2
	outcome.ErrorCategory = category
	g.metrics.Record("generation", "fallback_used", 2, map[string]string{
		"section_id": tpl.SectionID,
		"category":   category,
	})
}
