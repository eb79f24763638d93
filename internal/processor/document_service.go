package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/constants"
	"ai-report-go/internal/logger"
	"ai-report-go/internal/storage"
	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/tracing"
	"ai-report-go/internal/types"
	"ai-report-go/pkg/utils"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 定义tracer
var tracer = otel.Tracer("processor")

// DocumentService 文档摄取与向量化的服务层接口。
// 两个方法分别对应两条消费者队列：上传摄取与分块向量化
type DocumentService interface {
	// ProcessUploadedDocument 摄取上传的文档：提取文本、去重、分类、分块，
	// 完成后文档即刻可用于报告生成，向量化异步进行
	ProcessUploadedDocument(ctx context.Context, message storage.DocumentUploadMessage) error

	// ProcessChunkEmbedding 消费向量化任务：批量嵌入分块并写入向量库
	ProcessChunkEmbedding(ctx context.Context, message storage.ChunkEmbeddingMessage) error
}

// documentServiceImpl 是DocumentService的实现。
// 采用Facade模式，内部持有流水线组件集合，不对外暴露
type documentServiceImpl struct {
	pipeline *DocumentPipeline
	config   *config.Config
	logger   *zerolog.Logger
	strategy *StrategySelector
}

// NewDocumentService 从配置构建完整的文档服务
func NewDocumentService(ctx context.Context, cfg *config.Config, storageManager *storage.Storage, zlog *zerolog.Logger) (DocumentService, error) {
	if zlog == nil {
		nop := zerolog.Nop()
		zlog = &nop
	}

	pipeline, err := CreatePipelineFromConfig(ctx, cfg, storageManager)
	if err != nil {
		return nil, fmt.Errorf("创建处理流水线失败: %w", err)
	}

	return NewDocumentServiceWithPipeline(pipeline, cfg, zlog), nil
}

// NewDocumentServiceWithPipeline 用已装配好的流水线构建服务，测试时注入替身组件用
func NewDocumentServiceWithPipeline(pipeline *DocumentPipeline, cfg *config.Config, zlog *zerolog.Logger) DocumentService {
	if zlog == nil {
		nop := zerolog.Nop()
		zlog = &nop
	}
	return &documentServiceImpl{
		pipeline: pipeline,
		config:   cfg,
		logger:   zlog,
		strategy: NewStrategySelector(cfg.Pipeline.Strategy),
	}
}

// ProcessUploadedDocument 实现DocumentService接口
func (ds *documentServiceImpl) ProcessUploadedDocument(ctx context.Context, message storage.DocumentUploadMessage) error {
	ctx, span := tracer.Start(ctx, "ProcessUploadedDocument",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("document_uuid", message.DocumentUUID),
		attribute.String("case_uuid", message.CaseUUID),
	)

	ctx, log := logger.WithDocumentUUID(ctx, message.DocumentUUID)
	log.Debug().Msg("开始摄取上传的文档")

	if ds.pipeline.Storage == nil || ds.pipeline.Storage.MySQL == nil {
		span.RecordError(ErrStorageNotInit)
		span.SetStatus(codes.Error, "存储未初始化")
		return ErrStorageNotInit
	}
	if ds.pipeline.Extractor == nil {
		span.RecordError(ErrExtractorNotInit)
		span.SetStatus(codes.Error, "提取器未初始化")
		return ErrExtractorNotInit
	}
	if ds.pipeline.Chunker == nil {
		span.RecordError(ErrChunkerNotInit)
		span.SetStatus(codes.Error, "分块器未初始化")
		return ErrChunkerNotInit
	}
	if ds.pipeline.Classifier == nil {
		span.RecordError(ErrClassifierNotInit)
		span.SetStatus(codes.Error, "分类器未初始化")
		return ErrClassifierNotInit
	}

	startTime := time.Now()

	// 事务1：锁定文档记录做幂等性检查，并标记开始提取
	var doc models.SourceDocument
	var skip bool
	err := ds.pipeline.Storage.MySQL.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_uuid = ?", message.DocumentUUID).
			First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Info().Msg("SourceDocument记录未找到，可能已被删除，确认消息")
				skip = true
				return nil
			}
			return fmt.Errorf("获取SourceDocument记录失败: %w", err)
		}

		// 幂等性检查：非允许状态说明是重复投递或已处理完成
		if !constants.IsStatusAllowed(doc.ProcessingStatus, constants.AllowedStatusesForIngest) {
			log.Debug().Str("current_status", doc.ProcessingStatus).Msg("跳过重复/无效状态的消息")
			span.SetAttributes(
				attribute.String("skipped_reason", "invalid_status"),
				attribute.String("current_status", doc.ProcessingStatus),
			)
			skip = true
			return nil
		}

		// 案件记录兜底创建，文档永远挂在一个存在的案件下
		if _, err := ds.pipeline.Storage.MySQL.FindOrCreateReportCase(ctx, tx, message.CaseUUID, ""); err != nil {
			return fmt.Errorf("创建案件记录失败: %w", err)
		}

		if err := tx.Model(&doc).Update("processing_status", constants.StatusPendingExtraction).Error; err != nil {
			return fmt.Errorf("更新状态为%s失败: %w", constants.StatusPendingExtraction, err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "摄取前置事务失败")
		return err
	}
	if skip {
		span.SetStatus(codes.Ok, "消息已跳过")
		return nil
	}

	// --- IO在事务外执行：下载、提取、去重 ---
	extractCtx, extractSpan := tracer.Start(ctx, "ExtractAndDeduplicate")
	text, textMD5, err := ds.extractAndDeduplicate(extractCtx, message)
	extractSpan.End()
	if err != nil {
		if errors.Is(err, ErrDuplicateContent) {
			// 内容重复是正常流程：标记状态后确认消息
			if uerr := ds.pipeline.Storage.MySQL.UpdateDocumentProcessingStatus(
				ctx, message.DocumentUUID, constants.StatusContentDuplicateSkipped); uerr != nil {
				log.Error().Err(uerr).Msg("更新重复内容状态失败")
			}
			ds.pipeline.Metrics.Record("ingest", "duplicate_skipped", 1, map[string]string{
				"document_uuid": message.DocumentUUID,
			})
			span.SetStatus(codes.Ok, "重复内容已跳过")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "提取失败")
		if uerr := ds.pipeline.Storage.MySQL.UpdateDocumentProcessingStatus(
			ctx, message.DocumentUUID, constants.StatusExtractionFailed); uerr != nil {
			log.Error().Err(uerr).Msg("更新状态为EXTRACTION_FAILED失败")
		}
		return err
	}

	contentChars := len([]rune(text))
	span.SetAttributes(attribute.Int("content_chars", contentChars))
	if contentChars == 0 {
		// 空文本（扫描件、损坏文件等）不是错误：产出零个分块并正常落终态
		log.Warn().Msg("提取文本为空，文档将以零分块状态摄取")
		ds.pipeline.Metrics.Record("ingest", "empty_document", 1, map[string]string{
			"document_uuid": message.DocumentUUID,
		})
	}

	// 分类（带Redis缓存，键为提取文本MD5）
	clsCtx, clsSpan := tracer.Start(ctx, "ClassifyDocument")
	classification := ds.classifyWithCache(clsCtx, textMD5, text)
	clsSpan.End()
	span.SetAttributes(
		attribute.String("doc_type", string(classification.DocType)),
		attribute.Float64("confidence", classification.Confidence),
	)

	// 策略选择：纯函数，只看字符数和分类置信度
	strategy := ds.strategy.Select(contentChars, classification)
	span.SetAttributes(attribute.String("strategy", string(strategy)))

	// 分块
	chunkCtx, chunkSpan := tracer.Start(ctx, "ChunkDocument")
	chunks, err := ds.pipeline.Chunker.ChunkDocument(chunkCtx, text, strategy)
	chunkSpan.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "分块失败")
		if uerr := ds.pipeline.Storage.MySQL.UpdateDocumentProcessingStatus(
			ctx, message.DocumentUUID, constants.StatusChunkingFailed); uerr != nil {
			log.Error().Err(uerr).Msg("更新状态为CHUNKING_FAILED失败")
		}
		return err
	}
	log.Debug().Int("chunks_count", len(chunks)).Str("strategy", string(strategy)).Msg("分块完成")

	// 提取文本上传到MinIO，供重分块与审计回放
	span.AddEvent("uploading_extracted_text")
	textObjectKey, err := ds.pipeline.Storage.MinIO.UploadExtractedText(ctx, message.DocumentUUID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "上传提取文本失败")
		if uerr := ds.pipeline.Storage.MySQL.UpdateDocumentProcessingStatus(
			ctx, message.DocumentUUID, constants.StatusExtractionFailed); uerr != nil {
			log.Error().Err(uerr).Msg("更新状态为EXTRACTION_FAILED失败")
		}
		return fmt.Errorf("上传提取文本失败: %w", err)
	}

	newGeneration := doc.ChunkGeneration + 1

	// 事务2：分块入库 + outbox投递 + 文档落终态，三者同生共死
	err = ds.pipeline.Storage.MySQL.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(chunks) > 0 {
			chunkRows := make([]models.DocumentChunk, len(chunks))
			for i, c := range chunks {
				chunkRows[i] = models.DocumentChunk{
					DocumentUUID:    message.DocumentUUID,
					CaseUUID:        message.CaseUUID,
					ChunkGeneration: newGeneration,
					ChunkIndex:      c.Index,
					Content:         c.Content,
					CharLen:         c.CharLen,
					ParagraphStart:  c.ParagraphStart,
					EmbeddingStatus: string(types.EmbeddingStatusUnembedded),
				}
			}
			if err := ds.pipeline.Storage.MySQL.SaveDocumentChunks(tx, chunkRows); err != nil {
				return fmt.Errorf("写入分块失败: %w", err)
			}

			// [Outbox] 向量化任务写入outbox表，由relay按优先级投递。
			// 优先级与文档大小成反比，小文档先具备向量检索能力
			embedMsg := storage.ChunkEmbeddingMessage{
				DocumentUUID:    message.DocumentUUID,
				CaseUUID:        message.CaseUUID,
				ChunkGeneration: newGeneration,
				ChunkCount:      len(chunks),
				ContentChars:    contentChars,
				Priority:        EmbeddingPriority(contentChars, ds.config.RabbitMQ.EmbeddingMaxPriority),
				EnqueuedAt:      time.Now().Unix(),
			}
			payloadBytes, err := json.Marshal(embedMsg)
			if err != nil {
				return fmt.Errorf("序列化outbox payload失败: %w", err)
			}
			outboxEntry := models.OutboxMessage{
				AggregateID:      message.DocumentUUID,
				EventType:        "document.chunked",
				Payload:          string(payloadBytes),
				TargetExchange:   ds.config.RabbitMQ.ProcessingEventsExchange,
				TargetRoutingKey: ds.config.RabbitMQ.EmbeddingRoutingKey,
				Priority:         embedMsg.Priority,
			}
			if err := tx.Create(&outboxEntry).Error; err != nil {
				return fmt.Errorf("插入outbox记录失败: %w", err)
			}
		}

		// 摄取完成通知同样走outbox，订阅方看到事件时文档状态必然已落库
		ingestedMsg := storage.DocumentIngestedMessage{
			DocumentUUID: message.DocumentUUID,
			CaseUUID:     message.CaseUUID,
			ChunkCount:   len(chunks),
			ContentChars: contentChars,
			IngestedAt:   time.Now().Unix(),
		}
		ingestedPayload, err := json.Marshal(ingestedMsg)
		if err != nil {
			return fmt.Errorf("序列化摄取完成事件失败: %w", err)
		}
		if err := tx.Create(&models.OutboxMessage{
			AggregateID:      message.DocumentUUID,
			EventType:        "document.ingested",
			Payload:          string(ingestedPayload),
			TargetExchange:   ds.config.RabbitMQ.DocumentEventsExchange,
			TargetRoutingKey: ds.config.RabbitMQ.IngestedRoutingKey,
		}).Error; err != nil {
			return fmt.Errorf("插入摄取完成事件失败: %w", err)
		}

		updates := map[string]interface{}{
			"extracted_text_path_oss": textObjectKey,
			"extracted_text_md5":      textMD5,
			"content_chars":           contentChars,
			"chunk_generation":        newGeneration,
			"processing_status":       constants.StatusIngested,
			"pipeline_version":        ds.config.ActivePipelineVersion,
		}
		if err := ds.pipeline.Storage.MySQL.UpdateSourceDocumentFields(tx, message.DocumentUUID, updates); err != nil {
			return fmt.Errorf("更新文档记录失败: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "摄取落库事务失败")
		if uerr := ds.pipeline.Storage.MySQL.UpdateDocumentProcessingStatus(
			ctx, message.DocumentUUID, constants.StatusChunkingFailed); uerr != nil {
			log.Error().Err(uerr).Msg("更新状态为CHUNKING_FAILED失败")
		}
		return err
	}

	// 分类结果独立落库，失败只降级为告警不回滚摄取
	ds.persistClassification(ctx, message.DocumentUUID, classification, strategy)

	ds.pipeline.Metrics.Record("ingest", "document_ingested", time.Since(startTime).Seconds(), map[string]string{
		"strategy": string(strategy),
		"doc_type": string(classification.DocType),
	})

	span.SetStatus(codes.Ok, "摄取完成")
	log.Info().
		Int("chunks", len(chunks)).
		Int("content_chars", contentChars).
		Str("strategy", string(strategy)).
		Msg("文档摄取完成")
	return nil
}

// extractAndDeduplicate 下载原始文件、提取文本并做案件级内容去重
func (ds *documentServiceImpl) extractAndDeduplicate(ctx context.Context, message storage.DocumentUploadMessage) (string, string, error) {
	log := logger.FromContext(ctx)
	span := trace.SpanFromContext(ctx)

	fileBytes, err := ds.pipeline.Storage.MinIO.GetDocumentFile(ctx, message.RawFilePathOSS)
	if err != nil {
		log.Error().Err(err).Str("path", message.RawFilePathOSS).Msg("从MinIO下载原始文档失败")
		span.SetAttributes(attribute.String("error.type", "download_failure"))
		return "", "", fmt.Errorf("下载原始文档失败: %w", err)
	}
	log.Debug().Int("size_bytes", len(fileBytes)).Msg("从MinIO下载原始文档成功")
	span.SetAttributes(attribute.Int("file_size_bytes", len(fileBytes)))

	text, _, err := ds.pipeline.Extractor.ExtractTextFromReader(ctx, bytes.NewReader(fileBytes), message.RawFilePathOSS, nil)
	if err != nil {
		log.Error().Err(err).Msg("提取文档文本失败")
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", "extract_failure"))
		return "", "", fmt.Errorf("提取文本失败: %w", err)
	}
	span.AddEvent("text_extraction_completed")
	span.SetAttributes(attribute.Int("text_length", len(text)))

	textMD5 := utils.CalculateMD5([]byte(text))
	log.Debug().Str("md5", textMD5).Msg("计算得到提取文本MD5")

	// Redis原子地检查并登记MD5；Redis不可用时跳过去重，保证摄取可以继续
	if ds.pipeline.Storage.Redis != nil {
		exists, err := ds.pipeline.Storage.Redis.CheckAndAddExtractedTextMD5(ctx, textMD5)
		if err != nil {
			log.Warn().Err(err).Msg("Redis检查文本MD5失败，跳过去重继续处理")
		} else if exists {
			log.Info().Str("md5", textMD5).Msg("检测到重复的提取文本")
			span.SetAttributes(
				attribute.Bool("duplicate_content", true),
				attribute.String("md5", textMD5),
			)
			return "", "", ErrDuplicateContent
		}
	}

	return text, textMD5, nil
}

// classifyWithCache 带Redis缓存的文档分类。
// 分类失败不阻断摄取：降级为unknown，由策略选择自行处理
func (ds *documentServiceImpl) classifyWithCache(ctx context.Context, textMD5, text string) *types.Classification {
	log := logger.FromContext(ctx)

	if redis := ds.pipeline.Storage.Redis; redis != nil {
		if cached, err := redis.GetCachedClassification(ctx, textMD5); err == nil && cached != nil {
			log.Debug().Str("doc_type", string(cached.DocType)).Msg("分类结果缓存命中")
			return cached
		}
	}

	cls, err := ds.pipeline.Classifier.ClassifyDocument(ctx, text)
	if err != nil || cls == nil {
		log.Warn().Err(err).Msg("文档分类失败，按unknown处理")
		ds.pipeline.Metrics.Record("classifier", CategoryClassificationUncertain, 1, nil)
		return &types.Classification{DocType: types.DocTypeUnknown, Confidence: 0}
	}

	if cls.DocType == types.DocTypeUnknown {
		ds.pipeline.Metrics.Record("classifier", CategoryClassificationUncertain, 1, nil)
	} else {
		ds.pipeline.Metrics.Record("classifier", "classified", cls.Confidence, map[string]string{
			"doc_type": string(cls.DocType),
		})
	}

	if redis := ds.pipeline.Storage.Redis; redis != nil {
		if err := redis.SetCachedClassification(ctx, textMD5, cls); err != nil {
			log.Warn().Err(err).Msg("写入分类缓存失败")
		}
	}
	return cls
}

// persistClassification 分类结果落库，与文档一对一upsert
func (ds *documentServiceImpl) persistClassification(ctx context.Context, documentUUID string, cls *types.Classification, strategy types.Strategy) {
	log := logger.FromContext(ctx)

	record := &models.DocumentClassification{
		DocumentUUID:      documentUUID,
		DocType:           string(cls.DocType),
		Confidence:        cls.Confidence,
		Strategy:          string(strategy),
		ClassifierVersion: ds.config.ActivePipelineVersion,
	}
	if len(cls.Scores) > 0 {
		if scoresJSON, err := json.Marshal(cls.Scores); err == nil {
			record.SignalScoresJSON = scoresJSON
		}
	}
	if err := ds.pipeline.Storage.MySQL.UpsertDocumentClassification(ctx, record); err != nil {
		log.Warn().Err(err).Msg("分类结果落库失败")
	}
}

// ProcessChunkEmbedding 实现DocumentService接口
func (ds *documentServiceImpl) ProcessChunkEmbedding(ctx context.Context, message storage.ChunkEmbeddingMessage) error {
	ctx, span := tracer.Start(ctx, "ProcessChunkEmbedding",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("document_uuid", message.DocumentUUID),
		attribute.Int("chunk_generation", message.ChunkGeneration),
		attribute.Int("priority", int(message.Priority)),
		attribute.Bool("requeue", message.Requeue),
	)

	ctx, log := logger.WithDocumentUUID(ctx, message.DocumentUUID)
	log.Debug().Int("chunk_count", message.ChunkCount).Msg("开始处理分块向量化任务")

	if ds.pipeline.Storage == nil || ds.pipeline.Storage.MySQL == nil {
		span.RecordError(ErrStorageNotInit)
		span.SetStatus(codes.Error, "存储未初始化")
		return ErrStorageNotInit
	}
	if ds.pipeline.Embedder == nil {
		span.RecordError(ErrEmbedderNotInit)
		span.SetStatus(codes.Error, "嵌入器未初始化")
		return ErrEmbedderNotInit
	}
	if ds.pipeline.Storage.Qdrant == nil {
		// 无向量库时分块保持unembedded，检索自动退化为纯词法，不算失败
		log.Warn().Msg("Qdrant未初始化，跳过向量化，分块仅参与词法检索")
		span.SetStatus(codes.Ok, "无向量库，跳过")
		return nil
	}

	batchSize := ds.config.Pipeline.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	requestTimeout := config.GetDuration(ds.config.Pipeline.Embedding.RequestTimeout, 30*time.Second)

	totalEmbedded := 0
	for {
		// SKIP LOCKED认领一批，多worker可并行消费同一文档
		claimed, err := ds.pipeline.Storage.MySQL.ClaimChunksForEmbedding(
			ctx, message.DocumentUUID, message.ChunkGeneration, batchSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "认领分块失败")
			return fmt.Errorf("认领待向量化分块失败: %w", err)
		}
		if len(claimed) == 0 {
			break
		}

		if err := ds.embedAndStoreBatch(ctx, message.DocumentUUID, claimed, requestTimeout); err != nil {
			// 失败批次退回unembedded，消息重投后从断点继续
			if relErr := ds.pipeline.Storage.MySQL.ReleaseChunksToUnembedded(ctx, chunkDBIDs(claimed)); relErr != nil {
				log.Error().Err(relErr).Msg("退回分块状态失败，等待修复任务重置")
			}
			tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
			return err
		}
		totalEmbedded += len(claimed)
	}

	// 该代次分块全部embedded后，文档整体进入EMBEDDED状态
	pending, err := ds.pipeline.Storage.MySQL.CountPendingEmbedding(ctx, message.DocumentUUID, message.ChunkGeneration)
	if err != nil {
		log.Warn().Err(err).Msg("统计剩余未向量化分块失败")
	} else if pending == 0 {
		if uerr := ds.pipeline.Storage.MySQL.UpdateDocumentProcessingStatus(
			ctx, message.DocumentUUID, constants.StatusEmbedded); uerr != nil {
			log.Warn().Err(uerr).Msg("更新文档状态为EMBEDDED失败")
		} else {
			log.Info().Int("embedded_total", totalEmbedded).Msg("文档全部分块向量化完成")
		}
	}

	ds.pipeline.Metrics.Record("embedding", "chunks_embedded", float64(totalEmbedded), map[string]string{
		"document_uuid": message.DocumentUUID,
	})
	span.SetAttributes(attribute.Int("chunks_embedded", totalEmbedded))
	span.SetStatus(codes.Ok, "")
	return nil
}

// embedAndStoreBatch 对一批已认领的分块执行嵌入、向量库写入与状态回填
func (ds *documentServiceImpl) embedAndStoreBatch(ctx context.Context, documentUUID string, claimed []models.DocumentChunk, timeout time.Duration) error {
	contents := make([]string, len(claimed))
	for i, c := range claimed {
		contents[i] = c.Content
	}

	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ectx, embedSpan := tracer.Start(ectx, "EmbedChunkBatch",
		trace.WithAttributes(attribute.Int("batch_size", len(claimed))))
	embeddings, err := ds.pipeline.Embedder.EmbedStrings(ectx, contents)
	embedSpan.End()
	if err != nil {
		return fmt.Errorf("批量向量化失败: %w", err)
	}
	if len(embeddings) != len(claimed) {
		return fmt.Errorf("向量数量不匹配: 期望%d个，得到%d个", len(claimed), len(embeddings))
	}

	pointIDs, err := ds.pipeline.Storage.Qdrant.StoreChunkVectors(ctx, documentUUID, claimed, embeddings)
	if err != nil {
		return NewExternalStoreError("qdrant_store", err.Error())
	}

	if err := ds.pipeline.Storage.MySQL.MarkChunksEmbedded(ctx, chunkDBIDs(claimed), pointIDs); err != nil {
		return fmt.Errorf("回填向量point ID失败: %w", err)
	}
	return nil
}

func chunkDBIDs(chunks []models.DocumentChunk) []uint64 {
	ids := make([]uint64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkDBID
	}
	return ids
}

// EmbeddingPriority 计算向量化消息的AMQP优先级，与文档大小成反比。
// 小文档先完成向量化，让材料少的案件尽快具备完整检索能力
func EmbeddingPriority(contentChars int, maxPriority int) uint8 {
	if maxPriority <= 0 {
		maxPriority = 10
	}
	p := (maxPriority - 1) - contentChars/10000
	if p < 1 {
		p = 1
	}
	if p > maxPriority-1 {
		p = maxPriority - 1
	}
	return uint8(p)
}
