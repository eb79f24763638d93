package main

import (
	"ai-report-go/internal/config"
	"ai-report-go/internal/processor"
	"ai-report-go/internal/storage"
	"ai-report-go/internal/storage/models"
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// 向量化兜底修复工具：
// 1. 把停留在embedding中间态超时的分块重置回unembedded（worker崩溃遗留）
// 2. 扫描当前代次仍有未向量化分块的文档，按优先级重新投递向量化消息
func main() {
	var (
		configPath   string
		staleMinutes int
		scanLimit    int
		dryRun       bool
	)
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.IntVar(&staleMinutes, "stale-minutes", 30, "embedding中间态超过该分钟数视为滞留")
	pflag.IntVar(&scanLimit, "limit", 100, "单次扫描的文档数上限")
	pflag.BoolVar(&dryRun, "dry-run", false, "只扫描不投递")
	pflag.Parse()

	// 设置日志输出
	logFile, err := os.Create("embedding_backfill.log")
	if err != nil {
		log.Fatalf("创建日志文件失败: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if !dryRun {
		log.SetOutput(logFile)
	}

	ctx := context.Background()

	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化存储
	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()

	// 1. 重置滞留的分块状态
	reset, err := storageManager.MySQL.ResetStaleEmbeddingChunks(ctx, time.Duration(staleMinutes)*time.Minute)
	if err != nil {
		log.Fatalf("重置滞留分块失败: %v", err)
	}
	log.Printf("重置了 %d 个滞留在embedding状态的分块", reset)

	// 2. 扫描仍有未向量化分块的文档
	docs, err := storageManager.MySQL.FindDocumentsWithPendingEmbedding(ctx, scanLimit)
	if err != nil {
		log.Fatalf("扫描待向量化文档失败: %v", err)
	}
	log.Printf("总共找到 %d 个文档需要重新投递", len(docs))
	if len(docs) == 0 {
		return
	}

	if dryRun {
		for _, doc := range docs {
			log.Printf("[dry-run] 文档 %s (案件 %s, 代次 %d, %d 字符) 待重新投递",
				doc.DocumentUUID, doc.CaseUUID, doc.ChunkGeneration, doc.ContentChars)
		}
		return
	}

	// 直接投递不走outbox：文档与分块状态早已落库，消息本身可重复消费
	if err := storageManager.RabbitMQ.EnsureExchange(cfg.RabbitMQ.ProcessingEventsExchange, "direct", true); err != nil {
		log.Fatalf("确保交换机存在失败: %v", err)
	}
	if err := storageManager.RabbitMQ.EnsurePriorityQueue(cfg.RabbitMQ.EmbeddingQueue, true, cfg.RabbitMQ.EmbeddingMaxPriority); err != nil {
		log.Fatalf("确保优先级队列存在失败: %v", err)
	}
	if err := storageManager.RabbitMQ.BindQueue(cfg.RabbitMQ.EmbeddingQueue, cfg.RabbitMQ.ProcessingEventsExchange, cfg.RabbitMQ.EmbeddingRoutingKey); err != nil {
		log.Fatalf("绑定队列失败: %v", err)
	}

	requeued := 0
	for _, doc := range docs {
		if err := requeueDocument(ctx, storageManager, cfg, doc); err != nil {
			log.Printf("重新投递文档 %s 失败: %v", doc.DocumentUUID, err)
			continue
		}
		requeued++
		log.Printf("✅ 文档 %s 已重新投递 (代次 %d)", doc.DocumentUUID, doc.ChunkGeneration)
	}
	log.Printf("处理完成: %d/%d 个文档已重新投递", requeued, len(docs))
}

// 按文档粒度重建向量化消息并投递，优先级与摄取时的计算规则一致
func requeueDocument(ctx context.Context, storageManager *storage.Storage, cfg *config.Config, doc models.SourceDocument) error {
	var chunkCount int64
	if err := storageManager.MySQL.DB().WithContext(ctx).Model(&models.DocumentChunk{}).
		Where("document_uuid = ? AND chunk_generation = ?", doc.DocumentUUID, doc.ChunkGeneration).
		Count(&chunkCount).Error; err != nil {
		return err
	}

	pending, err := storageManager.MySQL.CountPendingEmbedding(ctx, doc.DocumentUUID, doc.ChunkGeneration)
	if err != nil {
		return err
	}
	log.Printf("文档 %s: %d/%d 个分块待向量化", doc.DocumentUUID, pending, chunkCount)

	msg := storage.ChunkEmbeddingMessage{
		DocumentUUID:    doc.DocumentUUID,
		CaseUUID:        doc.CaseUUID,
		ChunkGeneration: doc.ChunkGeneration,
		ChunkCount:      int(chunkCount),
		ContentChars:    doc.ContentChars,
		Priority:        processor.EmbeddingPriority(doc.ContentChars, cfg.RabbitMQ.EmbeddingMaxPriority),
		EnqueuedAt:      time.Now().Unix(),
		Requeue:         true,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return storageManager.RabbitMQ.PublishMessageWithPriority(ctx,
		cfg.RabbitMQ.ProcessingEventsExchange, cfg.RabbitMQ.EmbeddingRoutingKey,
		payload, true, msg.Priority)
}
