package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"ai-report-go/internal/config"
	"ai-report-go/internal/storage"

	"github.com/rs/zerolog"
)

// Consumers 管理两条消费链路的队列拓扑声明与启动：
// 摄取队列消费上传事件，向量化优先级队列消费分块嵌入任务。
// 同一队列可启动多个消费者，彼此竞争消费；摄取侧靠文档状态
// 行锁保证幂等，向量化侧靠SKIP LOCKED认领分块，重复投递无害
type Consumers struct {
	service DocumentService
	storage *storage.Storage
	cfg     *config.Config
	logger  *zerolog.Logger
}

func NewConsumers(service DocumentService, st *storage.Storage, cfg *config.Config, zlog *zerolog.Logger) *Consumers {
	if zlog == nil {
		nop := zerolog.Nop()
		zlog = &nop
	}
	return &Consumers{
		service: service,
		storage: st,
		cfg:     cfg,
		logger:  zlog,
	}
}

// StartIngestConsumers 声明上传事件拓扑并启动workers个摄取消费者
func (c *Consumers) StartIngestConsumers(ctx context.Context, workers int) error {
	if c.storage == nil || c.storage.RabbitMQ == nil {
		return ErrStorageNotInit
	}
	if workers <= 0 {
		workers = 1
	}

	mq := c.cfg.RabbitMQ
	c.logger.Info().
		Str("exchange", mq.DocumentEventsExchange).
		Str("routing_key", mq.UploadedRoutingKey).
		Msg("初始化文档事件拓扑")

	if err := c.storage.RabbitMQ.EnsureExchange(mq.DocumentEventsExchange, "direct", true); err != nil {
		return fmt.Errorf("确保文档事件交换机存在失败: %w", err)
	}
	if err := c.storage.RabbitMQ.EnsureQueue(mq.RawDocumentQueue, true, nil); err != nil {
		return fmt.Errorf("确保摄取队列存在失败: %w", err)
	}
	if err := c.storage.RabbitMQ.BindQueue(mq.RawDocumentQueue, mq.DocumentEventsExchange, mq.UploadedRoutingKey); err != nil {
		return fmt.Errorf("绑定摄取队列失败: %w", err)
	}

	prefetch := mq.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	for i := 0; i < workers; i++ {
		_, err := c.storage.RabbitMQ.StartConsumer(mq.RawDocumentQueue, prefetch, func(data []byte) bool {
			var message storage.DocumentUploadMessage
			if err := json.Unmarshal(data, &message); err != nil {
				// 无法解析的消息重投也不会成功，确认后丢弃
				c.logger.Error().Err(err).Msg("解析上传消息失败，丢弃")
				return true
			}

			if err := c.service.ProcessUploadedDocument(ctx, message); err != nil {
				c.logger.Error().
					Err(err).
					Str("document_uuid", message.DocumentUUID).
					Msg("摄取文档失败")
				return false
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("启动摄取消费者失败: %w", err)
		}
	}

	c.logger.Info().
		Str("queue", mq.RawDocumentQueue).
		Int("workers", workers).
		Int("prefetch", prefetch).
		Msg("摄取消费者就绪")
	return nil
}

// StartEmbeddingConsumers 声明向量化优先级队列拓扑并启动workers个消费者。
// 队列带 x-max-priority，小文档的任务优先出队
func (c *Consumers) StartEmbeddingConsumers(ctx context.Context, workers int) error {
	if c.storage == nil || c.storage.RabbitMQ == nil {
		return ErrStorageNotInit
	}
	if workers <= 0 {
		workers = 1
	}

	mq := c.cfg.RabbitMQ
	if err := c.storage.RabbitMQ.EnsureExchange(mq.ProcessingEventsExchange, "direct", true); err != nil {
		return fmt.Errorf("确保处理事件交换机存在失败: %w", err)
	}
	if err := c.storage.RabbitMQ.EnsurePriorityQueue(mq.EmbeddingQueue, true, mq.EmbeddingMaxPriority); err != nil {
		return fmt.Errorf("确保向量化队列存在失败: %w", err)
	}
	if err := c.storage.RabbitMQ.BindQueue(mq.EmbeddingQueue, mq.ProcessingEventsExchange, mq.EmbeddingRoutingKey); err != nil {
		return fmt.Errorf("绑定向量化队列失败: %w", err)
	}

	prefetch := mq.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	for i := 0; i < workers; i++ {
		_, err := c.storage.RabbitMQ.StartConsumer(mq.EmbeddingQueue, prefetch, func(data []byte) bool {
			var message storage.ChunkEmbeddingMessage
			if err := json.Unmarshal(data, &message); err != nil {
				c.logger.Error().Err(err).Msg("解析向量化消息失败，丢弃")
				return true
			}

			if err := c.service.ProcessChunkEmbedding(ctx, message); err != nil {
				c.logger.Error().
					Err(err).
					Str("document_uuid", message.DocumentUUID).
					Int("chunk_generation", message.ChunkGeneration).
					Msg("分块向量化失败")
				return false
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("启动向量化消费者失败: %w", err)
		}
	}

	c.logger.Info().
		Str("queue", mq.EmbeddingQueue).
		Int("workers", workers).
		Int("max_priority", mq.EmbeddingMaxPriority).
		Msg("向量化消费者就绪")
	return nil
}
