package outbox

import (
	"context"
	"time"

	"ai-report-go/internal/storage"
	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	maxRetryCount          = 5
)

// MessageRelay 轮询outbox表并把事件投递到RabbitMQ。
// 业务事务只写outbox行，投递由relay异步完成，数据库状态与
// 消息发布最终一致。多实例部署时靠SKIP LOCKED互不干扰
type MessageRelay struct {
	db              *gorm.DB
	publisher       *storage.RabbitMQ
	logger          *zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	done            chan struct{}
	tracer          trace.Tracer
}

func NewMessageRelay(db *gorm.DB, publisher *storage.RabbitMQ, zlog *zerolog.Logger) *MessageRelay {
	if zlog == nil {
		nop := zerolog.Nop()
		zlog = &nop
	}
	return &MessageRelay{
		db:              db,
		publisher:       publisher,
		logger:          zlog,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		done:            make(chan struct{}),
		tracer:          otel.Tracer("outbox-relay"),
	}
}

// Start 启动后台轮询
func (r *MessageRelay) Start() {
	r.logger.Info().
		Dur("interval", r.pollingInterval).
		Int("batch_size", r.batchSize).
		Msg("outbox relay启动")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		for {
			select {
			case <-r.done:
				ticker.Stop()
				r.logger.Info().Msg("outbox relay已停止")
				return
			case <-ticker.C:
				if err := r.processPendingMessages(context.Background()); err != nil {
					r.logger.Error().Err(err).Msg("处理outbox待投递消息失败")
				}
			}
		}
	}()
}

// Stop 通知后台轮询退出
func (r *MessageRelay) Stop() {
	close(r.done)
}

// processPendingMessages 取一批PENDING消息发布并更新状态。
// 取数和状态更新在同一事务内，发布成功标记SENT，失败累计
// 重试次数，超过上限进FAILED终态等待人工排查
func (r *MessageRelay) processPendingMessages(ctx context.Context) error {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	// SKIP LOCKED跳过其他实例正在处理的行
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return err
	}

	// 空轮询不产生span
	if len(messages) == 0 {
		return tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(
			attribute.Int("messaging.batch.message_count", len(messages)),
		),
	)
	defer span.End()

	for _, msg := range messages {
		// 向量化任务带AMQP优先级，其余事件普通投递
		var pubErr error
		if msg.Priority > 0 {
			pubErr = r.publisher.PublishMessageWithPriority(
				ctx, msg.TargetExchange, msg.TargetRoutingKey,
				[]byte(msg.Payload), true, msg.Priority,
			)
		} else {
			pubErr = r.publisher.PublishMessage(
				ctx, msg.TargetExchange, msg.TargetRoutingKey,
				[]byte(msg.Payload), true,
			)
		}

		if pubErr != nil {
			tracing.RecordErrorWithInfo(span, pubErr, tracing.ErrorTypeRabbitMQ,
				attribute.String("messaging.destination", msg.TargetExchange),
				attribute.String("event.type", msg.EventType),
			)
			r.logger.Warn().
				Err(pubErr).
				Uint64("outbox_id", msg.ID).
				Str("aggregate_id", msg.AggregateID).
				Str("event_type", msg.EventType).
				Int("retry_count", msg.RetryCount+1).
				Msg("发布outbox消息失败")
			msg.RetryCount++
			msg.ErrorMessage = pubErr.Error()
			if msg.RetryCount >= maxRetryCount {
				msg.Status = models.OutboxStatusFailed
			}
		} else {
			msg.Status = models.OutboxStatusSent
			now := time.Now()
			msg.ProcessedAt = &now
			msg.ErrorMessage = ""
		}

		if err := tx.Save(&msg).Error; err != nil {
			// 更新失败整批回滚，下次轮询重新拾取
			return err
		}
	}

	return tx.Commit().Error
}
