package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/storage/models"

	"github.com/rs/zerolog"
)

// EventStore 指标事件的持久化端，由MySQL适配器实现
type EventStore interface {
	BatchInsertMetricEvents(ctx context.Context, events []models.MetricEvent) error
}

// Collector 异步指标收集器。
// Record在热路径上被各组件调用，必须无阻塞：事件进有界缓冲，
// 后台协程按固定间隔批量落库。缓冲满时直接丢弃并计数，
// 指标采集永远不能反压业务流程。
type Collector struct {
	store         EventStore
	buf           chan models.MetricEvent
	flushInterval time.Duration
	logger        *zerolog.Logger

	dropped atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// 单次落库的最大事件数，超过则拆批
const flushBatchLimit = 128

// NewCollector 从配置构建指标收集器，Start之前Record的事件会暂存在缓冲里
func NewCollector(store EventStore, cfg config.MetricsConfig, zlog *zerolog.Logger) *Collector {
	if zlog == nil {
		nop := zerolog.Nop()
		zlog = &nop
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	flushInterval := time.Duration(cfg.FlushIntervalSeconds) * time.Second
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &Collector{
		store:         store,
		buf:           make(chan models.MetricEvent, bufferSize),
		flushInterval: flushInterval,
		logger:        zlog,
		done:          make(chan struct{}),
	}
}

// Record 实现processor.MetricSink接口。
// 时间戳在此处写定，落库延迟不影响窗口归属。
func (c *Collector) Record(component, metricType string, value float64, metadata map[string]string) {
	event := models.MetricEvent{
		Component:  component,
		MetricType: metricType,
		Value:      value,
		CreatedAt:  time.Now(),
	}
	if len(metadata) > 0 {
		if metaJSON, err := models.StringMapToJSON(metadata); err == nil {
			event.MetadataJSON = metaJSON
		}
	}

	select {
	case c.buf <- event:
	default:
		// 缓冲满：丢弃，只计数不打日志，避免丢弃风暴刷屏
		c.dropped.Add(1)
	}
}

// Dropped 返回因缓冲满被丢弃的事件总数
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Start 启动后台落库协程，重复调用无效果
func (c *Collector) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.flushLoop()
	})
}

// Stop 停止收集器并把缓冲里剩余的事件落库。
// Stop之后Record仍然安全，事件只是不再被落库。
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	batch := make([]models.MetricEvent, 0, flushBatchLimit)
	for {
		select {
		case ev := <-c.buf:
			batch = append(batch, ev)
			if len(batch) >= flushBatchLimit {
				c.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				c.flush(batch)
				batch = batch[:0]
			}
			if n := c.dropped.Swap(0); n > 0 {
				c.logger.Warn().Int64("dropped", n).Msg("指标缓冲溢出，部分事件被丢弃")
			}
		case <-c.done:
			// 收尾：排空缓冲后做最后一次落库
			for {
				select {
				case ev := <-c.buf:
					batch = append(batch, ev)
					if len(batch) >= flushBatchLimit {
						c.flush(batch)
						batch = batch[:0]
					}
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				c.flush(batch)
			}
			return
		}
	}
}

// flush 批量落库，失败只告警：指标是尽力而为的旁路数据
func (c *Collector) flush(batch []models.MetricEvent) {
	if c.store == nil || len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.BatchInsertMetricEvents(ctx, batch); err != nil {
		c.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("指标事件落库失败，本批事件丢弃")
	}
}
