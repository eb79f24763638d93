package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"
)

// EmbedderClient 被代理的嵌入客户端需要满足的最小接口
type EmbedderClient interface {
	EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error)
	GetDimensions() int
	ModelVersion() string
}

// RateLimitedEmbedder 对嵌入服务调用限流的代理。
// 批量向量化容易在短时间内打满服务端QPM配额，这里和生成模型
// 共用同一套令牌桶与可重试错误退避逻辑
type RateLimitedEmbedder struct {
	original    EmbedderClient
	rateLimiter *TokenBucket
}

// NewRateLimitedEmbedder 创建限流嵌入代理
func NewRateLimitedEmbedder(original EmbedderClient, qpm int) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{
		original:    original,
		rateLimiter: NewTokenBucket(qpm, qpm/2),
	}
}

// WithRetryPolicy 设置重试策略
func (re *RateLimitedEmbedder) WithRetryPolicy(waitTime time.Duration, maxRetries int) *RateLimitedEmbedder {
	re.rateLimiter.WithRetryPolicy(waitTime, maxRetries)
	return re
}

// EmbedStrings 代理EmbedStrings，增加限流和重试逻辑
func (re *RateLimitedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	var vectors [][]float64
	var err error

	err = re.rateLimiter.RetryWithBackoff(ctx, func() error {
		var embedErr error
		vectors, embedErr = re.original.EmbedStrings(ctx, texts, opts...)
		return embedErr
	})

	return vectors, err
}

// GetDimensions 透传向量维度
func (re *RateLimitedEmbedder) GetDimensions() int {
	return re.original.GetDimensions()
}

// ModelVersion 透传模型版本标识
func (re *RateLimitedEmbedder) ModelVersion() string {
	return re.original.ModelVersion()
}

// NewEmbedderWithRateLimit 从QPM配置创建带限流的嵌入客户端。
// 取值逻辑与NewLLMWithRateLimit一致：模型专属配置优先，留10%余量
func NewEmbedderWithRateLimit(original EmbedderClient, modelName string, cfg map[string]int, customQPM int, maxRetries int, retryWaitTime time.Duration) *RateLimitedEmbedder {
	qpm := customQPM
	if cfg != nil && modelName != "" {
		if modelQPM, ok := cfg[modelName]; ok && modelQPM > 0 {
			qpm = int(float64(modelQPM) * 0.9)
		}
	}
	if qpm <= 0 {
		qpm = 60
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	limited := NewRateLimitedEmbedder(original, qpm)
	limited.WithRetryPolicy(retryWaitTime, maxRetries)
	return limited
}
