package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType 按依赖方向对错误分类，span过滤与告警聚合用同一套词汇
type ErrorType string

const (
	ErrorTypeHTTP     ErrorType = "http"
	ErrorTypeDB       ErrorType = "db"
	ErrorTypeRedis    ErrorType = "redis"
	ErrorTypeRabbitMQ ErrorType = "rabbitmq"
	ErrorTypeVectorDB ErrorType = "vector_db"
	ErrorTypeTimeout  ErrorType = "timeout"
	// ErrorTypeGeneration 生成服务错误（含策略拦截）
	ErrorTypeGeneration ErrorType = "generation"
	// ErrorTypeEmbedding 向量化服务错误
	ErrorTypeEmbedding ErrorType = "embedding"
)

// RecordError 在span上记录错误并标注统一的错误类型
func RecordError(span trace.Span, err error, errorType ErrorType) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", err.Error()),
	)
	span.SetStatus(codes.Error, err.Error())
}

// RecordErrorWithInfo 记录错误并附加额外的定位属性
func RecordErrorWithInfo(span trace.Span, err error, errorType ErrorType, attributes ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", err.Error()),
	)
	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}
	span.SetStatus(codes.Error, err.Error())
}

// RecordHTTPError 记录HTTP错误并按状态码分类
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(ErrorTypeHTTP)),
		attribute.String("error.message", err.Error()),
		attribute.Int("http.status_code", statusCode),
	)

	var errorCategory string
	switch {
	case statusCode >= 400 && statusCode < 500:
		errorCategory = "client_error"
	case statusCode >= 500:
		errorCategory = "server_error"
	default:
		errorCategory = "unknown"
	}
	span.SetAttributes(attribute.String("error.category", errorCategory))
	span.SetStatus(codes.Error, err.Error())
}
