package logger

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger 全局日志实例，进程启动时由main替换为带输出配置的实例。
// 业务代码优先使用FromContext，拿不到上下文的地方才直接用这里的包级函数
var Logger = log.Logger

// Debug 开始一条调试级别的日志事件
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info 开始一条信息级别的日志事件
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn 开始一条警告级别的日志事件
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error 开始一条错误级别的日志事件
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal 开始一条致命错误级别的日志事件，记录后程序退出
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// FromContext 从上下文中取日志记录器，取不到时回落到全局实例。
// 返回值永远可用，调用方无需判空
func FromContext(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &Logger
	}
	return l
}

// WithDocumentUUID 返回一个携带document_uuid字段的logger并写入上下文，
// 摄取与向量化流水线用它把同一文档的所有日志串联起来
func WithDocumentUUID(ctx context.Context, documentUUID string) (context.Context, *zerolog.Logger) {
	l := FromContext(ctx).With().Str("document_uuid", documentUUID).Logger()
	return l.WithContext(ctx), &l
}

// WithSection 返回一个携带case_uuid与section_id字段的logger并写入上下文，
// 章节生成路径用它标记一次生成任务
func WithSection(ctx context.Context, caseUUID, sectionID string) (context.Context, *zerolog.Logger) {
	l := FromContext(ctx).With().
		Str("case_uuid", caseUUID).
		Str("section_id", sectionID).
		Logger()
	return l.WithContext(ctx), &l
}
