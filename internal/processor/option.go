package processor

import (
	"log"
	"time"

	"ai-report-go/internal/storage"
)

// ComponentOpt 组件选项类型，仅改变 Components 结构体内的字段
type ComponentOpt func(*Components)

// SettingOpt 设置选项类型，仅改变 Settings 结构体内的字段
type SettingOpt func(*Settings)

// ----- 组件选项 -----

// WithcompExtractor 设置文本提取器组件
func WithcompExtractor(extractor TextExtractor) ComponentOpt {
	return func(c *Components) {
		c.Extractor = extractor
	}
}

// WithcompChunker 设置文档分块器组件
func WithcompChunker(chunker DocumentChunker) ComponentOpt {
	return func(c *Components) {
		c.Chunker = chunker
	}
}

// WithcompClassifier 设置文档分类器组件
func WithcompClassifier(classifier DocumentClassifier) ComponentOpt {
	return func(c *Components) {
		c.Classifier = classifier
	}
}

// WithcompEmbedder 设置文本嵌入器组件
func WithcompEmbedder(embedder TextEmbedder) ComponentOpt {
	return func(c *Components) {
		c.Embedder = embedder
	}
}

// WithcompGenerator 设置章节生成模型组件
func WithcompGenerator(generator ChatGenerator) ComponentOpt {
	return func(c *Components) {
		c.Generator = generator
	}
}

// WithcompStorage 设置存储组件
func WithcompStorage(storage *storage.Storage) ComponentOpt {
	return func(c *Components) {
		c.Storage = storage
	}
}

// WithcompMetricSink 设置指标收集器组件
func WithcompMetricSink(sink MetricSink) ComponentOpt {
	return func(c *Components) {
		c.Metrics = sink
	}
}

// ----- 设置选项 -----

// WithsetDebug 设置调试模式
func WithsetDebug(debug bool) SettingOpt {
	return func(s *Settings) {
		s.Debug = debug
	}
}

// WithsetLogger 设置日志记录器
func WithsetLogger(logger *log.Logger) SettingOpt {
	return func(s *Settings) {
		if logger != nil {
			s.Logger = logger
		} else {
			// 提供一个 discard logger 以防万一
			s.Logger = log.New(log.Writer(), "[NilLoggerFallback] ", log.LstdFlags)
		}
	}
}

// WithsetDefaultdimensions 设置默认向量维度
func WithsetDefaultdimensions(dimensions int) SettingOpt {
	return func(s *Settings) {
		s.DefaultDimensions = dimensions
	}
}

// WithsetTimelocation 设置时区
func WithsetTimelocation(loc *time.Location) SettingOpt {
	return func(s *Settings) {
		if loc != nil {
			s.TimeLocation = loc
		} else {
			s.TimeLocation = time.Local
		}
	}
}
