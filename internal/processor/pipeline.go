package processor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"ai-report-go/internal/agent"
	"ai-report-go/internal/config"
	"ai-report-go/internal/parser"
	"ai-report-go/internal/storage"
	"ai-report-go/pkg/ratelimit"
)

// Components 聚合所有功能组件依赖，便于集中管理和测试替换
type Components struct {
	// 核心组件接口
	Extractor  TextExtractor      // 文档文本提取接口
	Chunker    DocumentChunker    // 文档分块接口
	Classifier DocumentClassifier // 文档分类接口
	Embedder   TextEmbedder       // 文本嵌入接口
	Generator  ChatGenerator      // 章节生成接口

	// 存储层依赖
	Storage *storage.Storage // 聚合的存储服务

	// 指标收集
	Metrics MetricSink // 指标事件接收端
}

// Settings 纯配置项，不包含任何业务逻辑组件
type Settings struct {
	DefaultDimensions int            // 默认向量维度
	Debug             bool           // 是否开启调试模式
	Logger            *log.Logger    // 日志记录器
	TimeLocation      *time.Location // 时区设置
}

// DocumentPipeline 文档处理组件聚合类
// 不控制处理流程，仅提供组件集合，流程编排在服务层
type DocumentPipeline struct {
	// 核心组件接口
	Extractor  TextExtractor      // 文档文本提取接口
	Chunker    DocumentChunker    // 文档分块接口
	Classifier DocumentClassifier // 文档分类接口
	Embedder   TextEmbedder       // 文本嵌入接口
	Generator  ChatGenerator      // 章节生成接口

	// 存储层依赖
	Storage *storage.Storage // 存储服务

	// 指标收集
	Metrics MetricSink // 指标事件接收端

	// 配置
	Config Settings // 组件配置
}

// NewDocumentPipeline 创建新的文档处理流水线，使用明确分离的组件和设置
func NewDocumentPipeline(comp *Components, set *Settings, opts ...SettingOpt) *DocumentPipeline {
	// 应用额外的设置选项
	for _, opt := range opts {
		opt(set)
	}

	// 确保必要的默认值
	if set.Logger == nil {
		set.Logger = log.New(os.Stdout, "[Pipeline] ", log.LstdFlags)
	}

	if set.TimeLocation == nil {
		set.TimeLocation = time.Local
	}

	pipeline := &DocumentPipeline{
		Extractor:  comp.Extractor,
		Chunker:    comp.Chunker,
		Classifier: comp.Classifier,
		Embedder:   comp.Embedder,
		Generator:  comp.Generator,
		Storage:    comp.Storage,
		Metrics:    comp.Metrics,
		Config:     *set,
	}

	if pipeline.Metrics == nil {
		pipeline.Metrics = noopMetricSink{}
	}

	// 验证关键组件
	if pipeline.Storage == nil {
		pipeline.Config.Logger.Println("警告: DocumentPipeline 的 Storage 依赖未初始化。某些功能可能受限。")
	}

	return pipeline
}

// CreatePipeline 便捷工厂函数，用于创建组件和设置并构造流水线
// 适用于在代码中需要显式地创建特定组件配置的场景
func CreatePipeline(ctx context.Context, compOpts []ComponentOpt, setOpts []SettingOpt) (*DocumentPipeline, error) {
	components := &Components{}

	settings := &Settings{
		DefaultDimensions: 1536,
		Debug:             false,
		Logger:            log.New(os.Stdout, "[Pipeline] ", log.LstdFlags),
		TimeLocation:      time.Local,
	}

	for _, opt := range compOpts {
		opt(components)
	}

	for _, opt := range setOpts {
		opt(settings)
	}

	// 验证必要组件
	if components.Extractor == nil {
		return nil, ErrExtractorNotInit
	}

	return NewDocumentPipeline(components, settings), nil
}

// CreatePipelineFromConfig 从配置创建流水线组件集合
func CreatePipelineFromConfig(ctx context.Context, cfg *config.Config, storageManager *storage.Storage) (*DocumentPipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	// 1. 创建组件实例
	components := &Components{
		Storage: storageManager,
	}

	// 2. 创建设置实例，并使用配置文件中的值
	settings := &Settings{
		DefaultDimensions: cfg.Qdrant.Dimension,
		Debug:             cfg.Logger.Level == "debug",
		Logger:            log.New(os.Stdout, "[Pipeline] ", log.LstdFlags),
		TimeLocation:      time.Local,
	}

	// 3. 根据配置创建文本提取器
	var err error
	components.Extractor, err = BuildTextExtractor(ctx, cfg, func(prefix string) *log.Logger {
		return log.New(os.Stdout, prefix, log.LstdFlags)
	})
	if err != nil {
		return nil, fmt.Errorf("创建文本提取器失败: %w", err)
	}

	// 4. 规则分块器和分类器不依赖外部服务，直接从配置构建
	components.Chunker = parser.NewDocumentChunker(cfg.Pipeline.Chunker)
	components.Classifier = parser.NewDocumentClassifier(cfg.Pipeline.Classifier)

	// 5. 如果配置了API密钥，构建嵌入器和生成模型
	if cfg.Aliyun.APIKey != "" {
		settings.Logger.Println("检测到API密钥，配置嵌入与生成功能...")

		aliyunEmbedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding)
		if err != nil {
			return nil, fmt.Errorf("创建阿里云嵌入器失败: %w", err)
		}
		// 嵌入客户端同样包一层QPM限流，批量向量化不致打满服务端配额
		components.Embedder = ratelimit.NewEmbedderWithRateLimit(
			aliyunEmbedder,
			cfg.Aliyun.Embedding.Model,
			cfg.ModelQPMLimits,
			0,
			cfg.Generation.MaxRetries,
			time.Duration(cfg.Generation.RetryWaitSeconds)*time.Second,
		)

		// 章节生成模型，外层包一个QPM限流代理避免触发服务端限流
		generationModel := cfg.Generation.ModelName
		if generationModel == "" {
			generationModel = cfg.GetModelForTask("section_generation")
		}
		qwenModel, err := agent.NewAliyunQwenChatModel(
			cfg.Aliyun.APIKey,
			generationModel,
			cfg.Aliyun.APIURL,
		)
		if err != nil {
			return nil, fmt.Errorf("创建生成LLM模型失败: %w", err)
		}
		components.Generator = ratelimit.NewLLMWithRateLimit(
			qwenModel,
			generationModel,
			cfg.ModelQPMLimits,
			cfg.Generation.QPM,
			cfg.Generation.MaxRetries,
			time.Duration(cfg.Generation.RetryWaitSeconds)*time.Second,
		)
	}

	// 6. 创建流水线
	pipeline := NewDocumentPipeline(components, settings)

	return pipeline, nil
}
