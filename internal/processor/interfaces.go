package processor

import (
	"context"
	"io"

	"ai-report-go/internal/storage"
	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/types"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// TextExtractor 文档文本提取器接口 - 与parser包中定义相同
type TextExtractor interface {
	// ExtractFromFile 从文档文件提取文本和元数据
	ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error)

	// ExtractTextFromReader 从io.Reader提取文本和元数据
	ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string, options interface{}) (string, map[string]interface{}, error)

	// ExtractTextFromBytes 从字节数组提取文本和元数据
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string, options interface{}) (string, map[string]interface{}, error)

	// ExtractStructuredContent 提取结构化内容（如段落、表格等）
	ExtractStructuredContent(ctx context.Context, reader io.Reader, uri string, options interface{}) (map[string]interface{}, error)
}

//
// 分块与分类相关接口
//

// DocumentChunker 按策略分块文档文本
type DocumentChunker interface {
	// ChunkDocument 把文档正文切分为带索引的分块
	ChunkDocument(ctx context.Context, text string, strategy types.Strategy) ([]types.Chunk, error)

	// ChunkSizeFor 返回策略对应的目标分块长度(字符数)
	ChunkSizeFor(strategy types.Strategy) int
}

// DocumentClassifier 文档类型分类器接口
type DocumentClassifier interface {
	// ClassifyDocument 基于文本前缀的词法与结构特征判定文档类型
	ClassifyDocument(ctx context.Context, text string) (*types.Classification, error)
}

//
// 向量嵌入与生成相关接口
//

// TextEmbedder 文本向量化接口 (符合 cloudwego/eino 规范)
type TextEmbedder interface {
	// EmbedStrings 将文本转换为向量表示
	EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error)

	// GetDimensions 返回嵌入向量的维度
	GetDimensions() int

	// ModelVersion 返回嵌入模型版本标识，用于缓存失效判断
	ModelVersion() string
}

// ChatGenerator 章节文本生成接口，由限流代理包装后的聊天模型实现
type ChatGenerator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

//
// 检索相关接口
//

// LexicalSearcher 词法检索接口，由MySQL全文索引实现
type LexicalSearcher interface {
	// SearchChunksLexical 在案件当前代次的分块上做全文检索
	SearchChunksLexical(ctx context.Context, caseUUID, query string, limit int) ([]storage.ChunkLexicalHit, error)

	// CountCurrentChunksByCase 统计案件当前代次的分块总数
	CountCurrentChunksByCase(ctx context.Context, caseUUID string) (int64, error)

	// GetChunksByDBIDs 按主键批量取回分块完整内容
	GetChunksByDBIDs(ctx context.Context, chunkDBIDs []uint64) ([]models.DocumentChunk, error)
}

// VectorSearcher 向量检索接口，由Qdrant实现
type VectorSearcher interface {
	SearchSimilarChunks(ctx context.Context, queryVector []float64, limit int, filter map[string]interface{}) ([]storage.SearchResult, error)
}

//
// 缓存相关接口
//

// QueryVectorCache 查询向量缓存接口，由Redis实现
type QueryVectorCache interface {
	GetQueryVector(ctx context.Context, queryHash string) ([]float64, string, error)
	SetQueryVector(ctx context.Context, queryHash string, vector []float64, modelVersion string) error
}

//
// 指标相关接口
//

// MetricSink 指标事件接收端。生产实现为异步缓冲收集器，
// 流水线各阶段通过它上报事件，不关心落库细节。
type MetricSink interface {
	Record(component, metricType string, value float64, metadata map[string]string)
}

// noopMetricSink 缺省空实现，未注入指标收集器时使用
type noopMetricSink struct{}

func (noopMetricSink) Record(component, metricType string, value float64, metadata map[string]string) {
}
