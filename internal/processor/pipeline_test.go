package processor

import (
	"context"
	"io"
	"testing"
	"time"

	"ai-report-go/internal/agent"
	"ai-report-go/internal/storage"
	"ai-report-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExtractor 返回固定文本的提取器桩
type stubExtractor struct {
	text string
}

func (s *stubExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	return s.text, nil, nil
}

func (s *stubExtractor) ExtractTextFromReader(ctx context.Context, reader io.Reader, uri string, options interface{}) (string, map[string]interface{}, error) {
	return s.text, nil, nil
}

func (s *stubExtractor) ExtractTextFromBytes(ctx context.Context, data []byte, uri string, options interface{}) (string, map[string]interface{}, error) {
	return s.text, nil, nil
}

func (s *stubExtractor) ExtractStructuredContent(ctx context.Context, reader io.Reader, uri string, options interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"text": s.text}, nil
}

type stubChunker struct {
	size int
}

func (s *stubChunker) ChunkDocument(ctx context.Context, text string, strategy types.Strategy) ([]types.Chunk, error) {
	return []types.Chunk{{Index: 0, Content: text, CharLen: len([]rune(text))}}, nil
}

func (s *stubChunker) ChunkSizeFor(strategy types.Strategy) int { return s.size }

type stubClassifier struct {
	cls *types.Classification
}

func (s *stubClassifier) ClassifyDocument(ctx context.Context, text string) (*types.Classification, error) {
	return s.cls, nil
}

func TestCreatePipelineAppliesOptions(t *testing.T) {
	extractor := &stubExtractor{text: "受伤职工既往病历摘要"}
	chunker := &stubChunker{size: 800}
	classifier := &stubClassifier{cls: &types.Classification{DocType: types.DocTypeMedicalReport, Confidence: 0.9}}
	embedder := &fakeEmbedder{vec: []float64{0.1, 0.2}}
	generator := agent.NewMockChatClient("生成内容", nil)
	sink := &captureMetricSink{}
	store := &storage.Storage{}

	pipeline, err := CreatePipeline(context.Background(),
		[]ComponentOpt{
			WithcompExtractor(extractor),
			WithcompChunker(chunker),
			WithcompClassifier(classifier),
			WithcompEmbedder(embedder),
			WithcompGenerator(generator),
			WithcompStorage(store),
			WithcompMetricSink(sink),
		},
		[]SettingOpt{
			WithsetDebug(true),
			WithsetDefaultdimensions(1024),
			WithsetTimelocation(time.UTC),
		},
	)
	require.NoError(t, err)
	require.NotNil(t, pipeline)

	// 组件选项应原样注入，不做包装
	assert.Same(t, extractor, pipeline.Extractor)
	assert.Same(t, chunker, pipeline.Chunker)
	assert.Same(t, classifier, pipeline.Classifier)
	assert.Same(t, embedder, pipeline.Embedder)
	assert.Same(t, store, pipeline.Storage)
	assert.Same(t, sink, pipeline.Metrics)
	assert.NotNil(t, pipeline.Generator)

	assert.True(t, pipeline.Config.Debug)
	assert.Equal(t, 1024, pipeline.Config.DefaultDimensions)
	assert.Equal(t, time.UTC, pipeline.Config.TimeLocation)
}

func TestCreatePipelineRequiresExtractor(t *testing.T) {
	pipeline, err := CreatePipeline(context.Background(),
		[]ComponentOpt{WithcompChunker(&stubChunker{size: 500})},
		nil,
	)
	require.ErrorIs(t, err, ErrExtractorNotInit)
	assert.Nil(t, pipeline)
}

func TestNewDocumentPipelineDefaults(t *testing.T) {
	pipeline := NewDocumentPipeline(
		&Components{Extractor: &stubExtractor{}},
		&Settings{},
	)
	require.NotNil(t, pipeline)

	// 未注入的设置应补齐默认值
	assert.NotNil(t, pipeline.Config.Logger)
	assert.Equal(t, time.Local, pipeline.Config.TimeLocation)

	// 未注入指标收集器时退化为空实现，上报不应panic
	require.NotNil(t, pipeline.Metrics)
	assert.NotPanics(t, func() {
		pipeline.Metrics.Record("chunker", "latency_ms", 12.5, nil)
	})
	_, isNoop := pipeline.Metrics.(noopMetricSink)
	assert.True(t, isNoop, "缺省指标收集器应为空实现")
}

func TestSettingOptNilFallbacks(t *testing.T) {
	set := &Settings{}
	WithsetLogger(nil)(set)
	assert.NotNil(t, set.Logger, "nil日志器应回退为可用实例")

	WithsetTimelocation(nil)(set)
	assert.Equal(t, time.Local, set.TimeLocation)
}
