package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ai-report-go/internal/agent"
	"ai-report-go/internal/config"
	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSectionRetriever struct {
	result *types.RetrievalResult
	err    error
	calls  int
}

func (f *fakeSectionRetriever) Retrieve(ctx context.Context, caseUUID, query string, limit int) (*types.RetrievalResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeChunkLoader struct {
	chunks []models.DocumentChunk
	err    error
	calls  int
}

func (f *fakeChunkLoader) GetCurrentChunksByCase(ctx context.Context, caseUUID string, limit int) ([]models.DocumentChunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

// capturedMetric 记录一次Record调用
type capturedMetric struct {
	component  string
	metricType string
	value      float64
	metadata   map[string]string
}

type captureMetricSink struct {
	events []capturedMetric
}

func (s *captureMetricSink) Record(component, metricType string, value float64, metadata map[string]string) {
	s.events = append(s.events, capturedMetric{component, metricType, value, metadata})
}

func (s *captureMetricSink) count(component, metricType string) int {
	n := 0
	for _, e := range s.events {
		if e.component == component && e.metricType == metricType {
			n++
		}
	}
	return n
}

func (s *captureMetricSink) last(component, metricType string) *capturedMetric {
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].component == component && s.events[i].metricType == metricType {
			return &s.events[i]
		}
	}
	return nil
}

// caseChunks 构造3个各300字符的原文分块
func caseChunks() []models.DocumentChunk {
	chunks := make([]models.DocumentChunk, 3)
	for i := range chunks {
		chunks[i] = models.DocumentChunk{
			ChunkDBID:    uint64(i + 1),
			DocumentUUID: "doc-1",
			CaseUUID:     "case-1",
			ChunkIndex:   i,
			Content:      strings.Repeat("材", 300),
			CharLen:      300,
		}
	}
	return chunks
}

func retrievedChunks() *types.RetrievalResult {
	return &types.RetrievalResult{
		CaseUUID: "case-1",
		Chunks: []types.ScoredChunk{
			{ChunkID: 11, DocumentUUID: "doc-1", ChunkIndex: 0, Content: strings.Repeat("检", 200), CombinedScore: 0.9},
			{ChunkID: 12, DocumentUUID: "doc-1", ChunkIndex: 3, Content: strings.Repeat("索", 200), CombinedScore: 0.7},
		},
		FloorUsed: 0.30,
	}
}

// newTestSectionGenerator 预算1000字符，便于观察重试时的预算减半
func newTestSectionGenerator(gen ChatGenerator, ret SectionRetriever, loader CaseChunkLoader, qcfg config.QualityConfig) (*SectionGenerator, *captureMetricSink) {
	sink := &captureMetricSink{}
	g := NewSectionGenerator(
		gen, ret, loader,
		NewContextAssembler(config.AssemblerConfig{SectionCharBudget: 1000}),
		NewQualityController(qcfg),
		sink,
		5*time.Second,
	)
	return g, sink
}

func TestSectionGenerator_DirectSkipsRetrieval(t *testing.T) {
	mock := agent.NewMockChatClient(acceptableMedicalContent, nil)
	retriever := &fakeSectionRetriever{result: retrievedChunks()}
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, sink := newTestSectionGenerator(mock, retriever, loader, testQualityConfig())

	outcome, err := g.Run(context.Background(), "case-1", medicalTemplate(t), types.StrategyDirect)
	require.NoError(t, err)

	assert.Equal(t, 0, retriever.calls, "direct策略不应触发检索")
	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, types.SectionStatusGenerated, outcome.Status)
	assert.Equal(t, 0, outcome.FallbackTier)
	assert.Equal(t, GenStateAccepted, outcome.FinalState)
	assert.Equal(t, acceptableMedicalContent, outcome.Content)
	assert.Len(t, outcome.Contributing, 3)
	assert.Equal(t, 0, sink.count("retriever", "retrieval_latency"))
	assert.Equal(t, 1, sink.count("quality", "composite_score"))
	require.Len(t, outcome.Attempts, 1)
	assert.True(t, outcome.Attempts[0].Score.Passed)
}

func TestSectionGenerator_RetrievalPathUsesScoredChunks(t *testing.T) {
	mock := agent.NewMockChatClient(acceptableMedicalContent, nil)
	retriever := &fakeSectionRetriever{result: retrievedChunks()}
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, sink := newTestSectionGenerator(mock, retriever, loader, testQualityConfig())

	outcome, err := g.Run(context.Background(), "case-1", medicalTemplate(t), types.StrategyFullRetrieval)
	require.NoError(t, err)

	assert.Equal(t, 1, retriever.calls)
	assert.Equal(t, 0, loader.calls, "检索命中时不应回落原文分块")
	assert.Equal(t, types.SectionStatusGenerated, outcome.Status)
	require.Len(t, outcome.Contributing, 2)
	assert.Equal(t, uint64(11), outcome.Contributing[0].ChunkID)
	assert.Equal(t, 1, sink.count("retriever", "retrieval_latency"))
	assert.Equal(t, 1, sink.count("retriever", "retrieval_hits"))
}

func TestSectionGenerator_RetryWithSimplifiedPromptAndHalvedContext(t *testing.T) {
	tooShort := "申请人伤情稳定，诊断明确，治疗规范。"
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Content: tooShort},
		{Content: acceptableMedicalContent},
	})
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, sink := newTestSectionGenerator(mock, nil, loader, testQualityConfig())

	tpl := medicalTemplate(t)
	outcome, err := g.Run(context.Background(), "case-1", tpl, types.StrategyDirect)
	require.NoError(t, err)

	assert.Equal(t, 2, mock.CallCount())
	assert.Equal(t, types.SectionStatusGenerated, outcome.Status)
	assert.Equal(t, 1, outcome.FallbackTier, "重试通过对应一级降级")
	assert.Equal(t, GenStateAccepted, outcome.FinalState)
	require.Len(t, outcome.Attempts, 2)
	assert.False(t, outcome.Attempts[0].Score.Passed)
	assert.True(t, outcome.Attempts[1].Score.Passed)

	// 预算1000放得下3块(904字符)，减半到500只放得下1块
	assert.Len(t, outcome.Contributing, 1, "重试应使用减半预算的上下文")

	// 第二次调用应使用简化指令
	received := mock.GetReceivedMessages()
	require.Len(t, received, 4, "两次调用各有system+user两条消息")
	assert.Contains(t, received[0].Content, tpl.Instructions)
	assert.Contains(t, received[2].Content, tpl.SimplifiedInstructions)

	assert.Equal(t, 1, sink.count("generation", "generation_retried"))
	assert.Equal(t, 1, sink.count("quality", "evaluation_failed"))
}

func TestSectionGenerator_QualityFailTwiceFallsBackStatic(t *testing.T) {
	tooShort := "申请人伤情稳定，诊断明确，治疗规范。"
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Content: tooShort},
		{Content: tooShort},
	})
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, sink := newTestSectionGenerator(mock, nil, loader, testQualityConfig())

	tpl := medicalTemplate(t)
	outcome, err := g.Run(context.Background(), "case-1", tpl, types.StrategyDirect)
	require.NoError(t, err)

	assert.Equal(t, types.SectionStatusFailedWithFallback, outcome.Status)
	assert.Equal(t, 2, outcome.FallbackTier)
	assert.Equal(t, GenStateFallback, outcome.FinalState)
	assert.Equal(t, tpl.FallbackText, outcome.Content)
	assert.NotEmpty(t, outcome.Content, "兜底终态必须有非空内容")
	assert.Empty(t, outcome.ErrorCategory, "纯质量不达标不属于错误类别")
	require.Len(t, outcome.Attempts, 2)
	assert.Equal(t, 2, sink.count("quality", "evaluation_failed"))
	assert.Equal(t, 1, sink.count("generation", "fallback_used"))
}

func TestSectionGenerator_TwicePolicyBlockedFallsBackStatic(t *testing.T) {
	blockErr := errors.New("API returned 400: DataInspectionFailed, output data may contain inappropriate content")
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: blockErr},
		{Error: blockErr},
	})
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, sink := newTestSectionGenerator(mock, nil, loader, testQualityConfig())

	tpl := medicalTemplate(t)
	outcome, err := g.Run(context.Background(), "case-1", tpl, types.StrategyDirect)
	require.NoError(t, err)

	assert.Equal(t, 2, mock.CallCount(), "retry_on_policy_block开启时拦截后应重试一次")
	assert.Equal(t, types.SectionStatusFailedWithFallback, outcome.Status)
	assert.Equal(t, 2, outcome.FallbackTier)
	assert.Equal(t, tpl.FallbackText, outcome.Content)
	assert.Equal(t, CategoryGenerationBlocked, outcome.ErrorCategory)

	// 终态内容绝不泄漏服务商错误文本或拒答话术
	assert.NotContains(t, outcome.Content, "DataInspectionFailed")
	assert.Empty(t, findErrorSignal(outcome.Content))

	// 生成失败的尝试没有质量得分
	require.Len(t, outcome.Attempts, 2)
	assert.Nil(t, outcome.Attempts[0].Score)
	assert.Nil(t, outcome.Attempts[1].Score)

	assert.Equal(t, 2, sink.count("generation", "generation_error"))
	fallback := sink.last("generation", "fallback_used")
	require.NotNil(t, fallback)
	assert.Equal(t, CategoryGenerationBlocked, fallback.metadata["category"])
	assert.InDelta(t, 2, fallback.value, 1e-9)
}

func TestSectionGenerator_PolicyBlockWithoutRetryConfigSkipsRetry(t *testing.T) {
	blockErr := errors.New("content_filter triggered")
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{{Error: blockErr}})
	loader := &fakeChunkLoader{chunks: caseChunks()}

	qcfg := testQualityConfig()
	qcfg.RetryOnPolicyBlock = false
	g, _ := newTestSectionGenerator(mock, nil, loader, qcfg)

	outcome, err := g.Run(context.Background(), "case-1", medicalTemplate(t), types.StrategyDirect)
	require.NoError(t, err)

	assert.Equal(t, 1, mock.CallCount(), "关闭retry_on_policy_block后拦截应直接兜底")
	assert.Equal(t, types.SectionStatusFailedWithFallback, outcome.Status)
	assert.Equal(t, CategoryGenerationBlocked, outcome.ErrorCategory)
}

func TestSectionGenerator_TimeoutRetriesThenPasses(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: context.DeadlineExceeded},
		{Content: acceptableMedicalContent},
	})
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, sink := newTestSectionGenerator(mock, nil, loader, testQualityConfig())

	outcome, err := g.Run(context.Background(), "case-1", medicalTemplate(t), types.StrategyDirect)
	require.NoError(t, err)

	assert.Equal(t, types.SectionStatusGenerated, outcome.Status)
	assert.Equal(t, 1, outcome.FallbackTier)
	errMetric := sink.last("generation", "generation_error")
	require.NotNil(t, errMetric)
	assert.Equal(t, CategoryGenerationTimeout, errMetric.metadata["category"])
}

func TestSectionGenerator_EmptyRetrievalFallsBackToRawChunks(t *testing.T) {
	mock := agent.NewMockChatClient(acceptableMedicalContent, nil)
	retriever := &fakeSectionRetriever{result: &types.RetrievalResult{
		CaseUUID: "case-1",
		Empty:    true,
		Reason:   "below_floor",
	}}
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, sink := newTestSectionGenerator(mock, retriever, loader, testQualityConfig())

	outcome, err := g.Run(context.Background(), "case-1", medicalTemplate(t), types.StrategyHybrid)
	require.NoError(t, err)

	assert.Equal(t, 1, retriever.calls)
	assert.Equal(t, 1, loader.calls, "检索落空后应回落原文分块")
	assert.Equal(t, types.SectionStatusGenerated, outcome.Status)
	empty := sink.last("retriever", "retrieval_empty")
	require.NotNil(t, empty)
	assert.Equal(t, "below_floor", empty.metadata["reason"])
}

func TestSectionGenerator_RetrieverErrorFallsBackToRawChunks(t *testing.T) {
	mock := agent.NewMockChatClient(acceptableMedicalContent, nil)
	retriever := &fakeSectionRetriever{err: NewExternalStoreError("search", "connection refused")}
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, sink := newTestSectionGenerator(mock, retriever, loader, testQualityConfig())

	outcome, err := g.Run(context.Background(), "case-1", medicalTemplate(t), types.StrategyFullRetrieval)
	require.NoError(t, err)

	assert.Equal(t, types.SectionStatusGenerated, outcome.Status)
	errMetric := sink.last("retriever", "retrieval_error")
	require.NotNil(t, errMetric)
	assert.Equal(t, CategoryExternalStoreUnavailable, errMetric.metadata["category"])
}

func TestSectionGenerator_NoMaterialGoesStraightToFallback(t *testing.T) {
	mock := agent.NewMockChatClient(acceptableMedicalContent, nil)
	loader := &fakeChunkLoader{} // 案件没有任何分块
	g, _ := newTestSectionGenerator(mock, nil, loader, testQualityConfig())

	tpl := medicalTemplate(t)
	outcome, err := g.Run(context.Background(), "case-1", tpl, types.StrategyDirect)
	require.NoError(t, err)

	assert.Equal(t, 0, len(mock.GetReceivedMessages()), "无材料时不应调用生成服务")
	assert.Equal(t, types.SectionStatusFailedWithFallback, outcome.Status)
	assert.Equal(t, CategoryRetrievalEmpty, outcome.ErrorCategory)
	assert.Equal(t, tpl.FallbackText, outcome.Content)
	assert.Empty(t, outcome.Attempts)
}

func TestSectionGenerator_NilGeneratorFallsBack(t *testing.T) {
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, _ := newTestSectionGenerator(nil, nil, loader, testQualityConfig())

	outcome, err := g.Run(context.Background(), "case-1", medicalTemplate(t), types.StrategyDirect)
	require.NoError(t, err)

	assert.Equal(t, types.SectionStatusFailedWithFallback, outcome.Status)
	assert.Equal(t, CategoryExternalStoreUnavailable, outcome.ErrorCategory)
	assert.NotEmpty(t, outcome.Content)
}

func TestSectionGenerator_CancelledContextAbortsWithoutOutcome(t *testing.T) {
	mock := agent.NewMockChatClient(acceptableMedicalContent, nil)
	loader := &fakeChunkLoader{chunks: caseChunks()}
	g, _ := newTestSectionGenerator(mock, nil, loader, testQualityConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := g.Run(ctx, "case-1", medicalTemplate(t), types.StrategyDirect)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, outcome, "取消时不产生半成品终态")
}
