package parser

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-report-go/internal/config"
	"ai-report-go/internal/types"
)

func testChunkerConfig() config.ChunkerConfig {
	return config.ChunkerConfig{
		DirectChunkSize:    3000,
		HybridChunkSize:    1500,
		RetrievalChunkSize: 800,
		OverlapRatio:       0.20,
		MinChunkSize:       120,
	}
}

// 生成带编号的连续中文句子, 每句24个字符, 无段落分隔
func buildNumberedSentences(count int) string {
	var sb strings.Builder
	for i := 1; i <= count; i++ {
		sb.WriteString(fmt.Sprintf("这是第%02d号句子的正文内容补充说明文字甲乙丙丁。", i))
	}
	return sb.String()
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func TestChunkDocument_EmptyAndMalformed(t *testing.T) {
	chunker := NewDocumentChunker(testChunkerConfig())
	ctx := context.Background()

	cases := []struct {
		name string
		text string
	}{
		{"空字符串", ""},
		{"纯空白", "   \n\n\t  "},
		{"乱码控制字符", strings.Repeat(string(rune(0x01)), 50) + "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks, err := chunker.ChunkDocument(ctx, tc.text, types.StrategyDirect)
			assert.NoError(t, err, "无效输入不应返回错误")
			assert.NotNil(t, chunks, "应返回空列表而非nil")
			assert.Empty(t, chunks, "无效输入应产生零个分块")
		})
	}
}

func TestChunkDocument_Deterministic(t *testing.T) {
	chunker := NewDocumentChunker(testChunkerConfig())
	ctx := context.Background()
	text := buildNumberedSentences(200)

	first, err := chunker.ChunkDocument(ctx, text, types.StrategyHybrid)
	require.NoError(t, err)
	second, err := chunker.ChunkDocument(ctx, text, types.StrategyHybrid)
	require.NoError(t, err)

	require.Equal(t, first, second, "相同输入与参数必须产生完全相同的分块序列")
}

func TestChunkDocument_OverlapBetweenChunks(t *testing.T) {
	// 缩小块大小让少量文本也能产生多个分块
	cfg := config.ChunkerConfig{
		DirectChunkSize:    3000,
		HybridChunkSize:    100,
		RetrievalChunkSize: 800,
		OverlapRatio:       0.20,
		MinChunkSize:       10,
	}
	chunker := NewDocumentChunker(cfg)
	ctx := context.Background()
	text := buildNumberedSentences(20) // 480个字符, 无段落分隔

	chunks, err := chunker.ChunkDocument(ctx, text, types.StrategyHybrid)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 5, "480字符按100字符切分应产生多个分块")
	require.LessOrEqual(t, len(chunks), 9)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index, "分块序号应连续递增")
		assert.NotEmpty(t, chunk.Content)
		assert.Equal(t, len([]rune(chunk.Content)), chunk.CharLen, "CharLen应与内容的rune数一致")
		assert.LessOrEqual(t, chunk.CharLen, cfg.HybridChunkSize+cfg.MinChunkSize,
			"分块长度不应超过块大小加尾部并入余量")
	}

	// 后一块的开头来自前一块的尾部(重叠)
	for i := 1; i < len(chunks); i++ {
		head := firstRunes(chunks[i].Content, 10)
		assert.Contains(t, chunks[i-1].Content, head,
			"第%d块与第%d块之间应存在重叠内容", i, i-1)
	}
}

func TestChunkDocument_PrefersParagraphBoundary(t *testing.T) {
	cfg := config.ChunkerConfig{
		DirectChunkSize:    100,
		HybridChunkSize:    50,
		RetrievalChunkSize: 30,
		OverlapRatio:       0.20,
		MinChunkSize:       10,
	}
	chunker := NewDocumentChunker(cfg)
	ctx := context.Background()

	para1 := strings.Repeat("春", 78) + "。" // 79个字符
	para2 := strings.Repeat("夏", 60) + "。" // 61个字符
	text := para1 + "\n\n" + para2

	chunks, err := chunker.ChunkDocument(ctx, text, types.StrategyDirect)
	require.NoError(t, err)
	require.Len(t, chunks, 2, "段落分隔在限长之前时应按段落切分")

	assert.Equal(t, para1, chunks[0].Content, "第一块应止于段落边界而非硬切")
	assert.Equal(t, para2, chunks[1].Content)
	assert.True(t, chunks[0].ParagraphStart)
	assert.True(t, chunks[1].ParagraphStart, "第二块起点应落在段落边界上")
}

func TestChunkDocument_NeverSplitsMidWord(t *testing.T) {
	cfg := config.ChunkerConfig{
		DirectChunkSize:    60,
		HybridChunkSize:    50,
		RetrievalChunkSize: 30,
		OverlapRatio:       0.10,
		MinChunkSize:       5,
	}
	chunker := NewDocumentChunker(cfg)
	ctx := context.Background()

	// 英文文本: 边界只允许落在空白或句末之后, 不得落在单词中间
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString(fmt.Sprintf("word%02d ", i))
	}
	text := strings.TrimSpace(sb.String())

	chunks, err := chunker.ChunkDocument(ctx, text, types.StrategyDirect)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	for _, chunk := range chunks {
		fields := strings.Fields(chunk.Content)
		for _, f := range fields {
			assert.Regexp(t, `^word\d{2}$`, f, "分块不应把单词切成两半: %q", f)
		}
	}
}

func TestChunkDocument_StrategySizes(t *testing.T) {
	cfg := testChunkerConfig()
	chunker := NewDocumentChunker(cfg)

	assert.Equal(t, cfg.DirectChunkSize, chunker.ChunkSizeFor(types.StrategyDirect))
	assert.Equal(t, cfg.HybridChunkSize, chunker.ChunkSizeFor(types.StrategyHybrid))
	assert.Equal(t, cfg.RetrievalChunkSize, chunker.ChunkSizeFor(types.StrategyFullRetrieval))

	// 同一段文本: 检索策略的块更小, 块数应多于直出策略
	ctx := context.Background()
	text := buildNumberedSentences(100) // 2400个字符

	direct, err := chunker.ChunkDocument(ctx, text, types.StrategyDirect)
	require.NoError(t, err)
	retrieval, err := chunker.ChunkDocument(ctx, text, types.StrategyFullRetrieval)
	require.NoError(t, err)

	assert.Len(t, direct, 1, "2400字符小于直出块大小, 应为单块")
	assert.GreaterOrEqual(t, len(retrieval), 3, "检索策略块大小800, 应切出多块")
	assert.Greater(t, len(retrieval), len(direct))
}

func TestChunkDocument_ContextCancelled(t *testing.T) {
	chunker := NewDocumentChunker(testChunkerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := chunker.ChunkDocument(ctx, "正常文本内容。", types.StrategyDirect)
	assert.Error(t, err, "已取消的上下文应立即返回错误")
}
