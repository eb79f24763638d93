package processor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"ai-report-go/internal/config"
	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAssembler() *ContextAssembler {
	return NewContextAssembler(config.AssemblerConfig{SectionCharBudget: 12000})
}

func scoredChunk(id uint64, index int, content string, score float64) types.ScoredChunk {
	return types.ScoredChunk{
		ChunkID:       id,
		DocumentUUID:  "doc-1",
		ChunkIndex:    index,
		Content:       content,
		CombinedScore: score,
	}
}

func TestBuildSectionContext_DropsLowestRankedWholeChunks(t *testing.T) {
	a := testAssembler()
	// 每块100字符，加上【材料N】标记6字符和块间2字符连接符：
	// 第一块106，此后每块108，累计 106/214/322
	chunks := []types.ScoredChunk{
		scoredChunk(1, 0, strings.Repeat("甲", 100), 0.9),
		scoredChunk(2, 1, strings.Repeat("乙", 100), 0.8),
		scoredChunk(3, 2, strings.Repeat("丙", 100), 0.7),
	}

	sctx := a.BuildSectionContext("case-1", "medical_history", chunks, 300)

	require.Len(t, sctx.Contributing, 2)
	assert.Equal(t, uint64(1), sctx.Contributing[0].ChunkID)
	assert.Equal(t, uint64(2), sctx.Contributing[1].ChunkID)
	assert.LessOrEqual(t, utf8.RuneCountInString(sctx.Text), 300)
	assert.True(t, sctx.FromRetrieval)

	// 保留的块必须完整出现，被丢弃的块完全不出现
	assert.Contains(t, sctx.Text, strings.Repeat("甲", 100))
	assert.Contains(t, sctx.Text, strings.Repeat("乙", 100))
	assert.NotContains(t, sctx.Text, "丙")
}

func TestBuildSectionContext_AllChunksFitWithinDefaultBudget(t *testing.T) {
	a := testAssembler()
	chunks := []types.ScoredChunk{
		scoredChunk(1, 0, strings.Repeat("甲", 100), 0.9),
		scoredChunk(2, 1, strings.Repeat("乙", 100), 0.8),
		scoredChunk(3, 2, strings.Repeat("丙", 100), 0.7),
	}

	sctx := a.BuildSectionContext("case-1", "medical_history", chunks, 0)

	require.Len(t, sctx.Contributing, 3)
	assert.Contains(t, sctx.Text, "【材料1】")
	assert.Contains(t, sctx.Text, "【材料2】")
	assert.Contains(t, sctx.Text, "【材料3】")
}

// 单块超出预算时整块丢弃而不是截断，上下文为空由调用方走兜底路径
func TestBuildSectionContext_OversizedChunkDroppedNotTruncated(t *testing.T) {
	a := testAssembler()
	chunks := []types.ScoredChunk{
		scoredChunk(1, 0, strings.Repeat("甲", 500), 0.9),
	}

	sctx := a.BuildSectionContext("case-1", "medical_history", chunks, 300)

	assert.Empty(t, sctx.Contributing)
	assert.Empty(t, sctx.Text)
}

func TestBuildDirectContext_KeepsOrdinalOrder(t *testing.T) {
	a := testAssembler()
	chunks := []models.DocumentChunk{
		{ChunkDBID: 11, DocumentUUID: "doc-1", ChunkIndex: 0, Content: "第一段内容。", CharLen: 6},
		{ChunkDBID: 12, DocumentUUID: "doc-1", ChunkIndex: 1, Content: "第二段内容。", CharLen: 6},
		{ChunkDBID: 13, DocumentUUID: "doc-2", ChunkIndex: 0, Content: "第三段内容。", CharLen: 6},
	}

	sctx := a.BuildDirectContext("case-1", "introduction", chunks, 0)

	require.Len(t, sctx.Contributing, 3)
	assert.False(t, sctx.FromRetrieval)
	assert.Equal(t, "第一段内容。\n\n第二段内容。\n\n第三段内容。", sctx.Text)
	assert.Equal(t, uint64(11), sctx.Contributing[0].ChunkID)
	assert.Equal(t, uint64(13), sctx.Contributing[2].ChunkID)
}

func TestBuildDirectContext_DropsTailBeyondBudget(t *testing.T) {
	a := testAssembler()
	// 100+2+100+2+100 = 304 > 300，第三块被丢弃
	chunks := []models.DocumentChunk{
		{ChunkDBID: 11, DocumentUUID: "doc-1", ChunkIndex: 0, Content: strings.Repeat("甲", 100), CharLen: 100},
		{ChunkDBID: 12, DocumentUUID: "doc-1", ChunkIndex: 1, Content: strings.Repeat("乙", 100), CharLen: 100},
		{ChunkDBID: 13, DocumentUUID: "doc-1", ChunkIndex: 2, Content: strings.Repeat("丙", 100), CharLen: 100},
	}

	sctx := a.BuildDirectContext("case-1", "introduction", chunks, 300)

	require.Len(t, sctx.Contributing, 2)
	assert.NotContains(t, sctx.Text, "丙")
	assert.LessOrEqual(t, utf8.RuneCountInString(sctx.Text), 300)
}

func TestBuildMessages_FullAndSimplified(t *testing.T) {
	a := testAssembler()
	tpl, err := TemplateFor("medical_history")
	require.NoError(t, err)

	sctx := &types.SectionContext{
		SectionID: "medical_history",
		CaseUUID:  "case-1",
		Text:      "【材料1】\n主诉：右手外伤后疼痛一月。",
	}

	full := a.BuildMessages(tpl, sctx, false)
	require.Len(t, full, 2)
	assert.Contains(t, full[0].Content, "医疗材料")
	assert.Contains(t, full[0].Content, tpl.Skeleton)
	assert.Contains(t, full[1].Content, sctx.Text)
	assert.Contains(t, full[1].Content, tpl.Title)

	simplified := a.BuildMessages(tpl, sctx, true)
	require.Len(t, simplified, 2)
	assert.Contains(t, simplified[0].Content, tpl.SimplifiedInstructions)
	assert.NotEqual(t, full[0].Content, simplified[0].Content)
}
