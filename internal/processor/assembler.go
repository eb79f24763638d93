package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"ai-report-go/internal/config"
	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/types"

	"github.com/cloudwego/eino/schema"
)

// 上下文组装的缺省参数
const (
	defaultSectionCharBudget = 12000
	chunkJoiner              = "\n\n"
)

// ContextAssembler 把检索结果或文档原文组装为章节生成上下文。
// 预算是硬性的：超出时按排名从低到高丢弃整块，绝不截断单个分块
type ContextAssembler struct {
	cfg config.AssemblerConfig
}

// NewContextAssembler 创建上下文组装器
func NewContextAssembler(cfg config.AssemblerConfig) *ContextAssembler {
	if cfg.SectionCharBudget <= 0 {
		cfg.SectionCharBudget = defaultSectionCharBudget
	}
	return &ContextAssembler{cfg: cfg}
}

// Budget 返回配置的章节字符预算
func (a *ContextAssembler) Budget() int {
	return a.cfg.SectionCharBudget
}

// BuildSectionContext 从检索结果组装上下文。
// chunks须已按组合得分降序排列；budget<=0时使用配置预算。
// 超出预算时丢弃排名最低的整块，保留的块按材料序号标注以便溯源
func (a *ContextAssembler) BuildSectionContext(caseUUID, sectionID string, chunks []types.ScoredChunk, budget int) *types.SectionContext {
	if budget <= 0 {
		budget = a.cfg.SectionCharBudget
	}

	sctx := &types.SectionContext{
		SectionID:     sectionID,
		CaseUUID:      caseUUID,
		FromRetrieval: true,
	}

	var b strings.Builder
	total := 0
	for i, chunk := range chunks {
		segment := fmt.Sprintf("【材料%d】\n%s", len(sctx.Contributing)+1, chunk.Content)
		segLen := utf8.RuneCountInString(segment)
		if i > 0 {
			segLen += utf8.RuneCountInString(chunkJoiner)
		}
		if total+segLen > budget {
			// 预算已满，其余块排名更低，整体丢弃
			break
		}
		if b.Len() > 0 {
			b.WriteString(chunkJoiner)
		}
		b.WriteString(segment)
		total += segLen
		sctx.Contributing = append(sctx.Contributing, types.ChunkRef{
			ChunkID:       chunk.ChunkID,
			DocumentUUID:  chunk.DocumentUUID,
			ChunkIndex:    chunk.ChunkIndex,
			CombinedScore: chunk.CombinedScore,
		})
	}

	sctx.Text = b.String()
	return sctx
}

// BuildDirectContext 从文档分块原文组装上下文，用于direct策略。
// chunks须已按文档上传顺序和分块序号排好；超出预算时丢弃尾部整块
func (a *ContextAssembler) BuildDirectContext(caseUUID, sectionID string, chunks []models.DocumentChunk, budget int) *types.SectionContext {
	if budget <= 0 {
		budget = a.cfg.SectionCharBudget
	}

	sctx := &types.SectionContext{
		SectionID:     sectionID,
		CaseUUID:      caseUUID,
		FromRetrieval: false,
	}

	var b strings.Builder
	total := 0
	for i, chunk := range chunks {
		segLen := chunk.CharLen
		if segLen <= 0 {
			segLen = utf8.RuneCountInString(chunk.Content)
		}
		if i > 0 {
			segLen += utf8.RuneCountInString(chunkJoiner)
		}
		if total+segLen > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteString(chunkJoiner)
		}
		b.WriteString(chunk.Content)
		total += segLen
		sctx.Contributing = append(sctx.Contributing, types.ChunkRef{
			ChunkID:      chunk.ChunkDBID,
			DocumentUUID: chunk.DocumentUUID,
			ChunkIndex:   chunk.ChunkIndex,
		})
	}

	sctx.Text = b.String()
	return sctx
}

// BuildMessages 把模板与上下文拼装为生成请求。
// simplified为true时使用简化指令，用于首次校验失败后的重试
func (a *ContextAssembler) BuildMessages(tpl *SectionTemplate, sctx *types.SectionContext, simplified bool) []*schema.Message {
	instructions := tpl.Instructions
	if simplified {
		instructions = tpl.SimplifiedInstructions
	}

	system := fmt.Sprintf("%s\n本章节要点：%s。", instructions, tpl.Skeleton)

	var user strings.Builder
	user.WriteString("案件材料如下：\n\n")
	user.WriteString(sctx.Text)
	user.WriteString(fmt.Sprintf("\n\n请撰写《%s》章节正文。", tpl.Title))

	return []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user.String()),
	}
}
