package parser

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"ai-report-go/internal/config"
	"ai-report-go/internal/types"
)

// DocumentChunker 规则分块器。
// 将抽取后的文档纯文本切分为有序分块：边界优先取段落分隔，其次句子结尾，
// 再次空白字符，最后才在块上限处硬切。相邻分块带重叠以保留跨界上下文。
// 同一文本与同一参数的切分结果完全确定，重新分块得到相同边界与数量。
type DocumentChunker struct {
	cfg config.ChunkerConfig
}

// NewDocumentChunker 创建文档分块器
func NewDocumentChunker(cfg config.ChunkerConfig) *DocumentChunker {
	return &DocumentChunker{cfg: cfg}
}

// ChunkSizeFor 返回策略对应的分块大小(字符数)
func (c *DocumentChunker) ChunkSizeFor(strategy types.Strategy) int {
	switch strategy {
	case types.StrategyFullRetrieval:
		return c.cfg.RetrievalChunkSize
	case types.StrategyHybrid:
		return c.cfg.HybridChunkSize
	default:
		return c.cfg.DirectChunkSize
	}
}

// ChunkDocument 按策略对应的块大小切分文本。
// 空文本或乱码文本返回空列表而非错误，调用方将"零分块"视为有效的已标记状态。
func (c *DocumentChunker) ChunkDocument(ctx context.Context, text string, strategy types.Strategy) ([]types.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized := normalizeText(text)
	if normalized == "" || !looksLikeText(normalized) {
		return []types.Chunk{}, nil
	}

	chunkSize := c.ChunkSizeFor(strategy)
	if chunkSize <= 0 {
		chunkSize = 1500
	}
	overlap := int(float64(chunkSize) * c.cfg.OverlapRatio)
	if overlap >= chunkSize {
		overlap = chunkSize / 2
	}

	runes := []rune(normalized)
	n := len(runes)

	// 预先计算所有候选边界位置 (边界 = 下一分块可落点的rune下标)
	paraSet := paragraphBreakSet(runes)
	sentSet := sentenceEndSet(runes)

	var chunks []types.Chunk
	start := 0
	for start < n {
		end := start + chunkSize
		if end >= n {
			end = n
		} else {
			end = pickBoundary(runes, start, end, paraSet, sentSet)
			// 剩余尾部不足最小块时并入当前块, 避免产生碎片尾块
			if n-end < c.cfg.MinChunkSize {
				end = n
			}
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, types.Chunk{
				Index:          len(chunks),
				Content:        content,
				CharLen:        utf8.RuneCountInString(content),
				ParagraphStart: start == 0 || paraSet[start],
			})
		}

		if end >= n {
			break
		}

		// 下一块起点回退overlap个字符, 并向前对齐到最近的段落/句子边界
		next := end - overlap
		if next <= start {
			next = end
		} else {
			next = realignOverlapStart(runes, next, end, paraSet, sentSet)
			// 跳过边界处的空白, 重叠尾巴不以空白开头
			for next < end && isSpaceRune(runes[next]) {
				next++
			}
			if next >= end {
				next = end
			}
		}
		start = next
	}

	if chunks == nil {
		chunks = []types.Chunk{}
	}
	return chunks, nil
}

// normalizeText 统一换行符并压缩连续空行, 切分在规整后的文本上进行
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// looksLikeText 判断文本是否为可切分的正常内容。
// 控制字符或非法UTF-8序列占比过半视为乱码, 返回false。
func looksLikeText(text string) bool {
	total := 0
	garbage := 0
	for _, r := range text {
		total++
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			garbage++
		}
	}
	if total == 0 {
		return false
	}
	return garbage*2 <= total
}

// paragraphBreakSet 记录每个段落分隔(\n\n)之后的位置
func paragraphBreakSet(runes []rune) map[int]bool {
	set := make(map[int]bool)
	for i := 0; i+1 < len(runes); i++ {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			set[i+2] = true
		}
	}
	return set
}

// sentenceEndSet 记录每个句子结尾之后的位置。
// 中文句末标点无条件成立; ASCII句末标点要求后随空白或文本结尾, 避免把小数点当作句界。
func sentenceEndSet(runes []rune) map[int]bool {
	set := make(map[int]bool)
	n := len(runes)
	for i, r := range runes {
		switch r {
		case '。', '！', '？':
			set[i+1] = true
		case '.', '!', '?':
			if i+1 >= n || isSpaceRune(runes[i+1]) {
				set[i+1] = true
			}
		}
	}
	return set
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '　'
}

// pickBoundary 在 (start, limit] 内从后往前选择最佳切分位置:
// 段落分隔 > 句子结尾 > 空白字符 > 硬切。
func pickBoundary(runes []rune, start, limit int, paraSet, sentSet map[int]bool) int {
	for i := limit; i > start; i-- {
		if paraSet[i] {
			return i
		}
	}
	for i := limit; i > start; i-- {
		if sentSet[i] {
			return i
		}
	}
	for i := limit; i > start; i-- {
		if isSpaceRune(runes[i-1]) {
			return i
		}
	}
	return limit
}

// realignOverlapStart 将重叠起点向前对齐到 [from, end) 内最近的段落或句子边界。
// 没有边界可用时, 若起点落在拉丁单词中间则前移到词尾, 避免重叠尾巴以半个单词开头;
// 重叠长度只会缩短不会加长。
func realignOverlapStart(runes []rune, from, end int, paraSet, sentSet map[int]bool) int {
	for i := from; i < end; i++ {
		if paraSet[i] || sentSet[i] {
			return i
		}
	}
	if from > 0 && isWordRune(runes[from-1]) && isWordRune(runes[from]) {
		for from < end && isWordRune(runes[from]) {
			from++
		}
	}
	return from
}

// isWordRune 判断拉丁词的组成字符(ASCII字母数字)。
// CJK字符逐字可切, 不受词内切分约束。
func isWordRune(r rune) bool {
	return r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
