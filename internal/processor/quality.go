package processor

import (
	"fmt"
	"strings"

	"ai-report-go/internal/config"
	"ai-report-go/internal/types"
)

// 合成得分权重，四项之和为1
const (
	completenessWeight = 0.30
	coherenceWeight    = 0.25
	accuracyWeight     = 0.25
	consistencyWeight  = 0.20

	defaultPassThreshold    = 0.70
	defaultMinContentLength = 150
)

// GenerationState 章节单次生成流程的内部状态。
// 对外可见的只有 types.SectionStatus 三态，这里的细分状态
// 用于流程推进校验与审计日志
type GenerationState string

const (
	GenStatePending   GenerationState = "pending"
	GenStateGenerated GenerationState = "generated"
	GenStateValidated GenerationState = "validated"
	GenStateAccepted  GenerationState = "accepted"
	GenStateRetried   GenerationState = "retried"
	GenStateFallback  GenerationState = "fallback"
)

// 状态流转表。
// pending -> generated -> validated -> accepted/retried/fallback；
// retried 重新进入 generated；生成服务报错时从 pending/retried 直接进入重试或兜底
var generationTransitions = map[GenerationState][]GenerationState{
	GenStatePending:   {GenStateGenerated, GenStateRetried, GenStateFallback},
	GenStateGenerated: {GenStateValidated},
	GenStateValidated: {GenStateAccepted, GenStateRetried, GenStateFallback},
	GenStateRetried:   {GenStateGenerated, GenStateFallback},
}

// CanTransitionGeneration 判断生成状态流转是否合法
func CanTransitionGeneration(from, to GenerationState) bool {
	for _, allowed := range generationTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal 终态不再流转。到达终态的章节必然带有非空内容：
// accepted 是通过校验的生成内容，fallback 是模板静态兜底文本
func (s GenerationState) Terminal() bool {
	return s == GenStateAccepted || s == GenStateFallback
}

// 模型拒答或自述的特征标记，命中任意一条直接判废
var errorSignalMarkers = []string{
	"作为AI", "作为一个AI", "作为人工智能", "AI语言模型", "AI助手",
	"我无法", "我不能提供", "抱歉，我不能", "对不起，我不能", "无法完成这个请求",
	"I cannot", "I can't", "I'm sorry", "I am sorry", "As an AI",
}

// 推测性措辞，正式鉴定报告中不应出现
var speculationMarkers = []string{
	"据推测", "我猜", "大概率", "或许", "也许", "应该是",
}

// 同一正文中不应同时出现的结论表述
var contradictionPairs = [][2]string{
	{"丧失劳动能力", "未丧失劳动能力"},
	{"构成伤残", "不构成伤残"},
	{"符合受理条件", "不符合受理条件"},
	{"可以认定", "无法认定"},
}

// QualityController 章节质量评估器。
// 全部校验基于确定性的词法与结构启发式，不回调模型打分，
// 同样的内容永远得到同样的结论
type QualityController struct {
	cfg config.QualityConfig
}

func NewQualityController(cfg config.QualityConfig) *QualityController {
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = defaultPassThreshold
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = defaultMinContentLength
	}
	return &QualityController{cfg: cfg}
}

// PassThreshold 合成得分通过阈值
func (q *QualityController) PassThreshold() float64 {
	return q.cfg.PassThreshold
}

// RetryOnPolicyBlock 内容策略拦截后是否允许用简化提示词重试一次
func (q *QualityController) RetryOnPolicyBlock() bool {
	return q.cfg.RetryOnPolicyBlock
}

// Evaluate 对一次生成的章节正文做质量评估。
// 空内容与拒答标记是硬性关卡，直接判不通过且不再打分；
// 其余内容按完整性/连贯性/准确性/一致性四维度打分后加权合成
func (q *QualityController) Evaluate(content string, tpl *SectionTemplate, sctx *types.SectionContext) *types.QualityScore {
	score := &types.QualityScore{}

	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) == 0 {
		score.Issues = []string{"生成内容为空"}
		return score
	}
	if marker := findErrorSignal(content); marker != "" {
		score.Issues = []string{"内容包含拒答或模型自述标记: " + marker}
		return score
	}

	var issues []string
	score.Completeness = q.scoreCompleteness(runes, content, tpl, &issues)
	score.Coherence = scoreCoherence(content, &issues)
	score.Accuracy = scoreAccuracy(content, sctx, &issues)
	score.Consistency = scoreConsistency(content, &issues)
	score.Composite = completenessWeight*score.Completeness +
		coherenceWeight*score.Coherence +
		accuracyWeight*score.Accuracy +
		consistencyWeight*score.Consistency

	if len(runes) < q.cfg.MinContentLength {
		issues = append(issues, fmt.Sprintf("正文长度%d低于最短要求%d", len(runes), q.cfg.MinContentLength))
	}
	score.Passed = score.Composite >= q.cfg.PassThreshold && len(runes) >= q.cfg.MinContentLength
	score.Issues = issues
	return score
}

func findErrorSignal(content string) string {
	for _, marker := range errorSignalMarkers {
		if strings.Contains(content, marker) {
			return marker
		}
	}
	return ""
}

// scoreCompleteness 长度充足度与章节要点词覆盖各占一半
func (q *QualityController) scoreCompleteness(runes []rune, content string, tpl *SectionTemplate, issues *[]string) float64 {
	target := q.cfg.MinContentLength * 4
	lengthScore := float64(len(runes)) / float64(target)
	if lengthScore > 1 {
		lengthScore = 1
	}

	backboneScore := 1.0
	if tpl != nil && len(tpl.Backbone) > 0 {
		covered := 0
		for _, term := range tpl.Backbone {
			if strings.Contains(content, term) {
				covered++
			}
		}
		backboneScore = float64(covered) / float64(len(tpl.Backbone))
		if covered == 0 {
			*issues = append(*issues, "正文未覆盖任何章节要点词: "+strings.Join(tpl.Backbone, "、"))
		}
	}
	return 0.5*lengthScore + 0.5*backboneScore
}

// scoreCoherence 句子数量、收尾完整性与句长分布的结构启发式
func scoreCoherence(content string, issues *[]string) float64 {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		*issues = append(*issues, "正文没有完整句子")
		return 0.1
	}

	var score float64
	if len(sentences) >= 3 {
		score += 0.4
	} else {
		score += 0.4 * float64(len(sentences)) / 3.0
		*issues = append(*issues, "成句数量偏少")
	}

	if endsWithTerminator(content) {
		score += 0.3
	} else {
		*issues = append(*issues, "正文结尾缺少句末标点")
	}

	total := 0
	for _, s := range sentences {
		total += len([]rune(s))
	}
	avg := float64(total) / float64(len(sentences))
	if avg >= 10 && avg <= 150 {
		score += 0.3
	} else {
		score += 0.15
		*issues = append(*issues, "平均句长超出书面语合理区间")
	}
	return score
}

// scoreAccuracy 推测性措辞扣分；有上下文材料时校验正文数字是否有出处
func scoreAccuracy(content string, sctx *types.SectionContext, issues *[]string) float64 {
	score := 1.0

	speculations := 0
	for _, marker := range speculationMarkers {
		speculations += strings.Count(content, marker)
	}
	if speculations > 0 {
		penalty := 0.1 * float64(speculations)
		if penalty > 0.3 {
			penalty = 0.3
		}
		score -= penalty
		*issues = append(*issues, fmt.Sprintf("存在%d处推测性措辞", speculations))
	}

	if sctx != nil && sctx.Text != "" {
		nums := digitRuns(content)
		if len(nums) > 0 {
			grounded := 0
			for _, n := range nums {
				if strings.Contains(sctx.Text, n) {
					grounded++
				}
			}
			if grounded < len(nums) {
				fraction := float64(grounded) / float64(len(nums))
				score -= 0.5 * (1 - fraction)
				*issues = append(*issues, fmt.Sprintf("%d/%d个数字在材料中无出处", len(nums)-grounded, len(nums)))
			}
		}
	}
	return clamp01(score)
}

// scoreConsistency 检测相互矛盾的结论表述与生成退化式的重复句
func scoreConsistency(content string, issues *[]string) float64 {
	score := 1.0

	for _, pair := range contradictionPairs {
		pos := strings.Count(content, pair[0])
		neg := strings.Count(content, pair[1])
		if strings.Contains(pair[1], pair[0]) {
			// 肯定式是否定式的子串，扣除重复计数
			pos -= neg
		}
		if pos > 0 && neg > 0 {
			score -= 0.5
			*issues = append(*issues, "正文存在相互矛盾的结论表述: "+pair[0]+" / "+pair[1])
			break
		}
	}

	sentences := splitSentences(content)
	seen := make(map[string]int, len(sentences))
	for _, s := range sentences {
		if len([]rune(s)) < 10 {
			continue
		}
		seen[s]++
		if seen[s] == 2 {
			score -= 0.4
			*issues = append(*issues, "同一句子重复出现，疑似生成退化")
			break
		}
	}
	return clamp01(score)
}

// sentenceTerminators 句子切分与收尾判断共用的终止符集合
const sentenceTerminators = "。！？!?"

func splitSentences(content string) []string {
	var sentences []string
	var cur []rune
	for _, r := range content {
		if strings.ContainsRune(sentenceTerminators, r) || r == '\n' {
			if s := strings.TrimSpace(string(cur)); s != "" {
				sentences = append(sentences, s)
			}
			cur = cur[:0]
			continue
		}
		cur = append(cur, r)
	}
	if s := strings.TrimSpace(string(cur)); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func endsWithTerminator(content string) bool {
	trimmed := strings.TrimRight(content, " \t\n\r\"”」』）)")
	runes := []rune(trimmed)
	if len(runes) == 0 {
		return false
	}
	return strings.ContainsRune(sentenceTerminators, runes[len(runes)-1])
}

// digitRuns 提取长度不小于2的连续数字串，单个数字太常见不参与溯源
func digitRuns(s string) []string {
	var runs []string
	var cur []rune
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur = append(cur, r)
			continue
		}
		if len(cur) >= 2 {
			runs = append(runs, string(cur))
		}
		cur = cur[:0]
	}
	if len(cur) >= 2 {
		runs = append(runs, string(cur))
	}
	return runs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
