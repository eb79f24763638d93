package parser

import (
	"context"
	"regexp"
	"strings"

	"ai-report-go/internal/config"
	"ai-report-go/internal/types"
)

// ClassifierVersion 标识当前信号表版本, 随分类结果落库, 信号表调整时递增
const ClassifierVersion = "rule-v1"

// 关键词命中计分上限, 防止重复词条把得分推向失真
const maxKeywordHits = 8

// signalPattern 一条带权重的信号
type signalPattern struct {
	re     *regexp.Regexp
	weight float64
}

// typeSignals 单个文档类型的完整信号组
type typeSignals struct {
	// 章节标题类信号, 每条模式命中一次计一次权重
	headings []signalPattern

	// 关键词信号, 按命中次数计分(有上限)
	keywords signalPattern

	// 结构特征信号, 每条模式命中一次计一次权重
	structural []signalPattern

	// 需要整行统计的结构特征(如标签行占比), 可为nil
	extra func(prefix string, lines []string) float64
}

// 各文档类型的信号表。词表刻意保持互斥:
// 通用词(如"公司")不入表, 避免跨类型串分。
var classifierSignalTable = map[types.DocumentType]typeSignals{
	types.DocTypeResume: {
		headings: []signalPattern{
			{regexp.MustCompile(`(?m)^\s*(教育经历|教育背景|学历背景)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(工作经历|工作履历|实习经历)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(专业技能|技能特长|掌握技能)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(自我评价|个人简介|求职意向)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(项目经[历验])[\s:：]`), 1.0},
			{regexp.MustCompile(`(?im)^\s*(education|work experience|skills)\b`), 1.0},
		},
		keywords: signalPattern{regexp.MustCompile(`简历|求职|应聘|入职|离职|(?i:resume|curriculum vitae)`), 0.25},
		structural: []signalPattern{
			{regexp.MustCompile(`(?i)[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), 0.8},
			{regexp.MustCompile(`(?:\+?86)?1[3-9]\d{9}`), 0.8},
			{regexp.MustCompile(`\d{4}\s*[~至到—–-]\s*(\d{4}|至今|现在|(?i:present))`), 0.6},
		},
	},
	types.DocTypeMedicalReport: {
		headings: []signalPattern{
			{regexp.MustCompile(`(?m)^\s*(主诉|现病史|既往史)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(体格检查|辅助检查|专科检查)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*((初步|临床|出院)?诊断|医嘱|处理意见)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?im)^\s*(chief complaint|physical exam|diagnosis)\b`), 1.0},
		},
		keywords: signalPattern{regexp.MustCompile(`患者|病历|症状|复诊|用药|住院|(?i:patient|symptom|treatment)`), 0.25},
		structural: []signalPattern{
			{regexp.MustCompile(`\d{2,3}/\d{2,3}\s*mmHg`), 0.8},
			{regexp.MustCompile(`\b[A-Z]\d{2}\.\d{1,3}\b`), 0.4}, // ICD-10编码
		},
	},
	types.DocTypeEmployerInfo: {
		headings: []signalPattern{
			{regexp.MustCompile(`(?m)^\s*(公司简介|单位简介|企业概况)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(岗位职责|工作职责|岗位说明)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(工作环境|劳动条件|工时安排)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?im)^\s*(company profile|job duties|position description)\b`), 1.0},
		},
		keywords: signalPattern{regexp.MustCompile(`雇主|用人单位|劳动合同|排班|车间|工龄|(?i:employer|workplace)`), 0.25},
		structural: []signalPattern{
			{regexp.MustCompile(`统一社会信用代码|营业执照`), 0.8},
		},
	},
	types.DocTypeIntakeForm: {
		headings: []signalPattern{
			{regexp.MustCompile(`(?m)^\s*\S{0,10}(登记表|申请表|受理登记)`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(基本信息|个人信息)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(填表日期|登记日期|申请日期)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?im)^\s*(intake|application)\s+form\b`), 1.0},
		},
		keywords: signalPattern{regexp.MustCompile(`申请人|填表|身份证号|联系地址|婚姻状况|(?i:applicant)`), 0.25},
		structural: []signalPattern{
			{regexp.MustCompile(`[□☐■]`), 0.6},
		},
		extra: labelLineScore,
	},
	types.DocTypeAssessmentReport: {
		headings: []signalPattern{
			{regexp.MustCompile(`(?m)^\s*(鉴定意见|鉴定结论|评估结论)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*(鉴定依据|评估依据|分析说明)[\s:：]`), 1.0},
			{regexp.MustCompile(`(?m)^\s*\S{0,10}(鉴定报告|评估报告)`), 1.0},
			{regexp.MustCompile(`(?im)^\s*(assessment report|evaluation report|findings)\b`), 1.0},
		},
		keywords: signalPattern{regexp.MustCompile(`鉴定|评定|伤残等级|劳动能力|参照标准|(?i:assessment|evaluation)`), 0.25},
		extra:    numberedHeadingScore,
	},
	types.DocTypeCorrespondence: {
		headings: []signalPattern{
			{regexp.MustCompile(`(?m)^\s*(尊敬的|敬启者)`), 1.0},
			{regexp.MustCompile(`(?m)(此致|敬礼)\s*$`), 1.0},
			{regexp.MustCompile(`(?im)^\s*(dear\s+\S|re:)`), 1.0},
			{regexp.MustCompile(`(?im)^\s*(sincerely|best regards|yours)\b`), 0.8},
		},
		keywords: signalPattern{regexp.MustCompile(`来函|回函|函告|特此|兹有|收悉|(?i:enclosed)`), 0.25},
		structural: []signalPattern{
			{regexp.MustCompile(`(?m)^\s*\d{4}年\d{1,2}月\d{1,2}日\s*$`), 0.6},
		},
	},
}

// labelLineScore 统计"标签：值"形态行的占比。
// 表单类文档以标签行为主, 占比直接换算为得分。
func labelLineScore(prefix string, lines []string) float64 {
	if len(lines) < 4 {
		return 0
	}
	count := 0
	for _, line := range lines {
		if labelLineRe.MatchString(line) {
			count++
		}
	}
	return float64(count) / float64(len(lines)) * 2.5
}

var labelLineRe = regexp.MustCompile(`^\s*[^：:\s]{1,12}[：:]`)

// numberedHeadingScore 统计编号标题行("一、" "1." 等), 鉴定报告的惯用层级结构
func numberedHeadingScore(prefix string, lines []string) float64 {
	matches := numberedHeadingRe.FindAllStringIndex(prefix, 6)
	n := len(matches)
	return float64(n) * 0.2
}

var numberedHeadingRe = regexp.MustCompile(`(?m)^\s*([一二三四五六七八九十]+[、.．]|\d+[、.．]\s*\D)`)

// DocumentClassifier 基于词法与结构信号的规则分类器。
// 只读取文本前缀控制成本; 分数不过硬性下限或前两名过于接近时,
// 宁可输出unknown也不强行猜测 —— 误分类会级联成错误的处理策略。
type DocumentClassifier struct {
	cfg config.ClassifierConfig
}

// NewDocumentClassifier 创建文档分类器
func NewDocumentClassifier(cfg config.ClassifierConfig) *DocumentClassifier {
	return &DocumentClassifier{cfg: cfg}
}

// ClassifyDocument 对文档文本打分并给出类型与置信度。
// 置信度 = (最高分-次高分)/最高分, 裁剪到 [0,1]。
func (c *DocumentClassifier) ClassifyDocument(ctx context.Context, text string) (*types.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := prefixRunes(text, c.cfg.PrefixLimit)
	lines := strings.Split(prefix, "\n")

	scores := make(map[types.DocumentType]float64, len(types.AllDocumentTypes))

	// 固定顺序遍历, 保证同一输入的打分与选型完全确定
	var top types.DocumentType
	topScore, secondScore := -1.0, -1.0
	for _, dt := range types.AllDocumentTypes {
		sig := classifierSignalTable[dt]
		s := 0.0

		for _, h := range sig.headings {
			if h.re.MatchString(prefix) {
				s += h.weight
			}
		}

		if sig.keywords.re != nil {
			hits := len(sig.keywords.re.FindAllStringIndex(prefix, maxKeywordHits))
			s += float64(hits) * sig.keywords.weight
		}

		for _, st := range sig.structural {
			if st.re.MatchString(prefix) {
				s += st.weight
			}
		}

		if sig.extra != nil {
			s += sig.extra(prefix, lines)
		}

		scores[dt] = s
		if s > topScore {
			secondScore = topScore
			top, topScore = dt, s
		} else if s > secondScore {
			secondScore = s
		}
	}

	// 最高分不过下限: 信号太弱, 不猜
	if topScore < c.cfg.ScoreFloor {
		return &types.Classification{
			DocType:    types.DocTypeUnknown,
			Confidence: 0,
			Scores:     scores,
		}, nil
	}

	margin := (topScore - secondScore) / topScore
	if margin < 0 {
		margin = 0
	}
	if margin > 1 {
		margin = 1
	}

	// 前两名过于接近: 视为平局, 不猜
	if margin < c.cfg.TieMargin {
		return &types.Classification{
			DocType:    types.DocTypeUnknown,
			Confidence: margin,
			Scores:     scores,
		}, nil
	}

	return &types.Classification{
		DocType:    top,
		Confidence: margin,
		Scores:     scores,
	}, nil
}

// prefixRunes 取文本前limit个字符(rune口径), limit<=0时取全文
func prefixRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
