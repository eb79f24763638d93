package processor

import (
	"strings"
	"testing"

	"ai-report-go/internal/config"
	"ai-report-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasIssueContaining(issues []string, substr string) bool {
	for _, issue := range issues {
		if strings.Contains(issue, substr) {
			return true
		}
	}
	return false
}

func testQualityConfig() config.QualityConfig {
	return config.QualityConfig{
		PassThreshold:      0.70,
		MinContentLength:   150,
		RetryOnPolicyBlock: true,
	}
}

// 一段结构完整、覆盖医疗章节要点词的正文
const acceptableMedicalContent = "经审查送检的住院病历及门诊记录，申请人因工作中右手被冲压设备挤压受伤，当日送至市第一人民医院急诊处理。" +
	"入院诊断为右手第二掌骨开放性骨折并软组织挫裂伤，行清创缝合及内固定手术，术后予以抗感染及对症治疗。" +
	"住院治疗十四天后出院，出院诊断与入院诊断一致。" +
	"出院后定期于门诊复查，骨折线逐步模糊，内固定位置良好。" +
	"后续治疗以功能锻炼为主，辅以物理治疗，恢复情况总体平稳。"

func medicalTemplate(t *testing.T) *SectionTemplate {
	t.Helper()
	tpl, err := TemplateFor("medical_history")
	require.NoError(t, err)
	return tpl
}

func TestEvaluate_AcceptableContentPasses(t *testing.T) {
	q := NewQualityController(testQualityConfig())

	score := q.Evaluate(acceptableMedicalContent, medicalTemplate(t), nil)

	assert.True(t, score.Passed)
	assert.GreaterOrEqual(t, score.Composite, 0.70)
	for name, v := range map[string]float64{
		"completeness": score.Completeness,
		"coherence":    score.Coherence,
		"accuracy":     score.Accuracy,
		"consistency":  score.Consistency,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
}

// 合成得分必须恒等于四个子维度的固定权重加权和
func TestEvaluate_CompositeIsWeightedSum(t *testing.T) {
	q := NewQualityController(testQualityConfig())

	for _, content := range []string{
		acceptableMedicalContent,
		"申请人伤情稳定，诊断明确，治疗规范。",
		"经评定构成伤残。但另有材料载明不构成伤残。案件情况有待复核，相关结论以复核为准。",
	} {
		score := q.Evaluate(content, medicalTemplate(t), nil)
		expected := 0.30*score.Completeness + 0.25*score.Coherence +
			0.25*score.Accuracy + 0.20*score.Consistency
		assert.InDelta(t, expected, score.Composite, 1e-9)
	}
}

// 不论输入多离谱，四个子维度和合成得分都必须落在[0,1]内
func TestEvaluate_ScoresStayInUnitRange(t *testing.T) {
	q := NewQualityController(testQualityConfig())
	sctx := &types.SectionContext{
		SectionID: "medical_history",
		CaseUUID:  "case-1",
		Text:      "【材料1】\n申请人住院14天。",
	}

	samples := []string{
		"",
		"短。",
		acceptableMedicalContent,
		"经评定构成伤残。但另有材料载明不构成伤残。" + acceptableMedicalContent,
		"或许与既往病史有关，可能需要复查，似乎还有其他致伤因素，大概在恢复期，估计结论会有变化。",
		"主张赔偿56000元，另有费用3200元、800元、12000元，均无对应票据。",
		strings.Repeat("同一句话反复出现在生成结果里面。", 50),
	}

	for i, content := range samples {
		score := q.Evaluate(content, medicalTemplate(t), sctx)
		for name, v := range map[string]float64{
			"completeness": score.Completeness,
			"coherence":    score.Coherence,
			"accuracy":     score.Accuracy,
			"consistency":  score.Consistency,
			"composite":    score.Composite,
		} {
			assert.GreaterOrEqual(t, v, 0.0, "样本%d的%s得分越下界", i, name)
			assert.LessOrEqual(t, v, 1.0, "样本%d的%s得分越上界", i, name)
		}
	}
}

func TestEvaluate_EmptyContentFails(t *testing.T) {
	q := NewQualityController(testQualityConfig())

	for _, content := range []string{"", "   ", "\n\t\n"} {
		score := q.Evaluate(content, medicalTemplate(t), nil)
		assert.False(t, score.Passed)
		assert.Zero(t, score.Composite)
		assert.NotEmpty(t, score.Issues)
	}
}

// 拒答标记是硬性关卡：即使其余内容再长也直接判废
func TestEvaluate_RefusalSignalFails(t *testing.T) {
	q := NewQualityController(testQualityConfig())

	refusals := []string{
		"抱歉，我不能协助完成这个请求。",
		"I cannot assist with generating this section.",
		"作为AI助手，" + acceptableMedicalContent,
	}
	for _, content := range refusals {
		score := q.Evaluate(content, medicalTemplate(t), nil)
		assert.False(t, score.Passed)
		assert.Zero(t, score.Composite)
		require.NotEmpty(t, score.Issues)
		assert.Contains(t, score.Issues[0], "拒答")
	}
}

func TestEvaluate_TooShortContentFails(t *testing.T) {
	q := NewQualityController(testQualityConfig())

	score := q.Evaluate("申请人伤情稳定，诊断明确，治疗规范。", medicalTemplate(t), nil)

	assert.False(t, score.Passed)
	assert.True(t, hasIssueContaining(score.Issues, "低于最短要求"),
		"应记录长度不足的问题: %v", score.Issues)
}

func TestEvaluate_ContradictionPenalized(t *testing.T) {
	q := NewQualityController(testQualityConfig())

	content := acceptableMedicalContent +
		"经评定构成伤残。但另有材料载明不构成伤残。"
	score := q.Evaluate(content, medicalTemplate(t), nil)

	assert.LessOrEqual(t, score.Consistency, 0.5)
	assert.True(t, hasIssueContaining(score.Issues, "矛盾"))
}

func TestEvaluate_UngroundedNumbersPenalized(t *testing.T) {
	q := NewQualityController(testQualityConfig())
	sctx := &types.SectionContext{
		SectionID: "medical_history",
		CaseUUID:  "case-1",
		Text:      "【材料1】\n申请人住院14天，医疗费用共计2300元。",
	}

	// "14"在材料中有出处，"56000"没有
	score := q.Evaluate("申请人住院14天，主张赔偿56000元。", medicalTemplate(t), sctx)

	assert.InDelta(t, 0.75, score.Accuracy, 1e-9)
	assert.True(t, hasIssueContaining(score.Issues, "无出处"))
}

func TestEvaluate_SpeculationPenalized(t *testing.T) {
	q := NewQualityController(testQualityConfig())

	score := q.Evaluate("伤情或许与既往病史有关，具体成因有待进一步检查确认。", medicalTemplate(t), nil)

	assert.InDelta(t, 0.9, score.Accuracy, 1e-9)
}

func TestGenerationStateTransitions(t *testing.T) {
	allowed := [][2]GenerationState{
		{GenStatePending, GenStateGenerated},
		{GenStatePending, GenStateRetried},
		{GenStatePending, GenStateFallback},
		{GenStateGenerated, GenStateValidated},
		{GenStateValidated, GenStateAccepted},
		{GenStateValidated, GenStateRetried},
		{GenStateValidated, GenStateFallback},
		{GenStateRetried, GenStateGenerated},
		{GenStateRetried, GenStateFallback},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransitionGeneration(pair[0], pair[1]),
			"%s -> %s 应为合法流转", pair[0], pair[1])
	}

	forbidden := [][2]GenerationState{
		{GenStatePending, GenStateValidated},
		{GenStatePending, GenStateAccepted},
		{GenStateGenerated, GenStateAccepted},
		{GenStateGenerated, GenStateRetried},
		{GenStateValidated, GenStateGenerated},
		{GenStateAccepted, GenStateRetried},
		{GenStateAccepted, GenStateFallback},
		{GenStateFallback, GenStateGenerated},
		{GenStateFallback, GenStateAccepted},
	}
	for _, pair := range forbidden {
		assert.False(t, CanTransitionGeneration(pair[0], pair[1]),
			"%s -> %s 不应为合法流转", pair[0], pair[1])
	}
}

func TestGenerationStateTerminal(t *testing.T) {
	assert.True(t, GenStateAccepted.Terminal())
	assert.True(t, GenStateFallback.Terminal())
	assert.False(t, GenStatePending.Terminal())
	assert.False(t, GenStateGenerated.Terminal())
	assert.False(t, GenStateValidated.Terminal())
	assert.False(t, GenStateRetried.Terminal())
}

// 每个章节模板都必须有非空兜底文本，这是终态非空承诺的底座
func TestAllTemplatesCarryFallbackText(t *testing.T) {
	for _, sectionID := range SectionIDs() {
		tpl, err := TemplateFor(sectionID)
		require.NoError(t, err)
		assert.NotEmpty(t, tpl.FallbackText, sectionID)
		assert.NotEmpty(t, tpl.SimplifiedInstructions, sectionID)
	}
}
