package parser

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-report-go/internal/config"
	"ai-report-go/internal/types"
)

func testClassifierConfig() config.ClassifierConfig {
	return config.ClassifierConfig{
		PrefixLimit: 6000,
		ScoreFloor:  1.0,
		TieMargin:   0.05,
	}
}

const sampleResumeText = `张三的简历

教育经历：
2015-2019 某大学 机械工程 本科

工作经历：
2019.07-2023.06 某制造公司 装配技术员

专业技能：
熟悉装配工艺与质量检验流程

联系方式：zhangsan@example.com 13800138000
`

const sampleMedicalText = `主诉：腰部疼痛三个月，加重一周。

现病史：患者三个月前搬运重物后出现持续性腰痛，休息后无明显缓解。

体格检查：血压 120/80 mmHg，腰椎活动受限，直腿抬高试验阳性。

出院诊断：腰椎间盘突出症。
`

const sampleIntakeFormText = `工伤认定申请登记表

基本信息：
姓名：李四    性别：男
出生日期：1985年3月2日
身份证号：110101198503021234
联系电话：13900139000
联系地址：某市某区某街道

登记日期：2024年1月5日
是否首次申请：□是 ■否
`

func TestClassifyDocument_Resume(t *testing.T) {
	classifier := NewDocumentClassifier(testClassifierConfig())

	result, err := classifier.ClassifyDocument(context.Background(), sampleResumeText)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, types.DocTypeResume, result.DocType, "标准简历文本应判为resume")
	assert.Greater(t, result.Confidence, 0.5, "信号充分时置信度应明显高于平局线")
	assert.Len(t, result.Scores, len(types.AllDocumentTypes), "应返回全部类型的打分明细")
	assert.Greater(t, result.Scores[types.DocTypeResume], result.Scores[types.DocTypeMedicalReport])
}

func TestClassifyDocument_MedicalReport(t *testing.T) {
	classifier := NewDocumentClassifier(testClassifierConfig())

	result, err := classifier.ClassifyDocument(context.Background(), sampleMedicalText)
	require.NoError(t, err)

	assert.Equal(t, types.DocTypeMedicalReport, result.DocType, "病历结构化标题应判为medical_report")
	assert.Greater(t, result.Confidence, 0.5)
}

func TestClassifyDocument_IntakeForm(t *testing.T) {
	classifier := NewDocumentClassifier(testClassifierConfig())

	result, err := classifier.ClassifyDocument(context.Background(), sampleIntakeFormText)
	require.NoError(t, err)

	assert.Equal(t, types.DocTypeIntakeForm, result.DocType, "标签行与勾选框密集的表单应判为intake_form")
	assert.Greater(t, result.Confidence, 0.5)
}

func TestClassifyDocument_WeakSignalsReturnsUnknown(t *testing.T) {
	classifier := NewDocumentClassifier(testClassifierConfig())

	result, err := classifier.ClassifyDocument(context.Background(), "今天天气不错，适合散步。\n")
	require.NoError(t, err)

	assert.Equal(t, types.DocTypeUnknown, result.DocType, "无信号文本最高分低于下限, 应判为unknown")
	assert.Zero(t, result.Confidence)
}

func TestClassifyDocument_TieReturnsUnknown(t *testing.T) {
	classifier := NewDocumentClassifier(testClassifierConfig())

	// 刚好各命中一条标题信号, 两类得分完全相同
	text := "教育经历 2015年入学\n尊敬的王先生：\n"
	result, err := classifier.ClassifyDocument(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, result.Scores[types.DocTypeResume], result.Scores[types.DocTypeCorrespondence],
		"构造文本应使两类得分持平")
	assert.Equal(t, types.DocTypeUnknown, result.DocType, "得分持平时宁可不判, 输出unknown")
	assert.Less(t, result.Confidence, 0.05)
}

func TestClassifyDocument_OnlyReadsPrefix(t *testing.T) {
	classifier := NewDocumentClassifier(testClassifierConfig())

	// 信号全部排在前缀窗口之外
	text := strings.Repeat("预", 6100) + "\n\n" + sampleMedicalText
	result, err := classifier.ClassifyDocument(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, types.DocTypeUnknown, result.DocType, "前缀窗口之外的信号不应参与打分")

	// 不限长度时同一文本可正常识别
	unlimited := NewDocumentClassifier(config.ClassifierConfig{PrefixLimit: 0, ScoreFloor: 1.0, TieMargin: 0.05})
	result2, err := unlimited.ClassifyDocument(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, types.DocTypeMedicalReport, result2.DocType)
}

func TestClassifyDocument_Deterministic(t *testing.T) {
	classifier := NewDocumentClassifier(testClassifierConfig())
	ctx := context.Background()

	first, err := classifier.ClassifyDocument(ctx, sampleResumeText)
	require.NoError(t, err)
	second, err := classifier.ClassifyDocument(ctx, sampleResumeText)
	require.NoError(t, err)

	require.Equal(t, first, second, "相同文本的分类结果必须完全一致")
}

func TestClassifyDocument_ConfidenceRange(t *testing.T) {
	classifier := NewDocumentClassifier(testClassifierConfig())
	ctx := context.Background()

	for _, text := range []string{sampleResumeText, sampleMedicalText, sampleIntakeFormText, "短文本", ""} {
		result, err := classifier.ClassifyDocument(ctx, text)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.Confidence, 0.0)
		assert.LessOrEqual(t, result.Confidence, 1.0, "置信度必须落在[0,1]区间")
	}
}
