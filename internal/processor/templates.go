package processor

// SectionTemplate 单个报告章节的生成模板。
// Query用于检索召回，Instructions是完整提示词，SimplifiedInstructions
// 在首次生成未通过校验后的重试中使用，FallbackText是两次失败后的静态兜底
type SectionTemplate struct {
	SectionID              string   // 章节标识
	Title                  string   // 章节标题
	Query                  string   // 检索查询关键词
	Skeleton               string   // 章节应包含的内容要点，拼入提示词
	Backbone               []string // 校验用结构标记，正文应至少命中一个
	Instructions           string   // 完整生成指令
	SimplifiedInstructions string   // 重试时的简化指令
	FallbackText           string   // 静态兜底文本
}

// 报告章节模板表。顺序即报告章节顺序
var sectionTemplates = []SectionTemplate{
	{
		SectionID: "introduction",
		Title:     "案件概述",
		Query:     "申请人 基本信息 受伤经过 申请事项 受理",
		Skeleton:  "申请人身份、案件来源、申请事项",
		Backbone:  []string{"申请人", "案件"},
		Instructions: "你是劳动能力鉴定机构的报告撰写人。请根据提供的案件材料撰写报告的案件概述章节。" +
			"内容应包括：申请人基本身份信息、案件受理来源、申请鉴定的事项。" +
			"只使用材料中出现的事实，不得推测或补充材料之外的信息。材料中没有的项目直接省略，不要写\"未提供\"。" +
			"以连贯的书面语段落输出，不要使用列表。",
		SimplifiedInstructions: "根据材料用两三句话概述本案申请人和申请鉴定的事项，只写材料中明确记载的内容。",
		FallbackText: "本章节内容暂缺。案件材料已受理登记，概述内容待人工补充核实后出具。",
	},
	{
		SectionID: "medical_history",
		Title:     "医疗情况",
		Query:     "诊断 治疗 病历 主诉 检查 手术 用药 出院",
		Skeleton:  "受伤或发病经过、诊断结论、治疗过程、目前状况",
		Backbone:  []string{"诊断", "治疗"},
		Instructions: "你是劳动能力鉴定机构的报告撰写人。请根据提供的医疗材料撰写报告的医疗情况章节。" +
			"内容应按时间顺序梳理：受伤或发病经过、历次就诊的诊断结论、主要治疗过程、目前的医疗状况。" +
			"引用诊断名称时保持材料原文表述，不得改写诊断结论，不得加入任何材料之外的医学推断。" +
			"以连贯的书面语段落输出。",
		SimplifiedInstructions: "根据医疗材料按时间顺序列出诊断结论和主要治疗经过，只引用材料原文中的诊断表述。",
		FallbackText: "本章节内容暂缺。医疗材料尚待整理核实，诊断与治疗情况以原始病历记载为准。",
	},
	{
		SectionID: "work_history",
		Title:     "职业史",
		Query:     "工作 岗位 单位 劳动合同 工种 工龄 职责",
		Skeleton:  "用人单位、岗位及工种、从业时间、工作内容",
		Backbone:  []string{"单位", "岗位"},
		Instructions: "你是劳动能力鉴定机构的报告撰写人。请根据提供的材料撰写报告的职业史章节。" +
			"内容应包括：用人单位名称、从事的岗位与工种、从业起止时间、主要工作内容及作业环境。" +
			"只使用材料中记载的信息，时间和单位名称必须与材料一致。" +
			"以连贯的书面语段落输出。",
		SimplifiedInstructions: "根据材料用一段话说明申请人的工作单位、岗位和从业时间，只写材料明确记载的内容。",
		FallbackText: "本章节内容暂缺。职业史材料尚待补充，用人单位及岗位信息以劳动合同等原始材料记载为准。",
	},
	{
		SectionID: "assessment_analysis",
		Title:     "鉴定分析",
		Query:     "鉴定 评定 伤残 功能障碍 依据 标准 检查所见",
		Skeleton:  "损伤与岗位关联、功能影响分析、参照依据",
		Backbone:  []string{"分析", "依据"},
		Instructions: "你是劳动能力鉴定机构的报告撰写人。请根据提供的材料撰写报告的鉴定分析章节。" +
			"内容应围绕：损伤或疾病与工作的关联、对劳动功能的影响分析、分析所参照的材料依据。" +
			"分析必须建立在材料记载的事实之上，逐项说明依据来源，不得给出材料无法支持的结论。" +
			"以连贯的书面语段落输出。",
		SimplifiedInstructions: "根据材料分析损伤对申请人劳动功能的影响，每个论点注明出自哪份材料，不要下超出材料的结论。",
		FallbackText: "本章节内容暂缺。鉴定分析需结合完整案件材料由鉴定人出具，本节以正式鉴定意见书为准。",
	},
	{
		SectionID: "conclusion",
		Title:     "结论",
		Query:     "结论 鉴定意见 等级 建议 意见",
		Skeleton:  "主要事实归纳、倾向性意见或待定事项",
		Backbone:  []string{"综上", "意见"},
		Instructions: "你是劳动能力鉴定机构的报告撰写人。请根据提供的材料撰写报告的结论章节。" +
			"内容应归纳前述材料反映的主要事实，说明可以形成的倾向性意见以及尚待补充材料的事项。" +
			"以\"综上\"或同类归纳语起笔。结论措辞保持审慎，材料不足以支持的判断一律表述为待定。" +
			"以连贯的书面语段落输出。",
		SimplifiedInstructions: "用\"综上\"起笔，根据材料归纳本案主要事实，给出审慎的倾向性意见，不确定的事项写明待定。",
		FallbackText: "本章节内容暂缺。综合结论需待案件材料齐备后由鉴定人审核出具，本节以正式结论为准。",
	},
}

// templateIndex 按SectionID的快速查找表
var templateIndex = func() map[string]*SectionTemplate {
	idx := make(map[string]*SectionTemplate, len(sectionTemplates))
	for i := range sectionTemplates {
		idx[sectionTemplates[i].SectionID] = &sectionTemplates[i]
	}
	return idx
}()

// TemplateFor 返回章节模板，未定义的章节返回ErrUnknownSection
func TemplateFor(sectionID string) (*SectionTemplate, error) {
	tpl, ok := templateIndex[sectionID]
	if !ok {
		return nil, ErrUnknownSection
	}
	return tpl, nil
}

// SectionIDs 返回全部合法章节ID，顺序即报告章节顺序
func SectionIDs() []string {
	ids := make([]string, 0, len(sectionTemplates))
	for _, tpl := range sectionTemplates {
		ids = append(ids, tpl.SectionID)
	}
	return ids
}

// IsValidSectionID 判断章节ID是否在模板表中
func IsValidSectionID(sectionID string) bool {
	_, ok := templateIndex[sectionID]
	return ok
}
