package types

// DocumentType 表示源文档经分类器推断出的类型
type DocumentType string

const (
	// DocTypeResume 简历/CV类文档
	DocTypeResume DocumentType = "resume"
	// DocTypeMedicalReport 医疗报告类文档
	DocTypeMedicalReport DocumentType = "medical_report"
	// DocTypeEmployerInfo 雇主信息类文档
	DocTypeEmployerInfo DocumentType = "employer_info"
	// DocTypeIntakeForm 受理登记表类文档
	DocTypeIntakeForm DocumentType = "intake_form"
	// DocTypeAssessmentReport 鉴定评估报告类文档
	DocTypeAssessmentReport DocumentType = "assessment_report"
	// DocTypeCorrespondence 往来信函类文档
	DocTypeCorrespondence DocumentType = "correspondence"
	// DocTypeUnknown 无法判定类型
	DocTypeUnknown DocumentType = "unknown"
)

// AllDocumentTypes 分类器参与打分的全部已知类型（不含 unknown）
var AllDocumentTypes = []DocumentType{
	DocTypeResume,
	DocTypeMedicalReport,
	DocTypeEmployerInfo,
	DocTypeIntakeForm,
	DocTypeAssessmentReport,
	DocTypeCorrespondence,
}

// Strategy 表示文档的处理策略
type Strategy string

const (
	// StrategyDirect 直接生成：全文作为上下文，不做检索
	StrategyDirect Strategy = "direct"
	// StrategyHybrid 混合：部分检索补充上下文
	StrategyHybrid Strategy = "hybrid"
	// StrategyFullRetrieval 完整检索：上下文完全由检索结果组成
	StrategyFullRetrieval Strategy = "full_retrieval"
)

// EmbeddingStatus 表示分块向量化的进度状态
type EmbeddingStatus string

const (
	// EmbeddingStatusUnembedded 尚未向量化
	EmbeddingStatusUnembedded EmbeddingStatus = "unembedded"
	// EmbeddingStatusEmbedding 向量化进行中
	EmbeddingStatusEmbedding EmbeddingStatus = "embedding"
	// EmbeddingStatusEmbedded 向量化完成并已写入向量库
	EmbeddingStatusEmbedded EmbeddingStatus = "embedded"
)

// SectionStatus 表示报告章节对外可见的生成状态
type SectionStatus string

const (
	// SectionStatusPending 生成中或排队中
	SectionStatusPending SectionStatus = "pending"
	// SectionStatusGenerated 正常生成完成
	SectionStatusGenerated SectionStatus = "generated"
	// SectionStatusFailedWithFallback 生成失败，已使用静态兜底内容
	SectionStatusFailedWithFallback SectionStatus = "failed_with_fallback"
)

// Chunk 表示文档的一个分块，是检索的原子单位
type Chunk struct {
	// 分块在文档内的序号，从0开始
	Index int

	// 分块文本内容
	Content string

	// 字符长度（len([]rune)，与预算口径一致）
	CharLen int

	// 分块起点是否落在段落边界上
	ParagraphStart bool
}

// Classification 表示一次文档分类的完整结果
type Classification struct {
	// 推断出的文档类型
	DocType DocumentType `json:"doc_type"`

	// 置信度 [0,1]：最高分与次高分的归一化差距
	Confidence float64 `json:"confidence"`

	// 每个候选类型的原始信号得分，用于调试与审计
	Scores map[DocumentType]float64 `json:"scores,omitempty"`
}

// ScoredChunk 表示带混合打分的检索候选分块
type ScoredChunk struct {
	// 分块在MySQL中的自增ID
	ChunkID uint64 `json:"chunk_id"`

	// 所属文档UUID
	DocumentUUID string `json:"document_uuid"`

	// 分块序号
	ChunkIndex int `json:"chunk_index"`

	// 分块内容
	Content string `json:"content"`

	// 向量相似度（归一化后），无向量时为0
	VectorScore float64 `json:"vector_score"`

	// 词法匹配得分（归一化后）
	LexicalScore float64 `json:"lexical_score"`

	// 加权合成得分
	CombinedScore float64 `json:"combined_score"`

	// 该分块是否已有向量参与打分
	HasEmbedding bool `json:"has_embedding"`
}

// RetrievalResult 表示一次检索调用的完整结果，临时对象不落库
type RetrievalResult struct {
	Query    string        `json:"query"`
	CaseUUID string        `json:"case_uuid"`
	Chunks   []ScoredChunk `json:"chunks"`

	// Empty 为 true 时 Reason 说明为何没有可用上下文
	Empty  bool   `json:"empty"`
	Reason string `json:"reason,omitempty"`

	// 本次检索实际使用的相似度下限（可能经过一次放宽）
	FloorUsed    float64 `json:"floor_used"`
	FloorRelaxed bool    `json:"floor_relaxed"`
}

// ChunkRef 章节溯源用的分块引用
type ChunkRef struct {
	ChunkID       uint64  `json:"chunk_id"`
	DocumentUUID  string  `json:"document_uuid"`
	ChunkIndex    int     `json:"chunk_index"`
	CombinedScore float64 `json:"combined_score"`
}

// SectionContext 表示组装完成、可直接送入生成服务的章节上下文
type SectionContext struct {
	// 目标章节ID
	SectionID string

	// 所属案件UUID
	CaseUUID string

	// 组装后的上下文文本，长度受硬性字符预算约束
	Text string

	// 参与组装的分块引用，按排名顺序
	Contributing []ChunkRef

	// 上下文是否来自检索（false 表示直接取原文分块）
	FromRetrieval bool
}

// QualityScore 表示一次生成尝试的质量评估结果
type QualityScore struct {
	// 各子维度得分，均在 [0,1]
	Completeness float64 `json:"completeness"`
	Coherence    float64 `json:"coherence"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`

	// 合成得分：固定权重加权和
	Composite float64 `json:"composite"`

	// 是否达到通过阈值
	Passed bool `json:"passed"`

	// 未通过时的具体问题描述，仅用于内部日志与审计
	Issues []string `json:"issues,omitempty"`
}

// SectionResult 章节生成的对外结果视图
type SectionResult struct {
	CaseUUID     string        `json:"case_uuid"`
	SectionID    string        `json:"section_id"`
	Status       SectionStatus `json:"status"`
	Content      string        `json:"content,omitempty"`
	FallbackTier int           `json:"fallback_tier"`
	Contributing []ChunkRef    `json:"contributing_chunks,omitempty"`

	// 失败时仅暴露净化后的错误类别，绝不包含服务商原始错误文本
	ErrorCategory string `json:"error_category,omitempty"`
}
