package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ReportCase 案件主表，文档与报告章节的归属锚点
type ReportCase struct {
	CaseUUID  string    `gorm:"type:char(36);primaryKey"`
	Title     string    `gorm:"type:varchar(255)"`
	Status    string    `gorm:"type:varchar(50);default:'ACTIVE';index:idx_cases_status"`
	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ReportCase) TableName() string {
	return "report_cases"
}

// SourceDocument 源文档表。原始内容一经分块即不可变，
// 重新分块通过递增 ChunkGeneration 实现，旧代分块成为孤儿而非就地删除
type SourceDocument struct {
	DocumentUUID         string    `gorm:"type:char(36);primaryKey"`
	CaseUUID             string    `gorm:"type:char(36);not null;index:idx_sd_case_uuid"`
	OriginalFilename     string    `gorm:"type:varchar(255)"`
	DeclaredType         *string   `gorm:"type:varchar(50)"` // 上传方声明的类型，可空；与分类器推断结果相互独立
	ContentChars         int       `gorm:"default:0"`        // 提取文本的字符数，策略选择的输入
	RawFilePathOSS       string    `gorm:"type:varchar(1024)"`
	ExtractedTextPathOSS string    `gorm:"type:varchar(1024)"`
	ExtractedTextMD5     string    `gorm:"type:char(32);index:idx_sd_text_md5"`
	ChunkGeneration      int       `gorm:"default:0"` // 当前有效分块代次，0表示尚未分块
	ProcessingStatus     string    `gorm:"type:varchar(50);default:'UPLOADED';index:idx_sd_processing_status"`
	PipelineVersion      string    `gorm:"type:varchar(50)"`
	CreatedAt            time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt            time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Case *ReportCase `gorm:"foreignKey:CaseUUID;references:CaseUUID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (SourceDocument) TableName() string {
	return "source_documents"
}

// DocumentChunk 文档分块表，检索的原子单位。
// Content 上的 FULLTEXT ngram 索引承担混合检索的词法打分半边
type DocumentChunk struct {
	ChunkDBID       uint64    `gorm:"primaryKey;autoIncrement"`
	DocumentUUID    string    `gorm:"type:char(36);not null;index:idx_dc_document_uuid;uniqueIndex:idx_dc_doc_gen_index,priority:1"`
	CaseUUID        string    `gorm:"type:char(36);not null;index:idx_dc_case_uuid"` // 冗余存储，支撑按案件范围的检索
	ChunkGeneration int       `gorm:"not null;default:1;uniqueIndex:idx_dc_doc_gen_index,priority:2"`
	ChunkIndex      int       `gorm:"not null;uniqueIndex:idx_dc_doc_gen_index,priority:3"`
	Content         string    `gorm:"type:text;not null;index:idx_dc_content_fulltext,class:FULLTEXT,option:WITH PARSER ngram"`
	CharLen         int       `gorm:"not null"`
	ParagraphStart  bool      `gorm:"default:false"`
	EmbeddingStatus string    `gorm:"type:varchar(20);default:'unembedded';index:idx_dc_embedding_status"`
	VectorPointID   *string   `gorm:"type:char(36)"` // Qdrant point ID，向量写入成功后回填
	CreatedAt       time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt       time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"` // 状态停留时长判断依据

	Document *SourceDocument `gorm:"foreignKey:DocumentUUID;references:DocumentUUID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// DocumentClassification 文档分类结果表，与文档一对一，重分类时覆盖更新
type DocumentClassification struct {
	ClassificationID  uint64         `gorm:"primaryKey;autoIncrement"`
	DocumentUUID      string         `gorm:"type:char(36);not null;uniqueIndex:idx_clf_document_uuid"`
	DocType           string         `gorm:"type:varchar(50);not null;index:idx_clf_doc_type"`
	Confidence        float64        `gorm:"type:double;not null"`
	Strategy          string         `gorm:"type:varchar(30);not null"`
	SignalScoresJSON  datatypes.JSON `gorm:"type:json"` // 各候选类型的原始信号得分
	ClassifierVersion string         `gorm:"type:varchar(50)"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Document *SourceDocument `gorm:"foreignKey:DocumentUUID;references:DocumentUUID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (DocumentClassification) TableName() string {
	return "document_classifications"
}

// ReportSection 报告章节生成记录表。
// ErrorCategory 只存净化后的错误类别，服务商原始错误文本永不落库
type ReportSection struct {
	SectionDBID            uint64         `gorm:"primaryKey;autoIncrement"`
	CaseUUID               string         `gorm:"type:char(36);not null;index:idx_sec_case_uuid;uniqueIndex:idx_sec_case_section,priority:1"`
	SectionID              string         `gorm:"type:varchar(100);not null;uniqueIndex:idx_sec_case_section,priority:2"`
	Status                 string         `gorm:"type:varchar(30);default:'pending';index:idx_sec_status"`
	Content                string         `gorm:"type:mediumtext"`
	FallbackTier           int            `gorm:"default:0"` // 0=正常 1=简化提示词重试 2=静态兜底
	StrategyUsed           string         `gorm:"type:varchar(30)"`
	ContributingChunksJSON datatypes.JSON `gorm:"type:json"` // 溯源用的分块引用列表
	ErrorCategory          string         `gorm:"type:varchar(50)"`
	GenerationAttempts     int            `gorm:"default:0"`
	LastGeneratedAt        *time.Time     `gorm:"type:datetime(6)"`
	CreatedAt              time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt              time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ReportSection) TableName() string {
	return "report_sections"
}

// QualityScoreRecord 质量评估审计表，每次生成尝试追加一条，只增不改
type QualityScoreRecord struct {
	ScoreID      uint64         `gorm:"primaryKey;autoIncrement"`
	SectionDBID  uint64         `gorm:"not null;index:idx_qs_section_db_id"`
	CaseUUID     string         `gorm:"type:char(36);not null;index:idx_qs_case_section,priority:1"`
	SectionID    string         `gorm:"type:varchar(100);not null;index:idx_qs_case_section,priority:2"`
	Attempt      int            `gorm:"not null"`
	Completeness float64        `gorm:"type:double;not null"`
	Coherence    float64        `gorm:"type:double;not null"`
	Accuracy     float64        `gorm:"type:double;not null"`
	Consistency  float64        `gorm:"type:double;not null"`
	Composite    float64        `gorm:"type:double;not null"`
	Passed       bool           `gorm:"not null"`
	IssuesJSON   datatypes.JSON `gorm:"type:json"`
	CreatedAt    time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`

	Section *ReportSection `gorm:"foreignKey:SectionDBID;references:SectionDBID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (QualityScoreRecord) TableName() string {
	return "quality_scores"
}

// MetricEvent 指标事件表，append-only
type MetricEvent struct {
	EventID      uint64         `gorm:"primaryKey;autoIncrement"`
	Component    string         `gorm:"type:varchar(100);not null;index:idx_me_comp_type_time,priority:1"`
	MetricType   string         `gorm:"type:varchar(100);not null;index:idx_me_comp_type_time,priority:2"`
	Value        float64        `gorm:"type:double;not null"`
	MetadataJSON datatypes.JSON `gorm:"type:json"`
	CreatedAt    time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_me_comp_type_time,priority:3"`
}

func (MetricEvent) TableName() string {
	return "metric_events"
}

// AlertRecord 告警记录表，状态机 raised -> acknowledged -> resolved
type AlertRecord struct {
	AlertID        uint64     `gorm:"primaryKey;autoIncrement"`
	RuleName       string     `gorm:"type:varchar(100);not null;index:idx_alert_rule_component,priority:1"`
	Component      string     `gorm:"type:varchar(100);not null;index:idx_alert_rule_component,priority:2"`
	Severity       string     `gorm:"type:varchar(20);not null"`
	Message        string     `gorm:"type:text"`
	ThresholdValue float64    `gorm:"type:double"`
	ObservedValue  float64    `gorm:"type:double"`
	Status         string     `gorm:"type:varchar(20);default:'raised';index:idx_alert_status"`
	AcknowledgedAt *time.Time `gorm:"type:datetime(6)"`
	ResolvedAt     *time.Time `gorm:"type:datetime(6)"`
	CreatedAt      time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt      time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (AlertRecord) TableName() string {
	return "alerts"
}

// StringToJSON Helper function to convert string to datatypes.JSON
func StringToJSON(s string) datatypes.JSON {
	return datatypes.JSON(s)
}

// MapToJSON Helper function to convert map[string]interface{} to datatypes.JSON
func MapToJSON(m map[string]interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// StringMapToJSON Helper function to convert map[string]string to datatypes.JSON
func StringMapToJSON(m map[string]string) (datatypes.JSON, error) {
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
