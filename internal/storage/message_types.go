package storage

import "time"

// DocumentUploadMessage 文档上传消息，上传接口写入outbox后由relay投递到摄取队列
type DocumentUploadMessage struct {
	// 与数据库表字段一致的主要字段
	DocumentUUID     string    `json:"document_uuid"`            // 文档UUID，主键
	CaseUUID         string    `json:"case_uuid"`                // 所属案件UUID
	UploadTimestamp  time.Time `json:"upload_timestamp"`         // 上传时间戳
	DeclaredType     string    `json:"declared_type,omitempty"` // 上传方声明的文档类型，可空
	OriginalFilename string    `json:"original_filename"`       // 原始文件名
	RawFilePathOSS   string    `json:"raw_file_path_oss"`       // MinIO中的原始文件对象路径
}

// DocumentIngestedMessage 摄取完成通知。走outbox投递到文档事件交换机，
// 供案件看板等外部订阅方感知文档已可用于报告生成
type DocumentIngestedMessage struct {
	DocumentUUID string `json:"document_uuid"`
	CaseUUID     string `json:"case_uuid"`
	ChunkCount   int    `json:"chunk_count"`
	ContentChars int    `json:"content_chars"`
	IngestedAt   int64  `json:"ingested_at"`
}

// ChunkEmbeddingMessage 分块向量化消息，摄取完成后按文档粒度投递到优先级队列。
// Priority 与文档大小成反比，小文档先完成向量化
type ChunkEmbeddingMessage struct {
	DocumentUUID    string `json:"document_uuid"`         // 文档UUID
	CaseUUID        string `json:"case_uuid"`             // 所属案件UUID
	ChunkGeneration int    `json:"chunk_generation"`      // 待向量化的分块代次
	ChunkCount      int    `json:"chunk_count"`           // 该代次的分块总数
	ContentChars    int    `json:"content_chars"`         // 文档字符数，用于重算优先级
	Priority        uint8  `json:"priority"`              // AMQP优先级 0-10
	EnqueuedAt      int64  `json:"enqueued_at,omitempty"` // 入队Unix时间戳
	Requeue         bool   `json:"requeue,omitempty"`     // 是否为backfill重新入队
}
