package constants

// 文档处理状态常量
// 状态机: UPLOADED -> PENDING_EXTRACTION -> INGESTED (可用)
// 失败分支: EXTRACTION_FAILED / CHUNKING_FAILED / CONTENT_DUPLICATE_SKIPPED
const (
	// StatusUploaded 文件已入对象存储，等待摄取
	StatusUploaded = "UPLOADED"
	// StatusPendingExtraction 摄取消费者已接手，文本提取中
	StatusPendingExtraction = "PENDING_EXTRACTION"
	// StatusExtractionFailed 文本提取失败
	StatusExtractionFailed = "EXTRACTION_FAILED"
	// StatusContentDuplicateSkipped 提取文本与已有文档重复，跳过后续处理
	StatusContentDuplicateSkipped = "CONTENT_DUPLICATE_SKIPPED"
	// StatusChunkingFailed 分块或分类阶段失败
	StatusChunkingFailed = "CHUNKING_FAILED"
	// StatusIngested 已分块并分类，文档即刻可用；向量化异步进行
	StatusIngested = "INGESTED"
	// StatusEmbedded 全部分块向量化完成
	StatusEmbedded = "EMBEDDED"
)

// AllowedStatusesForIngest 摄取消费者可处理的状态集合，用于幂等性检查。
// EXTRACTION_FAILED 允许重新投递后重试。
var AllowedStatusesForIngest = map[string]bool{
	StatusUploaded:          true,
	StatusPendingExtraction: true,
	StatusExtractionFailed:  true,
}

// IsStatusAllowed 判断当前状态是否在给定集合内
func IsStatusAllowed(status string, allowed map[string]bool) bool {
	return allowed[status]
}
