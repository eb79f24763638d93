package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// DocModulePrefix 文档模块
	DocModulePrefix = "doc"
	// SectionModulePrefix 报告章节模块
	SectionModulePrefix = "section"
	// RetrievalModulePrefix 检索模块
	RetrievalModulePrefix = "retrieval"
	// MetricsModulePrefix 指标模块
	MetricsModulePrefix = "metrics"

	// EntityClassification 分类结果实体
	EntityClassification = "classification"
	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntitySnapshot 指标快照实体
	EntitySnapshot = "snapshot"

	// KeyClassificationCache 分类结果缓存 (STRING, JSON值)
	// 格式: app:doc:classification:{textMD5}
	KeyClassificationCache = AppPrefix + ":" + DocModulePrefix + ":" + EntityClassification + ":%s"

	// KeyExtractedTextMD5Set 提取文本MD5集合，用于内容去重 (SET)
	// 格式: app:doc:dedup_set
	KeyExtractedTextMD5Set = AppPrefix + ":" + DocModulePrefix + ":" + EntityDedupSet

	// KeySectionLock 章节生成分布式锁 (STRING)
	// 格式: app:section:lock:{caseUUID}:{sectionID}
	KeySectionLock = AppPrefix + ":" + SectionModulePrefix + ":" + EntityLock + ":%s:%s"

	// KeyQueryVectorCache 检索查询向量缓存 (HASH, 字段: vector, model_version)
	// 格式: app:retrieval:query_vec:{queryHash}
	KeyQueryVectorCache = AppPrefix + ":" + RetrievalModulePrefix + ":query_vec:%s"

	// KeyMetricsSnapshot 滚动窗口指标快照缓存 (STRING, JSON值)
	// 格式: app:metrics:snapshot:{windowMinutes}
	KeyMetricsSnapshot = AppPrefix + ":" + MetricsModulePrefix + ":" + EntitySnapshot + ":%d"
)
