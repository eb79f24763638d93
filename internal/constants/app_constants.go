package constants

import "time"

const (
	ClassificationCacheDuration = 12 * time.Hour   // 分类结果缓存TTL
	SectionLockDuration         = 5 * time.Minute  // 章节生成分布式锁TTL
	SnapshotCacheDuration       = 30 * time.Second // 指标快照缓存TTL
)
