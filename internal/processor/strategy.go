package processor

import (
	"ai-report-go/internal/config"
	"ai-report-go/internal/types"
)

// 策略选择的缺省阈值，配置缺失时兜底
const (
	defaultSmallDocThreshold  = 20000
	defaultLargeDocThreshold  = 60000
	defaultLowConfidenceFloor = 0.30
)

// StrategySelector 按文档规模和分类置信度选择处理策略。
// 纯函数组件，不做任何IO，分界值落在上一档的说明见Select
type StrategySelector struct {
	cfg config.StrategyConfig
}

// NewStrategySelector 创建策略选择器，零值配置回落到缺省阈值
func NewStrategySelector(cfg config.StrategyConfig) *StrategySelector {
	if cfg.SmallDocThreshold <= 0 {
		cfg.SmallDocThreshold = defaultSmallDocThreshold
	}
	if cfg.LargeDocThreshold <= cfg.SmallDocThreshold {
		cfg.LargeDocThreshold = defaultLargeDocThreshold
	}
	if cfg.LowConfidenceFloor <= 0 {
		cfg.LowConfidenceFloor = defaultLowConfidenceFloor
	}
	return &StrategySelector{cfg: cfg}
}

// Select 根据字符数与分类结果决定策略：
//   - 小于SmallDocThreshold走direct，但分类不可信时升级为hybrid，
//     宁可多做一次检索也不把不明类型的全文直接塞进提示词
//   - [SmallDocThreshold, LargeDocThreshold) 走hybrid
//   - 达到LargeDocThreshold走full_retrieval，阈值本身归入上一档
func (s *StrategySelector) Select(contentChars int, cls *types.Classification) types.Strategy {
	if contentChars >= s.cfg.LargeDocThreshold {
		return types.StrategyFullRetrieval
	}
	if contentChars >= s.cfg.SmallDocThreshold {
		return types.StrategyHybrid
	}
	if !trustworthy(cls, s.cfg.LowConfidenceFloor) {
		return types.StrategyHybrid
	}
	return types.StrategyDirect
}

// trustworthy 判断分类结果是否可信：存在、非unknown且置信度达标
func trustworthy(cls *types.Classification, floor float64) bool {
	if cls == nil {
		return false
	}
	if cls.DocType == types.DocTypeUnknown {
		return false
	}
	return cls.Confidence >= floor
}
