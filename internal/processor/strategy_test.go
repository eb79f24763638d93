package processor

import (
	"testing"

	"ai-report-go/internal/config"
	"ai-report-go/internal/types"

	"github.com/stretchr/testify/assert"
)

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		SmallDocThreshold:  20000,
		LargeDocThreshold:  60000,
		LowConfidenceFloor: 0.30,
	}
}

func confidentClassification() *types.Classification {
	return &types.Classification{
		DocType:    types.DocTypeIntakeForm,
		Confidence: 0.9,
	}
}

func TestStrategySelector_SizeTiers(t *testing.T) {
	selector := NewStrategySelector(testStrategyConfig())
	cls := confidentClassification()

	tests := []struct {
		name         string
		contentChars int
		want         types.Strategy
	}{
		{"小文档走direct", 15000, types.StrategyDirect},
		{"小文档上界内", 19999, types.StrategyDirect},
		{"正好到达hybrid下界", 20000, types.StrategyHybrid},
		{"中等文档走hybrid", 40000, types.StrategyHybrid},
		{"hybrid上界内", 59999, types.StrategyHybrid},
		{"正好到达full_retrieval下界", 60000, types.StrategyFullRetrieval},
		{"大文档走full_retrieval", 80000, types.StrategyFullRetrieval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selector.Select(tt.contentChars, cls)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrategySelector_LowConfidenceEscalatesToHybrid(t *testing.T) {
	selector := NewStrategySelector(testStrategyConfig())

	tests := []struct {
		name string
		cls  *types.Classification
		want types.Strategy
	}{
		{
			name: "置信度低于下限",
			cls:  &types.Classification{DocType: types.DocTypeResume, Confidence: 0.29},
			want: types.StrategyHybrid,
		},
		{
			name: "置信度正好等于下限",
			cls:  &types.Classification{DocType: types.DocTypeResume, Confidence: 0.30},
			want: types.StrategyDirect,
		},
		{
			name: "分类结果为unknown",
			cls:  &types.Classification{DocType: types.DocTypeUnknown, Confidence: 0.8},
			want: types.StrategyHybrid,
		},
		{
			name: "缺少分类结果",
			cls:  nil,
			want: types.StrategyHybrid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selector.Select(15000, tt.cls)
			assert.Equal(t, tt.want, got)
		})
	}
}

// 低置信度只影响小文档，中大型文档分档不受分类结果影响
func TestStrategySelector_ConfidenceIgnoredAboveSmallTier(t *testing.T) {
	selector := NewStrategySelector(testStrategyConfig())

	assert.Equal(t, types.StrategyHybrid, selector.Select(30000, nil))
	assert.Equal(t, types.StrategyFullRetrieval, selector.Select(60000, nil))
}

func TestStrategySelector_ZeroConfigFallsBackToDefaults(t *testing.T) {
	selector := NewStrategySelector(config.StrategyConfig{})
	cls := confidentClassification()

	assert.Equal(t, types.StrategyDirect, selector.Select(19999, cls))
	assert.Equal(t, types.StrategyHybrid, selector.Select(20000, cls))
	assert.Equal(t, types.StrategyFullRetrieval, selector.Select(60000, cls))
}
