package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// 组件未初始化错误
var (
	ErrStorageNotInit    = errors.New("storage is not initialized")    // 存储未初始化
	ErrExtractorNotInit  = errors.New("extractor is not initialized")  // 提取器未初始化
	ErrChunkerNotInit    = errors.New("chunker is not initialized")    // 分块器未初始化
	ErrClassifierNotInit = errors.New("classifier is not initialized") // 分类器未初始化
	ErrEmbedderNotInit   = errors.New("embedder is not initialized")   // 嵌入器未初始化
	ErrGeneratorNotInit  = errors.New("generator is not initialized")  // 生成客户端未初始化
)

// 流水线错误基类型。对外(API响应、report_sections表)只允许携带类别字符串,
// 服务商原始错误文本只进日志和span。
var (
	ErrClassificationUncertain  = errors.New("分类置信度不足")
	ErrRetrievalEmpty           = errors.New("检索无可用上下文")
	ErrGenerationBlocked        = errors.New("生成内容被策略拦截")
	ErrGenerationTimeout        = errors.New("生成请求超时")
	ErrExternalStoreUnavailable = errors.New("外部存储服务不可用")
	ErrDuplicateContent         = errors.New("duplicate content detected") // 提取文本与已有文档重复
	ErrUnknownSection           = errors.New("未定义的报告章节")
)

// 净化后的错误类别，落库与API响应只用这些字符串
const (
	CategoryClassificationUncertain  = "classification_uncertain"
	CategoryRetrievalEmpty           = "retrieval_empty"
	CategoryGenerationBlocked        = "generation_blocked"
	CategoryGenerationTimeout        = "generation_timeout"
	CategoryExternalStoreUnavailable = "external_store_unavailable"
)

// PipelineError 带文档/章节标识的流水线错误
type PipelineError struct {
	CaseUUID  string
	SectionID string
	Op        string
	BaseErr   error
	Detail    string
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 案件:%s, 章节:%s): %s", e.BaseErr, e.Op, e.CaseUUID, e.SectionID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 案件:%s, 章节:%s)", e.BaseErr, e.Op, e.CaseUUID, e.SectionID)
}

func (e *PipelineError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数
func NewRetrievalEmptyError(caseUUID, sectionID, detail string) error {
	return &PipelineError{
		CaseUUID:  caseUUID,
		SectionID: sectionID,
		Op:        "retrieve",
		BaseErr:   ErrRetrievalEmpty,
		Detail:    detail,
	}
}

func NewGenerationBlockedError(caseUUID, sectionID, detail string) error {
	return &PipelineError{
		CaseUUID:  caseUUID,
		SectionID: sectionID,
		Op:        "generate",
		BaseErr:   ErrGenerationBlocked,
		Detail:    detail,
	}
}

func NewGenerationTimeoutError(caseUUID, sectionID, detail string) error {
	return &PipelineError{
		CaseUUID:  caseUUID,
		SectionID: sectionID,
		Op:        "generate",
		BaseErr:   ErrGenerationTimeout,
		Detail:    detail,
	}
}

func NewExternalStoreError(op, detail string) error {
	return &PipelineError{
		Op:      op,
		BaseErr: ErrExternalStoreUnavailable,
		Detail:  detail,
	}
}

// CategoryOf 将错误映射为净化类别。不属于固定类别的错误返回空串,
// 调用方据此决定是否允许该错误出现在对外字段里。
func CategoryOf(err error) string {
	switch {
	case errors.Is(err, ErrClassificationUncertain):
		return CategoryClassificationUncertain
	case errors.Is(err, ErrRetrievalEmpty):
		return CategoryRetrievalEmpty
	case errors.Is(err, ErrGenerationTimeout):
		return CategoryGenerationTimeout
	case errors.Is(err, ErrGenerationBlocked):
		return CategoryGenerationBlocked
	case errors.Is(err, ErrExternalStoreUnavailable):
		return CategoryExternalStoreUnavailable
	default:
		return ""
	}
}

// 生成服务策略拦截的响应特征。DashScope把内容审查失败作为400错误返回，
// 错误体里带有固定的错误码。
var policyBlockMarkers = []string{
	"DataInspectionFailed",
	"data_inspection_failed",
	"inappropriate content",
	"content_filter",
	"ResponseContentFilter",
	"contentFilter",
}

// ClassifyGenerationError 把生成服务的原始错误归入净化类别。
// 超时与策略拦截分开计数，但两者的兜底处理路径相同;
// 其余服务商错误一律按拦截处理——对外永远不暴露原始错误。
func ClassifyGenerationError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryGenerationTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryGenerationTimeout
	}

	msg := err.Error()
	for _, marker := range policyBlockMarkers {
		if strings.Contains(msg, marker) {
			return CategoryGenerationBlocked
		}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "Timeout") {
		return CategoryGenerationTimeout
	}

	return CategoryGenerationBlocked
}
