package parser

import (
	"ai-report-go/internal/config"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
)

// AliyunEmbedder 实现 embedding.Embedder 接口。
// 文档分块与检索查询的向量化都经由它调用DashScope的OpenAI兼容端点。
type AliyunEmbedder struct {
	apiKey     string
	model      string // 默认模型
	dimensions int    // 默认维度
	httpClient *http.Client
	baseURL    string
	logger     *log.Logger
}

// NewAliyunEmbedder 创建新的阿里云Embedder (使用OpenAI兼容端点)
func NewAliyunEmbedder(apiKey string, embeddingCfg config.EmbeddingConfig) (*AliyunEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	model := embeddingCfg.Model
	if model == "" {
		model = "text-embedding-v3"
	}
	dimensions := embeddingCfg.Dimensions
	baseURL := embeddingCfg.BaseURL
	if baseURL == "" {
		baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
	}

	embedder := &AliyunEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{},
		baseURL:    baseURL,
		logger:     log.New(os.Stderr, "[AliyunEmbedder] ", log.LstdFlags|log.Lshortfile),
	}

	return embedder, nil
}

// GetDimensions 返回嵌入器配置的维度 (辅助方法, 不属于 eino.Embedder 接口)
func (a *AliyunEmbedder) GetDimensions() int {
	return a.dimensions
}

// ModelVersion 返回当前使用的嵌入模型名, 检索端缓存的查询向量用它做失效判断
func (a *AliyunEmbedder) ModelVersion() string {
	return a.model
}

// AliyunOpenAIEmbeddingRequest 阿里云Embedding请求结构 (OpenAI兼容)
type AliyunOpenAIEmbeddingRequest struct {
	Input          interface{} `json:"input"` // string 或 []string
	Model          string      `json:"model"`
	Dimensions     int         `json:"dimensions,omitempty"`      // 可选, text-embedding-v3支持
	EncodingFormat string      `json:"encoding_format,omitempty"` // 可选, 如 "float"
}

// AliyunOpenAIEmbeddingResponse 阿里云Embedding响应结构 (OpenAI兼容)
type AliyunOpenAIEmbeddingResponse struct {
	Object string                  `json:"object"` // 如 "list"
	Data   []AliyunOpenAIDataEntry `json:"data"`
	Model  string                  `json:"model"`
	Usage  AliyunOpenAIUsage       `json:"usage"`
	ID     string                  `json:"id,omitempty"`
	Error  *AliyunOpenAIError      `json:"error,omitempty"`
}

// AliyunOpenAIDataEntry 响应数据项
type AliyunOpenAIDataEntry struct {
	Object    string    `json:"object"` // 如 "embedding"
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// AliyunOpenAIUsage 响应用量统计
type AliyunOpenAIUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// AliyunOpenAIError API级别错误 (可能随200 OK返回)
type AliyunOpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param"`
	Code    string `json:"code"`
}

// EmbedStrings 将文本转换为向量, 实现 cloudwego/eino embedding.Embedder 接口
func (a *AliyunEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	// 分块文本含案件敏感信息, 日志只记录规模
	a.logger.Printf("EmbedStrings called with %d texts, total %d chars", len(texts), totalChars(texts))

	options := &embedding.Options{}
	embedding.GetCommonOptions(options, opts...)

	effectiveModel := a.model
	if options.Model != nil && *options.Model != "" {
		effectiveModel = *options.Model
	}

	effectiveDimensions := a.dimensions

	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	var inputBody interface{}
	if len(texts) == 1 {
		inputBody = texts[0]
	} else {
		inputBody = texts
	}

	reqBody := AliyunOpenAIEmbeddingRequest{
		Input: inputBody,
		Model: effectiveModel,
	}
	if effectiveDimensions > 0 {
		reqBody.Dimensions = effectiveDimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		err = fmt.Errorf("序列化请求失败: %w", err)
		a.logger.Printf("Error marshalling request: %v", err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		err = fmt.Errorf("创建HTTP请求失败: %w", err)
		a.logger.Printf("Error creating HTTP request: %v", err)
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("发送HTTP请求失败: %w", err)
		a.logger.Printf("Error sending HTTP request: %v", err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("读取响应体失败: %w", err)
		a.logger.Printf("Error reading response body: %v", err)
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiError AliyunOpenAIError
		detailedError := fmt.Errorf("API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
		// 尝试从body中解析更详细的错误信息
		if json.Unmarshal(body, &apiError) == nil && apiError.Message != "" {
			detailedError = fmt.Errorf("API调用失败, 状态码: %d, 类型: %s, 错误: %s, Code: %s", resp.StatusCode, apiError.Type, apiError.Message, apiError.Code)
		}
		a.logger.Printf("API call failed: %v", detailedError)
		return nil, detailedError
	}

	var parsedResp AliyunOpenAIEmbeddingResponse
	if err := json.Unmarshal(body, &parsedResp); err != nil {
		err = fmt.Errorf("解析响应JSON失败: %w. Body: %s", err, string(body))
		a.logger.Printf("Error unmarshalling response JSON: %v", err)
		return nil, err
	}

	// 记录解析后的响应，向量将被截断打印
	logParsedResponseWithTruncatedEmbeddings(a.logger, &parsedResp)

	// 检查响应中是否包含API级别的错误 (例如，输入文本过多)
	if parsedResp.Error != nil && parsedResp.Error.Message != "" {
		err = fmt.Errorf("API返回错误: 类型=%s, 消息='%s', Code=%s", parsedResp.Error.Type, parsedResp.Error.Message, parsedResp.Error.Code)
		a.logger.Printf("Parsed response contains API error: %v", err)
		return nil, err
	}

	// 响应顺序与输入顺序一致性由Index保证, 按Index归位
	outputEmbeddings := make([][]float64, len(parsedResp.Data))
	for _, dataEntry := range parsedResp.Data {
		if dataEntry.Index < 0 || dataEntry.Index >= len(outputEmbeddings) {
			return nil, fmt.Errorf("API响应中的索引越界: index=%d, 数据项=%d", dataEntry.Index, len(parsedResp.Data))
		}
		outputEmbeddings[dataEntry.Index] = dataEntry.Embedding
	}

	a.logger.Printf("Successfully embedded %d texts. First embedding dim (if any): %d. Prompt tokens: %d, Total tokens: %d",
		len(texts), firstEmbeddingDim(outputEmbeddings), parsedResp.Usage.PromptTokens, parsedResp.Usage.TotalTokens)

	return outputEmbeddings, nil
}

// totalChars 统计一批文本的总字符数, 仅用于日志
func totalChars(texts []string) int {
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	return total
}

// firstEmbeddingDim 安全获取首个向量的维度, 仅用于日志
func firstEmbeddingDim(embeddings [][]float64) int {
	if len(embeddings) > 0 && len(embeddings[0]) > 0 {
		return len(embeddings[0])
	}
	return 0
}

// logParsedResponseWithTruncatedEmbeddings 记录解析后的响应，并截断嵌入向量的打印
func logParsedResponseWithTruncatedEmbeddings(logger *log.Logger, resp *AliyunOpenAIEmbeddingResponse) {
	if resp == nil {
		logger.Printf("Parsed response is nil")
		return
	}

	var embeddingsSummaries []string
	for i, entry := range resp.Data {
		summary := fmt.Sprintf("Entry %d: Index=%d, Object='%s', EmbeddingDim=%d",
			i, entry.Index, entry.Object, len(entry.Embedding))
		if len(entry.Embedding) > 0 {
			summary += fmt.Sprintf(", EmbeddingValuePreview=%s", truncateEmbedding(entry.Embedding))
		}
		embeddingsSummaries = append(embeddingsSummaries, summary)
	}

	logger.Printf("Parsed Response: Object='%s', Model='%s', ID='%s', Usage={PromptTokens:%d, TotalTokens:%d}, DataEntries=%d. Data: [%s]",
		resp.Object, resp.Model, resp.ID, resp.Usage.PromptTokens, resp.Usage.TotalTokens, len(resp.Data), strings.Join(embeddingsSummaries, "; "))

	if resp.Error != nil {
		logger.Printf("Parsed Response Error: Message='%s', Type='%s', Param='%s', Code='%s'",
			resp.Error.Message, resp.Error.Type, resp.Error.Param, resp.Error.Code)
	}
}

// truncateEmbedding 截断嵌入向量的字符串表示形式
func truncateEmbedding(vector []float64) string {
	const maxLen = 6       // 如果向量长度大于此值，则截断
	const showEachSide = 3 // 截断时每边显示多少元素

	if len(vector) <= maxLen {
		return fmt.Sprintf("%v", vector)
	}

	var truncated []string
	for i := 0; i < showEachSide; i++ {
		truncated = append(truncated, fmt.Sprintf("%.4f", vector[i]))
	}
	truncated = append(truncated, "...")
	for i := len(vector) - showEachSide; i < len(vector); i++ {
		truncated = append(truncated, fmt.Sprintf("%.4f", vector[i]))
	}
	return fmt.Sprintf("[%s]", strings.Join(truncated, ", "))
}
