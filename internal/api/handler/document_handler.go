package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/constants"
	"ai-report-go/internal/logger"
	storage2 "ai-report-go/internal/storage"
	"ai-report-go/internal/storage/models"
	"ai-report-go/pkg/utils"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
	"gorm.io/gorm"
)

// DocumentHandler 处理案件材料的上传与查询
type DocumentHandler struct {
	cfg     *config.Config
	storage *storage2.Storage
}

func NewDocumentHandler(cfg *config.Config, storage *storage2.Storage) *DocumentHandler {
	return &DocumentHandler{
		cfg:     cfg,
		storage: storage,
	}
}

// DocumentUploadResponse 文档上传响应
type DocumentUploadResponse struct {
	DocumentUUID string `json:"document_uuid"`
	CaseUUID     string `json:"case_uuid"`
	Status       string `json:"status"`
}

// HandleDocumentUpload 接收上传的案件材料。
// 文件先落MinIO，然后在一个事务里写文档记录和outbox事件，
// 摄取消息由relay投递，数据库状态和消息发布不会脱节。
// 内容级去重在摄取阶段按提取文本MD5进行，这里不做文件级拦截
func (h *DocumentHandler) HandleDocumentUpload(ctx context.Context, reader io.Reader, fileSize int64,
	filename, caseUUID, declaredType string) (*DocumentUploadResponse, error) {

	fileBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取上传文件内容失败: %w", err)
	}
	if len(fileBytes) == 0 {
		return nil, fmt.Errorf("上传文件为空")
	}

	uuidV7, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	documentUUID := uuidV7.String()

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".pdf"
	}

	rawObjectKey, err := h.storage.MinIO.UploadDocumentFile(ctx, documentUUID, ext, bytes.NewReader(fileBytes), int64(len(fileBytes)))
	if err != nil {
		return nil, fmt.Errorf("上传材料到MinIO失败: %w", err)
	}

	uploadedAt := time.Now()
	message := storage2.DocumentUploadMessage{
		DocumentUUID:     documentUUID,
		CaseUUID:         caseUUID,
		UploadTimestamp:  uploadedAt,
		DeclaredType:     declaredType,
		OriginalFilename: filename,
		RawFilePathOSS:   rawObjectKey,
	}
	payloadBytes, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("序列化上传事件失败: %w", err)
	}

	err = h.storage.MySQL.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := h.storage.MySQL.FindOrCreateReportCase(ctx, tx, caseUUID, ""); err != nil {
			return err
		}

		doc := models.SourceDocument{
			DocumentUUID:     documentUUID,
			CaseUUID:         caseUUID,
			OriginalFilename: filename,
			RawFilePathOSS:   rawObjectKey,
			ProcessingStatus: constants.StatusUploaded,
		}
		if declaredType != "" {
			doc.DeclaredType = utils.StringPtr(declaredType)
		}
		if err := tx.Create(&doc).Error; err != nil {
			return fmt.Errorf("写入文档记录失败: %w", err)
		}

		outboxEntry := models.OutboxMessage{
			AggregateID:      documentUUID,
			EventType:        "document.uploaded",
			Payload:          string(payloadBytes),
			TargetExchange:   h.cfg.RabbitMQ.DocumentEventsExchange,
			TargetRoutingKey: h.cfg.RabbitMQ.UploadedRoutingKey,
		}
		if err := tx.Create(&outboxEntry).Error; err != nil {
			return fmt.Errorf("插入outbox记录失败: %w", err)
		}
		return nil
	})
	if err != nil {
		// MinIO对象留作孤儿，由桶生命周期规则清理
		logger.Error().Err(err).Str("document_uuid", documentUUID).Msg("上传落库事务失败")
		return nil, err
	}

	logger.Info().
		Str("document_uuid", documentUUID).
		Str("case_uuid", caseUUID).
		Str("filename", filename).
		Int("size_bytes", len(fileBytes)).
		Msg("材料上传受理")

	return &DocumentUploadResponse{
		DocumentUUID: documentUUID,
		CaseUUID:     caseUUID,
		Status:       "submitted_for_ingest",
	}, nil
}

// ClassificationResponse 文档分类查询响应
type ClassificationResponse struct {
	DocumentUUID     string          `json:"document_uuid"`
	ProcessingStatus string          `json:"processing_status"`
	DocType          string          `json:"doc_type,omitempty"`
	Confidence       float64         `json:"confidence,omitempty"`
	Strategy         string          `json:"strategy,omitempty"`
	SignalScores     json.RawMessage `json:"signal_scores,omitempty"`
}

// HandleGetClassification 查询文档的分类结果与路由策略。
// 文档存在但尚未摄取完成时只返回处理状态
func (h *DocumentHandler) HandleGetClassification(ctx context.Context, c *app.RequestContext) {
	documentUUID := c.Param("uuid")
	if documentUUID == "" {
		c.JSON(consts.StatusBadRequest, map[string]interface{}{"error": "缺少文档UUID"})
		return
	}

	doc, err := h.storage.MySQL.GetSourceDocumentByUUID(ctx, documentUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(consts.StatusNotFound, map[string]interface{}{"error": "文档不存在"})
			return
		}
		logger.Error().Err(err).Str("document_uuid", documentUUID).Msg("查询文档失败")
		c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "查询文档失败"})
		return
	}

	resp := ClassificationResponse{
		DocumentUUID:     doc.DocumentUUID,
		ProcessingStatus: doc.ProcessingStatus,
	}

	clf, err := h.storage.MySQL.GetDocumentClassification(ctx, documentUUID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error().Err(err).Str("document_uuid", documentUUID).Msg("查询分类结果失败")
			c.JSON(consts.StatusInternalServerError, map[string]interface{}{"error": "查询分类结果失败"})
			return
		}
		// 尚未分类，只带处理状态
		c.JSON(consts.StatusOK, resp)
		return
	}

	resp.DocType = clf.DocType
	resp.Confidence = clf.Confidence
	resp.Strategy = clf.Strategy
	if len(clf.SignalScoresJSON) > 0 {
		resp.SignalScores = json.RawMessage(clf.SignalScoresJSON)
	}
	c.JSON(consts.StatusOK, resp)
}
