package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"ai-report-go/internal/api/handler"
	"ai-report-go/internal/config"
	"ai-report-go/internal/constants"
	"ai-report-go/internal/storage"
	"ai-report-go/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route/param"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDocumentUploadIntegration 完整走一遍上传链路：
// MinIO对象写入、source_documents落库、outbox消息入箱在同一事务内完成
func TestDocumentUploadIntegration(t *testing.T) {
	// 跳过CI环境测试
	if testing.Short() {
		t.Skip("在短模式下跳过此测试")
	}

	ctx := context.Background()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err, "加载配置失败")

	s, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		t.Skipf("存储依赖不可用，跳过集成测试: %v", err)
	}
	defer s.Close()
	if s.MinIO == nil || s.MySQL == nil {
		t.Skip("MinIO或MySQL未配置，跳过测试")
	}

	h := handler.NewDocumentHandler(cfg, s)

	content := []byte("入院记录：患者因左胫骨骨折入院，行切开复位内固定术，术后恢复良好。")
	caseUUID := uuid.Must(uuid.NewV7()).String()

	resp, err := h.HandleDocumentUpload(ctx, bytes.NewReader(content), int64(len(content)),
		"入院记录.pdf", caseUUID, "medical_record")
	require.NoError(t, err, "上传处理失败")
	require.NotEmpty(t, resp.DocumentUUID)
	assert.Equal(t, caseUUID, resp.CaseUUID)
	assert.Equal(t, "submitted_for_ingest", resp.Status)

	// 文档行落库，初始状态UPLOADED
	doc, err := s.MySQL.GetSourceDocumentByUUID(ctx, resp.DocumentUUID)
	require.NoError(t, err, "查询上传的文档失败")
	assert.Equal(t, constants.StatusUploaded, doc.ProcessingStatus)
	assert.Equal(t, "入院记录.pdf", doc.OriginalFilename)
	require.NotNil(t, doc.DeclaredType)
	assert.Equal(t, "medical_record", *doc.DeclaredType)
	assert.NotEmpty(t, doc.RawFilePathOSS)

	// outbox中有一条待投递的document.uploaded消息
	var outboxRows []models.OutboxMessage
	err = s.MySQL.DB().WithContext(ctx).
		Where("aggregate_id = ? AND event_type = ?", resp.DocumentUUID, "document.uploaded").
		Find(&outboxRows).Error
	require.NoError(t, err)
	require.Len(t, outboxRows, 1)
	assert.Equal(t, models.OutboxStatusPending, outboxRows[0].Status)

	var msg storage.DocumentUploadMessage
	require.NoError(t, json.Unmarshal([]byte(outboxRows[0].Payload), &msg))
	assert.Equal(t, resp.DocumentUUID, msg.DocumentUUID)
	assert.Equal(t, caseUUID, msg.CaseUUID)
	assert.Equal(t, doc.RawFilePathOSS, msg.RawFilePathOSS)
	assert.Equal(t, "medical_record", msg.DeclaredType)
}

// TestDocumentUploadRejectsEmptyFile 空文件直接拒绝，不产生任何落库
func TestDocumentUploadRejectsEmptyFile(t *testing.T) {
	if testing.Short() {
		t.Skip("在短模式下跳过此测试")
	}

	ctx := context.Background()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	s, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		t.Skipf("存储依赖不可用，跳过集成测试: %v", err)
	}
	defer s.Close()

	h := handler.NewDocumentHandler(cfg, s)

	_, err = h.HandleDocumentUpload(ctx, bytes.NewReader(nil), 0,
		"empty.pdf", uuid.Must(uuid.NewV7()).String(), "")
	assert.Error(t, err, "空文件应当被拒绝")
}

// TestGetClassificationNotFound 查询不存在的文档返回404
func TestGetClassificationNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("在短模式下跳过此测试")
	}

	ctx := context.Background()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	s, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		t.Skipf("存储依赖不可用，跳过集成测试: %v", err)
	}
	defer s.Close()
	if s.MySQL == nil {
		t.Skip("MySQL未配置，跳过测试")
	}

	h := handler.NewDocumentHandler(cfg, s)

	c := app.NewContext(16)
	c.Params = append(c.Params, param.Param{
		Key:   "uuid",
		Value: uuid.Must(uuid.NewV7()).String(),
	})
	h.HandleGetClassification(ctx, c)

	assert.Equal(t, consts.StatusNotFound, c.Response.StatusCode())
}
