package storage_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/storage"
	"ai-report-go/pkg/utils"

	"github.com/gofrs/uuid/v5"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinIO_DocumentObjectLifecycle 对本地MinIO走一遍材料对象的完整生命周期：
// 流式上传、读回、提取文本round-trip、预签名、删除
func TestMinIO_DocumentObjectLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("跳过MinIO集成测试 (short mode)")
	}

	cfg, err := config.LoadConfig("")
	require.NoError(t, err, "加载配置不应失败")

	m, err := storage.NewMinIO(&cfg.MinIO, nil)
	if err != nil {
		t.Skipf("MinIO不可用，跳过集成测试: %v", err)
	}

	ctx := context.Background()
	uuidV7, err := uuid.NewV7()
	require.NoError(t, err)
	documentUUID := uuidV7.String()

	content := []byte("劳动能力鉴定材料样本：出院小结与既往诊断记录。")

	// 流式上传应返回对象键和与内容一致的MD5
	objectKey, md5Hex, err := m.UploadDocumentFileStreaming(ctx, documentUUID, ".txt",
		bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err, "流式上传应成功")
	assert.Equal(t, fmt.Sprintf("document/%s/original.txt", documentUUID), objectKey, "对象键应遵循document/<uuid>/original布局")
	assert.Equal(t, utils.CalculateMD5(content), md5Hex, "流式计算的MD5应与全量计算一致")

	info, err := m.StatObject(ctx, cfg.MinIO.OriginalsBucket, objectKey, minio.StatObjectOptions{})
	require.NoError(t, err, "上传后StatObject应成功")
	assert.Equal(t, int64(len(content)), info.Size, "对象大小应等于上传内容长度")

	got, err := m.GetDocumentFile(ctx, objectKey)
	require.NoError(t, err, "读取原始文件应成功")
	assert.Equal(t, content, got, "读回内容应与上传内容一致")

	url, err := m.GetPresignedURL(ctx, objectKey, time.Minute)
	require.NoError(t, err, "生成预签名URL应成功")
	assert.NotEmpty(t, url)

	// 提取文本走独立的桶
	text := "既往病史：患者自述无重大疾病史。"
	textKey, err := m.UploadExtractedText(ctx, documentUUID, text)
	require.NoError(t, err, "上传提取文本应成功")

	gotText, err := m.GetExtractedText(ctx, textKey)
	require.NoError(t, err, "读取提取文本应成功")
	assert.Equal(t, text, gotText)

	// 清理测试对象
	require.NoError(t, m.DeleteFile(ctx, objectKey), "删除原始文件应成功")
	_, err = m.StatObject(ctx, cfg.MinIO.OriginalsBucket, objectKey, minio.StatObjectOptions{})
	assert.Error(t, err, "删除后StatObject应报对象不存在")

	err = m.RemoveObject(ctx, cfg.MinIO.ExtractedTextBucket, textKey, minio.RemoveObjectOptions{})
	assert.NoError(t, err, "清理提取文本对象应成功")
}
