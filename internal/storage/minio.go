package storage

import (
	"ai-report-go/internal/config"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadFile 上传文件到指定路径
	UploadFile(ctx context.Context, objectName string, reader io.Reader, fileSize int64, contentType string) (string, error)

	// DownloadFile 下载文件
	DownloadFile(ctx context.Context, objectName string) ([]byte, error)

	// GetPresignedURL 获取预签名URL
	GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)

	// DeleteFile 删除文件
	DeleteFile(ctx context.Context, objectName string) error

	// 材料文档特定操作
	UploadDocumentFile(ctx context.Context, documentUUID, fileExt string, reader io.Reader, fileSize int64) (string, error)
	UploadExtractedText(ctx context.Context, documentUUID string, text string) (string, error)
	GetDocumentFile(ctx context.Context, objectKey string) ([]byte, error)
	GetExtractedText(ctx context.Context, objectKey string) (string, error)

	// 流式上传并计算MD5
	UploadDocumentFileStreaming(ctx context.Context, documentUUID, fileExt string, reader io.Reader, fileSize int64) (string, string, error)
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client          *minio.Client
	cfg             *config.MinIOConfig
	originalBucket  string
	extractedBucket string
	logger          *log.Logger
}

// NewMinIO 创建MinIO客户端
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("[MinIO] Initializing MinIO client with endpoint: %s, originalBucket: %s, extractedBucket: %s", cfg.Endpoint, cfg.OriginalsBucket, cfg.ExtractedTextBucket)

	// 创建MinIO客户端
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		logger.Printf("[MinIO] Initialization failed: %v", err)
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	// 设置存储桶名称
	originalBucket := cfg.OriginalsBucket
	if originalBucket == "" {
		originalBucket = "report-originals" // 默认值
	}

	extractedBucket := cfg.ExtractedTextBucket
	if extractedBucket == "" {
		extractedBucket = "report-extracted-text" // 默认值
	}

	m := &MinIO{
		client:          client,
		cfg:             cfg,
		originalBucket:  originalBucket,
		extractedBucket: extractedBucket,
		logger:          logger,
	}

	// 确保存储桶存在
	err = m.ensureBucketExists(originalBucket, cfg.Location)
	if err != nil {
		logger.Printf("[MinIO] Failed to ensure original bucket %s exists: %v", originalBucket, err)
		return nil, fmt.Errorf("确保原始文档存储桶 %s 存在失败: %w", originalBucket, err)
	}

	err = m.ensureBucketExists(extractedBucket, cfg.Location)
	if err != nil {
		logger.Printf("[MinIO] Failed to ensure extracted bucket %s exists: %v", extractedBucket, err)
		return nil, fmt.Errorf("确保提取文本存储桶 %s 存在失败: %w", extractedBucket, err)
	}

	// 设置生命周期规则
	if cfg.OriginalFileExpireDays > 0 || cfg.ExtractedTextExpireDays > 0 {
		err = m.setupLifecycleRules(context.Background())
		if err != nil {
			logger.Printf("[MinIO] Warning: Failed to set up lifecycle rules: %v", err)
		}
	}

	logger.Printf("[MinIO] Client initialized successfully for endpoint: %s", cfg.Endpoint)
	return m, nil
}

// testLogging 是否输出详细操作日志
func (m *MinIO) testLogging() bool {
	return m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	m.logger.Printf("[MinIO] Ensuring bucket exists: %s (Location: %s)", bucketName, location)
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		m.logger.Printf("[MinIO] Error checking if bucket %s exists: %v", bucketName, err)
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if !exists {
		m.logger.Printf("[MinIO] Bucket %s does not exist, attempting to create...", bucketName)
		err = m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location})
		if err != nil {
			m.logger.Printf("[MinIO] Error creating bucket %s: %v", bucketName, err)
			return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
		}
		m.logger.Printf("[MinIO] Bucket %s created successfully.", bucketName)
	} else {
		m.logger.Printf("[MinIO] Bucket %s already exists.", bucketName)
	}
	return nil
}

// setupLifecycleRules 设置对象生命周期规则
func (m *MinIO) setupLifecycleRules(ctx context.Context) error {
	m.logger.Printf("[MinIO] Setting up lifecycle rules...")
	if m.cfg.OriginalFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.originalBucket, "expire-originals", m.cfg.OriginalFileExpireDays); err != nil {
			return fmt.Errorf("为原始文件存储桶 %s 设置生命周期失败: %w", m.originalBucket, err)
		}
	}
	if m.cfg.ExtractedTextExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.extractedBucket, "expire-extracted-text", m.cfg.ExtractedTextExpireDays); err != nil {
			return fmt.Errorf("为提取文本存储桶 %s 设置生命周期失败: %w", m.extractedBucket, err)
		}
	}
	m.logger.Printf("[MinIO] Lifecycle rules setup completed.")
	return nil
}

// setupBucketLifecycle 为指定存储桶设置生命周期规则
func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	m.logger.Printf("[MinIO] Setting lifecycle rule for bucket %s: ID=%s, ExpiryDays=%d", bucketName, ruleID, expiryDays)
	config := lifecycle.NewConfiguration()
	config.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}

	err := m.client.SetBucketLifecycle(ctx, bucketName, config)
	if err != nil {
		m.logger.Printf("[MinIO] Error setting lifecycle for bucket %s: %v", bucketName, err)
		return err
	}
	m.logger.Printf("[MinIO] Successfully set lifecycle for bucket %s.", bucketName)
	return nil
}

// UploadFile 上传文件到指定路径。
// objectName 以已配置的bucket名为前缀时，按 "bucket/objectKey" 解析，否则默认原始文档桶
func (m *MinIO) UploadFile(ctx context.Context, objectName string, reader io.Reader, fileSize int64, contentType string) (string, error) {
	m.logger.Printf("[MinIO] Uploading file: ObjectName=%s, Size=%d, ContentType=%s", objectName, fileSize, contentType)

	bucketToUse := m.originalBucket
	actualObjectName := objectName
	if strings.Contains(objectName, "/") {
		parts := strings.SplitN(objectName, "/", 2)
		if len(parts) == 2 {
			// 只接受已配置的桶名前缀，防止通过objectName意外写入其他桶
			if parts[0] == m.originalBucket || parts[0] == m.extractedBucket {
				bucketToUse = parts[0]
				actualObjectName = parts[1]
				m.logger.Printf("[MinIO] Using bucket '%s' and object key '%s' from provided objectName.", bucketToUse, actualObjectName)
			}
		}
	}

	if m.testLogging() {
		m.logger.Printf("[MinIO-UploadFile] Attempting to upload: ObjectName='%s', FileSize=%d, ContentType='%s', Bucket='%s'", actualObjectName, fileSize, contentType, bucketToUse)
	}

	uploadInfo, err := m.client.PutObject(ctx, bucketToUse, actualObjectName, reader, fileSize, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		if m.testLogging() {
			m.logger.Printf("[MinIO-UploadFile] Error uploading %s: %v", actualObjectName, err)
		}
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", bucketToUse, actualObjectName, err)
	}

	if m.testLogging() {
		m.logger.Printf("[MinIO-UploadFile] Successfully uploaded %s, ETag: %s, Size: %d", actualObjectName, uploadInfo.ETag, uploadInfo.Size)
	}
	return actualObjectName, nil
}

// UploadDocumentFile 上传原始材料文档到originalsBucket
// 返回MinIO中的对象键 (不含bucket前缀)
func (m *MinIO) UploadDocumentFile(ctx context.Context, documentUUID, fileExt string, reader io.Reader, fileSize int64) (string, error) {
	// 构建对象名称，例如: document/documentUUID/original.pdf
	objectName := fmt.Sprintf("document/%s/original%s", documentUUID, fileExt)
	contentType := getContentType(fileExt)

	if m.testLogging() {
		m.logger.Printf("[MinIO-UploadDocumentFile] Uploading: DocumentUUID='%s', FileExt='%s', ObjectName='%s', Bucket='%s'", documentUUID, fileExt, objectName, m.originalBucket)
	}

	uploadedObjectName, err := m.UploadFile(ctx, objectName, reader, fileSize, contentType)
	if err != nil {
		if m.testLogging() {
			m.logger.Printf("[MinIO-UploadDocumentFile] Error during UploadFile call: %v", err)
		}
		return "", err
	}

	// 正常情况下，uploadedObjectName 应该等于 objectName
	if m.testLogging() && uploadedObjectName != objectName {
		m.logger.Printf("[MinIO-UploadDocumentFile] Warning: UploadFile returned '%s' but expected '%s'", uploadedObjectName, objectName)
	}

	return objectName, nil
}

// UploadDocumentFileStreaming 流式上传材料文档并同时计算MD5
// 返回: objectKey, md5Hex, error
func (m *MinIO) UploadDocumentFileStreaming(ctx context.Context, documentUUID, fileExt string, reader io.Reader, fileSize int64) (string, string, error) {
	objectName := fmt.Sprintf("document/%s/original%s", documentUUID, fileExt)
	contentType := getContentType(fileExt)

	// 使用TeeReader边上传边计算MD5，避免将大文件整体读入内存
	md5Hash := md5.New()
	teeReader := io.TeeReader(reader, md5Hash)

	if m.testLogging() {
		m.logger.Printf("[MinIO-UploadDocumentFileStreaming] Uploading: DocumentUUID='%s', FileExt='%s', ObjectName='%s', Bucket='%s'",
			documentUUID, fileExt, objectName, m.originalBucket)
	}

	info, err := m.client.PutObject(ctx, m.originalBucket, objectName, teeReader,
		fileSize, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", "", fmt.Errorf("流式上传文件到MinIO失败: %w", err)
	}

	md5Hex := hex.EncodeToString(md5Hash.Sum(nil))

	if m.testLogging() {
		m.logger.Printf("[MinIO-UploadDocumentFileStreaming] Successfully uploaded %s, ETag: %s, Size: %d, MD5: %s",
			objectName, info.ETag, info.Size, md5Hex)
	}

	return objectName, md5Hex, nil
}

// UploadExtractedText 上传提取后的纯文本到MinIO
func (m *MinIO) UploadExtractedText(ctx context.Context, documentUUID string, text string) (string, error) {
	objectName := fmt.Sprintf("document/%s/extracted_text.txt", documentUUID)

	if m.testLogging() {
		m.logger.Printf("[MinIO-UploadExtractedText] Uploading: DocumentUUID='%s', ObjectName='%s', Bucket='%s', TextLength=%d", documentUUID, objectName, m.extractedBucket, len(text))
	}

	_, err := m.client.PutObject(ctx, m.extractedBucket, objectName, strings.NewReader(text), int64(len(text)), minio.PutObjectOptions{ContentType: "text/plain"})
	if err != nil {
		if m.testLogging() {
			m.logger.Printf("[MinIO-UploadExtractedText] Error uploading extracted text for %s: %v", documentUUID, err)
		}
		return "", fmt.Errorf("上传提取文本 %s 到存储桶 %s 失败: %w", objectName, m.extractedBucket, err)
	}
	if m.testLogging() {
		m.logger.Printf("[MinIO-UploadExtractedText] Successfully uploaded extracted text for %s to %s", documentUUID, objectName)
	}
	return objectName, nil
}

// DownloadFile 下载文件
func (m *MinIO) DownloadFile(ctx context.Context, objectName string) ([]byte, error) {
	m.logger.Printf("[MinIO] Downloading file: ObjectName=%s", objectName)
	bucketName := m.originalBucket // 默认原始文档桶
	actualObjectName := objectName

	if strings.Contains(objectName, "/") {
		parts := strings.SplitN(objectName, "/", 2)
		if len(parts) == 2 && (parts[0] == m.originalBucket || parts[0] == m.extractedBucket) {
			bucketName = parts[0]
			actualObjectName = parts[1]
			m.logger.Printf("[MinIO] Using bucket '%s' and object key '%s' from provided objectName for download.", bucketName, actualObjectName)
		}
	}

	if m.testLogging() {
		m.logger.Printf("[MinIO-DownloadFile] Downloading: ObjectName='%s', Bucket='%s'", actualObjectName, bucketName)
	}

	obj, err := m.client.GetObject(ctx, bucketName, actualObjectName, minio.GetObjectOptions{})
	if err != nil {
		if m.testLogging() {
			m.logger.Printf("[MinIO-DownloadFile] Error getting object %s: %v", actualObjectName, err)
		}
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucketName, actualObjectName, err)
	}
	defer obj.Close()

	// GetObject是懒加载的，Stat能尽早暴露对象不存在或无权限的错误
	stat, err := obj.Stat()
	if err != nil {
		m.logger.Printf("[MinIO] Failed to stat object %s/%s after GetObject: %v", bucketName, actualObjectName, err)
		return nil, fmt.Errorf("获取对象 %s/%s 状态失败: %w", bucketName, actualObjectName, err)
	}
	m.logger.Printf("[MinIO] Object %s/%s stats: Size=%d, ContentType=%s", bucketName, actualObjectName, stat.Size, stat.ContentType)

	data, err := io.ReadAll(obj)
	if err != nil {
		if m.testLogging() {
			m.logger.Printf("[MinIO-DownloadFile] Error reading object data for %s: %v", actualObjectName, err)
		}
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", bucketName, actualObjectName, err)
	}
	if m.testLogging() {
		m.logger.Printf("[MinIO-DownloadFile] Successfully downloaded %d bytes from %s/%s.", len(data), bucketName, actualObjectName)
	}
	return data, nil
}

// GetDocumentFile 从MinIO获取原始材料文档
func (m *MinIO) GetDocumentFile(ctx context.Context, objectKey string) ([]byte, error) {
	m.logger.Printf("[MinIO] Getting document file: Bucket=%s, ObjectKey=%s", m.originalBucket, objectKey)
	return m.DownloadFile(ctx, fmt.Sprintf("%s/%s", m.originalBucket, objectKey))
}

// GetExtractedText 从MinIO获取提取后的纯文本
func (m *MinIO) GetExtractedText(ctx context.Context, objectKey string) (string, error) {
	m.logger.Printf("[MinIO] Getting extracted text: Bucket=%s, ObjectKey=%s", m.extractedBucket, objectKey)

	data, err := m.DownloadFile(ctx, fmt.Sprintf("%s/%s", m.extractedBucket, objectKey))
	if err != nil {
		return "", err // DownloadFile already logs and formats the error
	}
	text := string(data)
	if m.testLogging() {
		m.logger.Printf("[MinIO-GetExtractedText] Successfully downloaded extracted text %s, Size: %d bytes", objectKey, len(text))
	}
	return text, nil
}

// GetPresignedURL 获取预签名URL
func (m *MinIO) GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	m.logger.Printf("[MinIO] Generating presigned URL for: %s, Expiry: %s", objectName, expiry)
	bucketName := m.originalBucket

	presignedURL, err := m.client.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		if m.testLogging() {
			m.logger.Printf("[MinIO-GetPresignedURL] Error generating for %s: %v", objectName, err)
		}
		return "", fmt.Errorf("生成MinIO预签名URL失败: %w", err)
	}
	if m.testLogging() {
		m.logger.Printf("[MinIO-GetPresignedURL] Successfully generated for %s: %s", objectName, presignedURL.String())
	}
	return presignedURL.String(), nil
}

// DeleteFile 删除文件
func (m *MinIO) DeleteFile(ctx context.Context, objectName string) error {
	m.logger.Printf("[MinIO] Deleting object: %s", objectName)
	bucketName := m.originalBucket

	err := m.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		if m.testLogging() {
			m.logger.Printf("[MinIO-DeleteFile] Error deleting %s: %v", objectName, err)
		}
		return fmt.Errorf("删除对象 %s 失败: %w", objectName, err)
	}
	if m.testLogging() {
		m.logger.Printf("[MinIO-DeleteFile] Successfully deleted %s", objectName)
	}
	return nil
}

// StatObject 暴露底层的StatObject方法，用于测试或特定场景
func (m *MinIO) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return m.client.StatObject(ctx, bucketName, objectName, opts)
}

// RemoveObject 暴露底层的RemoveObject方法，用于测试或特定场景
func (m *MinIO) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return m.client.RemoveObject(ctx, bucketName, objectName, opts)
}

// 获取内容类型
func getContentType(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
