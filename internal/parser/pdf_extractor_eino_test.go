package parser

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEinoPDFTextExtractor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err, "创建PDF提取器不应返回错误")
	require.NotNil(t, extractor, "创建的PDF提取器不应为nil")
	require.NotNil(t, extractor.parser, "PDF提取器内部的parser不应为nil")
	require.NotNil(t, extractor.logger, "PDF提取器应该有默认的logger")

	// 测试带自定义logger的创建
	customLogger := log.New(os.Stdout, "[测试PDF提取器] ", log.LstdFlags)
	extractorWithCustomLogger, err := NewEinoPDFTextExtractor(ctx, WithEinoLogger(customLogger))
	require.NoError(t, err, "创建带自定义logger的PDF提取器不应返回错误")
	require.Equal(t, customLogger, extractorWithCustomLogger.logger, "应该使用提供的自定义logger")
}

func TestEinoPDFExtractFromFile(t *testing.T) {
	// 本地testdata中的样例文档 (不入库)
	testPDFs := []string{
		"testdata/sample_medical_report.pdf",
		"../testdata/sample_medical_report.pdf",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	extractor, err := NewEinoPDFTextExtractor(ctx)
	require.NoError(t, err, "创建PDF提取器不应返回错误")

	var filePath string
	var foundFile bool
	for _, path := range testPDFs {
		if _, err := os.Stat(path); err == nil {
			filePath = path
			foundFile = true
			break
		}
	}

	if !foundFile {
		t.Skip("找不到测试PDF文件，跳过测试")
		return
	}

	text, metadata, err := extractor.ExtractFromFile(ctx, filePath)
	require.NoError(t, err, "PDF提取不应返回错误")

	assert.NotEmpty(t, text, "提取的文本内容不应为空")
	assert.NotNil(t, metadata, "元数据不应为nil")
	assert.Contains(t, metadata, "source_file_path", "元数据应该包含source_file_path")
	assert.Equal(t, filePath, metadata["source_file_path"], "source_file_path应该是文件路径")
}

func TestContentTypeForResource(t *testing.T) {
	cases := map[string]string{
		"document/abc/original.pdf":  "application/pdf",
		"report.docx":                "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"notes.TXT":                  "text/plain",
		"letter.doc":                 "application/msword",
		"page.html":                  "text/html",
		"unknown.bin":                "application/octet-stream",
		"no_extension":               "application/octet-stream",
		"archive/extracted_text.txt": "text/plain",
	}

	for uri, want := range cases {
		assert.Equal(t, want, contentTypeForResource(uri), "uri=%s", uri)
	}
}
