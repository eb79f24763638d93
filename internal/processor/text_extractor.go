package processor

import (
	"context"
	"log"
	"time"

	"ai-report-go/internal/config"
	"ai-report-go/internal/parser"
)

// BuildTextExtractor 统一构建文本提取器的逻辑
// 根据配置返回合适的提取器实现
func BuildTextExtractor(ctx context.Context, cfg *config.Config, loggerProvider func(prefix string) *log.Logger) (TextExtractor, error) {
	initLogger := loggerProvider("[TextExtractorInit] ")
	if cfg.Tika.Type == "tika" && cfg.Tika.ServerURL != "" {
		initLogger.Println("检测到Tika配置，正在初始化Tika文本提取器...")
		var tikaOptions []parser.TikaOption
		if cfg.Tika.MetadataMode == "full" {
			tikaOptions = append(tikaOptions, parser.WithFullMetadata(true))
		} else if cfg.Tika.MetadataMode == "none" {
			tikaOptions = append(tikaOptions, parser.WithMinimalMetadata(false), parser.WithFullMetadata(false))
		} else { // "minimal" or default
			tikaOptions = append(tikaOptions, parser.WithMinimalMetadata(true))
		}
		if cfg.Tika.Timeout > 0 {
			tikaOptions = append(tikaOptions, parser.WithTimeout(time.Duration(cfg.Tika.Timeout)*time.Second))
		}
		tikaOptions = append(tikaOptions, parser.WithTikaLogger(loggerProvider("[Tika] ")))
		return parser.NewTikaTextExtractor(cfg.Tika.ServerURL, tikaOptions...), nil
	} else {
		initLogger.Println("未检测到Tika配置或配置不完整，将使用Eino作为PDF解析器...")
		return parser.NewEinoPDFTextExtractor(ctx, parser.WithEinoLogger(loggerProvider("[EinoPDF] ")))
	}
}
