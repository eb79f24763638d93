package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"ai-report-go/internal/config"

	zlog "github.com/rs/zerolog/log"
)

// Storage 聚合流水线用到的全部存储依赖。
// 未配置或初始化失败的组件保持nil，调用方按需判空降级：
// Redis缺席只失去快照缓存与MD5快查，Qdrant缺席检索退化为纯词法
type Storage struct {
	MinIO    *MinIO    // 原始材料与提取文本的对象存储
	RabbitMQ *RabbitMQ // 摄取与向量化的消息队列
	Qdrant   *Qdrant   // 分块向量库
	MySQL    *MySQL    // 业务主库，含FULLTEXT词法检索
	Redis    *Redis    // 去重集合、向量缓存与指标快照缓存
}

// NewStorage 按配置初始化各存储组件。单个组件失败记警告继续，
// 全部失败才返回错误
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{}
	var err error
	var initErrors []string

	// MinIO客户端内部用标准库logger，非debug时丢弃
	var minioLogger *log.Logger
	if cfg.Logger.Level == "debug" || cfg.MinIO.EnableTestLogging {
		minioLogger = log.New(os.Stderr, "[MinIOStorage] ", log.LstdFlags|log.Lshortfile)
	} else {
		minioLogger = log.New(io.Discard, "", 0)
	}

	storage.MinIO, err = NewMinIO(&cfg.MinIO, minioLogger)
	if err != nil {
		zlog.Warn().Err(err).Msg("初始化MinIO失败")
		initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
	} else {
		zlog.Info().Msg("MinIO客户端初始化成功")
	}

	if cfg.RabbitMQ.URL != "" {
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			zlog.Warn().Err(err).Msg("初始化RabbitMQ失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	if cfg.Qdrant.Endpoint != "" {
		storage.Qdrant, err = NewQdrant(&cfg.Qdrant)
		if err != nil {
			zlog.Warn().Err(err).Msg("初始化Qdrant失败")
			initErrors = append(initErrors, fmt.Sprintf("Qdrant: %v", err))
		}
	}

	if cfg.MySQL.Host != "" {
		storage.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			zlog.Warn().Err(err).Msg("初始化MySQL失败")
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		storage.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			zlog.Warn().Err(err).Msg("初始化Redis失败")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	} else {
		zlog.Info().Msg("Redis未配置，跳过初始化")
	}

	if storage.MinIO == nil && storage.RabbitMQ == nil && storage.Qdrant == nil && storage.MySQL == nil && storage.Redis == nil {
		return nil, fmt.Errorf("所有存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	if len(initErrors) > 0 {
		zlog.Warn().Str("components", strings.Join(initErrors, "; ")).Msg("部分存储组件初始化失败")
	}

	return storage, nil
}

// Close 关闭持有长连接的组件。Qdrant与MinIO走HTTP短连接，无需显式关闭
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			zlog.Warn().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			zlog.Warn().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			zlog.Warn().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
