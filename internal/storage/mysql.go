package storage

import (
	"ai-report-go/internal/config"
	"ai-report-go/internal/storage/models"
	"ai-report-go/internal/types"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("ai-report-go/storage/mysql")

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	dbSystem       string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	// 为各种操作类型注册回调
	cb := db.Callback()

	// 为所有CRUD操作注册Before和After回调
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		// 如果是错误跳过且DisableErrSkip为true，则跳过追踪
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		// 从DB获取上下文
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		// 获取操作表名，如果为空则使用"unknown"
		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		// 创建一个新的span
		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		// 获取SQL语句（如果有）
		sqlStatement := db.Statement.SQL.String()
		if sqlStatement != "" {
			opts = append(opts, trace.WithAttributes(
				attribute.String("db.statement", sqlStatement),
			))
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)

		// 将span保存在DB上下文中，以便在after回调中使用
		db.Statement.Context = context.WithValue(newCtx, "otel-span", span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		// 从DB上下文中获取span
		span, ok := db.Statement.Context.Value("otel-span").(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		// 添加额外的属性
		if db.Statement.RowsAffected > 0 {
			span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		} else {
			span.SetAttributes(attribute.Int64("db.rows_affected", 0))
		}

		// 记录错误（如果有），但正确处理ErrRecordNotFound
		if db.Error != nil {
			if db.Error == gorm.ErrRecordNotFound {
				// ErrRecordNotFound 是业务逻辑正常情况的一部分，不应作为错误处理
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				// 真正的错误情况
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.SetAttributes(attribute.String("error.message", db.Error.Error()))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		dbSystem:       "mysql",
		disableErrSkip: true, // 默认禁用错误跳过，减少误报错误
	}
}

// WithDisableErrSkip 设置是否禁用错误跳过
func (p *GormTracingPlugin) WithDisableErrSkip(disable bool) *GormTracingPlugin {
	p.disableErrSkip = disable
	return p
}

// Database 关系数据库接口
type Database interface {
	// DB 返回GORM数据库连接实例
	DB() *gorm.DB

	// Close 关闭数据库连接
	Close() error

	// GetByID 通过ID获取记录
	GetByID(id interface{}, dest interface{}) error

	// Find 通过条件查询记录
	Find(dest interface{}, query interface{}, args ...interface{}) error

	// Save 保存/更新记录
	Save(value interface{}) error

	// Delete 删除记录
	Delete(value interface{}, query interface{}, args ...interface{}) error
}

// 确保MySQL实现了Database接口
var _ Database = (*MySQL)(nil)

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	// 构建DSN，添加超时设置
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	// 配置GORM日志级别
	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Info // 默认Info级别
	}

	// GORM配置增强
	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,                             // 禁用自动外键创建
		Logger:                                   logger.Default.LogMode(logLevel), // 设置日志级别
		PrepareStmt:                              true,                             // 开启预编译语句缓存
		NowFunc: func() time.Time {
			return time.Now().Local() // 使用本地时间作为默认时间
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	// 设置连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)                                           // 最大空闲连接数
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)                                           // 最大打开连接数
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute) // 连接最大生命周期
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute) // 空闲连接最大生命周期

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	// 注册OpenTelemetry追踪插件
	tracingPlugin := NewGormTracingPlugin(cfg.Database).WithDisableErrSkip(true)
	if err := db.Use(tracingPlugin); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	// 使用 GORM 的 AutoMigrate 功能自动迁移表结构
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB, _ := db.DB() // 尝试获取底层 *sql.DB 以关闭
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	// 保存当前的日志级别
	currentLogger := m.db.Logger

	// 创建一个静默的logger以关闭SQL日志打印
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent, // 设置为Silent级别，关闭所有SQL日志
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	// 创建一个使用静默日志记录器的DB会话
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	// 列出所有需要迁移的模型
	err := silentDB.AutoMigrate(
		&models.ReportCase{},
		&models.SourceDocument{},
		&models.DocumentChunk{},
		&models.DocumentClassification{},
		&models.ReportSection{},
		&models.QualityScoreRecord{},
		&models.MetricEvent{},
		&models.AlertRecord{},
		&models.OutboxMessage{},
	)

	// 恢复原来的日志记录器
	m.db = m.db.Session(&gorm.Session{Logger: currentLogger})

	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	log.Println("GORM数据库结构迁移成功")
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// GetByID 泛型查询方法 - 通过ID获取记录
func (m *MySQL) GetByID(id interface{}, dest interface{}) error {
	return m.db.First(dest, "id = ?", id).Error
}

// Find 泛型查询方法 - 通过条件查询记录
func (m *MySQL) Find(dest interface{}, query interface{}, args ...interface{}) error {
	return m.db.Where(query, args...).Find(dest).Error
}

// Save 泛型创建/更新方法
func (m *MySQL) Save(value interface{}) error {
	return m.db.Save(value).Error
}

// Delete 泛型删除方法
func (m *MySQL) Delete(value interface{}, query interface{}, args ...interface{}) error {
	return m.db.Where(query, args...).Delete(value).Error
}

// FindOrCreateReportCase 查找或创建报告案件。
// 首次上传材料时案件可能尚不存在，此时以传入的UUID建档；UUID为空则生成新的。
func (m *MySQL) FindOrCreateReportCase(ctx context.Context, tx *gorm.DB, caseUUID, title string) (*models.ReportCase, error) {
	ctx, span := mysqlTracer.Start(ctx, "FindOrCreateReportCase", trace.WithAttributes(
		attribute.String("case.uuid", caseUUID),
	))
	defer span.End()

	db := m.db
	if tx != nil {
		db = tx // 如果在事务中，使用事务的 db handle
	}

	if caseUUID != "" {
		var existing models.ReportCase
		err := db.WithContext(ctx).Where("case_uuid = ?", caseUUID).First(&existing).Error
		if err == nil {
			span.SetAttributes(attribute.Bool("case.found", true))
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to query report case")
			return nil, fmt.Errorf("查询案件失败: %w", err)
		}
	} else {
		newUUID, err := uuid.NewV7()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to generate UUIDv7")
			return nil, fmt.Errorf("生成UUIDv7失败: %w", err)
		}
		caseUUID = newUUID.String()
	}

	span.SetAttributes(attribute.Bool("case.found", false))

	newCase := &models.ReportCase{
		CaseUUID: caseUUID,
		Title:    title,
		Status:   "ACTIVE",
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "case_uuid"}},
		DoNothing: true, // 并发上传同一案件时保持幂等
	}).Create(newCase).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create report case")
		return nil, fmt.Errorf("创建案件失败: %w", err)
	}

	span.SetAttributes(attribute.String("case.uuid", newCase.CaseUUID))
	return newCase, nil
}

// BatchInsertDocumentChunks 批量插入文档分块记录。
// 分块器是确定性的，同一(文档,代次,序号)的内容必然一致，冲突时做无实际意义的
// 更新实现幂等，重复消费消息不会产生重复分块。
func (m *MySQL) BatchInsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	// 创建一个命名span
	ctx, span := mysqlTracer.Start(ctx, "MySQL.BatchInsertDocumentChunks",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.cfg.Database),
		attribute.String("db.operation", "INSERT_ON_DUPLICATE"),
		attribute.String("db.sql.table", "document_chunks"),
		attribute.Int("batch.size", len(chunks)),
	)

	if len(chunks) == 0 {
		span.SetStatus(codes.Ok, "no chunks to insert")
		return nil
	}

	err := m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_uuid"}, {Name: "chunk_generation"}, {Name: "chunk_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"chunk_index"}),
		}).Create(&chunks).Error

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.Int("db.rows_affected", len(chunks)))
	span.SetStatus(codes.Ok, "")
	return nil
}

// SaveDocumentChunks 在事务中保存文档分块
func (m *MySQL) SaveDocumentChunks(tx *gorm.DB, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return tx.Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_uuid"}, {Name: "chunk_generation"}, {Name: "chunk_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"chunk_index"}),
		}).Create(&chunks).Error
}

// UpdateDocumentProcessingStatus 更新文档处理状态
func (m *MySQL) UpdateDocumentProcessingStatus(ctx context.Context, documentUUID string, status string) error {
	return m.db.WithContext(ctx).Model(&models.SourceDocument{}).Where("document_uuid = ?", documentUUID).Update("processing_status", status).Error
}

// UpdateSourceDocumentFields 更新 SourceDocument 表的多个字段 (在事务中执行)
func (m *MySQL) UpdateSourceDocumentFields(tx *gorm.DB, documentUUID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return tx.Model(&models.SourceDocument{}).Where("document_uuid = ?", documentUUID).Updates(updates).Error
}

// GetSourceDocumentByUUID 通过UUID获取文档记录
func (m *MySQL) GetSourceDocumentByUUID(ctx context.Context, documentUUID string) (*models.SourceDocument, error) {
	var doc models.SourceDocument
	if err := m.db.WithContext(ctx).Where("document_uuid = ?", documentUUID).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpsertDocumentClassification 写入或覆盖文档分类结果，文档与分类一对一
func (m *MySQL) UpsertDocumentClassification(ctx context.Context, classification *models.DocumentClassification) error {
	return m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_uuid"}},
			DoUpdates: clause.AssignmentColumns([]string{"doc_type", "confidence", "strategy", "signal_scores_json", "classifier_version", "updated_at"}),
		}).Create(classification).Error
}

// GetDocumentClassification 获取文档的分类结果
func (m *MySQL) GetDocumentClassification(ctx context.Context, documentUUID string) (*models.DocumentClassification, error) {
	var classification models.DocumentClassification
	if err := m.db.WithContext(ctx).Where("document_uuid = ?", documentUUID).First(&classification).Error; err != nil {
		return nil, err
	}
	return &classification, nil
}

// GetOrCreateReportSection 获取章节记录，不存在则以pending状态创建
func (m *MySQL) GetOrCreateReportSection(ctx context.Context, caseUUID, sectionID string) (*models.ReportSection, error) {
	var section models.ReportSection
	err := m.db.WithContext(ctx).Where("case_uuid = ? AND section_id = ?", caseUUID, sectionID).First(&section).Error
	if err == nil {
		return &section, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询章节记录失败: %w", err)
	}

	section = models.ReportSection{
		CaseUUID:  caseUUID,
		SectionID: sectionID,
		Status:    string(types.SectionStatusPending),
	}
	if err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "case_uuid"}, {Name: "section_id"}},
		DoNothing: true, // 并发触发同一章节时保持幂等
	}).Create(&section).Error; err != nil {
		return nil, fmt.Errorf("创建章节记录失败: %w", err)
	}

	// DoNothing命中冲突时不回填主键，重新查询拿到完整记录
	if section.SectionDBID == 0 {
		if err := m.db.WithContext(ctx).Where("case_uuid = ? AND section_id = ?", caseUUID, sectionID).First(&section).Error; err != nil {
			return nil, fmt.Errorf("回查章节记录失败: %w", err)
		}
	}
	return &section, nil
}

// GetReportSection 获取章节记录
func (m *MySQL) GetReportSection(ctx context.Context, caseUUID, sectionID string) (*models.ReportSection, error) {
	var section models.ReportSection
	if err := m.db.WithContext(ctx).Where("case_uuid = ? AND section_id = ?", caseUUID, sectionID).First(&section).Error; err != nil {
		return nil, err
	}
	return &section, nil
}

// ListReportSectionsByCase 列出案件下全部章节记录
func (m *MySQL) ListReportSectionsByCase(ctx context.Context, caseUUID string) ([]models.ReportSection, error) {
	var sections []models.ReportSection
	if err := m.db.WithContext(ctx).Where("case_uuid = ?", caseUUID).Order("section_id asc").Find(&sections).Error; err != nil {
		return nil, err
	}
	return sections, nil
}

// UpdateReportSectionFields 更新章节记录的多个字段 (在事务中执行)
func (m *MySQL) UpdateReportSectionFields(tx *gorm.DB, sectionDBID uint64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return tx.Model(&models.ReportSection{}).Where("section_db_id = ?", sectionDBID).Updates(updates).Error
}

// CreateQualityScore 追加一条质量评估记录 (在事务中执行)
func (m *MySQL) CreateQualityScore(tx *gorm.DB, score *models.QualityScoreRecord) error {
	return tx.Create(score).Error
}

// ListQualityScoresBySection 按章节列出历次质量评估，近期在前
func (m *MySQL) ListQualityScoresBySection(ctx context.Context, caseUUID, sectionID string) ([]models.QualityScoreRecord, error) {
	var scores []models.QualityScoreRecord
	if err := m.db.WithContext(ctx).
		Where("case_uuid = ? AND section_id = ?", caseUUID, sectionID).
		Order("created_at desc").Find(&scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}

// BatchInsertMetricEvents 批量插入指标事件，只增不改
func (m *MySQL) BatchInsertMetricEvents(ctx context.Context, events []models.MetricEvent) error {
	if len(events) == 0 {
		return nil
	}
	return m.db.WithContext(ctx).Create(&events).Error
}

// ChunkLexicalHit 词法检索命中行
type ChunkLexicalHit struct {
	ChunkDBID       uint64
	DocumentUUID    string
	ChunkIndex      int
	Content         string
	EmbeddingStatus string
	Score           float64
}

// SearchChunksLexical 在案件范围内对分块内容做全文检索。
// 依赖 document_chunks.content 上的 FULLTEXT ngram 索引，relevance 作为词法得分返回。
// 与 source_documents 联接过滤掉重分块后遗留的历史代次分块。
func (m *MySQL) SearchChunksLexical(ctx context.Context, caseUUID, query string, limit int) ([]ChunkLexicalHit, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.SearchChunksLexical",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.cfg.Database),
		attribute.String("db.operation", "FULLTEXT_SEARCH"),
		attribute.String("db.sql.table", "document_chunks"),
		attribute.String("case.uuid", caseUUID),
		attribute.Int("search.limit", limit),
	)

	if limit <= 0 {
		limit = 10
	}

	var hits []ChunkLexicalHit
	err := m.db.WithContext(ctx).Raw(`
		SELECT dc.chunk_db_id, dc.document_uuid, dc.chunk_index, dc.content, dc.embedding_status,
		       MATCH(dc.content) AGAINST (? IN NATURAL LANGUAGE MODE) AS score
		FROM document_chunks dc
		JOIN source_documents sd
		  ON sd.document_uuid = dc.document_uuid
		 AND sd.chunk_generation = dc.chunk_generation
		WHERE dc.case_uuid = ?
		  AND MATCH(dc.content) AGAINST (? IN NATURAL LANGUAGE MODE)
		ORDER BY score DESC
		LIMIT ?`, query, caseUUID, query, limit).Scan(&hits).Error

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("全文检索失败: %w", err)
	}

	span.SetAttributes(attribute.Int("search.hits", len(hits)))
	span.SetStatus(codes.Ok, "")
	return hits, nil
}

// CountCurrentChunksByCase 统计案件当前代次的分块总数，供检索器的小语料降档判断使用
func (m *MySQL) CountCurrentChunksByCase(ctx context.Context, caseUUID string) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).Raw(`
		SELECT COUNT(*)
		FROM document_chunks dc
		JOIN source_documents sd
		  ON sd.document_uuid = dc.document_uuid
		 AND sd.chunk_generation = dc.chunk_generation
		WHERE dc.case_uuid = ?`, caseUUID).Scan(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计案件分块数失败: %w", err)
	}
	return count, nil
}

// GetChunksByDBIDs 按主键批量取分块，用于把向量命中还原成完整分块
func (m *MySQL) GetChunksByDBIDs(ctx context.Context, chunkDBIDs []uint64) ([]models.DocumentChunk, error) {
	if len(chunkDBIDs) == 0 {
		return nil, nil
	}
	var chunks []models.DocumentChunk
	if err := m.db.WithContext(ctx).Where("chunk_db_id IN ?", chunkDBIDs).Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

// ClaimChunksForEmbedding 认领一批待向量化分块并置为embedding状态。
// SELECT ... FOR UPDATE SKIP LOCKED 让多个向量化worker互不阻塞地瓜分同一文档的分块。
func (m *MySQL) ClaimChunksForEmbedding(ctx context.Context, documentUUID string, generation int, limit int) ([]models.DocumentChunk, error) {
	var claimed []models.DocumentChunk

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("document_uuid = ? AND chunk_generation = ? AND embedding_status = ?",
				documentUUID, generation, string(types.EmbeddingStatusUnembedded)).
			Order("chunk_index asc").
			Limit(limit).
			Find(&claimed).Error; err != nil {
			return fmt.Errorf("锁定待向量化分块失败: %w", err)
		}

		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uint64, len(claimed))
		for i, c := range claimed {
			ids[i] = c.ChunkDBID
		}
		if err := tx.Model(&models.DocumentChunk{}).Where("chunk_db_id IN ?", ids).
			Update("embedding_status", string(types.EmbeddingStatusEmbedding)).Error; err != nil {
			return fmt.Errorf("更新分块状态为embedding失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range claimed {
		claimed[i].EmbeddingStatus = string(types.EmbeddingStatusEmbedding)
	}
	return claimed, nil
}

// MarkChunksEmbedded 批量回填分块的向量point ID并置为embedded状态
func (m *MySQL) MarkChunksEmbedded(ctx context.Context, chunkDBIDs []uint64, pointIDs []string) error {
	if len(chunkDBIDs) != len(pointIDs) {
		return fmt.Errorf("chunkDBIDs 和 pointIDs 长度不匹配: %d != %d", len(chunkDBIDs), len(pointIDs))
	}
	if len(chunkDBIDs) == 0 {
		return nil // 没有需要更新的记录
	}

	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("开始事务失败: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for i, chunkDBID := range chunkDBIDs {
		pointID := pointIDs[i]
		updates := map[string]interface{}{
			"vector_point_id":  &pointID,
			"embedding_status": string(types.EmbeddingStatusEmbedded),
		}
		result := tx.Model(&models.DocumentChunk{}).Where("chunk_db_id = ?", chunkDBID).Updates(updates)
		if result.Error != nil {
			tx.Rollback()
			return fmt.Errorf("更新 chunk_db_id %d 的向量信息失败: %w", chunkDBID, result.Error)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// ReleaseChunksToUnembedded 将一批分块退回unembedded状态，向量化失败后调用
func (m *MySQL) ReleaseChunksToUnembedded(ctx context.Context, chunkDBIDs []uint64) error {
	if len(chunkDBIDs) == 0 {
		return nil
	}
	return m.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Where("chunk_db_id IN ?", chunkDBIDs).
		Update("embedding_status", string(types.EmbeddingStatusUnembedded)).Error
}

// CountPendingEmbedding 统计文档某代次中尚未完成向量化的分块数，
// 归零后文档整体进入EMBEDDED状态
func (m *MySQL) CountPendingEmbedding(ctx context.Context, documentUUID string, generation int) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Where("document_uuid = ? AND chunk_generation = ? AND embedding_status <> ?",
			documentUUID, generation, string(types.EmbeddingStatusEmbedded)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计未向量化分块失败: %w", err)
	}
	return count, nil
}

// ResetStaleEmbeddingChunks 把停留在embedding状态超时的分块重置回unembedded。
// worker崩溃会留下这种中间态，修复任务定期兜底。
func (m *MySQL) ResetStaleEmbeddingChunks(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := m.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Where("embedding_status = ? AND updated_at < ?", string(types.EmbeddingStatusEmbedding), cutoff).
		Update("embedding_status", string(types.EmbeddingStatusUnembedded))
	if result.Error != nil {
		return 0, fmt.Errorf("重置滞留embedding分块失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteChunksByGeneration 删除文档某一代次的全部分块，重分块后的历史代次清理用
func (m *MySQL) DeleteChunksByGeneration(ctx context.Context, documentUUID string, generation int) (int64, error) {
	result := m.db.WithContext(ctx).
		Where("document_uuid = ? AND chunk_generation = ?", documentUUID, generation).
		Delete(&models.DocumentChunk{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除历史代次分块失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CreateAlert 创建一条新告警
func (m *MySQL) CreateAlert(ctx context.Context, alert *models.AlertRecord) error {
	return m.db.WithContext(ctx).Create(alert).Error
}

// FindOpenAlert 查找某规则在某组件上未解决的告警，避免重复告警
func (m *MySQL) FindOpenAlert(ctx context.Context, ruleName, component string) (*models.AlertRecord, error) {
	var alert models.AlertRecord
	err := m.db.WithContext(ctx).
		Where("rule_name = ? AND component = ? AND status IN ?", ruleName, component, []string{"raised", "acknowledged"}).
		First(&alert).Error
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// GetAlertByID 获取告警记录
func (m *MySQL) GetAlertByID(ctx context.Context, alertID uint64) (*models.AlertRecord, error) {
	var alert models.AlertRecord
	if err := m.db.WithContext(ctx).Where("alert_id = ?", alertID).First(&alert).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListAlerts 按状态列出告警，status为空时返回全部，近期在前
func (m *MySQL) ListAlerts(ctx context.Context, status string, limit int) ([]models.AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := m.db.WithContext(ctx).Model(&models.AlertRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var alerts []models.AlertRecord
	if err := query.Order("created_at desc").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// TransitionAlertStatus 在告警状态机上做一次迁移，返回是否迁移成功。
// WHERE带上原状态集合做条件更新，并发迁移只有一个生效。
func (m *MySQL) TransitionAlertStatus(ctx context.Context, alertID uint64, fromStatuses []string, to string, now time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to}
	switch to {
	case "acknowledged":
		updates["acknowledged_at"] = &now
	case "resolved":
		updates["resolved_at"] = &now
	}

	result := m.db.WithContext(ctx).Model(&models.AlertRecord{}).
		Where("alert_id = ? AND status IN ?", alertID, fromStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("告警状态迁移失败: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListCaseDocumentsByStatus 列出案件下处于给定状态集合的文档，按上传时间排列
func (m *MySQL) ListCaseDocumentsByStatus(ctx context.Context, caseUUID string, statuses []string) ([]models.SourceDocument, error) {
	var docs []models.SourceDocument
	query := m.db.WithContext(ctx).Where("case_uuid = ?", caseUUID)
	if len(statuses) > 0 {
		query = query.Where("processing_status IN ?", statuses)
	}
	if err := query.Order("created_at asc").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("查询案件文档列表失败: %w", err)
	}
	return docs, nil
}

// ListClassificationsByCase 列出案件下全部文档的分类结果，案件级策略选择的输入
func (m *MySQL) ListClassificationsByCase(ctx context.Context, caseUUID string) ([]models.DocumentClassification, error) {
	var records []models.DocumentClassification
	err := m.db.WithContext(ctx).Raw(`
		SELECT clf.*
		FROM document_classifications clf
		JOIN source_documents sd ON sd.document_uuid = clf.document_uuid
		WHERE sd.case_uuid = ?`, caseUUID).Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询案件分类结果失败: %w", err)
	}
	return records, nil
}

// GetCurrentChunksByCase 取案件当前代次的全部分块，direct策略直接拼接上下文用。
// 按文档上传时间与分块序号排列，保持材料的自然阅读顺序。
func (m *MySQL) GetCurrentChunksByCase(ctx context.Context, caseUUID string, limit int) ([]models.DocumentChunk, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.GetCurrentChunksByCase",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.sql.table", "document_chunks"),
		attribute.String("case.uuid", caseUUID),
	)

	if limit <= 0 {
		limit = 500
	}

	var chunks []models.DocumentChunk
	err := m.db.WithContext(ctx).Raw(`
		SELECT dc.*
		FROM document_chunks dc
		JOIN source_documents sd
		  ON sd.document_uuid = dc.document_uuid
		 AND sd.chunk_generation = dc.chunk_generation
		WHERE dc.case_uuid = ?
		ORDER BY sd.created_at ASC, dc.chunk_index ASC
		LIMIT ?`, caseUUID, limit).Scan(&chunks).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("查询案件当前分块失败: %w", err)
	}

	span.SetAttributes(attribute.Int("chunks.count", len(chunks)))
	span.SetStatus(codes.Ok, "")
	return chunks, nil
}

// FindDocumentsWithPendingEmbedding 找出当前代次仍有未完成向量化分块的文档，修复任务扫描用
func (m *MySQL) FindDocumentsWithPendingEmbedding(ctx context.Context, limit int) ([]models.SourceDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	var docs []models.SourceDocument
	err := m.db.WithContext(ctx).Raw(`
		SELECT sd.*
		FROM source_documents sd
		WHERE sd.chunk_generation > 0
		  AND EXISTS (
			SELECT 1 FROM document_chunks dc
			WHERE dc.document_uuid = sd.document_uuid
			  AND dc.chunk_generation = sd.chunk_generation
			  AND dc.embedding_status <> ?)
		ORDER BY sd.created_at ASC
		LIMIT ?`, string(types.EmbeddingStatusEmbedded), limit).Scan(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("扫描待向量化文档失败: %w", err)
	}
	return docs, nil
}

// GetMetricEventsSince 取窗口起点之后的全部指标事件，快照聚合在内存中完成。
// 窗口由调用方控制，复合索引 (component, metric_type, created_at) 覆盖扫描。
func (m *MySQL) GetMetricEventsSince(ctx context.Context, since time.Time) ([]models.MetricEvent, error) {
	var events []models.MetricEvent
	if err := m.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at asc").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("查询指标事件失败: %w", err)
	}
	return events, nil
}
