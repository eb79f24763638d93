package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-report-go/internal/api/handler"
	"ai-report-go/internal/api/router"
	"ai-report-go/internal/config"
	"ai-report-go/internal/metrics"
	"ai-report-go/internal/outbox"
	"ai-report-go/internal/processor"
	"ai-report-go/internal/storage"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/spf13/pflag"

	appCoreLogger "ai-report-go/internal/logger" // aliased to avoid conflict with std log and hertz log

	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	version     = "1.0.0"        //nolint:gochecknoglobals
	serviceName = "ai-report-go" //nolint:gochecknoglobals
)

// @title Expert Report Pipeline API
// @version 1.0
// @description 司法鉴定报告生成服务：材料摄取、混合检索与章节生成。
// @BasePath /api/v1
func main() {
	initLogger()

	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}
	glog.Info("配置加载成功")

	if level, err := zerolog.ParseLevel(cfg.Logger.Level); err == nil && cfg.Logger.Level != "" {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerShutdown, err := initTracerProvider(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}
	if tracerShutdown != nil {
		glog.Info("OTLP链路追踪已启用")
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	messageRelay := outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, &appCoreLogger.Logger)
	messageRelay.Start()
	glog.Info("outbox消息中继已启动")

	pipeline, err := processor.CreatePipelineFromConfig(ctx, cfg, storageManager)
	if err != nil {
		glog.Fatalf("初始化文档流水线失败: %v", err)
	}
	glog.Info("文档流水线初始化成功")

	// 指标收集器先于各业务组件就位，流水线事件经它异步落库
	collector := metrics.NewCollector(storageManager.MySQL, cfg.Pipeline.Metrics, &appCoreLogger.Logger)
	collector.Start()
	pipeline.Metrics = collector

	var snapCache metrics.SnapshotCache
	if storageManager.Redis != nil {
		snapCache = storageManager.Redis
	}
	snapshotter := metrics.NewSnapshotter(storageManager.MySQL, snapCache,
		cfg.Pipeline.Metrics.SnapshotWindowMinutes, &appCoreLogger.Logger)

	alertEngine := metrics.NewAlertEngine(snapshotter, storageManager.MySQL, cfg.Pipeline.Metrics, &appCoreLogger.Logger)
	alertEngine.Start()
	glog.Info("指标收集与告警评估已启动")

	docService := processor.NewDocumentServiceWithPipeline(pipeline, cfg, &appCoreLogger.Logger)
	reportService, err := processor.NewReportService(pipeline, cfg, &appCoreLogger.Logger)
	if err != nil {
		glog.Fatalf("初始化报告服务失败: %v", err)
	}
	glog.Info("文档服务与报告服务初始化成功")

	consumers := processor.NewConsumers(docService, storageManager, cfg, &appCoreLogger.Logger)
	go func() {
		ingestWorkers := 5
		if workers, ok := cfg.RabbitMQ.ConsumerWorkers["ingest_consumer_workers"]; ok {
			ingestWorkers = workers
		}
		glog.Infof("启动摄取消费者，工作线程数: %d", ingestWorkers)
		if err := consumers.StartIngestConsumers(context.Background(), ingestWorkers); err != nil {
			glog.Fatalf("启动摄取消费者失败: %v", err)
		}

		embedWorkers := 3
		if workers, ok := cfg.RabbitMQ.ConsumerWorkers["embed_consumer_workers"]; ok {
			embedWorkers = workers
		}
		glog.Infof("启动向量化消费者，工作线程数: %d", embedWorkers)
		if err := consumers.StartEmbeddingConsumers(context.Background(), embedWorkers); err != nil {
			glog.Fatalf("启动向量化消费者失败: %v", err)
		}
		glog.Info("所有消费者已启动")
	}()

	documentHandler := handler.NewDocumentHandler(cfg, storageManager)
	sectionHandler := handler.NewSectionHandler(reportService)
	metricsHandler := handler.NewMetricsHandler(snapshotter, alertEngine)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		glog.CtxInfof(c, "Request: %s %s", string(ctx.Method()), string(ctx.Path()))
		ctx.Next(c)
		glog.CtxInfof(c, "Response: status %d", ctx.Response.StatusCode())
	})

	router.RegisterRoutes(h, cfg, &router.Handlers{
		Documents: documentHandler,
		Sections:  sectionHandler,
		Metrics:   metricsHandler,
	})
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// 先停HTTP入口，再停后台组件；收集器最后停以便冲刷缓冲事件
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("HTTP服务器关闭失败: %v", err)
	}
	messageRelay.Stop()
	alertEngine.Stop()
	collector.Stop()
	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			glog.Errorf("链路追踪关闭失败: %v", err)
		}
	}
	glog.Info("优雅退出完成")
}

// initTracerProvider 配置OTLP gRPC导出器和全局TracerProvider。
// 未启用时保持全局no-op，各处otel.Tracer的span开销可忽略
func initTracerProvider(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.Tracing.Enabled {
		return nil, nil
	}

	conn, err := grpc.DialContext(ctx, cfg.Tracing.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("连接OTLP collector失败: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	res := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func initLogger() {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		log.Fatalf("无法创建日志目录: %v", err)
	}
	logFilePath := "logs/app.log"
	fileWriter, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("无法打开日志文件 %s: %v", logFilePath, err)
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}

	multiWriter := zerolog.MultiLevelWriter(consoleWriter, fileWriter)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zerolog.TimeFieldFormat = "15:04:05"

	logger := zerolog.New(multiWriter).With().Timestamp().Caller().Logger()

	appCoreLogger.Logger = logger
	zlog.Logger = logger

	hertzCompatibleLogger := hertzadapter.From(appCoreLogger.Logger)
	glog.SetLogger(hertzCompatibleLogger)
	glog.SetLevel(glog.LevelInfo)
}
