package router

import (
	"context"

	"ai-report-go/internal/api/handler"
	"ai-report-go/internal/config"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// Handlers 路由依赖的处理器集合
type Handlers struct {
	Documents *handler.DocumentHandler
	Sections  *handler.SectionHandler
	Metrics   *handler.MetricsHandler
}

// RegisterRoutes 注册API路由。
// 写操作和指标接口走API Key认证，健康检查和只读查询开放
func RegisterRoutes(h *server.Hertz, cfg *config.Config, handlers *Handlers) {
	api := h.Group("/api/v1")

	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	// 只读查询不要求认证
	api.GET("/documents/:uuid/classification", handlers.Documents.HandleGetClassification)
	api.GET("/cases/:case_uuid/sections/:section_id", handlers.Sections.HandleGetSection)

	auth := api.Group("", apiKeyAuth(cfg.Server.APIKeys))

	auth.POST("/documents", func(c context.Context, ctx *app.RequestContext) {
		fileHeader, err := ctx.FormFile("file")
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
			return
		}

		caseUUID := ctx.PostForm("case_uuid")
		if caseUUID == "" {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "缺少case_uuid"})
			return
		}
		declaredType := ctx.PostForm("declared_type")

		file, err := fileHeader.Open()
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
			return
		}
		defer file.Close()

		resp, err := handlers.Documents.HandleDocumentUpload(
			c,
			file,
			fileHeader.Size,
			fileHeader.Filename,
			caseUUID,
			declaredType,
		)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "材料上传失败"})
			return
		}

		ctx.JSON(consts.StatusOK, resp)
	})

	auth.POST("/cases/:case_uuid/sections/:section_id/generate", handlers.Sections.HandleTriggerGeneration)

	auth.GET("/metrics/snapshot", handlers.Metrics.HandleSnapshot)
	auth.GET("/metrics/components/:component", handlers.Metrics.HandleComponentStats)

	auth.GET("/alerts", handlers.Metrics.HandleListAlerts)
	auth.POST("/alerts/:id/acknowledge", handlers.Metrics.HandleAcknowledgeAlert)
	auth.POST("/alerts/:id/resolve", handlers.Metrics.HandleResolveAlert)
}

// apiKeyAuth 构造Bearer API Key认证中间件。
// 未配置任何Key时放行，便于本地开发
func apiKeyAuth(apiKeys []string) app.HandlerFunc {
	if len(apiKeys) == 0 {
		return func(c context.Context, ctx *app.RequestContext) {
			ctx.Next(c)
		}
	}

	allowed := make(map[string]struct{}, len(apiKeys))
	for _, key := range apiKeys {
		allowed[key] = struct{}{}
	}

	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
			_, ok := allowed[key]
			return ok, nil
		}),
		keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
			ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "无效的API Key"})
			ctx.Abort()
		}),
	)
}
