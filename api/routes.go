package api

import (
	"efiling/internal/auth"
	middlewarepkg "efiling/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册 /api/v1 下的业务路由，limiter 为空时不限流
func RegisterRoutes(router *gin.Engine, jwtService *auth.JWTService, limiter *middlewarepkg.RateLimiter, h *Handlers) {
	apiV1 := router.Group("/api/v1")
	apiV1.Use(auth.AuthMiddleware(jwtService))
	if limiter != nil {
		apiV1.Use(middlewarepkg.RateLimitMiddleware(limiter))
	}

	registerFileRoutes(apiV1, h)
	registerAdminRoutes(apiV1, h)
}

// registerFileRoutes 文件流转
func registerFileRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	filesGroup := apiGroup.Group("/files")
	{
		filesGroup.POST("", h.Files.Submit)
		filesGroup.GET("/inbox", h.Files.Inbox)
		filesGroup.POST("/:id/actions", h.Files.Act)
		filesGroup.POST("/:id/signatures", h.Files.Sign)
		filesGroup.POST("/:id/mark-to", h.Files.MarkTo)
		filesGroup.POST("/:id/complete", h.Files.Complete)
		filesGroup.POST("/:id/reactivate", h.Files.Reactivate)
		filesGroup.POST("/:id/archive", h.Files.Archive)
		filesGroup.GET("/:id/permissions", h.Files.Permissions)
		filesGroup.GET("/:id/sla", h.Files.SLA)
		filesGroup.GET("/:id/movements", h.Files.Movements)
		filesGroup.GET("/:id/events", h.Files.Events)
	}
}

// registerAdminRoutes 运维接口，仅管理员
func registerAdminRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	adminGroup := apiGroup.Group("/admin", auth.RequireSuperuser())
	{
		adminGroup.POST("/sla/scan", h.Admin.Scan)
		adminGroup.GET("/queues", h.Admin.Queues)
	}
}
