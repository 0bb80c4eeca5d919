// Package api 组装 HTTP 路由
package api

import (
	"time"

	"efiling/api/handlers/admin"
	"efiling/api/handlers/files"
	"efiling/internal/auth"
	"efiling/internal/config"
	"efiling/internal/filing/engine"
	"efiling/internal/filing/scanner"
	"efiling/internal/infra/queue"
	"efiling/internal/logger"
	"efiling/internal/metrics"
	middlewarepkg "efiling/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies 路由需要的组件，Redis 与队列相关项可为空
type Dependencies struct {
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Config    *config.Config
	Engine    *engine.Engine
	Scanner   *scanner.Scanner
	JWT       *auth.JWTService
	Queue     queue.Client
	Inspector *queue.Inspector
	Logger    *zap.Logger
}

// Handlers 各业务处理器
type Handlers struct {
	Files *files.Handler
	Admin *admin.Handler
}

// NewHandlers 创建处理器
func NewHandlers(deps Dependencies) *Handlers {
	var (
		enqueuer admin.ScanEnqueuer
		sc       admin.Scanner
		queues   admin.QueueStatser
	)
	if deps.Queue != nil {
		enqueuer = deps.Queue
	}
	if deps.Scanner != nil {
		sc = deps.Scanner
	}
	if deps.Inspector != nil {
		queues = deps.Inspector
	}

	lookahead := time.Hour
	if deps.Config != nil {
		lookahead = deps.Config.Filing.Lookahead()
	}
	return &Handlers{
		Files: files.NewHandler(deps.Engine),
		Admin: admin.NewHandler(enqueuer, sc, queues, lookahead),
	}
}

// SetupRouter 创建 Gin 路由
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logger.Get()
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middlewarepkg.RequestIDMiddleware())
	router.Use(middlewarepkg.AccessLog(deps.Logger))
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(deps.DB, deps.Redis))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var limiter *middlewarepkg.RateLimiter
	if deps.Config != nil && deps.Config.Server.RateLimitRPS > 0 {
		limiter = middlewarepkg.NewRateLimiter(middlewarepkg.RateLimiterConfig{
			RequestsPerSecond: deps.Config.Server.RateLimitRPS,
			BurstSize:         deps.Config.Server.RateLimitBurst,
		})
	}

	RegisterRoutes(router, deps.JWT, limiter, NewHandlers(deps))
	return router
}
