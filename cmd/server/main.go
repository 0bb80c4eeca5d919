package main

// @title E-Filing Workflow API
// @version 1.0
// @description 电子文件流转与办理时限服务
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"efiling/api"
	"efiling/internal/auth"
	"efiling/internal/config"
	"efiling/internal/filing"
	"efiling/internal/filing/catalog"
	"efiling/internal/filing/engine"
	"efiling/internal/filing/scanner"
	"efiling/internal/infra"
	"efiling/internal/infra/queue"
	"efiling/internal/logger"
	"efiling/internal/notification"
	"efiling/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()

	log.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
	)

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("初始化数据库失败", zap.Error(err))
	}

	// 4. 迁移与阶段目录同步
	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db, filing.Models()...); err != nil {
			log.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		log.Info("跳过自动迁移（配置已禁用）")
	}
	if cfg.Filing.SyncCatalogOnStart {
		if err := syncCatalog(db, cfg.Filing.CatalogPath, log); err != nil {
			log.Fatal("同步阶段目录失败", zap.Error(err))
		}
	}

	// 5. Redis 可选：用于令牌黑名单、扫描互斥与任务队列
	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		rdb, err = infra.InitRedis(&cfg.Redis)
		if err != nil {
			log.Fatal("初始化 Redis 失败", zap.Error(err))
		}
	}

	// 6. 通知渠道
	channels := notification.NewMultiNotifier(emailConfig(cfg), webhookConfig(cfg))
	var queueClient queue.Client
	var inspector *queue.Inspector
	var notifier notification.Notifier = channels
	if cfg.Redis.Enabled {
		queueClient = queue.NewClient(cfg.Redis)
		inspector = queue.NewInspector(cfg.Redis)
		if cfg.Filing.AsyncNotify {
			notifier = queue.NewNotifier(queueClient)
		}
	}

	// 7. 流转引擎与预警扫描
	engineOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithNotifier(notifier, cfg.Filing.Channels...),
	}
	if cfg.Filing.RemarksPolicy != "" {
		policy, err := engine.NewRemarksPolicy(cfg.Filing.RemarksPolicy)
		if err != nil {
			log.Fatal("意见规则无效", zap.Error(err))
		}
		engineOpts = append(engineOpts, engine.WithRemarksPolicy(policy))
	}
	eng := engine.New(db, engineOpts...)

	scanOpts := []scanner.Option{
		scanner.WithLogger(log),
		scanner.WithChannels(cfg.Filing.Channels...),
	}
	if rdb != nil {
		scanOpts = append(scanOpts, scanner.WithPassLock(scanner.NewRedisLock(rdb, "efiling:lock:sla-scan"), 5*time.Minute))
	}
	sc := scanner.New(db, notifier, scanOpts...)

	// 8. 后台任务：worker 投递时直接走渠道，避免再次入队
	var workerServer *worker.Server
	var scheduler *worker.Scheduler
	if cfg.Worker.Enabled && cfg.Redis.Enabled {
		workerServer = worker.NewServer(cfg.Redis, cfg.Worker, sc, cfg.Filing.Lookahead(), channels, log)
		if err := workerServer.Start(); err != nil {
			log.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
		scheduler, err = worker.NewScheduler(cfg.Redis, cfg.Filing, log)
		if err != nil {
			log.Fatal("创建调度器失败", zap.Error(err))
		}
		if err := scheduler.Start(); err != nil {
			log.Fatal("调度器启动失败", zap.Error(err))
		}
	}

	// 9. 认证
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		log.Fatal("未配置 JWT 密钥 (auth.jwt_secret 或 JWT_SECRET)")
	}
	expiry, err := time.ParseDuration(cfg.Auth.AccessExpiry)
	if err != nil {
		log.Warn("访问令牌有效期无效，使用默认值", zap.String("value", cfg.Auth.AccessExpiry))
	}
	jwtService := auth.NewJWTService(secret, cfg.Auth.Issuer, expiry, rdb)

	// 10. 路由
	gin.SetMode(cfg.Server.Mode)
	router := api.SetupRouter(api.Dependencies{
		DB:        db,
		Redis:     rdb,
		Config:    cfg,
		Engine:    eng,
		Scanner:   sc,
		JWT:       jwtService,
		Queue:     queueClient,
		Inspector: inspector,
		Logger:    log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	gracefulShutdown(server, func() {
		if scheduler != nil {
			scheduler.Shutdown()
		}
		if workerServer != nil {
			workerServer.Shutdown()
		}
		// 等待提交后的通知发送完毕
		eng.Wait()
		if queueClient != nil {
			_ = queueClient.Close()
		}
		if inspector != nil {
			_ = inspector.Close()
		}
		if rdb != nil {
			if err := infra.CloseRedis(); err != nil {
				log.Error("Redis 关闭异常", zap.Error(err))
			}
		}
	})
}

// syncCatalog 从 YAML 同步流程模板与阶段
func syncCatalog(db *gorm.DB, path string, log *zap.Logger) error {
	if path == "" {
		path = "config/catalog.yaml"
	}
	c, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	res, err := catalog.Sync(context.Background(), db, c, log)
	if err != nil {
		return err
	}
	log.Info("阶段目录已同步",
		zap.String("path", path),
		zap.Int("templates", res.Templates),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
	)
	return nil
}

func emailConfig(cfg *config.Config) *notification.EmailConfig {
	e := cfg.Notification.Email
	if !e.Enabled {
		return nil
	}
	return &notification.EmailConfig{
		SMTPHost: e.Host,
		SMTPPort: e.Port,
		Username: e.Username,
		Password: e.Password,
		From:     e.From,
		FromName: "电子文件系统",
	}
}

func webhookConfig(cfg *config.Config) *notification.WebhookConfig {
	w := cfg.Notification.Webhook
	if !w.Enabled {
		return nil
	}
	return &notification.WebhookConfig{
		DefaultURL: w.URL,
		Secret:     w.Secret,
		Timeout:    time.Duration(w.TimeoutSec) * time.Second,
	}
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	}
}

// resolveEnvPath 从工作目录与可执行文件目录向上查找 .env
func resolveEnvPath() string {
	seen := make(map[string]struct{})
	for _, start := range envSearchRoots() {
		dir := filepath.Clean(start)
		for i := 0; i < 8 && dir != "." && dir != string(filepath.Separator); i++ {
			path := filepath.Join(dir, ".env")
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				if _, err := os.Stat(path); err == nil {
					return path
				}
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return ""
}

func envSearchRoots() []string {
	var roots []string
	if wd, err := os.Getwd(); err == nil {
		roots = append(roots, wd)
	}
	if exe, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Dir(exe))
	}
	return roots
}

// gracefulShutdown 收到退出信号后依次关闭 HTTP、后台任务与数据库
func gracefulShutdown(server *http.Server, stopBackground func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	stopBackground()

	if err := infra.CloseDatabase(); err != nil {
		logger.Error("数据库关闭异常", zap.Error(err))
	}

	logger.Info("服务器已安全关闭")
}
