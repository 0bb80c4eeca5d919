package worker

import (
	"context"
	"time"

	"efiling/internal/config"
	"efiling/internal/infra/queue"
	"efiling/internal/notification"
	"efiling/internal/worker/handlers"
	"efiling/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server asynq 任务处理服务
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建 Worker 服务器
func NewServer(
	cfg config.RedisConfig,
	workerCfg config.WorkerConfig,
	scanner handlers.WarningScanner,
	lookahead time.Duration,
	notifier notification.Notifier,
	logger *zap.Logger,
) *Server {
	concurrency := workerCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(
		queue.RedisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueSLA:          6, // 扫描优先
				tasks.QueueNotification: 3,
				tasks.QueueDefault:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	slaHandler := handlers.NewSLAHandler(scanner, lookahead, logger)
	mux.HandleFunc(tasks.TypeScanWarnings, slaHandler.HandleScanWarnings)

	notificationHandler := handlers.NewNotificationHandler(notifier, logger)
	mux.HandleFunc(tasks.TypeDeliverNotification, notificationHandler.HandleDeliver)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
