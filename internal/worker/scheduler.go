package worker

import (
	"errors"
	"fmt"
	"time"

	"efiling/internal/config"
	"efiling/internal/infra/queue"
	"efiling/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Scheduler 周期任务调度
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

// NewScheduler 创建调度器并注册预警扫描
func NewScheduler(cfg config.RedisConfig, filingCfg config.FilingConfig, logger *zap.Logger) (*Scheduler, error) {
	s := asynq.NewScheduler(queue.RedisOpt(cfg), &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				logger.Warn("周期任务入队失败", zap.Error(err))
			}
		},
	})

	cronSpec := filingCfg.ScanCron
	if cronSpec == "" {
		cronSpec = "@every 5m"
	}
	task, err := tasks.NewScanWarningsTask(filingCfg.Lookahead())
	if err != nil {
		return nil, err
	}
	// 相邻两次触发重叠时只保留一个
	entryID, err := s.Register(cronSpec, task,
		asynq.Queue(tasks.QueueSLA),
		asynq.MaxRetry(1),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("注册预警扫描失败: %w", err)
	}
	logger.Info("已注册预警扫描", zap.String("cron", cronSpec), zap.String("entry_id", entryID))

	return &Scheduler{scheduler: s, logger: logger}, nil
}

// Start 非阻塞启动
func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

// Shutdown 停止调度
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
