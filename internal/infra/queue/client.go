package queue

import (
	"context"
	"fmt"
	"time"

	"efiling/internal/config"
	"efiling/internal/notification"
	"efiling/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueScanWarnings(ctx context.Context, lookahead time.Duration) (string, error)
	EnqueueNotification(ctx context.Context, n *notification.Notification) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// RedisOpt 由配置生成 asynq 连接参数
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	return &asynqClient{client: asynq.NewClient(RedisOpt(cfg))}
}

// EnqueueScanWarnings 提交一次预警扫描，同一分钟内重复提交会被合并
func (c *asynqClient) EnqueueScanWarnings(ctx context.Context, lookahead time.Duration) (string, error) {
	task, err := tasks.NewScanWarningsTask(lookahead)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(tasks.QueueSLA),
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue task failed: %w", err)
	}
	return info.ID, nil
}

// EnqueueNotification 提交通知投递
func (c *asynqClient) EnqueueNotification(ctx context.Context, n *notification.Notification) error {
	task, err := tasks.NewDeliverNotificationTask(n)
	if err != nil {
		return err
	}
	// 投递失败由 asynq 按退避重试
	if _, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(tasks.QueueNotification),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	); err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}

// Notifier 以入队代替直接发送
type Notifier struct {
	client interface {
		EnqueueNotification(ctx context.Context, n *notification.Notification) error
	}
}

// NewNotifier 创建入队通知器
func NewNotifier(client Client) *Notifier {
	return &Notifier{client: client}
}

// Send 实现 notification.Notifier
func (n *Notifier) Send(ctx context.Context, msg *notification.Notification) error {
	return n.client.EnqueueNotification(ctx, msg)
}
