package queue

import (
	"context"
	"errors"

	"efiling/internal/config"
	"efiling/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// QueueStats 队列统计
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Paused    bool   `json:"paused"`
}

// QueueInfoSource asynq.Inspector 中用到的部分
type QueueInfoSource interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Inspector 查看扫描与通知队列的积压情况
type Inspector struct {
	source QueueInfoSource
	close  func() error
}

// NewInspector 连接 asynq
func NewInspector(cfg config.RedisConfig) *Inspector {
	in := asynq.NewInspector(RedisOpt(cfg))
	return &Inspector{source: in, close: in.Close}
}

// NewInspectorFrom 使用现成的数据源
func NewInspectorFrom(source QueueInfoSource) *Inspector {
	return &Inspector{source: source}
}

// Stats 各业务队列的统计；尚未创建的队列计为空
func (i *Inspector) Stats(ctx context.Context) ([]QueueStats, error) {
	queues := []string{tasks.QueueSLA, tasks.QueueNotification, tasks.QueueDefault}
	out := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := i.source.GetQueueInfo(q)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			out = append(out, QueueStats{Queue: q})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, QueueStats{
			Queue:     q,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Completed: info.Completed,
			Processed: info.Processed,
			Failed:    info.Failed,
			Paused:    info.Paused,
		})
	}
	return out, nil
}

// Close 关闭连接
func (i *Inspector) Close() error {
	if i.close == nil {
		return nil
	}
	return i.close()
}
