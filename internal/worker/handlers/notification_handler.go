package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"efiling/internal/notification"
	"efiling/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// NotificationHandler 通知投递处理器
type NotificationHandler struct {
	notifier notification.Notifier
	logger   *zap.Logger
}

// NewNotificationHandler 创建处理器
func NewNotificationHandler(n notification.Notifier, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifier: n, logger: logger}
}

// HandleDeliver 发送通知，失败时交给 asynq 重试
func (h *NotificationHandler) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	var p tasks.DeliverNotificationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.Notification.Type == "" {
		return fmt.Errorf("通知渠道为空: %w", asynq.SkipRetry)
	}

	if err := h.notifier.Send(ctx, &p.Notification); err != nil {
		h.logger.Warn("通知投递失败，等待重试",
			zap.String("channel", p.Notification.Type),
			zap.String("to", p.Notification.To),
			zap.Error(err),
		)
		return err
	}
	return nil
}
