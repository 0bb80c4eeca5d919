package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"efiling/internal/notification"

	"github.com/hibiken/asynq"
)

// Task Types
const (
	TypeScanWarnings        = "sla:scan_warnings"
	TypeDeliverNotification = "notification:deliver"
)

// 队列
const (
	QueueSLA          = "sla"
	QueueNotification = "notification"
	QueueDefault      = "default"
)

// ScanWarningsPayload 预警扫描任务载荷
type ScanWarningsPayload struct {
	Lookahead string `json:"lookahead,omitempty"` // 如 "1h"，为空时使用配置值
}

// LookaheadOr 解析提前量，无效时返回 def
func (p ScanWarningsPayload) LookaheadOr(def time.Duration) time.Duration {
	if d, err := time.ParseDuration(p.Lookahead); err == nil && d >= 0 {
		return d
	}
	return def
}

// DeliverNotificationPayload 通知投递任务载荷
type DeliverNotificationPayload struct {
	Notification notification.Notification `json:"notification"`
}

// NewScanWarningsTask 创建预警扫描任务
func NewScanWarningsTask(lookahead time.Duration) (*asynq.Task, error) {
	p := ScanWarningsPayload{}
	if lookahead > 0 {
		p.Lookahead = lookahead.String()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeScanWarnings, data), nil
}

// NewDeliverNotificationTask 创建通知投递任务
func NewDeliverNotificationTask(n *notification.Notification) (*asynq.Task, error) {
	if n == nil {
		return nil, fmt.Errorf("notification is nil")
	}
	data, err := json.Marshal(DeliverNotificationPayload{Notification: *n})
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeDeliverNotification, data), nil
}
