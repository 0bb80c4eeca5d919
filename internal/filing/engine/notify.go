package engine

import (
	"context"
	"fmt"

	"efiling/internal/filing"
	"efiling/internal/logger"
	"efiling/internal/notification"

	"go.uber.org/zap"
)

// delivery 提交后待发送的通知，内容在事务内准备好
type delivery struct {
	recipient filing.Actor
	subject   string
	body      string
	data      map[string]any
}

func assignmentDelivery(file *filing.File, stage *filing.Stage, recipient *filing.Actor, action filing.Action, from string) *delivery {
	if recipient == nil || stage == nil || recipient.ID == from {
		return nil
	}
	return &delivery{
		recipient: *recipient,
		subject:   fmt.Sprintf("[%s] %s 待办理", file.FileNumber, file.Subject),
		body: fmt.Sprintf("文件 %s 已由 %s 以 %s 方式送达阶段「%s」，办理时限 %.1f 小时。",
			file.FileNumber, from, action, stage.Name, stage.SLAHours),
		data: map[string]any{
			"file_id":     file.ID,
			"file_number": file.FileNumber,
			"action":      string(action),
			"stage_id":    stage.ID,
			"to_actor":    recipient.ID,
		},
	}
}

// dispatch 异步发送，不影响已提交的结果
func (e *Engine) dispatch(ctx context.Context, d *delivery) {
	if e.notifier == nil || d == nil {
		return
	}
	log := logger.FromContext(ctx, e.logger)

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
		defer cancel()

		for _, channel := range e.channels {
			n := &notification.Notification{
				Type:    channel,
				Subject: d.subject,
				Body:    d.body,
				Data:    d.data,
			}
			if channel == notification.ChannelEmail {
				if d.recipient.Email == "" {
					continue
				}
				n.To = d.recipient.Email
			}
			if err := e.notifier.Send(ctx, n); err != nil {
				log.Warn("发送流转通知失败",
					zap.String("channel", channel),
					zap.String("to_actor", d.recipient.ID),
					zap.Error(err))
			}
		}
	}()
}
