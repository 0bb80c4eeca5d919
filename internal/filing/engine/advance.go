package engine

import (
	"context"
	"errors"
	"time"

	"efiling/internal/filing"
	"efiling/internal/filing/movement"
	"efiling/internal/filing/permission"
	"efiling/internal/logger"
	"efiling/internal/metrics"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdvanceRequest 推进请求
type AdvanceRequest struct {
	FileID  string
	ActorID string
	Action  filing.Action
	Remarks string
	ToActor string // 可选，必须持有目标阶段的办理角色
}

// Result 写操作结果
type Result struct {
	FileID         string                `json:"file_id"`
	WorkflowID     string                `json:"workflow_id"`
	Stage          *filing.Stage         `json:"stage"`
	WorkflowStatus filing.WorkflowStatus `json:"workflow_status"`
	FileStatus     filing.FileStatus     `json:"file_status"`
	Assignee       string                `json:"assignee,omitempty"`
	SLAPaused      bool                  `json:"sla_paused"`
	SLADeadline    *time.Time            `json:"sla_deadline,omitempty"`
	Movement       *filing.Movement      `json:"movement,omitempty"`
}

// Advance 按动作推进到相邻阶段
//
// APPROVE/FORWARD 进入下一阶段，越过最后阶段时流程办结且当前阶段保持为最后阶段；
// REJECT/RETURN 回到上一阶段，已在第一阶段时原地不动。
func (e *Engine) Advance(ctx context.Context, req AdvanceRequest) (res *Result, err error) {
	const op = "engine.Advance"
	started := time.Now()
	ctx, span := e.startSpan(ctx, "Engine.Advance", req.FileID, req.ActorID)
	defer func() { e.finish(span, req.Action, started, err) }()

	if !req.Action.IsStageTransition() {
		return nil, filing.Validationf(op, "动作 %s 不能用于推进", req.Action)
	}

	var (
		out  *Result
		note *delivery
		evt  Event
	)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := e.load(ctx, tx, op, req.FileID, req.ActorID)
		if err != nil {
			return err
		}
		if err := s.writable(op); err != nil {
			return err
		}
		if err := permission.Authorize(e.input(ctx, s), req.Action); err != nil {
			return err
		}

		dest, completed, err := resolveDestination(op, s.stages, s.current, req.Action)
		if err != nil {
			return err
		}
		if err := e.policy.check(op, req.Action, s.actor.Role, s.current, isLast(s.stages, s.current), req.Remarks); err != nil {
			return err
		}

		now := e.clock.Now()
		updates := map[string]any{"current_stage_id": dest.ID}
		var recipient *filing.Actor
		if completed {
			updates["status"] = filing.WorkflowCompleted
			updates["completed_at"] = now
		} else {
			if recipient, err = e.resolveAssignee(ctx, tx, op, s, dest, req); err != nil {
				return err
			}
			updates["current_assignee"] = recipient.ID
		}
		if err := bump(ctx, tx, op, &s.wf, updates); err != nil {
			return err
		}

		var slaDest *filing.Stage
		if !completed {
			slaDest = dest
		}
		wf, err := e.tracker.Apply(ctx, tx, s.wf.ID, slaDest, req.ActorID)
		if err != nil {
			return err
		}

		toActor := ""
		if recipient != nil {
			toActor = recipient.ID
		}
		// 驳回后的文件由所在阶段继续办理，非驳回动作视为隐式重新激活
		reopened := s.file.Status == filing.FileStatusRejected && req.Action != filing.ActionReject
		meta := map[string]any{
			"from_order": s.current.Order,
			"to_order":   dest.Order,
			"completed":  completed,
			"sla_paused": wf.SLAPaused,
		}
		if reopened {
			meta["reopened_from"] = string(filing.FileStatusRejected)
			meta["rejected_by"] = s.file.RejectedBy
		}
		m, err := e.movements.Record(ctx, tx, movement.Entry{
			FileID:      s.file.ID,
			WorkflowID:  s.wf.ID,
			FromActor:   req.ActorID,
			ToActor:     toActor,
			Action:      req.Action,
			Remarks:     req.Remarks,
			FromStageID: s.current.ID,
			ToStageID:   dest.ID,
			Metadata:    meta,
		})
		if err != nil {
			return err
		}

		fileStatus, err := filing.StatusAfter(req.Action, completed)
		if err != nil {
			return filing.Internal(op, err)
		}
		fileUpdates := map[string]any{"status": fileStatus}
		switch {
		case req.Action == filing.ActionReject:
			fileUpdates["rejected_by"] = req.ActorID
			fileUpdates["rejected_at"] = now
			fileUpdates["rejection_reason"] = req.Remarks
		case reopened:
			fileUpdates["rejected_by"] = ""
			fileUpdates["rejected_at"] = nil
			fileUpdates["rejection_reason"] = ""
		}
		if err := tx.WithContext(ctx).Model(&filing.File{}).Where("id = ?", s.file.ID).Updates(fileUpdates).Error; err != nil {
			return filing.Internal(op, err)
		}

		status := filing.WorkflowInProgress
		if completed {
			status = filing.WorkflowCompleted
		}
		out = &Result{
			FileID:         s.file.ID,
			WorkflowID:     s.wf.ID,
			Stage:          dest,
			WorkflowStatus: status,
			FileStatus:     fileStatus,
			Assignee:       toActor,
			SLAPaused:      wf.SLAPaused,
			SLADeadline:    wf.SLADeadline,
			Movement:       m,
		}
		if out.Assignee == "" {
			out.Assignee = s.wf.CurrentAssignee
		}
		evt = eventFor(out, req.Action, req.ActorID, toActor, now)
		if !completed {
			note = assignmentDelivery(&s.file, dest, recipient, req.Action, req.ActorID)
		}
		return nil
	})
	if err != nil {
		logger.FromContext(ctx, e.logger).Info("推进被拒绝",
			zap.String("file_id", req.FileID),
			zap.String("action", string(req.Action)),
			zap.Error(err))
		return nil, err
	}

	if out.WorkflowStatus == filing.WorkflowCompleted {
		metrics.WorkflowsCompletedTotal.WithLabelValues("sequence").Inc()
	}
	e.events.Publish(evt)
	e.dispatch(ctx, note)
	logger.FromContext(ctx, e.logger).Info("文件已推进",
		zap.String("file_id", out.FileID),
		zap.String("action", string(req.Action)),
		zap.Int("stage_order", out.Stage.Order),
		zap.String("workflow_status", string(out.WorkflowStatus)))
	return out, nil
}

// resolveDestination 相邻阶段；同一序号出现多次时无法确定目标
func resolveDestination(op string, stages []filing.Stage, current *filing.Stage, action filing.Action) (*filing.Stage, bool, error) {
	if n := countOrder(stages, current.Order); n > 1 {
		return nil, false, filing.Conflictf(op, "阶段序号 %d 重复", current.Order)
	}

	var target *filing.Stage
	for i := range stages {
		st := &stages[i]
		switch {
		case action.IsForward() && st.Order > current.Order:
			if target == nil || st.Order < target.Order {
				target = st
			}
		case action.IsBackward() && st.Order < current.Order:
			if target == nil || st.Order > target.Order {
				target = st
			}
		}
	}

	if target == nil {
		// 前进越过最后阶段即办结；第一阶段退回原地不动
		return current, action.IsForward(), nil
	}
	if n := countOrder(stages, target.Order); n > 1 {
		return nil, false, filing.Conflictf(op, "阶段序号 %d 重复", target.Order)
	}
	return target, false, nil
}

func countOrder(stages []filing.Stage, order int) int {
	n := 0
	for _, st := range stages {
		if st.Order == order {
			n++
		}
	}
	return n
}

func isLast(stages []filing.Stage, st *filing.Stage) bool {
	for _, other := range stages {
		if other.Order > st.Order {
			return false
		}
	}
	return true
}

// resolveAssignee 目标阶段的办理人
//
// 指定接收人时校验角色；退回时优先交还给最近在该阶段办理过的人，第一阶段兜底为创建人；
// 其余情况取持有该角色的第一位在职办理人。
func (e *Engine) resolveAssignee(ctx context.Context, tx *gorm.DB, op string, s *snapshot, dest *filing.Stage, req AdvanceRequest) (*filing.Actor, error) {
	if req.ToActor != "" {
		actor, err := findActor(ctx, tx, op, req.ToActor)
		if err != nil {
			return nil, err
		}
		if !actor.Active {
			return nil, filing.Validationf(op, "接收人 %s 已停用", actor.ID)
		}
		if actor.Role != dest.OwnerRole {
			return nil, filing.Validationf(op, "接收人 %s 的角色 %s 不能办理阶段 %s", actor.ID, actor.Role, dest.OwnerRole)
		}
		return actor, nil
	}

	if req.Action.IsBackward() {
		last, err := e.movements.LastActorAt(ctx, tx, s.file.ID, dest.ID)
		if err != nil {
			return nil, err
		}
		if last == "" && dest.Order == s.stages[0].Order {
			last = s.file.CreatedBy
		}
		if last != "" {
			actor, err := findActor(ctx, tx, op, last)
			if err == nil && actor.Active {
				return actor, nil
			}
			if err != nil && !errors.Is(err, filing.ErrNotFound) {
				return nil, err
			}
		}
	}

	var actor filing.Actor
	err := tx.WithContext(ctx).
		Where("role = ? AND active = ?", dest.OwnerRole, true).
		Order("id ASC").
		First(&actor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, filing.NotFoundf(op, "没有可办理阶段 %s 的在职人员（角色 %s）", dest.Name, dest.OwnerRole)
	}
	if err != nil {
		return nil, filing.Internal(op, err)
	}
	return &actor, nil
}

func findActor(ctx context.Context, tx *gorm.DB, op, id string) (*filing.Actor, error) {
	var actor filing.Actor
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&actor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, filing.NotFoundf(op, "办理人 %s 不存在", id)
		}
		return nil, filing.Internal(op, err)
	}
	return &actor, nil
}

func eventFor(r *Result, action filing.Action, actorID, toActor string, at time.Time) Event {
	evt := Event{
		FileID:         r.FileID,
		WorkflowID:     r.WorkflowID,
		Action:         action,
		ActorID:        actorID,
		ToActor:        toActor,
		WorkflowStatus: r.WorkflowStatus,
		FileStatus:     r.FileStatus,
		SLAPaused:      r.SLAPaused,
		OccurredAt:     at,
	}
	if r.Stage != nil {
		evt.StageID = r.Stage.ID
		evt.StageOrder = r.Stage.Order
	}
	return evt
}
