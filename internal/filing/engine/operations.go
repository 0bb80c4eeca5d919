package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"efiling/internal/filing"
	"efiling/internal/filing/movement"
	"efiling/internal/filing/permission"
	"efiling/internal/logger"
	"efiling/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Sign 在当前阶段签名，重复签名会追加新记录
func (e *Engine) Sign(ctx context.Context, fileID, actorID string, payload map[string]any) (sig *filing.Signature, err error) {
	const op = "engine.Sign"
	started := time.Now()
	ctx, span := e.startSpan(ctx, "Engine.Sign", fileID, actorID)
	defer func() { e.finish(span, filing.ActionSign, started, err) }()

	var evt Event
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := e.load(ctx, tx, op, fileID, actorID)
		if err != nil {
			return err
		}
		if s.file.Status == filing.FileStatusArchived || s.wf.Status == filing.WorkflowArchived {
			return filing.Conflictf(op, "文件 %s 已归档", fileID)
		}
		if err := permission.Authorize(e.input(ctx, s), filing.ActionSign); err != nil {
			return err
		}

		now := e.clock.Now()
		raw, digest, err := digestSignature(fileID, actorID, s.current.ID, now, payload)
		if err != nil {
			return filing.Validationf(op, "签名内容无法序列化: %v", err)
		}
		sig = &filing.Signature{
			ID:        uuid.NewString(),
			FileID:    fileID,
			ActorID:   actorID,
			StageID:   s.current.ID,
			Digest:    digest,
			Payload:   raw,
			CreatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(sig).Error; err != nil {
			return filing.Internal(op, err)
		}
		if err := bump(ctx, tx, op, &s.wf, nil); err != nil {
			return err
		}
		if _, err := e.movements.Record(ctx, tx, movement.Entry{
			FileID:      fileID,
			WorkflowID:  s.wf.ID,
			FromActor:   actorID,
			Action:      filing.ActionSign,
			FromStageID: s.current.ID,
			ToStageID:   s.current.ID,
			Metadata:    map[string]any{"signature_id": sig.ID, "digest": digest},
		}); err != nil {
			return err
		}

		evt = Event{
			FileID:         fileID,
			WorkflowID:     s.wf.ID,
			Action:         filing.ActionSign,
			ActorID:        actorID,
			StageID:        s.current.ID,
			StageOrder:     s.current.Order,
			WorkflowStatus: s.wf.Status,
			FileStatus:     s.file.Status,
			SLAPaused:      s.wf.SLAPaused,
			OccurredAt:     now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.events.Publish(evt)
	return sig, nil
}

// digestSignature 对签名上下文与内容计算 BLAKE2b-256 摘要
func digestSignature(fileID, actorID, stageID string, at time.Time, payload map[string]any) (datatypes.JSON, string, error) {
	var raw datatypes.JSON
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, "", err
		}
		raw = datatypes.JSON(b)
	}
	envelope, err := json.Marshal(struct {
		FileID  string          `json:"file_id"`
		ActorID string          `json:"actor_id"`
		StageID string          `json:"stage_id"`
		At      time.Time       `json:"at"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}{fileID, actorID, stageID, at, json.RawMessage(raw)})
	if err != nil {
		return nil, "", err
	}
	sum := blake2b.Sum256(envelope)
	return raw, hex.EncodeToString(sum[:]), nil
}

// MarkTo 在当前阶段改派办理人
func (e *Engine) MarkTo(ctx context.Context, fileID, actorID, toActorID, remarks string) (res *Result, err error) {
	const op = "engine.MarkTo"
	started := time.Now()
	ctx, span := e.startSpan(ctx, "Engine.MarkTo", fileID, actorID)
	defer func() { e.finish(span, filing.ActionMarkTo, started, err) }()

	if toActorID == "" {
		return nil, filing.Validationf(op, "接收人不能为空")
	}

	var (
		note *delivery
		evt  Event
	)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := e.load(ctx, tx, op, fileID, actorID)
		if err != nil {
			return err
		}
		if err := s.writable(op); err != nil {
			return err
		}
		if err := permission.Authorize(e.input(ctx, s), filing.ActionMarkTo); err != nil {
			return err
		}
		target, err := findActor(ctx, tx, op, toActorID)
		if err != nil {
			return err
		}
		if !target.Active {
			return filing.Validationf(op, "接收人 %s 已停用", target.ID)
		}

		if err := bump(ctx, tx, op, &s.wf, map[string]any{"current_assignee": target.ID}); err != nil {
			return err
		}
		m, err := e.movements.Record(ctx, tx, movement.Entry{
			FileID:      fileID,
			WorkflowID:  s.wf.ID,
			FromActor:   actorID,
			ToActor:     target.ID,
			Action:      filing.ActionMarkTo,
			Remarks:     remarks,
			FromStageID: s.current.ID,
			ToStageID:   s.current.ID,
			Metadata:    map[string]any{"previous_assignee": s.wf.CurrentAssignee},
		})
		if err != nil {
			return err
		}

		res = &Result{
			FileID:         fileID,
			WorkflowID:     s.wf.ID,
			Stage:          s.current,
			WorkflowStatus: s.wf.Status,
			FileStatus:     s.file.Status,
			Assignee:       target.ID,
			SLAPaused:      s.wf.SLAPaused,
			SLADeadline:    s.wf.SLADeadline,
			Movement:       m,
		}
		evt = eventFor(res, filing.ActionMarkTo, actorID, target.ID, e.clock.Now())
		note = assignmentDelivery(&s.file, s.current, target, filing.ActionMarkTo, actorID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.events.Publish(evt)
	e.dispatch(ctx, note)
	return res, nil
}

// CompleteAsExecutive 高层直接办结
//
// 办理人必须是高层审阅角色，且当前分配给他，或流程正停在其角色负责的阶段并处于暂停中。
func (e *Engine) CompleteAsExecutive(ctx context.Context, fileID, actorID, remarks string) (res *Result, err error) {
	const op = "engine.CompleteAsExecutive"
	started := time.Now()
	ctx, span := e.startSpan(ctx, "Engine.CompleteAsExecutive", fileID, actorID)
	defer func() { e.finish(span, filing.ActionComplete, started, err) }()

	var evt Event
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := e.load(ctx, tx, op, fileID, actorID)
		if err != nil {
			return err
		}
		if err := s.writable(op); err != nil {
			return err
		}
		in := e.input(ctx, s)
		switch {
		case !in.HasAccess:
			return filing.Forbidden(op, filing.ReasonNoAccess)
		case !filing.IsExecutiveReview(s.actor.Role):
			return filing.Forbidden(op, filing.ReasonNotExecutive)
		case !s.assigned() && !(s.wf.SLAPaused && s.current.OwnerRole == s.actor.Role):
			return filing.Forbidden(op, filing.ReasonNotAssigned)
		}

		now := e.clock.Now()
		if err := bump(ctx, tx, op, &s.wf, map[string]any{
			"status":       filing.WorkflowCompleted,
			"completed_at": now,
		}); err != nil {
			return err
		}
		wf, err := e.tracker.Apply(ctx, tx, s.wf.ID, nil, actorID)
		if err != nil {
			return err
		}
		m, err := e.movements.Record(ctx, tx, movement.Entry{
			FileID:      fileID,
			WorkflowID:  s.wf.ID,
			FromActor:   actorID,
			Action:      filing.ActionComplete,
			Remarks:     remarks,
			FromStageID: s.current.ID,
			ToStageID:   s.current.ID,
			Metadata:    map[string]any{"was_paused": s.wf.SLAPaused},
		})
		if err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&filing.File{}).Where("id = ?", fileID).
			Update("status", filing.FileStatusCompleted).Error; err != nil {
			return filing.Internal(op, err)
		}

		res = &Result{
			FileID:         fileID,
			WorkflowID:     s.wf.ID,
			Stage:          s.current,
			WorkflowStatus: filing.WorkflowCompleted,
			FileStatus:     filing.FileStatusCompleted,
			Assignee:       s.wf.CurrentAssignee,
			SLAPaused:      wf.SLAPaused,
			Movement:       m,
		}
		evt = eventFor(res, filing.ActionComplete, actorID, "", now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WorkflowsCompletedTotal.WithLabelValues("executive").Inc()
	e.events.Publish(evt)
	logger.FromContext(ctx, e.logger).Info("高层已办结文件", zap.String("file_id", fileID))
	return res, nil
}

// Reactivate 重新激活已驳回的文件，不重置计时
func (e *Engine) Reactivate(ctx context.Context, fileID, actorID, remarks string) (res *Result, err error) {
	const op = "engine.Reactivate"
	started := time.Now()
	ctx, span := e.startSpan(ctx, "Engine.Reactivate", fileID, actorID)
	defer func() { e.finish(span, filing.ActionReactivate, started, err) }()

	var evt Event
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := e.load(ctx, tx, op, fileID, actorID)
		if err != nil {
			return err
		}
		if err := s.writable(op); err != nil {
			return err
		}
		if s.file.Status != filing.FileStatusRejected {
			return filing.Conflictf(op, "文件 %s 当前状态为 %s，只有已驳回的文件可以重新激活", fileID, s.file.Status)
		}
		if err := permission.Authorize(e.input(ctx, s), filing.ActionReactivate); err != nil {
			return err
		}

		meta := map[string]any{
			"rejected_by":      s.file.RejectedBy,
			"rejection_reason": s.file.RejectionReason,
		}
		if s.file.RejectedAt != nil {
			meta["rejected_at"] = s.file.RejectedAt.UTC().Format(time.RFC3339)
		}

		if err := tx.WithContext(ctx).Model(&filing.File{}).Where("id = ?", fileID).Updates(map[string]any{
			"status":           filing.FileStatusPending,
			"rejected_by":      "",
			"rejected_at":      nil,
			"rejection_reason": "",
		}).Error; err != nil {
			return filing.Internal(op, err)
		}
		if err := bump(ctx, tx, op, &s.wf, nil); err != nil {
			return err
		}
		m, err := e.movements.Record(ctx, tx, movement.Entry{
			FileID:      fileID,
			WorkflowID:  s.wf.ID,
			FromActor:   actorID,
			ToActor:     s.wf.CurrentAssignee,
			Action:      filing.ActionReactivate,
			Remarks:     remarks,
			FromStageID: s.current.ID,
			ToStageID:   s.current.ID,
			Metadata:    meta,
		})
		if err != nil {
			return err
		}

		res = &Result{
			FileID:         fileID,
			WorkflowID:     s.wf.ID,
			Stage:          s.current,
			WorkflowStatus: s.wf.Status,
			FileStatus:     filing.FileStatusPending,
			Assignee:       s.wf.CurrentAssignee,
			SLAPaused:      s.wf.SLAPaused,
			SLADeadline:    s.wf.SLADeadline,
			Movement:       m,
		}
		evt = eventFor(res, filing.ActionReactivate, actorID, s.wf.CurrentAssignee, e.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.events.Publish(evt)
	return res, nil
}

// Archive 归档文件，仅超级用户可操作
func (e *Engine) Archive(ctx context.Context, fileID, actorID, remarks string) (res *Result, err error) {
	const op = "engine.Archive"
	started := time.Now()
	ctx, span := e.startSpan(ctx, "Engine.Archive", fileID, actorID)
	defer func() { e.finish(span, filing.ActionArchive, started, err) }()

	var evt Event
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := e.load(ctx, tx, op, fileID, actorID)
		if err != nil {
			return err
		}
		if s.file.Status == filing.FileStatusArchived || s.wf.Status == filing.WorkflowArchived {
			return filing.Conflictf(op, "文件 %s 已归档", fileID)
		}
		if err := permission.Authorize(e.input(ctx, s), filing.ActionArchive); err != nil {
			return err
		}

		if s.wf.Status == filing.WorkflowInProgress {
			if _, err := e.tracker.Close(ctx, tx, s.wf.ID); err != nil {
				return err
			}
		}
		if err := bump(ctx, tx, op, &s.wf, map[string]any{"status": filing.WorkflowArchived}); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&filing.File{}).Where("id = ?", fileID).
			Update("status", filing.FileStatusArchived).Error; err != nil {
			return filing.Internal(op, err)
		}
		m, err := e.movements.Record(ctx, tx, movement.Entry{
			FileID:      fileID,
			WorkflowID:  s.wf.ID,
			FromActor:   actorID,
			Action:      filing.ActionArchive,
			Remarks:     remarks,
			FromStageID: s.current.ID,
			ToStageID:   s.current.ID,
			Metadata:    map[string]any{"previous_status": string(s.file.Status)},
		})
		if err != nil {
			return err
		}

		res = &Result{
			FileID:         fileID,
			WorkflowID:     s.wf.ID,
			Stage:          s.current,
			WorkflowStatus: filing.WorkflowArchived,
			FileStatus:     filing.FileStatusArchived,
			Assignee:       s.wf.CurrentAssignee,
			Movement:       m,
		}
		evt = eventFor(res, filing.ActionArchive, actorID, "", e.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.events.Publish(evt)
	return res, nil
}
