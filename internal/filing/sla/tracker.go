// Package sla 维护流程实例的办理时限：暂停、恢复与状态查询
//
// 写操作只接受事务句柄，由流程引擎在同一事务内调用。
package sla

import (
	"context"
	"errors"
	"time"

	"efiling/internal/filing"
	"efiling/internal/logger"
	"efiling/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Tracker SLA 计时器
type Tracker struct {
	clock  filing.Clock
	logger *zap.Logger
}

// Option 配置项
type Option func(*Tracker)

// WithClock 指定时钟
func WithClock(c filing.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger 指定日志
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker 创建计时器
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		clock:  filing.SystemClock{},
		logger: logger.Get(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Clock 当前使用的时钟
func (t *Tracker) Clock() filing.Clock { return t.clock }

func (t *Tracker) load(ctx context.Context, tx *gorm.DB, workflowID string) (*filing.WorkflowInstance, error) {
	var wf filing.WorkflowInstance
	if err := tx.WithContext(ctx).Where("id = ?", workflowID).First(&wf).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, filing.NotFoundf("sla.load", "流程实例 %s 不存在", workflowID)
		}
		return nil, filing.Internal("sla.load", err)
	}
	return &wf, nil
}

func (t *Tracker) save(ctx context.Context, tx *gorm.DB, workflowID string, updates map[string]any) error {
	res := tx.WithContext(ctx).Model(&filing.WorkflowInstance{}).Where("id = ?", workflowID).Updates(updates)
	if res.Error != nil {
		return filing.Internal("sla.save", res.Error)
	}
	if res.RowsAffected == 0 {
		return filing.NotFoundf("sla.save", "流程实例 %s 不存在", workflowID)
	}
	return nil
}

// Pause 暂停计时，已暂停时直接返回 (实例, false)
func (t *Tracker) Pause(ctx context.Context, tx *gorm.DB, workflowID, actorID, stageID string) (*filing.WorkflowInstance, bool, error) {
	wf, err := t.load(ctx, tx, workflowID)
	if err != nil {
		return nil, false, err
	}
	if wf.SLAPaused {
		return wf, false, nil
	}

	var open int64
	if err := tx.WithContext(ctx).Model(&filing.PauseHistory{}).
		Where("workflow_id = ? AND resumed_at IS NULL", workflowID).
		Count(&open).Error; err != nil {
		return nil, false, filing.Internal("sla.Pause", err)
	}
	if open > 0 {
		return nil, false, filing.Conflictf("sla.Pause", "流程 %s 存在未关闭的暂停记录", workflowID)
	}

	now := t.clock.Now()
	elapsed := filing.HoursBetween(wf.ClockStart(), now)
	if elapsed < 0 {
		elapsed = 0
	}
	accumulated := wf.SLAAccumulatedHours + elapsed

	if err := t.save(ctx, tx, workflowID, map[string]any{
		"sla_paused":            true,
		"sla_paused_at":         now,
		"sla_accumulated_hours": accumulated,
		"sla_pause_count":       wf.SLAPauseCount + 1,
	}); err != nil {
		return nil, false, err
	}

	record := &filing.PauseHistory{
		ID:         uuid.NewString(),
		FileID:     wf.FileID,
		WorkflowID: wf.ID,
		StageID:    stageID,
		PausedAt:   now,
		PausedBy:   actorID,
	}
	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		return nil, false, filing.Internal("sla.Pause", err)
	}

	wf.SLAPaused = true
	wf.SLAPausedAt = &now
	wf.SLAAccumulatedHours = accumulated
	wf.SLAPauseCount++

	metrics.SLAPausesTotal.Inc()
	logger.FromContext(ctx, t.logger).Info("SLA 计时已暂停",
		zap.String("workflow_id", wf.ID),
		zap.String("stage_id", stageID),
		zap.Float64("accumulated_hours", accumulated),
	)
	return wf, true, nil
}

// Resume 恢复计时，截止时间按下一阶段时限重新计算；next 为空表示流程结束
func (t *Tracker) Resume(ctx context.Context, tx *gorm.DB, workflowID string, next *filing.Stage) (*filing.WorkflowInstance, error) {
	wf, err := t.load(ctx, tx, workflowID)
	if err != nil {
		return nil, err
	}
	now := t.clock.Now()
	if err := t.endPause(ctx, tx, workflowID, now); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"sla_paused":    false,
		"sla_paused_at": nil,
		"sla_deadline":  deadlineFor(now, next),
	}
	if wf.SLAPaused {
		updates["sla_last_resumed_at"] = now
		wf.SLALastResumedAt = &now
	}
	if err := t.save(ctx, tx, workflowID, updates); err != nil {
		return nil, err
	}

	wf.SLAPaused = false
	wf.SLAPausedAt = nil
	wf.SLADeadline = deadlineFor(now, next)

	metrics.SLAResumesTotal.Inc()
	return wf, nil
}

// BeginStage 进入新阶段，未暂停时给予该阶段完整时限
func (t *Tracker) BeginStage(ctx context.Context, tx *gorm.DB, workflowID string, stage *filing.Stage) (*filing.WorkflowInstance, error) {
	wf, err := t.load(ctx, tx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.SLAPaused {
		return wf, nil
	}
	deadline := deadlineFor(t.clock.Now(), stage)
	if err := t.save(ctx, tx, workflowID, map[string]any{"sla_deadline": deadline}); err != nil {
		return nil, err
	}
	wf.SLADeadline = deadline
	return wf, nil
}

// Close 流程结束：关闭暂停，累计最后一段用时并清除截止时间，计时起点保持不变
func (t *Tracker) Close(ctx context.Context, tx *gorm.DB, workflowID string) (*filing.WorkflowInstance, error) {
	wf, err := t.load(ctx, tx, workflowID)
	if err != nil {
		return nil, err
	}
	now := t.clock.Now()

	updates := map[string]any{"sla_deadline": nil}
	if wf.SLAPaused {
		if err := t.endPause(ctx, tx, workflowID, now); err != nil {
			return nil, err
		}
		updates["sla_paused"] = false
		updates["sla_paused_at"] = nil
		metrics.SLAResumesTotal.Inc()
	} else {
		elapsed := filing.HoursBetween(wf.ClockStart(), now)
		if elapsed < 0 {
			elapsed = 0
		}
		wf.SLAAccumulatedHours += elapsed
		updates["sla_accumulated_hours"] = wf.SLAAccumulatedHours
	}
	if err := t.save(ctx, tx, workflowID, updates); err != nil {
		return nil, err
	}
	wf.SLAPaused = false
	wf.SLAPausedAt = nil
	wf.SLADeadline = nil
	return wf, nil
}

// endPause 关闭最近一条未结束的暂停记录
func (t *Tracker) endPause(ctx context.Context, tx *gorm.DB, workflowID string, now time.Time) error {
	var record filing.PauseHistory
	err := tx.WithContext(ctx).
		Where("workflow_id = ? AND resumed_at IS NULL", workflowID).
		Order("paused_at DESC").
		First(&record).Error
	switch {
	case err == nil:
		duration := filing.HoursBetween(record.PausedAt, now)
		if err := tx.WithContext(ctx).Model(&filing.PauseHistory{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{"resumed_at": now, "duration_hours": duration}).Error; err != nil {
			return filing.Internal("sla.Resume", err)
		}
		metrics.SLAPauseDurationHours.Observe(duration)
	case errors.Is(err, gorm.ErrRecordNotFound):
		logger.FromContext(ctx, t.logger).Warn("恢复计时时未找到暂停记录", zap.String("workflow_id", workflowID))
	default:
		return filing.Internal("sla.Resume", err)
	}
	return nil
}

// Apply 根据目标阶段的办理角色决定暂停、恢复或重新计时
// dest 为空表示流程结束
func (t *Tracker) Apply(ctx context.Context, tx *gorm.DB, workflowID string, dest *filing.Stage, actorID string) (*filing.WorkflowInstance, error) {
	if dest == nil {
		return t.Close(ctx, tx, workflowID)
	}

	wf, err := t.load(ctx, tx, workflowID)
	if err != nil {
		return nil, err
	}

	switch {
	case filing.IsExecutiveReview(dest.OwnerRole):
		if wf.SLAPaused {
			return wf, nil
		}
		if _, err := t.BeginStage(ctx, tx, workflowID, dest); err != nil {
			return nil, err
		}
		wf, _, err = t.Pause(ctx, tx, workflowID, actorID, dest.ID)
		return wf, err
	case wf.SLAPaused:
		return t.Resume(ctx, tx, workflowID, dest)
	default:
		return t.BeginStage(ctx, tx, workflowID, dest)
	}
}

// History 暂停记录，按暂停时间排序
func (t *Tracker) History(ctx context.Context, db *gorm.DB, workflowID string) ([]filing.PauseHistory, error) {
	var records []filing.PauseHistory
	if err := db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("paused_at ASC").
		Find(&records).Error; err != nil {
		return nil, filing.Internal("sla.History", err)
	}
	return records, nil
}

func deadlineFor(now time.Time, stage *filing.Stage) *time.Time {
	if stage == nil {
		return nil
	}
	d := filing.AddHours(now, stage.SLAHours)
	return &d
}
