package sla

import (
	"context"
	"errors"
	"time"

	"efiling/internal/filing"

	"gorm.io/gorm"
)

// State 计时状态
type State string

const (
	StatePaused    State = "PAUSED"
	StateActive    State = "ACTIVE"
	StateBreached  State = "BREACHED"
	StateUnknown   State = "UNKNOWN"
	StateCompleted State = "COMPLETED"
)

// ReasonExecutiveReview 暂停原因：高层审阅
const ReasonExecutiveReview = "EXECUTIVE_REVIEW"

// Status 计时状态快照
type Status struct {
	State            State      `json:"state"`
	FileID           string     `json:"file_id"`
	WorkflowID       string     `json:"workflow_id,omitempty"`
	StageID          string     `json:"stage_id,omitempty"`
	StageName        string     `json:"stage_name,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	AccumulatedHours float64    `json:"accumulated_hours"`
	PauseCount       int        `json:"pause_count"`
	RemainingHours   float64    `json:"remaining_hours"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	PausedAt         *time.Time `json:"paused_at,omitempty"`
}

// Status 查询文件的计时状态，只读
func (t *Tracker) Status(ctx context.Context, db *gorm.DB, fileID string) (*Status, error) {
	var wf filing.WorkflowInstance
	err := db.WithContext(ctx).Where("file_id = ?", fileID).First(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Status{State: StateUnknown, FileID: fileID}, nil
	}
	if err != nil {
		return nil, filing.Internal("sla.Status", err)
	}

	var stage filing.Stage
	if err := db.WithContext(ctx).Where("id = ?", wf.CurrentStageID).First(&stage).Error; err != nil &&
		!errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, filing.Internal("sla.Status", err)
	}

	return Evaluate(&wf, &stage, t.clock.Now()), nil
}

// Evaluate 根据实例字段与当前时间计算状态
func Evaluate(wf *filing.WorkflowInstance, stage *filing.Stage, now time.Time) *Status {
	st := &Status{
		FileID:           wf.FileID,
		WorkflowID:       wf.ID,
		StageID:          wf.CurrentStageID,
		AccumulatedHours: wf.SLAAccumulatedHours,
		PauseCount:       wf.SLAPauseCount,
		Deadline:         wf.SLADeadline,
		PausedAt:         wf.SLAPausedAt,
	}
	if stage != nil {
		st.StageName = stage.Name
	}

	switch {
	case wf.Status != filing.WorkflowInProgress:
		st.State = StateCompleted
	case wf.SLAPaused:
		st.State = StatePaused
		st.Reason = ReasonExecutiveReview
	case wf.SLADeadline == nil:
		st.State = StateUnknown
	default:
		st.RemainingHours = filing.HoursBetween(now, *wf.SLADeadline)
		if st.RemainingHours < 0 {
			st.State = StateBreached
		} else {
			st.State = StateActive
		}
	}
	return st
}
