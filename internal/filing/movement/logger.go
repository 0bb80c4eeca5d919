// Package movement 追加写入文件流转记录
package movement

import (
	"context"
	"encoding/json"
	"errors"

	"efiling/internal/filing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry 一条待写入的流转记录
type Entry struct {
	FileID      string
	WorkflowID  string
	FromActor   string
	ToActor     string
	Action      filing.Action
	Remarks     string
	FromStageID string
	ToStageID   string
	Metadata    map[string]any
}

// Logger 流转记录器，只追加
type Logger struct {
	clock filing.Clock
}

// NewLogger 创建记录器
func NewLogger(clock filing.Clock) *Logger {
	if clock == nil {
		clock = filing.SystemClock{}
	}
	return &Logger{clock: clock}
}

// Record 在事务内追加一条记录，失败时调用方必须回滚
func (l *Logger) Record(ctx context.Context, tx *gorm.DB, e Entry) (*filing.Movement, error) {
	const op = "movement.Record"
	if e.FileID == "" || e.FromActor == "" || e.Action == "" {
		return nil, filing.Validationf(op, "流转记录缺少文件、操作人或动作")
	}

	var last struct{ Seq int64 }
	if err := tx.WithContext(ctx).Model(&filing.Movement{}).
		Select("COALESCE(MAX(seq), 0) AS seq").
		Where("file_id = ?", e.FileID).
		Scan(&last).Error; err != nil {
		return nil, filing.Internal(op, err)
	}

	m := &filing.Movement{
		ID:          uuid.NewString(),
		FileID:      e.FileID,
		WorkflowID:  e.WorkflowID,
		FromActor:   e.FromActor,
		ToActor:     e.ToActor,
		Action:      e.Action,
		Remarks:     e.Remarks,
		FromStageID: e.FromStageID,
		ToStageID:   e.ToStageID,
		Seq:         last.Seq + 1,
		CreatedAt:   l.clock.Now(),
	}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, filing.Internal(op, err)
		}
		m.Metadata = datatypes.JSON(raw)
	}

	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, filing.Conflictf(op, "文件 %s 存在并发流转", e.FileID)
		}
		return nil, filing.Internal(op, err)
	}
	return m, nil
}

// List 文件的全部流转记录，按写入顺序
func (l *Logger) List(ctx context.Context, db *gorm.DB, fileID string) ([]filing.Movement, error) {
	var out []filing.Movement
	if err := db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, filing.Internal("movement.List", err)
	}
	return out, nil
}

// Latest 最近一条记录，没有时返回 nil
func (l *Logger) Latest(ctx context.Context, db *gorm.DB, fileID string) (*filing.Movement, error) {
	var m filing.Movement
	err := db.WithContext(ctx).Where("file_id = ?", fileID).Order("seq DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, filing.Internal("movement.Latest", err)
	}
	return &m, nil
}

// LastActorAt 最近一次在指定阶段办理过该文件的人
func (l *Logger) LastActorAt(ctx context.Context, db *gorm.DB, fileID, stageID string) (string, error) {
	var m filing.Movement
	err := db.WithContext(ctx).
		Where("file_id = ? AND from_stage_id = ? AND action IN ?", fileID, stageID,
			[]filing.Action{filing.ActionApprove, filing.ActionForward, filing.ActionSubmit}).
		Order("seq DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", filing.Internal("movement.LastActorAt", err)
	}
	return m.FromActor, nil
}
