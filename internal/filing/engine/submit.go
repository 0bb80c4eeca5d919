package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"efiling/internal/filing"
	"efiling/internal/filing/movement"
	"efiling/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubmitRequest 新建文件
type SubmitRequest struct {
	FileNumber string `json:"file_number"`
	Subject    string `json:"subject"`
	FileType   string `json:"file_type"`
	Zone       string `json:"zone,omitempty"`
	Priority   string `json:"priority,omitempty"`
	CreatedBy  string `json:"-"`
	Remarks    string `json:"remarks,omitempty"`
}

// Submit 创建文件并绑定按文件类型匹配的流程模板，从第一阶段开始计时
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (res *Result, err error) {
	const op = "engine.Submit"
	started := time.Now()
	ctx, span := e.startSpan(ctx, "Engine.Submit", "", req.CreatedBy)
	defer func() { e.finish(span, filing.ActionSubmit, started, err) }()

	req.FileNumber = strings.TrimSpace(req.FileNumber)
	req.Subject = strings.TrimSpace(req.Subject)
	req.FileType = strings.TrimSpace(req.FileType)
	switch {
	case req.FileNumber == "":
		return nil, filing.Validationf(op, "文件编号不能为空")
	case req.Subject == "":
		return nil, filing.Validationf(op, "文件标题不能为空")
	case req.FileType == "":
		return nil, filing.Validationf(op, "文件类型不能为空")
	case req.CreatedBy == "":
		return nil, filing.Validationf(op, "创建人不能为空")
	}

	var out *Result
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		creator, err := findActor(ctx, tx, op, req.CreatedBy)
		if err != nil {
			return err
		}
		if !creator.Active {
			return filing.Validationf(op, "创建人 %s 已停用", creator.ID)
		}

		var tpl filing.WorkflowTemplate
		if err := tx.WithContext(ctx).Where("file_type = ?", req.FileType).First(&tpl).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return filing.NotFoundf(op, "文件类型 %s 没有流程模板", req.FileType)
			}
			return filing.Internal(op, err)
		}
		stages, err := loadStages(ctx, tx, tpl.ID)
		if err != nil {
			return filing.Internal(op, err)
		}
		if len(stages) == 0 {
			return filing.Validationf(op, "流程模板 %s 没有阶段", tpl.ID)
		}
		first := &stages[0]
		if countOrder(stages, first.Order) > 1 {
			return filing.Conflictf(op, "阶段序号 %d 重复", first.Order)
		}

		now := e.clock.Now()
		file := &filing.File{
			ID:         uuid.NewString(),
			FileNumber: req.FileNumber,
			Subject:    req.Subject,
			FileType:   req.FileType,
			Zone:       req.Zone,
			Priority:   req.Priority,
			Status:     filing.FileStatusPending,
			CreatedBy:  creator.ID,
		}
		if err := tx.WithContext(ctx).Create(file).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return filing.Conflictf(op, "文件编号 %s 已存在", req.FileNumber)
			}
			return filing.Internal(op, err)
		}

		wf := &filing.WorkflowInstance{
			ID:              uuid.NewString(),
			FileID:          file.ID,
			TemplateID:      tpl.ID,
			CurrentStageID:  first.ID,
			CurrentAssignee: creator.ID,
			Status:          filing.WorkflowInProgress,
			StartedAt:       now,
			Version:         1,
		}
		if err := tx.WithContext(ctx).Create(wf).Error; err != nil {
			return filing.Internal(op, err)
		}
		tracked, err := e.tracker.Apply(ctx, tx, wf.ID, first, creator.ID)
		if err != nil {
			return err
		}

		m, err := e.movements.Record(ctx, tx, movement.Entry{
			FileID:      file.ID,
			WorkflowID:  wf.ID,
			FromActor:   creator.ID,
			ToActor:     creator.ID,
			Action:      filing.ActionSubmit,
			Remarks:     req.Remarks,
			FromStageID: first.ID,
			ToStageID:   first.ID,
			Metadata:    map[string]any{"template_id": tpl.ID, "to_order": first.Order},
		})
		if err != nil {
			return err
		}

		out = &Result{
			FileID:         file.ID,
			WorkflowID:     wf.ID,
			Stage:          first,
			WorkflowStatus: filing.WorkflowInProgress,
			FileStatus:     filing.FileStatusPending,
			Assignee:       creator.ID,
			SLAPaused:      tracked.SLAPaused,
			SLADeadline:    tracked.SLADeadline,
			Movement:       m,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.events.Publish(eventFor(out, filing.ActionSubmit, req.CreatedBy, req.CreatedBy, e.clock.Now()))
	logger.FromContext(ctx, e.logger).Info("文件已创建",
		zap.String("file_id", out.FileID),
		zap.String("file_number", req.FileNumber),
		zap.String("file_type", req.FileType))
	return out, nil
}
