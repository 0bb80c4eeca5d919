package engine

import (
	"context"
	"errors"
	"time"

	"efiling/internal/common"
	"efiling/internal/filing"
	"efiling/internal/filing/permission"
	"efiling/internal/filing/sla"

	"gorm.io/gorm"
)

// GetPermissions 计算办理人对文件的能力集合，只读
func (e *Engine) GetPermissions(ctx context.Context, fileID, actorID string) (*permission.Set, error) {
	s, err := e.load(ctx, e.db, "engine.GetPermissions", fileID, actorID)
	if err != nil {
		return nil, err
	}
	set := permission.Evaluate(e.input(ctx, s))
	return &set, nil
}

// GetSLAStatus 文件的计时状态
func (e *Engine) GetSLAStatus(ctx context.Context, fileID string) (*sla.Status, error) {
	return e.tracker.Status(ctx, e.db, fileID)
}

// PauseHistory 文件的暂停记录
func (e *Engine) PauseHistory(ctx context.Context, fileID string) ([]filing.PauseHistory, error) {
	var wf filing.WorkflowInstance
	if err := e.db.WithContext(ctx).Where("file_id = ?", fileID).First(&wf).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, filing.NotFoundf("engine.PauseHistory", "文件 %s 没有流程实例", fileID)
		}
		return nil, filing.Internal("engine.PauseHistory", err)
	}
	return e.tracker.History(ctx, e.db, wf.ID)
}

// Movements 文件的流转记录
func (e *Engine) Movements(ctx context.Context, fileID string) ([]filing.Movement, error) {
	exists, err := common.NewBaseService(e.db).Exists(ctx, &filing.File{}, common.Eq("id", fileID))
	if err != nil {
		return nil, filing.Internal("engine.Movements", err)
	}
	if !exists {
		return nil, filing.NotFoundf("engine.Movements", "文件 %s 不存在", fileID)
	}
	return e.movements.List(ctx, e.db, fileID)
}

// InboxFilter 待办过滤条件
type InboxFilter struct {
	Status    filing.FileStatus `form:"status"`
	FileType  string            `form:"file_type"`
	Zone      string            `form:"zone"`
	DueBefore *time.Time        `form:"due_before" time_format:"2006-01-02T15:04:05Z07:00"`
	Paused    *bool             `form:"paused"`
}

// InboxItem 待办条目
type InboxItem struct {
	File     filing.File             `json:"file"`
	Workflow filing.WorkflowInstance `json:"workflow"`
}

// Inbox 当前分配给办理人且仍在办理中的文件
func (e *Engine) Inbox(ctx context.Context, actorID string, filter InboxFilter, page common.PaginationRequest) ([]InboxItem, int64, error) {
	const op = "engine.Inbox"
	svc := common.NewBaseService(e.db)

	var instances []filing.WorkflowInstance
	wfScopes := common.All(
		common.Eq("current_assignee", actorID),
		common.Eq("status", filing.WorkflowInProgress),
		common.When(filter.DueBefore != nil, func(db *gorm.DB) *gorm.DB {
			return common.Before("sla_deadline", *filter.DueBefore)(db)
		}),
		common.When(filter.Paused != nil, func(db *gorm.DB) *gorm.DB {
			return common.Eq("sla_paused", *filter.Paused)(db)
		}),
	)
	if err := common.Apply(e.db.WithContext(ctx).Model(&filing.WorkflowInstance{}), wfScopes).
		Find(&instances).Error; err != nil {
		return nil, 0, filing.Internal(op, err)
	}
	byFile := make(map[string]filing.WorkflowInstance, len(instances))
	fileIDs := make([]string, 0, len(instances))
	for _, wf := range instances {
		byFile[wf.FileID] = wf
		fileIDs = append(fileIDs, wf.FileID)
	}

	var files []filing.File
	total, err := svc.List(ctx, &files, &filing.File{}, page,
		common.In("id", fileIDs...),
		common.When(filter.Status != "", common.Eq("status", filter.Status)),
		common.EqIfSet("file_type", filter.FileType),
		common.EqIfSet("zone", filter.Zone),
		common.OrderBy("created_at", true),
		common.OrderBy("id", false),
	)
	if err != nil {
		return nil, 0, filing.Internal(op, err)
	}

	items := make([]InboxItem, 0, len(files))
	for _, f := range files {
		items = append(items, InboxItem{File: f, Workflow: byFile[f.ID]})
	}
	return items, total, nil
}
