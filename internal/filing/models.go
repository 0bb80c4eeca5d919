package filing

import (
	"errors"
	"time"

	"efiling/internal/common"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actor 办理人（目录数据，流程引擎只读）
type Actor struct {
	ID     string `json:"id" gorm:"primaryKey;size:64"`
	Name   string `json:"name" gorm:"size:255;not null"`
	Role   Role   `json:"role" gorm:"size:32;not null;index"`
	Email  string `json:"email,omitempty" gorm:"size:255"`
	Phone  string `json:"phone,omitempty" gorm:"size:32"`
	Zone   string `json:"zone,omitempty" gorm:"size:64;index"`
	Active bool   `json:"active" gorm:"not null"`
	common.TimestampModel
}

// TableName 指定表名
func (Actor) TableName() string { return "actors" }

// File 电子文件
type File struct {
	ID              string     `json:"id" gorm:"primaryKey;size:64"`
	FileNumber      string     `json:"file_number" gorm:"size:64;not null;uniqueIndex"`
	Subject         string     `json:"subject" gorm:"size:500;not null"`
	FileType        string     `json:"file_type" gorm:"size:64;not null;index"`
	Zone            string     `json:"zone,omitempty" gorm:"size:64;index"`
	Priority        string     `json:"priority,omitempty" gorm:"size:16"`
	Status          FileStatus `json:"status" gorm:"size:16;not null;index"`
	CreatedBy       string     `json:"created_by" gorm:"size:64;not null;index"`
	RejectedBy      string     `json:"rejected_by,omitempty" gorm:"size:64"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty" gorm:"type:text"`
	common.TimestampModel
}

// TableName 指定表名
func (File) TableName() string { return "files" }

// WorkflowTemplate 流程模板，按文件类型匹配
type WorkflowTemplate struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	FileType  string    `json:"file_type" gorm:"size:64;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	Stages    []Stage   `json:"stages" gorm:"foreignKey:TemplateID"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (WorkflowTemplate) TableName() string { return "workflow_templates" }

// Stage 阶段定义，被实例引用后不可修改
type Stage struct {
	ID          string  `json:"id" gorm:"primaryKey;size:64"`
	TemplateID  string  `json:"template_id" gorm:"size:64;not null;index:idx_stage_template_order"`
	Order       int     `json:"order" gorm:"column:stage_order;not null;index:idx_stage_template_order"`
	Name        string  `json:"name" gorm:"size:255;not null"`
	OwnerRole   Role    `json:"owner_role" gorm:"size:32;not null"`
	SLAHours    float64 `json:"sla_hours" gorm:"not null"`
	CanAttach   bool    `json:"can_attach" gorm:"not null"`
	CanComment  bool    `json:"can_comment" gorm:"not null"`
	CanEscalate bool    `json:"can_escalate" gorm:"not null"`
}

// TableName 指定表名
func (Stage) TableName() string { return "workflow_stages" }

// WorkflowInstance 文件与模板的运行时绑定，每个文件仅一个
type WorkflowInstance struct {
	ID                  string         `json:"id" gorm:"primaryKey;size:64"`
	FileID              string         `json:"file_id" gorm:"size:64;not null;uniqueIndex"`
	TemplateID          string         `json:"template_id" gorm:"size:64;not null"`
	CurrentStageID      string         `json:"current_stage_id" gorm:"size:64;not null"`
	CurrentAssignee     string         `json:"current_assignee" gorm:"size:64;index"`
	Status              WorkflowStatus `json:"status" gorm:"size:16;not null;index"`
	SLADeadline         *time.Time     `json:"sla_deadline,omitempty" gorm:"column:sla_deadline;index"`
	SLAAccumulatedHours float64        `json:"sla_accumulated_hours" gorm:"column:sla_accumulated_hours;not null;default:0"`
	SLAPaused           bool           `json:"sla_paused" gorm:"column:sla_paused;not null;default:false"`
	SLAPausedAt         *time.Time     `json:"sla_paused_at,omitempty" gorm:"column:sla_paused_at"`
	SLAPauseCount       int            `json:"sla_pause_count" gorm:"column:sla_pause_count;not null;default:0"`
	SLALastResumedAt    *time.Time     `json:"sla_last_resumed_at,omitempty" gorm:"column:sla_last_resumed_at"`
	StartedAt           time.Time      `json:"started_at" gorm:"not null"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	Version             int            `json:"version" gorm:"not null;default:1"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// TableName 指定表名
func (WorkflowInstance) TableName() string { return "workflow_instances" }

// ClockStart 当前计时段的起点：最近一次恢复时间，否则为启动时间
func (w *WorkflowInstance) ClockStart() time.Time {
	if w.SLALastResumedAt != nil {
		return *w.SLALastResumedAt
	}
	return w.StartedAt
}

// ErrImmutableMovement 流转记录只能追加
var ErrImmutableMovement = errors.New("filing: movement records are append-only")

// Movement 流转记录
type Movement struct {
	ID          string         `json:"id" gorm:"primaryKey;size:64"`
	FileID      string         `json:"file_id" gorm:"size:64;not null;uniqueIndex:uq_movement_file_seq"`
	WorkflowID  string         `json:"workflow_id" gorm:"size:64;not null;index"`
	FromActor   string         `json:"from_actor" gorm:"size:64;not null"`
	ToActor     string         `json:"to_actor,omitempty" gorm:"size:64;index"`
	Action      Action         `json:"action" gorm:"size:16;not null"`
	Remarks     string         `json:"remarks,omitempty" gorm:"type:text"`
	FromStageID string         `json:"from_stage_id,omitempty" gorm:"size:64"`
	ToStageID   string         `json:"to_stage_id,omitempty" gorm:"size:64"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	Seq         int64          `json:"seq" gorm:"not null;uniqueIndex:uq_movement_file_seq"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null"`
}

// TableName 指定表名
func (Movement) TableName() string { return "file_movements" }

// BeforeUpdate 禁止修改
func (m *Movement) BeforeUpdate(tx *gorm.DB) error { return ErrImmutableMovement }

// BeforeDelete 禁止删除
func (m *Movement) BeforeDelete(tx *gorm.DB) error { return ErrImmutableMovement }

// PauseHistory 暂停周期记录
type PauseHistory struct {
	ID            string     `json:"id" gorm:"primaryKey;size:64"`
	FileID        string     `json:"file_id" gorm:"size:64;not null;index"`
	WorkflowID    string     `json:"workflow_id" gorm:"size:64;not null;index"`
	StageID       string     `json:"stage_id" gorm:"size:64"`
	PausedAt      time.Time  `json:"paused_at" gorm:"not null"`
	PausedBy      string     `json:"paused_by" gorm:"size:64"`
	ResumedAt     *time.Time `json:"resumed_at,omitempty"`
	DurationHours *float64   `json:"duration_hours,omitempty"`
}

// TableName 指定表名
func (PauseHistory) TableName() string { return "sla_pause_history" }

// Open 是否仍在暂停中
func (p *PauseHistory) Open() bool { return p.ResumedAt == nil }

// Signature 签名记录，重复签名会追加新记录
type Signature struct {
	ID        string         `json:"id" gorm:"primaryKey;size:64"`
	FileID    string         `json:"file_id" gorm:"size:64;not null;index:idx_signature_lookup"`
	ActorID   string         `json:"actor_id" gorm:"size:64;not null;index:idx_signature_lookup"`
	StageID   string         `json:"stage_id" gorm:"size:64;not null;index:idx_signature_lookup"`
	Digest    string         `json:"digest" gorm:"size:128;not null"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
}

// TableName 指定表名
func (Signature) TableName() string { return "file_signatures" }

// WarningKind 预警类型
type WarningKind string

const (
	WarningImminent  WarningKind = "IMMINENT"
	WarningBreached  WarningKind = "BREACHED"
	WarningEscalated WarningKind = "ESCALATED"
)

// SLAWarning 预警发送记录，(文件, 接收人, 窗口) 唯一
type SLAWarning struct {
	ID        string      `json:"id" gorm:"primaryKey;size:64"`
	FileID    string      `json:"file_id" gorm:"size:64;not null;uniqueIndex:uq_sla_warning_window"`
	ActorID   string      `json:"actor_id" gorm:"size:64;not null;uniqueIndex:uq_sla_warning_window"`
	WindowKey string      `json:"window_key" gorm:"size:64;not null;uniqueIndex:uq_sla_warning_window"`
	Kind      WarningKind `json:"kind" gorm:"size:16;not null"`
	Deadline  time.Time   `json:"deadline" gorm:"not null"`
	SentAt    time.Time   `json:"sent_at" gorm:"not null"`
}

// TableName 指定表名
func (SLAWarning) TableName() string { return "sla_warnings" }

// Models 需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&Actor{},
		&File{},
		&WorkflowTemplate{},
		&Stage{},
		&WorkflowInstance{},
		&Movement{},
		&PauseHistory{},
		&Signature{},
		&SLAWarning{},
	}
}
