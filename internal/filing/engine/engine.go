// Package engine 流程引擎：推进阶段、签名、转办、高层办结、重新激活与归档
//
// 每个写操作只持有一个事务句柄，阶段、文件状态、SLA 与流转记录同时提交或同时回滚。
// 事件发布与通知在提交之后进行。
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"efiling/internal/filing"
	"efiling/internal/filing/movement"
	"efiling/internal/filing/permission"
	"efiling/internal/filing/sla"
	"efiling/internal/logger"
	"efiling/internal/metrics"
	"efiling/internal/notification"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccessChecker 外部访问控制：办理人能否看到该文件
type AccessChecker interface {
	HasAccess(ctx context.Context, actor *filing.Actor, file *filing.File) bool
}

// AccessFunc 函数适配器
type AccessFunc func(ctx context.Context, actor *filing.Actor, file *filing.File) bool

// HasAccess 实现 AccessChecker
func (f AccessFunc) HasAccess(ctx context.Context, actor *filing.Actor, file *filing.File) bool {
	return f(ctx, actor, file)
}

// ActiveActorAccess 默认规则：在职办理人均可访问
var ActiveActorAccess = AccessFunc(func(_ context.Context, actor *filing.Actor, _ *filing.File) bool {
	return actor != nil && actor.Active
})

// Engine 流程引擎
type Engine struct {
	db        *gorm.DB
	tracker   *sla.Tracker
	movements *movement.Logger
	access    AccessChecker
	policy    *RemarksPolicy
	notifier  notification.Notifier
	channels  []string
	events    *EventBus
	clock     filing.Clock
	logger    *zap.Logger
	tracer    trace.Tracer

	notifyTimeout time.Duration
	pending       sync.WaitGroup
}

// Option 配置项
type Option func(*Engine)

// WithClock 指定时钟
func WithClock(c filing.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger 指定日志
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAccessChecker 指定访问控制
func WithAccessChecker(a AccessChecker) Option {
	return func(e *Engine) {
		if a != nil {
			e.access = a
		}
	}
}

// WithRemarksPolicy 指定意见必填策略
func WithRemarksPolicy(p *RemarksPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithNotifier 指定通知器与渠道，channels 为空时只发邮件
func WithNotifier(n notification.Notifier, channels ...string) Option {
	return func(e *Engine) {
		e.notifier = n
		if len(channels) > 0 {
			e.channels = channels
		}
	}
}

// WithEventBus 指定事件总线
func WithEventBus(b *EventBus) Option {
	return func(e *Engine) {
		if b != nil {
			e.events = b
		}
	}
}

// New 创建流程引擎
func New(db *gorm.DB, opts ...Option) *Engine {
	e := &Engine{
		db:            db,
		access:        ActiveActorAccess,
		policy:        &RemarksPolicy{},
		channels:      []string{notification.ChannelEmail},
		events:        NewEventBus(nil),
		clock:         filing.SystemClock{},
		logger:        logger.Get(),
		tracer:        otel.Tracer("efiling/internal/filing/engine"),
		notifyTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracker = sla.NewTracker(sla.WithClock(e.clock), sla.WithLogger(e.logger))
	e.movements = movement.NewLogger(e.clock)
	return e
}

// Events 事件总线
func (e *Engine) Events() *EventBus { return e.events }

// Tracker SLA 计时器
func (e *Engine) Tracker() *sla.Tracker { return e.tracker }

// Wait 等待已派发的通知结束
func (e *Engine) Wait() { e.pending.Wait() }

// snapshot 一次操作读取到的文件状态
type snapshot struct {
	file          filing.File
	wf            filing.WorkflowInstance
	actor         filing.Actor
	stages        []filing.Stage
	current       *filing.Stage
	latest        *filing.Movement
	signed        bool
	creatorSigned bool
}

// load 在给定句柄上读取文件、实例、办理人与阶段
func (e *Engine) load(ctx context.Context, tx *gorm.DB, op, fileID, actorID string) (*snapshot, error) {
	s := &snapshot{}
	db := tx.WithContext(ctx)

	if err := db.Where("id = ?", fileID).First(&s.file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, filing.NotFoundf(op, "文件 %s 不存在", fileID)
		}
		return nil, filing.Internal(op, err)
	}
	if err := db.Where("id = ?", actorID).First(&s.actor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, filing.NotFoundf(op, "办理人 %s 不存在", actorID)
		}
		return nil, filing.Internal(op, err)
	}
	if err := db.Where("file_id = ?", fileID).First(&s.wf).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, filing.NotFoundf(op, "文件 %s 没有流程实例", fileID)
		}
		return nil, filing.Internal(op, err)
	}

	stages, err := loadStages(ctx, tx, s.wf.TemplateID)
	if err != nil {
		return nil, filing.Internal(op, err)
	}
	s.stages = stages
	for i := range s.stages {
		if s.stages[i].ID == s.wf.CurrentStageID {
			s.current = &s.stages[i]
			break
		}
	}
	if s.current == nil {
		return nil, filing.NotFoundf(op, "当前阶段 %s 不存在", s.wf.CurrentStageID)
	}

	if s.signed, err = hasSigned(ctx, tx, fileID, actorID, s.wf.CurrentStageID); err != nil {
		return nil, filing.Internal(op, err)
	}
	if s.file.CreatedBy == actorID {
		s.creatorSigned = s.signed
	} else if s.creatorSigned, err = hasSigned(ctx, tx, fileID, s.file.CreatedBy, s.wf.CurrentStageID); err != nil {
		return nil, filing.Internal(op, err)
	}

	if s.latest, err = e.movements.Latest(ctx, tx, fileID); err != nil {
		return nil, err
	}
	return s, nil
}

// assigned 直接分配或最近一条流转的接收人
func (s *snapshot) assigned() bool {
	if s.wf.CurrentAssignee == s.actor.ID {
		return true
	}
	return s.latest != nil && s.latest.ToActor == s.actor.ID
}

func (e *Engine) input(ctx context.Context, s *snapshot) permission.Input {
	return permission.Input{
		Role:             s.actor.Role,
		HasAccess:        e.access.HasAccess(ctx, &s.actor, &s.file),
		IsCreator:        s.file.CreatedBy == s.actor.ID,
		IsAssigned:       s.assigned(),
		HasSigned:        s.signed,
		CreatorHasSigned: s.creatorSigned,
	}
}

// writable 已归档或已办结的流程拒绝写入
func (s *snapshot) writable(op string) error {
	switch {
	case s.file.Status == filing.FileStatusArchived || s.wf.Status == filing.WorkflowArchived:
		return filing.Conflictf(op, "文件 %s 已归档", s.file.ID)
	case s.wf.Status == filing.WorkflowCompleted:
		return filing.Conflictf(op, "文件 %s 的流程已办结", s.file.ID)
	}
	return nil
}

func loadStages(ctx context.Context, tx *gorm.DB, templateID string) ([]filing.Stage, error) {
	var stages []filing.Stage
	if err := tx.WithContext(ctx).
		Where("template_id = ?", templateID).
		Order("stage_order ASC").
		Find(&stages).Error; err != nil {
		return nil, err
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Order < stages[j].Order })
	return stages, nil
}

func hasSigned(ctx context.Context, tx *gorm.DB, fileID, actorID, stageID string) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&filing.Signature{}).
		Where("file_id = ? AND actor_id = ? AND stage_id = ?", fileID, actorID, stageID).
		Count(&n).Error
	return n > 0, err
}

// bump 带版本校验更新实例，期间被他人修改时返回 Conflict
func bump(ctx context.Context, tx *gorm.DB, op string, wf *filing.WorkflowInstance, updates map[string]any) error {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["version"] = gorm.Expr("version + 1")
	res := tx.WithContext(ctx).Model(&filing.WorkflowInstance{}).
		Where("id = ? AND version = ?", wf.ID, wf.Version).
		Updates(updates)
	if res.Error != nil {
		return filing.Internal(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return filing.Conflictf(op, "流程 %s 已被其他操作修改", wf.ID)
	}
	wf.Version++
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name, fileID, actorID string) (context.Context, trace.Span) {
	ctx = logger.WithActorID(ctx, actorID)
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("file.id", fileID),
		attribute.String("actor.id", actorID),
	))
}

// finish 结束 span 并记录指标
func (e *Engine) finish(span trace.Span, action filing.Action, started time.Time, err error) {
	metrics.TransitionsTotal.WithLabelValues(string(action), resultLabel(err)).Inc()
	metrics.TransitionDuration.WithLabelValues(string(action)).Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch filing.KindOf(err) {
	case filing.ErrNotFound:
		return "not_found"
	case filing.ErrForbidden:
		return "forbidden"
	case filing.ErrConflict:
		return "conflict"
	case filing.ErrValidation:
		return "validation"
	}
	return "error"
}
