// Package scanner 办理时限预警扫描
//
// 每个 (文件, 接收人, 窗口) 只发送一次：先以唯一索引写入发送记录，写入成功者负责发送。
package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"efiling/internal/common"
	"efiling/internal/filing"
	"efiling/internal/logger"
	"efiling/internal/metrics"
	"efiling/internal/notification"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Result 一轮扫描的统计
type Result struct {
	FilesChecked      int  `json:"files_checked"`
	NotificationsSent int  `json:"notifications_sent"`
	Skipped           bool `json:"skipped,omitempty"`
}

// Scanner 预警扫描器
type Scanner struct {
	db       *gorm.DB
	notifier notification.Notifier
	channels []string
	lock     PassLock
	lockTTL  time.Duration
	clock    filing.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option 配置项
type Option func(*Scanner)

// WithClock 指定时钟
func WithClock(c filing.Clock) Option {
	return func(s *Scanner) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger 指定日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithChannels 指定通知渠道
func WithChannels(channels ...string) Option {
	return func(s *Scanner) {
		if len(channels) > 0 {
			s.channels = channels
		}
	}
}

// WithPassLock 指定扫描锁
func WithPassLock(l PassLock, ttl time.Duration) Option {
	return func(s *Scanner) {
		s.lock = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// New 创建扫描器
func New(db *gorm.DB, notifier notification.Notifier, opts ...Option) *Scanner {
	s := &Scanner{
		db:       db,
		notifier: notifier,
		channels: []string{notification.ChannelEmail},
		lockTTL:  5 * time.Minute,
		clock:    filing.SystemClock{},
		logger:   logger.Get(),
		tracer:   otel.Tracer("efiling/internal/filing/scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WindowKey 预警窗口键，截止时间变化即进入新窗口
func WindowKey(kind filing.WarningKind, deadline time.Time) string {
	return fmt.Sprintf("%s:%d", kind, deadline.Unix())
}

// Scan 扫描截止时间落在 lookahead 内且未暂停的流程并发送预警
func (s *Scanner) Scan(ctx context.Context, lookahead time.Duration) (res *Result, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "Scanner.Scan", trace.WithAttributes(
		attribute.String("lookahead", lookahead.String()),
	))
	defer func() {
		metrics.SLAScanDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := logger.FromContext(ctx, s.logger)

	if lookahead < 0 {
		return nil, filing.Validationf("scanner.Scan", "预警提前量不能为负数")
	}
	if s.lock != nil {
		release, ok, err := s.lock.Acquire(ctx, s.lockTTL)
		if err != nil {
			return nil, filing.Internal("scanner.Scan", err)
		}
		if !ok {
			log.Debug("其他实例正在扫描，跳过本轮")
			return &Result{Skipped: true}, nil
		}
		defer release()
	}

	now := s.clock.Now()
	var due []filing.WorkflowInstance
	if err := common.Apply(s.db.WithContext(ctx).Model(&filing.WorkflowInstance{}),
		common.Eq("status", filing.WorkflowInProgress),
		common.Eq("sla_paused", false),
		common.NotNull("sla_deadline"),
		common.NotAfter("sla_deadline", now.Add(lookahead)),
		common.OrderBy("sla_deadline", false),
	).Find(&due).Error; err != nil {
		return nil, filing.Internal("scanner.Scan", err)
	}

	res = &Result{}
	for i := range due {
		res.FilesChecked++
		sent, err := s.scanOne(ctx, &due[i], now)
		res.NotificationsSent += sent
		if err != nil {
			log.Warn("文件预警处理失败",
				zap.String("file_id", due[i].FileID),
				zap.Error(err))
		}
	}
	span.SetAttributes(
		attribute.Int("files_checked", res.FilesChecked),
		attribute.Int("notifications_sent", res.NotificationsSent),
	)
	log.Info("预警扫描完成",
		zap.Int("files_checked", res.FilesChecked),
		zap.Int("notifications_sent", res.NotificationsSent))
	return res, nil
}

type recipient struct {
	actor filing.Actor
	kind  filing.WarningKind
}

// scanOne 处理单个文件，返回成功发送的数量
func (s *Scanner) scanOne(ctx context.Context, wf *filing.WorkflowInstance, now time.Time) (int, error) {
	var file filing.File
	if err := s.db.WithContext(ctx).Where("id = ?", wf.FileID).First(&file).Error; err != nil {
		return 0, fmt.Errorf("加载文件失败: %w", err)
	}
	if file.Status == filing.FileStatusArchived {
		return 0, nil
	}
	var stage filing.Stage
	if err := s.db.WithContext(ctx).Where("id = ?", wf.CurrentStageID).First(&stage).Error; err != nil {
		return 0, fmt.Errorf("加载阶段失败: %w", err)
	}

	recipients, err := s.recipients(ctx, wf, &stage, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []string
	for _, r := range recipients {
		ok, err := s.warn(ctx, wf, &file, &stage, r, now)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.actor.ID, err))
			continue
		}
		if ok {
			sent++
		}
	}
	if len(errs) > 0 {
		return sent, fmt.Errorf("部分预警发送失败: %s", strings.Join(errs, "; "))
	}
	return sent, nil
}

// recipients 当前办理人；超时且阶段允许升级时追加全部超级用户
func (s *Scanner) recipients(ctx context.Context, wf *filing.WorkflowInstance, stage *filing.Stage, now time.Time) ([]recipient, error) {
	breached := wf.SLADeadline.Before(now)
	kind := filing.WarningImminent
	if breached {
		kind = filing.WarningBreached
	}

	var out []recipient
	if wf.CurrentAssignee != "" {
		var assignee filing.Actor
		if err := s.db.WithContext(ctx).Where("id = ?", wf.CurrentAssignee).First(&assignee).Error; err != nil {
			return nil, fmt.Errorf("加载办理人 %s 失败: %w", wf.CurrentAssignee, err)
		}
		if assignee.Active {
			out = append(out, recipient{actor: assignee, kind: kind})
		}
	}

	if breached && stage.CanEscalate {
		var supers []filing.Actor
		if err := common.Apply(s.db.WithContext(ctx).Model(&filing.Actor{}),
			common.In("role", filing.RoleSuperAdmin, filing.RoleAdmin),
			common.Eq("active", true),
			common.OrderBy("id", false),
		).Find(&supers).Error; err != nil {
			return nil, fmt.Errorf("加载超级用户失败: %w", err)
		}
		for _, a := range supers {
			if a.ID == wf.CurrentAssignee {
				continue
			}
			out = append(out, recipient{actor: a, kind: filing.WarningEscalated})
		}
	}
	return out, nil
}

// warn 抢占窗口后发送；全部渠道失败时释放窗口以便下轮重试
func (s *Scanner) warn(ctx context.Context, wf *filing.WorkflowInstance, file *filing.File, stage *filing.Stage, r recipient, now time.Time) (bool, error) {
	marker := &filing.SLAWarning{
		ID:        uuid.NewString(),
		FileID:    wf.FileID,
		ActorID:   r.actor.ID,
		WindowKey: WindowKey(r.kind, *wf.SLADeadline),
		Kind:      r.kind,
		Deadline:  *wf.SLADeadline,
		SentAt:    now,
	}
	claim := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(marker)
	if claim.Error != nil {
		metrics.SLAWarningsTotal.WithLabelValues(string(r.kind), "failed").Inc()
		return false, fmt.Errorf("写入预警记录失败: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		metrics.SLAWarningsTotal.WithLabelValues(string(r.kind), "duplicate").Inc()
		return false, nil
	}

	if err := s.deliver(ctx, file, stage, wf, r); err != nil {
		if delErr := s.db.WithContext(ctx).Where("id = ?", marker.ID).Delete(&filing.SLAWarning{}).Error; delErr != nil {
			err = fmt.Errorf("%w；释放预警记录失败: %v", err, delErr)
		}
		metrics.SLAWarningsTotal.WithLabelValues(string(r.kind), "failed").Inc()
		return false, err
	}
	metrics.SLAWarningsTotal.WithLabelValues(string(r.kind), "sent").Inc()
	return true, nil
}

// deliver 至少一个渠道成功即视为送达
func (s *Scanner) deliver(ctx context.Context, file *filing.File, stage *filing.Stage, wf *filing.WorkflowInstance, r recipient) error {
	if s.notifier == nil {
		return fmt.Errorf("通知器未配置")
	}
	subject, body := message(file, stage, wf, r.kind)

	var lastErr error
	delivered := false
	for _, channel := range s.channels {
		n := &notification.Notification{
			Type:    channel,
			Subject: subject,
			Body:    body,
			Data: map[string]any{
				"file_id":     file.ID,
				"file_number": file.FileNumber,
				"stage_id":    stage.ID,
				"actor_id":    r.actor.ID,
				"kind":        string(r.kind),
				"deadline":    wf.SLADeadline.UTC().Format(time.RFC3339),
			},
		}
		if channel == notification.ChannelEmail {
			if r.actor.Email == "" {
				lastErr = fmt.Errorf("办理人 %s 没有邮箱", r.actor.ID)
				continue
			}
			n.To = r.actor.Email
		}
		if err := s.notifier.Send(ctx, n); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("没有可用的通知渠道")
	}
	return lastErr
}

func message(file *filing.File, stage *filing.Stage, wf *filing.WorkflowInstance, kind filing.WarningKind) (string, string) {
	deadline := wf.SLADeadline.UTC().Format("2006-01-02 15:04 MST")
	switch kind {
	case filing.WarningBreached:
		return fmt.Sprintf("[%s] 办理已超时", file.FileNumber),
			fmt.Sprintf("文件「%s」在阶段「%s」已超过办理时限（截止 %s）。", file.Subject, stage.Name, deadline)
	case filing.WarningEscalated:
		return fmt.Sprintf("[%s] 超时升级", file.FileNumber),
			fmt.Sprintf("文件「%s」在阶段「%s」超时未办理（截止 %s，办理人 %s），请关注。", file.Subject, stage.Name, deadline, wf.CurrentAssignee)
	default:
		return fmt.Sprintf("[%s] 办理时限即将到期", file.FileNumber),
			fmt.Sprintf("文件「%s」在阶段「%s」的办理时限将于 %s 到期。", file.Subject, stage.Name, deadline)
	}
}
