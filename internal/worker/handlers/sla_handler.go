package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"efiling/internal/filing/scanner"
	"efiling/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// WarningScanner 预警扫描抽象，便于注入 mock
type WarningScanner interface {
	Scan(ctx context.Context, lookahead time.Duration) (*scanner.Result, error)
}

// SLAHandler 预警扫描任务处理器
type SLAHandler struct {
	scanner   WarningScanner
	lookahead time.Duration
	logger    *zap.Logger
}

// NewSLAHandler 创建处理器，lookahead 为载荷未指定时的默认值
func NewSLAHandler(s WarningScanner, lookahead time.Duration, logger *zap.Logger) *SLAHandler {
	return &SLAHandler{scanner: s, lookahead: lookahead, logger: logger}
}

// HandleScanWarnings 执行一轮扫描
func (h *SLAHandler) HandleScanWarnings(ctx context.Context, t *asynq.Task) error {
	var p tasks.ScanWarningsPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("json unmarshal failed: %v: %w", err, asynq.SkipRetry)
		}
	}
	lookahead := p.LookaheadOr(h.lookahead)

	res, err := h.scanner.Scan(ctx, lookahead)
	if err != nil {
		h.logger.Error("预警扫描失败", zap.Duration("lookahead", lookahead), zap.Error(err))
		return err
	}
	if res.Skipped {
		h.logger.Debug("预警扫描已由其他实例执行")
		return nil
	}
	h.logger.Info("预警扫描任务完成",
		zap.Duration("lookahead", lookahead),
		zap.Int("files_checked", res.FilesChecked),
		zap.Int("notifications_sent", res.NotificationsSent),
	)
	return nil
}
