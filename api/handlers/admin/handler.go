// Package admin 运维接口：触发预警扫描、查看任务队列
package admin

import (
	"context"
	"time"

	response "efiling/api/handlers/common"
	"efiling/internal/common"
	"efiling/internal/filing"
	"efiling/internal/filing/scanner"
	"efiling/internal/infra/queue"

	"github.com/gin-gonic/gin"
)

// ScanEnqueuer 把扫描提交到任务队列
type ScanEnqueuer interface {
	EnqueueScanWarnings(ctx context.Context, lookahead time.Duration) (string, error)
}

// Scanner 同步扫描
type Scanner interface {
	Scan(ctx context.Context, lookahead time.Duration) (*scanner.Result, error)
}

// QueueStatser 队列统计
type QueueStatser interface {
	Stats(ctx context.Context) ([]queue.QueueStats, error)
}

// Handler 运维接口
type Handler struct {
	enqueuer  ScanEnqueuer
	scanner   Scanner
	queues    QueueStatser
	lookahead time.Duration
}

// NewHandler enqueuer 为空时在请求内直接扫描；queues 可为空
func NewHandler(enqueuer ScanEnqueuer, s Scanner, queues QueueStatser, lookahead time.Duration) *Handler {
	return &Handler{enqueuer: enqueuer, scanner: s, queues: queues, lookahead: lookahead}
}

type scanDTO struct {
	Lookahead string `json:"lookahead"`
	Inline    bool   `json:"inline"`
}

// Scan 触发一轮预警扫描
// @Summary 触发预警扫描
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body scanDTO false "提前量，如 1h；inline 为 true 时同步执行"
// @Success 200 {object} common.APIResponse
// @Success 202 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Router /api/v1/admin/sla/scan [post]
func (h *Handler) Scan(c *gin.Context) {
	var dto scanDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			common.ResponseBadRequest(c, "参数错误: "+err.Error())
			return
		}
	}

	lookahead := h.lookahead
	if dto.Lookahead != "" {
		d, err := time.ParseDuration(dto.Lookahead)
		if err != nil {
			response.RespondError(c, filing.Validationf("admin.Scan", "无效的提前量 %q", dto.Lookahead))
			return
		}
		lookahead = d
	}
	if lookahead < 0 {
		response.RespondError(c, filing.Validationf("admin.Scan", "提前量不能为负数"))
		return
	}

	ctx := c.Request.Context()
	if h.enqueuer != nil && !dto.Inline {
		id, err := h.enqueuer.EnqueueScanWarnings(ctx, lookahead)
		if err != nil {
			response.RespondError(c, err)
			return
		}
		common.ResponseAccepted(c, gin.H{"task_id": id, "lookahead": lookahead.String()})
		return
	}

	if h.scanner == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "预警扫描未启用")
		return
	}
	res, err := h.scanner.Scan(ctx, lookahead)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, res)
}

// Queues 任务队列积压
// @Summary 队列统计
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.APIResponse
// @Failure 503 {object} common.APIResponse
// @Router /api/v1/admin/queues [get]
func (h *Handler) Queues(c *gin.Context) {
	if h.queues == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "任务队列未启用")
		return
	}
	stats, err := h.queues.Stats(c.Request.Context())
	if err != nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "读取队列统计失败: "+err.Error())
		return
	}
	common.ResponseSuccess(c, stats)
}
