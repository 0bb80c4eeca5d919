// Package files 电子文件流转接口
package files

import (
	"context"
	"net/http"
	"strings"
	"time"

	response "efiling/api/handlers/common"
	"efiling/internal/common"
	"efiling/internal/filing"
	"efiling/internal/filing/engine"

	"github.com/gin-gonic/gin"
)

// Handler 文件流转接口
type Handler struct {
	engine    *engine.Engine
	keepAlive time.Duration
}

// NewHandler 构造函数
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e, keepAlive: 15 * time.Second}
}

type submitDTO struct {
	FileNumber string `json:"file_number" binding:"required"`
	Subject    string `json:"subject" binding:"required"`
	FileType   string `json:"file_type" binding:"required"`
	Zone       string `json:"zone"`
	Priority   string `json:"priority"`
	Remarks    string `json:"remarks"`
}

type actionDTO struct {
	Action  string `json:"action" binding:"required"`
	Remarks string `json:"remarks"`
	ToActor string `json:"to_actor_id"`
}

type markToDTO struct {
	ToActor string `json:"to_actor_id" binding:"required"`
	Remarks string `json:"remarks"`
}

type remarksDTO struct {
	Remarks string `json:"remarks"`
}

type signDTO struct {
	Payload map[string]any `json:"payload"`
}

// bindOptional 允许空请求体
func bindOptional(c *gin.Context, out any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return false
	}
	return true
}

// Submit 新建文件并进入第一阶段
// @Summary 提交文件
// @Tags Files
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body submitDTO true "文件信息"
// @Success 201 {object} common.APIResponse
// @Failure 400 {object} common.APIResponse
// @Failure 409 {object} common.APIResponse
// @Router /api/v1/files [post]
func (h *Handler) Submit(c *gin.Context) {
	actorID, ok := response.ActorID(c)
	if !ok {
		return
	}
	var dto submitDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.engine.Submit(c.Request.Context(), engine.SubmitRequest{
		FileNumber: dto.FileNumber,
		Subject:    dto.Subject,
		FileType:   dto.FileType,
		Zone:       dto.Zone,
		Priority:   dto.Priority,
		CreatedBy:  actorID,
		Remarks:    dto.Remarks,
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	common.ResponseCreated(c, res)
}

// Inbox 当前办理人的待办
// @Summary 待办列表
// @Tags Files
// @Security BearerAuth
// @Produce json
// @Param status query string false "文件状态"
// @Param file_type query string false "文件类型"
// @Param zone query string false "区域"
// @Param due_before query string false "截止时间早于(RFC3339)"
// @Param paused query bool false "是否暂停计时"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/files/inbox [get]
func (h *Handler) Inbox(c *gin.Context) {
	actorID, ok := response.ActorID(c)
	if !ok {
		return
	}
	var filter engine.InboxFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		common.ResponseBadRequest(c, "查询参数错误: "+err.Error())
		return
	}
	page := common.DefaultPagination()
	if err := c.ShouldBindQuery(&page); err != nil {
		common.ResponseBadRequest(c, "分页参数错误: "+err.Error())
		return
	}
	if filter.Status != "" {
		filter.Status = filing.FileStatus(strings.ToUpper(string(filter.Status)))
	}

	items, total, err := h.engine.Inbox(c.Request.Context(), actorID, filter, page)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	common.ResponseList(c, items, total, page)
}

// Act 审批、转发、驳回或退回
// @Summary 推进文件
// @Tags Files
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "文件ID"
// @Param request body actionDTO true "动作"
// @Success 200 {object} common.APIResponse
// @Failure 403 {object} common.APIResponse
// @Failure 409 {object} common.APIResponse
// @Router /api/v1/files/{id}/actions [post]
func (h *Handler) Act(c *gin.Context) {
	actorID, ok := response.ActorID(c)
	if !ok {
		return
	}
	var dto actionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return
	}
	action, err := filing.ParseAction(dto.Action)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	res, err := h.engine.Advance(c.Request.Context(), engine.AdvanceRequest{
		FileID:  c.Param("id"),
		ActorID: actorID,
		Action:  action,
		Remarks: dto.Remarks,
		ToActor: dto.ToActor,
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, res)
}

// Sign 在当前阶段签名
// @Summary 签名
// @Tags Files
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "文件ID"
// @Success 201 {object} common.APIResponse
// @Router /api/v1/files/{id}/signatures [post]
func (h *Handler) Sign(c *gin.Context) {
	actorID, ok := response.ActorID(c)
	if !ok {
		return
	}
	var dto signDTO
	if !bindOptional(c, &dto) {
		return
	}
	sig, err := h.engine.Sign(c.Request.Context(), c.Param("id"), actorID, dto.Payload)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	common.ResponseCreated(c, sig)
}

// MarkTo 转交指定办理人，阶段不变
// @Summary 转办
// @Tags Files
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "文件ID"
// @Param request body markToDTO true "接收人"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/files/{id}/mark-to [post]
func (h *Handler) MarkTo(c *gin.Context) {
	actorID, ok := response.ActorID(c)
	if !ok {
		return
	}
	var dto markToDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		common.ResponseBadRequest(c, "参数错误: "+err.Error())
		return
	}
	res, err := h.engine.MarkTo(c.Request.Context(), c.Param("id"), actorID, dto.ToActor, dto.Remarks)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, res)
}

// Complete 高层直接办结
// @Summary 高层办结
// @Tags Files
// @Security BearerAuth
// @Produce json
// @Param id path string true "文件ID"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/files/{id}/complete [post]
func (h *Handler) Complete(c *gin.Context) {
	h.withRemarks(c, h.engine.CompleteAsExecutive)
}

// Reactivate 重新激活已驳回的文件
// @Summary 重新激活
// @Tags Files
// @Security BearerAuth
// @Produce json
// @Param id path string true "文件ID"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/files/{id}/reactivate [post]
func (h *Handler) Reactivate(c *gin.Context) {
	h.withRemarks(c, h.engine.Reactivate)
}

// Archive 归档
// @Summary 归档
// @Tags Files
// @Security BearerAuth
// @Produce json
// @Param id path string true "文件ID"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/files/{id}/archive [post]
func (h *Handler) Archive(c *gin.Context) {
	h.withRemarks(c, h.engine.Archive)
}

type remarksOp func(ctx context.Context, fileID, actorID, remarks string) (*engine.Result, error)

func (h *Handler) withRemarks(c *gin.Context, op remarksOp) {
	actorID, ok := response.ActorID(c)
	if !ok {
		return
	}
	var dto remarksDTO
	if !bindOptional(c, &dto) {
		return
	}
	res, err := op(c.Request.Context(), c.Param("id"), actorID, dto.Remarks)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, res)
}

// Permissions 当前办理人对文件的能力
// @Summary 权限
// @Tags Files
// @Security BearerAuth
// @Produce json
// @Param id path string true "文件ID"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/files/{id}/permissions [get]
func (h *Handler) Permissions(c *gin.Context) {
	actorID, ok := response.ActorID(c)
	if !ok {
		return
	}
	set, err := h.engine.GetPermissions(c.Request.Context(), c.Param("id"), actorID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, set)
}

// SLA 计时状态与暂停记录
// @Summary SLA 状态
// @Tags Files
// @Security BearerAuth
// @Produce json
// @Param id path string true "文件ID"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/files/{id}/sla [get]
func (h *Handler) SLA(c *gin.Context) {
	if _, ok := response.ActorID(c); !ok {
		return
	}
	ctx := c.Request.Context()
	fileID := c.Param("id")
	status, err := h.engine.GetSLAStatus(ctx, fileID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	data := gin.H{"status": status}
	if status.WorkflowID != "" {
		pauses, err := h.engine.PauseHistory(ctx, fileID)
		if err != nil {
			response.RespondError(c, err)
			return
		}
		data["pauses"] = pauses
	}
	common.ResponseSuccess(c, data)
}

// Movements 流转记录
// @Summary 流转记录
// @Tags Files
// @Security BearerAuth
// @Produce json
// @Param id path string true "文件ID"
// @Success 200 {object} common.APIResponse
// @Router /api/v1/files/{id}/movements [get]
func (h *Handler) Movements(c *gin.Context) {
	if _, ok := response.ActorID(c); !ok {
		return
	}
	list, err := h.engine.Movements(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	common.ResponseSuccess(c, list)
}

// Events 推送文件提交后的状态变化
// @Summary 文件事件流
// @Tags Files
// @Security BearerAuth
// @Produce text/event-stream
// @Param id path string true "文件ID"
// @Success 200 {string} string "SSE Stream"
// @Router /api/v1/files/{id}/events [get]
func (h *Handler) Events(c *gin.Context) {
	actorID, ok := response.ActorID(c)
	if !ok {
		return
	}
	fileID := c.Param("id")
	ctx := c.Request.Context()

	set, err := h.engine.GetPermissions(ctx, fileID, actorID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	if !set.CanView {
		response.RespondError(c, filing.Forbidden("files.Events", filing.ReasonNoAccess))
		return
	}

	events, cancel := h.engine.Events().Subscribe(fileID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(strings.ToLower(string(evt.Action)), evt)
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}
