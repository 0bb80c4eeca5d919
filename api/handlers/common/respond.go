// Package common 处理器共用的身份读取与错误映射
package common

import (
	"errors"

	"efiling/internal/auth"
	"efiling/internal/common"
	"efiling/internal/filing"
	"efiling/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActorID 当前办理人；未认证时写出 401 并返回 false
func ActorID(c *gin.Context) (string, bool) {
	actor, ok := auth.GetActorContext(c)
	if !ok || actor.ActorID == "" {
		common.ResponseUnauthorized(c, "")
		return "", false
	}
	return actor.ActorID, true
}

// CodeOf 领域错误映射为业务码
func CodeOf(err error) int {
	switch {
	case errors.Is(err, filing.ErrNotFound):
		return common.CodeNotFound
	case errors.Is(err, filing.ErrForbidden):
		switch filing.Reason(err) {
		case filing.ReasonSignatureRequired:
			return common.CodeSignatureRequired
		case filing.ReasonNotAssigned:
			return common.CodeNotAssigned
		}
		return common.CodeForbidden
	case errors.Is(err, filing.ErrConflict):
		return common.CodeConflict
	case errors.Is(err, filing.ErrValidation):
		return common.CodeInvalidRequest
	}
	return common.CodeInternalError
}

// RespondError 写出错误响应；内部错误只记日志，不向调用方暴露细节
func RespondError(c *gin.Context, err error) {
	code := CodeOf(err)
	if code == common.CodeInternalError {
		logger.WithContext(c.Request.Context()).Error("请求处理失败",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		common.ResponseError(c, code, "")
		return
	}

	msg := err.Error()
	var fe *filing.Error
	if errors.As(err, &fe) && fe.Detail != "" {
		msg = fe.Detail
	}
	common.ResponseError(c, code, msg)
}
