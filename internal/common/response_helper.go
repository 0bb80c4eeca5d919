package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResponseSuccess 返回成功响应
func ResponseSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse(data))
}

// ResponseCreated 返回创建成功响应（201）
func ResponseCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, SuccessResponse(data))
}

// ResponseAccepted 返回已受理响应（202）
func ResponseAccepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, SuccessResponse(data))
}

// ResponseList 返回分页列表响应
func ResponseList(c *gin.Context, items any, total int64, req PaginationRequest) {
	c.JSON(http.StatusOK, SuccessResponse(ListResponse{
		Items:      items,
		Pagination: NewPaginationMeta(req.Page, req.GetPageSize(), total),
	}))
}

// HTTPStatus 业务状态码映射到 HTTP 状态码
func HTTPStatus(code int) int {
	switch {
	case code == CodeUnauthorized:
		return http.StatusUnauthorized
	case code == CodeForbidden, code == CodeSignatureRequired, code == CodeNotAssigned:
		return http.StatusForbidden
	case code == CodeNotFound:
		return http.StatusNotFound
	case code == CodeConflict:
		return http.StatusConflict
	case code == CodeInvalidRequest:
		return http.StatusBadRequest
	case code == CodeTooManyRequests:
		return http.StatusTooManyRequests
	case code == CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case code == CodeInternalError:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// ResponseError 返回错误响应
func ResponseError(c *gin.Context, code int, message string) {
	if message == "" {
		message = GetErrorMessage(code)
	}
	c.JSON(HTTPStatus(code), ErrorResponse(code, message))
}

// AbortWithError 中断并返回错误
func AbortWithError(c *gin.Context, code int, message string) {
	ResponseError(c, code, message)
	c.Abort()
}

// ResponseBadRequest 返回参数错误响应
func ResponseBadRequest(c *gin.Context, message string) {
	ResponseError(c, CodeInvalidRequest, message)
}

// ResponseUnauthorized 返回未认证响应
func ResponseUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "未认证，请先登录"
	}
	ResponseError(c, CodeUnauthorized, message)
}
