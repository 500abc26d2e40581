package httptransport

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"merchant-verify-client/internal/platform/errors"
)

// APIResponse 定义统一的接口返回结构体
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	// ErrorCode is the machine-readable code of a failed call, if any.
	ErrorCode string `json:"error_code,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, httpStatus int, data any, message string) {
	if message == "" {
		message = "ok"
	}
	c.JSON(httpStatus, APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondError 返回失败响应
func RespondError(c *gin.Context, httpStatus int, message string, data any) {
	c.JSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondFailure renders a typed error. message is the translated text shown
// to the operator; the status follows the error kind.
func RespondFailure(c *gin.Context, err error, message, hint string, data any) {
	_ = c.Error(err)
	status := StatusFor(err)
	if message == "" {
		message = err.Error()
	}
	c.JSON(status, APIResponse{
		Success:   false,
		Message:   message,
		Code:      status,
		Data:      data,
		ErrorCode: errors.CodeOf(err),
		Hint:      hint,
	})
}

// StatusFor maps an error kind to the HTTP status of the control API.
func StatusFor(err error) int {
	var typed *errors.Error
	if !stderrors.As(err, &typed) {
		return http.StatusInternalServerError
	}
	switch typed.Kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindUnauthenticated:
		return http.StatusUnauthorized
	case errors.KindAttemptBudget:
		return http.StatusTooManyRequests
	case errors.KindRequest:
		return http.StatusServiceUnavailable
	case errors.KindNetwork, errors.KindProtocol:
		return http.StatusBadGateway
	case errors.KindServer:
		if typed.Status >= 400 && typed.Status < 500 && typed.Status != http.StatusUnauthorized {
			return typed.Status
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
