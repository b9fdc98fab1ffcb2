package dto

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MessageResponse 成功响应
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse 错误响应，Details 仅在上游失败时携带
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Success 返回 200 与消息体
func Success(c *gin.Context, message string) {
	c.JSON(http.StatusOK, MessageResponse{Message: message})
}

// Error 返回错误响应
func Error(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, ErrorResponse{Error: message})
}

// ErrorWithDetail 返回带详情的错误响应
func ErrorWithDetail(c *gin.Context, httpCode int, message, details string) {
	c.JSON(httpCode, ErrorResponse{Error: message, Details: details})
}

// AbortWithError 中止处理链并返回错误响应
func AbortWithError(c *gin.Context, httpCode int, message string) {
	c.AbortWithStatusJSON(httpCode, ErrorResponse{Error: message})
}

// BadRequest 返回 400 错误
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// MethodNotAllowed 返回 405 错误
func MethodNotAllowed(c *gin.Context, message string) {
	Error(c, http.StatusMethodNotAllowed, message)
}
