// Package handler 提供 HTTP 请求处理器
package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"latexbot-api/internal/application/quota"
	"latexbot-api/internal/interfaces/http/dto"
	apperrors "latexbot-api/pkg/errors"
)

// 限流相关响应头
const (
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "RateLimit-Limit"
	HeaderRateLimitRemaining = "RateLimit-Remaining"
	HeaderRateLimitReset     = "RateLimit-Reset"
)

// writeError 将错误映射为 HTTP 响应。只有上游失败才回传诊断详情。
func writeError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)

	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		setQuotaHeaders(c, exceeded.Limit, exceeded.ResetIn)
	}

	if appErr.IsUpstream() && appErr.Detail != "" {
		dto.ErrorWithDetail(c, appErr.HTTPStatus, appErr.Message, appErr.Detail)
		return
	}
	dto.Error(c, appErr.HTTPStatus, appErr.Message)
}

func setQuotaHeaders(c *gin.Context, limit int64, resetIn time.Duration) {
	seconds := strconv.FormatInt(ceilSeconds(resetIn), 10)
	c.Header(HeaderRetryAfter, seconds)
	c.Header(HeaderRateLimitLimit, strconv.FormatInt(limit, 10))
	c.Header(HeaderRateLimitRemaining, "0")
	c.Header(HeaderRateLimitReset, seconds)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// MethodNotAllowed 非转换端点上的不支持方法
func MethodNotAllowed(c *gin.Context) {
	dto.Error(c, http.StatusMethodNotAllowed, "Method not allowed")
}

// NotFound 未匹配路由
func NotFound(c *gin.Context) {
	dto.Error(c, http.StatusNotFound, "Not found")
}
