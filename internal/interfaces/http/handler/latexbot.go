package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"latexbot-api/internal/application/pipeline"
	"latexbot-api/internal/interfaces/http/dto"
	"latexbot-api/pkg/logger"
)

// Runner 流水线执行入口
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// LatexBotHandler 转换端点处理器
type LatexBotHandler struct {
	runner       Runner
	maxBodyBytes int64
}

// NewLatexBotHandler 创建转换端点处理器，maxBodyBytes <= 0 时不限制请求体
func NewLatexBotHandler(runner Runner, maxBodyBytes int64) *LatexBotHandler {
	return &LatexBotHandler{runner: runner, maxBodyBytes: maxBodyBytes}
}

// Submit 编译 LaTeX 片段并邮件发送 PDF
// @Summary 提交 LaTeX 片段
// @Tags LatexBot
// @Accept json
// @Produce json
// @Success 200 {object} dto.MessageResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
func (h *LatexBotHandler) Submit(c *gin.Context) {
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}

	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			dto.BadRequest(c, "Request body too large")
			return
		}
		logger.Debug(c.Request.Context(), "malformed request body", "error", err.Error())
		dto.BadRequest(c, "Invalid JSON body")
		return
	}

	result, err := h.runner.Run(c.Request.Context(), req.ToPipeline())
	if err != nil {
		writeError(c, err)
		return
	}

	if !result.Recorded {
		c.Header("X-Quota-Recorded", "false")
	}
	dto.Success(c, "Email sent successfully")
}

// Preflight 非浏览器发起的 OPTIONS 请求
func (h *LatexBotHandler) Preflight(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// MethodNotAllowed 转换端点只接受 POST
func (h *LatexBotHandler) MethodNotAllowed(c *gin.Context) {
	dto.MethodNotAllowed(c, "Only POST allowed")
}
