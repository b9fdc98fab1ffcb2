package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"latexbot-api/internal/domain/repository"
)

const readyTimeout = 2 * time.Second

// HealthHandler 健康检查处理器
type HealthHandler struct {
	version string
	checks  map[string]repository.Pinger
}

// NewHealthHandler 创建健康检查处理器，checks 为就绪检查依赖的后端
func NewHealthHandler(version string, checks map[string]repository.Pinger) *HealthHandler {
	return &HealthHandler{version: version, checks: checks}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

type readinessResponse struct {
	Status string                     `json:"status"`
	Checks map[string]*readinessCheck `json:"checks,omitempty"`
}

// Health 健康检查接口
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Live 存活检查接口
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready 就绪检查接口，并发探测所有后端
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu     sync.Mutex
		checks = make(map[string]*readinessCheck, len(names))
		ready  = true
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		pinger := h.checks[name]
		g.Go(func() error {
			start := time.Now()
			err := pinger.Ping(gctx)
			check := &readinessCheck{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				check.Status = "error"
				check.Error = err.Error()
			}

			mu.Lock()
			checks[name] = check
			if err != nil {
				ready = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := readinessResponse{Status: "ok", Checks: checks}
	if !ready {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
