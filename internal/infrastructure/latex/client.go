package latex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "latexbot-api/pkg/errors"
	"latexbot-api/pkg/metrics"
	"latexbot-api/pkg/tracer"
)

var otelTracer = otel.Tracer("latex")

const (
	buildPath         = "/builds/sync"
	diagnosticReadCap = 64 << 10
)

// Config 编译客户端配置
type Config struct {
	BaseURL            string
	Compiler           string
	DisplayMath        bool
	MaxArtifactBytes   int64
	MaxDiagnosticBytes int
	// Secrets 出现在诊断文本中时会被替换
	Secrets []string
}

// BuildError 编译服务返回非成功状态或调用失败
type BuildError struct {
	StatusCode int
	Diagnostic string
	Err        error
}

func (e *BuildError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("latex build request failed: %s", e.Diagnostic)
	}
	return fmt.Sprintf("latex build failed with status %d: %s", e.StatusCode, e.Diagnostic)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

type buildResource struct {
	Main    bool   `json:"main"`
	Content string `json:"content"`
}

type buildRequest struct {
	Compiler  string          `json:"compiler"`
	Resources []buildResource `json:"resources"`
}

// Client 同步编译客户端，每次调用只发起一次请求，不重试
type Client struct {
	cfg      Config
	http     *http.Client
	endpoint string
}

// NewClient 创建编译客户端；httpClient 为空时使用不设超时的默认客户端
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Compiler == "" {
		cfg.Compiler = "pdflatex"
	}
	return &Client{
		cfg:      cfg,
		http:     httpClient,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + buildPath,
	}
}

// Compile 包装片段并提交编译，成功时返回 PDF 字节
func (c *Client) Compile(ctx context.Context, fragment string) ([]byte, error) {
	ctx, span := otelTracer.Start(ctx, "latex.Compile",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("latex.compiler", c.cfg.Compiler),
			attribute.Int("latex.fragment_bytes", len(fragment)),
		))
	defer span.End()

	start := time.Now()
	artifact, err := c.compile(ctx, fragment)
	metrics.UpstreamCallDuration.WithLabelValues("latex").Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		var be *BuildError
		if errors.As(err, &be) && be.StatusCode != 0 {
			status = strconv.Itoa(be.StatusCode)
			span.SetAttributes(attribute.Int("http.status_code", be.StatusCode))
		}
		metrics.UpstreamCallTotal.WithLabelValues("latex", status).Inc()
		tracer.RecordError(span, err)
		return nil, err
	}

	metrics.UpstreamCallTotal.WithLabelValues("latex", "ok").Inc()
	span.SetAttributes(attribute.Int("latex.artifact_bytes", len(artifact)))
	return artifact, nil
}

func (c *Client) compile(ctx context.Context, fragment string) ([]byte, error) {
	document, err := WrapDocument(fragment, c.cfg.DisplayMath)
	if err != nil {
		return nil, fmt.Errorf("render latex document: %w", err)
	}

	body, err := json.Marshal(buildRequest{
		Compiler:  c.cfg.Compiler,
		Resources: []buildResource{{Main: true, Content: document}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &BuildError{Diagnostic: c.scrub(err.Error()), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, diagnosticReadCap))
		return nil, &BuildError{StatusCode: resp.StatusCode, Diagnostic: c.scrub(string(raw))}
	}

	reader := io.Reader(resp.Body)
	if c.cfg.MaxArtifactBytes > 0 {
		reader = io.LimitReader(resp.Body, c.cfg.MaxArtifactBytes+1)
	}
	artifact, err := io.ReadAll(reader)
	if err != nil {
		return nil, &BuildError{StatusCode: resp.StatusCode, Diagnostic: c.scrub(err.Error()), Err: err}
	}
	if c.cfg.MaxArtifactBytes > 0 && int64(len(artifact)) > c.cfg.MaxArtifactBytes {
		return nil, &BuildError{
			StatusCode: resp.StatusCode,
			Diagnostic: fmt.Sprintf("artifact exceeds %d bytes", c.cfg.MaxArtifactBytes),
		}
	}
	if len(artifact) == 0 {
		return nil, &BuildError{StatusCode: resp.StatusCode, Diagnostic: "empty artifact"}
	}
	return artifact, nil
}

func (c *Client) scrub(text string) string {
	return apperrors.Scrub(text, c.cfg.MaxDiagnosticBytes, c.cfg.Secrets...)
}
