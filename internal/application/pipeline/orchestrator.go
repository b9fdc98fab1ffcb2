package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"latexbot-api/internal/application/quota"
	"latexbot-api/internal/infrastructure/latex"
	apperrors "latexbot-api/pkg/errors"
	"latexbot-api/pkg/logger"
	"latexbot-api/pkg/metrics"
)

// Converter 编译客户端
type Converter interface {
	Compile(ctx context.Context, fragment string) ([]byte, error)
}

// Sender 投递客户端，抄送地址在构造时固定
type Sender interface {
	Send(ctx context.Context, recipient string, artifact []byte) error
}

// OutcomePublisher 终态事件发布
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome Outcome) error
}

// Timeouts 各阶段超时，0 表示沿用调用方的截止时间
type Timeouts struct {
	Quota      time.Duration
	Conversion time.Duration
	Delivery   time.Duration
	Commit     time.Duration
}

// Options 编排器选项
type Options struct {
	MaxFragmentBytes   int
	MaxDiagnosticBytes int
	Timeouts           Timeouts
	// Secrets 不得出现在返回给调用方的诊断中
	Secrets []string
}

const publishTimeout = 2 * time.Second

// Orchestrator 顺序执行 校验 -> 配额 -> 编译 -> 投递 -> 记账。
// 任一阶段失败立即终止，不重试；只有投递成功后才计入配额。
type Orchestrator struct {
	gate      quota.Gate
	converter Converter
	sender    Sender
	publisher OutcomePublisher
	opts      Options
	now       func() time.Time
}

// NewOrchestrator 创建编排器，publisher 可为空
func NewOrchestrator(gate quota.Gate, converter Converter, sender Sender, publisher OutcomePublisher, opts Options) *Orchestrator {
	return &Orchestrator{
		gate:      gate,
		converter: converter,
		sender:    sender,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

type run struct {
	id     string
	start  time.Time
	state  State
	ticket *quota.Ticket
}

// Run 执行一次完整流水线。返回的错误均为 *errors.AppError。
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{id: uuid.NewString(), start: o.now(), state: StateReceived}

	req, err := req.Validate(o.opts.MaxFragmentBytes)
	if err != nil {
		return nil, o.reject(ctx, r, StageValidate, err)
	}
	o.advance(ctx, r, StateValidated)

	if err := o.admit(ctx, r); err != nil {
		return nil, err
	}
	o.advance(ctx, r, StateQuotaChecked)

	artifact, err := o.convert(ctx, r, req.LatexCode)
	if err != nil {
		return nil, err
	}
	o.advance(ctx, r, StateConverted)

	if err := o.deliver(ctx, r, req.Email, artifact); err != nil {
		return nil, err
	}
	o.advance(ctx, r, StateDelivered)

	return o.commit(ctx, r), nil
}

func (o *Orchestrator) admit(ctx context.Context, r *run) error {
	stageCtx, cancel := withTimeout(ctx, o.opts.Timeouts.Quota)
	defer cancel()

	start := time.Now()
	ticket, err := o.gate.Admit(stageCtx, r.start)
	observeStage(StageQuota, start)
	if err == nil {
		r.ticket = ticket
		return nil
	}

	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		appErr := apperrors.Wrap(err, apperrors.CodeQuotaExceeded, exceeded.Error())
		return o.reject(ctx, r, StageQuota, appErr)
	}

	appErr := apperrors.Wrap(err, apperrors.CodeLedgerUnavailable, "Failed to check quota").
		WithDetail(o.scrub(err.Error()))
	return o.fail(ctx, r, StageQuota, appErr)
}

func (o *Orchestrator) convert(ctx context.Context, r *run, fragment string) ([]byte, error) {
	stageCtx, cancel := withTimeout(ctx, o.opts.Timeouts.Conversion)
	defer cancel()

	start := time.Now()
	artifact, err := o.converter.Compile(stageCtx, fragment)
	observeStage(StageConversion, start)
	if err == nil {
		return artifact, nil
	}

	detail := err.Error()
	var buildErr *latex.BuildError
	if errors.As(err, &buildErr) {
		detail = buildErr.Diagnostic
		logger.Warn(ctx, "latex build rejected",
			"run_id", r.id, "upstream_status", buildErr.StatusCode, "diagnostic", o.scrub(buildErr.Diagnostic))
	}

	o.release(ctx, r)
	appErr := apperrors.Wrap(err, apperrors.CodeConversionFailed, "Failed to generate PDF").
		WithDetail(o.scrub(detail))
	return nil, o.fail(ctx, r, StageConversion, appErr)
}

func (o *Orchestrator) deliver(ctx context.Context, r *run, recipient string, artifact []byte) error {
	stageCtx, cancel := withTimeout(ctx, o.opts.Timeouts.Delivery)
	defer cancel()

	start := time.Now()
	err := o.sender.Send(stageCtx, recipient, artifact)
	observeStage(StageDelivery, start)
	if err == nil {
		return nil
	}

	logger.Warn(ctx, "delivery failed after successful conversion, artifact discarded",
		"run_id", r.id, "artifact_bytes", len(artifact))
	o.release(ctx, r)
	appErr := apperrors.Wrap(err, apperrors.CodeDeliveryFailed, "Failed to send email").
		WithDetail(o.scrub(err.Error()))
	return o.fail(ctx, r, StageDelivery, appErr)
}

// commit 在脱离调用方取消信号的上下文中记账；失败不回滚已完成的投递，
// 而是以“已投递未记账”的结果返回。
func (o *Orchestrator) commit(ctx context.Context, r *run) *Result {
	stageCtx, cancel := withTimeout(context.WithoutCancel(ctx), o.opts.Timeouts.Commit)
	defer cancel()

	start := time.Now()
	err := o.gate.Settle(stageCtx, r.ticket)
	observeStage(StageCommit, start)

	result := &Result{Day: r.ticket.Day, TicketID: r.ticket.ID}
	if err != nil {
		metrics.QuotaUnrecordedTotal.Inc()
		logger.Error(ctx, "delivered but not recorded, quota ledger undercounts", err,
			"run_id", r.id, "ticket", r.ticket.ID, "day", r.ticket.Day, "mode", o.gate.Mode())
		result.State = StateDelivered
		o.finish(ctx, r, StageCommit, http.StatusOK, false, err)
		return result
	}

	o.advance(ctx, r, StateCommitted)
	result.State = StateCommitted
	result.Recorded = true
	o.finish(ctx, r, StageCommit, http.StatusOK, true, nil)
	return result
}

// release 归还预占，失败只记录
func (o *Orchestrator) release(ctx context.Context, r *run) {
	if r.ticket == nil {
		return
	}
	stageCtx, cancel := withTimeout(context.WithoutCancel(ctx), o.opts.Timeouts.Commit)
	defer cancel()

	if err := o.gate.Cancel(stageCtx, r.ticket); err != nil {
		metrics.QuotaReleaseFailedTotal.Inc()
		logger.Error(ctx, "failed to release quota reservation", err,
			"run_id", r.id, "ticket", r.ticket.ID, "day", r.ticket.Day)
	}
}

func (o *Orchestrator) reject(ctx context.Context, r *run, stage string, err error) error {
	appErr := apperrors.AsAppError(err)
	r.state = StateRejected
	logger.Info(ctx, "request rejected", "run_id", r.id, "stage", stage, "status", appErr.HTTPStatus, "reason", appErr.Message)
	o.finish(ctx, r, stage, appErr.HTTPStatus, false, appErr)
	return appErr
}

func (o *Orchestrator) fail(ctx context.Context, r *run, stage string, appErr *apperrors.AppError) error {
	r.state = StateFailed
	logger.Error(ctx, "pipeline failed", appErr.Err,
		"run_id", r.id, "stage", stage, "status", appErr.HTTPStatus, "detail", appErr.Detail)
	o.finish(ctx, r, stage, appErr.HTTPStatus, false, appErr)
	return appErr
}

func (o *Orchestrator) advance(ctx context.Context, r *run, next State) {
	logger.Debug(ctx, "pipeline transition", "run_id", r.id, "from", r.state, "to", next)
	r.state = next
}

func (o *Orchestrator) finish(ctx context.Context, r *run, stage string, status int, recorded bool, err error) {
	metrics.PipelineOutcomeTotal.WithLabelValues(string(r.state), stage).Inc()
	if o.publisher == nil {
		return
	}

	outcome := Outcome{
		ID:         r.id,
		State:      r.state,
		Stage:      stage,
		Recorded:   recorded,
		Mode:       o.gate.Mode(),
		HTTPStatus: status,
		DurationMS: o.now().Sub(r.start).Milliseconds(),
		At:         o.now().UTC(),
	}
	if r.ticket != nil {
		outcome.Day = r.ticket.Day
	}
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		outcome.RequestID = requestID
	}
	if err != nil {
		outcome.Error = o.scrub(err.Error())
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.publisher.PublishOutcome(pubCtx, outcome); err != nil {
		logger.Warn(ctx, "failed to publish pipeline outcome", "run_id", r.id, "error", err.Error())
	}
}

func (o *Orchestrator) scrub(text string) string {
	return apperrors.Scrub(text, o.opts.MaxDiagnosticBytes, o.opts.Secrets...)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func observeStage(stage string, start time.Time) {
	metrics.PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
