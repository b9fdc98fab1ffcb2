// Package mailer 通过 SMTP 投递编译产物
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/go-mail"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"latexbot-api/pkg/metrics"
	"latexbot-api/pkg/tracer"
)

var otelTracer = otel.Tracer("mailer")

// ErrNotConfigured 未配置发件凭据
var ErrNotConfigured = errors.New("mail sender is not configured")

const contentTypePDF mail.ContentType = "application/pdf"

// Config 发件配置
type Config struct {
	Host            string
	Port            int
	Username        string
	Password        string
	FromName        string
	OperatorAddress string
	Subject         string
	Body            string
	AttachmentName  string
	TLSPolicy       string
	SSL             bool
	Timeout         time.Duration
}

type transport interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Sender 固定发件身份的投递客户端。
// SMTP 客户端在首次投递时创建且只创建一次，之后由所有请求共享，投递串行进行。
type Sender struct {
	cfg Config

	once      sync.Once
	newClient func(Config) (transport, error)
	client    transport
	initErr   error

	mu sync.Mutex
}

// NewSender 创建投递客户端
func NewSender(cfg Config) *Sender {
	if cfg.AttachmentName == "" {
		cfg.AttachmentName = "output.pdf"
	}
	return &Sender{cfg: cfg, newClient: dialer}
}

func dialer(cfg Config) (transport, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, ErrNotConfigured
	}

	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLSPolicy)),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.SSL {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

func tlsPolicy(policy string) mail.TLSPolicy {
	switch strings.ToLower(policy) {
	case "opportunistic":
		return mail.TLSOpportunistic
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSMandatory
	}
}

func (s *Sender) smtpClient() (transport, error) {
	s.once.Do(func() {
		s.client, s.initErr = s.newClient(s.cfg)
	})
	return s.client, s.initErr
}

// Send 将产物发送给请求者，并抄送运营地址
func (s *Sender) Send(ctx context.Context, recipient string, artifact []byte) error {
	ctx, span := otelTracer.Start(ctx, "mailer.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("smtp.host", s.cfg.Host),
			attribute.Int("mail.attachment_bytes", len(artifact)),
			attribute.Bool("mail.operator_copy", s.cfg.OperatorAddress != ""),
		))
	defer span.End()

	start := time.Now()
	err := s.send(ctx, recipient, artifact)
	metrics.UpstreamCallDuration.WithLabelValues("smtp").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamCallTotal.WithLabelValues("smtp", "error").Inc()
		tracer.RecordError(span, err)
		return err
	}
	metrics.UpstreamCallTotal.WithLabelValues("smtp", "ok").Inc()
	return nil
}

func (s *Sender) send(ctx context.Context, recipient string, artifact []byte) error {
	msg, err := s.buildMessage(recipient, artifact)
	if err != nil {
		return err
	}

	client, err := s.smtpClient()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp delivery: %w", err)
	}
	return nil
}

func (s *Sender) buildMessage(recipient string, artifact []byte) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(s.cfg.FromName, s.cfg.Username); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	if s.cfg.OperatorAddress != "" {
		if err := msg.Cc(s.cfg.OperatorAddress); err != nil {
			return nil, fmt.Errorf("invalid operator address: %w", err)
		}
	}
	msg.Subject(s.cfg.Subject)
	msg.SetBodyString(mail.TypeTextPlain, s.cfg.Body)
	if err := msg.AttachReader(s.cfg.AttachmentName, bytes.NewReader(artifact),
		mail.WithFileContentType(contentTypePDF)); err != nil {
		return nil, fmt.Errorf("attach artifact: %w", err)
	}
	return msg, nil
}
