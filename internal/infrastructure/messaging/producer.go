package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"latexbot-api/internal/application/pipeline"
	"latexbot-api/pkg/metrics"
	"latexbot-api/pkg/tracer"
)

var otelTracer = otel.Tracer("messaging")

const defaultMaxLen = 10000

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	stream Stream
	maxLen int64
}

// NewProducer 创建消息生产者，stream 为流水线终态事件的目标流
func NewProducer(client *redis.Client, stream Stream, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Producer{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流，超过 maxLen 时近似裁剪
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := otelTracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type": msg.Type,
			"data": string(data),
		},
	}).Result()
	if err != nil {
		tracer.RecordError(span, err)
		metrics.RedisStreamPublished.WithLabelValues(string(stream), "error").Inc()
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	metrics.RedisStreamPublished.WithLabelValues(string(stream), "ok").Inc()
	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishOutcome 发布流水线终态；已投递未记账的结果单独标记类型以便对账
func (p *Producer) PublishOutcome(ctx context.Context, outcome pipeline.Outcome) error {
	msgType := TypePipelineOutcome
	if outcome.Unrecorded() {
		msgType = TypeDeliveredUnrecorded
	}

	msg, err := NewMessage(outcome.ID, msgType, outcome)
	if err != nil {
		return err
	}
	msg.SetMetadata("request_id", outcome.RequestID)
	msg.SetMetadata("state", string(outcome.State))
	msg.SetMetadata("http_status", strconv.Itoa(outcome.HTTPStatus))

	_, err = p.Publish(ctx, p.stream, msg)
	return err
}
