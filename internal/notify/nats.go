package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/stewardhq/steward/internal/workflow"
)

// NatsBus publishes execution progress to NATS JetStream and lets other
// services subscribe durably. Subjects:
//
//	steward.exec.status.{execution_id}
//	steward.exec.steps.{execution_id}
//	steward.gov.decisions
type NatsBus struct {
	conn           *nats.Conn
	js             nats.JetStreamContext
	subscriptions  map[string]*nats.Subscription
	streamName     string
	url            string
	consumerPrefix string
}

// NatsConfig holds NATS connection settings.
type NatsConfig struct {
	URL        string
	StreamName string
	Timeout    time.Duration
	// ConsumerPrefix namespaces durable consumer names for test isolation.
	ConsumerPrefix string
}

// NewNatsBus connects to NATS and ensures the steward stream exists.
func NewNatsBus(cfg NatsConfig) (*NatsBus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "STEWARD"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Notify] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Notify] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	bus := &NatsBus{
		conn:           nc,
		js:             js,
		subscriptions:  make(map[string]*nats.Subscription),
		streamName:     cfg.StreamName,
		url:            cfg.URL,
		consumerPrefix: cfg.ConsumerPrefix,
	}
	if err := bus.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[Notify] Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return bus, nil
}

// ensureStream creates or updates the stream. LimitsPolicy so multiple
// consumers can read the same subjects.
func (b *NatsBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{"steward.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := b.js.StreamInfo(b.streamName); err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[Notify] Created JetStream stream: %s", b.streamName)
		return nil
	}
	if _, err := b.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// NotifyExecutionStatus publishes an execution status event.
func (b *NatsBus) NotifyExecutionStatus(ctx context.Context, exec *workflow.WorkflowExecution) error {
	subject := fmt.Sprintf("steward.exec.status.%s", exec.ID)
	return b.publish(subject, executionEvent(exec))
}

// NotifyStepStatus publishes a step status event.
func (b *NatsBus) NotifyStepStatus(ctx context.Context, executionID, stepID string, status workflow.StepStatus, output map[string]interface{}) error {
	subject := fmt.Sprintf("steward.exec.steps.%s", executionID)
	return b.publish(subject, stepEvent(executionID, stepID, status, output))
}

// PublishDecision publishes a governance routing decision for downstream
// consumers (dashboards, audit pipelines).
func (b *NatsBus) PublishDecision(ctx context.Context, decision interface{}) error {
	return b.publish("steward.gov.decisions", decision)
}

func (b *NatsBus) publish(subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// SubscribeExecution delivers events for one execution to handler through
// a durable consumer.
func (b *NatsBus) SubscribeExecution(executionID string, handler func(Event)) error {
	subject := fmt.Sprintf("steward.exec.status.%s", executionID)
	return b.subscribe(subject, fmt.Sprintf("exec-%s", executionID), handler)
}

// SubscribeAllExecutions delivers every execution status event.
func (b *NatsBus) SubscribeAllExecutions(handler func(Event)) error {
	return b.subscribe("steward.exec.status.*", "exec-all", handler)
}

// SubscribeSteps delivers step events for one execution.
func (b *NatsBus) SubscribeSteps(executionID string, handler func(Event)) error {
	subject := fmt.Sprintf("steward.exec.steps.%s", executionID)
	return b.subscribe(subject, fmt.Sprintf("steps-%s", executionID), handler)
}

func (b *NatsBus) prefixConsumer(name string) string {
	if b.consumerPrefix != "" {
		return b.consumerPrefix + "-" + name
	}
	return name
}

func (b *NatsBus) subscribe(subject, consumerName string, handler func(Event)) error {
	prefixed := b.prefixConsumer(consumerName)
	sub, err := b.js.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("[Notify] Failed to unmarshal event: %v", err)
			msg.Nak()
			return
		}
		handler(event)
		msg.Ack()
	},
		nats.Durable(prefixed),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.subscriptions[subject] = sub
	log.Printf("[Notify] Subscribed to %s with consumer %s", subject, prefixed)
	return nil
}

// Unsubscribe removes a subscription.
func (b *NatsBus) Unsubscribe(subject string) error {
	sub, ok := b.subscriptions[subject]
	if !ok {
		return fmt.Errorf("no subscription found for %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}
	delete(b.subscriptions, subject)
	return nil
}

// Close unsubscribes everything and closes the connection.
func (b *NatsBus) Close() error {
	for subject := range b.subscriptions {
		_ = b.Unsubscribe(subject)
	}
	b.conn.Close()
	log.Printf("[Notify] Closed NATS connection")
	return nil
}

// Health checks the connection and the stream.
func (b *NatsBus) Health() error {
	if b.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := b.js.StreamInfo(b.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", b.streamName, err)
	}
	return nil
}

// Stats reports connection and stream statistics.
func (b *NatsBus) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"url":           b.url,
		"stream":        b.streamName,
		"connected":     b.conn.IsConnected(),
		"subscriptions": len(b.subscriptions),
	}
	if info, err := b.js.StreamInfo(b.streamName); err == nil {
		stats["stream_messages"] = info.State.Msgs
		stats["stream_bytes"] = info.State.Bytes
		stats["stream_consumers"] = info.State.Consumers
	}
	return stats
}
