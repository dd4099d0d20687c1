package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type fakeAcknowledger struct {
	acks    int
	nacks   int
	rejects int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.rejects++
	a.requeue = requeue
	return nil
}

func reportDelivery(t *testing.T, ack *fakeAcknowledger, msg DeliveryReportMessage, redelivered bool) amqp.Delivery {
	t.Helper()

	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return amqp.Delivery{Acknowledger: ack, Body: body, Redelivered: redelivered}
}

func validReport() DeliveryReportMessage {
	return DeliveryReportMessage{
		ID:         "r1",
		Provider:   "smso",
		Payload:    map[string]string{"uuid": "abc", "status": "delivered"},
		ReceivedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		RequestID:  "req-7",
	}
}

func TestHandleDeliverySettlement(t *testing.T) {
	t.Parallel()

	handlerErr := errors.New("database down")

	tests := []struct {
		name        string
		body        func(t *testing.T, ack *fakeAcknowledger) amqp.Delivery
		handlerErr  error
		wantAcks    int
		wantNacks   int
		wantRejects int
		wantRequeue bool
	}{
		{
			name: "handled report is acked",
			body: func(t *testing.T, ack *fakeAcknowledger) amqp.Delivery {
				return reportDelivery(t, ack, validReport(), false)
			},
			wantAcks: 1,
		},
		{
			name: "first failure is requeued",
			body: func(t *testing.T, ack *fakeAcknowledger) amqp.Delivery {
				return reportDelivery(t, ack, validReport(), false)
			},
			handlerErr:  handlerErr,
			wantNacks:   1,
			wantRequeue: true,
		},
		{
			name: "redelivered failure is dead-lettered",
			body: func(t *testing.T, ack *fakeAcknowledger) amqp.Delivery {
				return reportDelivery(t, ack, validReport(), true)
			},
			handlerErr: handlerErr,
			wantNacks:  1,
		},
		{
			name: "malformed json is rejected",
			body: func(t *testing.T, ack *fakeAcknowledger) amqp.Delivery {
				return amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")}
			},
			wantRejects: 1,
		},
		{
			name: "report without payload is rejected",
			body: func(t *testing.T, ack *fakeAcknowledger) amqp.Delivery {
				msg := validReport()
				msg.Payload = nil
				return reportDelivery(t, ack, msg, false)
			},
			wantRejects: 1,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ack := &fakeAcknowledger{}
			consumer := NewRabbitMQConsumer(nil, 1, zap.NewNop())

			var gotRequestID string
			handler := func(ctx context.Context, msg DeliveryReportMessage) error {
				gotRequestID, _ = observability.RequestIDFromContext(ctx)
				return tc.handlerErr
			}

			if err := consumer.handleDelivery(context.Background(), tc.body(t, ack), handler); err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}
			if ack.acks != tc.wantAcks || ack.nacks != tc.wantNacks || ack.rejects != tc.wantRejects {
				t.Fatalf("acks=%d nacks=%d rejects=%d, want %d/%d/%d",
					ack.acks, ack.nacks, ack.rejects, tc.wantAcks, tc.wantNacks, tc.wantRejects)
			}
			if ack.requeue != tc.wantRequeue {
				t.Fatalf("requeue = %v, want %v", ack.requeue, tc.wantRequeue)
			}
			if tc.wantAcks+tc.wantNacks > 0 && gotRequestID != "req-7" {
				t.Fatalf("handler request id = %q, want req-7", gotRequestID)
			}
		})
	}
}

func TestConsumeRequiresArguments(t *testing.T) {
	t.Parallel()

	handler := func(context.Context, DeliveryReportMessage) error { return nil }

	if err := NewRabbitMQConsumer(nil, 1, nil).Consume(context.Background(), DeliveryReportQueue, handler); err == nil {
		t.Fatal("expected error for uninitialized consumer")
	}
	consumer := &RabbitMQConsumer{client: &RabbitMQ{}, logger: zap.NewNop()}
	if err := consumer.Consume(context.Background(), "", handler); err == nil {
		t.Fatal("expected error for empty queue")
	}
	if err := consumer.Consume(context.Background(), DeliveryReportQueue, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestReportPublishing(t *testing.T) {
	t.Parallel()

	msg := validReport()
	pub, err := reportPublishing(msg)
	if err != nil {
		t.Fatalf("reportPublishing() error = %v", err)
	}
	if pub.DeliveryMode != amqp.Persistent || pub.MessageId != "r1" || pub.CorrelationId != "req-7" {
		t.Fatalf("publishing = %+v", pub)
	}
	if pub.Headers["provider"] != "smso" || !pub.Timestamp.Equal(msg.ReceivedAt) {
		t.Fatalf("publishing metadata = %+v", pub)
	}

	decoded, err := decodeReport(pub.Body)
	if err != nil {
		t.Fatalf("decodeReport() error = %v", err)
	}
	if decoded.Payload["uuid"] != "abc" || decoded.RequestID != "req-7" {
		t.Fatalf("decoded = %+v", decoded)
	}

	msg.ID = ""
	if _, err := reportPublishing(msg); err == nil {
		t.Fatal("expected error for invalid report")
	}
}

func TestTopologyArgs(t *testing.T) {
	t.Parallel()

	args := workQueueArgs(DeliveryReportQueue)
	if args["x-dead-letter-exchange"] != dlxExchangeName || args["x-dead-letter-routing-key"] != DeliveryReportQueue {
		t.Fatalf("work queue args = %v", args)
	}
	if args["x-message-ttl"] != reportTTL.Milliseconds() {
		t.Fatalf("x-message-ttl = %v, want %d", args["x-message-ttl"], reportTTL.Milliseconds())
	}
	if deadLetterQueueArgs()["x-message-ttl"] != deadLetterTTL.Milliseconds() {
		t.Fatalf("dlq args = %v", deadLetterQueueArgs())
	}
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Fatalf("nextBackoff(1s) = %s", got)
	}
	if got := nextBackoff(20 * time.Second); got != maxBackoff {
		t.Fatalf("nextBackoff(20s) = %s, want %s", got, maxBackoff)
	}
}

func TestNewRabbitMQRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewRabbitMQ(" ", nil); err == nil {
		t.Fatal("expected error for empty url")
	}
	if err := (&RabbitMQ{}).Ping(context.Background()); err == nil {
		t.Fatal("expected ping error without a connection")
	}
}
