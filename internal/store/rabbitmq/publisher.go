// Package rabbitmq carries project nudges from the API service to the
// out-of-process turn worker over a durable queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// retryDelay is the message TTL on the retry queue: how long a nudge that
// failed a delivery attempt waits before falling back onto the main queue.
const retryDelay = 30 * time.Second

// MaxDeliveryAttempts is how many times cmd/worker will re-queue a nudge
// through the retry queue before giving up and letting the main queue's
// dead-letter routing move it to the DLQ for good.
const MaxDeliveryAttempts = 3

// attemptHeader carries the delivery attempt count on retried nudges, read
// back by cmd/worker to decide retry vs. dead-letter.
const attemptHeader = "x-attempt"

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NudgeMessage is the wire payload published to the nudge queue: the
// dispatcher needs nothing more than the project id, since the worker
// re-derives all state from get-context on receipt.
type NudgeMessage struct {
	ProjectID string `json:"project_id"`
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	// match worker
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	// Retry queue: message TTL -> dead-letter back to main queue. Every
	// message sitting in this queue dead-letters to mainQ once it has aged
	// past retryDelay, which is what turns "publish here" into "redeliver
	// after a delay" without a scheduler.
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
			"x-message-ttl":             int32(retryDelay / time.Millisecond),
		},
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishNudge enqueues a durable nudge for a project. Per-project
// serialization is not this queue's job (the worker's lock table owns
// that); this only guarantees the worker eventually sees the request at
// least once.
func (p *Publisher) PublishNudge(ctx context.Context, projectID string) error {
	body, err := json.Marshal(NudgeMessage{ProjectID: projectID})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// PublishRetry re-enqueues a nudge that failed a delivery attempt onto the
// retry queue instead of letting it dead-letter straight to the DLQ: it
// sits there for retryDelay, then the queue's own dead-letter routing drops
// it back onto the main queue for another attempt. attempt is carried as a
// header so the next consumer knows whether to retry again or give up.
func (p *Publisher) PublishRetry(ctx context.Context, projectID string, attempt int) error {
	body, err := json.Marshal(NudgeMessage{ProjectID: projectID})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",
		p.queue+".retry",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{attemptHeader: int32(attempt)},
		},
	)
}

// DeliveryAttempt reads the attempt header cmd/worker stamps on a
// redelivered nudge, defaulting to 0 for a message's first delivery.
func DeliveryAttempt(headers amqp.Table) int {
	v, ok := headers[attemptHeader]
	if !ok {
		return 0
	}
	n, ok := v.(int32)
	if !ok {
		return 0
	}
	return int(n)
}
