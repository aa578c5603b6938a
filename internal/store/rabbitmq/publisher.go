package rabbitmq

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology is the queue set for one job stream: the main work queue,
// a parking queue whose expired messages dead-letter back onto main,
// and a dlq for deliveries rejected outright.
type Topology struct {
	Main  string
	Retry string
	DLQ   string
}

func TopologyFor(queue string) Topology {
	return Topology{
		Main:  queue,
		Retry: queue + ".retry",
		DLQ:   queue + ".dlq",
	}
}

// Declare creates all three queues. Publisher and consumer both go
// through here: the broker rejects a redeclaration whose arguments
// differ, so exactly one place knows them.
func (t Topology) Declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(t.Retry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.Main,
	}); err != nil {
		return err
	}
	_, err := ch.QueueDeclare(t.Main, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.DLQ,
	})
	return err
}

type JobMessage struct {
	JobID string `json:"job_id"`
}

type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	top  Topology
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

	top := TopologyFor(queue)
	if err := top.Declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, top: top}, nil
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

func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	return publish(ctx, p.ch, p.top.Main, jobID, "")
}

// Requeue parks a job on the retry queue; the per-message TTL expires
// it back onto the main queue after delay. Runs on the caller's own
// channel so the consumer does not hold a second connection.
func Requeue(ctx context.Context, ch *amqp.Channel, t Topology, jobID string, delay time.Duration) error {
	return publish(ctx, ch, t.Retry, jobID, strconv.FormatInt(delay.Milliseconds(), 10))
}

// Attempts counts how many times a delivery has been through the
// retry loop, read off the broker's x-death header.
func Attempts(d amqp.Delivery) int64 {
	deaths, ok := d.Headers["x-death"].([]any)
	if !ok {
		return 0
	}
	var n int64
	for _, v := range deaths {
		entry, ok := v.(amqp.Table)
		if !ok {
			continue
		}
		if c, ok := entry["count"].(int64); ok {
			n += c
		}
	}
	return n
}

func publish(ctx context.Context, ch *amqp.Channel, queue, jobID, expiration string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			Expiration:   expiration,
		},
	)
}
