package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestTopologyFor(t *testing.T) {
	top := TopologyFor("regenerate_jobs")
	if top.Main != "regenerate_jobs" || top.Retry != "regenerate_jobs.retry" || top.DLQ != "regenerate_jobs.dlq" {
		t.Fatalf("unexpected topology: %+v", top)
	}
}

func TestAttempts(t *testing.T) {
	fresh := amqp.Delivery{}
	if n := Attempts(fresh); n != 0 {
		t.Fatalf("fresh delivery should have 0 attempts, got %d", n)
	}

	retried := amqp.Delivery{Headers: amqp.Table{
		"x-death": []any{
			amqp.Table{"queue": "regenerate_jobs.retry", "reason": "expired", "count": int64(2)},
			amqp.Table{"queue": "regenerate_jobs", "reason": "rejected", "count": int64(1)},
		},
	}}
	if n := Attempts(retried); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}

	malformed := amqp.Delivery{Headers: amqp.Table{"x-death": "nope"}}
	if n := Attempts(malformed); n != 0 {
		t.Fatalf("malformed header should count 0, got %d", n)
	}
}
