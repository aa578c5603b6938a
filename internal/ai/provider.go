package ai

import (
	"context"
	"time"
)

// Params is one request's upstream configuration, resolved from the
// versioned snapshot at request start. Nothing in here is shared
// mutable state; a later snapshot changes later requests only.
type Params struct {
	Version int64
	Model   string
	BaseURL string
	APIKey  string
	Proxy   string
	Timeout time.Duration
}

// Snapshot is one increment of upstream output. Text is cumulative,
// not a delta. The terminal snapshot has Done set and carries the id
// the provider assigned to its reply.
type Snapshot struct {
	Text      string
	Done      bool
	MessageID string
}

// Provider is the upstream model capability. Send returns immediately;
// both channels are closed when the stream ends. A nil error channel
// read after the snapshot channel closes means clean completion.
type Provider interface {
	Send(ctx context.Context, prompt, parentMessageID string, p Params) (<-chan Snapshot, <-chan error)
}
