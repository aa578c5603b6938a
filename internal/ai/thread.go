package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ThreadProvider talks to an upstream that keeps its own conversation
// state. Each turn sends only the prompt plus the parent message id;
// the upstream replies with newline-delimited JSON snapshots whose
// text field is the cumulative reply so far.
type ThreadProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type threadSendReq struct {
	Model           string `json:"model"`
	Prompt          string `json:"prompt"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	Stream          bool   `json:"stream"`
}

type threadStreamResp struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func NewThreadProvider(p Params) (*ThreadProvider, error) {
	if p.BaseURL == "" {
		return nil, errors.New("thread: base url is required")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if p.Proxy != "" {
		u, err := url.Parse(p.Proxy)
		if err != nil {
			return nil, fmt.Errorf("thread: bad proxy url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}
	return &ThreadProvider{
		BaseURL: p.BaseURL,
		APIKey:  p.APIKey,
		Model:   p.Model,
		Client:  client,
	}, nil
}

// Send streams cumulative snapshots. Both channels close when the
// stream ends; a terminal snapshot with Done set marks success.
func (p *ThreadProvider) Send(ctx context.Context, prompt, parentMessageID string, _ Params) (<-chan Snapshot, <-chan error) {
	snaps := make(chan Snapshot)
	errs := make(chan error, 1)

	go func() {
		defer close(snaps)
		defer close(errs)

		reqBody := threadSendReq{
			Model:           p.Model,
			Prompt:          prompt,
			ParentMessageID: parentMessageID,
			Stream:          true,
		}
		b, err := json.Marshal(reqBody)
		if err != nil {
			errs <- err
			return
		}

		url := fmt.Sprintf("%s/conversation", p.BaseURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if p.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.APIKey)
		}

		resp, err := p.Client.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- fmt.Errorf("thread: status %d", resp.StatusCode)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		// Cumulative snapshots grow with the reply; allow long lines.
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded threadStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != "" {
				errs <- errors.New(decoded.Error)
				return
			}

			snap := Snapshot{
				Text:      decoded.Text,
				Done:      decoded.Done,
				MessageID: decoded.ID,
			}

			// The send blocks until the consumer drained the previous
			// snapshot, so the sink's flow control reaches all the way
			// back to the upstream read.
			select {
			case snaps <- snap:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}

			if decoded.Done {
				return
			}
		}

		if err := sc.Err(); err != nil {
			errs <- err
			return
		}
		errs <- errors.New("thread: stream ended without terminal snapshot")
	}()

	return snaps, errs
}
