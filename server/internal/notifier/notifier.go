// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package notifier mirrors sent messages to an external logging endpoint,
// such as a spreadsheet web app. Delivery is best effort.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wandb/parallel"
)

// Event is the payload posted for each sent message.
type Event struct {
	Room      string `json:"room"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Important bool   `json:"important"`
}

// Notifier receives events for sent messages. Notify never blocks on
// delivery and has no way to report failure.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop is a Notifier that drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// DefaultTimeout bounds each post when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// NewHTTP returns an HTTP notifier posting to endpoint. Each post is bounded
// by timeout, or DefaultTimeout if it is not positive.
func NewHTTP(client *http.Client, endpoint string, timeout time.Duration) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		client:   client,
		endpoint: endpoint,
		timeout:  timeout,
		exec:     parallel.Unlimited(context.Background()),
	}
}

// HTTP posts events as JSON to an endpoint in the background.
type HTTP struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
	exec     parallel.Executor

	mu     sync.Mutex
	closed bool
}

func (n *HTTP) Notify(ctx context.Context, e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		slog.WarnContext(ctx, "notifier: dropping event after close", "room", e.Room)
		return
	}

	// The post outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)
	n.exec.Go(func(context.Context) {
		if err := n.post(ctx, e); err != nil {
			slog.ErrorContext(ctx, "notifier: failed to post event", "room", e.Room, "error", err)
		}
	})
}

// Close waits for in-flight posts to finish. Events notified after Close are
// dropped.
func (n *HTTP) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.exec.Wait()
}

func (n *HTTP) post(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notifier: marshaling event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifier: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: posting event: %w", err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.ErrorContext(ctx, "notifier: failed to close response body", "error", err)
		}
	}()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("notifier: unexpected status %d", res.StatusCode)
	}
	return nil
}
