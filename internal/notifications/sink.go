// Package notifications delivers workflow events to an external channel.
//
// The workflow service only emits (episode, event, payload) triples through
// the Sink interface. NewSink returns an ntfy-backed sink when a topic is
// configured and falls back to logging otherwise.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"broadcast-ops/backend/internal/logging"
)

const userAgent = "broadcast-ops-workflow/1.0"

// Event names a workflow occurrence.
type Event string

const (
	// EventStepCompleted fires when a ledger step reaches completed.
	EventStepCompleted Event = "step_completed"
	// EventSubWorkNeedsRevision fires when a sub-work enters the revision status.
	EventSubWorkNeedsRevision Event = "subwork_needs_revision"
)

// Payload keys.
const (
	KeyStep        = "step"
	KeyStepKey     = "key"
	KeyStepName    = "name"
	KeyCompletedAt = "completed_at"
	KeyDiscipline  = "discipline"
	KeySubWorkID   = "sub_work_id"
	KeySource      = "source"
	KeyItemKey     = "item_key"
)

// Revision sources.
const (
	SourceQCRepair     = "qc_repair"
	SourceStatusUpdate = "status_update"
	SourceChecklist    = "checklist"
)

// Payload carries event attributes.
type Payload map[string]any

// Sink accepts workflow events.
type Sink interface {
	Publish(ctx context.Context, episodeID string, event Event, payload Payload) error
}

// Options configures NewSink.
type Options struct {
	NtfyTopic      string
	RequestTimeout time.Duration
}

// NewSink builds a sink backed by ntfy when a topic is configured, or a
// LogSink otherwise.
func NewSink(opts Options, logger *logging.Logger) Sink {
	topic := strings.TrimSpace(opts.NtfyTopic)
	if topic == "" {
		return NewLogSink(logger)
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewNtfySink(topic, &http.Client{Timeout: timeout})
}

// NtfySink posts events to an ntfy topic URL.
type NtfySink struct {
	endpoint string
	client   *http.Client
}

// NewNtfySink creates an NtfySink. A nil client uses http.DefaultClient.
func NewNtfySink(endpoint string, client *http.Client) *NtfySink {
	if client == nil {
		client = http.DefaultClient
	}
	return &NtfySink{endpoint: endpoint, client: client}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

func format(episodeID string, event Event, payload Payload) message {
	switch event {
	case EventStepCompleted:
		return message{
			title: "Episode - Step Completed",
			body:  fmt.Sprintf("Episode %s completed step %v (%v)", episodeID, payload[KeyStep], payload[KeyStepName]),
			tags:  []string{"workflow", "step", "completed"},
		}
	case EventSubWorkNeedsRevision:
		body := fmt.Sprintf("Episode %s: %v needs revision", episodeID, payload[KeyDiscipline])
		if item, ok := payload[KeyItemKey]; ok && item != "" {
			body += fmt.Sprintf(" (QC item %v)", item)
		}
		return message{
			title:    "Episode - Revision Requested",
			body:     body,
			tags:     []string{"workflow", "revision"},
			priority: "high",
		}
	default:
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, payload[k]))
		}
		return message{
			title: "Episode - " + string(event),
			body:  fmt.Sprintf("Episode %s: %s", episodeID, strings.Join(parts, " ")),
			tags:  []string{"workflow"},
		}
	}
}

// Publish sends the event as a plain-text ntfy message.
func (n *NtfySink) Publish(ctx context.Context, episodeID string, event Event, payload Payload) error {
	data := format(episodeID, event, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", data.title)
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogSink writes events to the log.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink. A nil logger discards events.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogSink{logger: logger.Component("notifications")}
}

// Publish logs the event at info level.
func (s *LogSink) Publish(ctx context.Context, episodeID string, event Event, payload Payload) error {
	args := []any{logging.FieldEpisodeID, episodeID, logging.FieldEvent, string(event)}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, payload[k])
	}
	s.logger.Info("workflow event", args...)
	return nil
}

// NoopSink drops every event.
type NoopSink struct{}

// Publish does nothing.
func (NoopSink) Publish(context.Context, string, Event, Payload) error { return nil }
