// Package events carries change request notifications to interested
// listeners.
//
// Notifications are fire and forget: a failed delivery never undoes the
// change that produced it. NATS subjects have the form
//
//	{prefix}.{kind}.{change_request_id}
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Kind identifies what happened to a change request.
type Kind string

const (
	KindStatusChanged    Kind = "status_changed"
	KindReviewAdded      Kind = "review_added"
	KindReviewUpdated    Kind = "review_updated"
	KindFileChangeAdded  Kind = "file_change_added"
	KindMerged           Kind = "merged"
	KindApproversUpdated Kind = "approvers_updated"
)

// Event is a single notification.
type Event struct {
	Kind            Kind              `json:"kind"`
	ChangeRequestID string            `json:"change_request_id"`
	User            string            `json:"user,omitempty"`
	Time            time.Time         `json:"time"`
	Data            map[string]string `json:"data,omitempty"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Event) error { return nil }

// DefaultSubjectPrefix is used when NATSNotifier has no prefix.
const DefaultSubjectPrefix = "changerequest"

// NATSNotifier publishes events as JSON on a NATS connection.
type NATSNotifier struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSNotifier creates a notifier publishing under prefix.
func NewNATSNotifier(nc *nats.Conn, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{nc: nc, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (n *NATSNotifier) Subject(event Event) string {
	return fmt.Sprintf("%s.%s.%s", n.prefix, event.Kind, event.ChangeRequestID)
}

// Notify implements Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := n.nc.Publish(n.Subject(event), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Kind, err)
	}
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	events chan Event
}

// NewRecorder creates a recorder buffering up to size events.
func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Event, size)}
}

// Notify implements Notifier. Events beyond the buffer are dropped.
func (r *Recorder) Notify(_ context.Context, event Event) error {
	select {
	case r.events <- event:
	default:
	}
	return nil
}

// Events drains the recorded events.
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
