// Package notify delivers engine outcome events to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType kind of outcome being reported
type EventType string

const (
	EventRoundCompleted    EventType = "round_completed"
	EventResourceReplaced  EventType = "resource_replaced"
	EventResourceExhausted EventType = "resource_exhausted"
	EventWalletFailed      EventType = "wallet_failed"
)

// Event one outcome notification
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	Time     time.Time `json:"time"`
	Activity string    `json:"activity,omitempty"`
	RoundID  string    `json:"round_id,omitempty"`
	WalletID uint      `json:"wallet_id,omitempty"`
	Wallet   string    `json:"wallet,omitempty"`
	Resource string    `json:"resource,omitempty"`
	Message  string    `json:"message"`

	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Skipped   int `json:"skipped,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time
func NewEvent(t EventType, message string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		Time:    time.Now().UTC(),
		Message: message,
	}
}

// Text human readable rendering used by chat channels
func (e Event) Text() string {
	var b strings.Builder
	switch e.Type {
	case EventRoundCompleted:
		fmt.Fprintf(&b, "✅ %s round finished: %d ok, %d failed", e.Activity, e.Succeeded, e.Failed)
		if e.Skipped > 0 {
			fmt.Fprintf(&b, ", %d skipped", e.Skipped)
		}
	case EventResourceReplaced:
		fmt.Fprintf(&b, "🔄 %s %s replaced", e.Wallet, e.Resource)
	case EventResourceExhausted:
		fmt.Fprintf(&b, "⚠️ %s %s is BAD and could not be replaced", e.Wallet, e.Resource)
	case EventWalletFailed:
		fmt.Fprintf(&b, "❌ %s %s failed", e.Wallet, e.Activity)
	default:
		b.WriteString(string(e.Type))
	}
	if e.Message != "" {
		b.WriteString("\n")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Notifier delivers events
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every channel and joins their errors
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns the single notifier, a Multi, or Nop when none are given
func Combine(notifiers ...Notifier) Notifier {
	var live Multi
	for _, n := range notifiers {
		if n != nil {
			live = append(live, n)
		}
	}
	switch len(live) {
	case 0:
		return Nop{}
	case 1:
		return live[0]
	}
	return live
}
