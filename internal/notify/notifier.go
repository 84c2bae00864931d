// Package notify delivers operator alerts about market settlements and
// persistence trouble. Alerts go to every registered sender and can be
// filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Alert event types.
const (
	EventMarketResolved     = "market_resolved"
	EventMarketCancelled    = "market_cancelled"
	EventJournalFailed      = "journal_failed"
	EventNumericInstability = "numeric_instability"
)

// Sender is one alert channel.
type Sender interface {
	Send(ctx context.Context, event, title, message string) error
	Name() string
}

// Notifier fans alerts out to its senders. A nil *Notifier drops
// everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert if its event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if n == nil || len(n.senders) == 0 {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered", slog.String("event", event))
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, event, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Go sends an alert in the background, logging instead of returning errors.
// Used from paths that must not wait on network I/O.
func (n *Notifier) Go(event, title, message string) {
	if n == nil || len(n.senders) == 0 {
		return
	}
	go func() {
		_ = n.Notify(context.Background(), event, title, message)
	}()
}
