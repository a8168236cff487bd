// Package notify abstracts the user-facing toast notifications the
// dashboard raises when an agent action succeeds or fails.
package notify

import "log"

// Notifier receives the outcome of user-triggered actions.
type Notifier interface {
	Success(title, message string)
	Error(title, message string)
}

// EventSink is anything that records notification events, e.g. the metrics
// event ring surfaced on the dashboard.
type EventSink interface {
	AddEvent(level, source, message string)
}

// LogNotifier writes notifications to the process log and, when a sink is
// attached, to the event feed.
type LogNotifier struct {
	sink EventSink // nil if metrics disabled
}

func NewLogNotifier(sink EventSink) *LogNotifier {
	return &LogNotifier{sink: sink}
}

func (n *LogNotifier) Success(title, message string) {
	log.Printf("[notify] %s: %s", title, message)
	if n.sink != nil {
		n.sink.AddEvent("info", "action", title+": "+message)
	}
}

func (n *LogNotifier) Error(title, message string) {
	log.Printf("[notify] ERROR %s: %s", title, message)
	if n.sink != nil {
		n.sink.AddEvent("error", "action", title+": "+message)
	}
}
