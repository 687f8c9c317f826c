// Package event implements the event log and the asynchronous webhook
// dispatcher. Every platform-visible state change produces an immutable
// Event wrapping a frozen export of the affected resource; delivery to
// registered endpoints happens on a background goroutine after a fixed
// simulated network delay, signed, best-effort, at most once.
package event

import (
	"context"
	"sort"

	"github.com/adrienverge/localstripe/internal/resource"
)

// ObjectEvent is the stored object name for events.
const ObjectEvent = "event"

// Event is an immutable snapshot of a resource at the moment something
// happened to it. Events are never updated or deleted through the public
// contract.
type Event struct {
	resource.Base
	Type string `json:"type"`
	Data Data   `json:"data"`
}

// Data wraps the frozen resource export.
type Data struct {
	Object map[string]any `json:"object"`
}

// Export renders the public event shape.
func (e *Event) Export() map[string]any {
	m := e.Base.ExportCommon()
	delete(m, "metadata") // events carry no metadata
	m["type"] = e.Type
	m["data"] = map[string]any{"object": e.Data.Object}
	m["pending_webhooks"] = 0
	return m
}

// Retrieve loads an event by id.
func Retrieve(ctx context.Context, eng *resource.Engine, id string) (*Event, error) {
	var e Event
	if err := eng.Retrieve(ctx, ObjectEvent, id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListAll returns every stored event, newest first.
func ListAll(ctx context.Context, eng *resource.Engine) ([]*Event, error) {
	docs, err := eng.All(ctx, ObjectEvent)
	if err != nil {
		return nil, err
	}
	events, err := decodeAll(docs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Created != events[j].Created {
			return events[i].Created > events[j].Created
		}
		return events[i].ID > events[j].ID
	})
	return events, nil
}
