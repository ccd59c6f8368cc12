// ABOUTME: Per-identity queue of bot-to-host events awaiting acknowledgment
// ABOUTME: Bounded FIFO; overflow evicts the oldest entry and marks the queue truncated

package connection

import (
	"container/list"
)

// pendingEvent is an encoded event kept until the host acknowledges it.
type pendingEvent struct {
	eventID string
	msgType string
	frame   []byte
	sent    bool
	queued  bool // waiting in a client write queue
}

// outbox holds pending events for one identity in arrival order.
type outbox struct {
	entries   *list.List // *pendingEvent, oldest at front
	index     map[string]*list.Element
	limit     int
	truncated bool
	dropped   int
}

func newOutbox(limit int) *outbox {
	return &outbox{
		entries: list.New(),
		index:   make(map[string]*list.Element),
		limit:   limit,
	}
}

// push appends ev, evicting the oldest entry when full.
// An event id already present replaces nothing and is ignored.
func (o *outbox) push(ev *pendingEvent) *pendingEvent {
	if el, ok := o.index[ev.eventID]; ok {
		existing, _ := el.Value.(*pendingEvent)
		return existing
	}
	for o.entries.Len() >= o.limit {
		front := o.entries.Front()
		old, _ := front.Value.(*pendingEvent)
		o.entries.Remove(front)
		delete(o.index, old.eventID)
		o.truncated = true
		o.dropped++
	}
	o.index[ev.eventID] = o.entries.PushBack(ev)
	return ev
}

// ack removes an entry and reports whether it was present.
func (o *outbox) ack(eventID string) bool {
	el, ok := o.index[eventID]
	if !ok {
		return false
	}
	o.entries.Remove(el)
	delete(o.index, eventID)
	return true
}

// contains reports whether ev is still pending.
func (o *outbox) contains(ev *pendingEvent) bool {
	el, ok := o.index[ev.eventID]
	return ok && el.Value == ev
}

// replayable returns the entries to resend, oldest first. Entries already
// waiting in a write queue are skipped.
func (o *outbox) replayable(full bool) []*pendingEvent {
	out := make([]*pendingEvent, 0, o.entries.Len())
	for el := o.entries.Front(); el != nil; el = el.Next() {
		ev, _ := el.Value.(*pendingEvent)
		if ev.queued {
			continue
		}
		if full || !ev.sent {
			out = append(out, ev)
		}
	}
	return out
}

func (o *outbox) len() int {
	return o.entries.Len()
}
