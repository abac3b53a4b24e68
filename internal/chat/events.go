package chat

import (
	"context"

	"gemchat/internal/models"
)

type EventKind string

const (
	// EventSessions: the session list, a title or the active session changed.
	EventSessions EventKind = "sessions"
	// EventMessage: a user message was appended.
	EventMessage EventKind = "message"
	// EventUpdate: the streaming placeholder changed.
	EventUpdate EventKind = "update"
	// EventModel: the active model changed.
	EventModel EventKind = "model"
	// EventIdle: the send finished and the controller accepts a new one.
	EventIdle EventKind = "idle"
)

const subscriberBuffer = 64

// Event carries copies; receivers may keep them.
type Event struct {
	Kind      EventKind
	SessionID int64
	Message   *models.Message
	Model     string
}

// Subscribe registers a listener. Publishing never blocks: a full channel
// drops the event, so consumers that lag should re-read the session once
// they see EventIdle. Call the returned func to unsubscribe.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()
	return ch, func() {
		c.subMu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.subMu.Unlock()
	}
}

func (c *Controller) publish(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

type observerKey struct{}

// WithObserver attaches fn to ctx. A Send or Resend running with that
// context calls fn with the events of its own user message and
// placeholder. fn must not block; it may run on the goroutine calling Stop.
func WithObserver(ctx context.Context, fn func(Event)) context.Context {
	return context.WithValue(ctx, observerKey{}, fn)
}

func observerFrom(ctx context.Context) func(Event) {
	fn, _ := ctx.Value(observerKey{}).(func(Event))
	return fn
}

// publishFlight publishes an event of the running send to its observer
// as well as to subscribers.
func (c *Controller) publishFlight(fl *inflight, ev Event) {
	if fl.observe != nil {
		fl.observe(ev)
	}
	c.publish(ev)
}
