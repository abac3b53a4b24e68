package chat

import (
	"context"
	"iter"
	"log"
	"strings"

	"gemchat/internal/catalog"
	"gemchat/internal/completion"
	"gemchat/internal/debug"
	"gemchat/internal/models"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// inflight tracks the one send that may be running. Guarded by Controller.mu.
type inflight struct {
	sessionID int64
	msgID     string
	model     string
	buf       strings.Builder
	// stopped is set by Stop or once settle made the placeholder terminal;
	// later writes to the placeholder are dropped.
	stopped   bool
	cancel    context.CancelFunc
	observe   func(Event)
}

// Input is one user turn.
type Input struct {
	Text        string
	Attachments []models.Attachment
	Hidden      bool
}

// Send appends a user turn to the active session and streams the reply into
// a placeholder message. It blocks until the reply is final and returns the
// session as it was left. Only ErrNoCredential and ErrBusy are returned
// before anything changes; backend failures end up in the message. If the
// session is deleted while streaming the result is ErrSessionNotFound.
func (c *Controller) Send(ctx context.Context, in Input) (*models.Session, error) {
	return c.send(ctx, in, -1)
}

// Resend drops the active session's messages from index on and sends the
// user message that was at index again.
func (c *Controller) Resend(ctx context.Context, index int) (*models.Session, error) {
	c.mu.Lock()
	s := c.findLocked(c.activeID)
	if s == nil {
		c.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if index < 0 || index >= len(s.Messages) {
		c.mu.Unlock()
		return nil, ErrInvalidIndex
	}
	m := s.Messages[index].Clone()
	c.mu.Unlock()
	if m.Role != models.RoleUser {
		return nil, ErrNotUserMessage
	}
	return c.send(ctx, Input{Text: m.Text, Attachments: m.Attachments, Hidden: m.IsHidden}, index)
}

func (c *Controller) send(ctx context.Context, in Input, truncateAt int) (*models.Session, error) {
	c.mu.Lock()
	if !c.settings.Configured() {
		c.mu.Unlock()
		return nil, ErrNoCredential
	}
	if c.flight != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	s := c.findLocked(c.activeID)
	if s == nil {
		s = c.newSessionLocked()
	}
	msgs := s.Messages
	if truncateAt >= 0 && truncateAt <= len(msgs) {
		msgs = msgs[:truncateAt]
	}
	user := models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleUser,
		Text:        in.Text,
		IsHidden:    in.Hidden,
		Attachments: in.Attachments,
		ModelID:     c.model,
	}
	next := make([]models.Message, 0, len(msgs)+2)
	next = append(next, msgs...)
	next = append(next, user)
	c.setMessagesLocked(s, next)

	placeholder := models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleModel,
		IsStreaming: true,
		ModelID:     c.model,
	}
	s.Messages = append(s.Messages, placeholder)

	sctx, cancel := context.WithCancel(ctx)
	fl := &inflight{
		sessionID: s.ID,
		msgID:     placeholder.ID,
		model:     c.model,
		cancel:    cancel,
		observe:   observerFrom(ctx),
	}
	c.flight = fl
	apiKey := c.settings.APIKey
	sessionID := s.ID
	c.mu.Unlock()

	// the send owns its state once the user message is in
	persistCtx := context.WithoutCancel(ctx)
	defer c.finish(fl)

	// persist logs its own failure; the send carries on in memory
	_ = c.persist(persistCtx)
	c.publishFlight(fl, Event{Kind: EventMessage, SessionID: sessionID, Message: &user})
	c.publishFlight(fl, Event{Kind: EventUpdate, SessionID: sessionID, Message: &placeholder})

	debug.Logf("chat send session=%d model=%s attachments=%d", sessionID, fl.model, len(in.Attachments))
	seq, err := c.client.Send(sctx, completion.Request{
		Text:        in.Text,
		Attachments: in.Attachments,
		ModelID:     fl.model,
		APIKey:      apiKey,
	})
	if err == nil {
		err = c.consume(fl, seq)
	}
	c.settle(fl, err)
	if err := c.persist(persistCtx); err != nil {
		log.Printf("chat send session=%d: reply kept in memory only", sessionID)
	}
	return c.Session(sessionID)
}

// consume drains the stream, publishing throttled snapshots. The stop flag
// is checked once per element.
func (c *Controller) consume(fl *inflight, seq iter.Seq2[string, error]) error {
	limiter := rate.Sometimes{Interval: c.throttle}
	for chunk, err := range seq {
		c.mu.Lock()
		if fl.stopped {
			c.mu.Unlock()
			return nil
		}
		if err != nil {
			c.mu.Unlock()
			return err
		}
		fl.buf.WriteString(chunk)
		text := fl.buf.String()
		c.mu.Unlock()
		debug.Logf("chat chunk session=%d bytes=%d", fl.sessionID, len(chunk))
		limiter.Do(func() {
			c.patch(fl, func(m *models.Message) { m.Text = text })
		})
	}
	return nil
}

// settle moves the placeholder to its terminal state unless Stop already did.
func (c *Controller) settle(fl *inflight, err error) {
	c.mu.Lock()
	if fl.stopped {
		c.mu.Unlock()
		return
	}
	fl.stopped = true
	text := fl.buf.String()
	switched := ""
	var final func(m *models.Message)
	switch {
	case err == nil:
		final = func(m *models.Message) {
			m.Text = text
			m.IsStreaming = false
		}
	case IsQuotaError(err) && catalog.IsTopTier(fl.model):
		log.Printf("quota exhausted on %s, switching to %s: %v", fl.model, catalog.Fallback, err)
		if c.model == fl.model {
			c.model = catalog.Fallback
			switched = catalog.Fallback
		}
		final = func(m *models.Message) {
			m.Text = QuotaNotice
			m.IsStreaming = false
			m.Error = true
		}
	default:
		log.Printf("chat stream error: %v", err)
		final = func(m *models.Message) {
			m.Text = text + ConnectionErrorSuffix
			m.IsStreaming = false
			m.Error = true
		}
	}
	ev, ok := c.patchLocked(fl, final)
	c.mu.Unlock()
	if ok {
		c.publishFlight(fl, ev)
	}
	if switched != "" {
		c.publish(Event{Kind: EventModel, Model: switched})
	}
}

// Stop finalizes the in-flight placeholder with what has arrived so far
// plus StopMarker and cancels the request. It reports whether anything was
// running.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	fl := c.flight
	if fl == nil || fl.stopped {
		c.mu.Unlock()
		return false
	}
	fl.stopped = true
	text := fl.buf.String() + StopMarker
	ev, ok := c.patchLocked(fl, func(m *models.Message) {
		m.Text = text
		m.IsStreaming = false
	})
	c.mu.Unlock()
	fl.cancel()
	if ok {
		c.publishFlight(fl, ev)
	}
	if err := c.persist(context.Background()); err != nil {
		log.Printf("chat stop: stopped reply kept in memory only")
	}
	return true
}

func (c *Controller) finish(fl *inflight) {
	fl.cancel()
	c.mu.Lock()
	if c.flight == fl {
		c.flight = nil
	}
	c.mu.Unlock()
	c.publish(Event{Kind: EventIdle, SessionID: fl.sessionID})
}

// abortFlightLocked ends the running send as Stop would, without
// publishing. The placeholder may already be gone with its session.
func (c *Controller) abortFlightLocked() {
	fl := c.flight
	if fl == nil || fl.stopped {
		return
	}
	fl.stopped = true
	text := fl.buf.String() + StopMarker
	c.patchLocked(fl, func(m *models.Message) {
		m.Text = text
		m.IsStreaming = false
	})
	fl.cancel()
}

func (c *Controller) patch(fl *inflight, fn func(m *models.Message)) {
	c.mu.Lock()
	if fl.stopped {
		c.mu.Unlock()
		return
	}
	ev, ok := c.patchLocked(fl, fn)
	c.mu.Unlock()
	if ok {
		c.publishFlight(fl, ev)
	}
}

// patchLocked applies fn to the placeholder. Writes to a session or message
// that no longer exists are dropped.
func (c *Controller) patchLocked(fl *inflight, fn func(m *models.Message)) (Event, bool) {
	s := c.findLocked(fl.sessionID)
	if s == nil {
		return Event{}, false
	}
	for i := range s.Messages {
		if s.Messages[i].ID != fl.msgID {
			continue
		}
		fn(&s.Messages[i])
		c.touchLocked(s)
		m := s.Messages[i].Clone()
		return Event{Kind: EventUpdate, SessionID: s.ID, Message: &m}, true
	}
	return Event{}, false
}
