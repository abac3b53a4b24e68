// Package chat owns the conversation state of the client: the session list,
// the active session and model, the credential, and the send state machine
// that turns completion chunks into message updates.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"gemchat/internal/catalog"
	"gemchat/internal/completion"
	"gemchat/internal/models"
)

var (
	ErrNoCredential    = errors.New("no credential configured")
	ErrBusy            = errors.New("a reply is still streaming")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidIndex    = errors.New("message index out of range")
	ErrNotUserMessage  = errors.New("only user messages can be resent")
	ErrEmptyTitle      = errors.New("title cannot be empty")
)

const defaultThrottle = 50 * time.Millisecond

// Store persists the two documents the controller owns.
type Store interface {
	LoadSettings(ctx context.Context) (*models.UserSettings, error)
	SaveSettings(ctx context.Context, settings models.UserSettings) error
	ClearSettings(ctx context.Context) error
	LoadSessions(ctx context.Context) ([]*models.Session, error)
	SaveSessions(ctx context.Context, sessions []*models.Session) error
}

// Completer streams replies; *completion.Client implements it.
type Completer interface {
	Send(ctx context.Context, req completion.Request) (iter.Seq2[string, error], error)
	Reset()
}

type Options struct {
	// Throttle bounds how often streaming patches are published.
	Throttle time.Duration
	// DefaultModel is the model selected at startup.
	DefaultModel string
	// Now is the clock; tests pin it.
	Now func() time.Time
}

// Controller is safe for concurrent use. At most one send is in flight.
type Controller struct {
	mu       sync.Mutex
	store    Store
	client   Completer
	sessions []*models.Session
	activeID int64
	model    string
	settings *models.UserSettings
	flight   *inflight

	persistMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	throttle time.Duration
	now      func() time.Time
}

// NewController loads persisted state and makes the most recent session
// active, creating one when the store holds none.
func NewController(ctx context.Context, store Store, client Completer, opts Options) (*Controller, error) {
	c := &Controller{
		store:    store,
		client:   client,
		subs:     make(map[int]chan Event),
		throttle: opts.Throttle,
		now:      opts.Now,
		model:    catalog.Default,
	}
	if c.throttle <= 0 {
		c.throttle = defaultThrottle
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.DefaultModel != "" {
		m, ok := catalog.Lookup(opts.DefaultModel)
		if !ok {
			return nil, fmt.Errorf("%w: %s", completion.ErrUnknownModel, opts.DefaultModel)
		}
		c.model = m.ID
	}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces in-memory state with what the store holds.
func (c *Controller) Reload(ctx context.Context) error {
	settings, err := c.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	sessions, err := c.store.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	c.mu.Lock()
	c.abortFlightLocked()
	c.settings = settings
	created := c.installLocked(sessions)
	c.mu.Unlock()
	c.client.Reset()
	if created {
		if err := c.persist(ctx); err != nil {
			return err
		}
	}
	c.publish(Event{Kind: EventSessions})
	return nil
}

// installLocked adopts sessions, clearing any streaming flag a crash left
// behind. It reports whether a fresh session had to be created.
func (c *Controller) installLocked(sessions []*models.Session) bool {
	c.sessions = c.sessions[:0]
	for _, s := range sessions {
		if s == nil {
			continue
		}
		s = s.Clone()
		for i := range s.Messages {
			s.Messages[i].IsStreaming = false
		}
		c.sessions = append(c.sessions, s)
	}
	if len(c.sessions) == 0 {
		c.newSessionLocked()
		return true
	}
	c.activeID = c.mostRecentLocked().ID
	return false
}

// Sessions returns copies in display order, most recently updated first.
func (c *Controller) Sessions() []*models.Session {
	c.mu.Lock()
	out := make([]*models.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s.Clone())
	}
	c.mu.Unlock()
	sortByRecency(out)
	return out
}

func (c *Controller) Session(id int64) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.findLocked(id)
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Active returns a copy of the active session.
func (c *Controller) Active() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(c.activeID).Clone()
}

// SetActive switches sessions. The completion handle is reset so the
// backend does not carry context from one thread into another.
func (c *Controller) SetActive(id int64) error {
	c.mu.Lock()
	if c.findLocked(id) == nil {
		c.mu.Unlock()
		return ErrSessionNotFound
	}
	changed := c.activeID != id
	c.activeID = id
	c.mu.Unlock()
	if changed {
		c.client.Reset()
		c.publish(Event{Kind: EventSessions, SessionID: id})
	}
	return nil
}

func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// SetModel selects a catalog model. The canonical catalog id is stored.
func (c *Controller) SetModel(id string) error {
	m, ok := catalog.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", completion.ErrUnknownModel, id)
	}
	c.mu.Lock()
	c.model = m.ID
	c.mu.Unlock()
	c.publish(Event{Kind: EventModel, Model: m.ID})
	return nil
}

// Loading reports whether a send is in flight.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flight != nil
}

// Settings returns a copy of the credential record, or nil.
func (c *Controller) Settings() *models.UserSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settings == nil {
		return nil
	}
	s := *c.settings
	return &s
}

func (c *Controller) SaveSettings(ctx context.Context, settings models.UserSettings) error {
	if err := c.store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	c.mu.Lock()
	c.settings = &settings
	c.mu.Unlock()
	return nil
}

// SignOut forgets the credential and the live conversation. Sessions stay.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.abortFlightLocked()
	c.settings = nil
	c.mu.Unlock()
	c.client.Reset()
	if err := c.store.ClearSettings(ctx); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return c.persist(ctx)
}

// CreateSession puts a new empty session at the head and makes it active.
func (c *Controller) CreateSession(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	s := c.newSessionLocked()
	out := s.Clone()
	c.mu.Unlock()
	c.client.Reset()
	if err := c.persist(ctx); err != nil {
		return nil, err
	}
	c.publish(Event{Kind: EventSessions, SessionID: out.ID})
	return out, nil
}

// DeleteSession removes a session and persists before returning. A send
// streaming into it is cancelled.
func (c *Controller) DeleteSession(ctx context.Context, id int64) error {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return ErrSessionNotFound
	}
	if c.flight != nil && c.flight.sessionID == id {
		c.abortFlightLocked()
	}
	c.sessions = append(c.sessions[:idx], c.sessions[idx+1:]...)
	reset := false
	if c.activeID == id {
		if len(c.sessions) == 0 {
			c.newSessionLocked()
		} else {
			c.activeID = c.mostRecentLocked().ID
		}
		reset = true
	}
	c.mu.Unlock()
	if reset {
		c.client.Reset()
	}
	if err := c.persist(ctx); err != nil {
		return err
	}
	c.publish(Event{Kind: EventSessions})
	return nil
}

func (c *Controller) UpdateTitle(ctx context.Context, id int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	c.mu.Lock()
	s := c.findLocked(id)
	if s == nil {
		c.mu.Unlock()
		return ErrSessionNotFound
	}
	s.Title = title
	c.touchLocked(s)
	c.mu.Unlock()
	if err := c.persist(ctx); err != nil {
		return err
	}
	c.publish(Event{Kind: EventSessions, SessionID: id})
	return nil
}

// AppendMessages replaces the message sequence of a session.
func (c *Controller) AppendMessages(ctx context.Context, id int64, messages []models.Message) error {
	c.mu.Lock()
	s := c.findLocked(id)
	if s == nil {
		c.mu.Unlock()
		return ErrSessionNotFound
	}
	c.setMessagesLocked(s, messages)
	c.mu.Unlock()
	if err := c.persist(ctx); err != nil {
		return err
	}
	c.publish(Event{Kind: EventSessions, SessionID: id})
	return nil
}

// DeleteMessage removes one message of the active session by position.
func (c *Controller) DeleteMessage(ctx context.Context, index int) error {
	c.mu.Lock()
	s := c.findLocked(c.activeID)
	if s == nil {
		c.mu.Unlock()
		return ErrSessionNotFound
	}
	if index < 0 || index >= len(s.Messages) {
		c.mu.Unlock()
		return ErrInvalidIndex
	}
	msgs := make([]models.Message, 0, len(s.Messages)-1)
	msgs = append(msgs, s.Messages[:index]...)
	msgs = append(msgs, s.Messages[index+1:]...)
	c.setMessagesLocked(s, msgs)
	id := s.ID
	c.mu.Unlock()
	if err := c.persist(ctx); err != nil {
		return err
	}
	c.publish(Event{Kind: EventSessions, SessionID: id})
	return nil
}

// Replace swaps the whole session list, as an import does.
func (c *Controller) Replace(ctx context.Context, sessions []*models.Session) error {
	c.mu.Lock()
	c.abortFlightLocked()
	c.installLocked(sessions)
	c.mu.Unlock()
	c.client.Reset()
	if err := c.persist(ctx); err != nil {
		return err
	}
	c.publish(Event{Kind: EventSessions})
	return nil
}

func (c *Controller) setMessagesLocked(s *models.Session, messages []models.Message) {
	derive := len(s.Messages) == 0 && s.Title == models.DefaultTitle
	s.Messages = make([]models.Message, len(messages))
	for i, m := range messages {
		s.Messages[i] = m.Clone()
	}
	if derive {
		for _, m := range s.Messages {
			if m.Role == models.RoleUser && !m.IsHidden {
				if strings.TrimSpace(m.Text) != "" {
					s.Title = DeriveTitle(m.Text)
				}
				break
			}
		}
	}
	c.touchLocked(s)
}

// touchLocked never moves updatedAt backwards, even if the clock does.
func (c *Controller) touchLocked(s *models.Session) {
	now := c.now().UnixMilli()
	if now > s.UpdatedAt {
		s.UpdatedAt = now
	}
}

func (c *Controller) newSessionLocked() *models.Session {
	id := c.now().UnixMilli()
	for c.findLocked(id) != nil {
		id++
	}
	s := &models.Session{
		ID:        id,
		Title:     models.DefaultTitle,
		Messages:  []models.Message{},
		UpdatedAt: id,
	}
	c.sessions = append([]*models.Session{s}, c.sessions...)
	c.activeID = id
	return s
}

func (c *Controller) findLocked(id int64) *models.Session {
	if i := c.indexLocked(id); i >= 0 {
		return c.sessions[i]
	}
	return nil
}

func (c *Controller) indexLocked(id int64) int {
	for i, s := range c.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) mostRecentLocked() *models.Session {
	var best *models.Session
	for _, s := range c.sessions {
		if best == nil || s.UpdatedAt > best.UpdatedAt {
			best = s
		}
	}
	return best
}

// persist writes a snapshot taken after acquiring persistMu, so concurrent
// writers land in order.
func (c *Controller) persist(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	c.mu.Lock()
	snapshot := make([]*models.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		snapshot = append(snapshot, s.Clone())
	}
	c.mu.Unlock()
	if err := c.store.SaveSessions(ctx, snapshot); err != nil {
		log.Printf("persist sessions error: %v", err)
		return fmt.Errorf("persist sessions: %w", err)
	}
	return nil
}

func sortByRecency(sessions []*models.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt > sessions[j].UpdatedAt
	})
}
