package models

import "time"

// DefaultTitle is the placeholder title of a session nobody has named yet.
const DefaultTitle = "New Chat"

// Session groups an ordered sequence of messages.
// ID and UpdatedAt are unix milliseconds.
type Session struct {
	ID        int64     `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	UpdatedAt int64     `json:"updatedAt" yaml:"updatedAt"`
}

// Clone returns a deep copy safe to hand out of the controller.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	return &out
}

// Visible returns the messages that should be rendered.
func (s *Session) Visible() []Message {
	visible := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if !m.IsHidden {
			visible = append(visible, m)
		}
	}
	return visible
}

// StreamingCount reports how many messages are still streaming.
func (s *Session) StreamingCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.IsStreaming {
			n++
		}
	}
	return n
}

// Updated returns UpdatedAt as a time.
func (s *Session) Updated() time.Time {
	return time.UnixMilli(s.UpdatedAt)
}
