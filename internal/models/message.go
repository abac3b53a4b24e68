package models

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of a session's history.
//
// A model message starts empty with IsStreaming set and grows by
// concatenation until it is finalized or flagged with Error.
type Message struct {
	ID          string       `json:"id" yaml:"id"`
	Role        Role         `json:"role" yaml:"role"`
	Text        string       `json:"text" yaml:"text"`
	IsStreaming bool         `json:"isStreaming,omitempty" yaml:"isStreaming,omitempty"`
	Error       bool         `json:"error,omitempty" yaml:"error,omitempty"`
	IsHidden    bool         `json:"isHidden,omitempty" yaml:"isHidden,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	ModelID     string       `json:"modelId,omitempty" yaml:"modelId,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		atts := make([]Attachment, len(m.Attachments))
		copy(atts, m.Attachments)
		m.Attachments = atts
	}
	return m
}
