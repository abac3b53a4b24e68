package completion

import (
	"fmt"

	"gemchat/internal/models"
)

// Part is one piece of a multimodal user turn. Data is nil for text.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

func (p Part) isText() bool {
	return p.Data == nil
}

// buildParts puts every attachment before the trailing text. Without
// attachments the turn is just the text.
func buildParts(text string, attachments []models.Attachment) ([]Part, error) {
	if len(attachments) == 0 {
		return []Part{{Text: text}}, nil
	}
	parts := make([]Part, 0, len(attachments)+1)
	for i, att := range attachments {
		data, err := att.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%w (#%d %s)", ErrBadAttachment, i, att.Name)
		}
		if data == nil {
			data = []byte{}
		}
		mime := att.MIMEType
		if mime == "" {
			mime = "application/octet-stream"
		}
		parts = append(parts, Part{MIMEType: mime, Data: data})
	}
	if text != "" {
		parts = append(parts, Part{Text: text})
	}
	return parts, nil
}
