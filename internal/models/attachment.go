package models

import (
	"encoding/base64"
	"strings"
)

// AttachmentType is the coarse media class of an attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentPDF   AttachmentType = "pdf"
	AttachmentOther AttachmentType = "other"
)

// Attachment is a user-selected file. Data holds the base64 payload, the
// only part that reaches the completion backend.
type Attachment struct {
	ID         string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	MIMEType   string         `json:"mimeType" yaml:"mimeType"`
	Type       AttachmentType `json:"type" yaml:"type"`
	PreviewURL string         `json:"previewUrl,omitempty" yaml:"previewUrl,omitempty"`
	Data       string         `json:"data" yaml:"data"`
}

// Bytes decodes the base64 payload.
func (a Attachment) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Data)
}

// ClassifyMIME maps a MIME type to an AttachmentType.
func ClassifyMIME(mime string) AttachmentType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return AttachmentImage
	case strings.HasPrefix(mime, "audio/"):
		return AttachmentAudio
	case strings.HasPrefix(mime, "application/pdf"):
		return AttachmentPDF
	default:
		return AttachmentOther
	}
}
