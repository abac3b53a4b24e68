// Package transfer exports and imports the sessions document.
package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gemchat/internal/models"

	"gopkg.in/yaml.v3"
)

// Filename is the name offered for a JSON export download.
const Filename = "gemini-chat-history.json"

type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "md"
)

var (
	ErrNotArray      = errors.New("import file must contain a JSON array of sessions")
	ErrUnknownFormat = errors.New("unknown export format")
)

// ParseFormat accepts the names and common aliases of the export formats.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, name)
	}
}

// FileName returns the download name for a format.
func (f Format) FileName() string {
	base := strings.TrimSuffix(Filename, ".json")
	return base + "." + string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// Export writes sessions in the given format. Only JSON can be imported back.
func Export(w io.Writer, sessions []*models.Session, format Format) error {
	if sessions == nil {
		sessions = []*models.Session{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sessions); err != nil {
			return fmt.Errorf("encode json export: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(sessions); err != nil {
			return fmt.Errorf("encode yaml export: %w", err)
		}
		return enc.Close()
	case FormatMarkdown:
		_, err := io.WriteString(w, renderMarkdown(sessions))
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// Import parses a JSON export. Only the top-level shape is checked.
func Import(r io.Reader) ([]*models.Session, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import: %w", err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotArray
	}
	var sessions []*models.Session
	if err := json.Unmarshal(trimmed, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArray, err)
	}
	out := sessions[:0]
	for _, s := range sessions {
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func renderMarkdown(sessions []*models.Session) string {
	var b strings.Builder
	b.WriteString("# Chat history\n")
	for _, s := range sessions {
		fmt.Fprintf(&b, "\n## %s\n\n", s.Title)
		fmt.Fprintf(&b, "_Updated %s_\n", time.UnixMilli(s.UpdatedAt).UTC().Format(time.RFC3339))
		for _, m := range s.Visible() {
			who := "You"
			if m.Role == models.RoleModel {
				who = "Model"
				if m.ModelID != "" {
					who += " (" + m.ModelID + ")"
				}
			}
			fmt.Fprintf(&b, "\n**%s**\n\n%s\n", who, m.Text)
			for _, a := range m.Attachments {
				fmt.Fprintf(&b, "\n- attachment: %s (%s)\n", a.Name, a.MIMEType)
			}
		}
	}
	return b.String()
}
