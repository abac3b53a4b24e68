package completion

import (
	"context"
	"fmt"
	"iter"

	"gemchat/internal/config"

	"google.golang.org/genai"
)

// geminiConversation wraps a genai chat, which keeps its own history.
type geminiConversation struct {
	chat *genai.Chat
}

func newGeminiConversation(ctx context.Context, modelID, apiKey string, pc config.ProviderConfig) (Conversation, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if pc.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: pc.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	chat, err := client.Chats.Create(ctx, modelID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create gemini chat: %w", err)
	}
	return &geminiConversation{chat: chat}, nil
}

func (g *geminiConversation) Stream(ctx context.Context, parts []Part) iter.Seq2[string, error] {
	gparts := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.isText() {
			gparts = append(gparts, genai.Part{Text: p.Text})
			continue
		}
		gparts = append(gparts, genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Data}})
	}
	return func(yield func(string, error) bool) {
		for resp, err := range g.chat.SendMessageStream(ctx, gparts...) {
			if err != nil {
				yield("", err)
				return
			}
			if resp == nil {
				continue
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}
