package completion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"gemchat/internal/config"
	"gemchat/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const claudeMaxTokens = 4096

// einoConversation drives an eino chat model and replays the history
// itself on every turn.
type einoConversation struct {
	chatModel model.BaseChatModel
	mu        sync.Mutex
	history   []*schema.Message
}

func newOpenAIConversation(ctx context.Context, modelID, apiKey string, pc config.ProviderConfig) (Conversation, error) {
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: pc.BaseURL,
		Model:   modelID,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init openai model: %w", err)
	}
	return &einoConversation{chatModel: cm}, nil
}

func newClaudeConversation(ctx context.Context, modelID, apiKey string, pc config.ProviderConfig) (Conversation, error) {
	var baseURLPtr *string
	if pc.BaseURL != "" {
		baseURLPtr = &pc.BaseURL
	}
	cm, err := claude.NewChatModel(ctx, &claude.Config{
		APIKey:    apiKey,
		Model:     modelID,
		BaseURL:   baseURLPtr,
		MaxTokens: claudeMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("init claude model: %w", err)
	}
	return &einoConversation{chatModel: cm}, nil
}

func (e *einoConversation) Stream(ctx context.Context, parts []Part) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		user := userMessage(parts)
		e.mu.Lock()
		input := make([]*schema.Message, 0, len(e.history)+1)
		input = append(input, e.history...)
		input = append(input, user)
		e.mu.Unlock()

		reader, err := e.chatModel.Stream(ctx, input)
		if err != nil {
			yield("", fmt.Errorf("generate stream failed: %w", err))
			return
		}
		defer reader.Close()

		var full strings.Builder
		for {
			chunk, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield("", err)
				return
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}
			full.WriteString(chunk.Content)
			if !yield(chunk.Content, nil) {
				return
			}
		}
		// only completed turns join the history
		e.mu.Lock()
		e.history = append(e.history, user, schema.AssistantMessage(full.String(), nil))
		e.mu.Unlock()
	}
}

func userMessage(parts []Part) *schema.Message {
	if len(parts) == 1 && parts[0].isText() {
		return schema.UserMessage(parts[0].Text)
	}
	multi := make([]schema.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		if p.isText() {
			multi = append(multi, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: p.Text})
			continue
		}
		url := "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
		switch models.ClassifyMIME(p.MIMEType) {
		case models.AttachmentImage:
			multi = append(multi, schema.ChatMessagePart{
				Type:     schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{URL: url, MIMEType: p.MIMEType},
			})
		case models.AttachmentAudio:
			multi = append(multi, schema.ChatMessagePart{
				Type:     schema.ChatMessagePartTypeAudioURL,
				AudioURL: &schema.ChatMessageAudioURL{URL: url, MIMEType: p.MIMEType},
			})
		default:
			multi = append(multi, schema.ChatMessagePart{
				Type:    schema.ChatMessagePartTypeFileURL,
				FileURL: &schema.ChatMessageFileURL{URL: url, MIMEType: p.MIMEType},
			})
		}
	}
	return &schema.Message{Role: schema.User, MultiContent: multi}
}
