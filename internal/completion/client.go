// Package completion talks to the hosted model APIs.
//
// A Client keeps exactly one live conversation, keyed by model id and
// credential. Reusing it lets the backend carry context across turns;
// switching either key drops that context.
package completion

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"gemchat/internal/catalog"
	"gemchat/internal/config"
	"gemchat/internal/debug"
	"gemchat/internal/models"
)

var (
	ErrNoCredential   = errors.New("api key not configured")
	ErrUnknownModel   = errors.New("unknown model")
	ErrStreamConsumed = errors.New("stream already consumed")
	ErrBadAttachment  = errors.New("attachment payload is not valid base64")
	errNoConversation = errors.New("conversation backend unavailable")
)

// Conversation is one context-carrying chat with a backend.
type Conversation interface {
	Stream(ctx context.Context, parts []Part) iter.Seq2[string, error]
}

// Request is a single user turn.
type Request struct {
	Text        string
	Attachments []models.Attachment
	ModelID     string
	APIKey      string
}

type conversationFactoryFunc func(ctx context.Context, m catalog.Model, apiKey string, pc config.ProviderConfig) (Conversation, error)

// conversationFactory is swapped in tests.
var conversationFactory conversationFactoryFunc = openConversation

func openConversation(ctx context.Context, m catalog.Model, apiKey string, pc config.ProviderConfig) (Conversation, error) {
	switch m.Provider {
	case catalog.ProviderGemini:
		return newGeminiConversation(ctx, m.ID, apiKey, pc)
	case catalog.ProviderOpenAI:
		return newOpenAIConversation(ctx, m.ID, apiKey, pc)
	case catalog.ProviderClaude:
		return newClaudeConversation(ctx, m.ID, apiKey, pc)
	default:
		return nil, fmt.Errorf("invalid provider: %s", m.Provider)
	}
}

type handle struct {
	modelID string
	apiKey  string
	conv    Conversation
}

// Client owns the live completion handle.
type Client struct {
	mu        sync.Mutex
	providers map[string]config.ProviderConfig
	handle    *handle
}

// NewClient builds a client; providers may override endpoint and key.
func NewClient(providers map[string]config.ProviderConfig) *Client {
	return &Client{providers: providers}
}

// Send streams the reply to one user turn. The returned sequence is lazy,
// finite and may be ranged over only once.
func (c *Client) Send(ctx context.Context, req Request) (iter.Seq2[string, error], error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, ErrNoCredential
	}
	m, ok := catalog.Lookup(req.ModelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, req.ModelID)
	}
	parts, err := buildParts(req.Text, req.Attachments)
	if err != nil {
		return nil, err
	}
	conv, err := c.conversation(ctx, m, req.APIKey)
	if err != nil {
		return nil, err
	}
	debug.Logf("completion send model=%s parts=%d", m.ID, len(parts))
	return once(conv.Stream(ctx, parts)), nil
}

// Reset discards the live handle; the next Send starts a new conversation.
func (c *Client) Reset() {
	c.mu.Lock()
	c.handle = nil
	c.mu.Unlock()
}

// activeModel reports the model of the live handle, if any.
func (c *Client) activeModel() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return "", false
	}
	return c.handle.modelID, true
}

// conversation recreates the handle when model or key changed.
func (c *Client) conversation(ctx context.Context, m catalog.Model, apiKey string) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h := c.handle; h != nil && h.modelID == m.ID && h.apiKey == apiKey {
		return h.conv, nil
	}
	pc := c.providers[string(m.Provider)]
	key := apiKey
	switch {
	case pc.APIKey != "":
		key = pc.APIKey
	case m.Provider != catalog.ProviderGemini:
		// the onboarding key is a Gemini key; never hand it to another vendor
		return nil, fmt.Errorf("%w for %s: set providers.%s.api_key", ErrNoCredential, m.Provider, m.Provider)
	}
	conv, err := conversationFactory(ctx, m, key, pc)
	if err != nil {
		return nil, fmt.Errorf("open %s conversation: %w", m.ID, err)
	}
	if conv == nil {
		return nil, errNoConversation
	}
	c.handle = &handle{modelID: m.ID, apiKey: apiKey, conv: conv}
	return conv, nil
}

func once(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var mu sync.Mutex
	used := false
	return func(yield func(string, error) bool) {
		mu.Lock()
		if used {
			mu.Unlock()
			yield("", ErrStreamConsumed)
			return
		}
		used = true
		mu.Unlock()
		seq(yield)
	}
}
