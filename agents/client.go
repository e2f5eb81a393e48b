// Package agents provides LLM-backed implementations of the planner,
// producer, and reviewer collaborator contracts. All three share a Client
// that wraps the Anthropic API and keeps per-session conversation history so
// a session token round-trips to a prior conversation.
package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.jetify.com/typeid"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

const defaultMaxTokens = 8192

// ClientOptions configures a Client.
type ClientOptions struct {
	// APIKey authenticates with the Anthropic API. Empty falls back to the
	// ANTHROPIC_API_KEY environment variable.
	APIKey string

	Model     string
	MaxTokens int
}

// Client wraps the Anthropic API with session continuity. A session is an
// opaque token mapping to the accumulated message history of one
// conversation; an empty token starts a fresh conversation. Sessions are
// process-local and are not persisted.
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64

	mutex    sync.Mutex
	sessions map[string][]anthropic.MessageParam
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) *Client {
	var requestOpts []option.RequestOption
	if opts.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(opts.APIKey))
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		api:       anthropic.NewClient(requestOpts...),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
		sessions:  map[string][]anthropic.MessageParam{},
	}
}

func newSessionToken() string {
	id, err := typeid.WithPrefix("sess")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// send appends the prompt to the session's history, calls the API, and
// returns the assistant text plus the token identifying the continued
// session. An empty sessionToken starts a new session.
func (c *Client) send(ctx context.Context, system, prompt, sessionToken string) (string, string, error) {
	c.mutex.Lock()
	history := c.sessions[sessionToken]
	c.mutex.Unlock()

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return "", "", fmt.Errorf("anthropic api call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	token := sessionToken
	if token == "" {
		token = newSessionToken()
	}
	c.mutex.Lock()
	c.sessions[token] = append(messages, message.ToParam())
	c.mutex.Unlock()

	return text.String(), token, nil
}

// DropSession discards a session's history.
func (c *Client) DropSession(token string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.sessions, token)
}
