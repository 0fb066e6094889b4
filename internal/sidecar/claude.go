package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

const claudeBaseURL = "https://api.anthropic.com/v1"

// Claude adapts Anthropic's messages endpoint. Grounded on
// original_source/openai/openai/src/lib.rs's CLAUDE_BASE_URL branch:
// x-api-key plus anthropic-version headers instead of Bearer auth.
type Claude struct {
	baseURL string
	client  *http.Client
}

func NewClaude() *Claude {
	return &Claude{baseURL: claudeBaseURL, client: cleanhttp.DefaultPooledClient()}
}

// Timeout is 30s: Claude's /messages shape is not the OpenAI-compatible
// chat-completions endpoint the other three adapters share.
func (c *Claude) Timeout() time.Duration { return otherTimeout }

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeChatParams struct {
	Model     string           `json:"model"`
	Messages  []claudeMessage  `json:"messages"`
	MaxTokens int              `json:"max_tokens"`
}

type claudeContentBlock struct {
	Text string `json:"text"`
}

type claudeChatResponse struct {
	Content []claudeContentBlock `json:"content"`
}

func (c *Claude) Chat(ctx context.Context, req ChatRequest) (string, error) {
	params := claudeChatParams{
		Model:     req.Model,
		Messages:  []claudeMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: 1024,
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &Error{Kind: KindAuthorization, Message: fmt.Sprintf("claude: %s", data)}
	}
	if resp.StatusCode >= 300 {
		return "", &Error{Kind: KindUpstream, Message: fmt.Sprintf("claude: status %d: %s", resp.StatusCode, data)}
	}
	var out claudeChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &Error{Kind: KindUpstream, Message: err.Error()}
	}
	if len(out.Content) == 0 {
		return "", &Error{Kind: KindUpstream, Message: "claude: empty content"}
	}
	return out.Content[0].Text, nil
}

func (c *Claude) Embed(ctx context.Context, req EmbedRequest) ([]float64, error) {
	return nil, ErrUnsupported
}
