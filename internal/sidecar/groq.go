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

const groqBaseURL = "https://api.groq.com/openai/v1"

// Groq adapts Groq's chat-completions endpoint. Grounded on
// original_source/groq/groq/src/lib.rs: same Bearer-auth shape as OpenAI but
// a distinct base URL and no embeddings endpoint exposed by that source, so
// Embed is unsupported here (see SPEC_FULL.md §7).
type Groq struct {
	baseURL string
	client  *http.Client
}

func NewGroq() *Groq {
	return &Groq{baseURL: groqBaseURL, client: cleanhttp.DefaultPooledClient()}
}

func (g *Groq) Timeout() time.Duration { return oaiCompatibleTimeout }

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type groqChatParams struct {
	Model    string        `json:"model"`
	Messages []groqMessage `json:"messages"`
}

type groqChoice struct {
	Message groqMessage `json:"message"`
}

type groqChatResponse struct {
	Choices []groqChoice `json:"choices"`
}

func (g *Groq) Chat(ctx context.Context, req ChatRequest) (string, error) {
	params := groqChatParams{
		Model:    req.Model,
		Messages: []groqMessage{{Role: "user", Content: req.Prompt}},
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &Error{Kind: KindAuthorization, Message: fmt.Sprintf("groq: %s", data)}
	}
	if resp.StatusCode >= 300 {
		return "", &Error{Kind: KindUpstream, Message: fmt.Sprintf("groq: status %d: %s", resp.StatusCode, data)}
	}
	var out groqChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &Error{Kind: KindUpstream, Message: err.Error()}
	}
	if len(out.Choices) == 0 {
		return "", &Error{Kind: KindUpstream, Message: "groq: empty choices"}
	}
	return out.Choices[0].Message.Content, nil
}

func (g *Groq) Embed(ctx context.Context, req EmbedRequest) ([]float64, error) {
	return nil, ErrUnsupported
}
