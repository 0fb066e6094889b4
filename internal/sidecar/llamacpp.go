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

// defaultLlamaCppURL matches the source's local llama.cpp server default
// (original_source/lccp/lccp/src/lib.rs hardcodes 127.0.0.1:3000).
const defaultLlamaCppURL = "http://127.0.0.1:3000"

// LlamaCpp adapts a local llama.cpp server's OpenAI-compatible chat
// endpoint. No API key is sent, matching the source (local-only, no auth
// header at all).
type LlamaCpp struct {
	baseURL string
	client  *http.Client
}

func NewLlamaCpp(baseURL string) *LlamaCpp {
	if baseURL == "" {
		baseURL = defaultLlamaCppURL
	}
	return &LlamaCpp{baseURL: baseURL, client: cleanhttp.DefaultPooledClient()}
}

func (l *LlamaCpp) Timeout() time.Duration { return oaiCompatibleTimeout }

type llamaCppMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llamaCppChatParams struct {
	Model    string            `json:"model"`
	Messages []llamaCppMessage `json:"messages"`
}

type llamaCppChoice struct {
	Message llamaCppMessage `json:"message"`
}

type llamaCppChatResponse struct {
	Choices []llamaCppChoice `json:"choices"`
}

func (l *LlamaCpp) Chat(ctx context.Context, req ChatRequest) (string, error) {
	params := llamaCppChatParams{
		Model:    req.Model,
		Messages: []llamaCppMessage{{Role: "user", Content: req.Prompt}},
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindTransport, Message: err.Error()}
	}
	if resp.StatusCode >= 300 {
		return "", &Error{Kind: KindUpstream, Message: fmt.Sprintf("llamacpp: status %d: %s", resp.StatusCode, data)}
	}
	var out llamaCppChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &Error{Kind: KindUpstream, Message: err.Error()}
	}
	if len(out.Choices) == 0 {
		return "", &Error{Kind: KindUpstream, Message: "llamacpp: empty choices"}
	}
	return out.Choices[0].Message.Content, nil
}

func (l *LlamaCpp) Embed(ctx context.Context, req EmbedRequest) ([]float64, error) {
	return nil, ErrUnsupported
}
