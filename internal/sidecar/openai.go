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

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAI adapts the OpenAI chat and embeddings endpoints, grounded on the
// wire shapes the source's openai/openai process builds (Bearer auth,
// POST /chat/completions, POST /embeddings).
type OpenAI struct {
	baseURL string
	client  *http.Client
}

func NewOpenAI() *OpenAI {
	return &OpenAI{baseURL: openAIBaseURL, client: cleanhttp.DefaultPooledClient()}
}

func (o *OpenAI) Timeout() time.Duration { return oaiCompatibleTimeout }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatParams struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Seed     *uint64         `json:"seed,omitempty"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIChatResponse struct {
	Choices []openAIChoice `json:"choices"`
}

func (o *OpenAI) Chat(ctx context.Context, req ChatRequest) (string, error) {
	params := openAIChatParams{
		Model:    req.Model,
		Messages: []openAIMessage{{Role: "user", Content: req.Prompt}},
		Seed:     req.Seed,
	}
	var out openAIChatResponse
	if err := o.post(ctx, "/chat/completions", req.APIKey, params, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &Error{Kind: KindUpstream, Message: "openai: empty choices"}
	}
	return out.Choices[0].Message.Content, nil
}

type openAIEmbeddingParams struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingData struct {
	Embedding []float64 `json:"embedding"`
}

type openAIEmbeddingResponse struct {
	Data []openAIEmbeddingData `json:"data"`
}

func (o *OpenAI) Embed(ctx context.Context, req EmbedRequest) ([]float64, error) {
	params := openAIEmbeddingParams{Model: req.Model, Input: req.Input}
	var out openAIEmbeddingResponse
	if err := o.post(ctx, "/embeddings", req.APIKey, params, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, &Error{Kind: KindUpstream, Message: "openai: empty embedding data"}
	}
	return out.Data[0].Embedding, nil
}

func (o *OpenAI) post(ctx context.Context, path, apiKey string, params interface{}, out interface{}) error {
	body, err := json.Marshal(params)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Error{Kind: KindAuthorization, Message: fmt.Sprintf("openai: %s", data)}
	}
	if resp.StatusCode >= 300 {
		return &Error{Kind: KindUpstream, Message: fmt.Sprintf("openai: status %d: %s", resp.StatusCode, data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindUpstream, Message: err.Error()}
	}
	return nil
}
