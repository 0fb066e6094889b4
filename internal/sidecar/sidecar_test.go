package sidecar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected Authorization header: %s", got)
		}
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var params openAIChatParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if params.Model != "gpt-test" {
			t.Fatalf("unexpected model: %s", params.Model)
		}
		json.NewEncoder(w).Encode(openAIChatResponse{
			Choices: []openAIChoice{{Message: openAIMessage{Content: "hello there"}}},
		})
	}))
	defer srv.Close()

	o := NewOpenAI()
	o.baseURL = srv.URL

	got, err := o.Chat(context.Background(), ChatRequest{APIKey: "secret", Model: "gpt-test", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("got %q", got)
	}
}

func TestOpenAIChatUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid key"}`))
	}))
	defer srv.Close()

	o := NewOpenAI()
	o.baseURL = srv.URL

	_, err := o.Chat(context.Background(), ChatRequest{APIKey: "bad", Model: "gpt-test", Prompt: "hi"})
	if err == nil {
		t.Fatal("expected an error")
	}
	sideErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if sideErr.Kind != KindAuthorization {
		t.Fatalf("expected KindAuthorization, got %v", sideErr.Kind)
	}
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(openAIEmbeddingResponse{
			Data: []openAIEmbeddingData{{Embedding: []float64{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	o := NewOpenAI()
	o.baseURL = srv.URL

	got, err := o.Embed(context.Background(), EmbedRequest{APIKey: "secret", Model: "text-embedding-test", Input: "hi"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(got))
	}
}

func TestLlamaCppChatNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Fatalf("expected no Authorization header, got %s", got)
		}
		json.NewEncoder(w).Encode(llamaCppChatResponse{
			Choices: []llamaCppChoice{{Message: llamaCppMessage{Content: "local completion"}}},
		})
	}))
	defer srv.Close()

	l := NewLlamaCpp(srv.URL)
	got, err := l.Chat(context.Background(), ChatRequest{Model: "local", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "local completion" {
		t.Fatalf("got %q", got)
	}
}

func TestLlamaCppEmbedUnsupported(t *testing.T) {
	l := NewLlamaCpp("")
	if _, err := l.Embed(context.Background(), EmbedRequest{}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
