package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/llmfed/dispatcher/internal/envelope"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

func TestHTTPSendAndServeRoundTrip(t *testing.T) {
	addr := freePort(t)
	srv := NewHTTP(addr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, func(_ context.Context, env envelope.Envelope) envelope.Envelope {
			var body envelope.RunJobBody
			if err := env.Decode(&body); err != nil {
				t.Errorf("decode inbound body: %v", err)
			}
			return envelope.New(envelope.KindClientRunJobResult, envelope.Address{Node: addr}, envelope.RunJobResultBody{JobID: 42})
		})
	}()

	waitForListener(t, addr)

	client := NewHTTP("", nil)
	req := envelope.New(envelope.KindClientRunJob, envelope.Address{Node: "client1"}, envelope.RunJobBody{
		Job: envelope.JobSpec{Model: "test-model", Prompt: "hi"},
	})
	reply, err := client.Send(context.Background(), envelope.Address{Node: addr}, req, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var result envelope.RunJobResultBody
	if err := reply.Decode(&result); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if result.JobID != 42 {
		t.Fatalf("expected job id 42, got %d", result.JobID)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Serve returned: %v", err)
	}
}

func TestHTTPSendToNothingFails(t *testing.T) {
	client := NewHTTP("", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := client.Send(ctx, envelope.Address{Node: "127.0.0.1:1"}, envelope.Envelope{}, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected a send failure against an unreachable address")
	}
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server on %s never came up", addr)
}
