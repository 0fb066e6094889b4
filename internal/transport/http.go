package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	hcuuid "github.com/hashicorp/go-uuid"

	"github.com/llmfed/dispatcher/internal/envelope"
)

// requestIDHeader carries a transport-level correlation id, distinct from
// any domain id in the envelope body — useful for tracing a send across
// logs on both ends without parsing the envelope.
const requestIDHeader = "X-Request-Id"

// HTTP is the node transport's concrete implementation: a JSON-over-HTTP
// POST to a peer's /envelope endpoint, using go-cleanhttp's pooled client so
// repeated dispatch to the same driver reuses connections the way Nomad's
// RPC clients do.
type HTTP struct {
	listen string
	client *http.Client
	log    Logger
}

// Logger is the minimal logging surface transport needs; router/driver pass
// their hclog.Logger through this so transport failures land in the same
// structured log stream as everything else.
type Logger interface {
	Error(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
}

func NewHTTP(listen string, log Logger) *HTTP {
	return &HTTP{listen: listen, client: cleanhttp.DefaultPooledClient(), log: log}
}

func (h *HTTP) Send(ctx context.Context, to envelope.Address, env envelope.Envelope, timeout time.Duration) (envelope.Envelope, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: encode: %v", ErrSendFailure, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/envelope", to.Node)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: build request: %v", ErrSendFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if reqID, err := hcuuid.GenerateUUID(); err == nil {
		req.Header.Set(requestIDHeader, reqID)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if h.log != nil {
			h.log.Warn("send failed", "to", to.String(), "err", err)
		}
		return envelope.Envelope{}, fmt.Errorf("%w: %v", ErrSendFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: read reply: %v", ErrSendFailure, err)
	}
	if resp.StatusCode >= 300 {
		return envelope.Envelope{}, fmt.Errorf("%w: status %d", ErrSendFailure, resp.StatusCode)
	}

	var reply envelope.Envelope
	if err := json.Unmarshal(data, &reply); err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: decode reply: %v", ErrSendFailure, err)
	}
	return reply, nil
}

func (h *HTTP) Serve(ctx context.Context, handler Handler) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/envelope", func(c *gin.Context) {
		var env envelope.Envelope
		if err := c.ShouldBindJSON(&env); err != nil {
			c.JSON(http.StatusBadRequest, envelope.Envelope{
				Kind: envelope.KindError,
				Body: mustMarshal(envelope.ErrorBody{Message: "malformed envelope: " + err.Error()}),
			})
			return
		}
		reply := handler(c.Request.Context(), env)
		c.JSON(http.StatusOK, reply)
	})

	srv := &http.Server{Addr: h.listen, Handler: engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
