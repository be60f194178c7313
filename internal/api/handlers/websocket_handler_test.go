package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantsage/backend/internal/query"
)

// fakeConn feeds queued client messages to ReadJSON. Closing in simulates
// the client going away.
type fakeConn struct {
	in chan string

	mu      sync.Mutex
	written []map[string]any
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan string, 4)}
}

func (c *fakeConn) ReadJSON(v any) error {
	raw, ok := <-c.in
	if !ok {
		return errors.New("connection reset by peer")
	}
	return json.Unmarshal([]byte(raw), v)
}

func (c *fakeConn) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, m)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.written {
		out = append(out, m["type"].(string))
	}
	return out
}

// blockingAsker holds every query until its context ends.
type blockingAsker struct {
	started   chan struct{}
	cancelled chan error
}

func (b *blockingAsker) Ask(ctx context.Context, _ query.Request) (*query.Response, error) {
	close(b.started)
	<-ctx.Done()
	b.cancelled <- ctx.Err()
	return nil, ctx.Err()
}

func TestWebSocket_StreamsAnswer(t *testing.T) {
	conn := newFakeConn()
	h := NewWebSocketHandler(&fakeAsker{})

	conn.in <- `{"type":"ping"}`
	conn.in <- `{"type":"query","query":"conditioner temp?"}`
	close(conn.in)
	h.serve(conn)

	types := conn.types()
	require.NotEmpty(t, types)
	assert.Equal(t, "status", types[0])
	assert.Equal(t, "complete", types[len(types)-1])
	assert.Contains(t, types, "chunk")
	assert.True(t, conn.closed)
}

func TestWebSocket_DisconnectCancelsQuery(t *testing.T) {
	conn := newFakeConn()
	asker := &blockingAsker{started: make(chan struct{}), cancelled: make(chan error, 1)}
	h := NewWebSocketHandler(asker)

	done := make(chan struct{})
	go func() {
		h.serve(conn)
		close(done)
	}()

	conn.in <- `{"type":"query","query":"vibration limit?"}`
	select {
	case <-asker.started:
	case <-time.After(2 * time.Second):
		t.Fatal("query never reached the engine")
	}

	close(conn.in)

	select {
	case err := <-asker.cancelled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("engine context was not cancelled after disconnect")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after disconnect")
	}
	assert.NotContains(t, conn.types(), "error")
}
