package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// SSEClient streams progress as Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  chan struct{}
	once    sync.Once
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger, closed: make(chan struct{})}
}

// Send emits a "progress" event.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return io.EOF
	}
	if _, err := fmt.Fprintf(c.writer, "event: progress\ndata: %s\n\n", payload); err != nil {
		c.log.Warn("sse send failed", "error", err)
		c.markClosed()
		return err
	}
	c.flusher.Flush()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return io.EOF
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.markClosed()
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.markClosed()
}

// Done is closed once the stream is closed by either side.
func (c *SSEClient) Done() <-chan struct{} {
	return c.closed
}

func (c *SSEClient) markClosed() {
	c.once.Do(func() { close(c.closed) })
}

func (c *SSEClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
