package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/achneerov/algolounge-voice/internal/core"
	"github.com/achneerov/algolounge-voice/internal/telemetry"
)

// EventHandler receives the raw params of a server-pushed event.
type EventHandler func(params json.RawMessage)

type pendingCall struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Channel is the authenticated bidirectional signaling channel to the voice
// namespace. Requests get exactly one correlated ack; unsolicited events are
// fanned out to registered handlers in arrival order by a single read loop.
type Channel struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]*pendingCall
	handlers map[string][]EventHandler
	closed   bool
}

// Dial opens the channel. An empty token fails fast with ErrNoAuthToken
// before any dial attempt.
func Dial(ctx context.Context, endpoint, token string) (*Channel, error) {
	if token == "" {
		return nil, core.ErrNoAuthToken
	}

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling channel: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	ch := &Channel{
		conn:     conn,
		pending:  make(map[string]*pendingCall),
		handlers: make(map[string][]EventHandler),
	}

	go ch.readLoop()

	return ch, nil
}

// On registers a handler for a server-pushed event. Multiple handlers may be
// registered for the same event name.
func (c *Channel) On(event string, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[event] = append(c.handlers[event], handler)
}

// Request sends a named request and blocks until its correlated ack arrives,
// the context is done, or the channel closes. An ack carrying {error} is
// returned as *core.SignalError. A late ack for an abandoned request is
// discarded by the read loop.
func (c *Channel) Request(ctx context.Context, method string, params, result interface{}) error {
	call := &pendingCall{done: make(chan struct{})}
	id := uuid.New().String()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrChannelClosed
	}
	c.pending[id] = call
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(id, method, params); err != nil {
		telemetry.ServiceOperationCounter.WithLabelValues("signaling_request", "error", "write").Add(1)
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.done:
	}

	if call.err != nil {
		telemetry.ServiceOperationCounter.WithLabelValues("signaling_request", "error", "ack").Add(1)
		return call.err
	}

	telemetry.ServiceOperationCounter.WithLabelValues("signaling_request", "success", "").Add(1)

	if result != nil && len(call.result) > 0 {
		if err := json.Unmarshal(call.result, result); err != nil {
			return fmt.Errorf("decode %q ack: %w", method, err)
		}
	}

	return nil
}

// Close releases the socket and rejects every request still in flight. It is
// idempotent and never fails on a channel that is already closed.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()
	_ = c.conn.Close()

	for _, call := range pending {
		call.err = core.ErrChannelClosed
		close(call.done)
	}
}

func (c *Channel) write(id, method string, params interface{}) error {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %q params: %w", method, err)
		}
		raw = encoded
	}

	payload, err := json.Marshal(envelope{
		Version: jsonRpcVersion,
		ID:      id,
		Method:  method,
		Params:  raw,
	})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %q: %w", method, err)
	}

	return nil
}

func (c *Channel) readLoop() {
	defer c.Close()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.Debug().Err(err).Str("service", "signaling").Msg("read loop stopped")
			}
			return
		}

		msg := &envelope{}
		if err := json.Unmarshal(payload, msg); err != nil {
			log.Error().Err(err).Str("service", "signaling").Msg("malformed frame")
			continue
		}

		if msg.ID != "" {
			c.resolve(msg)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Channel) resolve(msg *envelope) {
	c.mu.Lock()
	call, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		// The request was abandoned; its outcome no longer matters.
		log.Debug().Str("service", "signaling").Str("id", msg.ID).Msg("discard late ack")
		return
	}

	if msg.Error != "" {
		call.err = &core.SignalError{Method: msg.Method, Reason: msg.Error}
	} else {
		call.result = msg.Result
	}
	close(call.done)
}

func (c *Channel) dispatch(msg *envelope) {
	c.mu.Lock()
	handlers := make([]EventHandler, len(c.handlers[msg.Method]))
	copy(handlers, c.handlers[msg.Method])
	c.mu.Unlock()

	if len(handlers) == 0 {
		log.Debug().Str("service", "signaling").Str("event", msg.Method).Msg("unhandled event")
		return
	}

	for _, handler := range handlers {
		handler(msg.Params)
	}
}
