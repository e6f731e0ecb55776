// Package inference provides clients for the code generation service. The
// primary client speaks newline-delimited JSON over a persistent TCP
// connection to an edge inference endpoint; a cloud-backed fallback
// implements the same contract.
package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// Client is the contract for a generation backend. Implementations must
// resolve every Send exactly once: with a response, a timeout, a transport
// failure, or a cancellation.
type Client interface {
	// Send transmits a request and blocks until its correlated response
	// arrives, the timeout elapses, or ctx is cancelled.
	Send(ctx context.Context, req *models.InferenceRequest, timeout time.Duration) (*models.InferenceResponse, error)

	// Cancel abandons an in-flight request by correlation id. The waiting
	// Send call unblocks with a cancellation error.
	Cancel(requestID string)

	// Available reports whether the backend is believed able to serve
	// requests right now.
	Available() bool

	Close() error
}

// Dialer establishes the underlying connection. Swappable in tests.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

func defaultDialer(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", address)
}

// maxFrameBytes bounds a single inbound line. Generated code for one file
// comfortably fits; anything larger indicates a corrupt stream.
const maxFrameBytes = 8 << 20

type pendingResult struct {
	resp *models.InferenceResponse
	err  error
}

// EdgeClient talks to a local inference server over one persistent TCP
// connection. All requests share the connection; responses are matched to
// waiters strictly by request id, so out-of-order completion is fine.
type EdgeClient struct {
	address          string
	dial             Dialer
	reconnectRetries int
	reconnectDelay   time.Duration
	log              zerolog.Logger

	mu        sync.Mutex
	conn      net.Conn
	pending   map[string]chan pendingResult
	service   string
	closed    bool
	readerGen int
}

// EdgeOption configures an EdgeClient.
type EdgeOption func(*EdgeClient)

// WithDialer overrides how the client reaches the endpoint.
func WithDialer(d Dialer) EdgeOption {
	return func(c *EdgeClient) { c.dial = d }
}

// WithReconnect sets the bounded retry policy used when the channel is down.
func WithReconnect(retries int, delay time.Duration) EdgeOption {
	return func(c *EdgeClient) {
		c.reconnectRetries = retries
		c.reconnectDelay = delay
	}
}

// WithLogger attaches a logger to the client.
func WithLogger(log zerolog.Logger) EdgeOption {
	return func(c *EdgeClient) { c.log = log }
}

// NewEdgeClient creates a client for the given host:port endpoint. The
// connection is established lazily on the first Send.
func NewEdgeClient(address string, opts ...EdgeOption) *EdgeClient {
	c := &EdgeClient{
		address:          address,
		dial:             defaultDialer,
		reconnectRetries: 3,
		reconnectDelay:   500 * time.Millisecond,
		log:              zerolog.Nop(),
		pending:          make(map[string]chan pendingResult),
		service:          serviceReady,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send transmits req and waits for the response carrying the same request
// id. A down channel is redialed up to the configured retry count before
// the call fails with a transport error.
func (c *EdgeClient) Send(ctx context.Context, req *models.InferenceRequest, timeout time.Duration) (*models.InferenceResponse, error) {
	if req.RequestID == "" {
		return nil, fmt.Errorf("inference: request has no request id")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("inference: client closed: %w", autoerr.ErrTransport)
	}
	if c.service == serviceOffline || c.service == serviceDegraded {
		state := c.service
		c.mu.Unlock()
		return nil, fmt.Errorf("inference: service %s: %w", state, autoerr.ErrServiceUnavailable)
	}
	ch := make(chan pendingResult, 1)
	c.pending[req.RequestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("inference: encode request: %w", err)
	}
	if err := c.write(ctx, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("inference: no response for %s within %s: %w", req.RequestID, timeout, autoerr.ErrTimeout)
	case <-ctx.Done():
		c.sendCancelFrame(req.RequestID)
		return nil, fmt.Errorf("inference: request %s: %w", req.RequestID, autoerr.ErrCancelled)
	}
}

// Cancel tells the server to abandon the request and unblocks the waiter.
func (c *EdgeClient) Cancel(requestID string) {
	c.sendCancelFrame(requestID)

	c.mu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
	if ok {
		ch <- pendingResult{err: fmt.Errorf("inference: request %s: %w", requestID, autoerr.ErrCancelled)}
	}
}

// Available reports the last known service state. Status control frames
// from the server and probe outcomes keep it current.
func (c *EdgeClient) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.service == serviceReady
}

// Ping writes a heartbeat frame. A write failure marks the service offline
// until a reconnect succeeds or a status frame says otherwise.
func (c *EdgeClient) Ping(ctx context.Context) error {
	payload, err := json.Marshal(controlFrame{Type: frameTypePing})
	if err != nil {
		return err
	}
	if err := c.write(ctx, payload); err != nil {
		c.mu.Lock()
		c.service = serviceOffline
		c.mu.Unlock()
		return err
	}
	return nil
}

// Probe attempts to restore an offline or degraded endpoint: it redials if
// needed, sends a ping, and reports whether the channel is usable again.
func (c *EdgeClient) Probe(ctx context.Context) bool {
	c.mu.Lock()
	c.service = serviceReady
	c.mu.Unlock()
	if err := c.Ping(ctx); err != nil {
		return false
	}
	return true
}

func (c *EdgeClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.failPendingLocked(fmt.Errorf("inference: client closed: %w", autoerr.ErrTransport))
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// write sends one frame, dialing or redialing the channel as needed. The
// retry budget covers both the initial connect and mid-stream failures.
func (c *EdgeClient) write(ctx context.Context, payload []byte) error {
	payload = append(payload, '\n')

	var lastErr error
	for attempt := 0; attempt <= c.reconnectRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.reconnectDelay):
			case <-ctx.Done():
				return fmt.Errorf("inference: %w", autoerr.ErrCancelled)
			}
		}

		conn, err := c.ensureConn(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		if _, err := conn.Write(payload); err != nil {
			lastErr = err
			c.dropConn(conn)
			continue
		}
		return nil
	}

	return fmt.Errorf("inference: channel down after %d attempts: %w (%v)", c.reconnectRetries+1, autoerr.ErrTransport, lastErr)
}

func (c *EdgeClient) ensureConn(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client closed")
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.address)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("client closed")
	}
	if c.conn != nil {
		// Lost the race to another writer; use the established one.
		existing := c.conn
		c.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	c.conn = conn
	c.readerGen++
	gen := c.readerGen
	c.mu.Unlock()

	c.log.Debug().Str("address", c.address).Msg("inference channel connected")
	go c.readLoop(conn, gen)
	return conn, nil
}

// dropConn discards a broken connection so the next write redials. Only the
// connection that failed is dropped; a newer one stays.
func (c *EdgeClient) dropConn(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// readLoop decodes inbound frames and routes them. Responses complete their
// pending waiter; frames with unknown correlation ids are dropped; status
// frames update availability. On stream failure all pending requests fail
// with a transport error so no waiter hangs for a response that cannot come.
func (c *EdgeClient) readLoop(conn net.Conn, gen int) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := decodeEnvelope(line)
		if err != nil {
			c.log.Warn().Err(err).Msg("discarding malformed inference frame")
			continue
		}

		switch {
		case env.RequestID != "" && env.Type == "":
			c.deliver(env)
		case env.Type == frameTypeStatus:
			c.setService(env.Service)
		case env.Type == frameTypePing:
			// Server-initiated heartbeat; the read itself is the proof
			// of liveness, nothing to do.
		default:
			c.log.Warn().Str("type", env.Type).Msg("discarding unrecognized inference frame")
		}
	}

	c.mu.Lock()
	stale := gen != c.readerGen && c.conn != nil
	if c.conn == conn {
		c.conn = nil
	}
	if !stale && !c.closed {
		c.failPendingLocked(fmt.Errorf("inference: connection lost: %w", autoerr.ErrTransport))
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *EdgeClient) deliver(env envelope) {
	var resp models.InferenceResponse
	if err := json.Unmarshal(env.raw, &resp); err != nil {
		c.log.Warn().Err(err).Str("request_id", env.RequestID).Msg("discarding undecodable response")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warn().Str("request_id", resp.RequestID).Msg("discarding response with unknown correlation id")
		return
	}
	ch <- pendingResult{resp: &resp}
}

func (c *EdgeClient) setService(state string) {
	switch state {
	case serviceReady, serviceDegraded, serviceOffline:
	default:
		c.log.Warn().Str("service", state).Msg("ignoring unknown service state")
		return
	}

	c.mu.Lock()
	prev := c.service
	c.service = state
	pending := len(c.pending)
	c.mu.Unlock()

	if prev != state {
		c.log.Info().Str("from", prev).Str("to", state).Int("in_flight", pending).Msg("inference service state changed")
	}
}

func (c *EdgeClient) sendCancelFrame(requestID string) {
	payload, err := json.Marshal(controlFrame{Type: frameTypeCancel, RequestID: requestID})
	if err != nil {
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	// Best effort: if the channel is down the server has nothing to cancel.
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		c.log.Debug().Err(err).Str("request_id", requestID).Msg("cancel frame not delivered")
	}
}

func (c *EdgeClient) failPendingLocked(err error) {
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- pendingResult{err: err}
	}
}
