package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/linetrace/simulator/internal/channel"
	"github.com/linetrace/simulator/pkg/streaming"
)

const (
	outboxSize     = 10_000
	ackBufferSize  = 16
	maxReconnect   = 10
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	writeWait      = 10 * time.Second
	ackTimeout     = 10 * time.Second
)

// session is one dialled connection. stop is closed when the session is
// lost or the connection shuts down.
type session struct {
	conn *ws.Conn
	stop chan struct{}
}

// connection keeps a link to the recorder alive across drops. Records queue
// in the outbox while a session is being re-established.
type connection struct {
	mu       sync.Mutex
	cur      *session
	closed   bool
	startRun []byte // replayed on every new session

	wmu sync.Mutex // one writer per conn

	outbox *channel.Outbox[[]byte]
	acks   chan streaming.AckMessage
	done   chan struct{}

	url     string
	secret  string
	backoff time.Duration

	dropped atomic.Uint64
	logger  *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		outbox:  channel.NewOutbox[[]byte](outboxSize),
		acks:    make(chan streaming.AckMessage, ackBufferSize),
		done:    make(chan struct{}),
		backoff: initialBackoff,
		logger:  logger,
	}
}

func (c *connection) dial(rawURL, secret string) error {
	c.url = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	if !c.attach(conn) {
		_ = conn.Close()
		return fmt.Errorf("connection closed")
	}
	return nil
}

func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	header := http.Header{}
	if c.secret != "" {
		header.Set("Authorization", "Bearer "+c.secret)
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// attach makes conn the live session and starts its loops.
func (c *connection) attach(conn *ws.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	s := &session{conn: conn, stop: make(chan struct{})}
	c.cur = s
	go c.readLoop(s)
	go c.writeLoop(s)
	return true
}

// lost retires s and starts one reconnect. Later reports for the same
// session are ignored.
func (c *connection) lost(s *session) {
	c.mu.Lock()
	if c.closed || c.cur != s {
		c.mu.Unlock()
		return
	}
	c.cur = nil
	close(s.stop)
	c.mu.Unlock()

	_ = s.conn.Close()
	go c.reconnect()
}

func (c *connection) write(conn *ws.Conn, msgType int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(msgType, data)
}

func (c *connection) writeLoop(s *session) {
	for {
		select {
		case <-c.done:
			return
		case <-s.stop:
			return
		case data, ok := <-c.outbox.Receive():
			if !ok {
				return
			}
			if err := c.write(s.conn, ws.TextMessage, data); err != nil {
				c.dropped.Add(1)
				c.logger.Warn("Recorder write failed", "error", err)
				c.lost(s)
				return
			}
		}
	}
}

// readLoop routes acks to sendAndWait and ignores everything else.
func (c *connection) readLoop(s *session) {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			case <-s.stop:
			default:
				c.logger.Warn("Recorder read failed", "error", err)
				c.lost(s)
			}
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("Ignoring recorder message", "raw", string(message))
			continue
		}
		select {
		case c.acks <- ack:
		default:
			c.logger.Debug("Ack buffer full, dropping", "for", ack.For)
		}
	}
}

func (c *connection) reconnect() {
	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to recorder", "attempt", attempt, "backoff", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		if replay := c.cachedStartRun(); replay != nil {
			if err := c.write(conn, ws.TextMessage, replay); err != nil {
				c.logger.Warn("Failed to replay start_run", "error", err)
				_ = conn.Close()
				continue
			}
		}
		if !c.attach(conn) {
			_ = conn.Close()
			return
		}
		c.logger.Info("Recorder reconnected", "attempt", attempt)
		return
	}
	c.logger.Error("Recorder reconnect failed", "maxAttempts", maxReconnect)
}

func (c *connection) setStartRun(data []byte) {
	c.mu.Lock()
	c.startRun = data
	c.mu.Unlock()
}

func (c *connection) cachedStartRun() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startRun
}

// send queues data without blocking. It is dropped when the outbox is full.
func (c *connection) send(data []byte) {
	if !c.outbox.TrySend(data) {
		c.dropped.Add(1)
		c.logger.Warn("Recorder outbox full, dropping message")
	}
}

// sendAndWait queues data and waits for the recorder to ack ackFor.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a close frame on the live session and stops every loop.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	s := c.cur
	c.cur = nil
	if s != nil {
		close(s.stop)
	}
	c.mu.Unlock()

	c.outbox.Close()
	if s == nil {
		return nil
	}
	_ = c.write(s.conn, ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	return s.conn.Close()
}
