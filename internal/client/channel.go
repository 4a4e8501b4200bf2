// Package client carries the browser-facing WebSocket protocol: binary
// messages inbound are capture audio, text messages inbound are control JSON,
// and everything outbound is a JSON frame. Outbound frames pass through a
// bounded queue that sheds the least valuable frames first, so a slow or
// stalled browser never blocks the voice pipeline.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/parleyvoice/parley/internal/observe"
)

// ErrClientGone reports that the peer has disconnected or the channel has
// been closed; frames sent afterwards are not deliverable.
var ErrClientGone = errors.New("client: connection gone")

const (
	defaultQueueLimit   = 64
	defaultWriteTimeout = 5 * time.Second

	audioBuf = 16
)

// ChannelConfig configures an accepted connection.
type ChannelConfig struct {
	// QueueLimit bounds the outbound frame queue. Defaults to 64 frames.
	QueueLimit int

	// WriteTimeout bounds a single socket write. A peer that cannot absorb a
	// frame within it is declared gone. Defaults to 5s.
	WriteTimeout time.Duration

	// OriginPatterns lists the origins allowed to open a connection, for
	// browsers served from a different host than the agent. Empty means
	// same-origin only.
	OriginPatterns []string

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Channel is one accepted browser connection. It demultiplexes inbound
// traffic onto the Audio and Interrupts channels and serializes outbound
// frames through the shedding queue. It satisfies the session's client
// contract: Send never blocks on the peer, and both inbound channels close
// when the peer goes away.
type Channel struct {
	conn    *websocket.Conn
	log     *slog.Logger
	metrics *observe.Metrics

	queue        *frameQueue
	writeTimeout time.Duration

	audio      chan []byte
	interrupts chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Accept upgrades an HTTP request to a WebSocket and starts the channel's
// read and write pumps. The caller owns the returned channel and must Close
// it when the session ends.
func Accept(w http.ResponseWriter, r *http.Request, cfg ChannelConfig) (*Channel, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: cfg.OriginPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("accept websocket: %w", err)
	}
	return newChannel(conn, cfg), nil
}

func newChannel(conn *websocket.Conn, cfg ChannelConfig) *Channel {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conn:         conn,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		writeTimeout: cfg.WriteTimeout,
		audio:        make(chan []byte, audioBuf),
		interrupts:   make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.queue = newFrameQueue(cfg.QueueLimit, c.onDrop)

	go c.readLoop()
	go c.writeLoop()
	return c
}

// Audio delivers raw capture chunks (s16le PCM) as the browser sent them.
// The channel closes when the peer disconnects.
func (c *Channel) Audio() <-chan []byte { return c.audio }

// Interrupts delivers barge-in signals. Signals arriving while one is
// already pending collapse into it. The channel closes when the peer
// disconnects.
func (c *Channel) Interrupts() <-chan struct{} { return c.interrupts }

// Send enqueues one outbound frame. It never blocks on the peer: when the
// queue is full a frame is shed per the backpressure ladder. It reports
// ErrClientGone once the channel is closed.
func (c *Channel) Send(f Frame) error {
	return c.queue.push(f)
}

// Close tears the connection down and releases both pumps. Idempotent and
// safe to call concurrently with everything else.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.queue.close()
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return nil
}

// readLoop pumps inbound messages until the peer disconnects or the channel
// is closed. Closing the inbound channels is how the session learns the
// client is gone.
func (c *Channel) readLoop() {
	defer c.Close()
	defer close(c.interrupts)
	defer close(c.audio)

	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Debug("client connection closed", "status", websocket.CloseStatus(err), "error", err)
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			select {
			case c.audio <- data:
			case <-c.ctx.Done():
				return
			}
		case websocket.MessageText:
			c.handleControl(data)
		}
	}
}

// handleControl parses one inbound text message. Unknown or malformed
// messages are dropped; a misbehaving client does not take the session down.
func (c *Channel) handleControl(data []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debug("malformed control message dropped", "error", err)
		return
	}
	switch msg.Type {
	case TypeInterrupt:
		select {
		case c.interrupts <- struct{}{}:
		default:
			// One is already pending; duplicates collapse.
		}
	default:
		c.log.Debug("unknown control message dropped", "type", msg.Type)
	}
}

// writeLoop drains the queue onto the socket. A failed or timed-out write
// declares the peer gone and closes the channel.
func (c *Channel) writeLoop() {
	for {
		f, ok := c.queue.next()
		if !ok {
			if c.queue.isClosed() {
				return
			}
			select {
			case <-c.queue.wake:
				continue
			case <-c.ctx.Done():
				return
			}
		}

		data, err := json.Marshal(f.Payload)
		if err != nil {
			c.log.Error("outbound frame marshal failed", "kind", f.Kind, "error", err)
			continue
		}
		wctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
		err = c.conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Debug("client write failed", "kind", f.Kind, "error", err)
			}
			c.Close()
			return
		}
	}
}

func (c *Channel) onDrop(kind FrameKind) {
	c.metrics.RecordDroppedFrame(c.ctx, kind.String())
	c.log.Debug("outbound frame shed", "kind", kind)
}
