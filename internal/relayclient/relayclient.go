package relayclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blukai/fragrelay/internal/outbox"
	"github.com/blukai/fragrelay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/phuslu/log"
)

var ErrNotOpen = errors.New("transport is not open")

const DefaultWriteTimeout = time.Second

// Transport is a message oriented connection to the relay. *websocket.Conn
// satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type DialFunc func(ctx context.Context, url string) (Transport, error)

// DialWebsocket is the default DialFunc.
func DialWebsocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Handler receives one decoded inbound packet.
type Handler func(pkt protocol.Packet)

// RelayClient is the client side network service. packets handed to Send are
// queued and written as one frame per Flush; inbound frames are split and
// dispatched to the handlers registered for each schema.
type RelayClient struct {
	url    string
	dial   DialFunc
	logger *log.Logger

	openOnce sync.Once
	ready    chan struct{}
	dialErr  error
	doneOnce sync.Once
	done     chan struct{}

	connMu  sync.Mutex
	conn    Transport
	dialing bool
	closing bool
	open    atomic.Bool

	writeMu      sync.Mutex
	writeTimeout time.Duration

	queue *outbox.Queue

	handlersMu sync.RWMutex
	handlers   map[uint8][]Handler
}

func NewRelayClient(url string, dial DialFunc, logger *log.Logger) *RelayClient {
	if dial == nil {
		dial = DialWebsocket
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &RelayClient{
		url:    url,
		dial:   dial,
		logger: logger,

		writeTimeout: DefaultWriteTimeout,

		ready: make(chan struct{}),
		done:  make(chan struct{}),

		queue: outbox.New(),

		handlers: make(map[uint8][]Handler),
	}
}

// Open starts connecting on the first call. the returned channel yields nil
// once the transport is open, or the error that prevented it. there is no
// reconnect: after a failure every call yields the same error.
func (c *RelayClient) Open(ctx context.Context) <-chan error {
	c.openOnce.Do(func() {
		go c.connect(ctx)
	})

	ch := make(chan error, 1)

	select {
	case <-c.ready:
		ch <- c.dialErr
		close(ch)
		return ch
	default:
	}

	go func() {
		defer close(ch)
		select {
		case <-c.ready:
			ch <- c.dialErr
		case <-ctx.Done():
			ch <- ctx.Err()
		}
	}()
	return ch
}

func (c *RelayClient) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *RelayClient) connect(ctx context.Context) {
	c.connMu.Lock()
	if c.closing {
		c.connMu.Unlock()
		c.dialErr = ErrNotOpen
		close(c.ready)
		c.closeDone()
		return
	}
	c.dialing = true
	c.connMu.Unlock()

	conn, err := c.dial(ctx, c.url)
	if err != nil {
		c.dialErr = fmt.Errorf("could not dial %s: %w", c.url, err)
		c.logger.Error().
			Str("url", c.url).
			Msgf("could not open transport: %v", err)
		close(c.ready)
		c.closeDone()
		return
	}

	c.connMu.Lock()
	if c.closing {
		c.connMu.Unlock()
		conn.Close()
		c.dialErr = ErrNotOpen
		close(c.ready)
		c.closeDone()
		return
	}
	c.conn = conn
	c.open.Store(true)
	c.connMu.Unlock()

	c.logger.Info().
		Str("url", c.url).
		Msg("transport open")

	close(c.ready)
	go c.readLoop(conn)
}

func (c *RelayClient) readLoop(conn Transport) {
	defer c.closeDone()
	defer c.open.Store(false)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn().Msgf("transport closed: %v", err)
			} else {
				c.logger.Info().Msgf("transport closed: %v", err)
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			continue
		}
		c.handleFrame(data)
	}
}

func (c *RelayClient) handleFrame(frame []byte) {
	// whatever piled up since the last tick goes out now; otherwise an idle
	// game loop (a hidden browser tab for example) would starve the relay.
	if err := c.Flush(); err != nil {
		c.logger.Error().Msgf("could not flush: %v", err)
	}

	packets, err := protocol.ParseFrame(frame)
	if err != nil {
		c.logger.Warn().
			Int("bytes", len(frame)).
			Msgf("dropping rest of frame: %v", err)
	}

	for _, pkt := range packets {
		c.dispatch(pkt)
	}
}

func (c *RelayClient) dispatch(pkt protocol.Packet) {
	c.handlersMu.RLock()
	handlers := c.handlers[pkt.ID]
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(pkt)
	}
}

// On registers h for packets of schema. handlers of one schema run in the
// order they were registered.
func (c *RelayClient) On(schema *protocol.Schema, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	id := schema.ID()
	// copy on write; dispatch iterates a snapshot without the lock
	handlers := make([]Handler, len(c.handlers[id]), len(c.handlers[id])+1)
	copy(handlers, c.handlers[id])
	c.handlers[id] = append(handlers, h)
}

// IsOpen reports whether the transport is currently open.
func (c *RelayClient) IsOpen() bool {
	return c.open.Load()
}

// Send queues an encoded packet for the next Flush. packets sent while the
// transport is not open are dropped.
func (c *RelayClient) Send(packet []byte) {
	if !c.open.Load() {
		c.logger.Warn().
			Int("bytes", len(packet)).
			Msg("attempted to send on closed transport")
		return
	}
	if len(packet) == 0 {
		return
	}
	c.queue.Enqueue(packet)
}

// Flush writes everything queued as a single frame. with nothing queued it
// does nothing.
func (c *RelayClient) Flush() error {
	frame, n := c.queue.Drain()
	if n == 0 {
		return nil
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil || !c.open.Load() {
		return fmt.Errorf("could not flush %d packets: %w", n, ErrNotOpen)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("could not set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("could not write frame: %w", err)
	}
	return nil
}

// Done is closed once the transport is gone, could never be opened or the
// client was closed before it opened.
func (c *RelayClient) Done() <-chan struct{} {
	return c.done
}

func (c *RelayClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.closing = true
	c.open.Store(false)
	if c.conn == nil {
		// a dial in flight sees closing and finishes up by itself
		if !c.dialing {
			c.closeDone()
		}
		return nil
	}
	return c.conn.Close()
}
