package relayserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blukai/fragrelay/internal/metrics"
	"github.com/blukai/fragrelay/internal/outbox"
	"github.com/blukai/fragrelay/internal/protocol"
	"github.com/blukai/fragrelay/internal/session"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

const (
	DefaultFlushInterval = time.Second / 45
	DefaultWriteTimeout  = time.Second
	DefaultWelcome       = "Hello world!"

	// the largest frame a client is allowed to send in one message.
	maxFrameSize = 64 << 10
)

// Conn is the transport side of a session. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type peer struct {
	id     uint8
	conn   Conn
	queue  *outbox.Queue
	closed atomic.Bool

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func (p *peer) Alive() bool {
	return !p.closed.Load()
}

// write is the only place that writes to the connection; the welcome packet
// and flush passes may race otherwise.
func (p *peer) write(frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return fmt.Errorf("could not set write deadline: %w", err)
		}
	}
	return p.conn.WriteMessage(websocket.BinaryMessage, frame)
}

type Options struct {
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	// Welcome is sent to every new session in a TransferString packet.
	Welcome string
	Metrics *metrics.Relay
}

// RelayServer fans packets out between websocket sessions. every packet a
// session sends is routed into the outbound queues of other sessions, and
// queues are written out once per flush interval as a single frame.
type RelayServer struct {
	opts    Options
	logger  *log.Logger
	metrics *metrics.Relay

	sessions *session.Registry[*peer]
	upgrader websocket.Upgrader
}

func NewRelayServer(opts Options, logger *log.Logger) *RelayServer {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Welcome == "" {
		opts.Welcome = DefaultWelcome
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &RelayServer{
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,

		sessions: session.NewRegistry[*peer](),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Sessions is the number of sessions currently holding an id.
func (rs *RelayServer) Sessions() int {
	return rs.sessions.Len()
}

func (rs *RelayServer) FlushInterval() time.Duration {
	return rs.opts.FlushInterval
}

// Join opens a session for conn and sends it the welcome packet.
func (rs *RelayServer) Join(conn Conn) (uint8, error) {
	p, err := rs.join(conn)
	if err != nil {
		return 0, err
	}
	return p.id, nil
}

func (rs *RelayServer) join(conn Conn) (*peer, error) {
	p := &peer{
		conn:         conn,
		queue:        outbox.New(),
		writeTimeout: rs.opts.WriteTimeout,
	}
	// connecting: the id is taken but nothing is routed to the session until
	// the welcome packet is out.
	p.closed.Store(true)

	id, err := rs.sessions.Allocate(p)
	if err != nil {
		rs.metrics.SessionRejected()
		rs.logger.Warn().
			Int("sessions", rs.sessions.Len()).
			Msgf("could not allocate session: %v", err)
		return nil, err
	}
	p.id = id

	if err := p.write(protocol.EncodeTransferString(rs.opts.Welcome)); err != nil {
		rs.sessions.Release(id)
		return nil, fmt.Errorf("could not send welcome: %w", err)
	}
	p.closed.Store(false)

	rs.metrics.SessionOpened()
	rs.logger.Info().
		Uint8("session", id).
		Int("sessions", rs.sessions.Len()).
		Msg("session opened")

	return p, nil
}

// Leave closes the session: everyone else is told that id disconnected, then
// the id is released and whatever was still queued for it is dropped.
func (rs *RelayServer) Leave(id uint8) {
	p, ok := rs.sessions.Resolve(id)
	if !ok {
		return
	}
	rs.leave(p)
}

func (rs *RelayServer) leave(p *peer) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	rs.broadcastExcept(p.id, protocol.EncodeDisconnect(p.id))
	rs.sessions.Release(p.id)
	droppedBytes := p.queue.Bytes()
	_, dropped := p.queue.Drain()

	rs.metrics.SessionClosed()
	rs.logger.Info().
		Uint8("session", p.id).
		Int("sessions", rs.sessions.Len()).
		Int("dropped_packets", dropped).
		Int("dropped_bytes", droppedBytes).
		Msg("session closed")
}

// HandleFrame routes every packet of a frame received from sender.
func (rs *RelayServer) HandleFrame(sender uint8, frame []byte) {
	packets, err := protocol.ParseFrame(frame)
	if err != nil {
		rs.reportParseFault(sender, frame, err)
	}

	for _, pkt := range packets {
		rs.metrics.PacketReceived(pkt.Schema().Name())
		rs.route(sender, pkt)
	}
}

func (rs *RelayServer) reportParseFault(sender uint8, frame []byte, err error) {
	var (
		unknownErr   *protocol.UnknownSchemaError
		truncatedErr *protocol.TruncatedPacketError
	)
	switch {
	case errors.As(err, &unknownErr):
		rs.metrics.ParseFault("unknown_schema")
	case errors.As(err, &truncatedErr):
		rs.metrics.ParseFault("truncated")
	default:
		rs.metrics.ParseFault("other")
	}

	rs.logger.Warn().
		Uint8("session", sender).
		Int("bytes", len(frame)).
		Msgf("dropping rest of frame: %v", err)
}

func (rs *RelayServer) route(sender uint8, pkt protocol.Packet) {
	switch pkt.Schema() {
	case protocol.MovementSend:
		x, y, z, angle := protocol.MovementSendValues(pkt)
		rs.broadcastExcept(sender, protocol.EncodeMovementRecv(sender, x, y, z, angle))
	case protocol.Shot:
		rs.broadcastExcept(sender, protocol.EncodeShot(protocol.ShotValues(pkt)))
	case protocol.HitPlayerSend:
		target := protocol.HitPlayerSendValues(pkt)
		p, ok := rs.sessions.Resolve(target)
		if !ok {
			rs.logger.Debug().
				Uint8("session", sender).
				Uint8("target", target).
				Msg("hit target is gone")
			return
		}
		p.queue.Enqueue(protocol.EncodeHitPlayerRecv())
	case protocol.UpdateHealthSend:
		rs.broadcastExcept(sender, protocol.EncodeUpdateHealthRecv(sender, protocol.UpdateHealthSendValues(pkt)))
	case protocol.PlaySoundSend:
		rs.broadcastExcept(sender, protocol.EncodePlaySoundRecv(sender, protocol.PlaySoundSendValues(pkt)))
	default:
		// nothing else is meant to be sent by clients
	}
}

// broadcastExcept queues packet for every open session but except.
func (rs *RelayServer) broadcastExcept(except uint8, packet []byte) {
	rs.sessions.Each(func(id uint8, p *peer) {
		if id == except {
			return
		}
		p.queue.Enqueue(packet)
	})
}

// FlushPass writes each non-empty queue out as one frame. a failed write
// closes that connection and does not stop the pass.
func (rs *RelayServer) FlushPass() error {
	start := time.Now()

	var errs error
	rs.sessions.Each(func(id uint8, p *peer) {
		frame, n := p.queue.Drain()
		if n == 0 {
			return
		}

		if err := p.write(frame); err != nil {
			rs.metrics.SendFailed()
			rs.logger.Error().
				Uint8("session", id).
				Int("packets", n).
				Msgf("could not write frame: %v", err)

			errs = multierror.Append(errs, fmt.Errorf("could not flush session %d: %w", id, err))
			// the read loop notices and leaves
			p.conn.Close()
			return
		}

		rs.metrics.FrameSent(n, len(frame))
	})

	rs.metrics.FlushPassTook(time.Since(start).Seconds())
	return errs
}

// Run flushes on every tick until ctx is done, then closes every session.
func (rs *RelayServer) Run(ctx context.Context) error {
	ticker := time.NewTicker(rs.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rs.sessions.Each(func(_ uint8, p *peer) {
				p.conn.Close()
			})
			return nil
		case <-ticker.C:
			// errors are logged per session
			_ = rs.FlushPass()
		}
	}
}

// ServeHTTP upgrades the request to a websocket and runs the session until the
// connection goes away.
func (rs *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := rs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already replied with an http error
		rs.logger.Warn().
			Str("remote", r.RemoteAddr).
			Msgf("could not upgrade: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	p, err := rs.join(conn)
	if err != nil {
		if errors.Is(err, session.ErrNoCapacity) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "server full"),
				time.Now().Add(rs.opts.WriteTimeout))
		}
		conn.Close()
		return
	}
	defer rs.leave(p)
	defer conn.Close()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				rs.logger.Warn().
					Uint8("session", p.id).
					Msgf("could not read: %v", err)
			}
			return
		}

		if messageType != websocket.BinaryMessage {
			rs.logger.Debug().
				Uint8("session", p.id).
				Int("type", messageType).
				Msg("ignoring non-binary message")
			continue
		}

		rs.HandleFrame(p.id, data)
	}
}
