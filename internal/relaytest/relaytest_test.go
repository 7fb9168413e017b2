package relaytest_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blukai/fragrelay/internal/protocol"
	"github.com/blukai/fragrelay/internal/relayclient"
	"github.com/blukai/fragrelay/internal/relayserver"
	"github.com/blukai/fragrelay/internal/session"
	"github.com/gorilla/websocket"
	"github.com/matryer/is"
	"github.com/phuslu/log"
)

type player struct {
	client  *relayclient.RelayClient
	packets chan protocol.Packet
}

func newLogger() *log.Logger {
	logger := log.DefaultLogger
	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}
	return &logger
}

func startRelay(t *testing.T, ctx context.Context) (*relayserver.RelayServer, string) {
	t.Helper()

	relay := relayserver.NewRelayServer(relayserver.Options{
		FlushInterval: 10 * time.Millisecond,
	}, newLogger())
	go relay.Run(ctx)

	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)

	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// join connects a player and waits for the welcome packet, so that players
// joined one after another get ids in join order.
func join(t *testing.T, ctx context.Context, url string) *player {
	t.Helper()

	p := &player{
		client:  relayclient.NewRelayClient(url, relayclient.DialWebsocket, newLogger()),
		packets: make(chan protocol.Packet, 64),
	}
	for _, s := range protocol.Schemas() {
		p.client.On(s, func(pkt protocol.Packet) {
			p.packets <- pkt
		})
	}
	t.Cleanup(func() { p.client.Close() })

	if err := <-p.client.Open(ctx); err != nil {
		t.Fatalf("could not open: %v", err)
	}

	welcome := p.recv(t)
	if welcome.Schema() != protocol.TransferString || welcome.String(0) != relayserver.DefaultWelcome {
		t.Fatalf("expected welcome, got %v", welcome.Values)
	}
	return p
}

func (p *player) recv(t *testing.T) protocol.Packet {
	t.Helper()

	select {
	case pkt := <-p.packets:
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a packet")
		return protocol.Packet{}
	}
}

func (p *player) send(t *testing.T, packets ...[]byte) {
	t.Helper()

	for _, packet := range packets {
		p.client.Send(packet)
	}
	if err := p.client.Flush(); err != nil {
		t.Fatalf("could not flush: %v", err)
	}
}

func TestThreePlayers(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay, url := startRelay(t, ctx)

	t.Log("join")
	one := join(t, ctx, url)
	two := join(t, ctx, url)
	three := join(t, ctx, url)

	t.Log("movement")
	one.send(t, protocol.EncodeMovementSend(1, 2, 3, 0.5))
	for _, p := range []*player{two, three} {
		pkt := p.recv(t)
		is.Equal(pkt.Schema(), protocol.MovementRecv)
		is.Equal(pkt.Uint8(0), uint8(0))
		is.Equal([]float32{pkt.Float32(1), pkt.Float32(2), pkt.Float32(3), pkt.Float32(4)}, []float32{1, 2, 3, 0.5})
	}

	t.Log("shot, health and sound in one frame")
	two.send(t,
		protocol.EncodeShot(0, 1, 0, 5, 1, 5),
		protocol.EncodeUpdateHealthSend(0.75),
		protocol.EncodePlaySoundSend(3),
	)
	for _, p := range []*player{one, three} {
		// one's own movement must not have come back to it
		pkt := p.recv(t)
		is.Equal(pkt.Schema(), protocol.Shot)
		is.Equal(pkt.Float32(3), float32(5))

		pkt = p.recv(t)
		is.Equal(pkt.Schema(), protocol.UpdateHealthRecv)
		is.Equal(pkt.Uint8(0), uint8(1))
		is.Equal(pkt.Float32(1), float32(0.75))

		pkt = p.recv(t)
		is.Equal(pkt.Schema(), protocol.PlaySoundRecv)
		is.Equal(pkt.Uint8(0), uint8(1))
		is.Equal(pkt.Uint16(1), uint16(3))
	}

	t.Log("hit")
	one.send(t, protocol.EncodeHitPlayerSend(2))
	pkt := three.recv(t)
	is.Equal(pkt.Schema(), protocol.HitPlayerRecv)

	t.Log("leave")
	is.NoErr(three.client.Close())
	for _, p := range []*player{one, two} {
		pkt := p.recv(t)
		is.Equal(pkt.Schema(), protocol.Disconnect)
		is.Equal(pkt.Uint8(0), uint8(2))
	}

	t.Log("rejoin takes the freed id")
	deadline := time.Now().Add(2 * time.Second)
	for relay.Sessions() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 sessions, got %d", relay.Sessions())
		}
		time.Sleep(time.Millisecond)
	}
	four := join(t, ctx, url)
	four.send(t, protocol.EncodeUpdateHealthSend(1))
	for _, p := range []*player{one, two} {
		pkt := p.recv(t)
		is.Equal(pkt.Schema(), protocol.UpdateHealthRecv)
		is.Equal(pkt.Uint8(0), uint8(2))
	}

	// only the hit was meant for three, nothing else may have leaked to one
	select {
	case pkt := <-one.packets:
		t.Fatalf("unexpected packet %v", pkt.Values)
	default:
	}
}

func TestServerFull(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, url := startRelay(t, ctx)

	for i := 0; i < session.Capacity; i++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		is.NoErr(err)
		t.Cleanup(func() { conn.Close() })

		_, frame, err := conn.ReadMessage()
		is.NoErr(err)
		packets, err := protocol.ParseFrame(frame)
		is.NoErr(err)
		is.Equal(packets[0].Schema(), protocol.TransferString)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	is.NoErr(err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	is.True(errors.As(err, &closeErr))
	is.Equal(closeErr.Code, websocket.ClosePolicyViolation)
	is.Equal(closeErr.Text, "server full")
}
