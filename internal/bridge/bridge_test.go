package bridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/humanoid-lab/motion-bridge/internal/protocol"
)

// newExecutorSocket binds a loopback UDP socket standing in for the
// execution process's command port.
func newExecutorSocket(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDatagram(t *testing.T, conn *net.UDPConn) string {
	t.Helper()
	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP error: %v", err)
	}
	return string(buf[:n])
}

func TestSendCommands(t *testing.T) {
	executor := newExecutorSocket(t)

	b, err := New(Config{
		CommandAddr:  executor.LocalAddr().String(),
		FeedbackAddr: "127.0.0.1:0",
	}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer b.Close()

	if err := b.Send(protocol.CommandLoad{ID: "gen_20240101_120000_abcd1234"}); err != nil {
		t.Fatalf("Send(load) error: %v", err)
	}
	if got := readDatagram(t, executor); got != "LOAD:gen_20240101_120000_abcd1234" {
		t.Fatalf("datagram=%q", got)
	}

	if err := b.Send(protocol.CommandDefault{}); err != nil {
		t.Fatalf("Send(default) error: %v", err)
	}
	if got := readDatagram(t, executor); got != "default" {
		t.Fatalf("datagram=%q", got)
	}
}

func TestListenDeliversEvents(t *testing.T) {
	executor := newExecutorSocket(t)

	b, err := New(Config{
		CommandAddr:  executor.LocalAddr().String(),
		FeedbackAddr: "127.0.0.1:0",
	}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan protocol.Event, 4)
	if err := b.Listen(ctx, func(event protocol.Event) { events <- event }); err != nil {
		t.Fatalf("Listen error: %v", err)
	}

	sender, err := net.Dial("udp", b.FeedbackAddr())
	if err != nil {
		t.Fatalf("Dial feedback error: %v", err)
	}
	defer sender.Close()

	if _, err := sender.Write([]byte("MOTION_COMPLETE")); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	select {
	case event := <-events:
		if _, ok := event.(protocol.EventMotionComplete); !ok {
			t.Fatalf("event=%T, want EventMotionComplete", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestListenDropsUnknownDatagrams(t *testing.T) {
	executor := newExecutorSocket(t)

	b, err := New(Config{
		CommandAddr:  executor.LocalAddr().String(),
		FeedbackAddr: "127.0.0.1:0",
	}, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan protocol.Event, 4)
	if err := b.Listen(ctx, func(event protocol.Event) { events <- event }); err != nil {
		t.Fatalf("Listen error: %v", err)
	}

	sender, err := net.Dial("udp", b.FeedbackAddr())
	if err != nil {
		t.Fatalf("Dial feedback error: %v", err)
	}
	defer sender.Close()

	if _, err := sender.Write([]byte("GARBAGE_MESSAGE")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if _, err := sender.Write([]byte("UPRIGHT_SUCCESS")); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	// The garbage datagram is dropped; only the valid event arrives.
	select {
	case event := <-events:
		if _, ok := event.(protocol.EventUprightSuccess); !ok {
			t.Fatalf("event=%T, want EventUprightSuccess", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	select {
	case event := <-events:
		t.Fatalf("unexpected extra event %T", event)
	case <-time.After(100 * time.Millisecond):
	}
}
