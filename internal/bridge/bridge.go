// Package bridge carries the two datagram channels to the motion-execution
// process: fire-and-forget commands out, completion events in.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/humanoid-lab/motion-bridge/internal/protocol"
)

// ErrChannelUnavailable marks a command or feedback endpoint that cannot be
// reached or bound.
var ErrChannelUnavailable = errors.New("execution channel unavailable")

const listenPollInterval = time.Second

// Config represents a config.
type Config struct {
	CommandAddr  string
	FeedbackAddr string
}

// EventSink receives parsed feedback events. It must not block; sinks
// enqueue into the session's merged event stream.
type EventSink func(protocol.Event)

// Bridge represents a bridge.
type Bridge struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	cmdConn *net.UDPConn
	fbConn  *net.UDPConn
	closed  bool
}

// New executes the new function.
func New(cfg Config, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.CommandAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve command addr %s: %v", ErrChannelUnavailable, cfg.CommandAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: open command socket: %v", ErrChannelUnavailable, err)
	}
	return &Bridge{cfg: cfg, logger: logger, cmdConn: conn}, nil
}

// Send encodes and fires a command. No acknowledgement is awaited; a sent
// command is a done command.
func (b *Bridge) Send(cmd protocol.Command) error {
	wire, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	b.mu.Lock()
	conn := b.cmdConn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: command socket closed", ErrChannelUnavailable)
	}

	if _, err := conn.Write([]byte(wire)); err != nil {
		return fmt.Errorf("%w: send %q: %v", ErrChannelUnavailable, wire, err)
	}
	b.logger.Info("executor command sent",
		zap.String("command", wire),
		zap.String("addr", b.cfg.CommandAddr),
	)
	return nil
}

// Listen binds the feedback port and runs the receive loop until ctx is
// cancelled. It is always ready to receive, independent of what the session
// controller is doing. Unknown datagrams are dropped.
func (b *Bridge) Listen(ctx context.Context, sink EventSink) error {
	addr, err := net.ResolveUDPAddr("udp", b.cfg.FeedbackAddr)
	if err != nil {
		return fmt.Errorf("%w: resolve feedback addr %s: %v", ErrChannelUnavailable, b.cfg.FeedbackAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: bind feedback socket: %v", ErrChannelUnavailable, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: bridge closed", ErrChannelUnavailable)
	}
	b.fbConn = conn
	b.mu.Unlock()

	b.logger.Info("feedback listener started", zap.String("addr", conn.LocalAddr().String()))

	go b.readLoop(ctx, conn, sink)
	return nil
}

// FeedbackAddr returns the bound feedback address, or empty before Listen.
func (b *Bridge) FeedbackAddr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fbConn == nil {
		return ""
	}
	return b.fbConn.LocalAddr().String()
}

func (b *Bridge) readLoop(ctx context.Context, conn *net.UDPConn, sink EventSink) {
	defer conn.Close()
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(listenPollInterval))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || b.isClosed() {
				return
			}
			b.logger.Warn("feedback read failed", zap.Error(err))
			continue
		}

		raw := string(buf[:n])
		event, ok := protocol.ParseEvent(raw)
		if !ok {
			b.logger.Warn("feedback message dropped", zap.String("raw", raw))
			continue
		}
		b.logger.Info("executor event received", zap.String("event", raw))
		sink(event)
	}
}

// Close executes the close method.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	if b.cmdConn != nil {
		_ = b.cmdConn.Close()
		b.cmdConn = nil
	}
	if b.fbConn != nil {
		_ = b.fbConn.Close()
		b.fbConn = nil
	}
	b.mu.Unlock()
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	return closed
}
