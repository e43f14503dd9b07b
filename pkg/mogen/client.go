package mogen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/humanoid-lab/motion-bridge/internal/motion"
	mogencodec "github.com/humanoid-lab/motion-bridge/internal/transport/mogen/codec"
)

// Client represents a client.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	inFlight bool
	closed   bool
}

// NewClient executes the newClient function.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 50 * 1024 * 1024
	}
	return &Client{cfg: cfg, logger: logger}
}

// Close executes the close method.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// Generate performs one request/response round trip. It blocks until a full
// response or an error arrives. Cancelling ctx closes the exchange so a
// superseded call unblocks promptly; the connection is re-established on the
// next call.
func (c *Client) Generate(ctx context.Context, req motion.MotionRequest) (motion.RawClip, error) {
	if err := req.Validate(); err != nil {
		return motion.RawClip{}, &RejectedError{Code: CodeInvalidRequest, Message: err.Error()}
	}

	conn, err := c.acquire(ctx)
	if err != nil {
		return motion.RawClip{}, err
	}
	defer c.release()

	clip, err := c.exchange(ctx, conn, req)
	if err != nil {
		c.dropConn(conn)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return motion.RawClip{}, ctxErr
		}
		return motion.RawClip{}, err
	}
	return clip, nil
}

// acquire marks the request slot busy and returns a live connection,
// dialing lazily if needed.
func (c *Client) acquire(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: client closed", ErrChannelUnavailable)
	}
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.inFlight = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(dialCtx, c.cfg.BackendURL, nil)
	if err != nil {
		c.release()
		return nil, fmt.Errorf("%w: dial %s: %v", ErrChannelUnavailable, c.cfg.BackendURL, err)
	}
	conn.SetReadLimit(c.cfg.MaxPayloadBytes)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		c.release()
		return nil, fmt.Errorf("%w: client closed", ErrChannelUnavailable)
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("generation backend connected", zap.String("backend_url", c.cfg.BackendURL))
	return conn, nil
}

func (c *Client) release() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func (c *Client) dropConn(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) exchange(ctx context.Context, conn *websocket.Conn, req motion.MotionRequest) (motion.RawClip, error) {
	// Cancellation closes the connection, which fails the pending read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	payload := generateRequest{
		Text:              req.Text,
		MotionLength:      req.MotionLengthSec,
		NumInferenceSteps: req.InferenceSteps,
		Seed:              req.Seed,
		AdaptiveSmooth:    req.Smoothing.Adaptive,
		StaticStart:       req.Smoothing.StaticStart,
		StaticFrames:      req.Smoothing.StaticFrames,
		BlendFrames:       req.Smoothing.BlendFrames,
	}
	if err := conn.WriteJSON(payload); err != nil {
		return motion.RawClip{}, fmt.Errorf("%w: send request: %v", ErrChannelUnavailable, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout)); err != nil {
		return motion.RawClip{}, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return motion.RawClip{}, fmt.Errorf("%w: no response within %s", ErrChannelUnavailable, c.cfg.RequestTimeout)
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return motion.RawClip{}, fmt.Errorf("%w: response exceeds %d bytes", ErrProtocol, c.cfg.MaxPayloadBytes)
		}
		return motion.RawClip{}, fmt.Errorf("%w: read response: %v", ErrChannelUnavailable, err)
	}

	switch msgType {
	case websocket.TextMessage:
		return motion.RawClip{}, parseRejection(data)
	case websocket.BinaryMessage:
		clip, err := mogencodec.DecodeRaw(data)
		if err != nil {
			return motion.RawClip{}, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return clip, nil
	default:
		return motion.RawClip{}, fmt.Errorf("%w: unexpected message type %d", ErrProtocol, msgType)
	}
}

func parseRejection(data []byte) error {
	var payload rejectPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: undecodable error payload: %v", ErrProtocol, err)
	}
	code := payload.Code
	message := payload.Message
	if code == "" && payload.Error != "" {
		code = CodeGenerationError
		message = payload.Error
	}
	if code == "" {
		return fmt.Errorf("%w: error payload without code", ErrProtocol)
	}
	// Unknown codes still surface as rejections; the state machine treats
	// every rejection the same way.
	return &RejectedError{Code: code, Message: message}
}
