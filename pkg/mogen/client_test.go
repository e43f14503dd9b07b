package mogen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/humanoid-lab/motion-bridge/internal/motion"
	mogencodec "github.com/humanoid-lab/motion-bridge/internal/transport/mogen/codec"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newBackend starts a fake generation backend that runs handle for each
// connection.
func newBackend(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testRequest() motion.MotionRequest {
	return motion.MotionRequest{
		Text:            "a person walks forward",
		MotionLengthSec: 4.0,
		InferenceSteps:  10,
		Seed:            42,
		Smoothing:       motion.SmoothingOptions{Adaptive: true, StaticStart: true, StaticFrames: 2, BlendFrames: 8},
	}
}

func TestGenerateSuccess(t *testing.T) {
	frames := 200
	clip := motion.RawClip{
		FPS:      50,
		Frames:   frames,
		JointPos: make([]float32, frames*motion.JointCount),
		RootPos:  make([]float32, frames*3),
		RootRot:  make([]float32, frames*4),
	}
	for f := 0; f < frames; f++ {
		clip.RootRot[f*4] = 1
	}
	payload, err := mogencodec.EncodeRaw(clip)
	if err != nil {
		t.Fatalf("EncodeRaw error: %v", err)
	}

	var gotRequest generateRequest
	server := newBackend(t, func(conn *websocket.Conn) {
		if err := conn.ReadJSON(&gotRequest); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, payload)
	})

	client := NewClient(Config{BackendURL: wsURL(server)}, nil)
	defer client.Close()

	got, err := client.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got.Frames != 200 {
		t.Fatalf("frames=%d, want 200", got.Frames)
	}
	if got.FPS != 50 {
		t.Fatalf("fps=%v, want 50", got.FPS)
	}

	if gotRequest.Text != "a person walks forward" {
		t.Fatalf("request text=%q", gotRequest.Text)
	}
	if gotRequest.MotionLength != 4.0 {
		t.Fatalf("request motion_length=%v, want 4.0", gotRequest.MotionLength)
	}
	if gotRequest.NumInferenceSteps != 10 {
		t.Fatalf("request num_inference_steps=%d, want 10", gotRequest.NumInferenceSteps)
	}
	if !gotRequest.AdaptiveSmooth || !gotRequest.StaticStart {
		t.Fatal("smoothing flags not forwarded")
	}
}

func TestGenerateRejected(t *testing.T) {
	server := newBackend(t, func(conn *websocket.Conn) {
		var req generateRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		body, _ := json.Marshal(map[string]string{"code": CodeGenerationError, "message": "inference failed"})
		_ = conn.WriteMessage(websocket.TextMessage, body)
	})

	client := NewClient(Config{BackendURL: wsURL(server)}, nil)
	defer client.Close()

	_, err := client.Generate(context.Background(), testRequest())
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Generate error=%v, want RejectedError", err)
	}
	if rejected.Code != CodeGenerationError {
		t.Fatalf("code=%q, want %q", rejected.Code, CodeGenerationError)
	}
	if rejected.Message != "inference failed" {
		t.Fatalf("message=%q", rejected.Message)
	}
}

func TestGenerateLegacyErrorPayload(t *testing.T) {
	server := newBackend(t, func(conn *websocket.Conn) {
		var req generateRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bad text"}`))
	})

	client := NewClient(Config{BackendURL: wsURL(server)}, nil)
	defer client.Close()

	_, err := client.Generate(context.Background(), testRequest())
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Generate error=%v, want RejectedError", err)
	}
	if rejected.Message != "bad text" {
		t.Fatalf("message=%q, want bad text", rejected.Message)
	}
}

func TestGenerateMalformedPayload(t *testing.T) {
	server := newBackend(t, func(conn *websocket.Conn) {
		var req generateRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("definitely not npz"))
	})

	client := NewClient(Config{BackendURL: wsURL(server)}, nil)
	defer client.Close()

	_, err := client.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Generate error=%v, want ErrProtocol", err)
	}
}

func TestGenerateDialFailure(t *testing.T) {
	client := NewClient(Config{
		BackendURL:  "ws://127.0.0.1:1/ws",
		DialTimeout: 500 * time.Millisecond,
	}, nil)
	defer client.Close()

	_, err := client.Generate(context.Background(), testRequest())
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("Generate error=%v, want ErrChannelUnavailable", err)
	}
}

func TestGenerateCancellation(t *testing.T) {
	started := make(chan struct{})
	server := newBackend(t, func(conn *websocket.Conn) {
		var req generateRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		close(started)
		// Never answer; the client cancels.
		time.Sleep(5 * time.Second)
	})

	client := NewClient(Config{BackendURL: wsURL(server)}, nil)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Generate(ctx, testRequest())
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Generate error=%v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not unblock after cancellation")
	}
}

func TestGenerateSingleOutstanding(t *testing.T) {
	release := make(chan struct{})
	server := newBackend(t, func(conn *websocket.Conn) {
		var req generateRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		<-release
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"code":"SERVER_ERROR","message":"late"}`))
	})

	client := NewClient(Config{BackendURL: wsURL(server)}, nil)
	defer client.Close()

	first := make(chan error, 1)
	go func() {
		_, err := client.Generate(context.Background(), testRequest())
		first <- err
	}()

	// Wait until the first call holds the slot.
	deadline := time.Now().Add(2 * time.Second)
	for {
		client.mu.Lock()
		busy := client.inFlight
		client.mu.Unlock()
		if busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first call never became outstanding")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := client.Generate(context.Background(), testRequest()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Generate error=%v, want ErrBusy", err)
	}

	close(release)
	if err := <-first; err == nil {
		t.Fatal("first Generate error=nil, want rejection")
	}
}

func TestGenerateInvalidRequest(t *testing.T) {
	client := NewClient(Config{BackendURL: "ws://127.0.0.1:1/ws"}, nil)
	defer client.Close()

	_, err := client.Generate(context.Background(), motion.MotionRequest{Text: ""})
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Generate error=%v, want RejectedError", err)
	}
	if rejected.Code != CodeInvalidRequest {
		t.Fatalf("code=%q, want %q", rejected.Code, CodeInvalidRequest)
	}
}
