package mogen

import "time"

// Config represents a config.
type Config struct {
	BackendURL      string
	DialTimeout     time.Duration
	RequestTimeout  time.Duration
	MaxPayloadBytes int64
}

// Rejection codes reported by the generation backend.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeGenerationError   = "GENERATION_ERROR"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeServerError       = "SERVER_ERROR"
)

type generateRequest struct {
	Text              string  `json:"text"`
	MotionLength      float64 `json:"motion_length"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	Seed              int64   `json:"seed"`
	AdaptiveSmooth    bool    `json:"adaptive_smooth"`
	StaticStart       bool    `json:"static_start"`
	StaticFrames      int     `json:"static_frames"`
	BlendFrames       int     `json:"blend_frames"`
}

type rejectPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Older backends report a bare error string.
	Error string `json:"error"`
}
