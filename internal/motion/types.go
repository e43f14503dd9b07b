// Package motion defines the clip representations exchanged between the
// text-to-motion backend and the robot execution process, and the
// generator-to-controller conversion between them.
package motion

import (
	"errors"
	"fmt"
	"strings"
)

// JointCount is the number of actuated joints in a clip frame.
const JointCount = 29

const (
	rootPosDims = 3
	rootRotDims = 4
)

// GeneratorJointOrder is the joint order produced by the generation backend:
// left/right pairs interleaved, legs before arms.
var GeneratorJointOrder = []string{
	"left_hip_pitch_joint", "right_hip_pitch_joint", "waist_yaw_joint",
	"left_hip_roll_joint", "right_hip_roll_joint", "waist_roll_joint",
	"left_hip_yaw_joint", "right_hip_yaw_joint", "waist_pitch_joint",
	"left_knee_joint", "right_knee_joint",
	"left_shoulder_pitch_joint", "right_shoulder_pitch_joint",
	"left_ankle_pitch_joint", "right_ankle_pitch_joint",
	"left_shoulder_roll_joint", "right_shoulder_roll_joint",
	"left_ankle_roll_joint", "right_ankle_roll_joint",
	"left_shoulder_yaw_joint", "right_shoulder_yaw_joint",
	"left_elbow_joint", "right_elbow_joint",
	"left_wrist_roll_joint", "right_wrist_roll_joint",
	"left_wrist_pitch_joint", "right_wrist_pitch_joint",
	"left_wrist_yaw_joint", "right_wrist_yaw_joint",
}

// ControllerJointOrder is the joint order the tracking controller expects:
// grouped by body part, left leg through right arm.
var ControllerJointOrder = []string{
	"left_hip_pitch_joint", "left_hip_roll_joint", "left_hip_yaw_joint",
	"left_knee_joint", "left_ankle_pitch_joint", "left_ankle_roll_joint",
	"right_hip_pitch_joint", "right_hip_roll_joint", "right_hip_yaw_joint",
	"right_knee_joint", "right_ankle_pitch_joint", "right_ankle_roll_joint",
	"waist_yaw_joint", "waist_roll_joint", "waist_pitch_joint",
	"left_shoulder_pitch_joint", "left_shoulder_roll_joint", "left_shoulder_yaw_joint",
	"left_elbow_joint", "left_wrist_roll_joint", "left_wrist_pitch_joint", "left_wrist_yaw_joint",
	"right_shoulder_pitch_joint", "right_shoulder_roll_joint", "right_shoulder_yaw_joint",
	"right_elbow_joint", "right_wrist_roll_joint", "right_wrist_pitch_joint", "right_wrist_yaw_joint",
}

// SmoothingOptions are forwarded verbatim to the generation backend; the
// bridge itself never smooths.
type SmoothingOptions struct {
	Adaptive     bool
	StaticStart  bool
	StaticFrames int
	BlendFrames  int
}

// MotionRequest describes one generation round trip. Immutable once sent.
type MotionRequest struct {
	Text            string
	MotionLengthSec float64
	InferenceSteps  int
	Seed            int64
	Smoothing       SmoothingOptions
}

// Validate executes the validate method.
func (r MotionRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("motion request text is empty")
	}
	if r.MotionLengthSec < 0.1 || r.MotionLengthSec > 9.8 {
		return fmt.Errorf("motion length %.2fs out of range [0.1, 9.8]", r.MotionLengthSec)
	}
	if r.InferenceSteps <= 0 {
		return fmt.Errorf("inference steps must be positive, got %d", r.InferenceSteps)
	}
	if r.Smoothing.StaticFrames < 0 || r.Smoothing.BlendFrames < 0 {
		return errors.New("smoothing frame counts must be non-negative")
	}
	return nil
}

// RawClip is the generator-space output: joints in GeneratorJointOrder, root
// orientation as scalar-first [w,x,y,z] quaternions. Per-frame arrays are
// stored flat and row-major.
type RawClip struct {
	FPS      float32
	Frames   int
	JointPos []float32 // Frames * JointCount
	RootPos  []float32 // Frames * 3
	RootRot  []float32 // Frames * 4, wxyz
}

// DeployClip is the controller-space representation: joints in
// ControllerJointOrder, root orientation as scalar-last [x,y,z,w].
type DeployClip struct {
	FPS        float32
	Frames     int
	DofPos     []float32 // Frames * JointCount
	RootPos    []float32 // Frames * 3
	RootRot    []float32 // Frames * 4, xyzw
	JointNames []string
}

// Duration executes the duration method.
func (c DeployClip) Duration() float64 {
	if c.FPS <= 0 {
		return 0
	}
	return float64(c.Frames) / float64(c.FPS)
}
