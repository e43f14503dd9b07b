package motion

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func makeRawClip(frames int) RawClip {
	rng := rand.New(rand.NewSource(1))
	clip := RawClip{
		FPS:      50,
		Frames:   frames,
		JointPos: make([]float32, frames*JointCount),
		RootPos:  make([]float32, frames*3),
		RootRot:  make([]float32, frames*4),
	}
	for i := range clip.JointPos {
		clip.JointPos[i] = rng.Float32()*2 - 1
	}
	for i := range clip.RootPos {
		clip.RootPos[i] = rng.Float32()
	}
	for f := 0; f < frames; f++ {
		// Unit quaternion with all components non-zero.
		w, x, y, z := 0.5, 0.5, 0.5, 0.5
		clip.RootRot[f*4+0] = float32(w)
		clip.RootRot[f*4+1] = float32(x)
		clip.RootRot[f*4+2] = float32(y)
		clip.RootRot[f*4+3] = float32(z)
	}
	return clip
}

func TestDefaultMappingIsPermutation(t *testing.T) {
	forward := DefaultMapping().Forward()
	if len(forward) != JointCount {
		t.Fatalf("mapping size=%d, want %d", len(forward), JointCount)
	}
	seen := make(map[int]bool, len(forward))
	for _, src := range forward {
		if src < 0 || src >= JointCount {
			t.Fatalf("source index %d out of range", src)
		}
		if seen[src] {
			t.Fatalf("source index %d used twice", src)
		}
		seen[src] = true
	}
}

func TestMappingRoundTrip(t *testing.T) {
	for _, frames := range []int{0, 1, 17, 200} {
		clip := makeRawClip(frames)
		converter := NewConverter(nil)
		deploy, err := converter.Convert(clip)
		if err != nil {
			t.Fatalf("Convert(%d frames) error: %v", frames, err)
		}

		inverse := DefaultMapping().Inverse()
		for f := 0; f < frames; f++ {
			base := f * JointCount
			for src := 0; src < JointCount; src++ {
				got := deploy.DofPos[base+inverse[src]]
				want := clip.JointPos[base+src]
				if got != want {
					t.Fatalf("frame %d joint %d: inverse round trip got %v, want %v", f, src, got, want)
				}
			}
		}
	}
}

func TestConvertQuaternionRepack(t *testing.T) {
	clip := makeRawClip(3)
	converter := NewConverter(nil)
	deploy, err := converter.Convert(clip)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}

	for f := 0; f < clip.Frames; f++ {
		w := clip.RootRot[f*4+0]
		x := clip.RootRot[f*4+1]
		y := clip.RootRot[f*4+2]
		z := clip.RootRot[f*4+3]
		got := deploy.RootRot[f*4 : f*4+4]
		if got[0] != x || got[1] != y || got[2] != z || got[3] != w {
			t.Fatalf("frame %d: repack=%v, want [%v %v %v %v]", f, got, x, y, z, w)
		}
	}
}

func TestConvertPreservesFrameCountAndRate(t *testing.T) {
	clip := makeRawClip(200)
	converter := NewConverter(nil)
	deploy, err := converter.Convert(clip)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if deploy.Frames != 200 {
		t.Fatalf("frames=%d, want 200", deploy.Frames)
	}
	if deploy.FPS != 50 {
		t.Fatalf("fps=%v, want 50", deploy.FPS)
	}
	if math.Abs(deploy.Duration()-4.0) > 1e-9 {
		t.Fatalf("duration=%v, want 4.0", deploy.Duration())
	}
	if len(deploy.JointNames) != JointCount || deploy.JointNames[0] != "left_hip_pitch_joint" {
		t.Fatalf("joint names=%v", deploy.JointNames[:1])
	}
}

func TestConvertRejectsMismatchedFields(t *testing.T) {
	clip := makeRawClip(5)
	clip.RootPos = clip.RootPos[:len(clip.RootPos)-3]

	_, err := NewConverter(nil).Convert(clip)
	if !errors.Is(err, ErrMalformedClip) {
		t.Fatalf("Convert error=%v, want ErrMalformedClip", err)
	}
}

func TestConvertRejectsNonUnitQuaternion(t *testing.T) {
	clip := makeRawClip(2)
	clip.RootRot[4] = 3.0

	_, err := NewConverter(nil).Convert(clip)
	if !errors.Is(err, ErrMalformedClip) {
		t.Fatalf("Convert error=%v, want ErrMalformedClip", err)
	}
}

func TestConvertRejectsZeroFPS(t *testing.T) {
	clip := makeRawClip(1)
	clip.FPS = 0

	_, err := NewConverter(nil).Convert(clip)
	if !errors.Is(err, ErrMalformedClip) {
		t.Fatalf("Convert error=%v, want ErrMalformedClip", err)
	}
}

func TestMotionRequestValidate(t *testing.T) {
	valid := MotionRequest{Text: "a person walks forward", MotionLengthSec: 4.0, InferenceSteps: 10}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	tests := []struct {
		name string
		req  MotionRequest
	}{
		{name: "empty text", req: MotionRequest{Text: " ", MotionLengthSec: 4, InferenceSteps: 10}},
		{name: "too long", req: MotionRequest{Text: "x", MotionLengthSec: 10.0, InferenceSteps: 10}},
		{name: "too short", req: MotionRequest{Text: "x", MotionLengthSec: 0.05, InferenceSteps: 10}},
		{name: "zero steps", req: MotionRequest{Text: "x", MotionLengthSec: 4, InferenceSteps: 0}},
		{name: "negative blend", req: MotionRequest{Text: "x", MotionLengthSec: 4, InferenceSteps: 10, Smoothing: SmoothingOptions{BlendFrames: -1}}},
	}
	for _, tt := range tests {
		if err := tt.req.Validate(); err == nil {
			t.Fatalf("Validate(%s) error=nil, want non-nil", tt.name)
		}
	}
}
