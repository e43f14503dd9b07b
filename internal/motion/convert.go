package motion

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedClip marks conversion input that violates the clip invariants.
// Nothing is saved or loaded for a malformed clip.
var ErrMalformedClip = errors.New("malformed clip")

// quatNormTolerance bounds |1 - ||q||| for root orientation quaternions.
const quatNormTolerance = 1e-3

// Mapping is the fixed permutation from generator joint order to controller
// joint order, built once by name lookup.
type Mapping struct {
	forward []int // forward[dst] = src
	names   []string
}

// NewMapping builds a permutation mapping from two joint name lists.
func NewMapping(generator []string, controller []string) (*Mapping, error) {
	if len(generator) != len(controller) {
		return nil, fmt.Errorf("joint order length mismatch: generator=%d controller=%d",
			len(generator), len(controller))
	}
	index := make(map[string]int, len(generator))
	for i, name := range generator {
		if _, ok := index[name]; ok {
			return nil, fmt.Errorf("duplicate generator joint %q", name)
		}
		index[name] = i
	}
	forward := make([]int, len(controller))
	for i, name := range controller {
		src, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("controller joint %q not found in generator order", name)
		}
		forward[i] = src
	}
	names := make([]string, len(controller))
	copy(names, controller)
	return &Mapping{forward: forward, names: names}, nil
}

// DefaultMapping returns the built-in G1 generator-to-controller mapping.
func DefaultMapping() *Mapping {
	return defaultMapping
}

var defaultMapping = func() *Mapping {
	m, err := NewMapping(GeneratorJointOrder, ControllerJointOrder)
	if err != nil {
		panic(err)
	}
	return m
}()

// JointNames returns the controller-order joint names.
func (m *Mapping) JointNames() []string {
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}

// Forward returns the permutation table: Forward()[dst] = src.
func (m *Mapping) Forward() []int {
	out := make([]int, len(m.forward))
	copy(out, m.forward)
	return out
}

// Inverse returns the inverse permutation: Inverse()[src] = dst.
func (m *Mapping) Inverse() []int {
	inv := make([]int, len(m.forward))
	for dst, src := range m.forward {
		inv[src] = dst
	}
	return inv
}

// Converter reorders generator clips into controller space. Pure and total
// over well-formed input; no resampling, no smoothing, frame count preserved.
type Converter struct {
	mapping *Mapping
}

// NewConverter executes the newConverter function.
func NewConverter(mapping *Mapping) *Converter {
	if mapping == nil {
		mapping = DefaultMapping()
	}
	return &Converter{mapping: mapping}
}

// Convert executes the convert method.
func (c *Converter) Convert(raw RawClip) (DeployClip, error) {
	if err := c.validate(raw); err != nil {
		return DeployClip{}, err
	}

	joints := len(c.mapping.forward)
	frames := raw.Frames

	dof := make([]float32, frames*joints)
	rootPos := make([]float32, frames*rootPosDims)
	rootRot := make([]float32, frames*rootRotDims)

	copy(rootPos, raw.RootPos)

	for f := 0; f < frames; f++ {
		base := f * joints
		for dst, src := range c.mapping.forward {
			dof[base+dst] = raw.JointPos[base+src]
		}

		// wxyz -> xyzw is a component permutation, not a rotation.
		q := raw.RootRot[f*rootRotDims : f*rootRotDims+rootRotDims]
		norm := math.Sqrt(float64(q[0])*float64(q[0]) + float64(q[1])*float64(q[1]) +
			float64(q[2])*float64(q[2]) + float64(q[3])*float64(q[3]))
		if math.Abs(norm-1) > quatNormTolerance {
			return DeployClip{}, fmt.Errorf("%w: root_rot frame %d norm %.6f", ErrMalformedClip, f, norm)
		}
		out := rootRot[f*rootRotDims : f*rootRotDims+rootRotDims]
		out[0] = q[1]
		out[1] = q[2]
		out[2] = q[3]
		out[3] = q[0]
	}

	return DeployClip{
		FPS:        raw.FPS,
		Frames:     frames,
		DofPos:     dof,
		RootPos:    rootPos,
		RootRot:    rootRot,
		JointNames: c.mapping.JointNames(),
	}, nil
}

func (c *Converter) validate(raw RawClip) error {
	joints := len(c.mapping.forward)
	if raw.FPS <= 0 {
		return fmt.Errorf("%w: fps %.2f", ErrMalformedClip, raw.FPS)
	}
	if raw.Frames < 0 {
		return fmt.Errorf("%w: negative frame count %d", ErrMalformedClip, raw.Frames)
	}
	if len(raw.JointPos) != raw.Frames*joints {
		return fmt.Errorf("%w: joint_pos has %d values, want %d", ErrMalformedClip, len(raw.JointPos), raw.Frames*joints)
	}
	if len(raw.RootPos) != raw.Frames*rootPosDims {
		return fmt.Errorf("%w: root_pos has %d values, want %d", ErrMalformedClip, len(raw.RootPos), raw.Frames*rootPosDims)
	}
	if len(raw.RootRot) != raw.Frames*rootRotDims {
		return fmt.Errorf("%w: root_rot has %d values, want %d", ErrMalformedClip, len(raw.RootRot), raw.Frames*rootRotDims)
	}
	return nil
}
