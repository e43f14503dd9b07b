// Package codec packs and parses the NPZ clip containers used on the
// generation channel and in the motion store. Parsing happens at the
// boundary only; the rest of the system works with motion clip types.
package codec

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/humanoid-lab/motion-bridge/internal/motion"
)

// ErrFormat marks a malformed or unsupported clip container.
var ErrFormat = errors.New("clip container format error")

// DecodeRaw parses a generation payload: fps, joint_pos (T x joints,
// generator order), root_pos (T x 3), root_rot (T x 4, wxyz).
func DecodeRaw(payload []byte) (motion.RawClip, error) {
	arrays, err := readNPZ(payload)
	if err != nil {
		return motion.RawClip{}, err
	}

	fps, err := scalarField(arrays, "fps")
	if err != nil {
		return motion.RawClip{}, err
	}
	jointPos, jointShape, err := matrixField(arrays, "joint_pos")
	if err != nil {
		return motion.RawClip{}, err
	}
	rootPos, rootPosShape, err := matrixField(arrays, "root_pos")
	if err != nil {
		return motion.RawClip{}, err
	}
	rootRot, rootRotShape, err := matrixField(arrays, "root_rot")
	if err != nil {
		return motion.RawClip{}, err
	}

	frames := jointShape[0]
	if jointShape[1] != motion.JointCount {
		return motion.RawClip{}, fmt.Errorf("%w: joint_pos has %d joints, want %d", ErrFormat, jointShape[1], motion.JointCount)
	}
	if rootPosShape[0] != frames || rootPosShape[1] != 3 {
		return motion.RawClip{}, fmt.Errorf("%w: root_pos shape %v, want (%d, 3)", ErrFormat, rootPosShape, frames)
	}
	if rootRotShape[0] != frames || rootRotShape[1] != 4 {
		return motion.RawClip{}, fmt.Errorf("%w: root_rot shape %v, want (%d, 4)", ErrFormat, rootRotShape, frames)
	}

	return motion.RawClip{
		FPS:      fps,
		Frames:   frames,
		JointPos: jointPos,
		RootPos:  rootPos,
		RootRot:  rootRot,
	}, nil
}

// EncodeRaw renders a RawClip into the generation payload layout. The
// bridge itself only decodes; this exists for tests and tooling.
func EncodeRaw(clip motion.RawClip) ([]byte, error) {
	return writeNPZ(map[string][]byte{
		"fps":       writeNPYFloat32([]float32{clip.FPS}, []int{1}),
		"joint_pos": writeNPYFloat32(clip.JointPos, []int{clip.Frames, motion.JointCount}),
		"root_pos":  writeNPYFloat32(clip.RootPos, []int{clip.Frames, 3}),
		"root_rot":  writeNPYFloat32(clip.RootRot, []int{clip.Frames, 4}),
	})
}

// EncodeDeploy renders a DeployClip into the on-disk container the
// execution process loads: fps, dof_pos, root_pos, root_rot, joint_names.
func EncodeDeploy(clip motion.DeployClip) ([]byte, error) {
	joints := motion.JointCount
	if len(clip.JointNames) > 0 {
		joints = len(clip.JointNames)
	}
	entries := map[string][]byte{
		"fps":      writeNPYFloat32([]float32{clip.FPS}, nil),
		"dof_pos":  writeNPYFloat32(clip.DofPos, []int{clip.Frames, joints}),
		"root_pos": writeNPYFloat32(clip.RootPos, []int{clip.Frames, 3}),
		"root_rot": writeNPYFloat32(clip.RootRot, []int{clip.Frames, 4}),
	}
	if len(clip.JointNames) > 0 {
		entries["joint_names"] = writeNPYStrings(clip.JointNames)
	}
	return writeNPZ(entries)
}

// DecodeDeploy parses an on-disk deploy container.
func DecodeDeploy(payload []byte) (motion.DeployClip, error) {
	arrays, err := readNPZ(payload)
	if err != nil {
		return motion.DeployClip{}, err
	}

	fps, err := scalarField(arrays, "fps")
	if err != nil {
		return motion.DeployClip{}, err
	}
	dofPos, dofShape, err := matrixField(arrays, "dof_pos")
	if err != nil {
		return motion.DeployClip{}, err
	}
	rootPos, _, err := matrixField(arrays, "root_pos")
	if err != nil {
		return motion.DeployClip{}, err
	}
	rootRot, _, err := matrixField(arrays, "root_rot")
	if err != nil {
		return motion.DeployClip{}, err
	}

	clip := motion.DeployClip{
		FPS:     fps,
		Frames:  dofShape[0],
		DofPos:  dofPos,
		RootPos: rootPos,
		RootRot: rootRot,
	}
	if names, ok := arrays["joint_names"]; ok {
		clip.JointNames, err = names.strings()
		if err != nil {
			return motion.DeployClip{}, err
		}
	}
	return clip, nil
}

func readNPZ(payload []byte) (map[string]npyArray, error) {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: not an npz archive: %v", ErrFormat, err)
	}
	arrays := make(map[string]npyArray, len(reader.File))
	for _, file := range reader.File {
		name := strings.TrimSuffix(file.Name, ".npy")
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open entry %s: %v", ErrFormat, file.Name, err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read entry %s: %v", ErrFormat, file.Name, err)
		}
		arr, err := parseNPY(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", file.Name, err)
		}
		arrays[name] = arr
	}
	return arrays, nil
}

func writeNPZ(entries map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedKeys(entries) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Store})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(entries[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedKeys(entries map[string][]byte) []string {
	keys := make([]string, 0, len(entries))
	for name := range entries {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

func scalarField(arrays map[string]npyArray, name string) (float32, error) {
	arr, ok := arrays[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %s", ErrFormat, name)
	}
	values, err := arr.float32s()
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", name, err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("%w: field %s has %d values, want scalar", ErrFormat, name, len(values))
	}
	return values[0], nil
}

func matrixField(arrays map[string]npyArray, name string) ([]float32, []int, error) {
	arr, ok := arrays[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing field %s", ErrFormat, name)
	}
	if len(arr.shape) != 2 {
		return nil, nil, fmt.Errorf("%w: field %s has shape %v, want 2 dims", ErrFormat, name, arr.shape)
	}
	values, err := arr.float32s()
	if err != nil {
		return nil, nil, fmt.Errorf("field %s: %w", name, err)
	}
	return values, arr.shape, nil
}
