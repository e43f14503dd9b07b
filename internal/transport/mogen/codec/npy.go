package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Minimal NPY support: version 1.0/2.0 headers, little-endian C-order
// arrays with dtypes <f4, <i4, <i8, <f8 and fixed-width <U strings.

var npyMagic = []byte("\x93NUMPY")

var (
	descrPattern   = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	fortranPattern = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapePattern   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

type npyArray struct {
	descr string
	shape []int
	data  []byte
}

func (a npyArray) elements() int {
	n := 1
	for _, dim := range a.shape {
		n *= dim
	}
	return n
}

// shapeElements computes the element count with overflow checks so a hostile
// header cannot wrap the product negative and slip past the size validation.
func shapeElements(shape []int) (int, error) {
	n := 1
	for _, dim := range shape {
		if dim == 0 {
			return 0, nil
		}
		if n > math.MaxInt/dim {
			return 0, fmt.Errorf("%w: npy shape %v overflows", ErrFormat, shape)
		}
		n *= dim
	}
	return n, nil
}

func parseNPY(raw []byte) (npyArray, error) {
	if len(raw) < 10 || !bytes.HasPrefix(raw, npyMagic) {
		return npyArray{}, fmt.Errorf("%w: missing npy magic", ErrFormat)
	}
	major := raw[6]
	var headerLen int
	var headerStart int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(raw[8:10]))
		headerStart = 10
	case 2:
		if len(raw) < 12 {
			return npyArray{}, fmt.Errorf("%w: truncated npy v2 header", ErrFormat)
		}
		headerLen = int(binary.LittleEndian.Uint32(raw[8:12]))
		headerStart = 12
	default:
		return npyArray{}, fmt.Errorf("%w: unsupported npy version %d", ErrFormat, major)
	}
	if headerStart+headerLen > len(raw) {
		return npyArray{}, fmt.Errorf("%w: npy header exceeds payload", ErrFormat)
	}
	header := string(raw[headerStart : headerStart+headerLen])

	descrMatch := descrPattern.FindStringSubmatch(header)
	if descrMatch == nil {
		return npyArray{}, fmt.Errorf("%w: npy header missing descr", ErrFormat)
	}
	fortranMatch := fortranPattern.FindStringSubmatch(header)
	if fortranMatch != nil && fortranMatch[1] == "True" {
		return npyArray{}, fmt.Errorf("%w: fortran order arrays are not supported", ErrFormat)
	}
	shapeMatch := shapePattern.FindStringSubmatch(header)
	if shapeMatch == nil {
		return npyArray{}, fmt.Errorf("%w: npy header missing shape", ErrFormat)
	}
	shape, err := parseShape(shapeMatch[1])
	if err != nil {
		return npyArray{}, err
	}

	arr := npyArray{
		descr: descrMatch[1],
		shape: shape,
		data:  raw[headerStart+headerLen:],
	}
	itemSize, err := itemSize(arr.descr)
	if err != nil {
		return npyArray{}, err
	}
	elems, err := shapeElements(arr.shape)
	if err != nil {
		return npyArray{}, err
	}
	if elems > math.MaxInt/itemSize {
		return npyArray{}, fmt.Errorf("%w: npy shape %v overflows", ErrFormat, arr.shape)
	}
	if len(arr.data) < elems*itemSize {
		return npyArray{}, fmt.Errorf("%w: npy data truncated: have %d bytes, want %d",
			ErrFormat, len(arr.data), elems*itemSize)
	}
	return arr, nil
}

func parseShape(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil // scalar
	}
	parts := strings.Split(raw, ",")
	shape := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil || dim < 0 {
			return nil, fmt.Errorf("%w: bad npy shape dimension %q", ErrFormat, part)
		}
		shape = append(shape, dim)
	}
	return shape, nil
}

func itemSize(descr string) (int, error) {
	switch descr {
	case "<f4", "<i4", "|i4":
		return 4, nil
	case "<f8", "<i8":
		return 8, nil
	}
	if strings.HasPrefix(descr, "<U") {
		width, err := strconv.Atoi(descr[2:])
		if err != nil || width <= 0 {
			return 0, fmt.Errorf("%w: bad string dtype %q", ErrFormat, descr)
		}
		return width * 4, nil
	}
	return 0, fmt.Errorf("%w: unsupported dtype %q", ErrFormat, descr)
}

func (a npyArray) float32s() ([]float32, error) {
	n := a.elements()
	out := make([]float32, n)
	switch a.descr {
	case "<f4":
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(a.data[i*4:])
			out[i] = math.Float32frombits(bits)
		}
	case "<f8":
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint64(a.data[i*8:])
			out[i] = float32(math.Float64frombits(bits))
		}
	case "<i4", "|i4":
		for i := 0; i < n; i++ {
			out[i] = float32(int32(binary.LittleEndian.Uint32(a.data[i*4:])))
		}
	case "<i8":
		for i := 0; i < n; i++ {
			out[i] = float32(int64(binary.LittleEndian.Uint64(a.data[i*8:])))
		}
	default:
		return nil, fmt.Errorf("%w: dtype %q is not numeric", ErrFormat, a.descr)
	}
	return out, nil
}

func (a npyArray) strings() ([]string, error) {
	if !strings.HasPrefix(a.descr, "<U") {
		return nil, fmt.Errorf("%w: dtype %q is not a string array", ErrFormat, a.descr)
	}
	width, err := strconv.Atoi(a.descr[2:])
	if err != nil || width <= 0 {
		return nil, fmt.Errorf("%w: bad string dtype %q", ErrFormat, a.descr)
	}
	n := a.elements()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		var b strings.Builder
		for j := 0; j < width; j++ {
			r := rune(binary.LittleEndian.Uint32(a.data[(i*width+j)*4:]))
			if r == 0 {
				break
			}
			b.WriteRune(r)
		}
		out[i] = b.String()
	}
	return out, nil
}

func writeNPYFloat32(values []float32, shape []int) []byte {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return writeNPY("<f4", shape, data)
}

func writeNPYStrings(values []string) []byte {
	width := 1
	for _, s := range values {
		if n := len([]rune(s)); n > width {
			width = n
		}
	}
	data := make([]byte, len(values)*width*4)
	for i, s := range values {
		for j, r := range []rune(s) {
			binary.LittleEndian.PutUint32(data[(i*width+j)*4:], uint32(r))
		}
	}
	return writeNPY(fmt.Sprintf("<U%d", width), []int{len(values)}, data)
}

func writeNPY(descr string, shape []int, data []byte) []byte {
	dims := make([]string, len(shape))
	for i, dim := range shape {
		dims[i] = strconv.Itoa(dim)
	}
	shapeRepr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeRepr += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeRepr)

	// Pad so magic+version+len+header is a multiple of 64, newline-terminated.
	base := len(npyMagic) + 2 + 2
	total := base + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	buf := bytes.NewBuffer(make([]byte, 0, base+len(header)+len(data)))
	buf.Write(npyMagic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(header)))
	buf.Write(lenBytes)
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}
