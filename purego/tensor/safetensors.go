package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
)

const maxHeaderSize = 100 << 20

// TensorInfo describes a tensor in safetensors format
type TensorInfo struct {
	Dtype  string   `json:"dtype"`
	Shape  []int    `json:"shape"`
	Offset [2]int64 `json:"data_offsets"`
}

// NumElements is the product of the shape
func (ti TensorInfo) NumElements() int {
	n := 1
	for _, d := range ti.Shape {
		n *= d
	}
	return n
}

type safetensorsFile struct {
	f         *os.File
	path      string
	dataStart int64
	tensors   map[string]TensorInfo
}

func openSafetensors(path string) (*safetensorsFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	st, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	st.f = f
	st.path = path
	return st, nil
}

func readHeader(r io.ReaderAt) (*safetensorsFile, error) {
	var prefix [8]byte
	if _, err := r.ReadAt(prefix[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	size := binary.LittleEndian.Uint64(prefix[:])
	if size == 0 || size > maxHeaderSize {
		return nil, fmt.Errorf("invalid header size %d", size)
	}

	header := make([]byte, size)
	if _, err := r.ReadAt(header, 8); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(header, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	tensors := make(map[string]TensorInfo, len(entries))
	for name, raw := range entries {
		if name == "__metadata__" {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("failed to parse tensor %s: %w", name, err)
		}
		if info.Offset[1] < info.Offset[0] {
			return nil, fmt.Errorf("tensor %s has inverted offsets", name)
		}
		tensors[name] = info
	}

	return &safetensorsFile{dataStart: int64(8 + size), tensors: tensors}, nil
}

func (s *safetensorsFile) read(name string) ([]byte, error) {
	info := s.tensors[name]
	buf := make([]byte, info.Offset[1]-info.Offset[0])
	if _, err := s.f.ReadAt(buf, s.dataStart+info.Offset[0]); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}
	return buf, nil
}

// WeightSet is a read view over one safetensors file or a sharded set
type WeightSet struct {
	files []*safetensorsFile
	index map[string]*safetensorsFile
}

// OpenWeights opens model.safetensors.index.json and its shards, or
// model.safetensors when there is no index.
func OpenWeights(dir string) (*WeightSet, error) {
	indexPath := filepath.Join(dir, "model.safetensors.index.json")
	data, err := os.ReadFile(indexPath)
	switch {
	case err == nil:
		var index struct {
			WeightMap map[string]string `json:"weight_map"`
		}
		if err := json.Unmarshal(data, &index); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(indexPath), err)
		}
		shards := make(map[string]bool)
		for _, shard := range index.WeightMap {
			shards[shard] = true
		}
		names := make([]string, 0, len(shards))
		for shard := range shards {
			names = append(names, filepath.Join(dir, shard))
		}
		sort.Strings(names)
		return openWeightFiles(names)
	case errors.Is(err, os.ErrNotExist):
		return openWeightFiles([]string{filepath.Join(dir, "model.safetensors")})
	default:
		return nil, err
	}
}

func openWeightFiles(paths []string) (*WeightSet, error) {
	ws := &WeightSet{index: make(map[string]*safetensorsFile)}
	for _, path := range paths {
		st, err := openSafetensors(path)
		if err != nil {
			ws.Close()
			return nil, err
		}
		ws.files = append(ws.files, st)
		for name := range st.tensors {
			if prev, dup := ws.index[name]; dup {
				ws.Close()
				return nil, fmt.Errorf("tensor %s in both %s and %s", name, filepath.Base(prev.path), filepath.Base(path))
			}
			ws.index[name] = st
		}
	}
	return ws, nil
}

// Names lists every tensor, sorted
func (ws *WeightSet) Names() []string {
	names := make([]string, 0, len(ws.index))
	for name := range ws.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Raw reads the stored bytes of a tensor
func (ws *WeightSet) Raw(name string) ([]byte, TensorInfo, error) {
	st, ok := ws.index[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s not found", name)
	}
	raw, err := st.read(name)
	return raw, st.tensors[name], err
}

// Close releases every shard
func (ws *WeightSet) Close() error {
	var errs []error
	for _, st := range ws.files {
		errs = append(errs, st.f.Close())
	}
	ws.files = nil
	return errors.Join(errs...)
}

// DecodeFloats widens F32, F16 or BF16 little-endian data to float32
func DecodeFloats(raw []byte, info TensorInfo) ([]float32, error) {
	n := info.NumElements()

	var width int
	var widen func([]byte) float32
	switch info.Dtype {
	case "F32":
		width = 4
		widen = func(b []byte) float32 { return float32frombytes(b) }
	case "F16":
		width = 2
		widen = func(b []byte) float32 { return Float16ToFloat32(binary.LittleEndian.Uint16(b)) }
	case "BF16":
		width = 2
		widen = func(b []byte) float32 { return BFloat16ToFloat32(binary.LittleEndian.Uint16(b)) }
	default:
		return nil, fmt.Errorf("unsupported dtype %s", info.Dtype)
	}

	if len(raw) != n*width {
		return nil, fmt.Errorf("%s tensor of shape %v has %d bytes, want %d", info.Dtype, info.Shape, len(raw), n*width)
	}

	out := make([]float32, n)
	for i := range out {
		out[i] = widen(raw[i*width : (i+1)*width])
	}
	return out, nil
}

func float32frombytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
