package tensor

import (
	"fmt"
	"math"
	"runtime"
	"sync"
)

// Matrix is a read-only [rows, cols] weight in PyTorch layout (out, in).
// Implementations differ only in how elements are stored.
type Matrix interface {
	Rows() int
	Cols() int
	// MatVec computes dst = W x, len(dst) == Rows(), len(x) == Cols()
	MatVec(dst, x []float32)
	// Row writes row i, widened to float32, into dst
	Row(i int, dst []float32)
	// Bytes is the memory held by the weight data
	Bytes() int
}

// F32Matrix stores weights as float32
type F32Matrix struct {
	rows, cols int
	data       []float32
}

// NewF32Matrix wraps row-major data
func NewF32Matrix(rows, cols int, data []float32) (*F32Matrix, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("matrix data has %d elements, want %d", len(data), rows*cols)
	}
	return &F32Matrix{rows: rows, cols: cols, data: data}, nil
}

func (m *F32Matrix) Rows() int  { return m.rows }
func (m *F32Matrix) Cols() int  { return m.cols }
func (m *F32Matrix) Bytes() int { return len(m.data) * 4 }

func (m *F32Matrix) Row(i int, dst []float32) {
	copy(dst, m.data[i*m.cols:(i+1)*m.cols])
}

func (m *F32Matrix) MatVec(dst, x []float32) {
	parallelRows(m.rows, m.cols, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			row := m.data[r*m.cols : (r+1)*m.cols]
			var sum float32
			for c, w := range row {
				sum += w * x[c]
			}
			dst[r] = sum
		}
	})
}

// HalfMatrix stores weights as 16-bit floats, either IEEE half or bfloat16
type HalfMatrix struct {
	rows, cols int
	data       []uint16
	widen      func(uint16) float32
}

// NewHalfMatrix narrows row-major float32 data to float16 or bfloat16
func NewHalfMatrix(rows, cols int, data []float32, bf16 bool) (*HalfMatrix, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("matrix data has %d elements, want %d", len(data), rows*cols)
	}
	narrow, widen := Float32ToFloat16, Float16ToFloat32
	if bf16 {
		narrow, widen = Float32ToBFloat16, BFloat16ToFloat32
	}
	packed := make([]uint16, len(data))
	for i, v := range data {
		packed[i] = narrow(v)
	}
	return &HalfMatrix{rows: rows, cols: cols, data: packed, widen: widen}, nil
}

func (m *HalfMatrix) Rows() int  { return m.rows }
func (m *HalfMatrix) Cols() int  { return m.cols }
func (m *HalfMatrix) Bytes() int { return len(m.data) * 2 }

func (m *HalfMatrix) Row(i int, dst []float32) {
	for c, h := range m.data[i*m.cols : (i+1)*m.cols] {
		dst[c] = m.widen(h)
	}
}

func (m *HalfMatrix) MatVec(dst, x []float32) {
	parallelRows(m.rows, m.cols, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			row := m.data[r*m.cols : (r+1)*m.cols]
			var sum float32
			for c, h := range row {
				sum += m.widen(h) * x[c]
			}
			dst[r] = sum
		}
	})
}

// parallelRows splits [0, rows) across GOMAXPROCS workers when the
// product is large enough to be worth the goroutines.
func parallelRows(rows, cols int, fn func(lo, hi int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers < 2 || rows*cols < 1<<16 || rows < workers {
		fn(0, rows)
		return
	}

	chunk := (rows + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < rows; lo += chunk {
		hi := min(lo+chunk, rows)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// RMSNorm writes x / rms(x) * weight into dst
func RMSNorm(dst, x, weight []float32, eps float32) {
	var ss float32
	for _, v := range x {
		ss += v * v
	}
	scale := float32(1.0 / math.Sqrt(float64(ss/float32(len(x))+eps)))
	for i, v := range x {
		dst[i] = v * scale * weight[i]
	}
}

// SoftmaxInPlace normalizes x into a probability distribution
func SoftmaxInPlace(x []float32) {
	maxVal := x[0]
	for _, v := range x[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float32
	for i, v := range x {
		x[i] = float32(math.Exp(float64(v - maxVal)))
		sum += x[i]
	}
	for i := range x {
		x[i] /= sum
	}
}

// SiLU is x * sigmoid(x)
func SiLU(x float32) float32 {
	return x / (1 + float32(math.Exp(float64(-x))))
}

// AddInPlace accumulates src into dst
func AddInPlace(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

// Dot is the inner product of two equal-length vectors
func Dot(a, b []float32) float32 {
	var sum float32
	for i, v := range a {
		sum += v * b[i]
	}
	return sum
}
