package tensor

import (
	"fmt"
	"math"
)

// Q4Matrix holds 4-bit blockwise absmax weights. Each row is split into
// groups of GroupSize values sharing one float32 scale; a value is stored
// as a signed nibble q in [-8, 7] and dequantizes to q * scale.
type Q4Matrix struct {
	rows, cols int
	group      int
	scales     []float32 // rows * cols/group
	packed     []byte    // two nibbles per byte, low nibble first
}

// QuantizeQ4 packs row-major float32 weights into 4-bit groups.
// cols must be a multiple of group, and group must be even.
func QuantizeQ4(rows, cols int, data []float32, group int) (*Q4Matrix, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("matrix data has %d elements, want %d", len(data), rows*cols)
	}
	if group <= 0 || group%2 != 0 {
		return nil, fmt.Errorf("quant group size must be positive and even, got %d", group)
	}
	if cols%group != 0 {
		return nil, fmt.Errorf("cols %d not divisible by quant group size %d", cols, group)
	}

	m := &Q4Matrix{
		rows:   rows,
		cols:   cols,
		group:  group,
		scales: make([]float32, rows*cols/group),
		packed: make([]byte, rows*cols/2),
	}

	for g := range m.scales {
		block := data[g*group : (g+1)*group]
		var absMax float32
		for _, v := range block {
			if a := float32(math.Abs(float64(v))); a > absMax {
				absMax = a
			}
		}
		scale := absMax / 7
		m.scales[g] = scale

		base := g * group / 2
		for i := 0; i < group; i += 2 {
			m.packed[base+i/2] = quantNibble(block[i], scale) | quantNibble(block[i+1], scale)<<4
		}
	}

	return m, nil
}

func quantNibble(v, scale float32) byte {
	if scale == 0 {
		return 8
	}
	q := int(math.Round(float64(v / scale)))
	q = max(-8, min(7, q))
	return byte(q + 8)
}

func (m *Q4Matrix) Rows() int      { return m.rows }
func (m *Q4Matrix) Cols() int      { return m.cols }
func (m *Q4Matrix) GroupSize() int { return m.group }
func (m *Q4Matrix) Bytes() int     { return len(m.packed) + len(m.scales)*4 }

func (m *Q4Matrix) Row(i int, dst []float32) {
	groups := m.cols / m.group
	for g := 0; g < groups; g++ {
		scale := m.scales[i*groups+g]
		base := (i*m.cols + g*m.group) / 2
		for j := 0; j < m.group/2; j++ {
			b := m.packed[base+j]
			dst[g*m.group+2*j] = float32(int(b&0x0F)-8) * scale
			dst[g*m.group+2*j+1] = float32(int(b>>4)-8) * scale
		}
	}
}

func (m *Q4Matrix) MatVec(dst, x []float32) {
	groups := m.cols / m.group
	parallelRows(m.rows, m.cols, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			var sum float32
			for g := 0; g < groups; g++ {
				xs := x[g*m.group : (g+1)*m.group]
				base := (r*m.cols + g*m.group) / 2
				var acc float32
				for j := 0; j < m.group/2; j++ {
					b := m.packed[base+j]
					acc += float32(int(b&0x0F)-8)*xs[2*j] + float32(int(b>>4)-8)*xs[2*j+1]
				}
				sum += acc * m.scales[r*groups+g]
			}
			dst[r] = sum
		}
	})
}
