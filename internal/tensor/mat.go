package tensor

import "math/rand"

// Mat is a dense row-major R x C matrix. Out-of-range access panics.
type Mat struct {
	R, C int
	Data []float32
}

func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Data: make([]float32, r*c)}
}

// Row aliases row i.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	return m.Data[i*m.C : (i+1)*m.C]
}

// VecMat sets dst to the row vector x times m.
func VecMat(dst, x []float32, m *Mat) {
	if len(x) != m.R || len(dst) != m.C {
		panic("vecmat shape mismatch")
	}
	clear(dst)
	for i, xi := range x {
		if xi == 0 {
			continue
		}
		for j, w := range m.Row(i) {
			dst[j] += xi * w
		}
	}
}

// FillRand draws every entry uniformly from (-scale, scale). The same seed
// gives the same matrix.
func FillRand(m *Mat, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32()*2 - 1) * scale
	}
}
