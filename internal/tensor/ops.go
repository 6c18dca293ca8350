package tensor

import "math"

func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// RMSNorm scales src by the reciprocal of its root mean square and by weight.
func RMSNorm(dst, src, weight []float32, eps float32) {
	var ss float32
	for _, v := range src {
		ss += v * v
	}
	inv := 1 / float32(math.Sqrt(float64(ss/float32(len(src))+eps)))
	for i, v := range src {
		dst[i] = v * inv * weight[i]
	}
}

func Relu(x []float32) {
	for i := range x {
		x[i] = max(x[i], 0)
	}
}

// LogSumExp is computed in float64 after subtracting the maximum. An empty
// slice gives -Inf.
func LogSumExp(x []float32) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	m := float64(x[0])
	for _, v := range x[1:] {
		m = max(m, float64(v))
	}
	if math.IsInf(m, 0) {
		return m
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v) - m)
	}
	return m + math.Log(sum)
}

// LogSoftmax writes log(softmax(src)) into dst.
func LogSoftmax(dst []float64, src []float32) {
	if len(dst) != len(src) {
		panic("log-softmax length mismatch")
	}
	lse := LogSumExp(src)
	for i, v := range src {
		dst[i] = float64(v) - lse
	}
}
