package kernels

import "github.com/samcharles93/qnet/internal/quant"

// centered widens the codes of t to int16 with the zero point removed, so a
// single int8 x int16 dot product serves both signed and unsigned inputs.
func centered[E quant.Element](t quant.Tensor[E]) []int16 {
	out := make([]int16, len(t.Values))
	zp := int16(t.ZeroPoint)
	for i, q := range t.Values {
		out[i] = int16(q) - zp
	}
	return out
}

func dotInt8Int16(q []int8, x []int16, n int) int32 {
	var sum int32
	for i := 0; i < n; i++ {
		sum += int32(q[i]) * int32(x[i])
	}
	return sum
}
