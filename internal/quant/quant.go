package quant

import (
	"math"
)

// MinScale is substituted whenever a tensor's observed range collapses to zero
// width (empty or constant tensors), so that a scale is never 0.
const MinScale float32 = 1e-8

const (
	SymmetricMax  = 127
	SymmetricMin  = -127
	AsymmetricMax = 255
	AsymmetricMin = 0
)

// Element is the storage type of a quantized value: int8 for symmetric
// tensors and uint8 for asymmetric ones.
type Element interface {
	int8 | uint8
}

// Tensor is an 8-bit quantized tensor. The real value of Values[i] is
// (Values[i] - ZeroPoint) * Scale. Tensors are produced by the functions in
// this package and are never modified after construction.
type Tensor[E Element] struct {
	Values    []E
	Scale     float32
	ZeroPoint int32
}

// Len returns the number of elements.
func (t Tensor[E]) Len() int { return len(t.Values) }

// Bounds returns the representable code range for E.
func Bounds[E Element]() (lo, hi int32) {
	var zero E
	switch any(zero).(type) {
	case int8:
		return SymmetricMin, SymmetricMax
	default:
		return AsymmetricMin, AsymmetricMax
	}
}

// QuantizeSymmetric maps x to signed codes in [-127, 127] with
// scale = max(|min|, |max|) / 127 and a zero point of 0.
func QuantizeSymmetric(x []float32) Tensor[int8] {
	lo, hi := MinMax(x)
	return QuantizeWithScale[int8](x, SymmetricScale(lo, hi), 0)
}

// QuantizeAsymmetric maps x to unsigned codes in [0, 255] with
// scale = (max - min) / 255 and zero point round(-min / scale). The observed
// range is widened to include 0 so that real zero has an exact code.
func QuantizeAsymmetric(x []float32) Tensor[uint8] {
	lo, hi := MinMax(x)
	scale, zp := AsymmetricParams(lo, hi)
	return QuantizeWithScale[uint8](x, scale, zp)
}

// QuantizeWithScale quantizes x with an externally supplied scale and zero
// point, saturating at the bounds of E. A non-positive scale is replaced by
// MinScale.
func QuantizeWithScale[E Element](x []float32, scale float32, zeroPoint int32) Tensor[E] {
	scale = guardScale(scale)
	lo, hi := Bounds[E]()
	zeroPoint = clampInt32(zeroPoint, lo, hi)

	out := make([]E, len(x))
	inv := 1.0 / float64(scale)
	for i, v := range x {
		q := roundToInt32(float64(v)*inv) + zeroPoint
		out[i] = E(clampInt32(q, lo, hi))
	}
	return Tensor[E]{Values: out, Scale: scale, ZeroPoint: zeroPoint}
}

// Dequantize reconstructs the real values of t.
func Dequantize[E Element](t Tensor[E]) []float32 {
	out := make([]float32, len(t.Values))
	for i, q := range t.Values {
		out[i] = float32(int32(q)-t.ZeroPoint) * t.Scale
	}
	return out
}

// SymmetricScale returns max(|lo|, |hi|) / 127, guarded by MinScale.
func SymmetricScale(lo, hi float32) float32 {
	maxAbs := max(abs32(lo), abs32(hi))
	return guardScale(maxAbs / SymmetricMax)
}

// AsymmetricParams returns the scale and zero point covering [lo, hi] ∪ {0}.
func AsymmetricParams(lo, hi float32) (float32, int32) {
	lo = min(lo, 0)
	hi = max(hi, 0)
	scale := guardScale((hi - lo) / AsymmetricMax)
	zp := roundToInt32(float64(-lo) / float64(scale))
	return scale, clampInt32(zp, AsymmetricMin, AsymmetricMax)
}

// MinMax returns the smallest and largest value of x, or (0, 0) when x is empty.
func MinMax(x []float32) (lo, hi float32) {
	if len(x) == 0 {
		return 0, 0
	}
	lo, hi = x[0], x[0]
	for _, v := range x[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func guardScale(s float32) float32 {
	switch {
	case math.IsInf(float64(s), 1):
		return math.MaxFloat32
	case !(s >= MinScale): // NaN fails every comparison
		return MinScale
	}
	return s
}

// roundLimit keeps rounded codes far enough from the int32 limits that adding
// a zero point cannot wrap.
const roundLimit = 1 << 30

// roundToInt32 rounds half away from zero, saturating at ±roundLimit.
func roundToInt32(v float64) int32 {
	r := math.Round(v)
	switch {
	case math.IsNaN(r):
		return 0
	case r > roundLimit:
		return roundLimit
	case r < -roundLimit:
		return -roundLimit
	}
	return int32(r)
}

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
