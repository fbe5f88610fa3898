package kernels

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/samcharles93/qnet/internal/quant"
)

var (
	ErrShapeMismatch       = errors.New("kernels: shape mismatch")
	ErrAccumulatorOverflow = errors.New("kernels: accumulator may overflow")
	ErrInvalidConfig       = errors.New("kernels: invalid layer config")
)

// Mode selects how a kernel chooses the scale of its quantized output.
type Mode int

const (
	// Dynamic derives the output scale from the range of each call's output.
	Dynamic Mode = iota
	// Static requantizes with a scale fixed ahead of time by calibration.
	Static
)

func (m Mode) String() string {
	switch m {
	case Dynamic:
		return "dynamic"
	case Static:
		return "static"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "dynamic" or "static" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dynamic", "":
		return Dynamic, nil
	case "static":
		return Static, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
}

// LayerConfig describes how one kernel invocation requantizes its output.
// Scale is only consulted in Static mode.
type LayerConfig struct {
	Mode  Mode
	Scale float32
}

// DynamicLayer returns a config that recomputes the output scale per call.
func DynamicLayer() LayerConfig { return LayerConfig{Mode: Dynamic} }

// StaticLayer returns a config that requantizes with a fixed scale.
func StaticLayer(scale float32) LayerConfig { return LayerConfig{Mode: Static, Scale: scale} }

func (c LayerConfig) Validate() error {
	switch c.Mode {
	case Dynamic:
		return nil
	case Static:
		if !(c.Scale > 0) || math.IsInf(float64(c.Scale), 0) {
			return fmt.Errorf("%w: static scale %g must be positive and finite", ErrInvalidConfig, c.Scale)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidConfig, c.Mode)
	}
}

// requantizeSigned converts float layer outputs back to symmetric int8.
func (c LayerConfig) requantizeSigned(vals []float32) quant.Tensor[int8] {
	if c.Mode == Static {
		return quant.QuantizeWithScale[int8](vals, c.Scale, 0)
	}
	return quant.QuantizeSymmetric(vals)
}

// requantizeUnsigned converts non-negative float outputs to asymmetric uint8.
// Static mode pins the zero point at 0: the calibrated minimum is 0.
func (c LayerConfig) requantizeUnsigned(vals []float32) quant.Tensor[uint8] {
	if c.Mode == Static {
		return quant.QuantizeWithScale[uint8](vals, c.Scale, 0)
	}
	return quant.QuantizeAsymmetric(vals)
}

// CheckAccumulator reports whether a dot product of terms products between
// an int8 weight (|w| <= 127) and an input code with magnitude up to
// maxInput fits an int32 accumulator in the worst case.
func CheckAccumulator(terms int, maxInput int32) error {
	if terms < 0 || maxInput < 0 {
		return fmt.Errorf("%w: negative bound", ErrInvalidConfig)
	}
	worst := int64(terms) * int64(quant.SymmetricMax) * int64(maxInput)
	if worst > math.MaxInt32 {
		return fmt.Errorf("%w: %d terms x %d x %d = %d exceeds int32", ErrAccumulatorOverflow, terms, quant.SymmetricMax, maxInput, worst)
	}
	return nil
}

// MaxInputMagnitude is the largest |q - zero_point| an input of type E can
// contribute to an accumulator.
func MaxInputMagnitude[E quant.Element]() int32 {
	lo, hi := quant.Bounds[E]()
	if lo < 0 {
		return max(-lo, hi)
	}
	return hi - lo
}

// Quantize encodes a float activation as symmetric int8 under cfg: a fixed
// scale in Static mode, its own range otherwise.
func Quantize(x []float32, cfg LayerConfig) (quant.Tensor[int8], error) {
	if err := cfg.Validate(); err != nil {
		return quant.Tensor[int8]{}, err
	}
	return cfg.requantizeSigned(x), nil
}
