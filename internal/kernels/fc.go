package kernels

import (
	"fmt"

	"github.com/samcharles93/qnet/internal/quant"
)

// FullyConnected computes w·x + bias with int8 weights stored row-major as
// [outDim][len(x)] and a single per-tensor weight scale. The input may be
// signed or unsigned; its zero point is removed before accumulation.
func FullyConnected[E quant.Element](in quant.Tensor[E], w quant.Tensor[int8], bias []float32, cfg LayerConfig) (quant.Tensor[int8], error) {
	vals, err := FullyConnectedRaw(in, w, bias)
	if err != nil {
		return quant.Tensor[int8]{}, err
	}
	if err := cfg.Validate(); err != nil {
		return quant.Tensor[int8]{}, err
	}
	return cfg.requantizeSigned(vals), nil
}

// FullyConnectedRaw returns the real valued projection without requantizing.
func FullyConnectedRaw[E quant.Element](in quant.Tensor[E], w quant.Tensor[int8], bias []float32) ([]float32, error) {
	inDim, outDim := in.Len(), len(bias)
	if err := checkFC(inDim, outDim, len(w.Values)); err != nil {
		return nil, err
	}
	if w.ZeroPoint != 0 {
		return nil, fmt.Errorf("%w: fc weights must be symmetric, zero point %d", ErrShapeMismatch, w.ZeroPoint)
	}
	x := centered(in)
	rescale := in.Scale * w.Scale
	out := make([]float32, outDim)
	for i := 0; i < outDim; i++ {
		acc := dotInt8Int16(w.Values[i*inDim:(i+1)*inDim], x, inDim)
		out[i] = float32(acc)*rescale + bias[i]
	}
	return out, nil
}

// FullyConnectedFloat is the float reference projection.
func FullyConnectedFloat(in, w, bias []float32) ([]float32, error) {
	inDim, outDim := len(in), len(bias)
	if err := checkFC(inDim, outDim, len(w)); err != nil {
		return nil, err
	}
	out := make([]float32, outDim)
	for i := 0; i < outDim; i++ {
		row := w[i*inDim : (i+1)*inDim]
		var sum float32
		for j, v := range in {
			sum += row[j] * v
		}
		out[i] = sum + bias[i]
	}
	return out, nil
}

func checkFC(inDim, outDim, weights int) error {
	if inDim == 0 || outDim == 0 {
		return fmt.Errorf("%w: fc dims %dx%d", ErrShapeMismatch, outDim, inDim)
	}
	if weights != inDim*outDim {
		return fmt.Errorf("%w: fc weights have %d values, want %d", ErrShapeMismatch, weights, inDim*outDim)
	}
	return nil
}
