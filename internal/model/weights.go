package model

import (
	"errors"
	"fmt"

	"github.com/samcharles93/qnet/internal/quant"
)

var (
	ErrInvalidGeometry = errors.New("model: invalid geometry")
	ErrInvalidWeights  = errors.New("model: invalid weights")
	ErrInvalidInput    = errors.New("model: invalid input")
	ErrMissingScales   = errors.New("model: static mode requires a scale record")
)

// FloatSet holds the trained float parameters. Conv fields are empty for the
// fully-connected-only network. Weight matrices are row-major [out][in]; conv
// weights are [out][in][k][k].
type FloatSet struct {
	ConvWeight []float32
	ConvBias   []float32
	FC1Weight  []float32
	FC1Bias    []float32
	FC2Weight  []float32
	FC2Bias    []float32
}

// Validate checks every tensor length against g.
func (f *FloatSet) Validate(g Geometry) error {
	if f == nil {
		return fmt.Errorf("%w: nil float weights", ErrInvalidWeights)
	}
	checks := []shapeCheck{
		{"fc1.weight", len(f.FC1Weight), g.Hidden * g.FeatureLen()},
		{"fc1.bias", len(f.FC1Bias), g.Hidden},
		{"fc2.weight", len(f.FC2Weight), g.Classes * g.Hidden},
		{"fc2.bias", len(f.FC2Bias), g.Classes},
	}
	if g.HasConv() {
		checks = append(checks,
			shapeCheck{"conv.weight", len(f.ConvWeight), g.Conv().WeightLen()},
			shapeCheck{"conv.bias", len(f.ConvBias), g.ConvChannels},
		)
	}
	for _, c := range checks {
		if c.got != c.want {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrInvalidWeights, c.name, c.got, c.want)
		}
	}
	return nil
}

type shapeCheck struct {
	name      string
	got, want int
}

// WeightSet is the quantized network: per-output-channel conv weights,
// per-tensor fc weights and float biases. It is never modified after it is
// built and may be shared between goroutines.
type WeightSet struct {
	Conv     quant.PerChannel
	ConvBias []float32
	FC1      quant.Tensor[int8]
	FC1Bias  []float32
	FC2      quant.Tensor[int8]
	FC2Bias  []float32
}

// Validate checks every tensor length against g.
func (w *WeightSet) Validate(g Geometry) error {
	if w == nil {
		return fmt.Errorf("%w: nil weight set", ErrInvalidWeights)
	}
	if g.HasConv() {
		cg := g.Conv()
		if len(w.Conv.Values) != cg.WeightLen() || w.Conv.Channels != g.ConvChannels || len(w.Conv.Scales) != g.ConvChannels {
			return fmt.Errorf("%w: conv has %d values/%d scales, want %d/%d",
				ErrInvalidWeights, len(w.Conv.Values), len(w.Conv.Scales), cg.WeightLen(), g.ConvChannels)
		}
		if len(w.ConvBias) != g.ConvChannels {
			return fmt.Errorf("%w: conv bias has %d values, want %d", ErrInvalidWeights, len(w.ConvBias), g.ConvChannels)
		}
	}
	if n := g.Hidden * g.FeatureLen(); w.FC1.Len() != n || len(w.FC1Bias) != g.Hidden {
		return fmt.Errorf("%w: fc1 has %d weights/%d biases, want %d/%d", ErrInvalidWeights, w.FC1.Len(), len(w.FC1Bias), n, g.Hidden)
	}
	if n := g.Classes * g.Hidden; w.FC2.Len() != n || len(w.FC2Bias) != g.Classes {
		return fmt.Errorf("%w: fc2 has %d weights/%d biases, want %d/%d", ErrInvalidWeights, w.FC2.Len(), len(w.FC2Bias), n, g.Classes)
	}
	if w.FC1.ZeroPoint != 0 || w.FC2.ZeroPoint != 0 {
		return fmt.Errorf("%w: fc weights must have zero point 0", ErrInvalidWeights)
	}
	return nil
}

// Dequantize expands w back to float parameters. Biases are copied as is.
func (w *WeightSet) Dequantize(g Geometry) *FloatSet {
	f := &FloatSet{
		FC1Weight: quant.Dequantize(w.FC1),
		FC1Bias:   append([]float32(nil), w.FC1Bias...),
		FC2Weight: quant.Dequantize(w.FC2),
		FC2Bias:   append([]float32(nil), w.FC2Bias...),
	}
	if g.HasConv() {
		f.ConvWeight = quant.DequantizePerChannel(w.Conv)
		f.ConvBias = append([]float32(nil), w.ConvBias...)
	}
	return f
}
