// Package weights converts trained float parameters into the int8 weight set
// used by the quantized pipeline and moves both forms to and from disk.
package weights

import (
	"fmt"

	"github.com/samcharles93/qnet/internal/model"
	"github.com/samcharles93/qnet/internal/quant"
)

// Quantize converts f into a WeightSet: the convolution per output channel,
// each fully-connected matrix per tensor. Biases stay float.
func Quantize(g model.Geometry, f *model.FloatSet) (*model.WeightSet, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := f.Validate(g); err != nil {
		return nil, err
	}
	ws := &model.WeightSet{
		FC1:     quant.QuantizeSymmetric(f.FC1Weight),
		FC1Bias: clone(f.FC1Bias),
		FC2:     quant.QuantizeSymmetric(f.FC2Weight),
		FC2Bias: clone(f.FC2Bias),
	}
	if g.HasConv() {
		conv, err := quant.QuantizePerChannel(f.ConvWeight, g.ConvChannels)
		if err != nil {
			return nil, fmt.Errorf("conv: %w", err)
		}
		ws.Conv = conv
		ws.ConvBias = clone(f.ConvBias)
	}
	return ws, nil
}

// LayerReport summarizes the quantization of one weight tensor.
type LayerReport struct {
	Name   string
	Values int
	Scales []float32
	// MaxError is the largest |w - dequantize(q)| over the tensor.
	MaxError float32
}

// Report compares ws against the float weights it was built from.
func Report(g model.Geometry, f *model.FloatSet, ws *model.WeightSet) []LayerReport {
	var out []LayerReport
	if g.HasConv() {
		out = append(out, LayerReport{
			Name:     LayerConv,
			Values:   len(ws.Conv.Values),
			Scales:   clone(ws.Conv.Scales),
			MaxError: maxError(f.ConvWeight, quant.DequantizePerChannel(ws.Conv)),
		})
	}
	out = append(out,
		LayerReport{
			Name:     LayerFC1,
			Values:   ws.FC1.Len(),
			Scales:   []float32{ws.FC1.Scale},
			MaxError: maxError(f.FC1Weight, quant.Dequantize(ws.FC1)),
		},
		LayerReport{
			Name:     LayerFC2,
			Values:   ws.FC2.Len(),
			Scales:   []float32{ws.FC2.Scale},
			MaxError: maxError(f.FC2Weight, quant.Dequantize(ws.FC2)),
		},
	)
	return out
}

func maxError(want, got []float32) float32 {
	var worst float32
	for i := range want {
		d := want[i] - got[i]
		if d < 0 {
			d = -d
		}
		worst = max(worst, d)
	}
	return worst
}

func clone(x []float32) []float32 {
	if x == nil {
		return nil
	}
	out := make([]float32, len(x))
	copy(out, x)
	return out
}
