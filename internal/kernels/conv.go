package kernels

import (
	"fmt"

	"github.com/samcharles93/qnet/internal/quant"
)

// ConvGeometry describes a 2-D convolution over an input that has already
// been zero padded. Tensors are laid out channel-major: input [In][H][W],
// weights [Out][In][K][K], output [Out][OutH][OutW].
type ConvGeometry struct {
	InChannels  int
	OutChannels int
	Height      int // padded input height
	Width       int // padded input width
	Kernel      int
	Stride      int
}

func (g ConvGeometry) stride() int {
	if g.Stride <= 0 {
		return 1
	}
	return g.Stride
}

// OutHeight returns the number of output rows.
func (g ConvGeometry) OutHeight() int { return (g.Height-g.Kernel)/g.stride() + 1 }

// OutWidth returns the number of output columns.
func (g ConvGeometry) OutWidth() int { return (g.Width-g.Kernel)/g.stride() + 1 }

func (g ConvGeometry) InputLen() int  { return g.InChannels * g.Height * g.Width }
func (g ConvGeometry) WeightLen() int { return g.OutChannels * g.WindowLen() }
func (g ConvGeometry) OutputLen() int { return g.OutChannels * g.OutHeight() * g.OutWidth() }

// WindowLen is the number of products accumulated per output element.
func (g ConvGeometry) WindowLen() int { return g.InChannels * g.Kernel * g.Kernel }

func (g ConvGeometry) Validate() error {
	if g.InChannels <= 0 || g.OutChannels <= 0 || g.Kernel <= 0 {
		return fmt.Errorf("%w: conv channels and kernel must be positive: %+v", ErrShapeMismatch, g)
	}
	if g.Height < g.Kernel || g.Width < g.Kernel {
		return fmt.Errorf("%w: conv input %dx%d smaller than kernel %d", ErrShapeMismatch, g.Height, g.Width, g.Kernel)
	}
	return nil
}

// Conv2D convolves a quantized input with per-output-channel quantized
// weights using int32 accumulation. Each accumulator is rescaled to a real
// value acc*inScale*wScale[o] + bias[o] and the whole output is requantized to
// symmetric int8 according to cfg.
func Conv2D(in quant.Tensor[int8], w quant.PerChannel, bias []float32, g ConvGeometry, cfg LayerConfig) (quant.Tensor[int8], error) {
	if err := checkConv(in.Len(), w, bias, g); err != nil {
		return quant.Tensor[int8]{}, err
	}
	if err := cfg.Validate(); err != nil {
		return quant.Tensor[int8]{}, err
	}
	x := centered(in)
	vals := convAccumulate(x, in.Scale, w, bias, g)
	return cfg.requantizeSigned(vals), nil
}

// ConvRaw is Conv2D without the final requantization; it returns the real
// valued output so callers can inspect or compare it.
func ConvRaw(in quant.Tensor[int8], w quant.PerChannel, bias []float32, g ConvGeometry) ([]float32, error) {
	if err := checkConv(in.Len(), w, bias, g); err != nil {
		return nil, err
	}
	return convAccumulate(centered(in), in.Scale, w, bias, g), nil
}

func checkConv(inLen int, w quant.PerChannel, bias []float32, g ConvGeometry) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if inLen != g.InputLen() {
		return fmt.Errorf("%w: conv input has %d values, want %d", ErrShapeMismatch, inLen, g.InputLen())
	}
	if len(w.Values) != g.WeightLen() || w.Channels != g.OutChannels || len(w.Scales) != g.OutChannels {
		return fmt.Errorf("%w: conv weights %d values/%d scales, want %d/%d", ErrShapeMismatch, len(w.Values), len(w.Scales), g.WeightLen(), g.OutChannels)
	}
	if len(bias) != g.OutChannels {
		return fmt.Errorf("%w: conv bias has %d values, want %d", ErrShapeMismatch, len(bias), g.OutChannels)
	}
	return nil
}

func convAccumulate(x []int16, inScale float32, w quant.PerChannel, bias []float32, g ConvGeometry) []float32 {
	oh, ow, k, s := g.OutHeight(), g.OutWidth(), g.Kernel, g.stride()
	plane := g.Height * g.Width
	window := g.WindowLen()
	out := make([]float32, g.OutputLen())

	for o := 0; o < g.OutChannels; o++ {
		wo := w.Values[o*window : (o+1)*window]
		rescale := inScale * w.Scales[o]
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				var acc int32
				for c := 0; c < g.InChannels; c++ {
					for ki := 0; ki < k; ki++ {
						row := c*plane + (i*s+ki)*g.Width + j*s
						wrow := (c*k + ki) * k
						acc += dotInt8Int16(wo[wrow:wrow+k], x[row:row+k], k)
					}
				}
				out[(o*oh+i)*ow+j] = float32(acc)*rescale + bias[o]
			}
		}
	}
	return out
}

// ConvFloat is the float reference convolution with the same layout as Conv2D.
func ConvFloat(in, w, bias []float32, g ConvGeometry) ([]float32, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(in) != g.InputLen() || len(w) != g.WeightLen() || len(bias) != g.OutChannels {
		return nil, fmt.Errorf("%w: float conv got in=%d w=%d bias=%d for %+v", ErrShapeMismatch, len(in), len(w), len(bias), g)
	}
	oh, ow, k, s := g.OutHeight(), g.OutWidth(), g.Kernel, g.stride()
	plane := g.Height * g.Width
	window := g.WindowLen()
	out := make([]float32, g.OutputLen())

	for o := 0; o < g.OutChannels; o++ {
		wo := w[o*window : (o+1)*window]
		for i := 0; i < oh; i++ {
			for j := 0; j < ow; j++ {
				var sum float32
				for c := 0; c < g.InChannels; c++ {
					for ki := 0; ki < k; ki++ {
						row := c*plane + (i*s+ki)*g.Width + j*s
						wrow := (c*k + ki) * k
						for kj := 0; kj < k; kj++ {
							sum += in[row+kj] * wo[wrow+kj]
						}
					}
				}
				out[(o*oh+i)*ow+j] = sum + bias[o]
			}
		}
	}
	return out, nil
}
