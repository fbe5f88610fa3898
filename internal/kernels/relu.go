package kernels

import "github.com/samcharles93/qnet/internal/quant"

// ReLU clamps the real values of in at zero and requantizes them to an
// unsigned tensor.
func ReLU(in quant.Tensor[int8], cfg LayerConfig) (quant.Tensor[uint8], error) {
	if err := cfg.Validate(); err != nil {
		return quant.Tensor[uint8]{}, err
	}
	vals := quant.Dequantize(in)
	ReLUFloat(vals)
	return cfg.requantizeUnsigned(vals), nil
}

// ReLUFloat applies max(0, v) in place.
func ReLUFloat(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}
