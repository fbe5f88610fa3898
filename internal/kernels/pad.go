package kernels

import "fmt"

// Pad2D surrounds each of the channels planes of x (h rows by w columns) with
// pad rows and columns of zeros.
func Pad2D(x []float32, channels, h, w, pad int) ([]float32, error) {
	if channels <= 0 || h <= 0 || w <= 0 || pad < 0 {
		return nil, fmt.Errorf("%w: pad %d over %dx%dx%d", ErrShapeMismatch, pad, channels, h, w)
	}
	if len(x) != channels*h*w {
		return nil, fmt.Errorf("%w: pad input has %d values, want %d", ErrShapeMismatch, len(x), channels*h*w)
	}
	ph, pw := h+2*pad, w+2*pad
	out := make([]float32, channels*ph*pw)
	for c := 0; c < channels; c++ {
		for i := 0; i < h; i++ {
			dst := c*ph*pw + (i+pad)*pw + pad
			src := c*h*w + i*w
			copy(out[dst:dst+w], x[src:src+w])
		}
	}
	return out, nil
}
