package quant

import (
	"errors"
	"fmt"
)

var ErrInvalidChannels = errors.New("quant: invalid channel count")

// PerChannel is a symmetric int8 tensor whose leading dimension is split into
// Channels equal slices, each quantized with its own scale. Zero points are
// always 0.
type PerChannel struct {
	Values   []int8
	Scales   []float32
	Channels int
}

// ChannelLen returns the number of values per channel.
func (p PerChannel) ChannelLen() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Values) / p.Channels
}

// Channel returns the codes of channel c.
func (p PerChannel) Channel(c int) []int8 {
	n := p.ChannelLen()
	return p.Values[c*n : (c+1)*n]
}

// QuantizePerChannel quantizes x as channels contiguous slices. Channel c's
// scale is derived only from the values of channel c.
func QuantizePerChannel(x []float32, channels int) (PerChannel, error) {
	if channels <= 0 || len(x)%channels != 0 {
		return PerChannel{}, fmt.Errorf("%w: %d channels for %d values", ErrInvalidChannels, channels, len(x))
	}
	n := len(x) / channels
	out := PerChannel{
		Values:   make([]int8, len(x)),
		Scales:   make([]float32, channels),
		Channels: channels,
	}
	for c := range channels {
		src := x[c*n : (c+1)*n]
		q := QuantizeSymmetric(src)
		copy(out.Values[c*n:], q.Values)
		out.Scales[c] = q.Scale
	}
	return out, nil
}

// DequantizePerChannel reconstructs the real values of p.
func DequantizePerChannel(p PerChannel) []float32 {
	out := make([]float32, len(p.Values))
	n := p.ChannelLen()
	for c := 0; c < p.Channels; c++ {
		s := p.Scales[c]
		for i := c * n; i < (c+1)*n; i++ {
			out[i] = float32(p.Values[i]) * s
		}
	}
	return out
}
