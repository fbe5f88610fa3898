package model

import (
	"fmt"
	"strconv"

	"github.com/samcharles93/qnet/internal/kernels"
)

// Geometry fixes the shape of the classifier: an optional padded convolution
// followed by two fully-connected layers with a ReLU between them.
type Geometry struct {
	Channels     int // input channels
	Height       int // unpadded input height
	Width        int // unpadded input width
	Padding      int
	Kernel       int
	Stride       int
	ConvChannels int // 0 selects the fully-connected-only network
	Hidden       int
	Classes      int
}

// DefaultGeometry is the MNIST convolutional classifier:
// 1x28x28 -> pad 1 -> conv 3x3x5 -> fc 3920x128 -> relu -> fc 128x10.
func DefaultGeometry() Geometry {
	return Geometry{
		Channels:     1,
		Height:       28,
		Width:        28,
		Padding:      1,
		Kernel:       3,
		Stride:       1,
		ConvChannels: 5,
		Hidden:       128,
		Classes:      10,
	}
}

// FCGeometry is the MNIST multilayer perceptron: 784 -> 128 -> relu -> 10.
func FCGeometry() Geometry {
	return Geometry{
		Channels: 1,
		Height:   28,
		Width:    28,
		Hidden:   128,
		Classes:  10,
	}
}

// HasConv reports whether the network starts with a convolution.
func (g Geometry) HasConv() bool { return g.ConvChannels > 0 }

// InputLen is the number of floats in one unpadded input image.
func (g Geometry) InputLen() int { return g.Channels * g.Height * g.Width }

// Conv returns the kernel geometry of the convolution over the padded input.
func (g Geometry) Conv() kernels.ConvGeometry {
	return kernels.ConvGeometry{
		InChannels:  g.Channels,
		OutChannels: g.ConvChannels,
		Height:      g.Height + 2*g.Padding,
		Width:       g.Width + 2*g.Padding,
		Kernel:      g.Kernel,
		Stride:      g.Stride,
	}
}

// FeatureLen is the input width of fc1: the flattened convolution output, or
// the raw input when there is no convolution.
func (g Geometry) FeatureLen() int {
	if !g.HasConv() {
		return g.InputLen()
	}
	return g.Conv().OutputLen()
}

func (g Geometry) Validate() error {
	if g.Channels <= 0 || g.Height <= 0 || g.Width <= 0 {
		return fmt.Errorf("%w: input %dx%dx%d", ErrInvalidGeometry, g.Channels, g.Height, g.Width)
	}
	if g.Hidden <= 0 || g.Classes <= 0 {
		return fmt.Errorf("%w: hidden %d, classes %d", ErrInvalidGeometry, g.Hidden, g.Classes)
	}
	if g.ConvChannels < 0 || g.Padding < 0 {
		return fmt.Errorf("%w: conv channels %d, padding %d", ErrInvalidGeometry, g.ConvChannels, g.Padding)
	}
	if !g.HasConv() {
		return nil
	}
	if err := g.Conv().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGeometry, err)
	}
	return nil
}

// Metadata keys used when a geometry is stored alongside the weights.
const (
	metaChannels     = "qnet.channels"
	metaHeight       = "qnet.height"
	metaWidth        = "qnet.width"
	metaPadding      = "qnet.padding"
	metaKernel       = "qnet.kernel"
	metaStride       = "qnet.stride"
	metaConvChannels = "qnet.conv_channels"
	metaHidden       = "qnet.hidden"
	metaClasses      = "qnet.classes"
)

// Metadata renders g as string key/value pairs.
func (g Geometry) Metadata() map[string]string {
	return map[string]string{
		metaChannels:     strconv.Itoa(g.Channels),
		metaHeight:       strconv.Itoa(g.Height),
		metaWidth:        strconv.Itoa(g.Width),
		metaPadding:      strconv.Itoa(g.Padding),
		metaKernel:       strconv.Itoa(g.Kernel),
		metaStride:       strconv.Itoa(g.Stride),
		metaConvChannels: strconv.Itoa(g.ConvChannels),
		metaHidden:       strconv.Itoa(g.Hidden),
		metaClasses:      strconv.Itoa(g.Classes),
	}
}

// GeometryFromMetadata is the inverse of Geometry.Metadata. Missing keys are an
// error; the result is validated.
func GeometryFromMetadata(meta map[string]string) (Geometry, error) {
	var g Geometry
	fields := []struct {
		key string
		dst *int
	}{
		{metaChannels, &g.Channels},
		{metaHeight, &g.Height},
		{metaWidth, &g.Width},
		{metaPadding, &g.Padding},
		{metaKernel, &g.Kernel},
		{metaStride, &g.Stride},
		{metaConvChannels, &g.ConvChannels},
		{metaHidden, &g.Hidden},
		{metaClasses, &g.Classes},
	}
	for _, f := range fields {
		raw, ok := meta[f.key]
		if !ok {
			return Geometry{}, fmt.Errorf("%w: metadata missing %q", ErrInvalidGeometry, f.key)
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return Geometry{}, fmt.Errorf("%w: metadata %q=%q: %v", ErrInvalidGeometry, f.key, raw, err)
		}
		*f.dst = v
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}
