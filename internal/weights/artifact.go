package weights

import (
	"errors"
	"fmt"

	"github.com/samcharles93/qnet/internal/model"
	"github.com/samcharles93/qnet/internal/quant"
	"github.com/samcharles93/qnet/internal/safetensors"
)

// Layer names used as tensor name prefixes in the quantized artifact.
const (
	LayerConv = "conv"
	LayerFC1  = "fc1"
	LayerFC2  = "fc2"
)

// Float checkpoint tensor names, as exported from a PyTorch state_dict.
const (
	floatConv = "conv1"
	floatFC1  = "fc1"
	floatFC2  = "fc2"
)

const (
	metaFormat   = "qnet.format"
	formatInt8   = "int8-v1"
	suffixWeight = ".weight"
	suffixScale  = ".scale"
	suffixBias   = ".bias"
)

var ErrFormat = errors.New("weights: unsupported artifact")

// Save writes ws and its geometry to a safetensors artifact at path.
func Save(path string, g model.Geometry, ws *model.WeightSet) error {
	if err := ws.Validate(g); err != nil {
		return err
	}
	w := safetensors.NewWriter()
	w.SetMetadata(metaFormat, formatInt8)
	for k, v := range g.Metadata() {
		w.SetMetadata(k, v)
	}

	if g.HasConv() {
		cg := g.Conv()
		if err := addLayer(w, LayerConv, []int{cg.OutChannels, cg.InChannels, cg.Kernel, cg.Kernel}, ws.Conv.Values, ws.Conv.Scales, ws.ConvBias); err != nil {
			return err
		}
	}
	if err := addLayer(w, LayerFC1, []int{g.Hidden, g.FeatureLen()}, ws.FC1.Values, []float32{ws.FC1.Scale}, ws.FC1Bias); err != nil {
		return err
	}
	if err := addLayer(w, LayerFC2, []int{g.Classes, g.Hidden}, ws.FC2.Values, []float32{ws.FC2.Scale}, ws.FC2Bias); err != nil {
		return err
	}
	return w.WriteFile(path)
}

func addLayer(w *safetensors.Writer, name string, shape []int, q []int8, scales, bias []float32) error {
	if err := w.AddI8(name+suffixWeight, shape, q); err != nil {
		return err
	}
	if err := w.AddF32(name+suffixScale, []int{len(scales)}, scales); err != nil {
		return err
	}
	return w.AddF32(name+suffixBias, []int{len(bias)}, bias)
}

// Load reads a quantized artifact written by Save.
func Load(path string) (model.Geometry, *model.WeightSet, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return model.Geometry{}, nil, err
	}
	defer func() { _ = f.Close() }()

	if got := f.Metadata[metaFormat]; got != formatInt8 {
		return model.Geometry{}, nil, fmt.Errorf("%w: %s has format %q, want %q", ErrFormat, path, got, formatInt8)
	}
	g, err := model.GeometryFromMetadata(f.Metadata)
	if err != nil {
		return model.Geometry{}, nil, err
	}

	ws := &model.WeightSet{}
	if g.HasConv() {
		q, scales, bias, err := readLayer(f, LayerConv)
		if err != nil {
			return model.Geometry{}, nil, err
		}
		ws.Conv = quant.PerChannel{Values: q, Scales: scales, Channels: len(scales)}
		ws.ConvBias = bias
	}
	for _, l := range []struct {
		name string
		dst  *quant.Tensor[int8]
		bias *[]float32
	}{
		{LayerFC1, &ws.FC1, &ws.FC1Bias},
		{LayerFC2, &ws.FC2, &ws.FC2Bias},
	} {
		q, scales, bias, err := readLayer(f, l.name)
		if err != nil {
			return model.Geometry{}, nil, err
		}
		if len(scales) != 1 {
			return model.Geometry{}, nil, fmt.Errorf("%w: %s has %d scales, want 1", ErrFormat, l.name, len(scales))
		}
		*l.dst = quant.Tensor[int8]{Values: q, Scale: scales[0]}
		*l.bias = bias
	}
	if err := ws.Validate(g); err != nil {
		return model.Geometry{}, nil, err
	}
	return g, ws, nil
}

func readLayer(f *safetensors.File, name string) ([]int8, []float32, []float32, error) {
	q, _, err := f.ReadTensorI8(name + suffixWeight)
	if err != nil {
		return nil, nil, nil, err
	}
	scales, _, err := f.ReadTensorF32(name + suffixScale)
	if err != nil {
		return nil, nil, nil, err
	}
	for i, s := range scales {
		if !(s > 0) {
			return nil, nil, nil, fmt.Errorf("%w: %s scale %d is %g", ErrFormat, name, i, s)
		}
	}
	bias, _, err := f.ReadTensorF32(name + suffixBias)
	if err != nil {
		return nil, nil, nil, err
	}
	return q, scales, bias, nil
}

// LoadFloat reads a float checkpoint (conv1.*, fc1.*, fc2.* tensors in F32,
// F16 or BF16). Layer widths are taken from the tensor shapes; the input size
// and convolution padding and stride come from base. A checkpoint without
// conv1.weight selects the fully-connected-only network.
func LoadFloat(path string, base model.Geometry) (model.Geometry, *model.FloatSet, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return model.Geometry{}, nil, err
	}
	defer func() { _ = f.Close() }()

	g := base
	fs := &model.FloatSet{}
	if info, ok := f.Tensor(floatConv + suffixWeight); ok {
		if len(info.Shape) != 4 || info.Shape[2] != info.Shape[3] {
			return model.Geometry{}, nil, fmt.Errorf("%w: conv1.weight shape %v, want [out in k k]", ErrFormat, info.Shape)
		}
		g.ConvChannels, g.Channels, g.Kernel = info.Shape[0], info.Shape[1], info.Shape[2]
		if g.Stride == 0 {
			g.Stride = 1
		}
		if fs.ConvWeight, _, err = f.ReadTensorF32(floatConv + suffixWeight); err != nil {
			return model.Geometry{}, nil, err
		}
		if fs.ConvBias, _, err = f.ReadTensorF32(floatConv + suffixBias); err != nil {
			return model.Geometry{}, nil, err
		}
	} else {
		g.ConvChannels, g.Kernel, g.Padding, g.Stride = 0, 0, 0, 0
	}

	fc1, ok := f.Tensor(floatFC1 + suffixWeight)
	if !ok || len(fc1.Shape) != 2 {
		return model.Geometry{}, nil, fmt.Errorf("%w: fc1.weight missing or not 2-D", ErrFormat)
	}
	fc2, ok := f.Tensor(floatFC2 + suffixWeight)
	if !ok || len(fc2.Shape) != 2 {
		return model.Geometry{}, nil, fmt.Errorf("%w: fc2.weight missing or not 2-D", ErrFormat)
	}
	g.Hidden, g.Classes = fc1.Shape[0], fc2.Shape[0]
	if err := g.Validate(); err != nil {
		return model.Geometry{}, nil, err
	}

	reads := []struct {
		name string
		dst  *[]float32
	}{
		{floatFC1 + suffixWeight, &fs.FC1Weight},
		{floatFC1 + suffixBias, &fs.FC1Bias},
		{floatFC2 + suffixWeight, &fs.FC2Weight},
		{floatFC2 + suffixBias, &fs.FC2Bias},
	}
	for _, r := range reads {
		if *r.dst, _, err = f.ReadTensorF32(r.name); err != nil {
			return model.Geometry{}, nil, err
		}
	}
	if err := fs.Validate(g); err != nil {
		return model.Geometry{}, nil, err
	}
	return g, fs, nil
}

// SaveFloat writes fs as a float checkpoint readable by LoadFloat.
func SaveFloat(path string, g model.Geometry, fs *model.FloatSet) error {
	if err := fs.Validate(g); err != nil {
		return err
	}
	w := safetensors.NewWriter()
	w.SetMetadata("format", "pt")
	if g.HasConv() {
		if err := w.AddF32(floatConv+suffixWeight, []int{g.ConvChannels, g.Channels, g.Kernel, g.Kernel}, fs.ConvWeight); err != nil {
			return err
		}
		if err := w.AddF32(floatConv+suffixBias, []int{g.ConvChannels}, fs.ConvBias); err != nil {
			return err
		}
	}
	tensors := []struct {
		name  string
		shape []int
		data  []float32
	}{
		{floatFC1 + suffixWeight, []int{g.Hidden, g.FeatureLen()}, fs.FC1Weight},
		{floatFC1 + suffixBias, []int{g.Hidden}, fs.FC1Bias},
		{floatFC2 + suffixWeight, []int{g.Classes, g.Hidden}, fs.FC2Weight},
		{floatFC2 + suffixBias, []int{g.Classes}, fs.FC2Bias},
	}
	for _, t := range tensors {
		if err := w.AddF32(t.name, t.shape, t.data); err != nil {
			return err
		}
	}
	return w.WriteFile(path)
}
