package model

import (
	"fmt"

	"github.com/samcharles93/qnet/internal/kernels"
	"github.com/samcharles93/qnet/internal/logger"
	"github.com/samcharles93/qnet/internal/quant"
)

// Options configures a Pipeline.
type Options struct {
	// Mode is the default scale strategy for Classify.
	Mode kernels.Mode
	// Scales enables static mode. Required when Mode is kernels.Static.
	Scales *ScaleRecord
	// ArgmaxThreshold is the value a logit must exceed to be predicted.
	// Nil selects DefaultArgmaxThreshold.
	ArgmaxThreshold *float32
	Logger          logger.Logger
}

// Pipeline runs quantized inference:
// quantize(input) -> [pad, conv] -> fc1 -> relu -> fc2 -> dequantize -> argmax.
// A Pipeline is immutable and safe for concurrent use.
type Pipeline struct {
	geom      Geometry
	weights   *WeightSet
	mode      kernels.Mode
	scales    ScaleRecord
	hasScales bool
	threshold float32
	log       logger.Logger
}

// Prediction is the result of one classification.
type Prediction struct {
	Class  int
	Logits []float32
	Mode   kernels.Mode
}

// Trace holds the quantized tensor produced at every layer boundary. Conv is
// empty for the fully-connected-only network.
type Trace struct {
	Input quant.Tensor[int8]
	Conv  quant.Tensor[int8]
	FC1   quant.Tensor[int8]
	ReLU  quant.Tensor[uint8]
	FC2   quant.Tensor[int8]
}

// NewPipeline validates ws against g, rejects geometries whose worst-case
// accumulation could overflow int32, and binds the scale strategy.
func NewPipeline(g Geometry, ws *WeightSet, opts Options) (*Pipeline, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := checkAccumulators(g); err != nil {
		return nil, err
	}
	if err := ws.Validate(g); err != nil {
		return nil, err
	}

	p := &Pipeline{
		geom:      g,
		weights:   ws,
		mode:      opts.Mode,
		threshold: DefaultArgmaxThreshold,
		log:       opts.Logger,
	}
	if opts.ArgmaxThreshold != nil {
		p.threshold = *opts.ArgmaxThreshold
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	if opts.Scales != nil {
		if err := opts.Scales.Validate(g); err != nil {
			return nil, err
		}
		p.scales = *opts.Scales
		p.hasScales = true
	}
	if _, err := p.layers(p.mode); err != nil {
		return nil, err
	}

	p.log.Debug("pipeline ready",
		"mode", p.mode.String(),
		"conv", g.HasConv(),
		"features", g.FeatureLen(),
		"hidden", g.Hidden,
		"classes", g.Classes,
		"static_scales", p.hasScales,
	)
	return p, nil
}

func checkAccumulators(g Geometry) error {
	if g.HasConv() {
		if err := kernels.CheckAccumulator(g.Conv().WindowLen(), kernels.MaxInputMagnitude[int8]()); err != nil {
			return fmt.Errorf("conv: %w", err)
		}
	}
	if err := kernels.CheckAccumulator(g.FeatureLen(), kernels.MaxInputMagnitude[int8]()); err != nil {
		return fmt.Errorf("fc1: %w", err)
	}
	if err := kernels.CheckAccumulator(g.Hidden, kernels.MaxInputMagnitude[uint8]()); err != nil {
		return fmt.Errorf("fc2: %w", err)
	}
	return nil
}

func (p *Pipeline) Geometry() Geometry  { return p.geom }
func (p *Pipeline) Mode() kernels.Mode  { return p.mode }
func (p *Pipeline) Threshold() float32  { return p.threshold }
func (p *Pipeline) Weights() *WeightSet { return p.weights }

// Scales returns the static scale record, if one was supplied.
func (p *Pipeline) Scales() (ScaleRecord, bool) { return p.scales, p.hasScales }

// Classify predicts the class of input in the pipeline's default mode.
func (p *Pipeline) Classify(input []float32) (Prediction, error) {
	return p.ClassifyMode(input, p.mode)
}

// ClassifyMode predicts the class of input using the given scale strategy.
func (p *Pipeline) ClassifyMode(input []float32, mode kernels.Mode) (Prediction, error) {
	_, pred, err := p.Trace(input, mode)
	return pred, err
}

type layerConfigs struct {
	input, conv, fc1, relu, fc2 kernels.LayerConfig
}

func (p *Pipeline) layers(mode kernels.Mode) (layerConfigs, error) {
	switch mode {
	case kernels.Dynamic:
		d := kernels.DynamicLayer()
		return layerConfigs{input: d, conv: d, fc1: d, relu: d, fc2: d}, nil
	case kernels.Static:
		if !p.hasScales {
			return layerConfigs{}, ErrMissingScales
		}
		s := p.scales
		return layerConfigs{
			input: kernels.StaticLayer(s.Input),
			conv:  kernels.StaticLayer(s.ConvOutput),
			fc1:   kernels.StaticLayer(s.FC1Output),
			relu:  kernels.StaticLayer(s.ReLUOutput),
			fc2:   kernels.StaticLayer(s.FC2Output),
		}, nil
	default:
		return layerConfigs{}, fmt.Errorf("%w: %s", kernels.ErrInvalidConfig, mode)
	}
}

// Trace classifies input and returns every intermediate quantized tensor.
func (p *Pipeline) Trace(input []float32, mode kernels.Mode) (Trace, Prediction, error) {
	if err := checkInput(p.geom, input); err != nil {
		return Trace{}, Prediction{}, err
	}
	cfg, err := p.layers(mode)
	if err != nil {
		return Trace{}, Prediction{}, err
	}
	g, w := p.geom, p.weights

	var tr Trace
	features := input
	if g.HasConv() {
		if features, err = kernels.Pad2D(input, g.Channels, g.Height, g.Width, g.Padding); err != nil {
			return Trace{}, Prediction{}, err
		}
	}
	if tr.Input, err = kernels.Quantize(features, cfg.input); err != nil {
		return Trace{}, Prediction{}, fmt.Errorf("input: %w", err)
	}

	x := tr.Input
	if g.HasConv() {
		if tr.Conv, err = kernels.Conv2D(tr.Input, w.Conv, w.ConvBias, g.Conv(), cfg.conv); err != nil {
			return Trace{}, Prediction{}, fmt.Errorf("conv: %w", err)
		}
		x = tr.Conv
	}
	if tr.FC1, err = kernels.FullyConnected(x, w.FC1, w.FC1Bias, cfg.fc1); err != nil {
		return Trace{}, Prediction{}, fmt.Errorf("fc1: %w", err)
	}
	if tr.ReLU, err = kernels.ReLU(tr.FC1, cfg.relu); err != nil {
		return Trace{}, Prediction{}, fmt.Errorf("relu: %w", err)
	}
	if tr.FC2, err = kernels.FullyConnected(tr.ReLU, w.FC2, w.FC2Bias, cfg.fc2); err != nil {
		return Trace{}, Prediction{}, fmt.Errorf("fc2: %w", err)
	}

	logits := quant.Dequantize(tr.FC2)
	pred := Prediction{
		Class:  Argmax(logits, p.threshold),
		Logits: logits,
		Mode:   mode,
	}
	return tr, pred, nil
}
