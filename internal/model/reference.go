package model

import (
	"fmt"

	"github.com/samcharles93/qnet/internal/kernels"
)

// Activations are the float outputs of every layer boundary for one input.
// Conv is nil for the fully-connected-only network. FC2 holds the logits.
type Activations struct {
	Input []float32
	Conv  []float32
	FC1   []float32
	ReLU  []float32
	FC2   []float32
}

// Reference runs the float forward pass. It is the ground truth the quantized
// pipeline approximates and the source of calibration ranges.
func Reference(g Geometry, f *FloatSet, input []float32) (Activations, error) {
	if err := checkInput(g, input); err != nil {
		return Activations{}, err
	}
	if err := f.Validate(g); err != nil {
		return Activations{}, err
	}

	act := Activations{Input: input}
	features := input
	if g.HasConv() {
		padded, err := kernels.Pad2D(input, g.Channels, g.Height, g.Width, g.Padding)
		if err != nil {
			return Activations{}, err
		}
		conv, err := kernels.ConvFloat(padded, f.ConvWeight, f.ConvBias, g.Conv())
		if err != nil {
			return Activations{}, fmt.Errorf("conv: %w", err)
		}
		act.Conv = conv
		features = conv
	}

	fc1, err := kernels.FullyConnectedFloat(features, f.FC1Weight, f.FC1Bias)
	if err != nil {
		return Activations{}, fmt.Errorf("fc1: %w", err)
	}
	act.FC1 = fc1

	relu := make([]float32, len(fc1))
	copy(relu, fc1)
	kernels.ReLUFloat(relu)
	act.ReLU = relu

	fc2, err := kernels.FullyConnectedFloat(relu, f.FC2Weight, f.FC2Bias)
	if err != nil {
		return Activations{}, fmt.Errorf("fc2: %w", err)
	}
	act.FC2 = fc2
	return act, nil
}

// ReferenceQuantizedWeights runs the float forward pass over the dequantized
// int8 weights of ws. Activations stay float, so the result isolates the
// error introduced by weight quantization alone.
func ReferenceQuantizedWeights(g Geometry, ws *WeightSet, input []float32) (Activations, error) {
	if err := ws.Validate(g); err != nil {
		return Activations{}, err
	}
	return Reference(g, ws.Dequantize(g), input)
}

func checkInput(g Geometry, input []float32) error {
	if len(input) != g.InputLen() {
		return fmt.Errorf("%w: got %d values, want %d", ErrInvalidInput, len(input), g.InputLen())
	}
	return nil
}
