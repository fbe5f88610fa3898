package kernels

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/samcharles93/qnet/internal/quant"
)

// ternary fills n values from {-1, 0, 1} in a fixed pattern so that symmetric
// quantization with scale 1/127 reconstructs them exactly.
func ternary(n, phase int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((i*7+phase)%3 - 1)
	}
	return out
}

func TestConv2DMatchesFloatReference(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		g    ConvGeometry
	}{
		{"single channel", ConvGeometry{InChannels: 1, OutChannels: 2, Height: 6, Width: 6, Kernel: 3, Stride: 1}},
		{"multi channel", ConvGeometry{InChannels: 2, OutChannels: 3, Height: 5, Width: 7, Kernel: 3, Stride: 1}},
		{"strided", ConvGeometry{InChannels: 1, OutChannels: 2, Height: 7, Width: 7, Kernel: 3, Stride: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := tc.g
			in := ternary(g.InputLen(), 1)
			w := ternary(g.WeightLen(), 2)
			bias := make([]float32, g.OutChannels)
			for o := range bias {
				bias[o] = 0.1 * float32(o+1)
			}

			ref, err := ConvFloat(in, w, bias, g)
			if err != nil {
				t.Fatalf("ConvFloat: %v", err)
			}
			qin := quant.QuantizeSymmetric(in)
			qw, err := quant.QuantizePerChannel(w, g.OutChannels)
			if err != nil {
				t.Fatalf("QuantizePerChannel: %v", err)
			}

			raw, err := ConvRaw(qin, qw, bias, g)
			if err != nil {
				t.Fatalf("ConvRaw: %v", err)
			}
			for i := range ref {
				if math.Abs(float64(raw[i]-ref[i])) > 1e-4 {
					t.Fatalf("raw[%d] = %g, want %g", i, raw[i], ref[i])
				}
			}

			out, err := Conv2D(qin, qw, bias, g, DynamicLayer())
			if err != nil {
				t.Fatalf("Conv2D: %v", err)
			}
			if out.Len() != g.OutputLen() {
				t.Fatalf("output len = %d, want %d", out.Len(), g.OutputLen())
			}
			deq := quant.Dequantize(out)
			for i := range ref {
				if diff := math.Abs(float64(deq[i] - ref[i])); diff > float64(out.Scale)/2+1e-4 {
					t.Fatalf("deq[%d] = %g, ref %g, diff %g > scale/2 %g", i, deq[i], ref[i], diff, out.Scale/2)
				}
			}
		})
	}
}

func TestConv2DStaticUsesFixedScale(t *testing.T) {
	t.Parallel()
	g := ConvGeometry{InChannels: 1, OutChannels: 2, Height: 6, Width: 6, Kernel: 3, Stride: 1}
	in := ternary(g.InputLen(), 0)
	w := ternary(g.WeightLen(), 1)
	bias := []float32{0.1, -0.25}

	ref, err := ConvFloat(in, w, bias, g)
	if err != nil {
		t.Fatalf("ConvFloat: %v", err)
	}
	qw, err := quant.QuantizePerChannel(w, g.OutChannels)
	if err != nil {
		t.Fatalf("QuantizePerChannel: %v", err)
	}
	const scale = 0.05
	out, err := Conv2D(quant.QuantizeSymmetric(in), qw, bias, g, StaticLayer(scale))
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	if out.Scale != scale {
		t.Fatalf("scale = %g, want %g", out.Scale, scale)
	}
	for i, r := range ref {
		ideal := float64(r) / scale
		got := float64(out.Values[i])
		switch {
		case ideal >= 127.5:
			if got != 127 {
				t.Fatalf("code[%d] = %v, want saturated 127 (ideal %g)", i, got, ideal)
			}
		case ideal <= -127.5:
			if got != -127 {
				t.Fatalf("code[%d] = %v, want saturated -127 (ideal %g)", i, got, ideal)
			}
		default:
			if math.Abs(got-ideal) > 0.5+1e-3 {
				t.Fatalf("code[%d] = %v, ideal %g", i, got, ideal)
			}
		}
	}
}

func TestConv2DShapeMismatch(t *testing.T) {
	t.Parallel()
	g := ConvGeometry{InChannels: 1, OutChannels: 2, Height: 4, Width: 4, Kernel: 3, Stride: 1}
	qw, _ := quant.QuantizePerChannel(ternary(g.WeightLen(), 0), 2)
	_, err := Conv2D(quant.QuantizeSymmetric(make([]float32, 15)), qw, []float32{0, 0}, g, DynamicLayer())
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	_, err = Conv2D(quant.QuantizeSymmetric(make([]float32, 16)), qw, []float32{0}, g, DynamicLayer())
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch for bias, got %v", err)
	}
}

func TestFullyConnectedUnsignedInputWithZeroPoint(t *testing.T) {
	t.Parallel()
	in := quant.Tensor[uint8]{Values: []uint8{10, 20, 30}, Scale: 0.5, ZeroPoint: 10}
	w := quant.Tensor[int8]{Values: []int8{1, 2, 3, -1, 0, 1}, Scale: 0.1}
	bias := []float32{0.5, -0.5}

	raw, err := FullyConnectedRaw(in, w, bias)
	if err != nil {
		t.Fatalf("FullyConnectedRaw: %v", err)
	}
	want := []float32{4.5, 0.5}
	for i := range want {
		if math.Abs(float64(raw[i]-want[i])) > 1e-5 {
			t.Fatalf("raw[%d] = %g, want %g", i, raw[i], want[i])
		}
	}

	out, err := FullyConnected(in, w, bias, DynamicLayer())
	if err != nil {
		t.Fatalf("FullyConnected: %v", err)
	}
	if out.ZeroPoint != 0 || out.Values[0] != 127 {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestFullyConnectedMatchesFloatReference(t *testing.T) {
	t.Parallel()
	const inDim, outDim = 12, 4
	in := ternary(inDim, 2)
	w := ternary(inDim*outDim, 0)
	bias := []float32{0.3, -0.2, 0, 1.1}

	ref, err := FullyConnectedFloat(in, w, bias)
	if err != nil {
		t.Fatalf("FullyConnectedFloat: %v", err)
	}
	out, err := FullyConnected(quant.QuantizeSymmetric(in), quant.QuantizeSymmetric(w), bias, DynamicLayer())
	if err != nil {
		t.Fatalf("FullyConnected: %v", err)
	}
	deq := quant.Dequantize(out)
	for i := range ref {
		if diff := math.Abs(float64(deq[i] - ref[i])); diff > float64(out.Scale)/2+1e-4 {
			t.Fatalf("deq[%d] = %g, ref %g (scale %g)", i, deq[i], ref[i], out.Scale)
		}
	}
}

func uniform(r *rand.Rand, n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = (r.Float32()*2 - 1) * amp
	}
	return out
}

func absAll(x []float32) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(math.Abs(float64(v)))
	}
	return out
}

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Rounding x and w to half a step each moves every product x*w by at most
// |x|*sw/2 + |w|*sx/2 + sx*sw/4. The bias is carried in float. Requantizing
// the output adds half an output step.
func TestConv2DRandomInputsWithinRoundingError(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(17, 29))
	for _, g := range []ConvGeometry{
		{InChannels: 1, OutChannels: 3, Height: 8, Width: 8, Kernel: 3, Stride: 1},
		{InChannels: 2, OutChannels: 2, Height: 7, Width: 9, Kernel: 3, Stride: 2},
	} {
		in := uniform(r, g.InputLen(), 1.3)
		w := uniform(r, g.WeightLen(), 0.7)
		bias := uniform(r, g.OutChannels, 0.4)

		ref, err := ConvFloat(in, w, bias, g)
		if err != nil {
			t.Fatalf("ConvFloat: %v", err)
		}
		qin := quant.QuantizeSymmetric(in)
		qw, err := quant.QuantizePerChannel(w, g.OutChannels)
		if err != nil {
			t.Fatalf("QuantizePerChannel: %v", err)
		}
		out, err := Conv2D(qin, qw, bias, g, DynamicLayer())
		if err != nil {
			t.Fatalf("Conv2D: %v", err)
		}

		halfW := make([]float32, g.WeightLen())
		for o := range g.OutChannels {
			for k := range g.WindowLen() {
				halfW[o*g.WindowLen()+k] = qw.Scales[o] / 2
			}
		}
		zero := make([]float32, g.OutChannels)
		fromW, err := ConvFloat(absAll(in), halfW, zero, g)
		if err != nil {
			t.Fatalf("ConvFloat: %v", err)
		}
		fromIn, err := ConvFloat(filled(g.InputLen(), qin.Scale/2), absAll(w), zero, g)
		if err != nil {
			t.Fatalf("ConvFloat: %v", err)
		}

		perChannel := g.OutHeight() * g.OutWidth()
		deq := quant.Dequantize(out)
		for i := range ref {
			cross := float64(g.WindowLen()) * float64(qin.Scale) * float64(qw.Scales[i/perChannel]) / 4
			tol := float64(out.Scale)/2 + float64(fromW[i]) + float64(fromIn[i]) + cross + 1e-4
			if diff := math.Abs(float64(deq[i] - ref[i])); diff > tol {
				t.Fatalf("%+v: deq[%d] = %g, ref %g, diff %g > %g", g, i, deq[i], ref[i], diff, tol)
			}
		}
	}
}

func TestFullyConnectedRandomInputsWithinRoundingError(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(5, 41))
	const inDim, outDim = 37, 6
	in := uniform(r, inDim, 2.1)
	w := uniform(r, inDim*outDim, 0.45)
	bias := uniform(r, outDim, 0.3)

	ref, err := FullyConnectedFloat(in, w, bias)
	if err != nil {
		t.Fatalf("FullyConnectedFloat: %v", err)
	}
	qin := quant.QuantizeSymmetric(in)
	qw := quant.QuantizeSymmetric(w)
	out, err := FullyConnected(qin, qw, bias, DynamicLayer())
	if err != nil {
		t.Fatalf("FullyConnected: %v", err)
	}

	zero := make([]float32, outDim)
	fromW, err := FullyConnectedFloat(absAll(in), filled(inDim*outDim, qw.Scale/2), zero)
	if err != nil {
		t.Fatalf("FullyConnectedFloat: %v", err)
	}
	fromIn, err := FullyConnectedFloat(filled(inDim, qin.Scale/2), absAll(w), zero)
	if err != nil {
		t.Fatalf("FullyConnectedFloat: %v", err)
	}
	cross := inDim * float64(qin.Scale) * float64(qw.Scale) / 4

	deq := quant.Dequantize(out)
	for i := range ref {
		tol := float64(out.Scale)/2 + float64(fromW[i]) + float64(fromIn[i]) + cross + 1e-4
		if diff := math.Abs(float64(deq[i] - ref[i])); diff > tol {
			t.Fatalf("deq[%d] = %g, ref %g, diff %g > %g", i, deq[i], ref[i], diff, tol)
		}
	}
}

func TestFullyConnectedShapeMismatch(t *testing.T) {
	t.Parallel()
	in := quant.QuantizeSymmetric([]float32{1, 2, 3})
	w := quant.QuantizeSymmetric([]float32{1, 2, 3, 4})
	if _, err := FullyConnected(in, w, []float32{0, 0}, DynamicLayer()); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestReLU(t *testing.T) {
	t.Parallel()
	in := quant.Tensor[int8]{Values: []int8{-10, 0, 10, 127}, Scale: 0.1}

	dyn, err := ReLU(in, DynamicLayer())
	if err != nil {
		t.Fatalf("ReLU dynamic: %v", err)
	}
	if dyn.ZeroPoint != 0 {
		t.Fatalf("dynamic zero point = %d, want 0", dyn.ZeroPoint)
	}
	if dyn.Values[0] != 0 || dyn.Values[1] != 0 || dyn.Values[3] != 255 {
		t.Fatalf("dynamic codes = %v", dyn.Values)
	}
	if dyn.Values[2] != 20 {
		t.Fatalf("dynamic code for 1.0 = %d, want 20", dyn.Values[2])
	}

	st, err := ReLU(in, StaticLayer(0.01))
	if err != nil {
		t.Fatalf("ReLU static: %v", err)
	}
	want := []uint8{0, 0, 100, 255}
	for i := range want {
		if st.Values[i] != want[i] {
			t.Fatalf("static codes = %v, want %v", st.Values, want)
		}
	}
	if st.Scale != 0.01 || st.ZeroPoint != 0 {
		t.Fatalf("static params = %g/%d", st.Scale, st.ZeroPoint)
	}
}

func TestPad2D(t *testing.T) {
	t.Parallel()
	out, err := Pad2D([]float32{1, 2, 3, 4}, 1, 2, 2, 1)
	if err != nil {
		t.Fatalf("Pad2D: %v", err)
	}
	want := []float32{
		0, 0, 0, 0,
		0, 1, 2, 0,
		0, 3, 4, 0,
		0, 0, 0, 0,
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
	if _, err := Pad2D([]float32{1, 2, 3}, 1, 2, 2, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestCheckAccumulator(t *testing.T) {
	t.Parallel()
	if err := CheckAccumulator(3920, MaxInputMagnitude[int8]()); err != nil {
		t.Fatalf("fc1 geometry rejected: %v", err)
	}
	if err := CheckAccumulator(128, MaxInputMagnitude[uint8]()); err != nil {
		t.Fatalf("fc2 geometry rejected: %v", err)
	}
	if err := CheckAccumulator(70000, MaxInputMagnitude[uint8]()); !errors.Is(err, ErrAccumulatorOverflow) {
		t.Fatalf("expected ErrAccumulatorOverflow, got %v", err)
	}
	if got := MaxInputMagnitude[int8](); got != 127 {
		t.Fatalf("int8 magnitude = %d, want 127", got)
	}
	if got := MaxInputMagnitude[uint8](); got != 255 {
		t.Fatalf("uint8 magnitude = %d, want 255", got)
	}
}

func TestModeParsingAndValidation(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Mode{"dynamic": Dynamic, "STATIC": Static, "": Dynamic} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("adaptive"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if err := StaticLayer(0).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero static scale, got %v", err)
	}
	if err := DynamicLayer().Validate(); err != nil {
		t.Fatalf("dynamic config rejected: %v", err)
	}
}
