package quant

import (
	"math"
	"math/rand"
	"testing"
)

func TestQuantizeSymmetric(t *testing.T) {
	t.Parallel()
	src := []float32{0, 1, -1, 0.25}
	q := QuantizeSymmetric(src)

	wantScale := float32(1.0 / 127.0)
	if diff := q.Scale - wantScale; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("scale = %v, want %v", q.Scale, wantScale)
	}
	if q.ZeroPoint != 0 {
		t.Fatalf("zero point = %d, want 0", q.ZeroPoint)
	}
	want := []int8{0, 127, -127, 32}
	for i := range want {
		if q.Values[i] != want[i] {
			t.Fatalf("q[%d] = %d, want %d", i, q.Values[i], want[i])
		}
	}
}

func TestQuantizeSymmetricRoundTrip(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(300)
		src := make([]float32, n)
		spread := float32(rng.ExpFloat64() * 4)
		for i := range src {
			src[i] = (rng.Float32()*2 - 1) * spread
		}
		q := QuantizeSymmetric(src)
		got := Dequantize(q)
		for i := range src {
			diff := math.Abs(float64(got[i] - src[i]))
			limit := float64(q.Scale)/2 + 1e-6*math.Abs(float64(src[i])) + 1e-9
			if diff > limit {
				t.Fatalf("trial %d: |deq-src| at %d = %g exceeds %g (scale %g)", trial, i, diff, limit, q.Scale)
			}
		}
	}
}

func TestScaleNeverZero(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   []float32
	}{
		{"empty", nil},
		{"zeros", []float32{0, 0, 0}},
		{"constant", []float32{0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := QuantizeSymmetric(tc.in)
			if q.Scale != MinScale {
				t.Fatalf("symmetric scale = %g, want MinScale", q.Scale)
			}
			a := QuantizeAsymmetric(tc.in)
			if a.Scale != MinScale {
				t.Fatalf("asymmetric scale = %g, want MinScale", a.Scale)
			}
			for i, v := range q.Values {
				if v != 0 {
					t.Fatalf("q[%d] = %d, want 0", i, v)
				}
			}
		})
	}
}

func TestQuantizeSymmetricConstantNonZero(t *testing.T) {
	t.Parallel()
	q := QuantizeSymmetric([]float32{3, 3, 3})
	if q.Scale <= 0 {
		t.Fatalf("scale = %g, want > 0", q.Scale)
	}
	for i, v := range q.Values {
		if v != 127 {
			t.Fatalf("q[%d] = %d, want 127", i, v)
		}
	}
}

func TestQuantizeAsymmetricZeroPointBound(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 100; trial++ {
		src := make([]float32, 16)
		offset := (rng.Float32()*2 - 1) * 10
		for i := range src {
			src[i] = offset + rng.Float32()*5
		}
		q := QuantizeAsymmetric(src)
		if q.ZeroPoint < 0 || q.ZeroPoint > 255 {
			t.Fatalf("zero point %d out of [0,255]", q.ZeroPoint)
		}
		if q.Scale < 0 {
			t.Fatalf("scale %g < 0", q.Scale)
		}
	}
}

func TestQuantizeAsymmetricNonNegative(t *testing.T) {
	t.Parallel()
	src := []float32{0, 0.5, 1, 2.55}
	q := QuantizeAsymmetric(src)
	if q.ZeroPoint != 0 {
		t.Fatalf("zero point = %d, want 0", q.ZeroPoint)
	}
	want := []uint8{0, 50, 100, 255}
	for i := range want {
		if q.Values[i] != want[i] {
			t.Fatalf("q[%d] = %d, want %d", i, q.Values[i], want[i])
		}
	}
	got := Dequantize(q)
	for i := range src {
		if math.Abs(float64(got[i]-src[i])) > float64(q.Scale)/2+1e-6 {
			t.Fatalf("deq[%d] = %g, want %g", i, got[i], src[i])
		}
	}
}

func TestQuantizeAsymmetricNegativeRange(t *testing.T) {
	t.Parallel()
	q := QuantizeAsymmetric([]float32{-1, 0, 1})
	if q.ZeroPoint < 127 || q.ZeroPoint > 128 {
		t.Fatalf("zero point = %d, want mid-range", q.ZeroPoint)
	}
	got := Dequantize(q)
	if got[1] != 0 {
		t.Fatalf("real zero reconstructed as %g", got[1])
	}
}

func TestSaturation(t *testing.T) {
	t.Parallel()
	q := QuantizeWithScale[int8]([]float32{1e6, -1e6, 0.5}, 0.01, 0)
	want := []int8{127, -127, 50}
	for i := range want {
		if q.Values[i] != want[i] {
			t.Fatalf("q[%d] = %d, want %d", i, q.Values[i], want[i])
		}
	}

	u := QuantizeWithScale[uint8]([]float32{1e6, -3}, 0.01, 0)
	if u.Values[0] != 255 || u.Values[1] != 0 {
		t.Fatalf("uint8 saturation = %v, want [255 0]", u.Values)
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	t.Parallel()
	q := QuantizeWithScale[int8]([]float32{0.5, -0.5, 1.5, -2.5}, 1, 0)
	want := []int8{1, -1, 2, -3}
	for i := range want {
		if q.Values[i] != want[i] {
			t.Fatalf("q[%d] = %d, want %d", i, q.Values[i], want[i])
		}
	}
}

func TestQuantizeWithScaleGuardsScale(t *testing.T) {
	t.Parallel()
	for _, s := range []float32{0, -1, float32(math.NaN())} {
		q := QuantizeWithScale[int8]([]float32{1}, s, 0)
		if q.Scale != MinScale {
			t.Fatalf("scale %g guarded to %g, want MinScale", s, q.Scale)
		}
	}
}

func TestQuantizePerChannel(t *testing.T) {
	t.Parallel()
	src := []float32{
		1, -0.6, 0.25, // channel 0: scale 1/127
		10, 20, -40, // channel 1: scale 40/127
	}
	p, err := QuantizePerChannel(src, 2)
	if err != nil {
		t.Fatalf("QuantizePerChannel: %v", err)
	}
	if got, want := p.Scales[0], float32(1.0/127.0); math.Abs(float64(got-want)) > 1e-9 {
		t.Fatalf("scale[0] = %g, want %g", got, want)
	}
	if got, want := p.Scales[1], float32(40.0/127.0); math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("scale[1] = %g, want %g", got, want)
	}
	if c0 := p.Channel(0); c0[0] != 127 || c0[1] != -76 || c0[2] != 32 {
		t.Fatalf("channel 0 = %v", c0)
	}
	if c1 := p.Channel(1); c1[2] != -127 {
		t.Fatalf("channel 1 = %v", c1)
	}
	deq := DequantizePerChannel(p)
	for i := range src {
		c := i / 3
		if math.Abs(float64(deq[i]-src[i])) > float64(p.Scales[c])/2+1e-5 {
			t.Fatalf("deq[%d] = %g, want %g", i, deq[i], src[i])
		}
	}
}

func TestQuantizePerChannelRejectsBadShape(t *testing.T) {
	t.Parallel()
	if _, err := QuantizePerChannel([]float32{1, 2, 3}, 2); err == nil {
		t.Fatal("expected error for uneven channel split")
	}
	if _, err := QuantizePerChannel([]float32{1, 2}, 0); err == nil {
		t.Fatal("expected error for zero channels")
	}
}
