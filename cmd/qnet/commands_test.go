package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/qnet/internal/dataset"
	"github.com/samcharles93/qnet/internal/model"
	"github.com/samcharles93/qnet/internal/safetensors"
	"github.com/samcharles93/qnet/internal/weights"
)

// columnsModel sums the left and right columns of a 2x2 image into two
// logits.
func columnsModel(t *testing.T) (model.Geometry, *model.FloatSet, *model.WeightSet) {
	t.Helper()
	g := model.Geometry{Channels: 1, Height: 2, Width: 2, Hidden: 2, Classes: 2}
	fs := &model.FloatSet{
		FC1Weight: []float32{1, 0, 1, 0, 0, 1, 0, 1},
		FC1Bias:   []float32{0, 0},
		FC2Weight: []float32{1, 0, 0, 1},
		FC2Bias:   []float32{0, 0},
	}
	ws, err := weights.Quantize(g, fs)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	return g, fs, ws
}

func TestEvaluator(t *testing.T) {
	t.Parallel()
	g, fs, ws := columnsModel(t)
	rec := &model.ScaleRecord{Input: 1.0 / 127, FC1Output: 2.0 / 127, ReLUOutput: 2.0 / 255, FC2Output: 2.0 / 127}
	p, err := model.NewPipeline(g, ws, model.Options{Scales: rec})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	samples := []dataset.Sample{
		{Pixels: []float32{1, 0.2, 1, 0.2}, Label: 0},
		{Pixels: []float32{0.1, 1, 0.1, 1}, Label: 1},
		{Pixels: []float32{1, 0, 1, 0}, Label: 1},
		{Pixels: []float32{0, 0, 0, 0}, Label: 0},
	}

	scores, err := evaluator{Pipeline: p, Float: fs, Workers: 2}.Run(context.Background(), samples)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	names := []string{"fp32", "int8-weights", "dynamic", "static"}
	if len(scores) != len(names) {
		t.Fatalf("got %d scores, want %d", len(scores), len(names))
	}
	for i, s := range scores {
		if s.Name != names[i] {
			t.Fatalf("score %d name %q, want %q", i, s.Name, names[i])
		}
		if s.Correct != 2 || s.NoClass != 1 || s.Agree != 4 || s.Total != 4 {
			t.Fatalf("%s: %+v", s.Name, s)
		}
		if s.Accuracy() != 0.5 {
			t.Fatalf("%s accuracy = %g", s.Name, s.Accuracy())
		}
	}

	var buf bytes.Buffer
	printScores(&buf, scores, true)
	if !strings.Contains(buf.String(), "50.00% (2/4) no_class=1 agree_fp32=4") {
		t.Fatalf("unexpected report:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "int8-weights") {
		t.Fatalf("report missing int8-weights row:\n%s", buf.String())
	}
}

func TestEvaluatorRequiresLabels(t *testing.T) {
	t.Parallel()
	g, _, ws := columnsModel(t)
	p, err := model.NewPipeline(g, ws, model.Options{})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	samples := []dataset.Sample{{Pixels: []float32{1, 0, 1, 0}, Label: dataset.NoLabel}}
	if _, err := (evaluator{Pipeline: p}).Run(context.Background(), samples); err == nil {
		t.Fatal("expected error for unlabelled samples")
	}
	scores, err := evaluator{Pipeline: p}.Run(context.Background(), []dataset.Sample{{Pixels: []float32{1, 0, 1, 0}, Label: 0}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(scores) != 2 || scores[0].Name != "int8-weights" || scores[1].Name != "dynamic" {
		t.Fatalf("scores without float or scales = %+v", scores)
	}
	for _, s := range scores {
		if s.Correct != 1 || s.Total != 1 {
			t.Fatalf("%s: %+v", s.Name, s)
		}
	}
}

func TestInspectFile(t *testing.T) {
	t.Parallel()
	g, _, ws := columnsModel(t)
	path := filepath.Join(t.TempDir(), "columns.safetensors")
	if err := weights.Save(path, g, ws); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, err := safetensors.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	if err := inspectFile(&buf, f, 1); err != nil {
		t.Fatalf("inspectFile: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"--- Geometry ---", "none (fully connected only)", "fc1.weight", "I8", "[2 4]", "scales: 0.00787402", "total:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "conv.weight") {
		t.Fatalf("fc-only artifact lists conv tensors:\n%s", out)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn", "json", false)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("unexpected output %q", buf.String())
	}

	buf.Reset()
	log, err = newLogger(&buf, "error", "text", true)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Debug("debug wins")
	if !strings.Contains(buf.String(), "debug wins") {
		t.Fatalf("--debug did not lower the level: %q", buf.String())
	}

	if _, err := newLogger(&buf, "loud", "text", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := newLogger(&buf, "info", "xml", false); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestFormatValues(t *testing.T) {
	t.Parallel()
	if got := formatValues([]float32{0.5, 0.25, 0.125}, 2); got != "0.5 0.25 ... (1 more)" {
		t.Fatalf("formatValues = %q", got)
	}
	if got := formatValues([]float32{1}, 0); got != "1" {
		t.Fatalf("formatValues = %q", got)
	}
}
