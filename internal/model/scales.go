package model

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ScaleRecord holds the calibrated quantization scale of every activation
// boundary used in static mode.
type ScaleRecord struct {
	Input      float32 `yaml:"input" json:"input"`
	ConvOutput float32 `yaml:"conv_output,omitempty" json:"conv_output,omitempty"`
	FC1Output  float32 `yaml:"fc1_output" json:"fc1_output"`
	ReLUOutput float32 `yaml:"relu_output" json:"relu_output"`
	FC2Output  float32 `yaml:"fc2_output" json:"fc2_output"`
}

// Validate requires every scale the geometry uses to be positive and finite.
func (r ScaleRecord) Validate(g Geometry) error {
	fields := []namedScale{
		{"input", r.Input},
		{"fc1_output", r.FC1Output},
		{"relu_output", r.ReLUOutput},
		{"fc2_output", r.FC2Output},
	}
	if g.HasConv() {
		fields = append(fields, namedScale{"conv_output", r.ConvOutput})
	}
	for _, f := range fields {
		if !(f.v > 0) || math.IsInf(float64(f.v), 0) {
			return fmt.Errorf("%w: scale %s = %g", ErrMissingScales, f.name, f.v)
		}
	}
	return nil
}

type namedScale struct {
	name string
	v    float32
}

// LoadScaleRecord reads a scale record from a YAML or JSON file; the format
// is chosen by extension.
func LoadScaleRecord(path string) (ScaleRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScaleRecord{}, fmt.Errorf("read scales: %w", err)
	}
	var rec ScaleRecord
	if isJSON(path) {
		err = json.Unmarshal(data, &rec)
	} else {
		err = yaml.Unmarshal(data, &rec)
	}
	if err != nil {
		return ScaleRecord{}, fmt.Errorf("parse scales %s: %w", path, err)
	}
	return rec, nil
}

// SaveScaleRecord writes rec to path as YAML, or JSON for a .json path.
func SaveScaleRecord(path string, rec ScaleRecord) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(rec, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(rec)
	}
	if err != nil {
		return fmt.Errorf("encode scales: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write scales: %w", err)
	}
	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
