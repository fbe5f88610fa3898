// Package dataset reads classifier inputs from MNIST IDX files or CSV rows.
package dataset

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrFormat = errors.New("dataset: malformed input")

// NoLabel marks a sample whose class is unknown.
const NoLabel = -1

// Sample is one input image and, when known, its class.
type Sample struct {
	Pixels []float32
	Label  int
}

// Normalization maps a pixel p to (p - Mean) / Std.
type Normalization struct {
	Mean float32
	Std  float32
}

// MNIST is the normalization the reference classifiers were trained with.
var MNIST = Normalization{Mean: 0.1307, Std: 0.3081}

// Apply normalizes x in place. A zero Std leaves x untouched.
func (n Normalization) Apply(x []float32) {
	if n.Std == 0 {
		return
	}
	inv := 1 / n.Std
	for i, v := range x {
		x[i] = (v - n.Mean) * inv
	}
}

// Options controls how samples are decoded.
type Options struct {
	// Limit caps the number of samples read. Zero reads everything.
	Limit int
	// Normalize is applied to every sample after pixels are scaled to [0, 1].
	// IDX pixels are always scaled; CSV values only when ScaleBytes is set.
	Normalize *Normalization
	// Labeled treats the first CSV column as the class label.
	Labeled bool
	// ScaleBytes divides CSV values by 255 before normalization.
	ScaleBytes bool
}

func (o Options) take(n int) int {
	if o.Limit > 0 && o.Limit < n {
		return o.Limit
	}
	return n
}

func (o Options) finish(samples []Sample) {
	if o.Normalize == nil {
		return
	}
	for _, s := range samples {
		o.Normalize.Apply(s.Pixels)
	}
}

// Load reads samples from path. Files ending in .csv are parsed as CSV;
// anything else is read as an IDX image file, paired with labelsPath when it
// is not empty. A .gz suffix is decompressed transparently.
func Load(path, labelsPath string, opts Options) ([]Sample, error) {
	if IsCSV(path) {
		r, closeFn, err := open(path)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		return ReadCSV(r, opts)
	}

	r, closeFn, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	images, err := ReadIDXImages(r, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	samples := make([]Sample, len(images))
	for i, img := range images {
		samples[i] = Sample{Pixels: img, Label: NoLabel}
	}
	if labelsPath != "" {
		lr, closeLabels, err := open(labelsPath)
		if err != nil {
			return nil, err
		}
		defer closeLabels()
		labels, err := ReadIDXLabels(lr, len(images))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", labelsPath, err)
		}
		if len(labels) != len(images) {
			return nil, fmt.Errorf("%w: %d labels for %d images", ErrFormat, len(labels), len(images))
		}
		for i, l := range labels {
			samples[i].Label = l
		}
	}
	opts.finish(samples)
	return samples, nil
}

// Pixels returns the pixel slices of samples.
func Pixels(samples []Sample) [][]float32 {
	out := make([][]float32, len(samples))
	for i, s := range samples {
		out[i] = s.Pixels
	}
	return out
}

// IsCSV reports whether path names a CSV file, optionally gzipped.
func IsCSV(path string) bool {
	p := strings.TrimSuffix(strings.ToLower(path), ".gz")
	return filepath.Ext(p) == ".csv"
}

func open(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, func() { _ = f.Close() }, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return gz, func() {
		_ = gz.Close()
		_ = f.Close()
	}, nil
}
