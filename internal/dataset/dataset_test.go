package dataset

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func encodeImages(t *testing.T, rows, cols int, images ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	hdr := []uint32{idxImages, uint32(len(images)), uint32(rows), uint32(cols)}
	if err := binary.Write(&buf, binary.BigEndian, hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, img := range images {
		buf.Write(img)
	}
	return buf.Bytes()
}

func encodeLabels(t *testing.T, labels ...byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, []uint32{idxLabels, uint32(len(labels))}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	buf.Write(labels)
	return buf.Bytes()
}

func gz(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadIDXImages(t *testing.T) {
	t.Parallel()
	data := encodeImages(t, 2, 2, []byte{0, 255, 51, 102}, []byte{255, 255, 0, 0}, []byte{1, 2, 3, 4})
	images, err := ReadIDXImages(bytes.NewReader(data), 2)
	if err != nil {
		t.Fatalf("ReadIDXImages: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("got %d images, want limit 2", len(images))
	}
	want := []float32{0, 1, 0.2, 0.4}
	for i, v := range want {
		if math.Abs(float64(images[0][i]-v)) > 1e-6 {
			t.Fatalf("image 0 = %v, want %v", images[0], want)
		}
	}
}

func TestReadIDXErrors(t *testing.T) {
	t.Parallel()
	if _, err := ReadIDXImages(bytes.NewReader(encodeLabels(t, 1, 2)), 0); !errors.Is(err, ErrFormat) {
		t.Fatalf("label file read as images: %v", err)
	}
	truncated := encodeImages(t, 2, 2, []byte{1, 2, 3, 4})
	truncated = truncated[:len(truncated)-1]
	if _, err := ReadIDXImages(bytes.NewReader(truncated), 0); !errors.Is(err, ErrFormat) {
		t.Fatalf("truncated image: %v", err)
	}
	if _, err := ReadIDXLabels(bytes.NewReader([]byte{0, 0}), 0); !errors.Is(err, ErrFormat) {
		t.Fatalf("short header: %v", err)
	}
}

func TestLoadIDXWithLabels(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	images := writeFile(t, dir, "images-idx3-ubyte.gz", gz(t, encodeImages(t, 1, 2, []byte{0, 255}, []byte{255, 0}, []byte{0, 0})))
	labels := writeFile(t, dir, "labels-idx1-ubyte", encodeLabels(t, 7, 3, 1))

	samples, err := Load(images, labels, Options{Limit: 2, Normalize: &MNIST})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(samples) != 2 || samples[0].Label != 7 || samples[1].Label != 3 {
		t.Fatalf("samples = %+v", samples)
	}
	wantZero := (0 - MNIST.Mean) / MNIST.Std
	if math.Abs(float64(samples[0].Pixels[0]-wantZero)) > 1e-5 {
		t.Fatalf("normalized black pixel = %g, want %g", samples[0].Pixels[0], wantZero)
	}
	wantOne := (1 - MNIST.Mean) / MNIST.Std
	if math.Abs(float64(samples[0].Pixels[1]-wantOne)) > 1e-5 {
		t.Fatalf("normalized white pixel = %g, want %g", samples[0].Pixels[1], wantOne)
	}

	unlabeled, err := Load(images, "", Options{})
	if err != nil {
		t.Fatalf("Load without labels: %v", err)
	}
	if len(unlabeled) != 3 || unlabeled[2].Label != NoLabel {
		t.Fatalf("unlabeled = %+v", unlabeled)
	}
}

func TestReadCSV(t *testing.T) {
	t.Parallel()
	in := "# label,pixels\n3, 0, 255, 51\n\n1,255,0,0\n4,1,1,1\n"
	samples, err := ReadCSV(strings.NewReader(in), Options{Labeled: true, ScaleBytes: true, Limit: 2})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].Label != 3 || samples[1].Label != 1 {
		t.Fatalf("labels = %d, %d", samples[0].Label, samples[1].Label)
	}
	if samples[0].Pixels[1] != 1 || math.Abs(float64(samples[0].Pixels[2]-0.2)) > 1e-6 {
		t.Fatalf("pixels = %v", samples[0].Pixels)
	}

	raw, err := ReadCSV(strings.NewReader("-0.42,2.8\n0.1,0\n"), Options{})
	if err != nil {
		t.Fatalf("ReadCSV unlabeled: %v", err)
	}
	if raw[0].Label != NoLabel || raw[0].Pixels[0] != -0.42 {
		t.Fatalf("unlabeled sample = %+v", raw[0])
	}
}

func TestReadCSVErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		in   string
		opts Options
	}{
		"ragged":    {"1,2,3\n1,2\n", Options{}},
		"bad float": {"1,x\n", Options{}},
		"bad label": {"a,1,2\n", Options{Labeled: true}},
		"no pixels": {"5\n", Options{Labeled: true}},
	}
	for name, tc := range tests {
		if _, err := ReadCSV(strings.NewReader(tc.in), tc.opts); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: expected ErrFormat, got %v", name, err)
		}
	}
}

func TestLoadCSVFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "batch.csv.gz", gz(t, []byte("0.5,0.25\n1,0\n")))
	samples, err := Load(path, "", Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := Pixels(samples); len(got) != 2 || got[0][1] != 0.25 {
		t.Fatalf("pixels = %v", got)
	}
}

func TestReadIDXOversizedHeader(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, []uint32{idxImages, 1 << 31, 2, 2}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	buf.Write([]byte{1, 2, 3, 4})
	if _, err := ReadIDXImages(bytes.NewReader(buf.Bytes()), 0); !errors.Is(err, ErrFormat) {
		t.Fatalf("image count beyond data: %v", err)
	}

	buf.Reset()
	if err := binary.Write(&buf, binary.BigEndian, []uint32{idxImages, 1, 1 << 16, 1 << 16}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := ReadIDXImages(bytes.NewReader(buf.Bytes()), 0); !errors.Is(err, ErrFormat) {
		t.Fatalf("huge image size: %v", err)
	}

	buf.Reset()
	if err := binary.Write(&buf, binary.BigEndian, []uint32{idxLabels, 0xffffffff}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	buf.Write([]byte{7, 3})
	if _, err := ReadIDXLabels(bytes.NewReader(buf.Bytes()), 0); !errors.Is(err, ErrFormat) {
		t.Fatalf("label count beyond data: %v", err)
	}
}
