package safetensors

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-json"
)

// Writer collects tensors and serializes them as one safetensors file.
// Tensor data is laid out in name order so output is deterministic.
type Writer struct {
	meta    map[string]string
	tensors map[string]pending
}

type pending struct {
	dtype string
	shape []int
	data  []byte
}

func NewWriter() *Writer {
	return &Writer{meta: map[string]string{}, tensors: map[string]pending{}}
}

// SetMetadata records a string pair in the __metadata__ header entry.
func (w *Writer) SetMetadata(key, value string) {
	w.meta[key] = value
}

// AddF32 adds a float32 tensor.
func (w *Writer) AddF32(name string, shape []int, values []float32) error {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return w.add(name, DTypeF32, shape, len(values), buf)
}

// AddI8 adds an int8 tensor.
func (w *Writer) AddI8(name string, shape []int, values []int8) error {
	buf := make([]byte, len(values))
	for i, v := range values {
		buf[i] = byte(v)
	}
	return w.add(name, DTypeI8, shape, len(values), buf)
}

func (w *Writer) add(name, dtype string, shape []int, count int, data []byte) error {
	if name == "" || name == metadataKey {
		return fmt.Errorf("safetensors: invalid tensor name %q", name)
	}
	if _, dup := w.tensors[name]; dup {
		return fmt.Errorf("safetensors: duplicate tensor %q", name)
	}
	n, err := numElements(shape)
	if err != nil {
		return fmt.Errorf("tensor %s: %w", name, err)
	}
	if n != count {
		return fmt.Errorf("tensor %s: shape %v holds %d values, got %d", name, shape, n, count)
	}
	w.tensors[name] = pending{dtype: dtype, shape: slices.Clone(shape), data: data}
	return nil
}

// WriteTo encodes the file to dst.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	names := make([]string, 0, len(w.tensors))
	for name := range w.tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(names)+1)
	if len(w.meta) > 0 {
		header[metadataKey] = w.meta
	}
	var offset int64
	for _, name := range names {
		p := w.tensors[name]
		end := offset + int64(len(p.data))
		header[name] = tensorHeader{DType: p.dtype, Shape: p.shape, DataOffsets: []int64{offset, end}}
		offset = end
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}
	// Pad with spaces so the payload starts on an 8-byte boundary.
	if rem := len(hdr) % 8; rem != 0 {
		hdr = append(hdr, bytes.Repeat([]byte{' '}, 8-rem)...)
	}

	bw := bufio.NewWriter(dst)
	var written int64
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hdr)))
	chunks := make([][]byte, 0, len(names)+2)
	chunks = append(chunks, lenBuf[:], hdr)
	for _, name := range names {
		chunks = append(chunks, w.tensors[name].data)
	}
	for _, c := range chunks {
		n, err := bw.Write(c)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// WriteFile writes the file to path, replacing it atomically.
func (w *Writer) WriteFile(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
