package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// IDX magic numbers: two zero bytes, the element type (0x08 = unsigned byte)
// and the number of dimensions.
const (
	idxImages = 0x00000803
	idxLabels = 0x00000801
)

// Header counts are untrusted: preallocation is capped and a single image may
// not exceed maxImageBytes.
const (
	maxPrealloc   = 1 << 16
	maxImageBytes = 1 << 24
)

// ReadIDXImages decodes an IDX3 unsigned-byte image file into flattened
// row-major images scaled to [0, 1]. At most limit images are read when
// limit > 0.
func ReadIDXImages(r io.Reader, limit int) ([][]float32, error) {
	br := bufio.NewReader(r)
	var hdr [4]uint32
	if err := binary.Read(br, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: idx header: %v", ErrFormat, err)
	}
	if hdr[0] != idxImages {
		return nil, fmt.Errorf("%w: idx image magic %#08x", ErrFormat, hdr[0])
	}
	count, rows, cols := int(hdr[1]), int(hdr[2]), int(hdr[3])
	if rows <= 0 || cols <= 0 || rows*cols > maxImageBytes {
		return nil, fmt.Errorf("%w: idx image size %dx%d", ErrFormat, rows, cols)
	}
	count = Options{Limit: limit}.take(count)

	size := rows * cols
	buf := make([]byte, size)
	images := make([][]float32, 0, min(count, maxPrealloc))
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("%w: image %d: %v", ErrFormat, i, err)
		}
		img := make([]float32, size)
		for j, b := range buf {
			img[j] = float32(b) / 255
		}
		images = append(images, img)
	}
	return images, nil
}

// ReadIDXLabels decodes an IDX1 label file, reading at most limit labels
// when limit > 0.
func ReadIDXLabels(r io.Reader, limit int) ([]int, error) {
	br := bufio.NewReader(r)
	var hdr [2]uint32
	if err := binary.Read(br, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: idx header: %v", ErrFormat, err)
	}
	if hdr[0] != idxLabels {
		return nil, fmt.Errorf("%w: idx label magic %#08x", ErrFormat, hdr[0])
	}
	count := Options{Limit: limit}.take(int(hdr[1]))
	raw, err := io.ReadAll(io.LimitReader(br, int64(count)))
	if err != nil {
		return nil, fmt.Errorf("%w: labels: %v", ErrFormat, err)
	}
	if len(raw) != count {
		return nil, fmt.Errorf("%w: header declares %d labels, file holds %d", ErrFormat, count, len(raw))
	}
	labels := make([]int, count)
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}
