package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qnet/internal/model"
	"github.com/samcharles93/qnet/internal/safetensors"
)

func inspectCmd() *cli.Command {
	var (
		path       string
		showAll    bool
		valueLimit int64
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "List the tensors, dtypes, shapes and scales of a .safetensors file",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "weights",
				Aliases:     []string{"w"},
				Usage:       "path to a quantized artifact or float checkpoint",
				Destination: &path,
			},
			&cli.BoolFlag{Name: "all", Usage: "print every scale value", Destination: &showAll},
			&cli.Int64Flag{
				Name:        "values",
				Usage:       "number of scale values printed per tensor",
				Value:       8,
				Destination: &valueLimit,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if path == "" {
				path = cmd.Args().First()
			}
			if path == "" && cfg.Weights != nil {
				path = *cfg.Weights
			}
			if path == "" {
				return cli.Exit("error: --weights or a file argument is required", 1)
			}
			stat, err := os.Stat(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat %q: %v", path, err), 1)
			}
			f, err := safetensors.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open safetensors: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			limit := int(valueLimit)
			if showAll {
				limit = 0
			}
			out := cmd.Root().Writer
			_, _ = fmt.Fprintf(out, "Inspect: %s (%s)\n", filepath.Base(path), formatBytes(uint64(stat.Size())))
			return inspectFile(out, f, limit)
		},
	}
}

func inspectFile(w io.Writer, f *safetensors.File, limit int) error {
	if len(f.Metadata) > 0 {
		section(w, "Metadata")
		keys := make([]string, 0, len(f.Metadata))
		for k := range f.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			row(w, k, f.Metadata[k])
		}
	}
	if g, err := model.GeometryFromMetadata(f.Metadata); err == nil {
		printGeometry(w, g)
	}

	section(w, "Tensors")
	var total int64
	for _, name := range f.Names() {
		info, _ := f.Tensor(name)
		size := info.End - info.Start
		total += size
		_, _ = fmt.Fprintf(w, "%-16s %-5s %-18s %s\n", name, info.DType, shapeString(info.Shape), formatBytes(uint64(size)))
		if !strings.HasSuffix(name, ".scale") {
			continue
		}
		vals, _, err := f.ReadTensorF32(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		_, _ = fmt.Fprintf(w, "  scales: %s\n", formatValues(vals, limit))
	}
	row(w, "total", fmt.Sprintf("%d tensors, %s", len(f.Tensors), formatBytes(uint64(total))))
	return nil
}

func printGeometry(w io.Writer, g model.Geometry) {
	section(w, "Geometry")
	row(w, "input", fmt.Sprintf("%dx%dx%d", g.Channels, g.Height, g.Width))
	if g.HasConv() {
		row(w, "conv", fmt.Sprintf("%d channels, %dx%d kernel, stride %d, padding %d", g.ConvChannels, g.Kernel, g.Kernel, g.Stride, g.Padding))
	} else {
		row(w, "conv", "none (fully connected only)")
	}
	row(w, "fc1", fmt.Sprintf("%d -> %d", g.FeatureLen(), g.Hidden))
	row(w, "fc2", fmt.Sprintf("%d -> %d", g.Hidden, g.Classes))
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatValues(vals []float32, limit int) string {
	n := len(vals)
	if limit > 0 {
		n = min(n, limit)
	}
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%.6g", vals[i])
	}
	s := strings.Join(parts, " ")
	if n < len(vals) {
		s += fmt.Sprintf(" ... (%d more)", len(vals)-n)
	}
	return s
}

func section(w io.Writer, title string) {
	line := strings.Repeat("-", len(title)+8)
	_, _ = fmt.Fprintf(w, "\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "%-24s %s\n", label+":", value)
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
	)
	switch {
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
