package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qnet/internal/logger"
	"github.com/samcharles93/qnet/internal/weights"
)

func quantizeCmd() *cli.Command {
	var (
		outPath    string
		headerPath string
	)

	return &cli.Command{
		Name:  "quantize",
		Usage: "Quantize a float32 checkpoint into an int8 weight artifact",
		Flags: []cli.Flag{
			floatWeightsFlag(),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .safetensors artifact",
				Destination: &outPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "emit-header",
				Usage:       "also write the quantized weights as C constant arrays to this path (- for stdout)",
				Destination: &headerPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyFloatConfig(cmd, cfg)

			g, fs, err := loadFloat()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ws, err := weights.Quantize(g, fs)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: quantize: %v", err), 1)
			}
			if err := weights.Save(outPath, g, ws); err != nil {
				return cli.Exit(fmt.Sprintf("error: write artifact: %v", err), 1)
			}
			log.Info("wrote artifact", "path", outPath, "conv", g.HasConv())

			printReport(cmd.Root().Writer, weights.Report(g, fs, ws))

			if headerPath != "" {
				if err := writeHeaderFile(headerPath, cmd.Root().Writer, func(w io.Writer) error {
					return weights.WriteHeader(w, g, ws)
				}); err != nil {
					return cli.Exit(fmt.Sprintf("error: emit header: %v", err), 1)
				}
				if headerPath != "-" {
					log.Info("wrote header", "path", headerPath)
				}
			}
			return nil
		},
	}
}

func printReport(w io.Writer, layers []weights.LayerReport) {
	section(w, "Quantization")
	for _, l := range layers {
		scale := formatValues(l.Scales, 5)
		_, _ = fmt.Fprintf(w, "%-6s values=%-7d max_error=%-12.6g scale=%s\n", l.Name, l.Values, l.MaxError, scale)
	}
}

func writeHeaderFile(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
