package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qnet/internal/calib"
	"github.com/samcharles93/qnet/internal/dataset"
	"github.com/samcharles93/qnet/internal/logger"
	"github.com/samcharles93/qnet/internal/model"
)

// defaultCalibrationSamples matches the size of the usual MNIST calibration set.
const defaultCalibrationSamples = 1000

func calibrateCmd() *cli.Command {
	var (
		outPath string
		workers int64
	)

	return &cli.Command{
		Name:  "calibrate",
		Usage: "Derive static activation scales from a calibration dataset",
		Flags: append(datasetFlags(defaultCalibrationSamples),
			floatWeightsFlag(),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output scale record (.yaml or .json)",
				Value:       "scales.yaml",
				Destination: &outPath,
			},
			&cli.Int64Flag{
				Name:        "workers",
				Usage:       "samples processed concurrently (0 = GOMAXPROCS)",
				Destination: &workers,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyFloatConfig(cmd, cfg)
			applyCalibrateConfig(cmd, cfg, &workers)

			g, fs, err := loadFloat()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			samples, err := loadSamples(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			c := &calib.Calibrator{
				Geometry: g,
				Weights:  fs,
				Workers:  int(workers),
				Logger:   log,
			}
			rec, err := c.Calibrate(ctx, dataset.Pixels(samples))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: calibrate: %v", err), 1)
			}
			if err := model.SaveScaleRecord(outPath, rec); err != nil {
				return cli.Exit(fmt.Sprintf("error: write scales: %v", err), 1)
			}
			log.Info("wrote scales", "path", outPath, "samples", len(samples))
			printScales(cmd.Root().Writer, g, rec)
			return nil
		},
	}
}

func printScales(w io.Writer, g model.Geometry, rec model.ScaleRecord) {
	section(w, "Scales")
	row(w, "input", fmt.Sprintf("%.8g", rec.Input))
	if g.HasConv() {
		row(w, "conv_output", fmt.Sprintf("%.8g", rec.ConvOutput))
	}
	row(w, "fc1_output", fmt.Sprintf("%.8g", rec.FC1Output))
	row(w, "relu_output", fmt.Sprintf("%.8g", rec.ReLUOutput))
	row(w, "fc2_output", fmt.Sprintf("%.8g", rec.FC2Output))
}
