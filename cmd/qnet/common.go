package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/samcharles93/qnet/internal/dataset"
	"github.com/samcharles93/qnet/internal/kernels"
	"github.com/samcharles93/qnet/internal/logger"
	"github.com/samcharles93/qnet/internal/model"
	"github.com/samcharles93/qnet/internal/weights"
)

func newLogger(w io.Writer, level, format string, debug bool) (logger.Logger, error) {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if debug {
		lvl = slog.LevelDebug
	}
	f, err := logger.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return logger.Setup(w, f, lvl), nil
}

func withLogger(ctx context.Context, log logger.Logger) context.Context {
	return logger.WithContext(ctx, log)
}

// loadPipeline builds a pipeline from the model flags.
func loadPipeline(ctx context.Context) (*model.Pipeline, error) {
	log := logger.FromContext(ctx)
	if weightsPath == "" {
		return nil, fmt.Errorf("--weights is required (or set weights in the config file)")
	}
	mode, err := kernels.ParseMode(modeName)
	if err != nil {
		return nil, err
	}
	g, ws, err := weights.Load(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	log.Info("loaded weights", "path", weightsPath, "conv_channels", g.ConvChannels, "hidden", g.Hidden, "classes", g.Classes)

	threshold := float32(argmaxThreshold)
	opts := model.Options{
		Mode:            mode,
		ArgmaxThreshold: &threshold,
		Logger:          log,
	}
	if scalesPath != "" {
		rec, err := model.LoadScaleRecord(scalesPath)
		if err != nil {
			return nil, fmt.Errorf("load scales: %w", err)
		}
		opts.Scales = &rec
	}
	return model.NewPipeline(g, ws, opts)
}

// loadFloat reads the float checkpoint named by --float-weights. The expected
// input size follows the default MNIST geometry.
func loadFloat() (model.Geometry, *model.FloatSet, error) {
	if floatWeightsPath == "" {
		return model.Geometry{}, nil, fmt.Errorf("--float-weights is required (or set float_weights in the config file)")
	}
	g, fs, err := weights.LoadFloat(floatWeightsPath, model.DefaultGeometry())
	if err != nil {
		return model.Geometry{}, nil, fmt.Errorf("load float weights: %w", err)
	}
	return g, fs, nil
}

// loadSamples reads the dataset flags. IDX pixels and byte-valued CSV rows
// get the MNIST normalization unless --raw is set; other CSV rows are taken
// as already normalized.
func loadSamples(ctx context.Context) ([]dataset.Sample, error) {
	opts := dataset.Options{
		Limit:      int(dataLimit),
		Labeled:    csvLabeled,
		ScaleBytes: csvBytes,
	}
	csv := dataset.IsCSV(dataPath)
	if !rawPixels && (!csv || csvBytes) {
		opts.Normalize = &dataset.MNIST
	}
	samples, err := dataset.Load(dataPath, labelsPath, opts)
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	logger.FromContext(ctx).Info("loaded samples", "path", dataPath, "count", len(samples), "normalized", opts.Normalize != nil)
	return samples, nil
}
