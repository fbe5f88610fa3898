package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qnet/internal/model"
)

var (
	weightsPath      string
	floatWeightsPath string
	scalesPath       string
	modeName         string
	argmaxThreshold  float64
	logLevel         string
	logFormat        string
	debug            bool
	configFile       string

	cfg Config
)

// Dataset flags shared by calibrate, classify and evaluate.
var (
	dataPath   string
	labelsPath string
	dataLimit  int64
	csvLabeled bool
	csvBytes   bool
	rawPixels  bool
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml (default $XDG_CONFIG_HOME/qnet/config.yaml)",
		Destination: &configFile,
	}
}

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "path to the quantized .safetensors artifact",
			Destination: &weightsPath,
		},
		&cli.StringFlag{
			Name:        "scales",
			Usage:       "path to a calibrated scale record (.yaml or .json); enables static mode",
			Destination: &scalesPath,
		},
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "scale strategy (dynamic, static)",
			Value:       "dynamic",
			Destination: &modeName,
		},
		&cli.Float64Flag{
			Name:        "argmax-threshold",
			Usage:       "minimum logit for a prediction; below it no class is reported",
			Value:       float64(model.DefaultArgmaxThreshold),
			Destination: &argmaxThreshold,
		},
	}
}

func floatWeightsFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "float-weights",
		Usage:       "path to the float32 .safetensors checkpoint",
		Destination: &floatWeightsPath,
	}
}

func datasetFlags(defaultLimit int64) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data",
			Aliases:     []string{"d"},
			Usage:       "samples as an MNIST IDX image file or CSV (.gz accepted)",
			Destination: &dataPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "labels",
			Usage:       "MNIST IDX label file paired with an IDX image file",
			Destination: &labelsPath,
		},
		&cli.Int64Flag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "number of samples to read (0 reads all)",
			Value:       defaultLimit,
			Destination: &dataLimit,
		},
		&cli.BoolFlag{
			Name:        "csv-labeled",
			Usage:       "treat the first CSV column as the class label",
			Destination: &csvLabeled,
		},
		&cli.BoolFlag{
			Name:        "csv-bytes",
			Usage:       "CSV values are 0-255 pixels; scale and normalize them",
			Destination: &csvBytes,
		},
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "do not apply the MNIST normalization to IDX pixels",
			Destination: &rawPixels,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
