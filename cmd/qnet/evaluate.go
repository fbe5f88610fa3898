package main

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/qnet/internal/dataset"
	"github.com/samcharles93/qnet/internal/kernels"
	"github.com/samcharles93/qnet/internal/logger"
	"github.com/samcharles93/qnet/internal/model"
)

const (
	fp32Name        = "fp32"
	int8WeightsName = "int8-weights"
)

// score is the accuracy of one inference path over a labelled set.
type score struct {
	Name    string
	Correct int
	NoClass int
	// Agree counts predictions equal to the fp32 reference.
	Agree int
	Total int
}

func (s score) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// evaluator compares the float reference against the quantized pipeline.
// Float is optional; static mode is scored when the pipeline has scales. The
// int8-weights path runs float activations over the dequantized weights.
type evaluator struct {
	Pipeline *model.Pipeline
	Float    *model.FloatSet
	Workers  int
}

func (e evaluator) modes() []kernels.Mode {
	modes := []kernels.Mode{kernels.Dynamic}
	if _, ok := e.Pipeline.Scales(); ok {
		modes = append(modes, kernels.Static)
	}
	return modes
}

// Run classifies every sample on every path. Predictions are computed in
// parallel and tallied in sample order.
func (e evaluator) Run(ctx context.Context, samples []dataset.Sample) ([]score, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples")
	}
	for i, s := range samples {
		if s.Label == dataset.NoLabel {
			return nil, fmt.Errorf("sample %d has no label", i)
		}
	}
	modes := e.modes()
	paths := len(modes) + 2
	preds := make([][]int, len(samples))

	g := e.Pipeline.Geometry()
	eg, gctx := errgroup.WithContext(ctx)
	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg.SetLimit(workers)
	for i, s := range samples {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			got := make([]int, paths)
			got[0] = model.NoClass
			if e.Float != nil {
				act, err := model.Reference(g, e.Float, s.Pixels)
				if err != nil {
					return fmt.Errorf("sample %d: %w", i, err)
				}
				got[0] = model.Argmax(act.FC2, e.Pipeline.Threshold())
			}
			wact, err := model.ReferenceQuantizedWeights(g, e.Pipeline.Weights(), s.Pixels)
			if err != nil {
				return fmt.Errorf("sample %d %s: %w", i, int8WeightsName, err)
			}
			got[1] = model.Argmax(wact.FC2, e.Pipeline.Threshold())
			for j, mode := range modes {
				pred, err := e.Pipeline.ClassifyMode(s.Pixels, mode)
				if err != nil {
					return fmt.Errorf("sample %d %s: %w", i, mode, err)
				}
				got[j+2] = pred.Class
			}
			preds[i] = got
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	scores := make([]score, 0, paths)
	if e.Float != nil {
		scores = append(scores, tally(fp32Name, samples, preds, 0))
	}
	scores = append(scores, tally(int8WeightsName, samples, preds, 1))
	for j, mode := range modes {
		scores = append(scores, tally(mode.String(), samples, preds, j+2))
	}
	return scores, nil
}

func tally(name string, samples []dataset.Sample, preds [][]int, col int) score {
	s := score{Name: name, Total: len(samples)}
	for i, sample := range samples {
		p := preds[i][col]
		if p == sample.Label {
			s.Correct++
		}
		if p == model.NoClass {
			s.NoClass++
		}
		if p == preds[i][0] {
			s.Agree++
		}
	}
	return s
}

func evaluateCmd() *cli.Command {
	var workers int64

	return &cli.Command{
		Name:  "evaluate",
		Usage: "Report fp32, int8-weights, dynamic and static accuracy over a labelled dataset",
		Flags: append(append(commonModelFlags(), datasetFlags(0)...),
			floatWeightsFlag(),
			&cli.Int64Flag{
				Name:        "workers",
				Usage:       "samples classified concurrently (0 = GOMAXPROCS)",
				Destination: &workers,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, cfg)
			applyFloatConfig(cmd, cfg)
			applyCalibrateConfig(cmd, cfg, &workers)

			p, err := loadPipeline(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ev := evaluator{Pipeline: p, Workers: int(workers)}
			if floatWeightsPath != "" {
				_, fs, err := loadFloat()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if err := fs.Validate(p.Geometry()); err != nil {
					return cli.Exit(fmt.Sprintf("error: float weights do not match artifact: %v", err), 1)
				}
				ev.Float = fs
			}
			samples, err := loadSamples(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			scores, err := ev.Run(ctx, samples)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: evaluate: %v", err), 1)
			}
			printScores(cmd.Root().Writer, scores, ev.Float != nil)
			log.Debug("evaluation done", "samples", len(samples))
			return nil
		},
	}
}

func printScores(w io.Writer, scores []score, withFloat bool) {
	section(w, "Accuracy")
	for _, s := range scores {
		line := fmt.Sprintf("%6.2f%% (%d/%d)", 100*s.Accuracy(), s.Correct, s.Total)
		if s.NoClass > 0 {
			line += fmt.Sprintf(" no_class=%d", s.NoClass)
		}
		if withFloat && s.Name != fp32Name {
			line += fmt.Sprintf(" agree_fp32=%d", s.Agree)
		}
		row(w, s.Name, line)
	}
}
