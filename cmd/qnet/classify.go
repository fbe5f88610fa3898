package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qnet/internal/dataset"
	"github.com/samcharles93/qnet/internal/model"
	"github.com/samcharles93/qnet/internal/quant"
)

func classifyCmd() *cli.Command {
	var (
		compare bool
		trace   bool
	)

	return &cli.Command{
		Name:  "classify",
		Usage: "Classify samples with the quantized pipeline",
		Flags: append(append(commonModelFlags(), datasetFlags(1)...),
			floatWeightsFlag(),
			&cli.BoolFlag{
				Name:        "compare",
				Usage:       "also print the fp32 and int8-weights reference predictions (needs --float-weights)",
				Destination: &compare,
			},
			&cli.BoolFlag{
				Name:        "trace",
				Usage:       "print the scale and zero point at every layer boundary",
				Destination: &trace,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, cfg)
			applyFloatConfig(cmd, cfg)

			p, err := loadPipeline(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			var fs *model.FloatSet
			if compare {
				if _, fs, err = loadFloat(); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			samples, err := loadSamples(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			out := cmd.Root().Writer
			for i, s := range samples {
				tr, pred, err := p.Trace(s.Pixels, p.Mode())
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: sample %d: %v", i, err), 1)
				}
				line := fmt.Sprintf("sample %d: class %s (%s)", i, className(pred.Class), pred.Mode)
				if s.Label != dataset.NoLabel {
					line += fmt.Sprintf(" label %d", s.Label)
				}
				if fs != nil {
					act, err := model.Reference(p.Geometry(), fs, s.Pixels)
					if err != nil {
						return cli.Exit(fmt.Sprintf("error: sample %d: %v", i, err), 1)
					}
					line += " fp32 " + className(model.Argmax(act.FC2, p.Threshold()))
					wact, err := model.ReferenceQuantizedWeights(p.Geometry(), p.Weights(), s.Pixels)
					if err != nil {
						return cli.Exit(fmt.Sprintf("error: sample %d: %v", i, err), 1)
					}
					line += " " + int8WeightsName + " " + className(model.Argmax(wact.FC2, p.Threshold()))
				}
				_, _ = fmt.Fprintln(out, line)
				_, _ = fmt.Fprintf(out, "  logits: %s\n", formatValues(pred.Logits, 0))
				if trace {
					printTrace(out, tr)
				}
			}
			return nil
		},
	}
}

func className(c int) string {
	if c == model.NoClass {
		return "none"
	}
	return fmt.Sprintf("%d", c)
}

func printTrace(w io.Writer, tr model.Trace) {
	traceLine(w, "input", tr.Input)
	traceLine(w, "conv", tr.Conv)
	traceLine(w, "fc1", tr.FC1)
	traceLine(w, "relu", tr.ReLU)
	traceLine(w, "fc2", tr.FC2)
}

func traceLine[E quant.Element](w io.Writer, name string, t quant.Tensor[E]) {
	if t.Len() == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "  %-6s scale=%-12.6g zero_point=%-4d values=%d\n", name, t.Scale, t.ZeroPoint, t.Len())
}
