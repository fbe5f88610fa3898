// Package calib derives the fixed activation scales used by static
// quantization from float reference runs over a representative batch.
package calib

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/qnet/internal/logger"
	"github.com/samcharles93/qnet/internal/model"
	"github.com/samcharles93/qnet/internal/quant"
)

var ErrEmptyBatch = errors.New("calib: empty calibration batch")

// Range is the running minimum and maximum of every value observed.
type Range struct {
	Min, Max float32
	Seen     bool
}

// Observe widens r to cover xs.
func (r *Range) Observe(xs []float32) {
	if len(xs) == 0 {
		return
	}
	lo, hi := quant.MinMax(xs)
	r.Merge(Range{Min: lo, Max: hi, Seen: true})
}

// Merge widens r to cover o. Merge is associative and commutative, so
// partial ranges may be combined in any order.
func (r *Range) Merge(o Range) {
	switch {
	case !o.Seen:
	case !r.Seen:
		*r = o
	default:
		r.Min = min(r.Min, o.Min)
		r.Max = max(r.Max, o.Max)
	}
}

// Ranges tracks one Range per activation boundary.
type Ranges struct {
	Input Range
	Conv  Range
	FC1   Range
	ReLU  Range
	FC2   Range
}

func (r *Ranges) observe(act model.Activations) {
	r.Input.Observe(act.Input)
	r.Conv.Observe(act.Conv)
	r.FC1.Observe(act.FC1)
	r.ReLU.Observe(act.ReLU)
	r.FC2.Observe(act.FC2)
}

// Merge folds o into r.
func (r *Ranges) Merge(o Ranges) {
	r.Input.Merge(o.Input)
	r.Conv.Merge(o.Conv)
	r.FC1.Merge(o.FC1)
	r.ReLU.Merge(o.ReLU)
	r.FC2.Merge(o.FC2)
}

// Scales turns observed ranges into a ScaleRecord: max(|min|,|max|)/127 for
// the signed boundaries and (max-min)/255 over a range including 0 for the
// ReLU output. Unobserved boundaries get MinScale.
func Scales(r Ranges) model.ScaleRecord {
	reluScale, _ := quant.AsymmetricParams(r.ReLU.Min, r.ReLU.Max)
	return model.ScaleRecord{
		Input:      quant.SymmetricScale(r.Input.Min, r.Input.Max),
		ConvOutput: quant.SymmetricScale(r.Conv.Min, r.Conv.Max),
		FC1Output:  quant.SymmetricScale(r.FC1.Min, r.FC1.Max),
		ReLUOutput: reluScale,
		FC2Output:  quant.SymmetricScale(r.FC2.Min, r.FC2.Max),
	}
}

// Calibrator runs the float reference network over calibration samples.
type Calibrator struct {
	Geometry model.Geometry
	Weights  *model.FloatSet
	// Workers bounds the number of samples processed concurrently.
	// Zero means GOMAXPROCS.
	Workers int
	Logger  logger.Logger
}

// Calibrate observes every sample in batch and returns the resulting scales.
// No scale is derived until the whole batch has been observed.
func (c *Calibrator) Calibrate(ctx context.Context, batch [][]float32) (model.ScaleRecord, error) {
	ranges, err := c.Observe(ctx, batch)
	if err != nil {
		return model.ScaleRecord{}, err
	}
	rec := Scales(ranges)
	if !c.Geometry.HasConv() {
		rec.ConvOutput = 0
	}
	return rec, nil
}

// Observe returns the global per-boundary ranges over batch. Samples are
// split into contiguous chunks folded in parallel and merged afterwards.
func (c *Calibrator) Observe(ctx context.Context, batch [][]float32) (Ranges, error) {
	if len(batch) == 0 {
		return Ranges{}, ErrEmptyBatch
	}
	if err := c.Geometry.Validate(); err != nil {
		return Ranges{}, err
	}
	if err := c.Weights.Validate(c.Geometry); err != nil {
		return Ranges{}, err
	}
	log := c.Logger
	if log == nil {
		log = logger.Nop()
	}

	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(batch))
	chunk := (len(batch) + workers - 1) / workers
	partial := make([]Ranges, workers)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		lo := w * chunk
		hi := min(lo+chunk, len(batch))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				act, err := model.Reference(c.Geometry, c.Weights, batch[i])
				if err != nil {
					return fmt.Errorf("sample %d: %w", i, err)
				}
				partial[w].observe(act)
			}
			log.Debug("calibration chunk done", "worker", w, "samples", hi-lo)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Ranges{}, err
	}

	var total Ranges
	for _, p := range partial {
		total.Merge(p)
	}
	log.Info("calibration ranges observed",
		"samples", len(batch),
		"workers", workers,
		"elapsed", time.Since(start),
		"input_max", total.Input.Max,
		"fc1_max", total.FC1.Max,
		"relu_max", total.ReLU.Max,
		"fc2_max", total.FC2.Max,
	)
	return total, nil
}
