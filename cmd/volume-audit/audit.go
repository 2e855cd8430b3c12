package main

import (
	"github.com/born-ml/volume/autodiff"
	"github.com/born-ml/volume/backend/accel"
	"github.com/born-ml/volume/volume"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Report holds the memory counters observed by an audit.
type Report struct {
	Before     accel.MemoryStats
	AfterFirst accel.MemoryStats
	AfterLast  accel.MemoryStats
	FirstLoss  float32
	LastLoss   float32
}

// Check fails when an iteration left memory behind.
func (r Report) Check() error {
	if r.AfterFirst.TotalMemoryUsage != r.AfterLast.TotalMemoryUsage {
		return errors.Errorf("memory grew from %d to %d bytes between iterations",
			r.AfterFirst.TotalMemoryUsage, r.AfterLast.TotalMemoryUsage)
	}
	if r.AfterLast.TotalMemoryUsage != r.Before.TotalMemoryUsage {
		return errors.Errorf("%d bytes still allocated after releasing everything",
			r.AfterLast.TotalMemoryUsage-r.Before.TotalMemoryUsage)
	}
	if r.AfterFirst.NotDisposedDueToOwnership != r.AfterLast.NotDisposedDueToOwnership {
		return errors.Errorf("views released before their owner grew from %d to %d bytes",
			r.AfterFirst.NotDisposedDueToOwnership, r.AfterLast.NotDisposedDueToOwnership)
	}
	return nil
}

// audit runs iterations training steps on ctx and records the counters.
func audit(ctx *accel.Context, iterations int) (Report, error) {
	if iterations < 1 {
		return Report{}, errors.Errorf("iterations must be positive, got %d", iterations)
	}

	b := accel.NewBuilder[float32](ctx)
	s := autodiff.NewSession()
	report := Report{Before: ctx.Memory().Snapshot()}

	for i := 0; i < iterations; i++ {
		loss, err := step(b, s)
		if err != nil {
			return report, errors.WithMessagef(err, "iteration %d", i+1)
		}
		klog.V(1).Infof("iteration %d: loss %.6f, %s", i+1, loss, ctx.Memory().Snapshot())

		if i == 0 {
			report.FirstLoss = loss
			report.AfterFirst = ctx.Memory().Snapshot()
		}
		report.LastLoss = loss
	}
	report.AfterLast = ctx.Memory().Snapshot()
	return report, nil
}

// step runs one forward and backward pass of conv, relu, max pool, softmax
// and releases everything it allocated.
func step(b volume.Builder[float32], s *autodiff.Session) (loss float32, err error) {
	var owned []*volume.Volume[float32]
	alloc := func(v *volume.Volume[float32], err error) (*volume.Volume[float32], error) {
		if err == nil {
			owned = append(owned, v)
		}
		return v, err
	}

	x, err := alloc(b.Random(volume.MustShape(8, 8, 2, 4), 0, 1))
	if err != nil {
		return 0, err
	}
	w, err := alloc(b.Random(volume.MustShape(3, 3, 2, 4), 0, 0.1))
	if err != nil {
		return 0, err
	}

	conv := autodiff.NewConvolution[float32](autodiff.NewVariable(x, "x"), autodiff.NewVariable(w, "w"), 1, 1,
		autodiff.WithBuilder(b))
	defer func() {
		for _, v := range owned {
			if rerr := v.Release(); rerr != nil && err == nil {
				err = rerr
			}
		}
		if rerr := conv.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	s.BeginPass()
	y, err := conv.Evaluate(s)
	if err != nil {
		return 0, err
	}
	r, err := alloc(b.SameAs(x.Storage(), y.Shape()))
	if err != nil {
		return 0, err
	}
	if err := y.Relu(r); err != nil {
		return 0, err
	}

	cfg := volume.Square(2, 2)
	poolShape, err := volume.PoolOutputShape(r.Shape(), cfg)
	if err != nil {
		return 0, err
	}
	p, err := alloc(b.SameAs(x.Storage(), poolShape))
	if err != nil {
		return 0, err
	}
	if err := r.Pool(p, cfg); err != nil {
		return 0, err
	}
	prob, err := alloc(b.SameAs(x.Storage(), poolShape))
	if err != nil {
		return 0, err
	}
	if err := p.Softmax(prob); err != nil {
		return 0, err
	}

	target, err := alloc(b.SameAs(x.Storage(), poolShape))
	if err != nil {
		return 0, err
	}
	for n := 0; n < poolShape.Dimension(3); n++ {
		target.Set(1, n%poolShape.Dimension(0), 0, 0, n)
	}
	loss, err = volume.NegativeLogLikelihood(target, prob)
	if err != nil {
		return 0, err
	}

	// Round-trip the probabilities through the device like a GPU kernel
	// consumer would.
	if st, ok := prob.Storage().(*accel.Storage[float32]); ok {
		if err := st.CopyToDevice(); err != nil {
			return 0, err
		}
	}

	dp, err := alloc(b.SameAs(x.Storage(), poolShape))
	if err != nil {
		return 0, err
	}
	if err := prob.SoftmaxGradient(target, dp); err != nil {
		return 0, err
	}
	dr, err := alloc(b.SameAs(x.Storage(), r.Shape()))
	if err != nil {
		return 0, err
	}
	if err := p.PoolGradient(r, dp, dr, cfg); err != nil {
		return 0, err
	}
	dy, err := alloc(b.SameAs(x.Storage(), y.Shape()))
	if err != nil {
		return 0, err
	}
	if err := r.ReluGradient(y, dr, dy); err != nil {
		return 0, err
	}

	dW := autodiff.NewConvolutionFilterGradient[float32](conv, autodiff.NewConst(dy, "dy"))
	if _, err := dW.Evaluate(s); err != nil {
		return 0, err
	}
	return loss, nil
}
