package volume

import (
	"github.com/pkg/errors"
)

// ReduceOp selects a reduction.
type ReduceOp int

// Reductions. Only Add, Max, Min and Norm1 are implemented.
const (
	ReduceAdd ReduceOp = iota
	ReduceMul
	ReduceMin
	ReduceMax
	ReduceAMax
	ReduceAvg
	ReduceNorm1
	ReduceNorm2
)

// String returns the reduction name.
func (op ReduceOp) String() string {
	switch op {
	case ReduceAdd:
		return "add"
	case ReduceMul:
		return "mul"
	case ReduceMin:
		return "min"
	case ReduceMax:
		return "max"
	case ReduceAMax:
		return "amax"
	case ReduceAvg:
		return "avg"
	case ReduceNorm1:
		return "norm1"
	case ReduceNorm2:
		return "norm2"
	default:
		return "unknown"
	}
}

// Reduce dispatches to the reduction selected by op.
func (v *Volume[T]) Reduce(result *Volume[T], op ReduceOp) error {
	switch op {
	case ReduceAdd:
		return v.Sum(result)
	case ReduceMax:
		return v.Max(result)
	case ReduceMin:
		return v.Min(result)
	case ReduceNorm1:
		return v.Norm1(result)
	default:
		return errors.Wrapf(ErrNotSupported, "reduce %s", op)
	}
}

// Sum reduces over the non-batch axes, one value per batch item.
//
// When result has a declared singleton batch axis while the receiver holds
// several batch items, Sum instead adds across the batch and writes one value
// per feature (the layout of a bias gradient).
func (v *Volume[T]) Sum(result *Volume[T]) error {
	view, batch, err := v.batchView()
	if err != nil {
		return err
	}
	features := view.Shape().Dimension(0)
	data, err := view.storage.Data()
	if err != nil {
		return err
	}

	rs := result.Shape()
	if batch > 1 && rs.DimensionCount() > 1 && rs.Dimension(3) == 1 {
		if rs.TotalLength() != features {
			return errors.Wrapf(ErrDimension, "sum: result %v cannot hold %d features", rs, features)
		}
		out, err := result.storage.Data()
		if err != nil {
			return err
		}
		for j := 0; j < features; j++ {
			var sum T
			for i := 0; i < batch; i++ {
				sum += data[i*features+j]
			}
			out[j] = sum
		}
		return nil
	}

	return reduceBatch(view, result, batch, func(col []T) T {
		var sum T
		for _, d := range col {
			sum += d
		}
		return sum
	})
}

// Max writes the maximum of every batch item into result.
func (v *Volume[T]) Max(result *Volume[T]) error {
	return v.reduceEach(result, func(col []T) T {
		m := lowest[T]()
		for _, d := range col {
			if d > m {
				m = d
			}
		}
		return m
	})
}

// Min writes the minimum of every batch item into result.
func (v *Volume[T]) Min(result *Volume[T]) error {
	return v.reduceEach(result, func(col []T) T {
		m := highest[T]()
		for _, d := range col {
			if d < m {
				m = d
			}
		}
		return m
	})
}

// Norm1 writes the sum of absolute values of every batch item into result.
func (v *Volume[T]) Norm1(result *Volume[T]) error {
	return v.reduceEach(result, func(col []T) T {
		var sum T
		for _, d := range col {
			if d < 0 {
				sum -= d
			} else {
				sum += d
			}
		}
		return sum
	})
}

func (v *Volume[T]) reduceEach(result *Volume[T], f func(col []T) T) error {
	view, batch, err := v.batchView()
	if err != nil {
		return err
	}
	return reduceBatch(view, result, batch, f)
}

// reduceBatch applies f to each column of a (features, batch) view and
// stores the results at flat indices 0..batch-1 of result.
func reduceBatch[T Float](view, result *Volume[T], batch int, f func(col []T) T) error {
	if result.Shape().TotalLength() < batch {
		return errors.Wrapf(ErrDimension, "reduce: result %v cannot hold %d batch items", result.Shape(), batch)
	}
	data, err := view.storage.Data()
	if err != nil {
		return err
	}
	out, err := result.storage.Data()
	if err != nil {
		return err
	}
	features := view.Shape().Dimension(0)
	for i := 0; i < batch; i++ {
		out[i] = f(data[i*features:][:features])
	}
	return nil
}
