package volume

import (
	"math"

	"github.com/pkg/errors"
)

// NegativeLogLikelihood returns -Σ target_i * log(max(actual_i, ε)).
//
// The ε floor keeps a confident wrong prediction finite. A NaN or infinite
// loss means the network blew up upstream and fails with ErrInvalidResult.
func NegativeLogLikelihood[T Float](target, actual *Volume[T]) (T, error) {
	if err := sameShape("loss", target, actual); err != nil {
		return 0, err
	}

	expected, err := target.ToArray()
	if err != nil {
		return 0, err
	}
	got, err := actual.ToArray()
	if err != nil {
		return 0, err
	}

	eps := Epsilon[T]()
	var loss T
	for i := range expected {
		a := max(got[i], eps)
		loss += expected[i] * T(math.Log(float64(a)))
	}
	loss = -loss

	if f := float64(loss); math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Wrapf(ErrInvalidResult, "loss: %v", f)
	}
	return loss, nil
}
