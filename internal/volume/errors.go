package volume

import "github.com/pkg/errors"

// Error taxonomy. Every error returned by this module wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	// ErrDimension reports a shape mismatch or an indivisible reshape.
	ErrDimension = errors.New("dimension error")
	// ErrNotSupported reports an unimplemented variant, a broadcasting
	// attempt, or a backend mismatch.
	ErrNotSupported = errors.New("not supported")
	// ErrAllocation reports a negative or overflowing size or a device
	// allocation failure.
	ErrAllocation = errors.New("allocation error")
	// ErrInvalidResult reports a NaN or infinite loss.
	ErrInvalidResult = errors.New("invalid result")
)
