//go:build !windows

package accel

import (
	"github.com/born-ml/volume/internal/volume"
	"github.com/pkg/errors"
)

// OpenDevice opens the platform accelerator. WebGPU is only wired on windows.
func OpenDevice() (Device, error) {
	return nil, errors.Wrap(volume.ErrNotSupported, "accel: no hardware device on this platform")
}
