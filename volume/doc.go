// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package volume provides the four-dimensional numeric volumes behind the
// Born layer kernels.
//
// # Overview
//
// A Volume is a dense (width, height, depth, batch) array of float32 or
// float64 values over a Storage. This package provides:
//   - Shapes with an optional inferred dimension
//   - Host storage and the Storage contract accelerator backends implement
//   - Layer kernels: convolution, max pooling, activations, softmax,
//     reductions and the negative log-likelihood loss
//   - Builders selecting the storage backend of new volumes
//
// # Basic Usage
//
//	import "github.com/born-ml/volume/volume"
//
//	func main() {
//	    b := volume.CurrentBuilder[float32]()
//
//	    x, _ := b.Random(volume.MustShape(28, 28, 1, 16), 0, 1)
//	    w, _ := b.Random(volume.MustShape(5, 5, 1, 8), 0, 0.1)
//
//	    shape, _ := volume.ConvolutionOutputShape(x.Shape(), w.Shape(), 2, 1)
//	    y, _ := b.SameAs(x.Storage(), shape)
//	    _ = x.Convolution(w, 2, 1, y)
//	}
//
// # Kernels
//
// Kernels are methods on the input volume and write into a result volume the
// caller allocated. Shapes are checked before any element is touched; a
// mismatch fails with ErrDimension. Elementwise operations never broadcast;
// operands of different shapes fail with ErrNotSupported.
//
// # Backends
//
// The default builder allocates host volumes. Install the accelerator
// builder from backend/accel with SetBuilder to allocate pinned host memory
// mirrored on a device instead.
package volume
