// Package nnops implements the neural-network-shaped operators this
// engine supplements beyond the base arithmetic set: BatchNorm folding
// and MatMul (spec's supplemented features, grounded on the original's
// onnx/src/ops/nn package).
package nnops

import "github.com/nervegraph/inferon/pkg/core/infer/infererr"

// DataFormat names which axis of an NCHW/NHWC-shaped tensor carries
// channels, mirroring the original's tract_core::ops::nn::DataFormat.
type DataFormat int

const (
	// NHWC is channels-last: the channel axis is the tensor's last axis.
	NHWC DataFormat = iota
	// NCHW is channels-first: the channel axis is axis 1.
	NCHW
)

// CAxis returns the channel axis for a tensor of the given rank.
func (f DataFormat) CAxis(rank int) int {
	if f == NCHW {
		return 1
	}
	return rank - 1
}

func cdim(shape []int, f DataFormat) (int, error) {
	if len(shape) == 0 {
		return 0, infererr.New(infererr.ShapeMismatch, "batch-norm input must have rank >= 1")
	}
	return shape[f.CAxis(len(shape))], nil
}
