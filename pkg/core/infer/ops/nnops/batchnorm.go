package nnops

import (
	"github.com/chewxy/math32"

	"github.com/nervegraph/inferon/pkg/core/infer/dim"
	"github.com/nervegraph/inferon/pkg/core/infer/fact"
	"github.com/nervegraph/inferon/pkg/core/infer/infererr"
	"github.com/nervegraph/inferon/pkg/core/infer/model"
	"github.com/nervegraph/inferon/pkg/core/infer/ops/mathops"
	"github.com/nervegraph/inferon/pkg/core/infer/solver"
	tens "github.com/nervegraph/inferon/pkg/core/infer/tensor"
)

// BatchNorm applies the usual (x-mean)/sqrt(var+eps)*scale+beta
// normalization, folded into a single per-channel slope/intercept pass
// (spec's supplemented features, grounded on the original's
// onnx/src/ops/nn/batch_norm.rs).
type BatchNorm struct {
	model.Stateless
	Format  DataFormat
	Epsilon float32
}

func (b *BatchNorm) Name() string    { return "BatchNorm" }
func (b *BatchNorm) NumOutputs() int { return 1 }

// slopeIntercept folds scale/beta/mean/var into a per-channel
// slope/intercept pair: y = x*slope + intercept.
func (b *BatchNorm) slopeIntercept(cdim int, scale, beta, mean, variance []float32) ([]float32, []float32) {
	slope := make([]float32, cdim)
	intercept := make([]float32, cdim)
	for c := 0; c < cdim; c++ {
		denom := math32.Sqrt(variance[c] + b.Epsilon)
		slope[c] = scale[c] / denom
		intercept[c] = beta[c] - mean[c]*scale[c]/denom
	}
	return slope, intercept
}

func (b *BatchNorm) Eval(inputs []*tens.Tensor) ([]*tens.Tensor, error) {
	if len(inputs) != 5 {
		return nil, infererr.New(infererr.ArityMismatch, "batch norm expects exactly 5 inputs")
	}
	x, scale, beta, mean, variance := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	shape := x.Shape()
	cAxis := b.Format.CAxis(len(shape))
	cd, err := cdim(shape, b.Format)
	if err != nil {
		return nil, err
	}

	slope, intercept := b.slopeIntercept(cd,
		scale.Data().([]float32), beta.Data().([]float32),
		mean.Data().([]float32), variance.Data().([]float32))

	xd := x.Data().([]float32)
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	out := make([]float32, len(xd))
	for i := range xd {
		c := (i / strides[cAxis]) % shape[cAxis]
		out[i] = xd[i]*slope[c] + intercept[c]
	}
	ot, err := tens.FromBacking(shape, out)
	if err != nil {
		return nil, err
	}
	return []*tens.Tensor{ot}, nil
}

func (b *BatchNorm) Rules(s *solver.Solver, in, out []solver.TensorProxy) error {
	if len(in) != 5 || len(out) != 1 {
		return infererr.New(infererr.ArityMismatch, "batch norm expects 5 inputs and 1 output")
	}
	if err := s.EqualsAllTypes(out[0].DatumType(), in[0].DatumType(), in[1].DatumType(), in[2].DatumType(), in[3].DatumType(), in[4].DatumType()); err != nil {
		return err
	}
	if err := s.Equals(in[0].Shape(), out[0].Shape()); err != nil {
		return err
	}
	if err := s.EqualsAllDims(in[1].Shape().At(0), in[2].Shape().At(0), in[3].Shape().At(0)); err != nil {
		return err
	}
	if err := s.EqualsAllDims(in[1].Shape().At(0), in[4].Shape().At(0)); err != nil {
		return err
	}
	format := b.Format
	s.GivenShape(in[0].Shape(), func(sv *solver.Solver, shape []dim.TDim) error {
		return sv.Equals(in[1].Shape().At(0), shape[format.CAxis(len(shape))])
	})
	return nil
}

func (b *BatchNorm) Incorporate(*model.InferenceModel, *model.InferenceNode) (*model.Patch, error) {
	return nil, nil
}

// ToTyped folds BatchNorm into a scale-then-shift pair once its
// parameters are compile-time constants, the same rewrite the original
// performs at to_typed time.
func (b *BatchNorm) ToTyped(source *model.InferenceModel, node *model.InferenceNode, target *model.TypedModel, mapping map[model.OutletId]model.OutletId) ([]model.OutletId, error) {
	xFact, err := target.OutletFact(mapping[node.Inputs[0]])
	if err != nil {
		return nil, err
	}
	params := make([]*tens.Tensor, 4)
	for i := 0; i < 4; i++ {
		pf, err := target.OutletFact(mapping[node.Inputs[i+1]])
		if err != nil {
			return nil, err
		}
		if pf.Konst == nil {
			return nil, infererr.New(infererr.LoweringFailure, "batch norm parameters are not constant")
		}
		params[i] = pf.Konst
	}

	cAxis := b.Format.CAxis(len(xFact.Shape))
	cd := xFact.Shape[cAxis]
	slope, intercept := b.slopeIntercept(cd,
		params[0].Data().([]float32), params[1].Data().([]float32),
		params[2].Data().([]float32), params[3].Data().([]float32))

	paramShape := make([]int, len(xFact.Shape))
	for i := range paramShape {
		paramShape[i] = 1
	}
	paramShape[cAxis] = cd

	slopeT, err := tens.FromBacking(paramShape, slope)
	if err != nil {
		return nil, err
	}
	interT, err := tens.FromBacking(paramShape, intercept)
	if err != nil {
		return nil, err
	}

	xWire := mapping[node.Inputs[0]]
	mulID, err := target.AddNode(node.Name+"-mul", &mathops.UnaryConst{Kind: mathops.KindMul, Const: slopeT}, 1,
		[]fact.TypedTensorInfo{{DType: xFact.DType, Shape: xFact.Shape}})
	if err != nil {
		return nil, err
	}
	if err := target.AddEdge(xWire, model.InletId{NodeID: mulID, Slot: 0}); err != nil {
		return nil, err
	}

	addID, err := target.AddNode(node.Name, &mathops.UnaryConst{Kind: mathops.KindAdd, Const: interT}, 1,
		[]fact.TypedTensorInfo{{DType: xFact.DType, Shape: xFact.Shape}})
	if err != nil {
		return nil, err
	}
	if err := target.AddEdge(model.OutletId{NodeID: mulID, Slot: 0}, model.InletId{NodeID: addID, Slot: 0}); err != nil {
		return nil, err
	}

	return []model.OutletId{{NodeID: addID, Slot: 0}}, nil
}
