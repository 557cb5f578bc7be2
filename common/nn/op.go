// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nn

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/gorse-io/twotower/common/floats"
)

type op interface {
	String() string
	forward(inputs ...*Tensor) *Tensor
	backward(dy *Tensor) []*Tensor
	inputsAndOutput() ([]*Tensor, *Tensor)
	setInputs(inputs ...*Tensor)
	setOutput(y *Tensor)
}

type base struct {
	inputs []*Tensor
	output *Tensor
}

func (b *base) inputsAndOutput() ([]*Tensor, *Tensor) {
	return b.inputs, b.output
}

func (b *base) setInputs(inputs ...*Tensor) {
	b.inputs = inputs
}

func (b *base) setOutput(y *Tensor) {
	b.output = y
}

func apply[T op](f T, inputs ...*Tensor) *Tensor {
	for _, input := range inputs {
		if input.data == nil {
			panic(fmt.Sprintf("nn: %v on a released tensor", f))
		}
	}
	y := f.forward(inputs...)
	f.setInputs(inputs...)
	f.setOutput(y)
	y.op = f
	return y
}

// reduce sums dy into a tensor of the suffix shape.
func reduce(dy *Tensor, shape []int) *Tensor {
	gx := Zeros(shape...)
	wSize := len(gx.data)
	for i := range dy.data {
		gx.data[i%wSize] += dy.data[i]
	}
	return gx
}

type add struct {
	base
}

func (a *add) String() string {
	return "Add"
}

func (a *add) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.add(inputs[1])
	return y
}

func (a *add) backward(dy *Tensor) []*Tensor {
	return []*Tensor{dy.clone(), reduce(dy, a.inputs[1].shape)}
}

type sub struct {
	base
}

func (s *sub) String() string {
	return "Sub"
}

func (s *sub) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.sub(inputs[1])
	return y
}

func (s *sub) backward(dy *Tensor) []*Tensor {
	gx1 := reduce(dy, s.inputs[1].shape)
	gx1.neg()
	return []*Tensor{dy.clone(), gx1}
}

type mul struct {
	base
}

func (m *mul) String() string {
	return "Mul"
}

func (m *mul) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	y.mul(inputs[1])
	return y
}

func (m *mul) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx0.mul(m.inputs[1])
	gx1 := Zeros(m.inputs[1].shape...)
	wSize := len(gx1.data)
	for i := range dy.data {
		gx1.data[i%wSize] += dy.data[i] * m.inputs[0].data[i]
	}
	return []*Tensor{gx0, gx1}
}

type neg struct {
	base
}

func (n *neg) String() string {
	return "Neg"
}

func (n *neg) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().neg()
}

func (n *neg) backward(dy *Tensor) []*Tensor {
	return []*Tensor{dy.clone().neg()}
}

type exp struct {
	base
}

func (e *exp) String() string {
	return "Exp"
}

func (e *exp) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().exp()
}

func (e *exp) backward(dy *Tensor) []*Tensor {
	dx := e.output.clone()
	dx.mul(dy)
	return []*Tensor{dx}
}

type log struct {
	base
}

func (l *log) String() string {
	return "Log"
}

func (l *log) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].clone().log()
}

func (l *log) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	dx.div(l.inputs[0])
	return []*Tensor{dx}
}

type sum struct {
	base
}

func (s *sum) String() string {
	return "Sum"
}

func (s *sum) forward(inputs ...*Tensor) *Tensor {
	return NewScalar(inputs[0].sum())
}

func (s *sum) backward(dy *Tensor) []*Tensor {
	dx := Ones(s.inputs[0].shape...)
	floats.MulConst(dx.data, dy.data[0])
	return []*Tensor{dx}
}

type mean struct {
	base
}

func (m *mean) String() string {
	return "Mean"
}

func (m *mean) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	return NewScalar(x.sum() / float32(len(x.data)))
}

func (m *mean) backward(dy *Tensor) []*Tensor {
	dx := Zeros(m.inputs[0].shape...)
	for i := range dx.data {
		dx.data[i] = dy.data[0] / float32(len(dx.data))
	}
	return []*Tensor{dx}
}

type matMul struct {
	base
	transA bool
	transB bool
}

func (m *matMul) String() string {
	return "MatMul"
}

func (m *matMul) forward(inputs ...*Tensor) *Tensor {
	return inputs[0].matMul(inputs[1], m.transA, m.transB)
}

func (m *matMul) backward(dy *Tensor) []*Tensor {
	a, b := m.inputs[0], m.inputs[1]
	var da, db *Tensor
	switch {
	case !m.transA && !m.transB:
		// C = A B
		da = dy.matMul(b, false, true)
		db = a.matMul(dy, true, false)
	case !m.transA && m.transB:
		// C = A B^T
		da = dy.matMul(b, false, false)
		db = dy.matMul(a, true, false)
	case m.transA && !m.transB:
		// C = A^T B
		da = b.matMul(dy, false, true)
		db = a.matMul(dy, false, false)
	default:
		// C = A^T B^T
		da = b.matMul(dy, true, true)
		db = dy.matMul(a, true, true)
	}
	return []*Tensor{da, db}
}

type flatten struct {
	base
}

func (f *flatten) String() string {
	return "Flatten"
}

func (f *flatten) forward(inputs ...*Tensor) *Tensor {
	return NewTensor(inputs[0].clone().data, len(inputs[0].data))
}

func (f *flatten) backward(dy *Tensor) []*Tensor {
	return []*Tensor{NewTensor(dy.clone().data, f.inputs[0].shape...)}
}

func sigmoidOf(x float32) float32 {
	if x >= 0 {
		return 1 / (1 + math32.Exp(-x))
	}
	e := math32.Exp(x)
	return e / (1 + e)
}

type logSigmoid struct {
	base
}

func (l *logSigmoid) String() string {
	return "LogSigmoid"
}

func (l *logSigmoid) forward(inputs ...*Tensor) *Tensor {
	// y = min(x, 0) - log(1 + exp(-|x|))
	y := inputs[0].clone()
	for i, x := range y.data {
		y.data[i] = math32.Min(x, 0) - math32.Log1p(math32.Exp(-math32.Abs(x)))
	}
	return y
}

func (l *logSigmoid) backward(dy *Tensor) []*Tensor {
	// dx = dy * sigmoid(-x)
	dx := dy.clone()
	for i, x := range l.inputs[0].data {
		dx.data[i] *= sigmoidOf(-x)
	}
	return []*Tensor{dx}
}

type relu struct {
	base
}

func (r *relu) String() string {
	return "ReLU"
}

func (r *relu) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		if y.data[i] < 0 {
			y.data[i] = 0
		}
	}
	return y
}

func (r *relu) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i, x := range r.inputs[0].data {
		if x <= 0 {
			dx.data[i] = 0
		}
	}
	return []*Tensor{dx}
}

type embedding struct {
	base
	indices []int32
}

func (e *embedding) String() string {
	return "Embedding"
}

func (e *embedding) forward(inputs ...*Tensor) *Tensor {
	w := inputs[0]
	dim := w.shape[1]
	y := Zeros(len(e.indices), dim)
	for i, index := range e.indices {
		copy(y.data[i*dim:(i+1)*dim], w.Row(int(index)))
	}
	return y
}

func (e *embedding) backward(dy *Tensor) []*Tensor {
	w := e.inputs[0]
	dim := w.shape[1]
	dw := Zeros(w.shape...)
	for i, index := range e.indices {
		floats.Add(dw.Row(int(index)), dy.data[i*dim:(i+1)*dim])
	}
	return []*Tensor{dw}
}

type normalize struct {
	base
	eps   float32
	norms []float32
}

func (n *normalize) String() string {
	return "Normalize"
}

func (n *normalize) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	rows := y.shape[0]
	n.norms = make([]float32, rows)
	for i := 0; i < rows; i++ {
		row := y.Row(i)
		n.norms[i] = floats.Norm(row)
		floats.MulConst(row, 1/math32.Max(n.norms[i], n.eps))
	}
	return y
}

func (n *normalize) backward(dy *Tensor) []*Tensor {
	dx := dy.clone()
	for i, norm := range n.norms {
		row := dx.Row(i)
		if norm > n.eps {
			// dx = (dy - y (y . dy)) / |x|
			y := n.output.Row(i)
			floats.MulConstAdd(y, -floats.Dot(y, row), row)
			floats.MulConst(row, 1/norm)
		} else {
			floats.MulConst(row, 1/n.eps)
		}
	}
	return []*Tensor{dx}
}

type rowDot struct {
	base
}

func (r *rowDot) String() string {
	return "RowDot"
}

func (r *rowDot) forward(inputs ...*Tensor) *Tensor {
	a, b := inputs[0], inputs[1]
	y := Zeros(a.shape[0])
	for i := range y.data {
		y.data[i] = floats.Dot(a.Row(i), b.Row(i))
	}
	return y
}

func (r *rowDot) backward(dy *Tensor) []*Tensor {
	a, b := r.inputs[0], r.inputs[1]
	da, db := Zeros(a.shape...), Zeros(b.shape...)
	for i, g := range dy.data {
		floats.MulConstTo(b.Row(i), g, da.Row(i))
		floats.MulConstTo(a.Row(i), g, db.Row(i))
	}
	return []*Tensor{da, db}
}

type softmaxCrossEntropy struct {
	base
	targets []int32
	probs   *Tensor
}

func (s *softmaxCrossEntropy) String() string {
	return "SoftmaxCrossEntropy"
}

func (s *softmaxCrossEntropy) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	s.probs = x.clone()
	var loss float32
	for i, target := range s.targets {
		row := s.probs.Row(i)
		maxValue := row[0]
		for _, v := range row[1:] {
			maxValue = math32.Max(maxValue, v)
		}
		var total float32
		for j := range row {
			row[j] = math32.Exp(row[j] - maxValue)
			total += row[j]
		}
		floats.MulConst(row, 1/total)
		// -log softmax(x)_t = log(sum exp(x - max)) - (x_t - max)
		loss += math32.Log(total) - (x.data[i*x.shape[1]+int(target)] - maxValue)
	}
	return NewScalar(loss / float32(len(s.targets)))
}

func (s *softmaxCrossEntropy) backward(dy *Tensor) []*Tensor {
	// dx = (softmax(x) - onehot(t)) / n
	dx := s.probs.clone()
	for i, target := range s.targets {
		dx.Row(i)[target] -= 1
	}
	floats.MulConst(dx.data, dy.data[0]/float32(len(s.targets)))
	return []*Tensor{dx}
}

func checkSuffix(x0, x1 *Tensor) {
	if len(x0.shape) < len(x1.shape) {
		panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
	}
	for i := 0; i < len(x1.shape); i++ {
		if x0.shape[len(x0.shape)-len(x1.shape)+i] != x1.shape[i] {
			panic("the shape of the second tensor must be a suffix sequence of the shape of the first tensor")
		}
	}
}

// Add returns the element-wise sum of two tensors. The shape of the smaller tensor must be a suffix sequence of the shape of the larger tensor.
func Add(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffix(x0, x1)
	return apply(&add{}, x0, x1)
}

// Sub returns the element-wise difference of two tensors. The shape of the second tensor must be a suffix sequence of the shape of the first tensor.
func Sub(x0, x1 *Tensor) *Tensor {
	checkSuffix(x0, x1)
	return apply(&sub{}, x0, x1)
}

// Mul returns the element-wise product of two tensors. The shape of the smaller tensor must be a suffix sequence of the shape of the larger tensor.
func Mul(x0, x1 *Tensor) *Tensor {
	if len(x0.shape) < len(x1.shape) {
		x0, x1 = x1, x0
	}
	checkSuffix(x0, x1)
	return apply(&mul{}, x0, x1)
}

func Neg(x *Tensor) *Tensor {
	return apply(&neg{}, x)
}

// Exp returns the element-wise exponential of a tensor.
func Exp(x *Tensor) *Tensor {
	return apply(&exp{}, x)
}

// Log returns the element-wise natural logarithm of a tensor.
func Log(x *Tensor) *Tensor {
	return apply(&log{}, x)
}

// Sum returns the sum of all elements in a tensor.
func Sum(x *Tensor) *Tensor {
	return apply(&sum{}, x)
}

// Mean returns the mean of all elements in a tensor.
func Mean(x *Tensor) *Tensor {
	return apply(&mean{}, x)
}

// MatMul returns op(x) * op(y), where op transposes its argument if the corresponding flag is set.
func MatMul(x, y *Tensor, transA, transB bool) *Tensor {
	return apply(&matMul{transA: transA, transB: transB}, x, y)
}

func Flatten(x *Tensor) *Tensor {
	return apply(&flatten{}, x)
}

// LogSigmoid returns log(sigmoid(x)) computed without overflow.
func LogSigmoid(x *Tensor) *Tensor {
	return apply(&logSigmoid{}, x)
}

func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

// Embedding gathers rows of w by indices. Gradients are scattered back into w.
func Embedding(w *Tensor, indices []int32) *Tensor {
	if len(w.shape) != 2 {
		panic("nn: embedding table must be 2-D")
	}
	for _, index := range indices {
		if index < 0 || int(index) >= w.shape[0] {
			panic(fmt.Sprintf("nn: embedding index %d out of range [0, %d)", index, w.shape[0]))
		}
	}
	return apply(&embedding{indices: indices}, w)
}

// Normalize scales every row of a 2-D tensor to unit L2 norm. Norms below eps are
// replaced by eps, so zero rows stay zero.
func Normalize(x *Tensor, eps float32) *Tensor {
	if len(x.shape) != 2 {
		panic("nn: normalize requires a 2-D tensor")
	}
	return apply(&normalize{eps: eps}, x)
}

// RowDot returns the dot products of aligned rows of two 2-D tensors.
func RowDot(a, b *Tensor) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 || a.shape[0] != b.shape[0] || a.shape[1] != b.shape[1] {
		panic(fmt.Sprintf("nn: row dot shape mismatch %v and %v", a.shape, b.shape))
	}
	return apply(&rowDot{}, a, b)
}

// SoftmaxCrossEntropy returns the mean categorical cross entropy between softmax(logits)
// and the target class of each row.
func SoftmaxCrossEntropy(logits *Tensor, targets []int32) *Tensor {
	if len(logits.shape) != 2 || logits.shape[0] != len(targets) {
		panic(fmt.Sprintf("nn: logits %v do not match %d targets", logits.shape, len(targets)))
	}
	for _, target := range targets {
		if target < 0 || int(target) >= logits.shape[1] {
			panic(fmt.Sprintf("nn: target %d out of range [0, %d)", target, logits.shape[1]))
		}
	}
	return apply(&softmaxCrossEntropy{targets: targets}, logits)
}
