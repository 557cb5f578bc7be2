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
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

const (
	eps  = 1e-4
	rtol = 1e-2
	atol = 5e-3
)

// Rand creates a tensor filled with uniform random numbers in [0, 1).
func Rand(shape ...int) *Tensor {
	data := make([]float32, size(shape))
	for i := range data {
		data[i] = rand.Float32()
	}
	return NewTensor(data, shape...)
}

func numericalDiff(f func(*Tensor) *Tensor, x *Tensor) *Tensor {
	x0, x1 := x.clone(), x.clone()
	dx := make([]float32, len(x.data))
	for i, v := range x.data {
		x0.data[i] = v - eps
		x1.data[i] = v + eps
		y0 := f(x0)
		y1 := f(x1)
		for j := range y0.data {
			dx[i] += (y1.data[j] - y0.data[j]) / (2 * eps)
		}
		x0.data[i] = v
		x1.data[i] = v
	}
	return NewTensor(dx, x.shape...)
}

func allClose(t *testing.T, a, b *Tensor) {
	if !assert.Equal(t, a.shape, b.shape) {
		return
	}
	for i := range a.data {
		if math32.Abs(a.data[i]-b.data[i]) > atol+rtol*math32.Abs(b.data[i]) {
			t.Fatalf("a.data[%d] = %f, b.data[%d] = %f\n", i, a.data[i], i, b.data[i])
			return
		}
	}
}

func TestAdd(t *testing.T) {
	// (2,3) + (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Add(x, y)
	assert.Equal(t, []float32{3, 5, 7, 9, 11, 13}, z.data)

	// Test gradient
	x = Rand(2, 3)
	y = Rand(2, 3)
	z = Add(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Add(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Add(x, y) }, y)
	allClose(t, y.grad, dy)

	// (2,3) + () -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2})
	z = Add(x, y)
	assert.Equal(t, []float32{3, 4, 5, 6, 7, 8}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
	assert.Equal(t, []float32{6}, y.grad.data)

	// (2,3) + (3) -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2, 3, 4}, 3)
	z = Add(x, y)
	assert.Equal(t, []float32{3, 5, 7, 6, 8, 10}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
	assert.Equal(t, []float32{2, 2, 2}, y.grad.data)

	// (3) + (2,3) -> (2,3)
	z = Add(NewTensor([]float32{2, 3, 4}, 3), NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
	assert.Equal(t, []int{2, 3}, z.shape)
	assert.Panics(t, func() { Add(NewTensor([]float32{1, 2}, 2), NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)) })
}

func TestSub(t *testing.T) {
	// (2,3) - (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Sub(x, y)
	assert.Equal(t, []float32{-1, -1, -1, -1, -1, -1}, z.data)

	// Test gradient
	x = Rand(2, 3)
	y = Rand(2, 3)
	z = Sub(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Sub(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Sub(x, y) }, y)
	allClose(t, y.grad, dy)

	// (2,3) - () -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2})
	z = Sub(x, y)
	assert.Equal(t, []float32{-1, 0, 1, 2, 3, 4}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
	assert.Equal(t, []float32{-6}, y.grad.data)

	// (2,3) - (3) -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2, 3, 4}, 3)
	z = Sub(x, y)
	assert.Equal(t, []float32{-1, -1, -1, 2, 2, 2}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
	assert.Equal(t, []float32{-2, -2, -2}, y.grad.data)
}

func TestMul(t *testing.T) {
	// (2,3) * (2,3) -> (2,3)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{2, 3, 4, 5, 6, 7}, 2, 3)
	z := Mul(x, y)
	assert.Equal(t, []float32{2, 6, 12, 20, 30, 42}, z.data)

	// Test gradient
	x = Rand(2, 3)
	y = Rand(2, 3)
	z = Mul(x, y)
	z.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return Mul(x, y) }, x)
	allClose(t, x.grad, dx)
	dy := numericalDiff(func(y *Tensor) *Tensor { return Mul(x, y) }, y)
	allClose(t, y.grad, dy)

	// (2,3) * () -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2})
	z = Mul(x, y)
	assert.Equal(t, []float32{2, 4, 6, 8, 10, 12}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{2, 2, 2, 2, 2, 2}, x.grad.data)
	assert.Equal(t, []float32{21}, y.grad.data)

	// (2,3) * (3) -> (2,3)
	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = NewTensor([]float32{2, 3, 4}, 3)
	z = Mul(x, y)
	assert.Equal(t, []float32{2, 6, 12, 8, 15, 24}, z.data)

	// Test gradient
	z.Backward()
	assert.Equal(t, []float32{2, 3, 4, 2, 3, 4}, x.grad.data)
	assert.Equal(t, []float32{5, 7, 9}, y.grad.data)
}

func TestNeg(t *testing.T) {
	x := NewTensor([]float32{1, -2, 3}, 3)
	y := Neg(x)
	assert.Equal(t, []float32{-1, 2, -3}, y.data)
	y.Backward()
	assert.Equal(t, []float32{-1, -1, -1}, x.grad.data)
}

func TestExp(t *testing.T) {
	x := NewTensor([]float32{0, 1, 2}, 3)
	y := Exp(x)
	assert.InDeltaSlice(t, []float32{1, math32.E, math32.E * math32.E}, y.data, 1e-5)

	// Test gradient
	x = Rand(2, 3)
	y = Exp(x)
	y.Backward()
	dx := numericalDiff(Exp, x)
	allClose(t, x.grad, dx)
}

func TestLog(t *testing.T) {
	x := NewTensor([]float32{1, math32.E, math32.E * math32.E}, 3)
	y := Log(x)
	assert.InDeltaSlice(t, []float32{0, 1, 2}, y.data, 1e-5)

	// Test gradient
	x = Add(Rand(2, 3), NewScalar(1)).NoGrad()
	y = Log(x)
	y.Backward()
	dx := numericalDiff(Log, x)
	allClose(t, x.grad, dx)
}

func TestSumMean(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Sum(x)
	assert.Equal(t, []float32{21}, y.data)
	y.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)

	x = NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y = Mean(x)
	assert.Equal(t, []float32{3.5}, y.data)
	y.Backward()
	assert.InDeltaSlice(t, []float32{1. / 6, 1. / 6, 1. / 6, 1. / 6, 1. / 6, 1. / 6}, x.grad.data, 1e-6)
}

func TestMatMul(t *testing.T) {
	// (2,3) * (3,4) -> (2,4)
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := NewTensor([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, 3, 4)
	z := MatMul(x, y, false, false)
	assert.Equal(t, []int{2, 4}, z.shape)
	assert.Equal(t, []float32{38, 44, 50, 56, 83, 98, 113, 128}, z.data)
	assert.Panics(t, func() { MatMul(x, x, false, false) })

	for _, c := range []struct {
		transA, transB bool
		a, b           []int
	}{
		{false, false, []int{2, 3}, []int{3, 4}},
		{false, true, []int{2, 3}, []int{4, 3}},
		{true, false, []int{3, 2}, []int{3, 4}},
		{true, true, []int{3, 2}, []int{4, 3}},
	} {
		x = Rand(c.a...)
		y = Rand(c.b...)
		z = MatMul(x, y, c.transA, c.transB)
		assert.Equal(t, []int{2, 4}, z.shape)
		z.Backward()
		dx := numericalDiff(func(x *Tensor) *Tensor { return MatMul(x, y, c.transA, c.transB) }, x)
		allClose(t, x.grad, dx)
		dy := numericalDiff(func(y *Tensor) *Tensor { return MatMul(x, y, c.transA, c.transB) }, y)
		allClose(t, y.grad, dy)
	}
}

func TestFlatten(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Flatten(x)
	assert.Equal(t, []int{6}, y.shape)
	y.Backward()
	assert.Equal(t, []int{2, 3}, x.grad.shape)
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.grad.data)
}

func TestLogSigmoid(t *testing.T) {
	x := NewTensor([]float32{0, 100, -100}, 3)
	y := LogSigmoid(x)
	assert.InDeltaSlice(t, []float32{-math32.Ln2, 0, -100}, y.data, 1e-5)
	for _, v := range y.data {
		assert.False(t, math32.IsInf(v, 0))
	}

	// Test gradient
	x = Sub(Mul(Rand(2, 3), NewScalar(4)), NewScalar(2)).NoGrad()
	y = LogSigmoid(x)
	y.Backward()
	dx := numericalDiff(LogSigmoid, x)
	allClose(t, x.grad, dx)
}

func TestReLu(t *testing.T) {
	x := NewTensor([]float32{-2, -1, 1, 2}, 4)
	y := ReLu(x)
	assert.Equal(t, []float32{0, 0, 1, 2}, y.data)

	// Gradient is masked by the sign of the input.
	y = Mul(ReLu(x), NewTensor([]float32{-3, -3, -3, -3}, 4))
	y.Backward()
	assert.Equal(t, []float32{0, 0, -3, -3}, x.grad.data)
}

func TestEmbedding(t *testing.T) {
	w := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	y := Embedding(w, []int32{2, 0, 2})
	assert.Equal(t, []int{3, 2}, y.shape)
	assert.Equal(t, []float32{5, 6, 1, 2, 5, 6}, y.data)

	// Repeated indices accumulate gradients.
	y.Backward()
	assert.Equal(t, []float32{1, 1, 0, 0, 2, 2}, w.grad.data)
	assert.Panics(t, func() { Embedding(w, []int32{3}) })
	assert.Panics(t, func() { Embedding(w, []int32{-1}) })
}

func TestNormalize(t *testing.T) {
	x := NewTensor([]float32{3, 4, 0, 0}, 2, 2)
	y := Normalize(x, 1e-12)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0, 0}, y.data, 1e-6)
	for _, v := range y.data {
		assert.False(t, math32.IsNaN(v))
	}
	y.Backward()
	for _, v := range x.grad.data {
		assert.False(t, math32.IsNaN(v))
	}

	// Unit norm for non-zero rows.
	x = Add(Rand(4, 3), NewScalar(0.1)).NoGrad()
	y = Normalize(x, 1e-12)
	for i := 0; i < 4; i++ {
		row := y.Row(i)
		var norm float32
		for _, v := range row {
			norm += v * v
		}
		assert.InDelta(t, 1, math32.Sqrt(norm), 1e-5)
	}

	// Test gradient
	w := Rand(4, 3)
	f := func(x *Tensor) *Tensor { return Mul(Normalize(x, 1e-12), w) }
	y = f(x)
	y.Backward()
	dx := numericalDiff(f, x)
	allClose(t, x.grad, dx)
}

func TestRowDot(t *testing.T) {
	a := NewTensor([]float32{1, 2, 3, 4}, 2, 2)
	b := NewTensor([]float32{5, 6, 7, 8}, 2, 2)
	y := RowDot(a, b)
	assert.Equal(t, []int{2}, y.shape)
	assert.Equal(t, []float32{17, 53}, y.data)
	y.Backward()
	assert.Equal(t, []float32{5, 6, 7, 8}, a.grad.data)
	assert.Equal(t, []float32{1, 2, 3, 4}, b.grad.data)
	assert.Panics(t, func() { RowDot(a, NewTensor([]float32{1, 2}, 1, 2)) })
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	// Uniform logits give log(C).
	x := Zeros(2, 4)
	y := SoftmaxCrossEntropy(x, []int32{0, 3})
	assert.InDelta(t, math32.Log(4), y.data[0], 1e-6)

	// Large logits do not overflow.
	x = NewTensor([]float32{1000, 0, 0, 1000}, 2, 2)
	y = SoftmaxCrossEntropy(x, []int32{0, 1})
	assert.InDelta(t, 0, y.data[0], 1e-6)

	// Test gradient
	x = Rand(3, 3)
	targets := []int32{0, 1, 2}
	y = SoftmaxCrossEntropy(x, targets)
	y.Backward()
	dx := numericalDiff(func(x *Tensor) *Tensor { return SoftmaxCrossEntropy(x, targets) }, x)
	allClose(t, x.grad, dx)
	assert.Panics(t, func() { SoftmaxCrossEntropy(x, []int32{0, 1}) })
	assert.Panics(t, func() { SoftmaxCrossEntropy(x, []int32{0, 1, 3}) })
}
