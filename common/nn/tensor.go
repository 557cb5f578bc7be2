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
	"math/rand"
	"strings"

	"github.com/chewxy/math32"
	"github.com/gorse-io/twotower/common/floats"
)

type Tensor struct {
	data        []float32
	shape       []int
	grad        *Tensor
	op          op
	requireGrad bool
}

func NewTensor(data []float32, shape ...int) *Tensor {
	if len(shape) == 0 {
		if len(data) == 1 {
			shape = []int{}
		} else {
			shape = []int{len(data)}
		}
	}
	if size(shape) != len(data) {
		panic(fmt.Sprintf("nn: data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

func NewScalar(data float32) *Tensor {
	return &Tensor{
		data:  []float32{data},
		shape: []int{},
	}
}

// Normal creates a tensor filled with normal random numbers drawn from rng.
func Normal(rng *rand.Rand, mean, std float32, shape ...int) *Tensor {
	data := make([]float32, size(shape))
	for i := range data {
		data[i] = float32(rng.NormFloat64())*std + mean
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Ones creates a tensor filled with ones.
func Ones(shape ...int) *Tensor {
	data := make([]float32, size(shape))
	for i := range data {
		data[i] = 1
	}
	return &Tensor{
		data:  data,
		shape: shape,
	}
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		data:  make([]float32, size(shape)),
		shape: shape,
	}
}

func size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// RequireGrad marks the tensor as a trainable parameter. Parameters are leaves of
// every graph and survive Release.
func (t *Tensor) RequireGrad() *Tensor {
	t.requireGrad = true
	return t
}

// NoGrad detaches the tensor from the graph that produced it.
func (t *Tensor) NoGrad() *Tensor {
	t.op = nil
	return t
}

func (t *Tensor) Shape() []int {
	return t.shape
}

func (t *Tensor) Data() []float32 {
	return t.data
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// Row returns the i-th row of a 2-D tensor. The returned slice shares memory with the tensor.
func (t *Tensor) Row(i int) []float32 {
	if len(t.shape) != 2 {
		panic("nn: Row requires a 2-D tensor")
	}
	cols := t.shape[1]
	return t.data[i*cols : (i+1)*cols]
}

func (t *Tensor) String() string {
	if t.data == nil {
		return "<released>"
	}
	// Print scalar value
	if len(t.shape) == 0 {
		return fmt.Sprint(t.data[0])
	}

	builder := strings.Builder{}
	builder.WriteString("[")
	if len(t.data) <= 10 {
		for i := 0; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	} else {
		for i := 0; i < 5; i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			builder.WriteString(", ")
		}
		builder.WriteString("..., ")
		for i := len(t.data) - 5; i < len(t.data); i++ {
			builder.WriteString(fmt.Sprint(t.data[i]))
			if i != len(t.data)-1 {
				builder.WriteString(", ")
			}
		}
	}
	builder.WriteString("]")
	return builder.String()
}

// Backward computes gradients of t with respect to every tensor in its graph. Gradients
// reaching a tensor through several paths are summed, and gradients of leaves accumulate
// across calls until they are cleared by an optimizer.
func (t *Tensor) Backward() {
	// Topological order of the graph, outputs last.
	var order []*Tensor
	visited := make(map[*Tensor]struct{})
	var visit func(*Tensor)
	visit = func(x *Tensor) {
		if _, ok := visited[x]; ok {
			return
		}
		visited[x] = struct{}{}
		if x.op != nil {
			inputs, _ := x.op.inputsAndOutput()
			for _, input := range inputs {
				visit(input)
			}
		}
		order = append(order, x)
	}
	visit(t)

	t.grad = Ones(t.shape...)
	for i := len(order) - 1; i >= 0; i-- {
		y := order[i]
		if y.op == nil || y.grad == nil {
			continue
		}
		inputs, _ := y.op.inputsAndOutput()
		grads := y.op.backward(y.grad)
		for j := range grads {
			if grads[j] == nil {
				continue
			}
			if inputs[j].grad == nil {
				inputs[j].grad = grads[j]
			} else {
				g := inputs[j].grad.clone()
				floats.Add(g.data, grads[j].data)
				inputs[j].grad = g
			}
		}
	}
}

// Release drops the buffers of every intermediate tensor reachable from the given
// outputs and unlinks the graph. Parameters and other leaves keep their data. Calling
// Release more than once is a no-op.
func Release(outputs ...*Tensor) {
	stack := make([]*Tensor, 0, len(outputs))
	for _, t := range outputs {
		if t != nil {
			stack = append(stack, t)
		}
	}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t.op == nil || t.requireGrad {
			continue
		}
		inputs, _ := t.op.inputsAndOutput()
		stack = append(stack, inputs...)
		t.op.setInputs()
		t.op.setOutput(nil)
		t.op = nil
		t.data = nil
		t.grad = nil
	}
}

func (t *Tensor) clone() *Tensor {
	newData := make([]float32, len(t.data))
	copy(newData, t.data)
	return &Tensor{
		data:  newData,
		shape: t.shape,
	}
}

func (t *Tensor) add(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] += other.data[i%wSize]
	}
	return t
}

func (t *Tensor) sub(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] -= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) mul(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] *= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) div(other *Tensor) *Tensor {
	wSize := len(other.data)
	for i := range t.data {
		t.data[i] /= other.data[i%wSize]
	}
	return t
}

func (t *Tensor) exp() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Exp(t.data[i])
	}
	return t
}

func (t *Tensor) log() *Tensor {
	for i := range t.data {
		t.data[i] = math32.Log(t.data[i])
	}
	return t
}

func (t *Tensor) neg() *Tensor {
	for i := range t.data {
		t.data[i] = -t.data[i]
	}
	return t
}

func (t *Tensor) sum() float32 {
	return floats.Sum(t.data)
}

// matMul computes op(t) * op(other) for 2-D tensors.
func (t *Tensor) matMul(other *Tensor, transA, transB bool) *Tensor {
	if len(t.shape) != 2 || len(other.shape) != 2 {
		panic("nn: matMul requires 2-D tensors")
	}
	m, k := t.shape[0], t.shape[1]
	if transA {
		m, k = k, m
	}
	k2, n := other.shape[0], other.shape[1]
	if transB {
		k2, n = n, k2
	}
	if k != k2 {
		panic(fmt.Sprintf("nn: matMul shape mismatch %v x %v (transA=%v, transB=%v)", t.shape, other.shape, transA, transB))
	}
	y := Zeros(m, n)
	floats.MM(transA, transB, m, n, k, t.data, t.shape[1], other.data, other.shape[1], y.data, n)
	return y
}
