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

	"github.com/chewxy/math32"
)

type Layer interface {
	Parameters() []*Tensor
	Forward(x *Tensor) *Tensor
}

type Model Layer

type LinearLayer struct {
	W *Tensor
	B *Tensor
}

func NewLinear(rng *rand.Rand, in, out int) *LinearLayer {
	return &LinearLayer{
		W: Normal(rng, 0, 1.0/math32.Sqrt(float32(in)), in, out).RequireGrad(),
		B: Zeros(out).RequireGrad(),
	}
}

func (l *LinearLayer) Forward(x *Tensor) *Tensor {
	return Add(MatMul(x, l.W, false, false), l.B)
}

func (l *LinearLayer) Parameters() []*Tensor {
	return []*Tensor{l.W, l.B}
}

// EmbeddingLayer is a lookup table of n rows. It is not a Layer since it consumes indices.
type EmbeddingLayer struct {
	W *Tensor
}

func NewEmbedding(rng *rand.Rand, n, dim int, mean, std float32) *EmbeddingLayer {
	return &EmbeddingLayer{
		W: Normal(rng, mean, std, n, dim).RequireGrad(),
	}
}

func (e *EmbeddingLayer) Parameters() []*Tensor {
	return []*Tensor{e.W}
}

func (e *EmbeddingLayer) Forward(indices []int32) *Tensor {
	return Embedding(e.W, indices)
}

type reluLayer struct{}

func NewReLU() Layer {
	return &reluLayer{}
}

func (r *reluLayer) Parameters() []*Tensor {
	return nil
}

func (r *reluLayer) Forward(x *Tensor) *Tensor {
	return ReLu(x)
}

type Sequential struct {
	Layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Parameters() []*Tensor {
	var params []*Tensor
	for _, l := range s.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (s *Sequential) Forward(x *Tensor) *Tensor {
	for _, l := range s.Layers {
		x = l.Forward(x)
	}
	return x
}

// NewFeedForward stacks len(hidden) rectified dense layers followed by a linear
// output layer: in -> hidden[0] -> ... -> hidden[n-1] -> out.
func NewFeedForward(rng *rand.Rand, in int, hidden []int, out int) *Sequential {
	var layers []Layer
	for _, h := range hidden {
		layers = append(layers, NewLinear(rng, in, h), NewReLU())
		in = h
	}
	layers = append(layers, NewLinear(rng, in, out))
	return NewSequential(layers...)
}
