// Copyright 2025 gorse Project Authors
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
package twotower

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/twotower/base"
	"github.com/gorse-io/twotower/common/nn"
)

// maskValue is added to the logits of masked pairs.
const maskValue = -1e9

// InBatchSoftmaxLoss is the mean cross entropy of every row of the in-batch similarity
// matrix U·Iᵗ / temperature, with the diagonal as target. If maskDuplicates is set, a
// column holding the same item as the row's positive is excluded from the row's negatives.
func InBatchSoftmaxLoss(u, i *nn.Tensor, items []int32, temperature float32, maskDuplicates bool) *nn.Tensor {
	logits := nn.MatMul(u, i, false, true)
	if temperature != 1 {
		logits = nn.Mul(logits, nn.NewScalar(1/temperature))
	}
	if maskDuplicates {
		if mask := duplicateMask(items); mask != nil {
			logits = nn.Add(logits, mask)
		}
	}
	targets := make([]int32, len(items))
	for r := range targets {
		targets[r] = int32(r)
	}
	return nn.SoftmaxCrossEntropy(logits, targets)
}

// duplicateMask returns nil if items are distinct.
func duplicateMask(items []int32) *nn.Tensor {
	positions := make(map[int32][]int, len(items))
	for c, item := range items {
		positions[item] = append(positions[item], c)
	}
	if len(positions) == len(items) {
		return nil
	}
	n := len(items)
	mask := nn.Zeros(n, n)
	for r, item := range items {
		row := mask.Row(r)
		for _, c := range positions[item] {
			if c != r {
				row[c] = maskValue
			}
		}
	}
	return mask
}

// BPRLoss is -mean(log σ(u·pos - u·neg)).
func BPRLoss(u, pos, neg *nn.Tensor) *nn.Tensor {
	diff := nn.Sub(nn.RowDot(u, pos), nn.RowDot(u, neg))
	return nn.Neg(nn.Mean(nn.LogSigmoid(diff)))
}

// RotateNegatives pairs every row with the positive item of the next row, wrapping around.
func RotateNegatives(items []int32) []int32 {
	negatives := make([]int32, len(items))
	for r := range items {
		negatives[r] = items[(r+1)%len(items)]
	}
	return negatives
}

// UniformNegatives draws one item per row uniformly from [0, numItems) other than the
// positive item of the row. The positive item is drawn only if it is the sole item.
func UniformNegatives(rng base.RandomGenerator, items []int32, numItems int) []int32 {
	negatives := make([]int32, len(items))
	for r, item := range items {
		if numItems < 2 {
			negatives[r] = item
			continue
		}
		negatives[r] = rng.SampleInt32(0, int32(numItems), 1, mapset.NewThreadUnsafeSet(item))[0]
	}
	return negatives
}
