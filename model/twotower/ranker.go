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
	"context"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/chewxy/math32"
	"github.com/gorse-io/twotower/base/log"
	"github.com/gorse-io/twotower/common/heap"
	"github.com/gorse-io/twotower/common/nn"
	"github.com/gorse-io/twotower/dataset"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// DefaultRankBatchSize is the number of items passed through the item tower at once.
const DefaultRankBatchSize = 1024

// Recommendation is a ranked item.
type Recommendation struct {
	ItemIndex int32
	ItemID    int
	Score     float32
}

// Vectors is a row-major matrix of tower outputs.
type Vectors struct {
	Data []float32
	Rows int
	Dim  int
}

// Row returns the i-th vector. The slice shares memory with the matrix.
func (v Vectors) Row(i int) []float32 {
	return v.Data[i*v.Dim : (i+1)*v.Dim]
}

// Ranker scores the catalog for users of a dataset and excludes items from their history.
// Item vectors are computed on first use and cached, so the model must not be modified
// after the ranker is created.
type Ranker struct {
	model     *TwoTower
	data      *dataset.Dataset
	batchSize int
	items     [2]*Vectors
}

// NewRanker creates a ranker. A non-positive batchSize selects DefaultRankBatchSize.
func NewRanker(m *TwoTower, data *dataset.Dataset, batchSize int) (*Ranker, error) {
	if m.Invalid() {
		return nil, errors.NotValidf("untrained model")
	}
	if m.CountUsers() != data.CountUsers() || m.CountItems() != data.CountItems() || m.CountGenres() != data.CountGenres() {
		return nil, errors.NotValidf("model of %d users, %d items and %d genres for dataset of %d users, %d items and %d genres",
			m.CountUsers(), m.CountItems(), m.CountGenres(), data.CountUsers(), data.CountItems(), data.CountGenres())
	}
	if batchSize <= 0 {
		batchSize = DefaultRankBatchSize
	}
	return &Ranker{model: m, data: data, batchSize: batchSize}, nil
}

// Rank returns the top k unseen items for a user, ordered by score descending and then by
// item index ascending.
func (r *Ranker) Rank(ctx context.Context, userIndex int32, k int) ([]Recommendation, error) {
	return r.rank(ctx, userIndex, k, false)
}

// RankBaseline ranks with raw embeddings, skipping genre fusion and both towers.
func (r *Ranker) RankBaseline(ctx context.Context, userIndex int32, k int) ([]Recommendation, error) {
	return r.rank(ctx, userIndex, k, true)
}

func (r *Ranker) rank(ctx context.Context, userIndex int32, k int, baseline bool) ([]Recommendation, error) {
	ctx, span := otel.Tracer("twotower").Start(ctx, "Ranker.Rank")
	defer span.End()
	start := time.Now()
	if userIndex < 0 || int(userIndex) >= r.data.CountUsers() {
		return nil, errors.NotFoundf("user index %d", userIndex)
	}
	items, err := r.ItemVectors(ctx, baseline)
	if err != nil {
		return nil, errors.Trace(err)
	}
	users, err := r.UserVectors(ctx, []int32{userIndex}, baseline)
	if err != nil {
		return nil, errors.Trace(err)
	}
	recommendations, err := r.rankVector(users.Row(0), items, r.data.HistoryItems(userIndex), k)
	if err != nil {
		return nil, errors.Trace(err)
	}
	RankSeconds.Set(time.Since(start).Seconds())
	log.Logger().Debug("rank items",
		zap.Int32("user_index", userIndex),
		zap.Bool("baseline", baseline),
		zap.Int("n_recommendations", len(recommendations)),
		zap.Duration("rank_time", time.Since(start)))
	return recommendations, nil
}

// rankVector scores every item against a user vector and keeps the top k items not in exclude.
// Any NaN score fails the ranking.
func (r *Ranker) rankVector(userVector []float32, items *Vectors, exclude []int32, k int) ([]Recommendation, error) {
	u := nn.NewTensor(userVector, 1, items.Dim)
	i := nn.NewTensor(items.Data, items.Rows, items.Dim)
	scores := Score(u, i)
	defer nn.Release(scores)
	excluded := bitset.New(uint(items.Rows))
	for _, item := range exclude {
		excluded.Set(uint(item))
	}
	filter := heap.NewTopKFilter[int32, float32](k)
	for j, score := range scores.Data() {
		if math32.IsNaN(score) {
			return nil, errors.Errorf("NaN score of item %d", j)
		}
		if !excluded.Test(uint(j)) {
			filter.Push(int32(j), score)
		}
	}
	elems := filter.PopAll()
	recommendations := make([]Recommendation, len(elems))
	for j, elem := range elems {
		itemID, _ := r.data.ItemDict().ID(elem.Value)
		recommendations[j] = Recommendation{ItemIndex: elem.Value, ItemID: itemID, Score: elem.Weight}
	}
	return recommendations, nil
}

// ItemVectors returns the vectors of all items, computed batch by batch.
func (r *Ranker) ItemVectors(ctx context.Context, baseline bool) (*Vectors, error) {
	slot := 0
	if baseline {
		slot = 1
	}
	if r.items[slot] != nil {
		return r.items[slot], nil
	}
	start := time.Now()
	all := make([]int32, r.data.CountItems())
	for j := range all {
		all[j] = int32(j)
	}
	vectors, err := r.forward(ctx, all, func(batch []int32) *nn.Tensor {
		if baseline {
			return r.model.BaselineItem(batch)
		}
		return r.model.ItemForward(batch, r.data.Genres().Gather(batch), r.model.Normalized())
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.items[slot] = vectors
	ItemVectorsSeconds.Set(time.Since(start).Seconds())
	return vectors, nil
}

// UserVectors returns the vectors of the given users, computed batch by batch.
func (r *Ranker) UserVectors(ctx context.Context, users []int32, baseline bool) (*Vectors, error) {
	return r.forward(ctx, users, func(batch []int32) *nn.Tensor {
		if baseline {
			return r.model.BaselineUser(batch)
		}
		return r.model.UserForward(batch, r.model.Normalized())
	})
}

func (r *Ranker) forward(ctx context.Context, indices []int32, f func([]int32) *nn.Tensor) (*Vectors, error) {
	dim := r.model.EmbeddingDim()
	vectors := &Vectors{
		Data: make([]float32, len(indices)*dim),
		Rows: len(indices),
		Dim:  dim,
	}
	for begin := 0; begin < len(indices); begin += r.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		end := min(begin+r.batchSize, len(indices))
		func() {
			y := f(indices[begin:end])
			defer nn.Release(y)
			copy(vectors.Data[begin*dim:end*dim], y.Data())
		}()
	}
	return vectors, nil
}
