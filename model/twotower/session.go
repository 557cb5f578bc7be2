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

	"github.com/gorse-io/twotower/base"
	"github.com/gorse-io/twotower/base/progress"
	"github.com/gorse-io/twotower/common/projection"
	"github.com/gorse-io/twotower/dataset"
	"github.com/gorse-io/twotower/model"
	"github.com/juju/errors"
)

// Session owns a dataset, the model trained on it and the loss trajectory of the last
// training run. Train, Evaluate and Tune report progress to Tracer. It is not safe for
// concurrent use.
type Session struct {
	Data   *dataset.Dataset
	Model  *TwoTower
	Result Result
	Tracer *progress.Tracer

	rankBatchSize int
	ranker        *Ranker
}

// NewSession creates a session on a dataset. A non-positive rankBatchSize selects
// DefaultRankBatchSize.
func NewSession(data *dataset.Dataset, rankBatchSize int) *Session {
	return &Session{
		Data:          data,
		Tracer:        progress.NewTracer("twotower"),
		rankBatchSize: rankBatchSize,
	}
}

// Progress lists the progress of every training run of the session.
func (s *Session) Progress() []progress.Progress {
	return s.Tracer.List()
}

// Train replaces the model of the session with a new one trained on the whole dataset.
func (s *Session) Train(ctx context.Context, params model.Params, config *FitConfig) (Result, error) {
	ctx, span := s.Tracer.Start(ctx, "train", 1)
	m := NewTwoTower(params)
	result, err := m.Fit(ctx, s.Data, nil, config)
	if err == nil {
		err = s.Load(m)
	}
	if err != nil {
		span.Fail(err)
		return result, errors.Trace(err)
	}
	span.End()
	s.Result = result
	return result, nil
}

// Evaluate trains a separate model with the latest interaction of every user with at
// least minHistory interactions held out, and scores its rankings on them. The model of
// the session is left untouched.
func (s *Session) Evaluate(ctx context.Context, params model.Params, config *FitConfig, minHistory int) (Result, error) {
	trainSet, testSet := s.Data.SplitLatest(minHistory)
	if testSet.CountInteractions() == 0 {
		return Result{}, errors.NotFoundf("users with %d interactions", minHistory)
	}
	ctx, span := s.Tracer.Start(ctx, "evaluate", 1)
	m := NewTwoTower(params)
	result, err := m.Fit(ctx, trainSet, testSet, config)
	if err != nil {
		span.Fail(err)
		return result, errors.Trace(err)
	}
	span.End()
	return result, nil
}

// Tune searches hyper-parameters on the same leave-one-out split as Evaluate. The model of
// the session is left untouched.
func (s *Session) Tune(ctx context.Context, params model.Params, config *FitConfig, minHistory, numTrials int) (SearchResult, error) {
	trainSet, testSet := s.Data.SplitLatest(minHistory)
	if testSet.CountInteractions() == 0 {
		return SearchResult{}, errors.NotFoundf("users with %d interactions", minHistory)
	}
	if config == nil {
		config = NewFitConfig()
	}
	ctx, span := s.Tracer.Start(ctx, "tune", numTrials)
	search := NewModelSearch(ctx, params, trainSet, testSet, config)
	result, err := search.Search(numTrials, params.GetInt64(model.RandomState, 0))
	if err != nil {
		span.Fail(err)
		return result, errors.Trace(err)
	}
	span.End()
	return result, nil
}

// Load replaces the model of the session with a trained one.
func (s *Session) Load(m *TwoTower) error {
	ranker, err := NewRanker(m, s.Data, s.rankBatchSize)
	if err != nil {
		return errors.Trace(err)
	}
	s.Model, s.ranker = m, ranker
	return nil
}

func (s *Session) userIndex(userID int) (int32, error) {
	if s.ranker == nil {
		return 0, errors.NotValidf("untrained session")
	}
	userIndex, ok := s.Data.UserIndex(userID)
	if !ok {
		return 0, errors.NotFoundf("user %d", userID)
	}
	return userIndex, nil
}

// Recommend returns the top k items the user has not rated.
func (s *Session) Recommend(ctx context.Context, userID, k int) ([]Recommendation, error) {
	userIndex, err := s.userIndex(userID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return s.ranker.Rank(ctx, userIndex, k)
}

// RecommendBaseline ranks with raw embeddings from the same model state.
func (s *Session) RecommendBaseline(ctx context.Context, userID, k int) ([]Recommendation, error) {
	userIndex, err := s.userIndex(userID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return s.ranker.RankBaseline(ctx, userIndex, k)
}

// TopRated returns the first n entries of the user's history.
func (s *Session) TopRated(userID, n int) ([]dataset.Rated, error) {
	userIndex, ok := s.Data.UserIndex(userID)
	if !ok {
		return nil, errors.NotFoundf("user %d", userID)
	}
	return s.Data.TopRated(userIndex, n), nil
}

// ItemEmbeddings returns the [items, E] output of the item tower.
func (s *Session) ItemEmbeddings(ctx context.Context) (*Vectors, error) {
	if s.ranker == nil {
		return nil, errors.NotValidf("untrained session")
	}
	return s.ranker.ItemVectors(ctx, false)
}

// ProjectItems returns a row-major [items, 2] projection of item embeddings.
func (s *Session) ProjectItems(ctx context.Context) ([]float32, error) {
	vectors, err := s.ItemEmbeddings(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return projection.PCA(vectors.Data, vectors.Rows, vectors.Dim, 2)
}

// RandomQualifiedUser picks a user with at least minHistory ratings.
func (s *Session) RandomQualifiedUser(rng base.RandomGenerator, minHistory int) (int, error) {
	users := s.Data.QualifiedUsers(minHistory)
	if len(users) == 0 {
		return 0, errors.NotFoundf("users with %d ratings", minHistory)
	}
	userID, _ := s.Data.UserDict().ID(users[rng.Intn(len(users))])
	return userID, nil
}
