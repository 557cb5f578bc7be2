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
	"fmt"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/gorse-io/twotower/base/log"
	"github.com/gorse-io/twotower/base/progress"
	"github.com/gorse-io/twotower/dataset"
	"github.com/gorse-io/twotower/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// SuggestParams draws the searched hyper-parameters of a trial.
func (m *TwoTower) SuggestParams(trial goptuna.Trial) model.Params {
	return model.Params{
		model.NFactors:    8 * lo.Must(trial.SuggestInt(string(model.NFactors), 1, 8)),
		model.HiddenDim:   16 * lo.Must(trial.SuggestInt(string(model.HiddenDim), 1, 8)),
		model.Lr:          lo.Must(trial.SuggestLogFloat(string(model.Lr), 0.0005, 0.05)),
		model.Reg:         lo.Must(trial.SuggestLogFloat(string(model.Reg), 1e-6, 1e-2)),
		model.Temperature: lo.Must(trial.SuggestLogFloat(string(model.Temperature), 0.05, 1)),
		model.InitStdDev:  lo.Must(trial.SuggestLogFloat(string(model.InitStdDev), 0.005, 0.1)),
	}
}

// SearchResult is the best trial of a model search.
type SearchResult struct {
	Params   model.Params
	Score    Score
	NumTrial int
}

// ModelSearch is the objective of a hyper-parameter study. Every trial trains a model with
// the suggested parameters on top of the base parameters and scores NDCG on the test set.
type ModelSearch struct {
	ctx      context.Context
	params   model.Params
	trainSet *dataset.Dataset
	testSet  *dataset.Dataset
	config   *FitConfig
	result   SearchResult

	numStarted int
}

func NewModelSearch(ctx context.Context, params model.Params, trainSet, testSet *dataset.Dataset, config *FitConfig) *ModelSearch {
	return &ModelSearch{
		ctx:      ctx,
		params:   params,
		trainSet: trainSet,
		testSet:  testSet,
		config:   config,
	}
}

func (ms *ModelSearch) Objective(trial goptuna.Trial) (float64, error) {
	ms.numStarted++
	ctx, span := progress.Start(ms.ctx, fmt.Sprintf("trial %d", ms.numStarted), 1)
	m := NewTwoTower(ms.params)
	params := ms.params.Overwrite(m.SuggestParams(trial))
	m.SetParams(params)
	result, err := m.Fit(ctx, ms.trainSet, ms.testSet, ms.config)
	if err != nil {
		span.Fail(err)
		return 0, errors.Trace(err)
	}
	span.End()
	progress.Add(ms.ctx, 1)
	ms.result.NumTrial++
	if ms.result.Params == nil || result.Score.NDCG > ms.result.Score.NDCG {
		ms.result.Params = params
		ms.result.Score = result.Score
	}
	log.Logger().Info("search two-tower",
		append(result.Score.ZapFields(ms.config.TopK),
			zap.Int("trial", ms.result.NumTrial),
			zap.String("params", params.ToString()))...)
	return float64(result.Score.NDCG), nil
}

func (ms *ModelSearch) Result() SearchResult {
	return ms.result
}

// Search runs a TPE study of numTrials trials.
func (ms *ModelSearch) Search(numTrials int, seed int64) (SearchResult, error) {
	study, err := goptuna.CreateStudy("twotower",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionSampler(tpe.NewSampler(tpe.SamplerOptionSeed(seed))))
	if err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	if err = study.Optimize(ms.Objective, numTrials); err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	if err = ms.ctx.Err(); err != nil {
		return SearchResult{}, errors.Trace(err)
	}
	if ms.result.Params == nil {
		return SearchResult{}, errors.NotFoundf("successful trial")
	}
	return ms.result, nil
}
