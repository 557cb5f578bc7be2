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
	"time"

	"github.com/chewxy/math32"
	"github.com/gorse-io/twotower/base/log"
	"github.com/gorse-io/twotower/base/progress"
	"github.com/gorse-io/twotower/common/nn"
	"github.com/gorse-io/twotower/dataset"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type FitConfig struct {
	Jobs    int
	Verbose int
	TopK    int
	// OnBatch is called after every batch.
	OnBatch func(batch Batch) `json:"-"`
}

// Batch is a finished training batch. Users and Items are only valid during OnBatch.
type Batch struct {
	Epoch int // starting from 1
	Index int // starting from 0 in every epoch
	Users []int32
	Items []int32
	Loss  float32
}

func NewFitConfig() *FitConfig {
	return &FitConfig{
		Jobs:    1,
		Verbose: 1,
		TopK:    10,
	}
}

func (config *FitConfig) SetVerbose(verbose int) *FitConfig {
	config.Verbose = verbose
	return config
}

func (config *FitConfig) SetJobs(jobs int) *FitConfig {
	config.Jobs = jobs
	return config
}

func (config *FitConfig) SetTopK(topK int) *FitConfig {
	config.TopK = topK
	return config
}

func (config *FitConfig) SetOnBatch(onBatch func(batch Batch)) *FitConfig {
	config.OnBatch = onBatch
	return config
}

// Result is the loss trajectory of a training run.
type Result struct {
	// Losses holds the loss of every batch.
	Losses []float32
	// EpochLosses holds the mean batch loss of every epoch.
	EpochLosses []float32
	// Score is the last evaluation on the validation set.
	Score Score
}

// Fit trains the model from scratch. Evaluation on valSet is skipped if valSet is nil.
// Training stops between batches once ctx is done.
func (m *TwoTower) Fit(ctx context.Context, trainSet, valSet *dataset.Dataset, config *FitConfig) (Result, error) {
	if config == nil {
		config = NewFitConfig()
	}
	if err := m.Validate(); err != nil {
		return Result{}, errors.Trace(err)
	}
	if trainSet == nil || trainSet.CountInteractions() == 0 {
		return Result{}, errors.NotValidf("empty training set")
	}
	if trainSet.CountItems() == 0 {
		return Result{}, errors.NotValidf("empty items")
	}
	log.Logger().Info("fit two-tower",
		zap.Int("n_users", trainSet.CountUsers()),
		zap.Int("n_items", trainSet.CountItems()),
		zap.Int("n_interactions", trainSet.CountInteractions()),
		zap.Any("params", m.GetParams()),
		zap.Any("config", config))
	ctx, tracingSpan := otel.Tracer("twotower").Start(ctx, "TwoTower.Fit")
	defer tracingSpan.End()

	m.Init(trainSet.CountUsers(), trainSet.CountItems(), trainSet.CountGenres())
	rng := m.GetRandomGenerator()
	optimizer := nn.NewAdam(m.Parameters(), m.lr)
	optimizer.SetWeightDecay(m.reg)

	// Subsample once, then reshuffle every epoch.
	users, items := trainSet.Pairs()
	order := rng.PermInt32(len(users))
	if m.maxInteractions > 0 && len(order) > m.maxInteractions {
		order = order[:m.maxInteractions]
	}
	batchUsers := make([]int32, 0, m.batchSize)
	batchItems := make([]int32, 0, m.batchSize)

	var result Result
	_, span := progress.Start(ctx, "TwoTower.Fit", m.nEpochs)
	for epoch := 1; epoch <= m.nEpochs; epoch++ {
		fitStart := time.Now()
		TrainEpoch.Set(float64(epoch))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var epochLoss float32
		numBatches := 0
		for begin := 0; begin < len(order); begin += m.batchSize {
			if err := ctx.Err(); err != nil {
				span.Fail(err)
				return result, errors.Trace(err)
			}
			end := min(begin+m.batchSize, len(order))
			batchUsers, batchItems = batchUsers[:0], batchItems[:0]
			for _, k := range order[begin:end] {
				batchUsers = append(batchUsers, users[k])
				batchItems = append(batchItems, items[k])
			}
			loss := m.trainBatch(optimizer, batchUsers, batchItems, trainSet.Genres())
			if math32.IsNaN(loss) || math32.IsInf(loss, 0) {
				err := errors.Errorf("loss diverged to %v at epoch %d batch %d", loss, epoch, numBatches)
				span.Fail(err)
				return result, err
			}
			result.Losses = append(result.Losses, loss)
			epochLoss += loss
			TrainBatchesTotal.Inc()
			TrainBatchLoss.Set(float64(loss))
			if config.OnBatch != nil {
				config.OnBatch(Batch{Epoch: epoch, Index: numBatches, Users: batchUsers, Items: batchItems, Loss: loss})
			}
			numBatches++
		}
		epochLoss /= float32(numBatches)
		result.EpochLosses = append(result.EpochLosses, epochLoss)
		fitTime := time.Since(fitStart)
		TrainEpochSeconds.Set(fitTime.Seconds())
		fields := []zap.Field{
			zap.Float32("loss", epochLoss),
			zap.String("fit_time", fitTime.String()),
		}
		if valSet != nil && (epoch == m.nEpochs || (config.Verbose > 0 && epoch%config.Verbose == 0)) {
			evalStart := time.Now()
			ranker, err := NewRanker(m, trainSet, 0)
			if err != nil {
				span.Fail(err)
				return result, errors.Trace(err)
			}
			result.Score, err = Evaluate(ctx, ranker, valSet, config.TopK, config.Jobs)
			if err != nil {
				span.Fail(err)
				return result, errors.Trace(err)
			}
			fields = append(fields, zap.String("eval_time", time.Since(evalStart).String()))
			fields = append(fields, result.Score.ZapFields(config.TopK)...)
		}
		log.Logger().Info(fmt.Sprintf("fit two-tower %v/%v", epoch, m.nEpochs), fields...)
		span.Add(1)
	}
	span.End()
	log.Logger().Info("fit two-tower complete", zap.Int("n_batches", len(result.Losses)))
	return result, nil
}

// trainBatch runs one optimization step and returns the batch loss. Every tensor built
// for the batch is released before it returns.
func (m *TwoTower) trainBatch(optimizer nn.Optimizer, users, items []int32, genres *dataset.GenreMatrix) float32 {
	var outputs []*nn.Tensor
	defer func() { nn.Release(outputs...) }()

	optimizer.ZeroGrad()
	u := m.UserForward(users, m.normalize)
	outputs = append(outputs, u)
	i := m.ItemForward(items, genres.Gather(items), m.normalize)
	outputs = append(outputs, i)
	var loss *nn.Tensor
	switch m.lossMode {
	case LossBPR:
		var negatives []int32
		if m.negativeSampler == SamplerUniform {
			negatives = UniformNegatives(m.GetRandomGenerator(), items, m.numItems)
		} else {
			negatives = RotateNegatives(items)
		}
		n := m.ItemForward(negatives, genres.Gather(negatives), m.normalize)
		outputs = append(outputs, n)
		loss = BPRLoss(u, i, n)
	default:
		loss = InBatchSoftmaxLoss(u, i, items, m.temperature, m.maskDuplicates)
	}
	outputs = append(outputs, loss)
	loss.Backward()
	optimizer.Step()
	return loss.Data()[0]
}
