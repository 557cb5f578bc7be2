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
	"fmt"

	"github.com/gorse-io/twotower/common/nn"
	"github.com/gorse-io/twotower/model"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

const (
	LossSoftmax = "softmax"
	LossBPR     = "bpr"

	SamplerRotate  = "rotate"
	SamplerUniform = "uniform"

	// normalizeEpsilon is the floor of norms in L2 normalization.
	normalizeEpsilon = 1e-12
)

// TwoTower maps users and items into a shared space. The user tower is an embedding
// lookup followed by a feed-forward network. The item tower adds a linear projection of
// genre flags to the item embedding before its own feed-forward network.
type TwoTower struct {
	model.BaseModel
	// Hyper parameters
	nEpochs         int
	batchSize       int
	nFactors        int
	hiddenDim       int
	hiddenLayers    int
	lr              float32
	reg             float32
	maxInteractions int
	lossMode        string
	temperature     float32
	normalize       bool
	maskDuplicates  bool
	negativeSampler string
	initMean        float32
	initStdDev      float32
	// Model parameters
	numUsers      int
	numItems      int
	numGenres     int
	UserEmbedding *nn.EmbeddingLayer
	ItemEmbedding *nn.EmbeddingLayer
	GenreWeight   *nn.Tensor
	UserTower     *nn.Sequential
	ItemTower     *nn.Sequential
}

// NewTwoTower creates a two-tower model.
func NewTwoTower(params model.Params) *TwoTower {
	m := new(TwoTower)
	m.SetParams(params)
	return m
}

// SetParams sets hyper-parameters of the two-tower model.
func (m *TwoTower) SetParams(params model.Params) {
	m.BaseModel.SetParams(params)
	m.nEpochs = m.Params.GetInt(model.NEpochs, 3)
	m.batchSize = m.Params.GetInt(model.BatchSize, 1024)
	m.nFactors = m.Params.GetInt(model.NFactors, 32)
	m.hiddenDim = m.Params.GetInt(model.HiddenDim, 64)
	m.hiddenLayers = m.Params.GetInt(model.HiddenLayers, 1)
	m.lr = m.Params.GetFloat32(model.Lr, 0.003)
	m.reg = m.Params.GetFloat32(model.Reg, 0)
	m.maxInteractions = m.Params.GetInt(model.MaxInteractions, 80000)
	m.lossMode = m.Params.GetString(model.LossMode, LossSoftmax)
	m.temperature = m.Params.GetFloat32(model.Temperature, 1)
	m.normalize = m.Params.GetBool(model.Normalize, false)
	m.maskDuplicates = m.Params.GetBool(model.MaskDuplicates, true)
	m.negativeSampler = m.Params.GetString(model.NegativeSampler, SamplerRotate)
	m.initMean = m.Params.GetFloat32(model.InitMean, 0)
	m.initStdDev = m.Params.GetFloat32(model.InitStdDev, 0.05)
}

// Validate reports the first invalid hyper-parameter.
func (m *TwoTower) Validate() error {
	switch {
	case m.nEpochs < 0:
		return errors.NotValidf("number of epochs %d", m.nEpochs)
	case m.batchSize <= 0:
		return errors.NotValidf("batch size %d", m.batchSize)
	case m.nFactors <= 0:
		return errors.NotValidf("embedding dimension %d", m.nFactors)
	case m.hiddenLayers < 0:
		return errors.NotValidf("number of hidden layers %d", m.hiddenLayers)
	case m.hiddenLayers > 0 && m.hiddenDim <= 0:
		return errors.NotValidf("hidden dimension %d", m.hiddenDim)
	case m.lr <= 0:
		return errors.NotValidf("learning rate %v", m.lr)
	case m.reg < 0:
		return errors.NotValidf("weight decay %v", m.reg)
	case m.temperature <= 0:
		return errors.NotValidf("temperature %v", m.temperature)
	case m.initStdDev < 0:
		return errors.NotValidf("standard deviation of initial parameters %v", m.initStdDev)
	case m.lossMode != LossSoftmax && m.lossMode != LossBPR:
		return errors.NotValidf("loss mode %q", m.lossMode)
	case m.negativeSampler != SamplerRotate && m.negativeSampler != SamplerUniform:
		return errors.NotValidf("negative sampler %q", m.negativeSampler)
	}
	return nil
}

// Init allocates parameters for the given index spaces. Previous parameters are discarded.
func (m *TwoTower) Init(numUsers, numItems, numGenres int) {
	// reseed so that identical params give identical initial weights
	m.BaseModel.SetParams(m.Params)
	rng := m.GetRandomGenerator().Rand
	m.numUsers, m.numItems, m.numGenres = numUsers, numItems, numGenres
	m.UserEmbedding = nn.NewEmbedding(rng, numUsers, m.nFactors, m.initMean, m.initStdDev)
	m.ItemEmbedding = nn.NewEmbedding(rng, numItems, m.nFactors, m.initMean, m.initStdDev)
	m.GenreWeight = nn.Normal(rng, m.initMean, m.initStdDev, numGenres, m.nFactors).RequireGrad()
	hidden := lo.Times(m.hiddenLayers, func(int) int { return m.hiddenDim })
	m.UserTower = nn.NewFeedForward(rng, m.nFactors, hidden, m.nFactors)
	m.ItemTower = nn.NewFeedForward(rng, m.nFactors, hidden, m.nFactors)
}

// Clear releases all parameters.
func (m *TwoTower) Clear() {
	m.numUsers, m.numItems, m.numGenres = 0, 0, 0
	m.UserEmbedding = nil
	m.ItemEmbedding = nil
	m.GenreWeight = nil
	m.UserTower = nil
	m.ItemTower = nil
}

// Invalid returns true if the model has not been trained or loaded.
func (m *TwoTower) Invalid() bool {
	return m == nil || m.UserEmbedding == nil
}

// Parameters returns every trainable tensor in a fixed order.
func (m *TwoTower) Parameters() []*nn.Tensor {
	params := []*nn.Tensor{m.UserEmbedding.W, m.ItemEmbedding.W, m.GenreWeight}
	params = append(params, m.UserTower.Parameters()...)
	params = append(params, m.ItemTower.Parameters()...)
	return params
}

func (m *TwoTower) CountUsers() int {
	return m.numUsers
}

func (m *TwoTower) CountItems() int {
	return m.numItems
}

func (m *TwoTower) CountGenres() int {
	return m.numGenres
}

// EmbeddingDim returns the dimension of tower outputs.
func (m *TwoTower) EmbeddingDim() int {
	return m.nFactors
}

// Normalized reports whether training L2-normalizes tower outputs.
func (m *TwoTower) Normalized() bool {
	return m.normalize
}

// UserForward returns [len(users), E] user vectors.
func (m *TwoTower) UserForward(users []int32, normalize bool) *nn.Tensor {
	x := m.UserTower.Forward(m.UserEmbedding.Forward(users))
	if normalize {
		x = nn.Normalize(x, normalizeEpsilon)
	}
	return x
}

// ItemForward returns [len(items), E] item vectors. genreRows holds the aligned genre
// flags of items, row-major.
func (m *TwoTower) ItemForward(items []int32, genreRows []float32, normalize bool) *nn.Tensor {
	if len(genreRows) != len(items)*m.numGenres {
		panic(fmt.Sprintf("twotower: %d genre values for %d items with %d genres", len(genreRows), len(items), m.numGenres))
	}
	e := m.ItemEmbedding.Forward(items)
	if m.numGenres > 0 {
		g := nn.MatMul(nn.NewTensor(genreRows, len(items), m.numGenres), m.GenreWeight, false, false)
		e = nn.Add(e, g)
	}
	x := m.ItemTower.Forward(e)
	if normalize {
		x = nn.Normalize(x, normalizeEpsilon)
	}
	return x
}

// BaselineUser returns the raw user embeddings, bypassing the tower.
func (m *TwoTower) BaselineUser(users []int32) *nn.Tensor {
	return m.UserEmbedding.Forward(users)
}

// BaselineItem returns the raw item embeddings, bypassing genre fusion and the tower.
func (m *TwoTower) BaselineItem(items []int32) *nn.Tensor {
	return m.ItemEmbedding.Forward(items)
}

// Score returns the dot products of aligned rows of u and i. A single user row is scored
// against every row of i.
func Score(u, i *nn.Tensor) *nn.Tensor {
	if u.Shape()[0] == 1 && i.Shape()[0] != 1 {
		return nn.Flatten(nn.MatMul(i, u, false, true))
	}
	return nn.RowDot(u, i)
}
