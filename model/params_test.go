// Copyright 2020 gorse Project Authors
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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParams_Copy(t *testing.T) {
	// Create parameters
	a := Params{
		NFactors:    1,
		Lr:          0.1,
		RandomState: 0,
	}
	// Create copy
	b := a.Copy()
	b[NFactors] = 2
	b[Lr] = 0.2
	b[RandomState] = 1
	// Check original parameters
	assert.Equal(t, 1, a.GetInt(NFactors, -1))
	assert.Equal(t, float32(0.1), a.GetFloat32(Lr, -0.1))
	assert.Equal(t, int64(0), a.GetInt64(RandomState, -1))
	// Check copy parameters
	assert.Equal(t, 2, b.GetInt(NFactors, -1))
	assert.Equal(t, float32(0.2), b.GetFloat32(Lr, -0.1))
	assert.Equal(t, int64(1), b.GetInt64(RandomState, -1))
}

func TestParams_Getters(t *testing.T) {
	params := Params{
		NEpochs:         int64(3),
		BatchSize:       "1024",
		Normalize:       true,
		MaskDuplicates:  1,
		LossMode:        "bpr",
		Temperature:     1,
		InitStdDev:      float32(0.05),
		NegativeSampler: 2,
	}
	assert.Equal(t, 3, params.GetInt(NEpochs, -1))
	// type mismatch falls back to default
	assert.Equal(t, 512, params.GetInt(BatchSize, 512))
	assert.True(t, params.GetBool(Normalize, false))
	assert.False(t, params.GetBool(MaskDuplicates, false))
	assert.Equal(t, "bpr", params.GetString(LossMode, "softmax"))
	assert.Equal(t, "rotate", params.GetString(NegativeSampler, "rotate"))
	assert.Equal(t, float32(1), params.GetFloat32(Temperature, 0))
	assert.Equal(t, float32(0.05), params.GetFloat32(InitStdDev, 0))
	assert.Equal(t, float32(0.5), params.GetFloat32(Reg, 0.5))
	assert.Equal(t, float32(0), params.GetFloat32(LossMode, 0))
	assert.Equal(t, int64(7), params.GetInt64(RandomState, 7))
	assert.Equal(t, int64(-1), params.GetInt64(LossMode, -1))
}

func TestParams_Overwrite(t *testing.T) {
	a := Params{NEpochs: 3, BatchSize: 1024}
	b := a.Overwrite(Params{BatchSize: 32, Lr: 0.01})
	assert.Equal(t, Params{NEpochs: 3, BatchSize: 32, Lr: 0.01}, b)
	assert.Equal(t, 1024, a.GetInt(BatchSize, 0))
	assert.JSONEq(t, `{"BatchSize":1024,"NEpochs":3}`, a.ToString())
}

func TestBaseModel(t *testing.T) {
	var a, b BaseModel
	a.SetParams(Params{RandomState: 42})
	b.SetParams(Params{RandomState: int64(42)})
	assert.Equal(t, a.GetRandomGenerator().Int63(), b.GetRandomGenerator().Int63())
	assert.Equal(t, 42, a.GetParams().GetInt(RandomState, 0))
}
