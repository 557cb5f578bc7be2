// Copyright 2021 gorse Project Authors
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
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorse-io/twotower/model"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, text string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[data]
dir = "ml-100k"
num_genres = 18

[model]
epochs = 10
batch_size = 256
learning_rate = 0.01
loss = "bpr"
negative_sampler = "uniform"
normalize = true
timeout = "30m"

[recommend]
top_k = 20

[evaluate]
enable = true
jobs = 4

[checkpoint]
type = "s3"
endpoint = "127.0.0.1:9000"
bucket = "models"
prefix = "twotower"
`)
	config, err := LoadConfig(path)
	require.NoError(t, err)
	// [data]
	assert.Equal(t, "ml-100k", config.Data.Dir)
	assert.Equal(t, "u.data", config.Data.RatingsFile)
	assert.Equal(t, "u.item", config.Data.ItemsFile)
	assert.Equal(t, 18, config.Data.NumGenres)
	// [model]
	assert.Equal(t, 10, config.Model.Epochs)
	assert.Equal(t, 256, config.Model.BatchSize)
	assert.Equal(t, 32, config.Model.EmbeddingDim)
	assert.Equal(t, float32(0.01), config.Model.LearningRate)
	assert.Equal(t, "bpr", config.Model.Loss)
	assert.Equal(t, "uniform", config.Model.NegativeSampler)
	assert.True(t, config.Model.Normalize)
	assert.True(t, config.Model.MaskDuplicates)
	assert.Equal(t, 30*time.Minute, config.Model.Timeout)
	// [recommend]
	assert.Equal(t, 20, config.Recommend.TopK)
	assert.Equal(t, 10, config.Recommend.HistoryN)
	assert.Equal(t, 20, config.Recommend.MinHistory)
	// [evaluate]
	assert.True(t, config.Evaluate.Enable)
	assert.Equal(t, 4, config.Evaluate.Jobs)
	// [checkpoint]
	assert.Equal(t, CheckpointS3, config.Checkpoint.Type)
	assert.Equal(t, "127.0.0.1:9000", config.Checkpoint.Endpoint)
	assert.Equal(t, "models", config.Checkpoint.Bucket)
	assert.Equal(t, "twotower", config.Checkpoint.Prefix)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
model:
  embedding_dim: 16
  hidden_layers: 2
`)
	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16, config.Model.EmbeddingDim)
	assert.Equal(t, 2, config.Model.HiddenLayers)
	assert.Equal(t, 1024, config.Model.BatchSize)
}

func TestLoadConfigDefault(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("TWOTOWER_MODEL_EPOCHS", "7")
	t.Setenv("TWOTOWER_DATA_DIR", "/data/ml-100k")
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7, config.Model.Epochs)
	assert.Equal(t, "/data/ml-100k", config.Data.Dir)
}

func TestLoadConfigInvalid(t *testing.T) {
	for _, text := range []string{
		"[model]\nbatch_size = 0",
		"[model]\nembedding_dim = -1",
		"[model]\nloss = \"pointwise\"",
		"[model]\ntemperature = 0.0",
		"[recommend]\ntop_k = 0",
		"[evaluate]\nmin_history = 1",
		"[checkpoint]\ntype = \"s3\"",
		"[checkpoint]\ntype = \"hdfs\"",
		"[checkpoint]\ntype = \"gcs\"",
		"[tracing]\nenable_tracing = true",
		"[tracing]\nexporter = \"jaeger\"",
		"[tracing]\nratio = 2.0",
	} {
		_, err := LoadConfig(writeConfig(t, "config.toml", text))
		assert.True(t, errors.Is(err, errors.NotValid), text)
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestModelConfig_GetParams(t *testing.T) {
	params := GetDefaultConfig().Model.GetParams()
	assert.Equal(t, 3, params.GetInt(model.NEpochs, 0))
	assert.Equal(t, 1024, params.GetInt(model.BatchSize, 0))
	assert.Equal(t, 32, params.GetInt(model.NFactors, 0))
	assert.Equal(t, 64, params.GetInt(model.HiddenDim, 0))
	assert.Equal(t, float32(0.003), params.GetFloat32(model.Lr, 0))
	assert.Equal(t, 80000, params.GetInt(model.MaxInteractions, 0))
	assert.Equal(t, "softmax", params.GetString(model.LossMode, ""))
	assert.True(t, params.GetBool(model.MaskDuplicates, false))
	assert.Equal(t, int64(0), params.GetInt64(model.RandomState, -1))
}
