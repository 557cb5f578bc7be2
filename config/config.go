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
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/twotower/model"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	CheckpointPOSIX = "posix"
	CheckpointS3    = "s3"
	CheckpointGCS   = "gcs"
	CheckpointAzure = "azure"
)

// Config is the configuration for training and recommendation.
type Config struct {
	Data       DataConfig       `mapstructure:"data"`
	Model      ModelConfig      `mapstructure:"model"`
	Recommend  RecommendConfig  `mapstructure:"recommend"`
	Evaluate   EvaluateConfig   `mapstructure:"evaluate"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type DataConfig struct {
	Dir         string `mapstructure:"dir" validate:"required"`
	RatingsFile string `mapstructure:"ratings_file" validate:"required"`
	ItemsFile   string `mapstructure:"items_file" validate:"required"`
	NumGenres   int    `mapstructure:"num_genres" validate:"gte=0"`
}

type ModelConfig struct {
	Epochs          int           `mapstructure:"epochs" validate:"gte=0"`
	BatchSize       int           `mapstructure:"batch_size" validate:"gt=0"`
	EmbeddingDim    int           `mapstructure:"embedding_dim" validate:"gt=0"`
	HiddenDim       int           `mapstructure:"hidden_dim" validate:"gt=0"`
	HiddenLayers    int           `mapstructure:"hidden_layers" validate:"gte=0"`
	LearningRate    float32       `mapstructure:"learning_rate" validate:"gt=0"`
	WeightDecay     float32       `mapstructure:"weight_decay" validate:"gte=0"`
	MaxInteractions int           `mapstructure:"max_interactions" validate:"gte=0"`
	Loss            string        `mapstructure:"loss" validate:"oneof=softmax bpr"`
	Temperature     float32       `mapstructure:"temperature" validate:"gt=0"`
	Normalize       bool          `mapstructure:"normalize"`
	MaskDuplicates  bool          `mapstructure:"mask_duplicates"`
	NegativeSampler string        `mapstructure:"negative_sampler" validate:"oneof=rotate uniform"`
	InitStdDev      float32       `mapstructure:"init_std_dev" validate:"gte=0"`
	RandomState     int64         `mapstructure:"random_state"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// GetParams converts the model section into hyper-parameters.
func (config *ModelConfig) GetParams() model.Params {
	return model.Params{
		model.NEpochs:         config.Epochs,
		model.BatchSize:       config.BatchSize,
		model.NFactors:        config.EmbeddingDim,
		model.HiddenDim:       config.HiddenDim,
		model.HiddenLayers:    config.HiddenLayers,
		model.Lr:              config.LearningRate,
		model.Reg:             config.WeightDecay,
		model.MaxInteractions: config.MaxInteractions,
		model.LossMode:        config.Loss,
		model.Temperature:     config.Temperature,
		model.Normalize:       config.Normalize,
		model.MaskDuplicates:  config.MaskDuplicates,
		model.NegativeSampler: config.NegativeSampler,
		model.InitStdDev:      config.InitStdDev,
		model.RandomState:     config.RandomState,
	}
}

type RecommendConfig struct {
	TopK       int `mapstructure:"top_k" validate:"gt=0"`
	HistoryN   int `mapstructure:"history_n" validate:"gte=0"`
	MinHistory int `mapstructure:"min_history" validate:"gte=0"`
	BatchSize  int `mapstructure:"batch_size" validate:"gt=0"`
}

type EvaluateConfig struct {
	Enable     bool `mapstructure:"enable"`
	TopK       int  `mapstructure:"top_k" validate:"gt=0"`
	Jobs       int  `mapstructure:"jobs" validate:"gt=0"`
	MinHistory int  `mapstructure:"min_history" validate:"gte=2"`
}

// CheckpointConfig selects where trained models are saved. Bucket is the container name
// for Azure Blob Storage.
type CheckpointConfig struct {
	Type   string `mapstructure:"type" validate:"oneof=posix s3 gcs azure"`
	Dir    string `mapstructure:"dir" validate:"required_if=Type posix"`
	Bucket string `mapstructure:"bucket" validate:"required_unless=Type posix"`
	Prefix string `mapstructure:"prefix"`
	// S3
	Endpoint        string `mapstructure:"endpoint" validate:"required_if=Type s3"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	// GCS
	CredentialsFile string `mapstructure:"credentials_file"`
	// Azure
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
}

// GetDefaultConfig returns the defaults of the reference application.
func GetDefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir:         "data",
			RatingsFile: "u.data",
			ItemsFile:   "u.item",
			NumGenres:   19,
		},
		Model: ModelConfig{
			Epochs:          3,
			BatchSize:       1024,
			EmbeddingDim:    32,
			HiddenDim:       64,
			HiddenLayers:    1,
			LearningRate:    0.003,
			MaxInteractions: 80000,
			Loss:            "softmax",
			Temperature:     1,
			MaskDuplicates:  true,
			NegativeSampler: "rotate",
			InitStdDev:      0.05,
		},
		Recommend: RecommendConfig{
			TopK:       10,
			HistoryN:   10,
			MinHistory: 20,
			BatchSize:  1024,
		},
		Evaluate: EvaluateConfig{
			TopK:       10,
			Jobs:       1,
			MinHistory: 20,
		},
		Checkpoint: CheckpointConfig{
			Type: CheckpointPOSIX,
			Dir:  "checkpoints",
		},
		Tracing: TracingConfig{
			Exporter: ExporterOTLP,
			Sampler:  SamplerAlways,
			Ratio:    1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [data]
	v.SetDefault("data.dir", defaultConfig.Data.Dir)
	v.SetDefault("data.ratings_file", defaultConfig.Data.RatingsFile)
	v.SetDefault("data.items_file", defaultConfig.Data.ItemsFile)
	v.SetDefault("data.num_genres", defaultConfig.Data.NumGenres)
	// [model]
	v.SetDefault("model.epochs", defaultConfig.Model.Epochs)
	v.SetDefault("model.batch_size", defaultConfig.Model.BatchSize)
	v.SetDefault("model.embedding_dim", defaultConfig.Model.EmbeddingDim)
	v.SetDefault("model.hidden_dim", defaultConfig.Model.HiddenDim)
	v.SetDefault("model.hidden_layers", defaultConfig.Model.HiddenLayers)
	v.SetDefault("model.learning_rate", defaultConfig.Model.LearningRate)
	v.SetDefault("model.weight_decay", defaultConfig.Model.WeightDecay)
	v.SetDefault("model.max_interactions", defaultConfig.Model.MaxInteractions)
	v.SetDefault("model.loss", defaultConfig.Model.Loss)
	v.SetDefault("model.temperature", defaultConfig.Model.Temperature)
	v.SetDefault("model.normalize", defaultConfig.Model.Normalize)
	v.SetDefault("model.mask_duplicates", defaultConfig.Model.MaskDuplicates)
	v.SetDefault("model.negative_sampler", defaultConfig.Model.NegativeSampler)
	v.SetDefault("model.init_std_dev", defaultConfig.Model.InitStdDev)
	v.SetDefault("model.random_state", defaultConfig.Model.RandomState)
	v.SetDefault("model.timeout", defaultConfig.Model.Timeout)
	// [recommend]
	v.SetDefault("recommend.top_k", defaultConfig.Recommend.TopK)
	v.SetDefault("recommend.history_n", defaultConfig.Recommend.HistoryN)
	v.SetDefault("recommend.min_history", defaultConfig.Recommend.MinHistory)
	v.SetDefault("recommend.batch_size", defaultConfig.Recommend.BatchSize)
	// [evaluate]
	v.SetDefault("evaluate.enable", defaultConfig.Evaluate.Enable)
	v.SetDefault("evaluate.top_k", defaultConfig.Evaluate.TopK)
	v.SetDefault("evaluate.jobs", defaultConfig.Evaluate.Jobs)
	v.SetDefault("evaluate.min_history", defaultConfig.Evaluate.MinHistory)
	// [checkpoint]
	v.SetDefault("checkpoint.type", defaultConfig.Checkpoint.Type)
	v.SetDefault("checkpoint.dir", defaultConfig.Checkpoint.Dir)
	v.SetDefault("checkpoint.endpoint", defaultConfig.Checkpoint.Endpoint)
	v.SetDefault("checkpoint.access_key_id", defaultConfig.Checkpoint.AccessKeyID)
	v.SetDefault("checkpoint.secret_access_key", defaultConfig.Checkpoint.SecretAccessKey)
	v.SetDefault("checkpoint.bucket", defaultConfig.Checkpoint.Bucket)
	v.SetDefault("checkpoint.prefix", defaultConfig.Checkpoint.Prefix)
	v.SetDefault("checkpoint.use_ssl", defaultConfig.Checkpoint.UseSSL)
	v.SetDefault("checkpoint.credentials_file", defaultConfig.Checkpoint.CredentialsFile)
	v.SetDefault("checkpoint.connection_string", defaultConfig.Checkpoint.ConnectionString)
	v.SetDefault("checkpoint.account_name", defaultConfig.Checkpoint.AccountName)
	v.SetDefault("checkpoint.account_key", defaultConfig.Checkpoint.AccountKey)
	// [tracing]
	v.SetDefault("tracing.enable_tracing", defaultConfig.Tracing.EnableTracing)
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

// LoadConfig reads a TOML, YAML or JSON file. Missing keys take their defaults and every
// key can be overridden by a TWOTOWER_ environment variable, e.g. TWOTOWER_MODEL_EPOCHS.
// An empty path loads defaults and environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix("twotower")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks every section of the configuration.
func (config *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	return nil
}
