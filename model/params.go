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
	"encoding/json"
	"fmt"

	"github.com/gorse-io/twotower/base/log"
	"go.uber.org/zap"
)

/* ParamName */

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names
const (
	NEpochs         ParamName = "NEpochs"         // number of epochs
	BatchSize       ParamName = "BatchSize"       // number of interactions per batch
	NFactors        ParamName = "NFactors"        // dimension of embeddings and tower outputs
	HiddenDim       ParamName = "HiddenDim"       // width of hidden layers
	HiddenLayers    ParamName = "HiddenLayers"    // number of hidden layers per tower
	Lr              ParamName = "Lr"              // learning rate
	Reg             ParamName = "Reg"             // weight decay
	MaxInteractions ParamName = "MaxInteractions" // maximum number of interactions used for training
	LossMode        ParamName = "LossMode"        // "softmax" or "bpr"
	Temperature     ParamName = "Temperature"     // divisor of in-batch logits
	Normalize       ParamName = "Normalize"       // L2-normalize tower outputs
	MaskDuplicates  ParamName = "MaskDuplicates"  // mask duplicate items among in-batch negatives
	NegativeSampler ParamName = "NegativeSampler" // "rotate" or "uniform"
	RandomState     ParamName = "RandomState"     // random state (seed)
	InitMean        ParamName = "InitMean"        // mean of gaussian initial parameter
	InitStdDev      ParamName = "InitStdDev"      // standard deviation of gaussian initial parameter
)

// Params stores hyper-parameters for an model. It is a map between names and values.
// For example, hyper-parameters for the two-tower model is given by:
//
//	model.Params{
//		model.Lr:       0.003,
//		model.NEpochs:  3,
//		model.NFactors: 32,
//	}
type Params map[ParamName]interface{}

// Copy hyper-parameters.
func (parameters Params) Copy() Params {
	newParams := make(Params)
	for k, v := range parameters {
		newParams[k] = v
	}
	return newParams
}

// GetInt gets a integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		case int64:
			return int(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "int"),
				zap.String("actual", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

// GetInt64 gets a int64 parameter by name. Returns _default if not exists or type doesn't match. The
// type will be converted if given int.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "int64"),
				zap.String("actual", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

// GetBool gets a bool parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetBool(name ParamName, _default bool) bool {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case bool:
			return val
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "bool"),
				zap.String("actual", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

// GetFloat32 gets a float32 parameter by name. Returns _default if not exists or type doesn't match.
// The type will be converted if given float64 or int.
func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "float32"),
				zap.String("actual", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

// GetString gets a string parameter. Returns _default if not exists or type doesn't match.
func (parameters Params) GetString(name ParamName, _default string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			log.Logger().Error("type mismatch",
				zap.String("param", string(name)),
				zap.String("expect", "string"),
				zap.String("actual", fmt.Sprintf("%T", val)))
		}
	}
	return _default
}

// Overwrite returns a copy of parameters with params applied on top.
func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

func (parameters Params) ToString() string {
	b, err := json.Marshal(parameters)
	if err != nil {
		log.Logger().Error("failed to marshal params", zap.Error(err))
		return fmt.Sprint(map[ParamName]interface{}(parameters))
	}
	return string(b)
}
