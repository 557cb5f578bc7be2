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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const LabelMetric = "metric"

var (
	TrainBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "twotower",
		Subsystem: "trainer",
		Name:      "batches_total",
	})
	TrainBatchLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "twotower",
		Subsystem: "trainer",
		Name:      "batch_loss",
	})
	TrainEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "twotower",
		Subsystem: "trainer",
		Name:      "epoch",
	})
	TrainEpochSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "twotower",
		Subsystem: "trainer",
		Name:      "epoch_seconds",
	})
	RankSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "twotower",
		Subsystem: "ranker",
		Name:      "rank_seconds",
	})
	ItemVectorsSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "twotower",
		Subsystem: "ranker",
		Name:      "item_vectors_seconds",
	})
	EvaluationScoreVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "twotower",
		Subsystem: "evaluator",
		Name:      "score",
	}, []string{LabelMetric})
)
