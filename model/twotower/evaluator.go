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
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/twotower/base/log"
	"github.com/gorse-io/twotower/common/parallel"
	"github.com/gorse-io/twotower/dataset"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Score is the mean of ranking metrics over evaluated users.
type Score struct {
	HR        float32
	NDCG      float32
	Precision float32
	Recall    float32
}

func (score Score) ZapFields(topK int) []zap.Field {
	return []zap.Field{
		zap.Float32(fmt.Sprintf("HR@%v", topK), score.HR),
		zap.Float32(fmt.Sprintf("NDCG@%v", topK), score.NDCG),
		zap.Float32(fmt.Sprintf("Precision@%v", topK), score.Precision),
		zap.Float32(fmt.Sprintf("Recall@%v", topK), score.Recall),
	}
}

// Evaluate ranks the catalog for every user of testSet, excluding the history known to
// the ranker, and compares the top k items with the user's test items.
func Evaluate(ctx context.Context, ranker *Ranker, testSet *dataset.Dataset, topK, jobs int) (Score, error) {
	ctx, span := otel.Tracer("twotower").Start(ctx, "Evaluate")
	defer span.End()
	start := time.Now()
	users := testSet.QualifiedUsers(1)
	if len(users) == 0 {
		return Score{}, nil
	}
	items, err := ranker.ItemVectors(ctx, false)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	userVectors, err := ranker.UserVectors(ctx, users, false)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	scores := make([]Score, len(users))
	err = parallel.Parallel(ctx, len(users), jobs, func(_, jobId int) error {
		userIndex := users[jobId]
		targetSet := mapset.NewThreadUnsafeSet(testSet.HistoryItems(userIndex)...)
		recommendations, err := ranker.rankVector(userVectors.Row(jobId), items, ranker.data.HistoryItems(userIndex), topK)
		if err != nil {
			return errors.Trace(err)
		}
		rankList := lo.Map(recommendations, func(r Recommendation, _ int) int32 { return r.ItemIndex })
		scores[jobId] = Score{
			HR:        HR(targetSet, rankList),
			NDCG:      NDCG(targetSet, rankList),
			Precision: Precision(targetSet, rankList),
			Recall:    Recall(targetSet, rankList),
		}
		return nil
	})
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	var mean Score
	for _, score := range scores {
		mean.HR += score.HR
		mean.NDCG += score.NDCG
		mean.Precision += score.Precision
		mean.Recall += score.Recall
	}
	n := float32(len(scores))
	mean = Score{HR: mean.HR / n, NDCG: mean.NDCG / n, Precision: mean.Precision / n, Recall: mean.Recall / n}
	EvaluationScoreVec.WithLabelValues("hr").Set(float64(mean.HR))
	EvaluationScoreVec.WithLabelValues("ndcg").Set(float64(mean.NDCG))
	EvaluationScoreVec.WithLabelValues("precision").Set(float64(mean.Precision))
	EvaluationScoreVec.WithLabelValues("recall").Set(float64(mean.Recall))
	log.Logger().Debug("evaluate two-tower",
		append(mean.ZapFields(topK),
			zap.Int("n_users", len(users)),
			zap.Duration("eval_time", time.Since(start)))...)
	return mean, nil
}

// NDCG means Normalized Discounted Cumulative Gain.
func NDCG(targetSet mapset.Set[int32], rankList []int32) float32 {
	// IDCG = \sum^{|REL|}_{i=1} \frac {1} {\log_2(i+1)}
	idcg := float32(0)
	for i := 0; i < targetSet.Cardinality() && i < len(rankList); i++ {
		idcg += 1.0 / math32.Log2(float32(i)+2.0)
	}
	if idcg == 0 {
		return 0
	}
	// DCG = \sum^{N}_{i=1} \frac {2^{rel_i}-1} {\log_2(i+1)}
	dcg := float32(0)
	for i, itemId := range rankList {
		if targetSet.Contains(itemId) {
			dcg += 1.0 / math32.Log2(float32(i)+2.0)
		}
	}
	return dcg / idcg
}

// Precision is the fraction of relevant items among the recommended items.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{retrieved documents}|}
func Precision(targetSet mapset.Set[int32], rankList []int32) float32 {
	if len(rankList) == 0 {
		return 0
	}
	hit := float32(0)
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return hit / float32(len(rankList))
}

// Recall is the fraction of relevant items that have been recommended over the total
// amount of relevant items.
//
//	\frac{|relevant documents| \cap |retrieved documents|} {|{relevant documents}|}
func Recall(targetSet mapset.Set[int32], rankList []int32) float32 {
	if targetSet.Cardinality() == 0 {
		return 0
	}
	hit := 0
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			hit++
		}
	}
	return float32(hit) / float32(targetSet.Cardinality())
}

// HR means Hit Ratio.
func HR(targetSet mapset.Set[int32], rankList []int32) float32 {
	for _, itemId := range rankList {
		if targetSet.Contains(itemId) {
			return 1
		}
	}
	return 0
}
