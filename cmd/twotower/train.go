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
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gorse-io/twotower/base/encoding"
	"github.com/gorse-io/twotower/base/log"
	"github.com/gorse-io/twotower/base/progress"
	"github.com/gorse-io/twotower/config"
	"github.com/gorse-io/twotower/dataset"
	"github.com/gorse-io/twotower/model/twotower"
	"github.com/gorse-io/twotower/storage/blob"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train the two-tower model and save a checkpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		if cmd.Flags().Changed("evaluate") {
			cfg.Evaluate.Enable, _ = cmd.Flags().GetBool("evaluate")
		}
		session, err := openSession(cfg)
		if err != nil {
			return errors.Trace(err)
		}
		ctx, cancel := newContext(cfg)
		defer cancel()
		params := cfg.Model.GetParams()

		// leave-one-out evaluation on a separate model
		if cfg.Evaluate.Enable {
			trainSet, _ := session.Data.SplitLatest(cfg.Evaluate.MinHistory)
			bar := newTrainBar(&cfg.Model, trainSet, "evaluate")
			fitConfig := twotower.NewFitConfig().
				SetJobs(cfg.Evaluate.Jobs).
				SetTopK(cfg.Evaluate.TopK).
				SetOnBatch(func(twotower.Batch) { _ = bar.Add(1) })
			result, err := session.Evaluate(ctx, params, fitConfig, cfg.Evaluate.MinHistory)
			_ = bar.Finish()
			if err != nil {
				return errors.Trace(err)
			}
			if err = printScore(result.Score, cfg.Evaluate.TopK); err != nil {
				return errors.Trace(err)
			}
		}

		// train on every interaction
		bar := newTrainBar(&cfg.Model, session.Data, "train")
		fitConfig := twotower.NewFitConfig().
			SetJobs(cfg.Evaluate.Jobs).
			SetOnBatch(func(batch twotower.Batch) {
				bar.Describe(fmt.Sprintf("train epoch %d loss %s", batch.Epoch, encoding.FormatFloat32(batch.Loss)))
				_ = bar.Add(1)
			})
		result, err := session.Train(ctx, params, fitConfig)
		_ = bar.Finish()
		if err != nil {
			return errors.Trace(err)
		}
		if err = printLosses(result.EpochLosses); err != nil {
			return errors.Trace(err)
		}
		if err = printProgress(session.Progress()); err != nil {
			return errors.Trace(err)
		}

		// save checkpoint
		if noSave, _ := cmd.Flags().GetBool("no-save"); !noSave {
			store, err := openStore(cfg)
			if err != nil {
				return errors.Trace(err)
			}
			if err = blob.Save(store, checkpointName, session.Model); err != nil {
				return errors.Trace(err)
			}
			log.Logger().Info("save checkpoint", zap.String("name", checkpointName))
		}

		// export item projection
		if path, _ := cmd.Flags().GetString("projection"); path != "" {
			if err = writeProjection(ctx, session, path); err != nil {
				return errors.Trace(err)
			}
			log.Logger().Info("write item projection", zap.String("path", path))
		}
		return nil
	},
}

func init() {
	trainCommand.Flags().Bool("evaluate", false, "evaluate with leave-one-out before training")
	trainCommand.Flags().Bool("no-save", false, "do not save the checkpoint")
	trainCommand.Flags().String("projection", "", "write a 2-D projection of item embeddings to a CSV file")
}

// newTrainBar creates a progress bar over every batch of a training run.
func newTrainBar(cfg *config.ModelConfig, data *dataset.Dataset, description string) *progressbar.ProgressBar {
	n := data.CountInteractions()
	if cfg.MaxInteractions > 0 {
		n = min(n, cfg.MaxInteractions)
	}
	numBatches := (n + cfg.BatchSize - 1) / cfg.BatchSize
	return progressbar.Default(int64(numBatches*cfg.Epochs), description)
}

func printScore(score twotower.Score, topK int) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header(
		fmt.Sprintf("HR@%d", topK),
		fmt.Sprintf("NDCG@%d", topK),
		fmt.Sprintf("Precision@%d", topK),
		fmt.Sprintf("Recall@%d", topK))
	if err := table.Append(
		encoding.FormatFloat32(score.HR),
		encoding.FormatFloat32(score.NDCG),
		encoding.FormatFloat32(score.Precision),
		encoding.FormatFloat32(score.Recall)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(table.Render())
}

func printLosses(losses []float32) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Epoch", "Loss")
	for i, loss := range losses {
		if err := table.Append(strconv.Itoa(i+1), encoding.FormatFloat32(loss)); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

// printProgress prints every task of a session with its children.
func printProgress(tasks []progress.Progress) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Task", "Status", "Progress", "Time")
	for _, task := range tasks {
		elapsed := "-"
		if !task.FinishTime.IsZero() {
			elapsed = task.FinishTime.Sub(task.StartTime).Round(time.Millisecond).String()
		}
		if err := table.Append(task.Name, string(task.Status), fmt.Sprintf("%d/%d", task.Count, task.Total), elapsed); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

// writeProjection writes "item_id,title,x,y" rows.
func writeProjection(ctx context.Context, session *twotower.Session, path string) error {
	points, err := session.ProjectItems(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err = w.Write([]string{"item_id", "title", "x", "y"}); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < session.Data.CountItems(); i++ {
		item := session.Data.Item(int32(i))
		if err = w.Write([]string{
			strconv.Itoa(item.ItemID),
			item.Title,
			encoding.FormatFloat32(points[2*i]),
			encoding.FormatFloat32(points[2*i+1]),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	w.Flush()
	return errors.Trace(w.Error())
}
