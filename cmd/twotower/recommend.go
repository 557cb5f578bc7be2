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
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gorse-io/twotower/base"
	"github.com/gorse-io/twotower/base/encoding"
	"github.com/gorse-io/twotower/base/log"
	"github.com/gorse-io/twotower/dataset"
	"github.com/gorse-io/twotower/model/twotower"
	"github.com/gorse-io/twotower/storage/blob"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Show the history of a user next to the items recommended for the user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return errors.Trace(err)
		}
		session, err := openSession(cfg)
		if err != nil {
			return errors.Trace(err)
		}
		ctx, cancel := newContext(cfg)
		defer cancel()

		// load or train the model
		if train, _ := cmd.Flags().GetBool("train"); train {
			if _, err = session.Train(ctx, cfg.Model.GetParams(), nil); err != nil {
				return errors.Trace(err)
			}
		} else {
			store, err := openStore(cfg)
			if err != nil {
				return errors.Trace(err)
			}
			m := twotower.NewTwoTower(nil)
			if err = blob.Load(store, checkpointName, m); err != nil {
				return errors.Annotate(err, "failed to load checkpoint, run train first")
			}
			if err = session.Load(m); err != nil {
				return errors.Trace(err)
			}
		}

		// pick a user
		userID, _ := cmd.Flags().GetInt("user")
		if !cmd.Flags().Changed("user") {
			seed, _ := cmd.Flags().GetInt64("seed")
			if !cmd.Flags().Changed("seed") {
				seed = time.Now().UnixNano()
			}
			userID, err = session.RandomQualifiedUser(base.NewRandomGenerator(seed), cfg.Recommend.MinHistory)
			if err != nil {
				return errors.Trace(err)
			}
		}
		log.Logger().Info("recommend for user", zap.Int("user_id", userID))

		history, err := session.TopRated(userID, cfg.Recommend.HistoryN)
		if err != nil {
			return errors.Trace(err)
		}
		if err = printHistory(session, userID, history); err != nil {
			return errors.Trace(err)
		}
		k := cfg.Recommend.TopK
		if cmd.Flags().Changed("k") {
			k, _ = cmd.Flags().GetInt("k")
		}
		if err = printRecommendations(ctx, session, userID, k, false); err != nil {
			return errors.Trace(err)
		}
		if baseline, _ := cmd.Flags().GetBool("baseline"); baseline {
			return errors.Trace(printRecommendations(ctx, session, userID, k, true))
		}
		return nil
	},
}

func init() {
	recommendCommand.Flags().Int("user", 0, "raw user id (a random user with enough ratings by default)")
	recommendCommand.Flags().Int64("seed", 0, "random seed to pick a user")
	recommendCommand.Flags().IntP("k", "k", 10, "number of recommendations")
	recommendCommand.Flags().Bool("baseline", false, "also rank with raw embeddings")
	recommendCommand.Flags().Bool("train", false, "train a new model instead of loading the checkpoint")
}

func printHistory(session *twotower.Session, userID int, history []dataset.Rated) error {
	fmt.Printf("Top rated items of user %d:\n", userID)
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Item", "Title", "Year", "Rating")
	for _, rated := range history {
		item := session.Data.Item(rated.Item)
		if err := table.Append(
			strconv.Itoa(item.ItemID),
			item.Title,
			formatYear(item.Year),
			strconv.Itoa(rated.Rating)); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(table.Render())
}

func printRecommendations(ctx context.Context, session *twotower.Session, userID, k int, baseline bool) error {
	var (
		recommendations []twotower.Recommendation
		err             error
	)
	if baseline {
		fmt.Printf("Baseline recommendations for user %d:\n", userID)
		recommendations, err = session.RecommendBaseline(ctx, userID, k)
	} else {
		fmt.Printf("Recommendations for user %d:\n", userID)
		recommendations, err = session.Recommend(ctx, userID, k)
	}
	if err != nil {
		return errors.Trace(err)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Rank", "Item", "Title", "Year", "Score")
	rows := lo.Map(recommendations, func(r twotower.Recommendation, i int) []string {
		item := session.Data.Item(r.ItemIndex)
		return []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(r.ItemID),
			item.Title,
			formatYear(item.Year),
			encoding.FormatFloat32(r.Score),
		}
	})
	if err = table.Bulk(rows); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(table.Render())
}

func formatYear(year int) string {
	if year == 0 {
		return "-"
	}
	return strconv.Itoa(year)
}
