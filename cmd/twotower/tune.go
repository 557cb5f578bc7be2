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
	"fmt"
	"os"
	"slices"

	"github.com/gorse-io/twotower/model/twotower"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var tuneCommand = &cobra.Command{
	Use:   "tune",
	Short: "Search hyper-parameters with leave-one-out evaluation.",
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

		numTrials, _ := cmd.Flags().GetInt("trials")
		fitConfig := twotower.NewFitConfig().
			SetJobs(cfg.Evaluate.Jobs).
			SetTopK(cfg.Evaluate.TopK)
		result, err := session.Tune(ctx, cfg.Model.GetParams(), fitConfig, cfg.Evaluate.MinHistory, numTrials)
		if err != nil {
			return errors.Trace(err)
		}
		if err = printProgress(session.Progress()); err != nil {
			return errors.Trace(err)
		}
		if err = printScore(result.Score, cfg.Evaluate.TopK); err != nil {
			return errors.Trace(err)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Param", "Value")
		names := lo.Keys(result.Params)
		slices.Sort(names)
		for _, name := range names {
			if err = table.Append(string(name), fmt.Sprint(result.Params[name])); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(table.Render())
	},
}

func init() {
	tuneCommand.Flags().Int("trials", 10, "number of trials")
}
