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
	"net/http"
	"os"
	"os/signal"

	"github.com/gorse-io/twotower/base/log"
	"github.com/gorse-io/twotower/cmd/version"
	"github.com/gorse-io/twotower/config"
	"github.com/gorse-io/twotower/dataset"
	"github.com/gorse-io/twotower/model/twotower"
	"github.com/gorse-io/twotower/storage/blob"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const checkpointName = "twotower.bin"

var rootCommand = &cobra.Command{
	Use:   "twotower",
	Short: "Two-tower recommendation model on MovieLens style datasets.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// setup logger
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
		otel.SetErrorHandler(log.GetErrorHandler())

		// serve metrics
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				log.Logger().Info("start metrics server", zap.String("addr", addr))
				if err := http.ListenAndServe(addr, mux); err != nil {
					log.Logger().Error("failed to serve metrics", zap.Error(err))
				}
			}()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			fmt.Print(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.PersistentFlags().String("metrics-addr", "", "address to serve prometheus metrics, e.g. :8088")
	rootCommand.Flags().BoolP("version", "v", false, "twotower version")
	rootCommand.AddCommand(trainCommand, recommendCommand, tuneCommand)
}

func main() {
	defer log.CloseLogger()
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

// loadConfig reads the configuration file given by --config and sets up the tracer provider.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	tp, err := cfg.Tracing.NewTracerProvider()
	if err != nil {
		return nil, errors.Trace(err)
	}
	otel.SetTracerProvider(tp)
	if sdk, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		cobra.OnFinalize(func() {
			if err := sdk.Shutdown(context.Background()); err != nil {
				log.Logger().Error("failed to shutdown tracer provider", zap.Error(err))
			}
		})
	}
	return cfg, nil
}

// openSession loads the dataset and wraps it into a session.
func openSession(cfg *config.Config) (*twotower.Session, error) {
	data, err := dataset.LoadMovieLens(cfg.Data.Dir, cfg.Data.RatingsFile, cfg.Data.ItemsFile, cfg.Data.NumGenres)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load dataset",
		zap.String("dir", cfg.Data.Dir),
		zap.Int("n_users", data.CountUsers()),
		zap.Int("n_items", data.CountItems()),
		zap.Int("n_genres", data.CountGenres()),
		zap.Int("n_interactions", data.CountInteractions()))
	return twotower.NewSession(data, cfg.Recommend.BatchSize), nil
}

// openStore creates the checkpoint store.
func openStore(cfg *config.Config) (blob.Store, error) {
	log.Logger().Info("open checkpoint store",
		zap.String("type", cfg.Checkpoint.Type),
		zap.String("dir", cfg.Checkpoint.Dir),
		zap.String("endpoint", log.RedactURL(cfg.Checkpoint.Endpoint)),
		zap.String("bucket", cfg.Checkpoint.Bucket),
		zap.String("prefix", cfg.Checkpoint.Prefix))
	return blob.NewStore(cfg.Checkpoint)
}

// newContext returns a context cancelled by interrupt or by the model timeout.
func newContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if cfg.Model.Timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Model.Timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
