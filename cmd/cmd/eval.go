// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/antflydb/scrawl/lib/backends"
	"github.com/antflydb/scrawl/lib/beam"
	"github.com/antflydb/scrawl/lib/dataset"
	"github.com/antflydb/scrawl/lib/eval"
	"github.com/antflydb/scrawl/lib/imaging"
	"github.com/antflydb/scrawl/lib/token"
)

var (
	evalCheckpoints []string
	evalBatchSize   int
	evalDataset     string
	evalWorkers     int
	evalBeamWidth   int
	evalMaxSteps    int
	evalNoCuda      bool
	evalPrefix      string
	evalDataDir     string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score checkpoints on a test set",
	Long: `Decode every expression of a test set with each checkpoint and print
markdown tables of token error rates and correctly recognized expressions.

Examples:
  # Score one checkpoint on the 2016 test set
  scrawl eval -c models/epoch_12.json

  # Compare several checkpoints on the 2014 set with a wider beam
  scrawl eval -c models/epoch_8.json -c models/epoch_12.json -d 2014 --beam-width 16

  # Only score checkpoints whose name starts with "epoch_1"
  scrawl eval -c 'models/*.json' --prefix epoch_1`,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringSliceVarP(&evalCheckpoints, "checkpoint", "c", nil, "checkpoint manifest(s) to score")
	_ = evalCmd.MarkFlagRequired("checkpoint")
	evalCmd.Flags().IntVarP(&evalBatchSize, "batch-size", "b", 4, "images decoded per forward batch")
	evalCmd.Flags().StringVarP(&evalDataset, "dataset", "d", "2016",
		fmt.Sprintf("test set to score on (%s)", strings.Join(dataset.Names(), ", ")))
	evalCmd.Flags().IntVarP(&evalWorkers, "workers", "w", 4, "parallel image loaders")
	evalCmd.Flags().IntVar(&evalBeamWidth, "beam-width", 10, "beam width for decoding")
	evalCmd.Flags().IntVar(&evalMaxSteps, "max-steps", 50, "decode step budget")
	evalCmd.Flags().BoolVar(&evalNoCuda, "no-cuda", false, "force CPU inference")
	evalCmd.Flags().StringVar(&evalPrefix, "prefix", "", "only score checkpoints whose name has this prefix")
	evalCmd.Flags().StringVar(&evalDataDir, "data-dir", "data", "root directory of the test sets")
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	codec, err := token.LoadVocabulary(viper.GetString("vocabulary"))
	if err != nil {
		return fmt.Errorf("loading vocabulary: %w", err)
	}

	set, err := dataset.Named(evalDataDir, evalDataset)
	if err != nil {
		return err
	}
	samples, err := dataset.LoadGroundTruth(set.GroundTruth)
	if err != nil {
		return err
	}
	logger.Info("Loaded ground truth",
		zap.String("dataset", set.Name),
		zap.Int("expressions", len(samples)))

	device := backends.DeviceCUDA
	if evalNoCuda {
		device = backends.DeviceCPU
	}
	beamConfig := beam.Config{Width: evalBeamWidth, MaxSteps: evalMaxSteps}
	processor := imaging.NewProcessor(nil)

	var results []eval.CheckpointResult
	for _, path := range evalCheckpoints {
		name := backends.CheckpointName(path)
		if evalPrefix != "" && !strings.HasPrefix(name, evalPrefix) {
			logger.Debug("Skipping checkpoint outside prefix", zap.String("checkpoint", name))
			continue
		}

		stats, err := scoreCheckpoint(ctx, logger, path, device, set, samples, codec, processor, beamConfig)
		if err != nil {
			return fmt.Errorf("scoring %s: %w", name, err)
		}
		results = append(results, eval.CheckpointResult{Name: name, Stats: stats})
	}

	errorTable, err := eval.ErrorRateTable(results)
	if err != nil {
		return err
	}
	fmt.Println("Token error rates:")
	fmt.Println(errorTable)
	fmt.Println("Correctly recognized expressions:")
	fmt.Println(eval.CorrectExpressionsTable(results))
	return nil
}

func scoreCheckpoint(
	ctx context.Context,
	logger *zap.Logger,
	path string,
	device backends.DeviceType,
	set dataset.Set,
	samples []dataset.Sample,
	codec *token.Codec,
	processor *imaging.Processor,
	beamConfig beam.Config,
) (eval.ViewStats, error) {
	var stats eval.ViewStats

	checkpoint, err := backends.LoadCheckpoint(path, device)
	if err != nil {
		return stats, err
	}
	defer func() { _ = checkpoint.Close() }()
	logger.Info("Scoring checkpoint", zap.String("checkpoint", checkpoint.Name))

	cfg := processor.Config
	perImage := cfg.Channels * cfg.Height * cfg.Width

	for _, batch := range dataset.Batches(samples, evalBatchSize) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		tensors, err := dataset.LoadImages(ctx, set, batch, processor, evalWorkers)
		if err != nil {
			return stats, err
		}
		pixels := make([]float32, 0, len(batch)*perImage)
		for _, t := range tensors {
			pixels = append(pixels, t...)
		}

		decoded, err := beam.Decode(ctx, checkpoint.Encoder, checkpoint.Decoder,
			pixels, len(batch), cfg.Channels, cfg.Height, cfg.Width, codec, beamConfig)
		if err != nil {
			return stats, err
		}

		for i, sample := range batch {
			if len(decoded[i]) == 0 {
				return stats, fmt.Errorf("no hypotheses for %s", sample.Name)
			}
			expected, err := expectedViews(codec, sample.Tokens)
			if err != nil {
				return stats, fmt.Errorf("ground truth for %s: %w", sample.Name, err)
			}
			stats.Add(decoded[i][0].Views, expected)
		}
	}
	return stats, nil
}

// expectedViews brackets the ground-truth tokens with the structural tokens
// so the full view lines up with raw decodes.
func expectedViews(codec *token.Codec, tokens []string) (token.Views, error) {
	ids, err := codec.EncodeAll(tokens)
	if err != nil {
		return token.Views{}, err
	}
	full := make([]token.ID, 0, len(ids)+2)
	full = append(full, codec.StartID())
	full = append(full, ids...)
	full = append(full, codec.EndID())
	return codec.SequenceViews(full), nil
}
