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
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/antflydb/scrawl"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var healthPort int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scrawl server",
	Long:  `Start the scrawl server for handwritten math expression recognition.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Run command flags
	runCmd.Flags().String("api-url", "http://0.0.0.0:4646", "address the API listens on")
	mustBindPFlag("api_url", runCmd.Flags().Lookup("api-url"))

	runCmd.Flags().StringP("checkpoint", "c", "", "checkpoint manifest to serve")
	mustBindPFlag("checkpoint", runCmd.Flags().Lookup("checkpoint"))
	_ = runCmd.MarkFlagRequired("checkpoint")

	runCmd.Flags().String("upload-dir", "uploads", "directory uploads are persisted to (empty disables)")
	mustBindPFlag("upload_dir", runCmd.Flags().Lookup("upload-dir"))

	runCmd.Flags().Int("beam-width", 10, "beam width for decoding")
	mustBindPFlag("beam_width", runCmd.Flags().Lookup("beam-width"))

	runCmd.Flags().Int("max-steps", 50, "decode step budget")
	mustBindPFlag("max_steps", runCmd.Flags().Lookup("max-steps"))

	runCmd.Flags().Bool("stop-on-end", false, "freeze hypotheses once they emit the end token")
	mustBindPFlag("stop_on_end", runCmd.Flags().Lookup("stop-on-end"))

	runCmd.Flags().Bool("no-cuda", false, "force CPU inference")
	mustBindPFlag("no_cuda", runCmd.Flags().Lookup("no-cuda"))

	runCmd.Flags().IntVar(&healthPort, "health-port", 4200, "health/metrics server port")
	mustBindPFlag("health_port", runCmd.Flags().Lookup("health-port"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create logger from config
	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Running as scrawl")

	cfg := scrawl.Config{
		ApiUrl:         viper.GetString("api_url"),
		VocabularyPath: viper.GetString("vocabulary"),
		CheckpointPath: viper.GetString("checkpoint"),
		UploadDir:      viper.GetString("upload_dir"),
		BeamWidth:      viper.GetInt("beam_width"),
		MaxSteps:       viper.GetInt("max_steps"),
		StopOnEnd:      viper.GetBool("stop_on_end"),
		NoCuda:         viper.GetBool("no_cuda"),
	}

	// Track readiness state
	ready := &atomic.Bool{}
	ready.Store(false)
	readyC := make(chan struct{})

	// Start health server with readiness checker
	healthserver.Start(logger, viper.GetInt("health_port"), ready.Load)

	// Wait for ready signal in background
	go func() {
		<-readyC
		ready.Store(true)
		logger.Info("Scrawl is ready")
	}()

	scrawl.RunAsScrawl(ctx, logger, cfg, readyC)
	return nil
}
