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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set from main via ldflags
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "scrawl",
	Short: "Handwritten math expression recognition",
	Long: `Scrawl decodes images of handwritten mathematical expressions into
LaTeX token sequences using beam search over an ONNX encoder-decoder model.`,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("vocabulary", "vocabulary.txt", "token vocabulary file")
	mustBindPFlag("vocabulary", rootCmd.PersistentFlags().Lookup("vocabulary"))

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-style", "console", "log style (console, json)")
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
}

func initConfig() {
	viper.SetEnvPrefix("SCRAWL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}
