// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scrawl

import "github.com/antflydb/scrawl/lib/backends"

// Config holds the scrawl node configuration.
type Config struct {
	// ApiUrl is the address the HTTP API listens on.
	ApiUrl string `json:"api_url"`

	// VocabularyPath is the token vocabulary file, loaded once at startup.
	VocabularyPath string `json:"vocabulary_path"`

	// CheckpointPath is the checkpoint manifest to serve.
	CheckpointPath string `json:"checkpoint_path"`

	// UploadDir persists uploaded expression images by name, overwriting
	// previous uploads. Empty disables persistence.
	UploadDir string `json:"upload_dir"`

	// BeamWidth is the number of hypotheses kept per decode step.
	BeamWidth int `json:"beam_width"`

	// MaxSteps is the decode step budget.
	MaxSteps int `json:"max_steps"`

	// StopOnEnd freezes hypotheses once they emit the end token.
	StopOnEnd bool `json:"stop_on_end"`

	// NoCuda forces CPU inference.
	NoCuda bool `json:"no_cuda"`
}

// Device returns the inference device implied by the config.
func (c Config) Device() backends.DeviceType {
	if c.NoCuda {
		return backends.DeviceCPU
	}
	return backends.DeviceCUDA
}
