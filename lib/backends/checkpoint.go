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

package backends

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ModelSpec describes the tensor geometry the model was exported with.
// Feature map shapes are [channels, height, width]; the attention
// accumulators span height*width positions per resolution.
type ModelSpec struct {
	VocabSize    int    `json:"vocab_size"`
	HiddenSize   int    `json:"hidden_size"`
	LowResShape  [3]int `json:"low_res_shape"`
	HighResShape [3]int `json:"high_res_shape"`
}

// LowResPositions returns the spatial position count of the low resolution
// feature map.
func (s ModelSpec) LowResPositions() int {
	return s.LowResShape[1] * s.LowResShape[2]
}

// HighResPositions returns the spatial position count of the high resolution
// feature map.
func (s ModelSpec) HighResPositions() int {
	return s.HighResShape[1] * s.HighResShape[2]
}

// Manifest is the on-disk description of one trained checkpoint: the two
// exported ONNX networks plus the per-epoch training curves recorded by the
// trainer.
type Manifest struct {
	Encoder            string    `json:"encoder"`
	Decoder            string    `json:"decoder"`
	TrainLoss          []float64 `json:"train_loss"`
	TrainAccuracy      []float64 `json:"train_accuracy"`
	ValidationLoss     []float64 `json:"validation_loss"`
	ValidationAccuracy []float64 `json:"validation_accuracy"`
	DecoderConfig      ModelSpec `json:"decoder_config"`
}

// ReadManifest parses and validates a checkpoint manifest file.
func ReadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing checkpoint manifest %s: %w", path, err)
	}
	if m.Encoder == "" {
		return nil, fmt.Errorf("checkpoint manifest %s: missing encoder model path", path)
	}
	if m.Decoder == "" {
		return nil, fmt.Errorf("checkpoint manifest %s: missing decoder model path", path)
	}
	if m.DecoderConfig.VocabSize <= 0 {
		return nil, fmt.Errorf("checkpoint manifest %s: vocab_size must be positive", path)
	}
	if m.DecoderConfig.HiddenSize <= 0 {
		return nil, fmt.Errorf("checkpoint manifest %s: hidden_size must be positive", path)
	}
	if m.DecoderConfig.LowResPositions() <= 0 || m.DecoderConfig.HighResPositions() <= 0 {
		return nil, fmt.Errorf("checkpoint manifest %s: feature map shapes must be positive", path)
	}
	return &m, nil
}

// Checkpoint is a loaded model pair ready for inference.
type Checkpoint struct {
	Name     string
	Manifest *Manifest
	Encoder  Encoder
	Decoder  Decoder
}

// LoadCheckpoint reads the manifest at path and opens the encoder and
// decoder sessions on the given device. Model paths inside the manifest are
// resolved relative to the manifest's directory.
func LoadCheckpoint(path string, device DeviceType) (*Checkpoint, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)

	encoder, err := NewONNXEncoder(resolveModelPath(dir, m.Encoder), device)
	if err != nil {
		return nil, fmt.Errorf("loading encoder: %w", err)
	}
	decoder, err := NewONNXDecoder(resolveModelPath(dir, m.Decoder), m.DecoderConfig, device)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("loading decoder: %w", err)
	}

	return &Checkpoint{
		Name:     CheckpointName(path),
		Manifest: m,
		Encoder:  encoder,
		Decoder:  decoder,
	}, nil
}

// Close releases both sessions.
func (c *Checkpoint) Close() error {
	var firstErr error
	if c.Encoder != nil {
		if err := c.Encoder.Close(); err != nil {
			firstErr = err
		}
		c.Encoder = nil
	}
	if c.Decoder != nil {
		if err := c.Decoder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.Decoder = nil
	}
	return firstErr
}

// CheckpointName derives a display name from a manifest path: the base file
// name without its extension.
func CheckpointName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func resolveModelPath(dir, model string) string {
	if filepath.IsAbs(model) {
		return model
	}
	return filepath.Join(dir, model)
}
