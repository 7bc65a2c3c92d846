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

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antflydb/scrawl/lib/backends"
	"github.com/antflydb/scrawl/lib/beam"
	"github.com/antflydb/scrawl/lib/imaging"
	"github.com/antflydb/scrawl/lib/token"
)

// Recognizer turns an expression image into a LaTeX token string.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (RecognitionResult, error)
}

// RecognitionResult is the best decode for one image.
type RecognitionResult struct {
	Latex       string    `json:"latex"`
	Probability float64   `json:"probability"`
	DecodedAt   time.Time `json:"decoded_at"`
}

// ModelRecognizer drives beam search over one loaded checkpoint. The
// decoder session holds no per-call state, but a forward call is not
// reentrant, so decodes on one checkpoint are serialized behind a mutex.
type ModelRecognizer struct {
	mu         sync.Mutex
	checkpoint *backends.Checkpoint
	codec      *token.Codec
	processor  *imaging.Processor
	beamConfig beam.Config
}

// NewModelRecognizer wraps a loaded checkpoint for serving.
func NewModelRecognizer(checkpoint *backends.Checkpoint, codec *token.Codec, processor *imaging.Processor, beamConfig beam.Config) *ModelRecognizer {
	return &ModelRecognizer{
		checkpoint: checkpoint,
		codec:      codec,
		processor:  processor,
		beamConfig: beamConfig,
	}
}

// Recognize preprocesses the image, runs beam search and renders the most
// probable hypothesis with structural tokens trimmed.
func (m *ModelRecognizer) Recognize(ctx context.Context, image []byte) (RecognitionResult, error) {
	pixels, err := m.processor.ProcessBytes(image)
	if err != nil {
		return RecognitionResult{}, fmt.Errorf("preprocessing upload: %w", err)
	}
	cfg := m.processor.Config

	m.mu.Lock()
	results, err := beam.Decode(ctx, m.checkpoint.Encoder, m.checkpoint.Decoder,
		pixels, 1, cfg.Channels, cfg.Height, cfg.Width, m.codec, m.beamConfig)
	m.mu.Unlock()
	if err != nil {
		return RecognitionResult{}, fmt.Errorf("decoding expression: %w", err)
	}
	if len(results) == 0 || len(results[0]) == 0 {
		return RecognitionResult{}, fmt.Errorf("decode produced no hypotheses")
	}

	best := results[0][0]
	RecordTokenGeneration(len(best.Views.Full))
	return RecognitionResult{
		Latex:       m.codec.DecodeAll(best.Views.Removed),
		Probability: best.Probability,
		DecodedAt:   time.Now(),
	}, nil
}
