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

package beam

import (
	"context"
	"fmt"

	"github.com/antflydb/scrawl/lib/backends"
	"github.com/antflydb/scrawl/lib/token"
)

// Result is one surviving hypothesis with its filtered sequence views.
type Result struct {
	Views       token.Views
	Probability float64
	Finished    bool
}

// Decode runs beam search over a batch of preprocessed images. The encoder
// runs exactly once; its feature maps are reused unmodified for every step.
// Each input is seeded with a single hypothesis holding the start token,
// zero hidden state, zero coverage attention and probability 1. Cancellation
// is checked between steps, never mid forward call.
//
// The returned slice has one entry per input, holding that input's surviving
// hypotheses ranked by probability with dead placeholders removed.
func Decode(ctx context.Context, encoder backends.Encoder, decoder backends.Decoder, pixels []float32, batch, channels, height, width int, codec *token.Codec, cfg Config) ([][]Result, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("batch must be positive, got %d", batch)
	}
	cfg = cfg.withDefaults()
	if cfg.StopOnEnd && cfg.EndID == nil {
		endID := codec.EndID()
		cfg.EndID = &endID
	}

	features, err := encoder.Encode(ctx, pixels, batch, channels, height, width)
	if err != nil {
		return nil, fmt.Errorf("encoding input: %w", err)
	}

	beams := make([][]*Hypothesis, batch)
	for b := range beams {
		beams[b] = []*Hypothesis{{
			Sequence:    []token.ID{codec.StartID()},
			Hidden:      decoder.InitHidden(1),
			Attention:   decoder.ZeroAttention(1),
			Probability: 1,
		}}
	}

	for i := 0; i < cfg.MaxSteps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		expanded, err := step(ctx, decoder, features, beams, cfg)
		if err != nil {
			return nil, err
		}
		if !expanded {
			break
		}
	}

	results := make([][]Result, batch)
	for b, beam := range beams {
		for _, h := range beam {
			if h.dead {
				continue
			}
			results[b] = append(results[b], Result{
				Views:       codec.SequenceViews(h.Sequence),
				Probability: h.Probability,
				Finished:    h.Finished,
			})
		}
	}
	return results, nil
}
