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
	"math"
	"sort"

	"github.com/antflydb/scrawl/lib/backends"
	"github.com/antflydb/scrawl/lib/token"
)

const (
	// DefaultWidth is the beam width used when Config leaves it unset.
	DefaultWidth = 10

	// DefaultMaxSteps is the decode step budget when Config leaves it
	// unset.
	DefaultMaxSteps = 50
)

// Config controls a beam search run.
type Config struct {
	// Width is the number of hypotheses kept per input after each step.
	Width int

	// MaxSteps is the fixed step budget. Decoding always stops here.
	MaxSteps int

	// StopOnEnd freezes hypotheses that emit EndID instead of expanding
	// them further. When false every hypothesis runs the full budget.
	StopOnEnd bool

	// EndID optionally overrides the terminal token checked when
	// StopOnEnd is set. When nil, Decode uses the codec's end token, so
	// vocabularies whose end token sits at index 0 need no special case.
	EndID *token.ID
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	return c
}

// pair addresses one expandable hypothesis inside the ragged beams.
type pair struct {
	input int
	hyp   *Hypothesis
}

// step expands every live hypothesis by one token and prunes each input's
// beam back to the configured width. It reports whether any hypothesis was
// expanded; false means all beams are frozen and the caller can stop early.
func step(ctx context.Context, decoder backends.Decoder, features *backends.FeatureMaps, beams [][]*Hypothesis, cfg Config) (bool, error) {
	var live []pair
	for b, beam := range beams {
		for _, h := range beam {
			if !h.dead && !h.Finished {
				live = append(live, pair{input: b, hyp: h})
			}
		}
	}
	if len(live) == 0 {
		return false, nil
	}

	// Flatten the ragged beams into one rectangular batch for the forward
	// call. Feature maps are repeated per hypothesis of their input.
	prev := make([]int32, len(live))
	hiddens := make([]backends.Tensor, len(live))
	attnLow := make([]backends.Tensor, len(live))
	attnHigh := make([]backends.Tensor, len(live))
	featLow := make([]backends.Tensor, len(live))
	featHigh := make([]backends.Tensor, len(live))
	for i, p := range live {
		prev[i] = int32(p.hyp.Sequence[len(p.hyp.Sequence)-1])
		hiddens[i] = p.hyp.Hidden
		attnLow[i] = p.hyp.Attention.Low
		attnHigh[i] = p.hyp.Attention.High
		featLow[i] = backends.SliceBatch(features.Low, p.input)
		featHigh[i] = backends.SliceBatch(features.High, p.input)
	}

	out, err := decoder.Step(ctx, prev,
		backends.StackHidden(hiddens),
		backends.AttentionState{
			Low:  backends.StackBatch(attnLow),
			High: backends.StackBatch(attnHigh),
		},
		&backends.FeatureMaps{
			Low:  backends.StackBatch(featLow),
			High: backends.StackBatch(featHigh),
		})
	if err != nil {
		return false, fmt.Errorf("decoder step: %w", err)
	}
	if len(out.Logits) != len(live) {
		return false, fmt.Errorf("decoder returned %d logit rows for batch %d", len(out.Logits), len(live))
	}

	// Children pooled per input, together with carried frozen hypotheses.
	pools := make([][]*Hypothesis, len(beams))
	for b, beam := range beams {
		for _, h := range beam {
			if h.Finished {
				pools[b] = append(pools[b], h)
			}
		}
	}
	for i, p := range live {
		probs := softmax(out.Logits[i])
		hidden := backends.SliceHidden(out.Hidden, i)
		attention := backends.AttentionState{
			Low:  backends.SliceBatch(out.Attention.Low, i),
			High: backends.SliceBatch(out.Attention.High, i),
		}
		for _, c := range topK(probs, cfg.Width) {
			child := p.hyp.child(token.ID(c.index), c.prob, hidden, attention)
			if cfg.StopOnEnd && cfg.EndID != nil && token.ID(c.index) == *cfg.EndID {
				child.Finished = true
			}
			pools[p.input] = append(pools[p.input], child)
		}
	}

	for b := range beams {
		beams[b] = prune(pools[b], cfg.Width)
	}
	return true, nil
}

// prune sorts candidates by probability, drops exact duplicate sequences
// keeping the more probable copy, and pads with dead placeholders up to
// width so every beam stays the same size.
func prune(pool []*Hypothesis, width int) []*Hypothesis {
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Probability > pool[j].Probability
	})

	seen := make(map[string]struct{}, len(pool))
	kept := make([]*Hypothesis, 0, width)
	for _, h := range pool {
		if len(kept) == width {
			break
		}
		key := sequenceKey(h.Sequence)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, h)
	}
	for len(kept) < width {
		kept = append(kept, deadHypothesis())
	}
	return kept
}

type scored struct {
	index int
	prob  float64
}

// topK returns the k most probable vocabulary entries, highest first.
func topK(probs []float64, k int) []scored {
	candidates := make([]scored, len(probs))
	for i, p := range probs {
		candidates[i] = scored{index: i, prob: p}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].prob > candidates[j].prob
	})
	if k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}

// softmax normalizes logits into probabilities, accumulating in float64.
func softmax(logits []float32) []float64 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l) - maxLogit)
		probs[i] = e
		sum += e
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
