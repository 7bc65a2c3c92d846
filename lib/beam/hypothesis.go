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

// Package beam implements beam-search decoding over the model's forward-step
// contract. Hypotheses are per-input: each carries its own token sequence,
// recurrent hidden state, coverage-attention accumulators and running
// probability. Beams are ragged lists of hypotheses that are only flattened
// into a rectangular batch around the decoder forward call.
package beam

import (
	"encoding/binary"

	"github.com/antflydb/scrawl/lib/backends"
	"github.com/antflydb/scrawl/lib/token"
)

// Hypothesis is one candidate decode for a single input. The sequence always
// begins with the start token. Probability is the product of the per-step
// conditionals and never increases as the sequence grows.
type Hypothesis struct {
	Sequence    []token.ID
	Hidden      backends.Tensor
	Attention   backends.AttentionState
	Probability float64

	// Finished marks a hypothesis that produced the end token. It is no
	// longer expanded but stays in the beam and competes on probability.
	Finished bool

	dead bool
}

// Dead reports whether this is a placeholder padding the beam to full
// width. Dead hypotheses have probability 0 and are never selected.
func (h *Hypothesis) Dead() bool {
	return h.dead
}

func deadHypothesis() *Hypothesis {
	return &Hypothesis{dead: true}
}

// child builds the successor hypothesis extended by one token. The parent's
// sequence is shared as a prefix; the new backing array never aliases it.
func (h *Hypothesis) child(tok token.ID, stepProb float64, hidden backends.Tensor, attention backends.AttentionState) *Hypothesis {
	seq := make([]token.ID, len(h.Sequence)+1)
	copy(seq, h.Sequence)
	seq[len(h.Sequence)] = tok
	return &Hypothesis{
		Sequence:    seq,
		Hidden:      hidden,
		Attention:   attention,
		Probability: h.Probability * stepProb,
	}
}

// sequenceKey returns a comparable key for exact full-sequence equality.
func sequenceKey(seq []token.ID) string {
	buf := make([]byte, 4*len(seq))
	for i, id := range seq {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(id))
	}
	return string(buf)
}
