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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/scrawl/lib/backends"
	"github.com/antflydb/scrawl/lib/token"
)

const (
	fakeHidden = 4
	fakeLowN   = 2
	fakeHighN  = 3
)

// fakeEncoder returns fixed feature maps and counts invocations.
type fakeEncoder struct {
	calls int
}

func (e *fakeEncoder) Encode(ctx context.Context, pixels []float32, batch, channels, height, width int) (*backends.FeatureMaps, error) {
	e.calls++
	return &backends.FeatureMaps{
		Low:  backends.NewTensor(int64(batch), 1, 1, fakeLowN),
		High: backends.NewTensor(int64(batch), 1, 1, fakeHighN),
	}, nil
}

func (e *fakeEncoder) Close() error { return nil }

// fakeDecoder produces scripted next-token distributions keyed by the
// previous token.
type fakeDecoder struct {
	vocab  int
	logits func(prev int32) []float32
}

func (d *fakeDecoder) VocabSize() int { return d.vocab }

func (d *fakeDecoder) InitHidden(batch int) backends.Tensor {
	return backends.NewTensor(1, int64(batch), fakeHidden)
}

func (d *fakeDecoder) ZeroAttention(batch int) backends.AttentionState {
	return backends.AttentionState{
		Low:  backends.NewTensor(int64(batch), fakeLowN),
		High: backends.NewTensor(int64(batch), fakeHighN),
	}
}

func (d *fakeDecoder) Step(ctx context.Context, prev []int32, hidden backends.Tensor, attention backends.AttentionState, features *backends.FeatureMaps) (*backends.StepOutput, error) {
	batch := len(prev)
	logits := make([][]float32, batch)
	for i, p := range prev {
		logits[i] = d.logits(p)
	}
	return &backends.StepOutput{
		Logits: logits,
		Hidden: backends.NewTensor(1, int64(batch), fakeHidden),
		Attention: backends.AttentionState{
			Low:  backends.NewTensor(int64(batch), fakeLowN),
			High: backends.NewTensor(int64(batch), fakeHighN),
		},
	}, nil
}

func (d *fakeDecoder) Close() error { return nil }

// scriptLogits builds a logits row that softmaxes back to roughly the given
// probabilities. Unlisted entries get negligible mass.
func scriptLogits(vocab int, probs map[token.ID]float64) []float32 {
	row := make([]float32, vocab)
	for i := range row {
		row[i] = -30
	}
	for id, p := range probs {
		row[id] = float32(math.Log(p))
	}
	return row
}

// mathCodec has "1"=0 "+"=1 "2"=2 and the structural tokens appended as
// 3, 4, 5.
func mathCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec([]string{"1", "+", "2"})
	require.NoError(t, err)
	return c
}

func TestDecodeRanksChildrenByProbability(t *testing.T) {
	codec := mathCodec(t)
	decoder := &fakeDecoder{
		vocab: codec.Len(),
		logits: func(prev int32) []float32 {
			return scriptLogits(codec.Len(), map[token.ID]float64{0: 0.6, 1: 0.3, 2: 0.1})
		},
	}

	results, err := Decode(context.Background(), &fakeEncoder{}, decoder, nil, 1, 1, 4, 4, codec,
		Config{Width: 2, MaxSteps: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 2)

	first, second := results[0][0], results[0][1]
	assert.Equal(t, []token.ID{codec.StartID(), 0}, first.Views.Full)
	assert.InDelta(t, 0.6, first.Probability, 1e-6)
	assert.Equal(t, []token.ID{codec.StartID(), 1}, second.Views.Full)
	assert.InDelta(t, 0.3, second.Probability, 1e-6)
	assert.GreaterOrEqual(t, first.Probability, second.Probability)
}

func TestDecodeSequenceAndProbabilityInvariants(t *testing.T) {
	codec := mathCodec(t)
	decoder := &fakeDecoder{
		vocab: codec.Len(),
		logits: func(prev int32) []float32 {
			return scriptLogits(codec.Len(), map[token.ID]float64{0: 0.5, 1: 0.3, 2: 0.2})
		},
	}

	const steps = 3
	results, err := Decode(context.Background(), &fakeEncoder{}, decoder, nil, 2, 1, 4, 4, codec,
		Config{Width: 3, MaxSteps: steps})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, perInput := range results {
		require.NotEmpty(t, perInput)
		seen := make(map[string]struct{})
		for i, r := range perInput {
			// One token appended per step on top of the start seed.
			assert.Len(t, r.Views.Full, steps+1)
			assert.Equal(t, codec.StartID(), r.Views.Full[0])
			if i > 0 {
				assert.GreaterOrEqual(t, perInput[i-1].Probability, r.Probability)
			}
			key := sequenceKey(r.Views.Full)
			_, dup := seen[key]
			assert.False(t, dup, "duplicate sequence in beam")
			seen[key] = struct{}{}
		}
		// Best path takes the most probable token every step.
		assert.InDelta(t, math.Pow(0.5, steps), perInput[0].Probability, 1e-6)
	}
}

func TestChildExtendsParent(t *testing.T) {
	parent := &Hypothesis{
		Sequence:    []token.ID{3, 0},
		Probability: 0.5,
	}
	child := parent.child(1, 0.4, backends.NewTensor(1, 1, fakeHidden), backends.AttentionState{})

	assert.Equal(t, []token.ID{3, 0, 1}, child.Sequence)
	assert.InDelta(t, 0.2, child.Probability, 1e-9)
	assert.LessOrEqual(t, child.Probability, parent.Probability)
	// The parent sequence is untouched.
	assert.Equal(t, []token.ID{3, 0}, parent.Sequence)
}

func TestPruneDedupKeepsHigherProbability(t *testing.T) {
	seqA := []token.ID{3, 0, 1}
	seqB := []token.ID{3, 2, 1}
	pool := []*Hypothesis{
		{Sequence: seqA, Probability: 0.4},
		{Sequence: seqB, Probability: 0.5},
		{Sequence: seqA, Probability: 0.7},
	}

	kept := prune(pool, 3)
	require.Len(t, kept, 3)
	assert.Equal(t, seqA, kept[0].Sequence)
	assert.InDelta(t, 0.7, kept[0].Probability, 1e-9)
	assert.Equal(t, seqB, kept[1].Sequence)
	assert.True(t, kept[2].Dead())
	assert.Zero(t, kept[2].Probability)
}

func TestPrunePadsShortPoolsWithDeadPlaceholders(t *testing.T) {
	pool := []*Hypothesis{{Sequence: []token.ID{3, 0}, Probability: 0.9}}
	kept := prune(pool, 4)
	require.Len(t, kept, 4)
	assert.False(t, kept[0].Dead())
	for _, h := range kept[1:] {
		assert.True(t, h.Dead())
	}
}

func TestDecodeExcludesDeadPlaceholders(t *testing.T) {
	codec := mathCodec(t)
	decoder := &fakeDecoder{
		vocab: codec.Len(),
		logits: func(prev int32) []float32 {
			return scriptLogits(codec.Len(), map[token.ID]float64{0: 0.7, 1: 0.3})
		},
	}

	// Width exceeds the vocabulary, so the first step cannot fill the beam.
	results, err := Decode(context.Background(), &fakeEncoder{}, decoder, nil, 1, 1, 4, 4, codec,
		Config{Width: codec.Len() + 2, MaxSteps: 1})
	require.NoError(t, err)
	require.Len(t, results[0], codec.Len())
	for _, r := range results[0] {
		assert.Positive(t, r.Probability)
	}
}

func TestStopOnEndFreezesFinishedHypotheses(t *testing.T) {
	codec := mathCodec(t)
	endID := codec.EndID()
	decoder := &fakeDecoder{
		vocab: codec.Len(),
		logits: func(prev int32) []float32 {
			if token.ID(prev) == codec.StartID() {
				// The best continuation terminates immediately.
				return scriptLogits(codec.Len(), map[token.ID]float64{endID: 0.8, 0: 0.2})
			}
			return scriptLogits(codec.Len(), map[token.ID]float64{0: 0.6, 1: 0.4})
		},
	}

	results, err := Decode(context.Background(), &fakeEncoder{}, decoder, nil, 1, 1, 4, 4, codec,
		Config{Width: 2, MaxSteps: 4, StopOnEnd: true})
	require.NoError(t, err)
	require.NotEmpty(t, results[0])

	best := results[0][0]
	assert.True(t, best.Finished)
	// Frozen at [start, end] despite the remaining step budget.
	assert.Equal(t, []token.ID{codec.StartID(), endID}, best.Views.Full)
	assert.InDelta(t, 0.8, best.Probability, 1e-6)

	// The unfinished branch kept expanding.
	unfinished := results[0][1]
	assert.False(t, unfinished.Finished)
	assert.Len(t, unfinished.Views.Full, 5)
}

func TestStopOnEndWithEndTokenAtIndexZero(t *testing.T) {
	// The end token sits at vocabulary index 0 here, so the codec default
	// must still apply without an explicit override.
	codec, err := token.NewCodec([]string{token.End, "1", "+"})
	require.NoError(t, err)
	endID := codec.EndID()
	require.Equal(t, token.ID(0), endID)

	decoder := &fakeDecoder{
		vocab: codec.Len(),
		logits: func(prev int32) []float32 {
			if token.ID(prev) == codec.StartID() {
				return scriptLogits(codec.Len(), map[token.ID]float64{endID: 0.8, 1: 0.2})
			}
			return scriptLogits(codec.Len(), map[token.ID]float64{1: 1})
		},
	}

	results, err := Decode(context.Background(), &fakeEncoder{}, decoder, nil, 1, 1, 4, 4, codec,
		Config{Width: 2, MaxSteps: 4, StopOnEnd: true})
	require.NoError(t, err)
	require.NotEmpty(t, results[0])

	best := results[0][0]
	assert.True(t, best.Finished)
	assert.Equal(t, []token.ID{codec.StartID(), endID}, best.Views.Full)
}

func TestDecodeWithoutStopOnEndIgnoresEndToken(t *testing.T) {
	codec := mathCodec(t)
	endID := codec.EndID()
	decoder := &fakeDecoder{
		vocab: codec.Len(),
		logits: func(prev int32) []float32 {
			return scriptLogits(codec.Len(), map[token.ID]float64{endID: 0.9, 0: 0.1})
		},
	}

	results, err := Decode(context.Background(), &fakeEncoder{}, decoder, nil, 1, 1, 4, 4, codec,
		Config{Width: 2, MaxSteps: 3})
	require.NoError(t, err)
	for _, r := range results[0] {
		assert.False(t, r.Finished)
		assert.Len(t, r.Views.Full, 4)
	}
}

func TestDecodeEncodesOnce(t *testing.T) {
	codec := mathCodec(t)
	encoder := &fakeEncoder{}
	decoder := &fakeDecoder{
		vocab: codec.Len(),
		logits: func(prev int32) []float32 {
			return scriptLogits(codec.Len(), map[token.ID]float64{0: 1.0})
		},
	}

	_, err := Decode(context.Background(), encoder, decoder, nil, 2, 1, 4, 4, codec,
		Config{Width: 2, MaxSteps: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, encoder.calls)
}

func TestDecodeHonorsCancellation(t *testing.T) {
	codec := mathCodec(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Decode(ctx, &fakeEncoder{}, &fakeDecoder{
		vocab: codec.Len(),
		logits: func(prev int32) []float32 {
			return scriptLogits(codec.Len(), map[token.ID]float64{0: 1.0})
		},
	}, nil, 1, 1, 4, 4, codec, Config{Width: 2, MaxSteps: 3})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDecodeRejectsNonPositiveBatch(t *testing.T) {
	codec := mathCodec(t)
	_, err := Decode(context.Background(), &fakeEncoder{}, &fakeDecoder{vocab: codec.Len()},
		nil, 0, 1, 4, 4, codec, Config{})
	assert.Error(t, err)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := softmax([]float32{2.5, 0.1, -3.0, 1.2})
	var sum float64
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, probs[0], probs[3])
	assert.Greater(t, probs[3], probs[1])
	assert.Greater(t, probs[1], probs[2])
}

func TestTopK(t *testing.T) {
	got := topK([]float64{0.1, 0.5, 0.2, 0.15, 0.05}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].index)
	assert.Equal(t, 2, got[1].index)
	assert.Equal(t, 3, got[2].index)

	all := topK([]float64{0.6, 0.4}, 5)
	assert.Len(t, all, 2)
}
