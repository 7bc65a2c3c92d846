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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorClone(t *testing.T) {
	orig := Tensor{Shape: []int64{2, 2}, Data: []float32{1, 2, 3, 4}}
	clone := orig.Clone()
	clone.Data[0] = 99
	clone.Shape[0] = 99

	assert.Equal(t, float32(1), orig.Data[0])
	assert.Equal(t, int64(2), orig.Shape[0])
	assert.Equal(t, 4, orig.Numel())
}

func TestStackAndSliceHidden(t *testing.T) {
	a := Tensor{Shape: []int64{1, 1, 3}, Data: []float32{1, 2, 3}}
	b := Tensor{Shape: []int64{1, 1, 3}, Data: []float32{4, 5, 6}}

	stacked := StackHidden([]Tensor{a, b})
	require.Equal(t, []int64{1, 2, 3}, stacked.Shape)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, stacked.Data)

	back := SliceHidden(stacked, 1)
	assert.Equal(t, []int64{1, 1, 3}, back.Shape)
	assert.Equal(t, []float32{4, 5, 6}, back.Data)
}

func TestStackAndSliceBatch(t *testing.T) {
	a := Tensor{Shape: []int64{1, 2, 2}, Data: []float32{1, 2, 3, 4}}
	b := Tensor{Shape: []int64{1, 2, 2}, Data: []float32{5, 6, 7, 8}}

	stacked := StackBatch([]Tensor{a, b})
	require.Equal(t, []int64{2, 2, 2}, stacked.Shape)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, stacked.Data)

	back := SliceBatch(stacked, 0)
	assert.Equal(t, []int64{1, 2, 2}, back.Shape)
	assert.Equal(t, []float32{1, 2, 3, 4}, back.Data)

	// Slices are fresh copies, not views.
	back.Data[0] = 99
	assert.Equal(t, float32(1), stacked.Data[0])

	assert.Nil(t, StackBatch(nil).Data)
}

func TestAttentionStateClone(t *testing.T) {
	orig := AttentionState{
		Low:  Tensor{Shape: []int64{1, 2}, Data: []float32{1, 2}},
		High: Tensor{Shape: []int64{1, 3}, Data: []float32{3, 4, 5}},
	}
	clone := orig.Clone()
	clone.Low.Data[0] = 99
	assert.Equal(t, float32(1), orig.Low.Data[0])
}
