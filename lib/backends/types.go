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

// Package backends provides the forward-step contract of the recognition
// model (a convolutional encoder and a coverage-attention decoder) together
// with its ONNX Runtime implementation and checkpoint loading.
//
// The decoder contract is stateless: recurrent hidden state and the
// dual-resolution coverage-attention accumulators are plain values owned by
// the caller, passed into Step and returned updated. Nothing is retained
// between steps inside the backend, so one decoder session can serve many
// interleaved hypotheses as long as calls are sequential.
package backends

import "context"

// DeviceType identifies the hardware device for inference.
type DeviceType string

const (
	// DeviceCPU forces CPU-only inference.
	DeviceCPU DeviceType = "cpu"

	// DeviceCUDA uses NVIDIA CUDA GPU.
	DeviceCUDA DeviceType = "cuda"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor returns a zero-filled tensor with the given shape.
func NewTensor(shape ...int64) Tensor {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return Tensor{Shape: shape, Data: make([]float32, n)}
}

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	shape := make([]int64, len(t.Shape))
	copy(shape, t.Shape)
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return Tensor{Shape: shape, Data: data}
}

// Numel returns the number of elements implied by the shape.
func (t Tensor) Numel() int {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return int(n)
}

// AttentionState holds the coverage-attention accumulators for one
// hypothesis at both feature-map resolutions. Shapes are [batch, positions].
type AttentionState struct {
	Low  Tensor
	High Tensor
}

// Clone returns a deep copy.
func (a AttentionState) Clone() AttentionState {
	return AttentionState{Low: a.Low.Clone(), High: a.High.Clone()}
}

// FeatureMaps is the encoder output: fixed feature maps at two resolutions,
// [batch, channels, height, width]. They are computed once per input and
// reused unmodified for every decoding step.
type FeatureMaps struct {
	Low  Tensor
	High Tensor
}

// StepOutput is the result of one decoder forward step.
type StepOutput struct {
	// Logits are the unnormalized next-token scores, [batch][vocab].
	Logits [][]float32
	// Hidden is the updated recurrent state, [1, batch, hidden].
	Hidden Tensor
	// Attention holds the updated coverage accumulators.
	Attention AttentionState
}

// Encoder runs the convolutional feature extractor once per input image.
type Encoder interface {
	// Encode consumes a preprocessed NCHW pixel tensor and returns the
	// dual-resolution feature maps.
	Encode(ctx context.Context, pixels []float32, batch, channels, height, width int) (*FeatureMaps, error)
	Close() error
}

// Decoder advances the autoregressive token decoder by one step.
type Decoder interface {
	// VocabSize returns the size of the output distribution.
	VocabSize() int
	// InitHidden returns the zero-initialized recurrent state
	// [1, batch, hidden] for a fresh decode.
	InitHidden(batch int) Tensor
	// ZeroAttention returns zeroed coverage accumulators for a fresh
	// decode. Coverage only applies to the current input, so every decode
	// call must start from this state.
	ZeroAttention(batch int) AttentionState
	// Step runs one forward call: prev holds the last token per batch
	// element, hidden and attention are the caller-owned state values.
	// The inputs are not modified; updated state comes back in the output.
	Step(ctx context.Context, prev []int32, hidden Tensor, attention AttentionState, features *FeatureMaps) (*StepOutput, error)
	Close() error
}

// StackHidden stacks per-hypothesis hidden states [1, 1, hidden] into a
// batched [1, n, hidden] tensor. The hidden state keeps the batch in its
// second dimension.
func StackHidden(parts []Tensor) Tensor {
	if len(parts) == 0 {
		return Tensor{}
	}
	h := parts[0].Shape[2]
	out := NewTensor(1, int64(len(parts)), h)
	for i, p := range parts {
		copy(out.Data[int64(i)*h:(int64(i)+1)*h], p.Data)
	}
	return out
}

// SliceHidden extracts batch element i of a [1, batch, hidden] tensor as a
// fresh [1, 1, hidden] tensor.
func SliceHidden(t Tensor, i int) Tensor {
	h := t.Shape[2]
	out := NewTensor(1, 1, h)
	copy(out.Data, t.Data[int64(i)*h:(int64(i)+1)*h])
	return out
}

// StackBatch concatenates tensors along the first dimension. Every part
// must have a leading dimension of 1 and identical trailing dimensions.
// Used for the attention accumulators [1, n] and feature maps [1, c, h, w].
func StackBatch(parts []Tensor) Tensor {
	if len(parts) == 0 {
		return Tensor{}
	}
	inner := parts[0].Numel()
	shape := make([]int64, len(parts[0].Shape))
	copy(shape, parts[0].Shape)
	shape[0] = int64(len(parts))
	out := Tensor{Shape: shape, Data: make([]float32, inner*len(parts))}
	for i, p := range parts {
		copy(out.Data[i*inner:(i+1)*inner], p.Data)
	}
	return out
}

// SliceBatch extracts element i along the first dimension as a fresh tensor
// with a leading dimension of 1.
func SliceBatch(t Tensor, i int) Tensor {
	inner := t.Numel() / int(t.Shape[0])
	shape := make([]int64, len(t.Shape))
	copy(shape, t.Shape)
	shape[0] = 1
	out := Tensor{Shape: shape, Data: make([]float32, inner)}
	copy(out.Data, t.Data[i*inner:(i+1)*inner])
	return out
}
