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
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Canonical tensor names of the exported recognition model.
const (
	encoderInputName  = "input"
	encoderLowOutput  = "low_res"
	encoderHighOutput = "high_res"

	decoderInputIDs  = "input_ids"
	decoderHiddenIn  = "hidden"
	decoderAttnLowIn = "attention_low"
	decoderAttnHiIn  = "attention_high"
	decoderFeatLow   = "low_res"
	decoderFeatHigh  = "high_res"

	decoderLogitsOut = "logits"
	decoderHiddenOut = "hidden_out"
	decoderAttnLow   = "attention_low_out"
	decoderAttnHigh  = "attention_high_out"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ensureRuntime initializes the ONNX Runtime environment exactly once.
// The shared library location can be overridden with
// ONNXRUNTIME_SHARED_LIBRARY for non-standard installs.
func ensureRuntime() error {
	ortInitOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// newSessionOptions builds session options for the requested device.
func newSessionOptions(device DeviceType) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	if device == DeviceCUDA {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("creating CUDA provider options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("enabling CUDA execution provider: %w", err)
		}
	}
	return opts, nil
}

// namedTensor pairs a tensor name with float32 or int64 data for a session
// run.
type namedTensor struct {
	Name  string
	Shape []int64
	Data  any
}

// session wraps an ONNX Runtime session behind a name-addressed Run call.
type session struct {
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions
	inputNames  []string
	outputNames []string
}

// newSession opens an ONNX model with its declared input/output names.
func newSession(modelPath string, device DeviceType) (*session, error) {
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("initializing ONNX Runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("getting model info for %s: %w", modelPath, err)
	}
	inputNames := make([]string, len(inputs))
	for i, info := range inputs {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputs))
	for i, info := range outputs {
		outputNames[i] = info.Name
	}

	opts, err := newSessionOptions(device)
	if err != nil {
		return nil, err
	}
	s, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("creating ONNX session for %s: %w", modelPath, err)
	}
	return &session{
		session:     s,
		sessionOpts: opts,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// Run feeds the named inputs in model order and returns the outputs keyed
// by name. Every declared input must be supplied.
func (s *session) Run(inputs []namedTensor) (map[string]Tensor, error) {
	if s.session == nil {
		return nil, fmt.Errorf("session is closed")
	}

	byName := make(map[string]namedTensor, len(inputs))
	for _, in := range inputs {
		byName[in.Name] = in
	}

	ortInputs := make([]ort.Value, len(s.inputNames))
	defer func() {
		for _, t := range ortInputs {
			if t != nil {
				t.Destroy()
			}
		}
	}()
	for i, name := range s.inputNames {
		in, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("model input %q not supplied", name)
		}
		tensor, err := createOrtTensor(in)
		if err != nil {
			return nil, fmt.Errorf("creating input tensor %s: %w", name, err)
		}
		ortInputs[i] = tensor
	}

	ortOutputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, fmt.Errorf("running ONNX session: %w", err)
	}
	defer func() {
		for _, t := range ortOutputs {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	outputs := make(map[string]Tensor, len(ortOutputs))
	for i, out := range ortOutputs {
		if out == nil {
			continue
		}
		floatTensor, ok := out.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output tensor %s is not float32", s.outputNames[i])
		}
		data := floatTensor.GetData()
		dataCopy := make([]float32, len(data))
		copy(dataCopy, data)
		outputs[s.outputNames[i]] = Tensor{Shape: out.GetShape(), Data: dataCopy}
	}
	return outputs, nil
}

func (s *session) Close() error {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.sessionOpts != nil {
		s.sessionOpts.Destroy()
		s.sessionOpts = nil
	}
	return nil
}

// createOrtTensor creates an ORT tensor from a namedTensor.
func createOrtTensor(in namedTensor) (ort.Value, error) {
	shape := ort.NewShape(in.Shape...)
	switch data := in.Data.(type) {
	case []float32:
		return ort.NewTensor(shape, data)
	case []int64:
		return ort.NewTensor(shape, data)
	default:
		return nil, fmt.Errorf("unsupported data type: %T", in.Data)
	}
}

// onnxEncoder implements Encoder over an ONNX session.
type onnxEncoder struct {
	session *session
}

// NewONNXEncoder opens the encoder network on the given device.
func NewONNXEncoder(modelPath string, device DeviceType) (Encoder, error) {
	s, err := newSession(modelPath, device)
	if err != nil {
		return nil, err
	}
	return &onnxEncoder{session: s}, nil
}

func (e *onnxEncoder) Encode(ctx context.Context, pixels []float32, batch, channels, height, width int) (*FeatureMaps, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outputs, err := e.session.Run([]namedTensor{{
		Name:  encoderInputName,
		Shape: []int64{int64(batch), int64(channels), int64(height), int64(width)},
		Data:  pixels,
	}})
	if err != nil {
		return nil, fmt.Errorf("running encoder: %w", err)
	}
	low, ok := outputs[encoderLowOutput]
	if !ok {
		return nil, fmt.Errorf("encoder output %q missing", encoderLowOutput)
	}
	high, ok := outputs[encoderHighOutput]
	if !ok {
		return nil, fmt.Errorf("encoder output %q missing", encoderHighOutput)
	}
	return &FeatureMaps{Low: low, High: high}, nil
}

func (e *onnxEncoder) Close() error {
	return e.session.Close()
}

// onnxDecoder implements Decoder over an ONNX session.
type onnxDecoder struct {
	session *session
	spec    ModelSpec
}

// NewONNXDecoder opens the decoder network on the given device. The spec
// describes the tensor geometry the exported model was built with.
func NewONNXDecoder(modelPath string, spec ModelSpec, device DeviceType) (Decoder, error) {
	s, err := newSession(modelPath, device)
	if err != nil {
		return nil, err
	}
	return &onnxDecoder{session: s, spec: spec}, nil
}

func (d *onnxDecoder) VocabSize() int {
	return d.spec.VocabSize
}

func (d *onnxDecoder) InitHidden(batch int) Tensor {
	return NewTensor(1, int64(batch), int64(d.spec.HiddenSize))
}

func (d *onnxDecoder) ZeroAttention(batch int) AttentionState {
	return AttentionState{
		Low:  NewTensor(int64(batch), int64(d.spec.LowResPositions())),
		High: NewTensor(int64(batch), int64(d.spec.HighResPositions())),
	}
}

func (d *onnxDecoder) Step(ctx context.Context, prev []int32, hidden Tensor, attention AttentionState, features *FeatureMaps) (*StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch := len(prev)
	inputIDs := make([]int64, batch)
	for i, tok := range prev {
		inputIDs[i] = int64(tok)
	}

	outputs, err := d.session.Run([]namedTensor{
		{Name: decoderInputIDs, Shape: []int64{int64(batch), 1}, Data: inputIDs},
		{Name: decoderHiddenIn, Shape: hidden.Shape, Data: hidden.Data},
		{Name: decoderAttnLowIn, Shape: attention.Low.Shape, Data: attention.Low.Data},
		{Name: decoderAttnHiIn, Shape: attention.High.Shape, Data: attention.High.Data},
		{Name: decoderFeatLow, Shape: features.Low.Shape, Data: features.Low.Data},
		{Name: decoderFeatHigh, Shape: features.High.Shape, Data: features.High.Data},
	})
	if err != nil {
		return nil, fmt.Errorf("running decoder step: %w", err)
	}

	logitsTensor, ok := outputs[decoderLogitsOut]
	if !ok {
		return nil, fmt.Errorf("decoder output %q missing", decoderLogitsOut)
	}
	vocab := d.spec.VocabSize
	if len(logitsTensor.Data) != batch*vocab {
		return nil, fmt.Errorf("unexpected logits size %d for batch %d vocab %d",
			len(logitsTensor.Data), batch, vocab)
	}
	logits := make([][]float32, batch)
	for i := 0; i < batch; i++ {
		logits[i] = logitsTensor.Data[i*vocab : (i+1)*vocab]
	}

	nextHidden, ok := outputs[decoderHiddenOut]
	if !ok {
		return nil, fmt.Errorf("decoder output %q missing", decoderHiddenOut)
	}
	attnLow, ok := outputs[decoderAttnLow]
	if !ok {
		return nil, fmt.Errorf("decoder output %q missing", decoderAttnLow)
	}
	attnHigh, ok := outputs[decoderAttnHigh]
	if !ok {
		return nil, fmt.Errorf("decoder output %q missing", decoderAttnHigh)
	}

	return &StepOutput{
		Logits:    logits,
		Hidden:    nextHidden,
		Attention: AttentionState{Low: attnLow, High: attnHigh},
	}, nil
}

func (d *onnxDecoder) Close() error {
	return d.session.Close()
}
