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

package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessGrayscaleTensor(t *testing.T) {
	p := NewProcessor(nil)
	pixels, err := p.Process(solidImage(64, 32, color.White))
	require.NoError(t, err)
	require.Len(t, pixels, 1*128*128)

	// White is 255, rescaled to 1.0, normalized to (1.0-0.5)/0.5 = 1.0.
	for _, v := range pixels[:16] {
		assert.InDelta(t, 1.0, v, 1e-3)
	}
}

func TestProcessBlackNormalizesNegative(t *testing.T) {
	p := NewProcessor(nil)
	pixels, err := p.Process(solidImage(128, 128, color.Black))
	require.NoError(t, err)
	assert.InDelta(t, -1.0, pixels[0], 1e-3)
}

func TestProcessRGBTensorLayout(t *testing.T) {
	p := NewProcessor(&Config{
		Width: 4, Height: 4, Channels: 3,
		Mean: []float32{0, 0, 0}, Std: []float32{1, 1, 1},
		RescaleFactor: 1.0 / 255.0,
	})
	pixels, err := p.Process(solidImage(4, 4, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)
	require.Len(t, pixels, 3*4*4)

	// Channel-major layout: all red first, then green, then blue.
	assert.InDelta(t, 1.0, pixels[0], 1e-3)
	assert.InDelta(t, 0.0, pixels[16], 1e-3)
	assert.InDelta(t, 0.0, pixels[32], 1e-3)
}

func TestProcessBytes(t *testing.T) {
	p := NewProcessor(nil)
	pixels, err := p.ProcessBytes(encodePNG(t, solidImage(10, 10, color.White)))
	require.NoError(t, err)
	assert.Len(t, pixels, 128*128)

	_, err = p.ProcessBytes([]byte("not an image"))
	assert.Error(t, err)
}

func TestProcessBatch(t *testing.T) {
	p := NewProcessor(nil)
	pixels, err := p.ProcessBatch([]image.Image{
		solidImage(8, 8, color.White),
		solidImage(8, 8, color.Black),
	})
	require.NoError(t, err)
	require.Len(t, pixels, 2*128*128)
	assert.InDelta(t, 1.0, pixels[0], 1e-3)
	assert.InDelta(t, -1.0, pixels[128*128], 1e-3)

	empty, err := p.ProcessBatch(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestProcessRejectsBadChannelCount(t *testing.T) {
	p := NewProcessor(&Config{Width: 4, Height: 4, Channels: 2, Mean: []float32{0, 0}, Std: []float32{1, 1}, RescaleFactor: 1})
	_, err := p.Process(solidImage(4, 4, color.White))
	assert.Error(t, err)
}

func TestResize(t *testing.T) {
	img := Resize(solidImage(100, 50, color.White), 16, 16)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())

	// Same dimensions come back untouched.
	src := solidImage(16, 16, color.White)
	assert.Equal(t, src, Resize(src, 16, 16))
}

func TestResizeEncoded(t *testing.T) {
	data := encodePNG(t, solidImage(40, 20, color.White))
	out, err := ResizeEncoded(data, 256, 256)
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())

	_, err = ResizeEncoded([]byte("junk"), 256, 256)
	assert.Error(t, err)
}
