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

// Package imaging turns uploaded expression images into the normalized
// NCHW float tensors the encoder consumes.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	"image/png"
	"io"

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Config describes the tensor the model expects.
type Config struct {
	Width         int
	Height        int
	Channels      int
	Mean          []float32
	Std           []float32
	RescaleFactor float32
}

// DefaultConfig matches the recognition model: single-channel 128x128
// input scaled to [0,1] and centered around 0.5.
func DefaultConfig() *Config {
	return &Config{
		Width:         128,
		Height:        128,
		Channels:      1,
		Mean:          []float32{0.5},
		Std:           []float32{0.5},
		RescaleFactor: 1.0 / 255.0,
	}
}

// Processor preprocesses expression images for the encoder.
type Processor struct {
	Config *Config
}

// NewProcessor creates a Processor with the given configuration.
func NewProcessor(config *Config) *Processor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Processor{Config: config}
}

// ProcessBytes preprocesses an image from bytes.
// Returns pixel values in NCHW format [channels, height, width] as a flat slice.
func (p *Processor) ProcessBytes(data []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return p.Process(img)
}

// ProcessReader preprocesses an image from a reader.
// Returns pixel values in NCHW format [channels, height, width] as a flat slice.
func (p *Processor) ProcessReader(r io.Reader) ([]float32, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return p.Process(img)
}

// Process resizes an image to the configured dimensions and converts it to
// a normalized float tensor in NCHW format.
func (p *Processor) Process(img image.Image) ([]float32, error) {
	img = Resize(img, p.Config.Width, p.Config.Height)
	return p.toTensor(img)
}

// ProcessBatch preprocesses multiple images.
// Returns pixel values in NCHW format [batch, channels, height, width] as a flat slice.
func (p *Processor) ProcessBatch(images []image.Image) ([]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}

	c, h, w := p.Config.Channels, p.Config.Height, p.Config.Width
	result := make([]float32, len(images)*c*h*w)

	for i, img := range images {
		pixels, err := p.Process(img)
		if err != nil {
			return nil, fmt.Errorf("processing image %d: %w", i, err)
		}
		copy(result[i*c*h*w:], pixels)
	}

	return result, nil
}

// toTensor converts an image to a normalized float tensor in NCHW format.
// One channel uses luminance, three channels RGB.
func (p *Processor) toTensor(img image.Image) ([]float32, error) {
	channels := p.Config.Channels
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if len(p.Config.Mean) < channels || len(p.Config.Std) < channels {
		return nil, fmt.Errorf("mean/std must cover %d channels", channels)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	pixels := make([]float32, channels*height*width)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := img.At(bounds.Min.X+x, bounds.Min.Y+y)
			r, g, b, _ := c.RGBA()

			if channels == 1 {
				gray := color.GrayModel.Convert(c).(color.Gray)
				v := float32(gray.Y) * p.Config.RescaleFactor
				pixels[y*width+x] = (v - p.Config.Mean[0]) / p.Config.Std[0]
				continue
			}

			rf := float32(r>>8) * p.Config.RescaleFactor
			gf := float32(g>>8) * p.Config.RescaleFactor
			bf := float32(b>>8) * p.Config.RescaleFactor
			pixels[0*height*width+y*width+x] = (rf - p.Config.Mean[0]) / p.Config.Std[0]
			pixels[1*height*width+y*width+x] = (gf - p.Config.Mean[1]) / p.Config.Std[1]
			pixels[2*height*width+y*width+x] = (bf - p.Config.Mean[2]) / p.Config.Std[2]
		}
	}

	return pixels, nil
}

// Resize performs bilinear interpolation to resize an image.
func Resize(img image.Image, targetWidth, targetHeight int) image.Image {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	if srcWidth == targetWidth && srcHeight == targetHeight {
		return img
	}

	resized := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))

	xRatio := float64(srcWidth) / float64(targetWidth)
	yRatio := float64(srcHeight) / float64(targetHeight)

	for y := 0; y < targetHeight; y++ {
		for x := 0; x < targetWidth; x++ {
			srcX := float64(x) * xRatio
			srcY := float64(y) * yRatio
			resized.Set(x, y, bilinearInterpolate(img, srcX, srcY, bounds))
		}
	}

	return resized
}

// bilinearInterpolate samples an image at floating-point coordinates.
func bilinearInterpolate(img image.Image, x, y float64, bounds image.Rectangle) color.Color {
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1

	if x0 < bounds.Min.X {
		x0 = bounds.Min.X
	}
	if y0 < bounds.Min.Y {
		y0 = bounds.Min.Y
	}
	if x1 >= bounds.Max.X {
		x1 = bounds.Max.X - 1
	}
	if y1 >= bounds.Max.Y {
		y1 = bounds.Max.Y - 1
	}

	c00 := img.At(x0, y0)
	c01 := img.At(x0, y1)
	c10 := img.At(x1, y0)
	c11 := img.At(x1, y1)

	xWeight := x - float64(x0)
	yWeight := y - float64(y0)

	r00, g00, b00, a00 := c00.RGBA()
	r01, g01, b01, a01 := c01.RGBA()
	r10, g10, b10, a10 := c10.RGBA()
	r11, g11, b11, a11 := c11.RGBA()

	r := interpolate(r00, r01, r10, r11, xWeight, yWeight)
	g := interpolate(g00, g01, g10, g11, xWeight, yWeight)
	b := interpolate(b00, b01, b10, b11, xWeight, yWeight)
	a := interpolate(a00, a01, a10, a11, xWeight, yWeight)

	return color.RGBA64{
		R: uint16(r),
		G: uint16(g),
		B: uint16(b),
		A: uint16(a),
	}
}

// interpolate performs bilinear interpolation on a single value.
func interpolate(v00, v01, v10, v11 uint32, xWeight, yWeight float64) float64 {
	top := float64(v00)*(1-xWeight) + float64(v10)*xWeight
	bottom := float64(v01)*(1-xWeight) + float64(v11)*xWeight
	return top*(1-yWeight) + bottom*yWeight
}

// ResizeEncoded decodes image bytes, resizes to the target dimensions and
// re-encodes. JPEG input stays JPEG, every other format becomes PNG.
func ResizeEncoded(data []byte, targetWidth, targetHeight int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	resized := Resize(img, targetWidth, targetHeight)

	var buf bytes.Buffer
	if format == "jpeg" {
		err = jpeg.Encode(&buf, resized, nil)
	} else {
		err = png.Encode(&buf, resized)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding resized image: %w", err)
	}
	return buf.Bytes(), nil
}
