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

package dataset

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/scrawl/lib/imaging"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"2013", "2014", "2016", "train"}, Names())
}

func TestNamed(t *testing.T) {
	s, err := Named("/data", "2016")
	require.NoError(t, err)
	assert.Equal(t, "2016", s.Name)
	assert.Equal(t, filepath.Join("/data", "groundtruth_2016.tsv"), s.GroundTruth)
	assert.Equal(t, filepath.Join("/data", "2016"), s.ImageDir)

	_, err = Named("/data", "2015")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dataset")
}

func TestImagePath(t *testing.T) {
	s := Set{ImageDir: "/data/2016"}
	assert.Equal(t, filepath.Join("/data/2016", "expr_001.png"), s.ImagePath("expr_001"))
	assert.Equal(t, filepath.Join("/data/2016", "expr_001.jpg"), s.ImagePath("expr_001.jpg"))
}

func TestLoadGroundTruth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gt.tsv")
	contents := "expr_001\t1 + 2\n\nexpr_002\t\\frac { x } { 2 }\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	samples, err := LoadGroundTruth(path)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "expr_001", samples[0].Name)
	assert.Equal(t, []string{"1", "+", "2"}, samples[0].Tokens)
	assert.Equal(t, []string{`\frac`, "{", "x", "}", "{", "2", "}"}, samples[1].Tokens)
}

func TestLoadGroundTruthMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gt.tsv")
	require.NoError(t, os.WriteFile(path, []byte("no tab separator here\n"), 0o644))
	_, err := LoadGroundTruth(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestBatches(t *testing.T) {
	samples := []Sample{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}
	batches := Batches(samples, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)

	assert.Len(t, Batches(samples, 0), 5)
	assert.Empty(t, Batches(nil, 4))
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	for _, name := range []string{"a.png", "b.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
	}

	set := Set{ImageDir: dir}
	samples := []Sample{{Name: "a"}, {Name: "b"}}
	tensors, err := LoadImages(context.Background(), set, samples, imaging.NewProcessor(nil), 4)
	require.NoError(t, err)
	require.Len(t, tensors, 2)
	assert.Len(t, tensors[0], 128*128)
	assert.Len(t, tensors[1], 128*128)
}

func TestLoadImagesMissingFile(t *testing.T) {
	set := Set{ImageDir: t.TempDir()}
	_, err := LoadImages(context.Background(), set, []Sample{{Name: "absent"}}, imaging.NewProcessor(nil), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent")
}
