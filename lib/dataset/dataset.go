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

// Package dataset reads the evaluation sets: ground-truth token sequences
// and their expression images.
package dataset

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/antflydb/scrawl/lib/imaging"
)

// Set locates one named evaluation set under a data root.
type Set struct {
	Name        string
	GroundTruth string
	ImageDir    string
}

var sets = map[string]Set{
	"train": {Name: "train", GroundTruth: "groundtruth_train.tsv", ImageDir: "train"},
	"2013":  {Name: "2013", GroundTruth: "groundtruth_2013.tsv", ImageDir: "2013"},
	"2014":  {Name: "2014", GroundTruth: "groundtruth_2014.tsv", ImageDir: "2014"},
	"2016":  {Name: "2016", GroundTruth: "groundtruth_2016.tsv", ImageDir: "2016"},
}

// Names lists the known evaluation sets in sorted order.
func Names() []string {
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Named resolves a set by name with its paths anchored at root.
func Named(root, name string) (Set, error) {
	s, ok := sets[name]
	if !ok {
		return Set{}, fmt.Errorf("unknown dataset %q, expected one of %s", name, strings.Join(Names(), ", "))
	}
	s.GroundTruth = filepath.Join(root, s.GroundTruth)
	s.ImageDir = filepath.Join(root, s.ImageDir)
	return s, nil
}

// ImagePath returns the image file for an expression name. Names without
// an extension resolve to PNG files.
func (s Set) ImagePath(name string) string {
	if filepath.Ext(name) == "" {
		name += ".png"
	}
	return filepath.Join(s.ImageDir, name)
}

// Sample is one ground-truth expression.
type Sample struct {
	Name   string
	Tokens []string
}

// LoadGroundTruth parses a ground-truth TSV of
// name<TAB>space-separated tokens. Blank lines are skipped.
func LoadGroundTruth(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ground truth: %w", err)
	}
	defer f.Close()

	var samples []Sample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		name, rest, found := strings.Cut(text, "\t")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("ground truth %s line %d: expected name<TAB>tokens", path, line)
		}
		samples = append(samples, Sample{
			Name:   strings.TrimSpace(name),
			Tokens: strings.Fields(rest),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ground truth: %w", err)
	}
	return samples, nil
}

// Batches splits samples into consecutive groups of at most size.
func Batches(samples []Sample, size int) [][]Sample {
	if size <= 0 {
		size = 1
	}
	var out [][]Sample
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, samples[start:end])
	}
	return out
}

// LoadImages reads and preprocesses each sample's image, at most workers
// files in flight. The result is indexed like samples.
func LoadImages(ctx context.Context, set Set, samples []Sample, proc *imaging.Processor, workers int) ([][]float32, error) {
	if workers <= 0 {
		workers = 1
	}
	tensors := make([][]float32, len(samples))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sample := range samples {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(set.ImagePath(sample.Name))
			if err != nil {
				return fmt.Errorf("reading image for %s: %w", sample.Name, err)
			}
			pixels, err := proc.ProcessBytes(data)
			if err != nil {
				return fmt.Errorf("preprocessing %s: %w", sample.Name, err)
			}
			tensors[i] = pixels
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tensors, nil
}
