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

// Package eval scores predicted token sequences against ground truth and
// renders the results as markdown report tables. Error rates are computed
// per sequence view so formatting tokens can be excluded from scoring.
package eval

import (
	"errors"

	"github.com/antflydb/scrawl/lib/token"
)

// ErrNoExpectedTokens is returned when an error rate is requested over an
// empty ground truth. The zero denominator is surfaced, never coerced to 0.
var ErrNoExpectedTokens = errors.New("no expected tokens to score against")

// Levenshtein returns the token-level edit distance between two sequences.
func Levenshtein(a, b []token.ID) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// Statistics accumulates scoring over one sequence view.
type Statistics struct {
	Distance       int
	ExpectedTokens int
	Expressions    int
	Correct        int
}

// Add scores one predicted/expected pair into the running totals.
func (s *Statistics) Add(predicted, expected []token.ID) {
	s.Distance += Levenshtein(predicted, expected)
	s.ExpectedTokens += len(expected)
	s.Expressions++
	if token.Equal(predicted, expected) {
		s.Correct++
	}
}

// ErrorRate is the summed edit distance divided by the total expected token
// count. A rate of 0 means every prediction matched exactly.
func (s Statistics) ErrorRate() (float64, error) {
	if s.ExpectedTokens == 0 {
		return 0, ErrNoExpectedTokens
	}
	return float64(s.Distance) / float64(s.ExpectedTokens), nil
}

// CorrectPercent is the share of exactly matched expressions, 0 to 100.
func (s Statistics) CorrectPercent() float64 {
	if s.Expressions == 0 {
		return 0
	}
	return 100 * float64(s.Correct) / float64(s.Expressions)
}

// ViewStats tracks statistics across the three sequence views.
type ViewStats struct {
	Full    Statistics
	Removed Statistics
	Symbols Statistics
}

// Add scores a predicted/expected view pair into each view's totals.
func (v *ViewStats) Add(predicted, expected token.Views) {
	v.Full.Add(predicted.Full, expected.Full)
	v.Removed.Add(predicted.Removed, expected.Removed)
	v.Symbols.Add(predicted.Symbols, expected.Symbols)
}

// CheckpointResult holds one checkpoint's aggregated statistics, rendered
// as one row per report table.
type CheckpointResult struct {
	Name  string
	Stats ViewStats
}
