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

package eval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/scrawl/lib/token"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		name string
		a, b []token.ID
		want int
	}{
		{"both empty", nil, nil, 0},
		{"empty vs filled", nil, []token.ID{1, 2, 3}, 3},
		{"filled vs empty", []token.ID{1, 2}, nil, 2},
		{"identical", []token.ID{1, 2, 3}, []token.ID{1, 2, 3}, 0},
		{"single substitution", []token.ID{1, 2, 3}, []token.ID{1, 9, 3}, 1},
		{"insertion", []token.ID{1, 3}, []token.ID{1, 2, 3}, 1},
		{"deletion", []token.ID{1, 2, 3}, []token.ID{1, 3}, 1},
		{"disjoint", []token.ID{1, 2}, []token.ID{3, 4, 5}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Levenshtein(tt.a, tt.b))
			assert.Equal(t, tt.want, Levenshtein(tt.b, tt.a))
		})
	}
}

func TestStatisticsErrorRate(t *testing.T) {
	var s Statistics
	s.Add([]token.ID{1, 2, 3}, []token.ID{1, 2, 3})
	s.Add([]token.ID{1, 9}, []token.ID{1, 2})

	rate, err := s.ErrorRate()
	require.NoError(t, err)
	assert.InDelta(t, 1.0/5.0, rate, 1e-9)
	assert.Equal(t, 2, s.Expressions)
	assert.Equal(t, 1, s.Correct)
	assert.InDelta(t, 50.0, s.CorrectPercent(), 1e-9)
}

func TestErrorRateZeroWhenAllMatch(t *testing.T) {
	var s Statistics
	s.Add([]token.ID{4, 5}, []token.ID{4, 5})
	rate, err := s.ErrorRate()
	require.NoError(t, err)
	assert.Zero(t, rate)
}

func TestErrorRateZeroDenominator(t *testing.T) {
	var s Statistics
	_, err := s.ErrorRate()
	require.ErrorIs(t, err, ErrNoExpectedTokens)

	// An empty expected sequence alone still has no denominator.
	s.Add([]token.ID{1}, nil)
	_, err = s.ErrorRate()
	require.ErrorIs(t, err, ErrNoExpectedTokens)
}

func TestCorrectPercentEmpty(t *testing.T) {
	var s Statistics
	assert.Zero(t, s.CorrectPercent())
}

func TestViewStatsAdd(t *testing.T) {
	var v ViewStats
	v.Add(
		token.Views{Full: []token.ID{9, 1, 2, 10}, Removed: []token.ID{1, 2}, Symbols: []token.ID{1}},
		token.Views{Full: []token.ID{9, 1, 3, 10}, Removed: []token.ID{1, 3}, Symbols: []token.ID{1}},
	)
	assert.Equal(t, 1, v.Full.Distance)
	assert.Equal(t, 1, v.Removed.Distance)
	assert.Equal(t, 0, v.Symbols.Distance)
	assert.Equal(t, 1, v.Symbols.Correct)
}

func TestErrorRateTable(t *testing.T) {
	exact := func(n int) Statistics {
		return Statistics{Distance: 0, ExpectedTokens: n, Expressions: 1, Correct: 1}
	}
	results := []CheckpointResult{
		{
			Name:  "epoch_3",
			Stats: ViewStats{Full: Statistics{Distance: 5, ExpectedTokens: 20, Expressions: 2}, Removed: exact(10), Symbols: exact(8)},
		},
		{
			Name:  "a_much_longer_checkpoint_name",
			Stats: ViewStats{Full: exact(4), Removed: exact(4), Symbols: exact(4)},
		},
	}

	table, err := ErrorRateTable(results)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "checkpoint")
	assert.Contains(t, lines[2], "25.00%")
	assert.Contains(t, lines[3], "0.00%")
	assert.Contains(t, lines[3], "a_much_longer_checkpoint_name")

	// The name column is padded to the longest value, wider than its
	// header; every line stays the same width.
	for _, line := range lines[1:] {
		assert.Len(t, line, len(lines[0]))
	}
}

func TestErrorRateTablePropagatesZeroDenominator(t *testing.T) {
	_, err := ErrorRateTable([]CheckpointResult{{Name: "empty"}})
	require.ErrorIs(t, err, ErrNoExpectedTokens)
	assert.Contains(t, err.Error(), "empty")
}

func TestCorrectExpressionsTable(t *testing.T) {
	results := []CheckpointResult{{
		Name: "epoch_7",
		Stats: ViewStats{
			Full:    Statistics{ExpectedTokens: 30, Expressions: 4, Correct: 1},
			Removed: Statistics{ExpectedTokens: 20, Expressions: 4, Correct: 2},
			Symbols: Statistics{ExpectedTokens: 10, Expressions: 4, Correct: 4},
		},
	}}

	table := CorrectExpressionsTable(results)
	assert.Contains(t, table, "1/4 (25.00%)")
	assert.Contains(t, table, "2/4 (50.00%)")
	assert.Contains(t, table, "4/4 (100.00%)")
}

func TestTablesEmptyResultSet(t *testing.T) {
	table, err := ErrorRateTable(nil)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "| checkpoint |")
	assert.True(t, strings.HasPrefix(lines[1], "|--"))

	assert.Equal(t, table, CorrectExpressionsTable(nil))
}
