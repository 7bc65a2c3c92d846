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
	"fmt"
	"strings"
)

var viewHeaders = []string{"checkpoint", "full", "removed", "symbols"}

// ErrorRateTable renders one row per checkpoint with the error rate of each
// view as a percentage. A zero expected-token denominator in any view fails
// the whole table.
func ErrorRateTable(results []CheckpointResult) (string, error) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		cells := []string{r.Name}
		for _, s := range []Statistics{r.Stats.Full, r.Stats.Removed, r.Stats.Symbols} {
			rate, err := s.ErrorRate()
			if err != nil {
				return "", fmt.Errorf("checkpoint %s: %w", r.Name, err)
			}
			cells = append(cells, fmt.Sprintf("%.2f%%", rate*100))
		}
		rows = append(rows, cells)
	}
	return markdownTable(viewHeaders, rows), nil
}

// CorrectExpressionsTable renders one row per checkpoint with the count and
// percentage of exactly matched expressions per view.
func CorrectExpressionsTable(results []CheckpointResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		cells := []string{r.Name}
		for _, s := range []Statistics{r.Stats.Full, r.Stats.Removed, r.Stats.Symbols} {
			cells = append(cells, fmt.Sprintf("%d/%d (%.2f%%)", s.Correct, s.Expressions, s.CorrectPercent()))
		}
		rows = append(rows, cells)
	}
	return markdownTable(viewHeaders, rows)
}

// markdownTable renders a pipe table. Each column is padded to the widest
// of its header and values. No rows yields just the header and delimiter.
func markdownTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i, cell := range cells {
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	writeRow(headers)
	b.WriteString("|")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteString("|")
	}
	b.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}
