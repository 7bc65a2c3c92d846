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

// Package token maps between LaTeX-like token strings and the integer IDs
// the model decodes over. A Codec is built once from the vocabulary file at
// process start and shared by reference; it is immutable after construction
// and safe for concurrent use.
package token

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Structural tokens bracket every decoded sequence.
const (
	Start = "<SOS>"
	Pad   = "<PAD>"
	End   = "<EOS>"
)

// StructuralTokens are the sequence-control tokens. They carry no content
// and every occurrence is removed from a decode before scoring.
var StructuralTokens = []string{Start, Pad, End}

// NonRenderingTokens are LaTeX formatting tokens that do not render a
// visible symbol. The symbols-only view removes every occurrence.
var NonRenderingTokens = []string{
	"{", "}", `\left`, `\right`, "_", "^", `\Big`, `\Bigg`, `\limits`, `\mbox`,
}

// ID is a vocabulary index.
type ID int32

// UnknownTokenError reports a token absent from the vocabulary.
type UnknownTokenError struct {
	Token string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token %q", e.Token)
}

// StripMode selects how Strip treats matching tokens.
type StripMode int

const (
	// StripEnds removes contiguous runs of matching tokens from both ends
	// of the sequence, leaving interior occurrences alone.
	StripEnds StripMode = iota

	// RemoveAll removes every occurrence.
	RemoveAll
)

// Views holds the three filtered renditions of one decoded sequence.
type Views struct {
	// Full is the raw decode, structural tokens included.
	Full []ID
	// Removed has every structural token removed, interior ones included.
	Removed []ID
	// Symbols further removes every non-rendering formatting token.
	Symbols []ID
}

// Codec is an immutable bidirectional token/ID mapping.
type Codec struct {
	idToToken    []string
	tokenToID    map[string]ID
	structural   []ID
	nonRendering []ID
}

// NewCodec builds a codec from an ordered token list. Structural tokens
// missing from the list are appended so every codec can bracket sequences.
// Duplicate tokens are an error.
func NewCodec(tokens []string) (*Codec, error) {
	c := &Codec{
		idToToken: make([]string, 0, len(tokens)+len(StructuralTokens)),
		tokenToID: make(map[string]ID, len(tokens)+len(StructuralTokens)),
	}
	for _, tok := range tokens {
		if _, dup := c.tokenToID[tok]; dup {
			return nil, fmt.Errorf("duplicate token %q in vocabulary", tok)
		}
		c.tokenToID[tok] = ID(len(c.idToToken))
		c.idToToken = append(c.idToToken, tok)
	}
	for _, tok := range StructuralTokens {
		if _, ok := c.tokenToID[tok]; !ok {
			c.tokenToID[tok] = ID(len(c.idToToken))
			c.idToToken = append(c.idToToken, tok)
		}
		c.structural = append(c.structural, c.tokenToID[tok])
	}
	for _, tok := range NonRenderingTokens {
		if id, ok := c.tokenToID[tok]; ok {
			c.nonRendering = append(c.nonRendering, id)
		}
	}
	return c, nil
}

// LoadVocabulary reads a vocabulary file of tokens separated by tabs or
// newlines and builds a codec from it.
func LoadVocabulary(path string) (*Codec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vocabulary: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		for _, tok := range strings.Split(scanner.Text(), "\t") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocabulary %s is empty", path)
	}
	return NewCodec(tokens)
}

// Len returns the vocabulary size.
func (c *Codec) Len() int {
	return len(c.idToToken)
}

// Encode maps one token string to its ID.
func (c *Codec) Encode(tok string) (ID, error) {
	id, ok := c.tokenToID[tok]
	if !ok {
		return 0, &UnknownTokenError{Token: tok}
	}
	return id, nil
}

// EncodeAll maps a sequence of token strings to IDs.
func (c *Codec) EncodeAll(tokens []string) ([]ID, error) {
	ids := make([]ID, len(tokens))
	for i, tok := range tokens {
		id, err := c.Encode(tok)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Decode maps one ID back to its token string.
func (c *Codec) Decode(id ID) string {
	if id < 0 || int(id) >= len(c.idToToken) {
		return ""
	}
	return c.idToToken[id]
}

// DecodeAll renders a sequence of IDs as a space-joined token string.
func (c *Codec) DecodeAll(ids []ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = c.Decode(id)
	}
	return strings.Join(parts, " ")
}

// StartID returns the ID of the start token.
func (c *Codec) StartID() ID { return c.tokenToID[Start] }

// PadID returns the ID of the padding token.
func (c *Codec) PadID() ID { return c.tokenToID[Pad] }

// EndID returns the ID of the end token.
func (c *Codec) EndID() ID { return c.tokenToID[End] }

// StructuralIDs returns the IDs of the structural tokens.
func (c *Codec) StructuralIDs() []ID {
	out := make([]ID, len(c.structural))
	copy(out, c.structural)
	return out
}

// NonRenderingIDs returns the IDs of the non-rendering formatting tokens
// present in this vocabulary.
func (c *Codec) NonRenderingIDs() []ID {
	out := make([]ID, len(c.nonRendering))
	copy(out, c.nonRendering)
	return out
}

// Strip filters tokens in set out of seq according to mode. The input is
// never mutated; the result is always a fresh slice.
func Strip(seq []ID, set []ID, mode StripMode) []ID {
	member := make(map[ID]struct{}, len(set))
	for _, id := range set {
		member[id] = struct{}{}
	}

	switch mode {
	case RemoveAll:
		out := make([]ID, 0, len(seq))
		for _, id := range seq {
			if _, skip := member[id]; !skip {
				out = append(out, id)
			}
		}
		return out
	default:
		lo, hi := 0, len(seq)
		for lo < hi {
			if _, skip := member[seq[lo]]; !skip {
				break
			}
			lo++
		}
		for hi > lo {
			if _, skip := member[seq[hi-1]]; !skip {
				break
			}
			hi--
		}
		out := make([]ID, hi-lo)
		copy(out, seq[lo:hi])
		return out
	}
}

// SequenceViews builds the three filtered views of a full decoded sequence.
func (c *Codec) SequenceViews(full []ID) Views {
	fullCopy := make([]ID, len(full))
	copy(fullCopy, full)
	removed := Strip(full, c.structural, RemoveAll)
	return Views{
		Full:    fullCopy,
		Removed: removed,
		Symbols: Strip(removed, c.nonRendering, RemoveAll),
	}
}

// Equal reports element-wise equality of two ID sequences.
func Equal(a, b []ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
