// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sessionkey produces per-flow session keys from a cryptographically
// secure random source.
package sessionkey

import (
	"crypto/rand"
	"io"

	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/flow"
)

// Size is the length of a generated key.
const Size = flow.SessionKeySize

// ErrRandomSource is returned when the random source fails or runs short.
var ErrRandomSource = errors.New(errors.KindEntropy, "random source failed")

// Generator fills keys from a random source. It holds no other state, so
// keys are independent of flow identity, time and any global key.
type Generator struct {
	src io.Reader
}

// New returns a Generator reading from src, or from crypto/rand when src is
// nil.
func New(src io.Reader) *Generator {
	if src == nil {
		src = rand.Reader
	}
	return &Generator{src: src}
}

// Generate returns a fresh key. On failure the returned key is zero and must
// not be used.
func (g *Generator) Generate() ([Size]byte, error) {
	var key [Size]byte
	if _, err := io.ReadFull(g.src, key[:]); err != nil {
		clear(key[:])
		return key, errors.Wrap(err, errors.KindEntropy, "random source failed")
	}
	return key, nil
}
