// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sessionkey

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowbridge/internal/errors"
)

// countingReader emits a deterministic but never-repeating byte stream.
type countingReader struct{ n byte }

func (r *countingReader) Read(p []byte) (int, error) {
	for i := range p {
		r.n++
		p[i] = r.n
	}
	return len(p), nil
}

func TestGenerateDistinct(t *testing.T) {
	g := New(&countingReader{})

	seen := make(map[[Size]byte]bool)
	for i := 0; i < 8; i++ {
		k, err := g.Generate()
		require.NoError(t, err)
		assert.False(t, seen[k], "duplicate key at iteration %d", i)
		seen[k] = true
	}
}

func TestGenerateDefaultSource(t *testing.T) {
	g := New(nil)
	a, err := g.Generate()
	require.NoError(t, err)
	b, err := g.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, [Size]byte{}, a)
}

func TestGenerateShortRead(t *testing.T) {
	g := New(bytes.NewReader(make([]byte, Size-1)))

	k, err := g.Generate()
	require.Error(t, err)
	assert.Equal(t, errors.KindEntropy, errors.GetKind(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrRandomSource)
	assert.Equal(t, [Size]byte{}, k, "partial key must not leak")
}
