package filetransfer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReassemblyRejectsInvalidChunks(t *testing.T) {
	tests := []struct {
		name  string
		chunk Chunk
	}{
		{"zero total", Chunk{Index: 0, Total: 0}},
		{"negative index", Chunk{Index: -1, Total: 2}},
		{"index past data", Chunk{Index: 2, Total: 2}},
		{"index past parity", Chunk{Index: 4, Total: 2, Parity: 2}},
		{"negative parity", Chunk{Index: 0, Total: 2, Parity: -1}},
		{"too many chunks", Chunk{Index: 0, Total: MaxChunks + 1}},
		{"parity without chunk size", Chunk{Index: 0, Total: 2, Parity: 1, Data: "aaaa"}},
		{"negative chunk size", Chunk{Index: 0, Total: 2, ChunkSize: -4, Data: "aaaa"}},
		{"negative encoded size", Chunk{Index: 0, Total: 2, ChunkSize: 4, EncodedSize: -1, Data: "aaaa"}},
		{"chunk size past datagram", Chunk{Index: 0, Total: 2, Parity: 1, ChunkSize: 1 << 36, Data: "aaaa"}},
		{"data longer than chunk size", Chunk{Index: 0, Total: 2, ChunkSize: 4, Data: "aaaaaaaa"}},
		{"encoded size past chunks", Chunk{Index: 0, Total: 2, Parity: 1, ChunkSize: 4, EncodedSize: 9, Data: "aaaa"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newReassembly().add(tt.chunk)
			assert.ErrorIs(t, err, ErrInvalidChunk)
		})
	}
}

func TestReassemblyTotalMismatch(t *testing.T) {
	r := newReassembly()
	added, err := r.add(Chunk{Index: 0, Total: 3, Data: "aaaa"})
	require.NoError(t, err)
	assert.True(t, added)

	_, err = r.add(Chunk{Index: 1, Total: 4, Data: "bbbb"})
	assert.ErrorIs(t, err, ErrInvalidChunk)

	added, err = r.add(Chunk{Index: 0, Total: 3, Data: "cccc"})
	require.NoError(t, err)
	assert.False(t, added, "duplicate index")
	assert.Equal(t, []int{0}, r.received())
}

func TestReassemblyGeometryMismatch(t *testing.T) {
	r := newReassembly()
	_, err := r.add(Chunk{Index: 0, Total: 2, Parity: 1, ChunkSize: 4, EncodedSize: 8, Data: "aaaa"})
	require.NoError(t, err)

	_, err = r.add(Chunk{Index: 2, Total: 2, Parity: 1, ChunkSize: 8, EncodedSize: 8, Data: "YWFhYWFhYWE="})
	assert.ErrorIs(t, err, ErrInvalidChunk, "chunk size changed")

	_, err = r.add(Chunk{Index: 2, Total: 2, Parity: 1, ChunkSize: 4, EncodedSize: 6, Data: "YWFhYQ=="})
	assert.ErrorIs(t, err, ErrInvalidChunk, "encoded size changed")

	assert.Equal(t, []int{0}, r.received())
	assert.False(t, r.ready())
}

func TestAssembleIncomplete(t *testing.T) {
	r := newReassembly()
	_, err := r.add(Chunk{Index: 1, Total: 2, Data: "aGk="})
	require.NoError(t, err)
	assert.False(t, r.ready())

	_, _, err = r.assemble()
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestSplitParityBounds(t *testing.T) {
	content := bytes.Repeat([]byte{0xAB}, 3000)

	chunks, err := Split("f", content, 16, 10)
	require.NoError(t, err)
	// 4000 encoded characters make 250 data chunks; 250+10 exceeds the shard limit
	for _, c := range chunks {
		assert.False(t, c.IsParity())
		assert.Zero(t, c.Parity)
	}
	assert.Len(t, chunks, 250)

	_, err = Split("f", content, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidChunk)
}

func TestParityRecoveryAnySubset(t *testing.T) {
	content := []byte("reed solomon lets the receiver rebuild lost chunks")
	chunks, err := Split("f", content, 8, 2)
	require.NoError(t, err)

	total := chunks[0].Total
	for drop1 := 0; drop1 < total; drop1++ {
		for drop2 := drop1 + 1; drop2 < total+2; drop2++ {
			r := newReassembly()
			for i, c := range chunks {
				if i == drop1 || i == drop2 {
					continue
				}
				_, err := r.add(c)
				require.NoError(t, err)
			}
			require.True(t, r.ready())

			got, _, err := r.assemble()
			require.NoError(t, err, "dropping %d and %d", drop1, drop2)
			assert.Equal(t, content, got)
		}
	}
}
