package filetransfer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/klauspost/reedsolomon"

	"github.com/ZentaChain/lsnp-node/pkg/protocol"
)

const (
	// DefaultChunkSize is the number of encoded characters per FILE_CHUNK
	DefaultChunkSize = 1024
	// MaxShards is the Reed-Solomon limit for data plus parity shards
	MaxShards = 256
	// MaxChunks bounds the chunk count a receiver will track for one file
	MaxChunks = 1 << 16
	// MaxChunkSize is the largest CHUNK_SIZE a receiver accepts; a chunk must fit one datagram
	MaxChunkSize = protocol.MaxFrameSize
	// MaxSendChunkSize leaves room for the FILE_CHUNK header fields around DATA
	MaxSendChunkSize = MaxChunkSize - 1024
)

var (
	ErrInvalidChunk = errors.New("invalid chunk")
	ErrIncomplete   = errors.New("not enough chunks to reassemble")
)

// Chunk is one slice of an encoded file as carried by FILE_CHUNK
type Chunk struct {
	FileID      string
	Index       int
	Total       int
	ChunkSize   int
	Parity      int
	EncodedSize int
	Data        string
}

// IsParity reports whether the chunk carries a Reed-Solomon parity shard
func (c Chunk) IsParity() bool {
	return c.Index >= c.Total
}

// Split base64-encodes content and cuts it into chunks of chunkSize characters.
// When parity > 0 and the shard count fits, Reed-Solomon parity chunks follow
// the data chunks; data chunks are unchanged so peers without parity support
// still reassemble from them alone.
func Split(fileID string, content []byte, chunkSize, parity int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", ErrInvalidChunk)
	}

	encoded := base64.StdEncoding.EncodeToString(content)
	total := (len(encoded) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	if parity < 0 || total+parity > MaxShards || len(encoded) == 0 {
		parity = 0
	}

	chunks := make([]Chunk, 0, total+parity)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(encoded))
		chunks = append(chunks, Chunk{
			FileID:    fileID,
			Index:     i,
			Total:     total,
			ChunkSize: chunkSize,
			Data:      encoded[start:end],
		})
	}

	if parity == 0 {
		return chunks, nil
	}

	enc, err := reedsolomon.New(total, parity)
	if err != nil {
		return nil, fmt.Errorf("failed to create Reed-Solomon encoder: %w", err)
	}

	shards := make([][]byte, total+parity)
	for i := range shards {
		shards[i] = make([]byte, chunkSize)
		if i < total {
			copy(shards[i], chunks[i].Data)
		}
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("failed to encode parity: %w", err)
	}

	for i := range chunks {
		chunks[i].Parity = parity
		chunks[i].EncodedSize = len(encoded)
	}
	for i := total; i < total+parity; i++ {
		chunks = append(chunks, Chunk{
			FileID:      fileID,
			Index:       i,
			Total:       total,
			ChunkSize:   chunkSize,
			Parity:      parity,
			EncodedSize: len(encoded),
			Data:        base64.StdEncoding.EncodeToString(shards[i]),
		})
	}
	return chunks, nil
}

// reassembly collects chunks of one file, keyed by index
type reassembly struct {
	total       int
	parity      int
	chunkSize   int
	encodedSize int
	chunks      map[int]string
}

func newReassembly() *reassembly {
	return &reassembly{chunks: make(map[int]string)}
}

// add stores a chunk. It reports false for a duplicate index.
func (r *reassembly) add(c Chunk) (bool, error) {
	if c.Total <= 0 || c.Total > MaxChunks || c.Parity < 0 || c.Parity > MaxShards {
		return false, fmt.Errorf("%w: %d chunks with %d parity", ErrInvalidChunk, c.Total, c.Parity)
	}
	if c.Index < 0 || c.Index >= c.Total+c.Parity {
		return false, fmt.Errorf("%w: index %d of %d(+%d)", ErrInvalidChunk, c.Index, c.Total, c.Parity)
	}

	if err := checkGeometry(c); err != nil {
		return false, err
	}

	if r.total == 0 {
		r.total = c.Total
		r.parity = c.Parity
		r.chunkSize = c.ChunkSize
		r.encodedSize = c.EncodedSize
	} else if c.Total != r.total || c.Parity != r.parity {
		return false, fmt.Errorf("%w: chunk %d disagrees on total chunks", ErrInvalidChunk, c.Index)
	} else if c.ChunkSize != r.chunkSize || c.EncodedSize != r.encodedSize {
		return false, fmt.Errorf("%w: chunk %d disagrees on chunk size", ErrInvalidChunk, c.Index)
	}

	if _, dup := r.chunks[c.Index]; dup {
		return false, nil
	}
	r.chunks[c.Index] = c.Data
	return true, nil
}

// checkGeometry bounds the sizes a chunk declares so that reconstruction
// never allocates more than the shard count times one datagram
func checkGeometry(c Chunk) error {
	switch {
	case c.ChunkSize < 0 || c.EncodedSize < 0:
		return fmt.Errorf("%w: negative size", ErrInvalidChunk)
	case c.ChunkSize > MaxChunkSize:
		return fmt.Errorf("%w: chunk size %d exceeds %d", ErrInvalidChunk, c.ChunkSize, MaxChunkSize)
	case c.Parity > 0 && c.ChunkSize == 0:
		return fmt.Errorf("%w: parity without chunk size", ErrInvalidChunk)
	case c.ChunkSize > 0 && !c.IsParity() && len(c.Data) > c.ChunkSize:
		return fmt.Errorf("%w: chunk %d carries %d characters, limit %d", ErrInvalidChunk, c.Index, len(c.Data), c.ChunkSize)
	case c.ChunkSize > 0 && c.EncodedSize > c.Total*c.ChunkSize:
		return fmt.Errorf("%w: encoded size %d exceeds %d chunks of %d", ErrInvalidChunk, c.EncodedSize, c.Total, c.ChunkSize)
	}
	return nil
}

func (r *reassembly) dataComplete() bool {
	if r.total == 0 {
		return false
	}
	for i := 0; i < r.total; i++ {
		if _, ok := r.chunks[i]; !ok {
			return false
		}
	}
	return true
}

// ready reports whether assemble can succeed
func (r *reassembly) ready() bool {
	if r.dataComplete() {
		return true
	}
	return r.parity > 0 && r.chunkSize > 0 && len(r.chunks) >= r.total
}

// received returns the sorted indices collected so far
func (r *reassembly) received() []int {
	out := make([]int, 0, len(r.chunks))
	for i := range r.chunks {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// assemble joins data chunks in index order and decodes the content.
// Missing data chunks are rebuilt from parity when enough shards arrived.
// It reports whether parity was needed.
func (r *reassembly) assemble() ([]byte, bool, error) {
	if !r.ready() {
		return nil, false, fmt.Errorf("%w: have %d of %d", ErrIncomplete, len(r.chunks), r.total)
	}

	var encoded string
	recovered := false
	if r.dataComplete() {
		var sb strings.Builder
		for i := 0; i < r.total; i++ {
			sb.WriteString(r.chunks[i])
		}
		encoded = sb.String()
	} else {
		var err error
		encoded, err = r.reconstruct()
		if err != nil {
			return nil, false, err
		}
		recovered = true
	}

	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(encoded, "\n", ""))
	if err != nil {
		return nil, recovered, fmt.Errorf("failed to decode content: %w", err)
	}
	return content, recovered, nil
}

func (r *reassembly) reconstruct() (string, error) {
	enc, err := reedsolomon.New(r.total, r.parity)
	if err != nil {
		return "", fmt.Errorf("failed to create Reed-Solomon decoder: %w", err)
	}

	shards := make([][]byte, r.total+r.parity)
	for i, data := range r.chunks {
		if i < r.total {
			shard := make([]byte, r.chunkSize)
			copy(shard, data)
			shards[i] = shard
			continue
		}
		shard, err := base64.StdEncoding.DecodeString(data)
		if err != nil || len(shard) != r.chunkSize {
			continue
		}
		shards[i] = shard
	}

	if err := enc.ReconstructData(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return "", fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
		return "", fmt.Errorf("failed to reconstruct shards: %w", err)
	}

	buf := make([]byte, 0, r.total*r.chunkSize)
	for i := 0; i < r.total; i++ {
		buf = append(buf, shards[i]...)
	}
	if r.encodedSize > 0 && len(buf) > r.encodedSize {
		buf = buf[:r.encodedSize]
	}
	return string(buf), nil
}
