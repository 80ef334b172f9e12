package filetransfer

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice@192.168.1.10"
	bob   = "bob@192.168.1.11"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// transfer runs offer and accept on both engines and returns the chunks
func transfer(t *testing.T, content []byte, cfg Config) (*Engine, *Engine, []Chunk) {
	t.Helper()
	sender := NewEngine(cfg)
	recvCfg := cfg
	recvCfg.DownloadDir = t.TempDir()
	receiver := NewEngine(recvCfg)

	path := writeFile(t, "notes.txt", content)
	offer, err := sender.Offer("f1", bob, path, "lecture notes")
	require.NoError(t, err)
	assert.Equal(t, StateOffered, offer.State)
	assert.Equal(t, int64(len(content)), offer.Size)

	incoming := offer
	incoming.Peer = alice
	_, isNew := receiver.ReceiveOffer(incoming)
	require.True(t, isNew)
	_, err = receiver.Accept("f1")
	require.NoError(t, err)

	_, chunks, err := sender.ReceiveAccept("f1", bob)
	require.NoError(t, err)
	return sender, receiver, chunks
}

func feed(t *testing.T, e *Engine, chunks []Chunk) *Received {
	t.Helper()
	var done *Received
	for _, c := range chunks {
		r, err := e.ReceiveChunk(alice, c)
		require.NoError(t, err)
		if r != nil {
			require.Nil(t, done, "transfer completed twice")
			done = r
		}
	}
	return done
}

func TestSplitChunks(t *testing.T) {
	chunks, err := Split("f", []byte("hello world!"), 4, 0)
	require.NoError(t, err)

	// base64("hello world!") = "aGVsbG8gd29ybGQh", 16 characters
	require.Len(t, chunks, 4)
	assert.Equal(t, "aGVs", chunks[0].Data)
	assert.Equal(t, "bGQh", chunks[3].Data)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 4, c.Total)
		assert.False(t, c.IsParity())
	}
}

func TestSplitEmptyFile(t *testing.T) {
	chunks, err := Split("f", nil, 8, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].Data)
	assert.Zero(t, chunks[0].Parity)
}

func TestTransferInOrder(t *testing.T) {
	content := []byte("The quick brown fox jumps over the lazy dog")
	sender, receiver, chunks := transfer(t, content, Config{ChunkSize: 8})

	got := feed(t, receiver, chunks)
	require.NotNil(t, got)
	sender.MarkSent("f1")

	data, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, "notes.txt", got.Filename)
	assert.False(t, got.Recovered)

	_, ok := receiver.Transfer("f1")
	assert.False(t, ok, "completed transfer state must be discarded")
	_, ok = sender.Transfer("f1")
	assert.False(t, ok)
}

func TestTransferReorderedAndDuplicated(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789abcdef"), 40)
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 5; run++ {
		_, receiver, chunks := transfer(t, content, Config{ChunkSize: 32})

		shuffled := append([]Chunk(nil), chunks...)
		shuffled = append(shuffled, chunks[:len(chunks)/2]...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		var done *Received
		for _, c := range shuffled {
			r, err := receiver.ReceiveChunk(alice, c)
			if done != nil {
				// late duplicates reference a completed transfer
				assert.ErrorIs(t, err, ErrUnknownTransfer)
				continue
			}
			require.NoError(t, err)
			done = r
		}

		require.NotNil(t, done, "run %d did not complete", run)
		data, err := os.ReadFile(done.Path)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	}
}

func TestTransferRecoversWithParity(t *testing.T) {
	content := bytes.Repeat([]byte("lsnp parity "), 30)
	_, receiver, chunks := transfer(t, content, Config{ChunkSize: 40, ParityChunks: 3})

	var data, parity []Chunk
	for _, c := range chunks {
		if c.IsParity() {
			parity = append(parity, c)
		} else {
			data = append(data, c)
		}
	}
	require.Len(t, parity, 3)

	// lose three data chunks
	kept := append([]Chunk(nil), data[3:]...)
	kept = append(kept, parity...)

	got := feed(t, receiver, kept)
	require.NotNil(t, got)
	assert.True(t, got.Recovered)

	out, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	assert.Equal(t, content, out)
}

func TestTransferIncompleteWithoutParity(t *testing.T) {
	_, receiver, chunks := transfer(t, []byte("some content here"), Config{ChunkSize: 4})

	got := feed(t, receiver, chunks[1:])
	assert.Nil(t, got)

	offer, ok := receiver.Transfer("f1")
	require.True(t, ok)
	assert.Equal(t, StateTransferring, offer.State)
	assert.Equal(t, len(chunks)-1, offer.Received)
}

func TestTransferChecksumMismatch(t *testing.T) {
	sender := NewEngine(Config{ChunkSize: 8})
	receiver := NewEngine(Config{ChunkSize: 8, DownloadDir: t.TempDir()})

	offer, err := sender.Offer("f1", bob, writeFile(t, "a.bin", []byte("original")), "")
	require.NoError(t, err)
	offer.Peer = alice
	if offer.Checksum[0] == '0' {
		offer.Checksum = "1" + offer.Checksum[1:]
	} else {
		offer.Checksum = "0" + offer.Checksum[1:]
	}
	receiver.ReceiveOffer(offer)
	_, err = receiver.Accept("f1")
	require.NoError(t, err)

	_, chunks, err := sender.ReceiveAccept("f1", bob)
	require.NoError(t, err)

	var last error
	for _, c := range chunks {
		_, last = receiver.ReceiveChunk(alice, c)
	}
	assert.ErrorIs(t, last, ErrChecksumMismatch)
	_, ok := receiver.Transfer("f1")
	assert.False(t, ok)
}

func TestTransferRejections(t *testing.T) {
	sender := NewEngine(Config{ChunkSize: 8})
	receiver := NewEngine(Config{DownloadDir: t.TempDir()})

	_, _, err := sender.ReceiveAccept("missing", bob)
	assert.ErrorIs(t, err, ErrUnknownTransfer, "accept for an unknown id")

	_, err = receiver.ReceiveChunk(alice, Chunk{FileID: "missing", Total: 1, Data: "aGk="})
	assert.ErrorIs(t, err, ErrUnknownTransfer, "chunk for an unknown id")

	path := writeFile(t, "x.txt", []byte("x"))
	_, err = sender.Offer("f2", bob, path, "")
	require.NoError(t, err)

	_, _, err = sender.ReceiveAccept("f2", alice)
	assert.ErrorIs(t, err, ErrWrongPeer)
	_, _, err = sender.ReceiveAccept("f2", bob)
	require.NoError(t, err)
	_, _, err = sender.ReceiveAccept("f2", bob)
	assert.ErrorIs(t, err, ErrAlreadyAccepted)

	receiver.ReceiveOffer(Offer{FileID: "f3", Peer: alice, Filename: "y"})
	_, err = receiver.ReceiveChunk(alice, Chunk{FileID: "f3", Total: 1, Data: "eQ=="})
	assert.ErrorIs(t, err, ErrUnknownTransfer, "chunks before the local accept are ignored")

	_, err = receiver.Accept("f3")
	require.NoError(t, err)
	_, err = receiver.ReceiveChunk(bob, Chunk{FileID: "f3", Total: 1, Data: "eQ=="})
	assert.ErrorIs(t, err, ErrWrongPeer)
	_, err = receiver.ReceiveChunk(alice, Chunk{FileID: "f3", Index: 5, Total: 1, Data: "eQ=="})
	assert.ErrorIs(t, err, ErrInvalidChunk)

	receiver.ReceiveOffer(Offer{FileID: "f5", Peer: alice, Filename: "z"})
	_, err = receiver.Accept("f5")
	require.NoError(t, err)
	for _, index := range []int{0, 2} {
		_, err = receiver.ReceiveChunk(alice, Chunk{FileID: "f5", Index: index, Total: 2, Parity: 1, ChunkSize: 1 << 36, Data: "eQ=="})
		assert.ErrorIs(t, err, ErrInvalidChunk, "oversized chunk geometry")
	}
	o, ok := receiver.Transfer("f5")
	require.True(t, ok)
	assert.Equal(t, StateAccepted, o.State)

	_, err = sender.Offer("f4", bob, t.TempDir(), "")
	assert.ErrorIs(t, err, ErrNotAFile)
}

func TestPersistSanitizesAndAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(Config{DownloadDir: dir})

	p1, err := e.persist(Offer{FileID: "f1", Filename: "../../etc/passwd"}, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd"), p1)

	p2, err := e.persist(Offer{FileID: "f2", Filename: "passwd"}, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd (1)"), p2)
}

func TestReceiveOfferDuplicate(t *testing.T) {
	e := NewEngine(DefaultConfig())
	_, isNew := e.ReceiveOffer(Offer{FileID: "f1", Peer: alice, Filename: "a"})
	assert.True(t, isNew)
	_, isNew = e.ReceiveOffer(Offer{FileID: "f1", Peer: alice, Filename: "b"})
	assert.False(t, isNew)

	o, ok := e.Transfer("f1")
	require.True(t, ok)
	assert.Equal(t, "a", o.Filename)
	assert.True(t, e.Decline("f1"))
	assert.Empty(t, e.Transfers())
}

func TestEngineClampsChunkSize(t *testing.T) {
	sender := NewEngine(Config{ChunkSize: 1 << 30})

	_, err := sender.Offer("f1", bob, writeFile(t, "a.bin", []byte("small file")), "")
	require.NoError(t, err)
	_, chunks, err := sender.ReceiveAccept("f1", bob)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.ChunkSize, MaxSendChunkSize)
	}
}
