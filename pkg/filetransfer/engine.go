// Package filetransfer implements the offer/accept/chunk file transfer engine
package filetransfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ZentaChain/lsnp-node/pkg/crypto"
)

var log = logging.Logger("lsnp/files")

var (
	ErrUnknownTransfer  = errors.New("unknown transfer")
	ErrWrongPeer        = errors.New("transfer belongs to another peer")
	ErrAlreadyAccepted  = errors.New("transfer already accepted")
	ErrNotAFile         = errors.New("not a regular file")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// State is the lifecycle stage of a transfer
type State string

const (
	StateOffered      State = "offered"
	StateAccepted     State = "accepted"
	StateTransferring State = "transferring"
	StateComplete     State = "complete"
)

// Config holds file transfer settings
type Config struct {
	ChunkSize    int
	ParityChunks int
	DownloadDir  string
}

// DefaultConfig returns default file transfer settings
func DefaultConfig() Config {
	return Config{
		ChunkSize:   DefaultChunkSize,
		DownloadDir: "downloads",
	}
}

// Offer describes a transfer from either side.
// Peer is the recipient for outgoing offers and the sender for incoming ones.
type Offer struct {
	FileID      string    `json:"fileId"`
	Peer        string    `json:"peer"`
	Incoming    bool      `json:"incoming"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	Filetype    string    `json:"filetype,omitempty"`
	Description string    `json:"description,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	State       State     `json:"state"`
	Received    int       `json:"received,omitempty"`
	Total       int       `json:"total,omitempty"`
	At          time.Time `json:"at"`

	path string
}

// Received describes a completed incoming transfer
type Received struct {
	FileID    string
	From      string
	Filename  string
	Path      string
	Size      int64
	Checksum  string
	Recovered bool
}

type incoming struct {
	offer Offer
	parts *reassembly
}

// Engine owns all transfers of the local peer
type Engine struct {
	cfg Config

	outgoing map[string]*Offer
	incoming map[string]*incoming

	clock func() time.Time
	mu    sync.Mutex
}

// NewEngine creates a new file transfer engine
func NewEngine(cfg Config) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	cfg.ChunkSize = min(cfg.ChunkSize, MaxSendChunkSize)
	return &Engine{
		cfg:      cfg,
		outgoing: make(map[string]*Offer),
		incoming: make(map[string]*incoming),
		clock:    time.Now,
	}
}

// ===== SENDER SIDE =====

// Offer registers a local file for transfer to a peer under fileID.
// The content is read only when the peer accepts.
func (e *Engine) Offer(fileID, to, path, description string) (Offer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Offer{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Offer{}, fmt.Errorf("%w: %s", ErrNotAFile, path)
	}

	checksum, err := crypto.HashFile(path)
	if err != nil {
		return Offer{}, err
	}

	filetype := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		filetype = mt.String()
	}

	o := &Offer{
		FileID:      fileID,
		Peer:        to,
		Filename:    filepath.Base(path),
		Size:        info.Size(),
		Filetype:    filetype,
		Description: description,
		Checksum:    checksum,
		State:       StateOffered,
		At:          e.clock(),
		path:        path,
	}

	e.mu.Lock()
	e.outgoing[fileID] = o
	e.mu.Unlock()

	log.Infof("offering %s (%d bytes) to %s as %s", o.Filename, o.Size, to, fileID)
	return *o, nil
}

// ReceiveAccept starts sending an offered file. It returns the chunks to
// transmit in index order. Accepts for unknown ids, from the wrong peer or
// for transfers already under way are rejected.
func (e *Engine) ReceiveAccept(fileID, from string) (Offer, []Chunk, error) {
	e.mu.Lock()
	o, ok := e.outgoing[fileID]
	if !ok {
		e.mu.Unlock()
		return Offer{}, nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, fileID)
	}
	if o.Peer != from {
		e.mu.Unlock()
		return Offer{}, nil, fmt.Errorf("%w: %s accepted %s", ErrWrongPeer, from, fileID)
	}
	if o.State != StateOffered {
		e.mu.Unlock()
		return Offer{}, nil, fmt.Errorf("%w: %s", ErrAlreadyAccepted, fileID)
	}
	o.State = StateTransferring
	path := o.path
	e.mu.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		e.finishOutgoing(fileID)
		return Offer{}, nil, fmt.Errorf("failed to read file: %w", err)
	}

	chunks, err := Split(fileID, content, e.cfg.ChunkSize, e.cfg.ParityChunks)
	if err != nil {
		e.finishOutgoing(fileID)
		return Offer{}, nil, err
	}

	e.mu.Lock()
	o.Total = len(chunks)
	snapshot := *o
	e.mu.Unlock()

	log.Infof("%s accepted %s, sending %d chunks", from, fileID, len(chunks))
	return snapshot, chunks, nil
}

// MarkSent completes an outgoing transfer once every chunk was handed to the transport
func (e *Engine) MarkSent(fileID string) {
	e.finishOutgoing(fileID)
	log.Infof("transfer %s sent", fileID)
}

func (e *Engine) finishOutgoing(fileID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.outgoing, fileID)
}

// ===== RECIPIENT SIDE =====

// ReceiveOffer records an incoming offer. A repeated offer for a known id
// is reported as not new and leaves the transfer unchanged.
func (e *Engine) ReceiveOffer(o Offer) (Offer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.incoming[o.FileID]; ok {
		return existing.offer, false
	}

	o.Incoming = true
	o.State = StateOffered
	if o.At.IsZero() {
		o.At = e.clock()
	}
	e.incoming[o.FileID] = &incoming{offer: o, parts: newReassembly()}
	log.Infof("offer %s from %s: %s (%d bytes)", o.FileID, o.Peer, o.Filename, o.Size)
	return o, true
}

// Accept accepts an incoming offer so its chunks will be collected
func (e *Engine) Accept(fileID string) (Offer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.incoming[fileID]
	if !ok {
		return Offer{}, fmt.Errorf("%w: %s", ErrUnknownTransfer, fileID)
	}
	if in.offer.State != StateOffered {
		return Offer{}, fmt.Errorf("%w: %s", ErrAlreadyAccepted, fileID)
	}
	in.offer.State = StateAccepted
	return in.offer, nil
}

// Decline drops an incoming offer
func (e *Engine) Decline(fileID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.incoming[fileID]; !ok {
		return false
	}
	delete(e.incoming, fileID)
	return true
}

// ReceiveChunk stores a chunk of an accepted transfer. Duplicates are no-ops.
// When the file is complete it is decoded, verified and written to the
// download directory, the transfer state is discarded and the result returned.
// A nil result with a nil error means more chunks are needed.
func (e *Engine) ReceiveChunk(from string, c Chunk) (*Received, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.incoming[c.FileID]
	if !ok || in.offer.State == StateOffered {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, c.FileID)
	}
	if in.offer.Peer != from {
		return nil, fmt.Errorf("%w: chunk for %s from %s", ErrWrongPeer, c.FileID, from)
	}

	added, err := in.parts.add(c)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, nil
	}

	in.offer.State = StateTransferring
	in.offer.Received = len(in.parts.chunks)
	in.offer.Total = in.parts.total

	if !in.parts.ready() {
		return nil, nil
	}

	content, recovered, err := in.parts.assemble()
	if errors.Is(err, ErrIncomplete) {
		return nil, nil
	}
	delete(e.incoming, c.FileID)
	if err != nil {
		return nil, err
	}

	if in.offer.Checksum != "" {
		ok, err := crypto.VerifyHashString(content, in.offer.Checksum)
		if err != nil || !ok {
			return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, c.FileID)
		}
	}

	path, err := e.persist(in.offer, content)
	if err != nil {
		return nil, err
	}

	log.Infof("transfer %s complete: %s (%d bytes)", c.FileID, path, len(content))
	return &Received{
		FileID:    c.FileID,
		From:      from,
		Filename:  in.offer.Filename,
		Path:      path,
		Size:      int64(len(content)),
		Checksum:  in.offer.Checksum,
		Recovered: recovered,
	}, nil
}

// persist writes content under the download directory without overwriting
func (e *Engine) persist(o Offer, content []byte) (string, error) {
	if err := os.MkdirAll(e.cfg.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(o.Filename, "\\", "/")))
	if name == "/" || name == "." || name == "" {
		name = o.FileID
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	path := filepath.Join(e.cfg.DownloadDir, name)
	for i := 1; ; i++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			path = filepath.Join(e.cfg.DownloadDir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create file: %w", err)
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write file: %w", err)
		}
		return path, f.Close()
	}
}

// ===== QUERIES =====

// Transfers returns all transfers in progress, incoming first, ordered by id
func (e *Engine) Transfers() []Offer {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Offer, 0, len(e.incoming)+len(e.outgoing))
	for _, in := range e.incoming {
		out = append(out, in.offer)
	}
	for _, o := range e.outgoing {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Incoming != out[j].Incoming {
			return out[i].Incoming
		}
		return out[i].FileID < out[j].FileID
	})
	return out
}

// Transfer returns one transfer by id
func (e *Engine) Transfer(fileID string) (Offer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if in, ok := e.incoming[fileID]; ok {
		return in.offer, true
	}
	if o, ok := e.outgoing[fileID]; ok {
		return *o, true
	}
	return Offer{}, false
}
