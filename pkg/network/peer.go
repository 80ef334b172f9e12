package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/ZentaChain/lsnp-node/pkg/auth"
	"github.com/ZentaChain/lsnp-node/pkg/directory"
	"github.com/ZentaChain/lsnp-node/pkg/filetransfer"
	"github.com/ZentaChain/lsnp-node/pkg/game"
	"github.com/ZentaChain/lsnp-node/pkg/protocol"
	"github.com/ZentaChain/lsnp-node/pkg/storage"
)

// Config holds the settings of one peer
type Config struct {
	Username    string
	Address     netip.Addr
	Port        uint16
	DisplayName string
	Status      string

	// Optional avatar, already encoded as announced on the wire
	AvatarType     string
	AvatarEncoding string
	AvatarData     string

	TokenTTL         time.Duration
	PostTTL          int
	PresenceDelay    time.Duration
	PresenceInterval time.Duration
	ChunkDelay       time.Duration
	StrictSource     bool
	Verbose          bool

	Files filetransfer.Config
}

// DefaultConfig returns the settings used when a field is left empty
func DefaultConfig() Config {
	return Config{
		Port:             protocol.DefaultPort,
		Status:           protocol.DefaultStatus,
		TokenTTL:         protocol.DefaultTokenTTL,
		PostTTL:          protocol.DefaultPostTTL,
		PresenceDelay:    2 * time.Second,
		PresenceInterval: 30 * time.Second,
		ChunkDelay:       10 * time.Millisecond,
		Files:            filetransfer.DefaultConfig(),
	}
}

// Option configures optional collaborators of a Peer
type Option func(*Peer)

// WithNotifier sets the notification sink
func WithNotifier(n Notifier) Option {
	return func(p *Peer) { p.notifier = n }
}

// WithArchive records social traffic in a history archive
func WithArchive(a *storage.Archive) Option {
	return func(p *Peer) { p.archive = a }
}

// WithAuthority replaces the token authority, mostly to inject a clock
func WithAuthority(a *auth.Authority) Option {
	return func(p *Peer) { p.authority = a }
}

// Peer is one LSNP node: identity, owned state and the loops that drive it
type Peer struct {
	cfg      Config
	identity directory.Identity

	dir        *directory.Directory
	authority  *auth.Authority
	games      *game.Engine
	files      *filetransfer.Engine
	dispatcher *Dispatcher
	transport  Transport
	notifier   Notifier
	archive    *storage.Archive

	status string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPeer creates a peer on top of a transport
func NewPeer(cfg Config, t Transport, opts ...Option) (*Peer, error) {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Status == "" {
		cfg.Status = def.Status
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.PostTTL <= 0 {
		cfg.PostTTL = def.PostTTL
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = def.PresenceInterval
	}
	if cfg.PresenceDelay < 0 {
		cfg.PresenceDelay = 0
	}
	if cfg.Files.ChunkSize <= 0 {
		cfg.Files.ChunkSize = def.Files.ChunkSize
	}
	if cfg.Files.DownloadDir == "" {
		cfg.Files.DownloadDir = def.Files.DownloadDir
	}

	id, err := directory.NewIdentity(cfg.Username, cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.Username
	}

	p := &Peer{
		cfg:       cfg,
		identity:  id,
		dir:       directory.New(id.UserID()),
		games:     game.NewEngine(id.UserID()),
		files:     filetransfer.NewEngine(cfg.Files),
		transport: t,
		status:    cfg.Status,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.authority == nil {
		p.authority = auth.NewAuthority(cfg.TokenTTL)
	}
	if p.notifier == nil {
		p.notifier = discard{}
	}

	p.dispatcher = NewDispatcher(id.UserID(), p.authority, p.notifier)
	p.dispatcher.SetStrictSource(cfg.StrictSource)
	p.dispatcher.SetVerbose(cfg.Verbose)
	p.registerHandlers()

	return p, nil
}

// Start launches the receive loop and the presence scheduler.
// They run until ctx is cancelled or Close is called.
func (p *Peer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.receiveLoop(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.presenceLoop(ctx)
	}()

	log.Infof("peer %s started", p.UserID())
}

// receiveLoop feeds every datagram to the dispatcher until the transport closes
func (p *Peer) receiveLoop(ctx context.Context) {
	packets := p.transport.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case dg, ok := <-packets:
			if !ok {
				log.Infof("transport closed, receive loop stopped")
				return
			}
			out := p.dispatcher.Dispatch(ctx, dg)
			log.Debugf("datagram from %s: %s", dg.Source, out)
		}
	}
}

// Close stops the loops and closes the transport
func (p *Peer) Close() error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := p.transport.Close()
	p.wg.Wait()

	log.Infof("peer %s stopped", p.UserID())
	return err
}

// ===== ACCESSORS =====

// UserID returns the local user id
func (p *Peer) UserID() string { return p.identity.UserID() }

// DisplayName returns the announced display name
func (p *Peer) DisplayName() string { return p.cfg.DisplayName }

// Port returns the UDP port shared by the segment
func (p *Peer) Port() uint16 { return p.cfg.Port }

// Identity returns the local identity
func (p *Peer) Identity() directory.Identity { return p.identity }

// Directory returns the peer's directory
func (p *Peer) Directory() *directory.Directory { return p.dir }

// Games returns the game engine
func (p *Peer) Games() *game.Engine { return p.games }

// Files returns the file transfer engine
func (p *Peer) Files() *filetransfer.Engine { return p.files }

// Archive returns the history archive, or nil
func (p *Peer) Archive() *storage.Archive { return p.archive }

// Stats returns dispatcher outcome counters
func (p *Peer) Stats() map[string]uint64 { return p.dispatcher.Counts() }

// Status returns the currently announced status
func (p *Peer) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// ===== SENDING =====

// stamp fills the sender, timestamp, message id and token of an outbound message
func (p *Peer) stamp(m protocol.Message, env *protocol.Envelope, withID bool) {
	env.From = p.UserID()
	if env.Timestamp == 0 {
		env.Timestamp = protocol.NowUnix()
	}
	if withID && env.MessageID == "" {
		env.MessageID = protocol.GenerateMessageID()
	}
	if scope, scoped := protocol.ScopeFor(m.Type()); scoped {
		token := p.authority.Mint(p.UserID(), scope)
		m.SetToken(token.String())
	}
}

// unicast sends a message to the address embedded in the recipient's user id
func (p *Peer) unicast(to string, m protocol.Message) error {
	dst, err := directory.Resolve(to, p.cfg.Port)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	log.Debugf("SEND %s to %s:\n%s", m.Type(), dst, data)
	return p.transport.Send(data, dst)
}

// broadcast sends a message to every peer on the segment
func (p *Peer) broadcast(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	log.Debugf("BROADCAST %s:\n%s", m.Type(), data)
	return p.transport.Broadcast(data)
}

func (p *Peer) notify(kind Kind, from, text string, data any) {
	p.notifier.Notify(Notification{
		Kind: kind,
		From: from,
		Text: text,
		Data: data,
		At:   now(),
	})
}

// record runs fn against the archive when one is attached
func (p *Peer) record(what string, fn func(a *storage.Archive) error) {
	if p.archive == nil {
		return
	}
	if err := fn(p.archive); err != nil && !errors.Is(err, storage.ErrDuplicate) {
		log.Warnf("failed to archive %s: %v", what, err)
	}
}
