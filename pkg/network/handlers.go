package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/ZentaChain/lsnp-node/pkg/directory"
	"github.com/ZentaChain/lsnp-node/pkg/filetransfer"
	"github.com/ZentaChain/lsnp-node/pkg/game"
	"github.com/ZentaChain/lsnp-node/pkg/protocol"
	"github.com/ZentaChain/lsnp-node/pkg/storage"
)

// BoardView is the notification payload for game moves and results
type BoardView struct {
	GameID   string                 `json:"gameId"`
	X        string                 `json:"x"`
	O        string                 `json:"o"`
	Cells    [game.BoardSize]string `json:"cells"`
	Next     string                 `json:"next,omitempty"`
	Terminal bool                   `json:"terminal"`
	Draw     bool                   `json:"draw,omitempty"`
	Winner   string                 `json:"winner,omitempty"`
	Line     []int                  `json:"line,omitempty"`
}

func newBoardView(res game.MoveResult) BoardView {
	v := BoardView{
		GameID:   res.Session.GameID,
		X:        res.Session.X,
		O:        res.Session.O,
		Terminal: res.Terminal,
		Draw:     res.Draw,
		Winner:   res.Winner.String(),
		Line:     res.Line,
	}
	for i, s := range res.Session.Board {
		v.Cells[i] = s.String()
	}
	if !res.Terminal {
		v.Next = res.Session.PlayerFor(res.Session.Turn)
	}
	return v
}

func (p *Peer) registerHandlers() {
	d := p.dispatcher
	d.Handle(protocol.TypeProfile, on(p.handleProfile))
	d.Handle(protocol.TypePing, on(p.handleProfile))
	d.Handle(protocol.TypePost, on(p.handlePost))
	d.Handle(protocol.TypeDM, on(p.handleDirectMessage))
	d.Handle(protocol.TypeFollow, on(p.handleFollow))
	d.Handle(protocol.TypeUnfollow, on(p.handleFollow))
	d.Handle(protocol.TypeLike, on(p.handleLike))
	d.Handle(protocol.TypeUnlike, on(p.handleLike))
	d.Handle(protocol.TypeGroupCreate, on(p.handleGroupCreate))
	d.Handle(protocol.TypeGroupUpdate, on(p.handleGroupUpdate))
	d.Handle(protocol.TypeGroupMessage, on(p.handleGroupMessage))
	d.Handle(protocol.TypeFileOffer, on(p.handleFileOffer))
	d.Handle(protocol.TypeFileAccept, on(p.handleFileAccept))
	d.Handle(protocol.TypeFileChunk, on(p.handleFileChunk))
	d.Handle(protocol.TypeGameInvite, on(p.handleGameInvite))
	d.Handle(protocol.TypeGameAccept, on(p.handleGameAccept))
	d.Handle(protocol.TypeGameMove, on(p.handleGameMove))
	d.Handle(protocol.TypeGameResult, on(p.handleGameResult))
}

// addressedToMe drops messages meant for someone else, which a broadcast
// or a shared host can deliver
func (p *Peer) addressedToMe(to string) error {
	if to != p.UserID() {
		return fmt.Errorf("%w: addressed to %s", ErrIgnored, to)
	}
	return nil
}

// ===== PRESENCE =====

func (p *Peer) handleProfile(_ context.Context, m *protocol.Profile, _ netip.AddrPort) error {
	rec := directory.PeerRecord{
		UserID:         m.From,
		DisplayName:    m.DisplayName,
		Status:         m.Status,
		AvatarType:     m.AvatarType,
		AvatarEncoding: m.AvatarEncoding,
		AvatarData:     m.AvatarData,
	}
	// PING carries no avatar; keep the one from the last PROFILE
	if m.Type() == protocol.TypePing && rec.AvatarData == "" {
		if prev, ok := p.dir.Peer(m.From); ok {
			rec.AvatarType = prev.AvatarType
			rec.AvatarEncoding = prev.AvatarEncoding
			rec.AvatarData = prev.AvatarData
		}
	}

	isNew := p.dir.UpsertPeer(rec)
	if stored, ok := p.dir.Peer(m.From); ok {
		p.record("peer", func(a *storage.Archive) error { return a.SavePeer(stored) })
	}
	if isNew {
		p.notify(KindPeerDiscovered, m.From, fmt.Sprintf("%s is %s", m.DisplayName, m.Status), rec)
	}
	return nil
}

// ===== SOCIAL =====

func (p *Peer) handlePost(_ context.Context, m *protocol.Post, _ netip.AddrPort) error {
	if !p.dir.IsFollowing(m.From) {
		return fmt.Errorf("%w: post from %s, not followed", ErrIgnored, m.From)
	}

	p.record("post", func(a *storage.Archive) error {
		return a.SaveMessage(&storage.StoredMessage{
			Kind:      storage.KindPost,
			MessageID: m.MessageID,
			From:      m.From,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	})

	p.notify(KindPost, m.From, m.Content, m)
	return nil
}

func (p *Peer) handleDirectMessage(_ context.Context, m *protocol.DirectMessage, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}

	p.record("direct message", func(a *storage.Archive) error {
		return a.SaveMessage(&storage.StoredMessage{
			Kind:      storage.KindDirect,
			MessageID: m.MessageID,
			From:      m.From,
			To:        m.To,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	})

	p.notify(KindDirectMessage, m.From, m.Content, m)
	return nil
}

func (p *Peer) handleFollow(_ context.Context, m *protocol.Follow, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}

	name := p.dir.DisplayName(m.From)
	if m.Type() == protocol.TypeUnfollow {
		p.dir.RemoveFollower(m.From)
		p.notify(KindUnfollow, m.From, fmt.Sprintf("%s has unfollowed you", name), nil)
		return nil
	}
	p.dir.AddFollower(m.From)
	p.notify(KindFollow, m.From, fmt.Sprintf("%s is now following you", name), nil)
	return nil
}

func (p *Peer) handleLike(_ context.Context, m *protocol.Like, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}

	name := p.dir.DisplayName(m.From)
	liked := !m.Unliked()
	p.record("like", func(a *storage.Archive) error {
		return a.SaveLike(storage.Like{
			From:          m.From,
			To:            m.To,
			PostTimestamp: m.PostTimestamp,
			Liked:         liked,
			Timestamp:     m.Timestamp,
		})
	})

	if liked {
		p.notify(KindLike, m.From, fmt.Sprintf("%s likes your post [%d]", name, m.PostTimestamp), m)
	} else {
		p.notify(KindUnlike, m.From, fmt.Sprintf("%s unliked your post [%d]", name, m.PostTimestamp), m)
	}
	return nil
}

// ===== GROUPS =====

func (p *Peer) handleGroupCreate(_ context.Context, m *protocol.GroupCreate, _ netip.AddrPort) error {
	if !slices.Contains(m.Members, p.UserID()) {
		return fmt.Errorf("%w: not a member of %s", ErrIgnored, m.GroupID)
	}

	g := directory.Group{ID: m.GroupID, Name: m.GroupName, Owner: m.From, Members: m.Members}
	if err := p.dir.CreateGroup(g); err != nil {
		if errors.Is(err, directory.ErrGroupExists) {
			return fmt.Errorf("%w: %v", ErrIgnored, err)
		}
		return err
	}

	g, _ = p.dir.Group(m.GroupID)
	p.notify(KindGroupMembership, m.From, fmt.Sprintf("you've been added to %s", g.Name), g)
	return nil
}

func (p *Peer) handleGroupUpdate(_ context.Context, m *protocol.GroupUpdate, _ netip.AddrPort) error {
	self := p.UserID()

	if _, known := p.dir.Group(m.GroupID); !known {
		if !slices.Contains(m.Add, self) {
			return fmt.Errorf("%w: update for unknown group %s", ErrIgnored, m.GroupID)
		}
		members := append(slices.Clone(m.Members), m.Add...)
		g := directory.Group{ID: m.GroupID, Name: m.GroupName, Owner: m.From, Members: members}
		if err := p.dir.CreateGroup(g); err != nil {
			return err
		}
		g, _ = p.dir.Group(m.GroupID)
		p.notify(KindGroupMembership, m.From, fmt.Sprintf("you've been added to %s", g.Name), g)
		return nil
	}

	change, err := p.dir.UpdateGroupMembership(m.GroupID, m.From, m.Add, m.Remove)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("the group %s member list was updated", m.GroupID)
	if change.Left {
		text = fmt.Sprintf("you've been removed from %s", m.GroupID)
	}
	data := any(change)
	if g, ok := p.dir.Group(m.GroupID); ok {
		data = g
	}
	p.notify(KindGroupMembership, m.From, text, data)
	return nil
}

func (p *Peer) handleGroupMessage(_ context.Context, m *protocol.GroupMessage, _ netip.AddrPort) error {
	g, known := p.dir.Group(m.GroupID)
	if !known {
		return fmt.Errorf("%w: unknown group %s", ErrIgnored, m.GroupID)
	}
	if !slices.Contains(g.Members, m.From) {
		return fmt.Errorf("%w: %s is not in %s", ErrIgnored, m.From, m.GroupID)
	}

	p.record("group message", func(a *storage.Archive) error {
		return a.SaveMessage(&storage.StoredMessage{
			Kind:      storage.KindGroup,
			MessageID: m.MessageID,
			From:      m.From,
			To:        m.GroupID,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	})

	p.notify(KindGroupMessage, m.From, fmt.Sprintf("[%s] %s", g.Name, m.Content), m)
	return nil
}

// ===== FILES =====

func (p *Peer) handleFileOffer(_ context.Context, m *protocol.FileOffer, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}

	o, isNew := p.files.ReceiveOffer(filetransfer.Offer{
		FileID:      m.FileID,
		Peer:        m.From,
		Filename:    m.Filename,
		Size:        m.Filesize,
		Filetype:    m.Filetype,
		Description: m.Description,
		Checksum:    m.Checksum,
	})
	if !isNew {
		return fmt.Errorf("%w: repeated offer %s", ErrIgnored, m.FileID)
	}

	text := fmt.Sprintf("%s is sending you a file: %s (%d bytes)", p.dir.DisplayName(m.From), o.Filename, o.Size)
	if o.Description != "" {
		text += ": " + o.Description
	}
	p.notify(KindFileOffer, m.From, text, o)
	return nil
}

func (p *Peer) handleFileAccept(ctx context.Context, m *protocol.FileAccept, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}

	_, chunks, err := p.files.ReceiveAccept(m.FileID, m.From)
	if err != nil {
		if errors.Is(err, filetransfer.ErrUnknownTransfer) || errors.Is(err, filetransfer.ErrAlreadyAccepted) {
			return fmt.Errorf("%w: %w", ErrIgnored, err)
		}
		return err
	}

	p.wg.Add(1)
	go p.sendChunks(ctx, m.From, chunks)
	return nil
}

func (p *Peer) handleFileChunk(_ context.Context, m *protocol.FileChunk, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}

	res, err := p.files.ReceiveChunk(m.From, filetransfer.Chunk{
		FileID:      m.FileID,
		Index:       m.ChunkIndex,
		Total:       m.TotalChunks,
		ChunkSize:   m.ChunkSize,
		Parity:      m.ParityChunks,
		EncodedSize: m.EncodedSize,
		Data:        strings.ReplaceAll(m.Data, "\n", ""),
	})
	switch {
	case errors.Is(err, filetransfer.ErrUnknownTransfer):
		return fmt.Errorf("%w: %w", ErrIgnored, err)
	case err != nil:
		p.notify(KindFileFailed, m.From, fmt.Sprintf("transfer %s failed: %v", m.FileID, err), nil)
		return err
	case res == nil:
		return nil
	}

	p.record("file", func(a *storage.Archive) error {
		return a.SaveFile(storage.FileRecord{
			FileID:     res.FileID,
			From:       res.From,
			Filename:   res.Filename,
			Path:       res.Path,
			Size:       res.Size,
			Checksum:   res.Checksum,
			Recovered:  res.Recovered,
			ReceivedAt: now().Unix(),
		})
	})

	p.notify(KindFileComplete, m.From, fmt.Sprintf("file transfer of %s is complete", res.Filename), res)
	return nil
}

// ===== GAMES =====

func (p *Peer) handleGameInvite(_ context.Context, m *protocol.GameInvite, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}
	if m.Symbol != "" {
		if sym, err := game.ParseSymbol(m.Symbol); err != nil || sym != game.X {
			return fmt.Errorf("%w: inviter must play X, got %q", game.ErrSymbolClash, m.Symbol)
		}
	}

	inv, err := p.games.ReceiveInvite(m.GameID, m.From)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("%s is inviting you to play tic-tac-toe (%s)", p.dir.DisplayName(m.From), m.GameID)
	p.notify(KindGameInvite, m.From, text, inv)
	return nil
}

func (p *Peer) handleGameAccept(_ context.Context, m *protocol.GameAccept, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}

	s, err := p.games.ReceiveAccept(m.GameID, m.From)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIgnored, err)
	}
	p.notify(KindGameStart, m.From, fmt.Sprintf("game %s started, you play X", m.GameID), s)
	return nil
}

func (p *Peer) handleGameMove(_ context.Context, m *protocol.GameMove, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}

	if m.Symbol != "" {
		sym, err := game.ParseSymbol(m.Symbol)
		if err != nil {
			return err
		}
		if err := p.games.CheckSymbol(m.GameID, m.From, sym); err != nil {
			if errors.Is(err, game.ErrNoSession) {
				return fmt.Errorf("%w: %w", ErrIgnored, err)
			}
			return err
		}
	}

	res, err := p.games.Move(m.GameID, m.From, m.Position, m.Turn)
	if err != nil {
		if errors.Is(err, game.ErrNoSession) {
			return fmt.Errorf("%w: %w", ErrIgnored, err)
		}
		return err
	}

	view := newBoardView(res)
	p.notify(KindGameMove, m.From, fmt.Sprintf("%s played %d in %s", res.Symbol, res.Position, m.GameID), view)

	if res.Terminal {
		outcome := res.OutcomeFor(p.UserID())
		p.notify(KindGameResult, m.From, fmt.Sprintf("game %s: %s", m.GameID, outcome), view)
	}
	return nil
}

func (p *Peer) handleGameResult(_ context.Context, m *protocol.GameResult, _ netip.AddrPort) error {
	if err := p.addressedToMe(m.To); err != nil {
		return err
	}

	s, ended := p.games.End(m.GameID, m.From)
	if !ended {
		// the final move already concluded the session here
		return fmt.Errorf("%w: no session for result of %s", ErrIgnored, m.GameID)
	}

	outcome := mirrorOutcome(game.Outcome(strings.ToUpper(m.Result)))
	p.notify(KindGameResult, m.From, fmt.Sprintf("game %s: %s", m.GameID, outcome), s)
	return nil
}

// mirrorOutcome turns the reporter's outcome into the local one
func mirrorOutcome(o game.Outcome) game.Outcome {
	switch o {
	case game.OutcomeWin:
		return game.OutcomeLoss
	case game.OutcomeLoss, game.OutcomeForfeit:
		return game.OutcomeWin
	}
	return o
}
