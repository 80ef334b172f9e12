package network

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ZentaChain/lsnp-node/pkg/directory"
	"github.com/ZentaChain/lsnp-node/pkg/filetransfer"
	"github.com/ZentaChain/lsnp-node/pkg/game"
	"github.com/ZentaChain/lsnp-node/pkg/protocol"
	"github.com/ZentaChain/lsnp-node/pkg/storage"
)

var (
	ErrEmptyContent  = errors.New("content is empty")
	ErrSelfTarget    = errors.New("cannot target yourself")
	ErrNotMember     = errors.New("not a member of the group")
	ErrUnknownAction = errors.New("unknown group action")
)

// ===== PRESENCE =====

// Announce sets the local status and broadcasts a PROFILE immediately
func (p *Peer) Announce(status string) error {
	status = strings.TrimSpace(status)
	if status != "" {
		p.mu.Lock()
		p.status = status
		p.mu.Unlock()
	}
	return p.broadcast(p.profile(protocol.TypeProfile))
}

// Ping broadcasts a PING carrying the local profile without avatar
func (p *Peer) Ping() error {
	return p.broadcast(p.profile(protocol.TypePing))
}

// ===== SOCIAL =====

// Post broadcasts a public post and returns its timestamp, which peers use to like it
func (p *Peer) Post(content string) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, ErrEmptyContent
	}

	m := &protocol.Post{Content: content, TTL: p.cfg.PostTTL}
	p.stamp(m, &m.Envelope, true)
	if err := p.broadcast(m); err != nil {
		return 0, err
	}

	p.record("post", func(a *storage.Archive) error {
		return a.SaveMessage(&storage.StoredMessage{
			Kind:      storage.KindPost,
			MessageID: m.MessageID,
			From:      m.From,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Outgoing:  true,
		})
	})
	return m.Timestamp, nil
}

// SendDM sends a direct message
func (p *Peer) SendDM(to, content string) error {
	if err := p.checkTarget(to); err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	m := &protocol.DirectMessage{Envelope: protocol.Envelope{To: to}, Content: content}
	p.stamp(m, &m.Envelope, true)
	if err := p.unicast(to, m); err != nil {
		return err
	}

	p.record("direct message", func(a *storage.Archive) error {
		return a.SaveMessage(&storage.StoredMessage{
			Kind:      storage.KindDirect,
			MessageID: m.MessageID,
			From:      m.From,
			To:        to,
			Content:   content,
			Timestamp: m.Timestamp,
			Outgoing:  true,
		})
	})
	return nil
}

// Follow starts following a user and tells them
func (p *Peer) Follow(to string) error {
	if err := p.checkTarget(to); err != nil {
		return err
	}
	p.dir.AddFollowing(to)
	return p.sendFollow(to, protocol.TypeFollow)
}

// Unfollow stops following a user and tells them
func (p *Peer) Unfollow(to string) error {
	if err := p.checkTarget(to); err != nil {
		return err
	}
	p.dir.RemoveFollowing(to)
	return p.sendFollow(to, protocol.TypeUnfollow)
}

func (p *Peer) sendFollow(to string, kind protocol.MessageType) error {
	m := &protocol.Follow{Envelope: protocol.Envelope{To: to}, Kind: kind}
	p.stamp(m, &m.Envelope, true)
	return p.unicast(to, m)
}

// Like likes the post author published at postTimestamp
func (p *Peer) Like(to string, postTimestamp int64) error {
	return p.sendLike(to, postTimestamp, protocol.TypeLike)
}

// Unlike withdraws a like
func (p *Peer) Unlike(to string, postTimestamp int64) error {
	return p.sendLike(to, postTimestamp, protocol.TypeUnlike)
}

func (p *Peer) sendLike(to string, postTimestamp int64, kind protocol.MessageType) error {
	if err := p.checkTarget(to); err != nil {
		return err
	}

	m := &protocol.Like{
		Envelope:      protocol.Envelope{To: to},
		Kind:          kind,
		PostTimestamp: postTimestamp,
		Action:        string(kind),
	}
	p.stamp(m, &m.Envelope, true)
	if err := p.unicast(to, m); err != nil {
		return err
	}

	p.record("like", func(a *storage.Archive) error {
		return a.SaveLike(storage.Like{
			From:          m.From,
			To:            to,
			PostTimestamp: postTimestamp,
			Liked:         !m.Unliked(),
			Timestamp:     m.Timestamp,
		})
	})
	return nil
}

// ===== GROUPS =====

// CreateGroup creates a group owned by the local user and announces it
func (p *Peer) CreateGroup(groupID, name string, members []string) error {
	self := p.UserID()
	all := []string{self}
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" || slices.Contains(all, m) {
			continue
		}
		if _, err := directory.ParseUserID(m); err != nil {
			return err
		}
		all = append(all, m)
	}

	if err := p.dir.CreateGroup(directory.Group{ID: groupID, Name: name, Owner: self, Members: all}); err != nil {
		return err
	}
	g, _ := p.dir.Group(groupID)

	m := &protocol.GroupCreate{GroupID: g.ID, GroupName: g.Name, Members: g.Members}
	p.stamp(m, &m.Envelope, true)
	return p.broadcast(m)
}

// UpdateGroup adds or removes one member of a group the local user owns.
// action is "add" or "remove".
func (p *Peer) UpdateGroup(groupID, action, user string) error {
	if _, err := directory.ParseUserID(user); err != nil {
		return err
	}

	var add, remove []string
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "add":
		add = []string{user}
	case "remove":
		remove = []string{user}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	if _, err := p.dir.UpdateGroupMembership(groupID, p.UserID(), add, remove); err != nil {
		return err
	}
	g, _ := p.dir.Group(groupID)

	m := &protocol.GroupUpdate{
		GroupID:   groupID,
		GroupName: g.Name,
		Add:       add,
		Remove:    remove,
		Members:   g.Members,
	}
	p.stamp(m, &m.Envelope, true)
	return p.broadcast(m)
}

// SendGroupMessage broadcasts a message to a group the local user belongs to
func (p *Peer) SendGroupMessage(groupID, content string) error {
	if !p.dir.IsMember(groupID, p.UserID()) {
		return fmt.Errorf("%w: %s", ErrNotMember, groupID)
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	m := &protocol.GroupMessage{GroupID: groupID, Content: content}
	p.stamp(m, &m.Envelope, true)
	if err := p.broadcast(m); err != nil {
		return err
	}

	p.record("group message", func(a *storage.Archive) error {
		return a.SaveMessage(&storage.StoredMessage{
			Kind:      storage.KindGroup,
			MessageID: m.MessageID,
			From:      m.From,
			To:        groupID,
			Content:   content,
			Timestamp: m.Timestamp,
			Outgoing:  true,
		})
	})
	return nil
}

// ===== FILES =====

// OfferFile offers a local file to a peer and returns the new file id
func (p *Peer) OfferFile(to, path string) (string, error) {
	return p.OfferFileWithDescription(to, path, "")
}

// OfferFileWithDescription offers a local file with a description
func (p *Peer) OfferFileWithDescription(to, path, description string) (string, error) {
	if err := p.checkTarget(to); err != nil {
		return "", err
	}

	fileID := protocol.GenerateFileID()
	o, err := p.files.Offer(fileID, to, path, description)
	if err != nil {
		return "", err
	}

	m := &protocol.FileOffer{
		Envelope:    protocol.Envelope{To: to},
		FileID:      fileID,
		Filename:    o.Filename,
		Filesize:    o.Size,
		Filetype:    o.Filetype,
		Description: o.Description,
		Checksum:    o.Checksum,
	}
	p.stamp(m, &m.Envelope, true)
	if err := p.unicast(to, m); err != nil {
		return "", err
	}
	return fileID, nil
}

// AcceptFile accepts an incoming offer; the sender starts streaming chunks
func (p *Peer) AcceptFile(fileID string) error {
	o, err := p.files.Accept(fileID)
	if err != nil {
		return err
	}

	m := &protocol.FileAccept{Envelope: protocol.Envelope{To: o.Peer}, FileID: fileID}
	p.stamp(m, &m.Envelope, true)
	return p.unicast(o.Peer, m)
}

// DeclineFile drops an incoming offer without telling the sender
func (p *Peer) DeclineFile(fileID string) error {
	if !p.files.Decline(fileID) {
		return fmt.Errorf("%w: %s", filetransfer.ErrUnknownTransfer, fileID)
	}
	return nil
}

// sendChunks streams chunks in index order with the configured delay between them
func (p *Peer) sendChunks(ctx context.Context, to string, chunks []filetransfer.Chunk) {
	defer p.wg.Done()
	if len(chunks) == 0 {
		return
	}
	fileID := chunks[0].FileID

	for i, c := range chunks {
		if i > 0 && p.cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				log.Warnf("transfer %s interrupted after %d of %d chunks", fileID, i, len(chunks))
				return
			case <-time.After(p.cfg.ChunkDelay):
			}
		}

		m := &protocol.FileChunk{
			Envelope:     protocol.Envelope{To: to},
			FileID:       c.FileID,
			ChunkIndex:   c.Index,
			TotalChunks:  c.Total,
			ChunkSize:    c.ChunkSize,
			ParityChunks: c.Parity,
			EncodedSize:  c.EncodedSize,
			Data:         c.Data,
		}
		p.stamp(m, &m.Envelope, false)
		if err := p.unicast(to, m); err != nil {
			log.Warnf("transfer %s: chunk %d: %v", fileID, c.Index, err)
			if errors.Is(err, ErrTransportClosed) {
				return
			}
		}
	}
	p.files.MarkSent(fileID)
}

// ===== GAMES =====

// InviteGame invites a peer to tic-tac-toe and returns the game id.
// The inviter plays X and moves first.
func (p *Peer) InviteGame(to string) (string, error) {
	if err := p.checkTarget(to); err != nil {
		return "", err
	}

	gameID := protocol.GenerateGameID()
	if _, err := p.games.Invite(gameID, to); err != nil {
		return "", err
	}

	m := &protocol.GameInvite{Envelope: protocol.Envelope{To: to}, GameID: gameID, Symbol: game.X.String()}
	p.stamp(m, &m.Envelope, true)
	if err := p.unicast(to, m); err != nil {
		return "", err
	}
	return gameID, nil
}

// AcceptGame accepts a pending invite and starts the session
func (p *Peer) AcceptGame(gameID string) error {
	s, err := p.games.Accept(gameID)
	if err != nil {
		return err
	}

	m := &protocol.GameAccept{Envelope: protocol.Envelope{To: s.X}, GameID: gameID}
	p.stamp(m, &m.Envelope, true)
	if err := p.unicast(s.X, m); err != nil {
		return err
	}

	p.notify(KindGameStart, s.X, fmt.Sprintf("game %s started, you play O", gameID), s)
	return nil
}

// Move places the local symbol at position (0-8). A move that ends the game
// also sends the result to the opponent.
func (p *Peer) Move(gameID string, position int) error {
	self := p.UserID()
	res, err := p.games.Move(gameID, self, position, 0)
	if err != nil {
		return err
	}
	opponent := res.Session.Opponent(self)

	m := &protocol.GameMove{
		Envelope: protocol.Envelope{To: opponent},
		GameID:   gameID,
		Position: position,
		Symbol:   res.Symbol.String(),
		Turn:     res.Turn,
	}
	p.stamp(m, &m.Envelope, true)
	if err := p.unicast(opponent, m); err != nil {
		return err
	}

	p.notify(KindGameMove, self, fmt.Sprintf("%s played %d in %s", res.Symbol, position, gameID), newBoardView(res))

	if res.Terminal {
		outcome := res.OutcomeFor(self)
		if err := p.sendResult(gameID, opponent, outcome, res.Winner, res.Line); err != nil {
			return err
		}
		p.notify(KindGameResult, self, fmt.Sprintf("game %s: %s", gameID, outcome), newBoardView(res))
	}
	return nil
}

// ForfeitGame abandons an active game; the opponent is told and wins
func (p *Peer) ForfeitGame(gameID string) error {
	self := p.UserID()
	s, err := p.games.Forfeit(gameID, self)
	if err != nil {
		return err
	}
	opponent := s.Opponent(self)
	sym, _ := s.SymbolOf(self)

	if err := p.sendResult(gameID, opponent, game.OutcomeForfeit, sym, nil); err != nil {
		return err
	}
	p.notify(KindGameResult, self, fmt.Sprintf("game %s: forfeited", gameID), s)
	return nil
}

func (p *Peer) sendResult(gameID, to string, outcome game.Outcome, sym game.Symbol, line []int) error {
	m := &protocol.GameResult{
		Envelope:    protocol.Envelope{To: to},
		GameID:      gameID,
		Result:      string(outcome),
		WinningLine: line,
	}
	if sym != game.Empty {
		m.Symbol = sym.String()
	}
	p.stamp(m, &m.Envelope, true)
	return p.unicast(to, m)
}

func (p *Peer) checkTarget(to string) error {
	if _, err := directory.ParseUserID(to); err != nil {
		return err
	}
	if to == p.UserID() {
		return ErrSelfTarget
	}
	return nil
}
