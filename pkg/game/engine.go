package game

import (
	"fmt"
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("lsnp/game")

var (
	ErrSelfInvite  = fmt.Errorf("%w: cannot invite yourself", ErrInvalidTransition)
	ErrGameExists  = fmt.Errorf("%w: game id already in use", ErrInvalidTransition)
	ErrNoInvite    = fmt.Errorf("%w: no matching invite", ErrInvalidTransition)
	ErrNoSession   = fmt.Errorf("%w: no active session", ErrInvalidTransition)
	ErrNotPlayer   = fmt.Errorf("%w: not a player in this game", ErrInvalidTransition)
	ErrNotYourTurn = fmt.Errorf("%w: not your turn", ErrInvalidTransition)
	ErrStaleTurn   = fmt.Errorf("%w: unexpected turn number", ErrInvalidTransition)
	ErrSymbolClash = fmt.Errorf("%w: symbol does not match player", ErrInvalidTransition)
)

// Outcome is a terminal result from one player's perspective
type Outcome string

const (
	OutcomeWin     Outcome = "WIN"
	OutcomeLoss    Outcome = "LOSS"
	OutcomeDraw    Outcome = "DRAW"
	OutcomeForfeit Outcome = "FORFEIT"
)

// Invite is an invitation that has not been accepted yet
type Invite struct {
	GameID  string    `json:"gameId"`
	Inviter string    `json:"inviter"`
	Invitee string    `json:"invitee"`
	At      time.Time `json:"at"`
}

// Session is a snapshot of an active game.
// The inviter always plays X and moves first.
type Session struct {
	GameID string `json:"gameId"`
	X      string `json:"x"`
	O      string `json:"o"`
	Board  Board  `json:"-"`
	Turn   Symbol `json:"-"`
}

// SymbolOf returns the symbol a user plays
func (s Session) SymbolOf(userID string) (Symbol, bool) {
	switch userID {
	case s.X:
		return X, true
	case s.O:
		return O, true
	}
	return Empty, false
}

// Opponent returns the other player
func (s Session) Opponent(userID string) string {
	if userID == s.X {
		return s.O
	}
	return s.X
}

// PlayerFor returns the user whose symbol is s
func (s Session) PlayerFor(sym Symbol) string {
	if sym == X {
		return s.X
	}
	return s.O
}

// NextTurn returns the 1-based number of the next move
func (s Session) NextTurn() int {
	return s.Board.Moves() + 1
}

// MoveResult describes an accepted move
type MoveResult struct {
	Session  Session
	Actor    string
	Symbol   Symbol
	Position int
	Turn     int

	Terminal bool
	Draw     bool
	Winner   Symbol
	Line     []int
}

// OutcomeFor returns the terminal outcome from userID's perspective
func (r MoveResult) OutcomeFor(userID string) Outcome {
	if r.Draw {
		return OutcomeDraw
	}
	if r.Session.PlayerFor(r.Winner) == userID {
		return OutcomeWin
	}
	return OutcomeLoss
}

// Engine owns the game state of the local peer
type Engine struct {
	self string

	outgoing map[string]Invite
	pending  map[string]Invite
	sessions map[string]*Session

	clock func() time.Time
	mu    sync.Mutex
}

// NewEngine creates a new game engine for the local user id
func NewEngine(self string) *Engine {
	return &Engine{
		self:     self,
		outgoing: make(map[string]Invite),
		pending:  make(map[string]Invite),
		sessions: make(map[string]*Session),
		clock:    time.Now,
	}
}

func (e *Engine) inUse(gameID string) bool {
	_, out := e.outgoing[gameID]
	_, in := e.pending[gameID]
	_, active := e.sessions[gameID]
	return out || in || active
}

// ===== INVITATIONS =====

// Invite records an outgoing invitation. The inviter holds no session
// until the invitee accepts.
func (e *Engine) Invite(gameID, to string) (Invite, error) {
	if to == e.self {
		return Invite{}, ErrSelfInvite
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inUse(gameID) {
		return Invite{}, fmt.Errorf("%w: %s", ErrGameExists, gameID)
	}

	inv := Invite{GameID: gameID, Inviter: e.self, Invitee: to, At: e.clock()}
	e.outgoing[gameID] = inv
	return inv, nil
}

// ReceiveInvite stores an invitation addressed to the local user
func (e *Engine) ReceiveInvite(gameID, from string) (Invite, error) {
	if from == e.self {
		return Invite{}, ErrSelfInvite
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inUse(gameID) {
		return Invite{}, fmt.Errorf("%w: %s", ErrGameExists, gameID)
	}

	inv := Invite{GameID: gameID, Inviter: from, Invitee: e.self, At: e.clock()}
	e.pending[gameID] = inv
	log.Infof("game %s: invite from %s", gameID, from)
	return inv, nil
}

// Accept accepts a pending invitation and starts the session
func (e *Engine) Accept(gameID string) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inv, ok := e.pending[gameID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNoInvite, gameID)
	}
	delete(e.pending, gameID)

	s := &Session{GameID: gameID, X: inv.Inviter, O: e.self, Turn: X}
	e.sessions[gameID] = s
	log.Infof("game %s: accepted invite from %s", gameID, inv.Inviter)
	return *s, nil
}

// ReceiveAccept starts the session on the inviter's side
func (e *Engine) ReceiveAccept(gameID, from string) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inv, ok := e.outgoing[gameID]
	if !ok || inv.Invitee != from {
		return Session{}, fmt.Errorf("%w: %s from %s", ErrNoInvite, gameID, from)
	}
	delete(e.outgoing, gameID)

	s := &Session{GameID: gameID, X: e.self, O: from, Turn: X}
	e.sessions[gameID] = s
	log.Infof("game %s: %s accepted, session started", gameID, from)
	return *s, nil
}

// ===== MOVES =====

// Move applies a move by actor. turn is the 1-based move number the actor
// claims, or 0 when unknown. Moves are accepted only from the player whose
// symbol is due; a terminal move discards the session.
func (e *Engine) Move(gameID, actor string, position, turn int) (MoveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[gameID]
	if !ok {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrNoSession, gameID)
	}

	sym, ok := s.SymbolOf(actor)
	if !ok {
		return MoveResult{}, fmt.Errorf("%w: %s in %s", ErrNotPlayer, actor, gameID)
	}
	if sym != s.Turn {
		return MoveResult{}, fmt.Errorf("%w: %s plays %s, turn is %s", ErrNotYourTurn, actor, sym, s.Turn)
	}
	if turn != 0 && turn != s.NextTurn() {
		return MoveResult{}, fmt.Errorf("%w: got %d, want %d", ErrStaleTurn, turn, s.NextTurn())
	}

	expected := s.NextTurn()
	if err := s.Board.Place(position, sym); err != nil {
		return MoveResult{}, err
	}
	s.Turn = sym.Opponent()

	res := MoveResult{
		Actor:    actor,
		Symbol:   sym,
		Position: position,
		Turn:     expected,
	}

	if winner, line, won := s.Board.Winner(); won {
		res.Terminal = true
		res.Winner = winner
		res.Line = line
	} else if s.Board.Full() {
		res.Terminal = true
		res.Draw = true
	}

	res.Session = *s
	if res.Terminal {
		delete(e.sessions, gameID)
		log.Infof("game %s finished (winner=%q draw=%v)", gameID, res.Winner, res.Draw)
	}
	return res, nil
}

// CheckSymbol verifies that a claimed symbol matches the actor's role
func (e *Engine) CheckSymbol(gameID, actor string, claimed Symbol) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[gameID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, gameID)
	}
	if sym, _ := s.SymbolOf(actor); sym != claimed {
		return fmt.Errorf("%w: %s claims %s", ErrSymbolClash, actor, claimed)
	}
	return nil
}

// Forfeit ends an active session on behalf of actor
func (e *Engine) Forfeit(gameID, actor string) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[gameID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrNoSession, gameID)
	}
	if _, ok := s.SymbolOf(actor); !ok {
		return Session{}, fmt.Errorf("%w: %s in %s", ErrNotPlayer, actor, gameID)
	}
	delete(e.sessions, gameID)
	return *s, nil
}

// End discards a session after a result from the opponent. It only ends
// sessions the reporter plays in.
func (e *Engine) End(gameID, reporter string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[gameID]
	if !ok {
		return Session{}, false
	}
	if _, player := s.SymbolOf(reporter); !player {
		return Session{}, false
	}
	delete(e.sessions, gameID)
	return *s, true
}

// ===== QUERIES =====

// Session returns a snapshot of an active session
func (e *Engine) Session(gameID string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[gameID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns all active sessions ordered by game id
func (e *Engine) Sessions() []Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// PendingInvites returns invitations awaiting a local accept
func (e *Engine) PendingInvites() []Invite {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Invite, 0, len(e.pending))
	for _, inv := range e.pending {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// OutgoingInvites returns invitations sent and not yet accepted
func (e *Engine) OutgoingInvites() []Invite {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Invite, 0, len(e.outgoing))
	for _, inv := range e.outgoing {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}
