package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrBadField     = errors.New("malformed field")
	ErrUnknownType  = errors.New("unknown message type")
)

// Message is a decoded, validated LSNP message
type Message interface {
	Type() MessageType
	Sender() string
	TokenLiteral() string
	SetToken(token string)
	Frame() *Frame
}

// Envelope carries the fields most messages share.
// For PROFILE, PING and POST the sender travels as USER_ID, otherwise as FROM.
type Envelope struct {
	From      string
	To        string
	Timestamp int64
	MessageID string
	Token     string

	raw *Frame
}

// Sender returns the declared origin user id
func (e *Envelope) Sender() string { return e.From }

// TokenLiteral returns the TOKEN field
func (e *Envelope) TokenLiteral() string { return e.Token }

// SetToken sets the TOKEN field
func (e *Envelope) SetToken(token string) { e.Token = token }

// Raw returns the frame the message was decoded from, or nil
func (e *Envelope) Raw() *Frame { return e.raw }

func (e *Envelope) header(t MessageType, senderKey string) *Frame {
	f := NewTypedFrame(t)
	f.Set(senderKey, e.From)
	f.SetIfNotEmpty(FieldTo, e.To)
	return f
}

// trailer writes the shared optional fields, then any keys from the source
// frame that the typed message does not model
func (e *Envelope) trailer(f *Frame) *Frame {
	if e.Timestamp != 0 {
		f.Set(FieldTimestamp, strconv.FormatInt(e.Timestamp, 10))
	}
	f.SetIfNotEmpty(FieldMessageID, e.MessageID)
	f.SetIfNotEmpty(FieldToken, e.Token)
	if e.raw != nil {
		for _, fl := range e.raw.Fields() {
			if !f.Has(fl.Key) {
				f.Set(fl.Key, fl.Value)
			}
		}
	}
	return f
}

// ===== PRESENCE =====

// Profile is a PROFILE or PING announcement
type Profile struct {
	Envelope
	Kind           MessageType
	DisplayName    string
	Status         string
	AvatarType     string
	AvatarEncoding string
	AvatarData     string
}

func (m *Profile) Type() MessageType {
	if m.Kind == "" {
		return TypeProfile
	}
	return m.Kind
}

func (m *Profile) Frame() *Frame {
	f := m.header(m.Type(), FieldUserID)
	f.Set(FieldDisplayName, m.DisplayName)
	f.Set(FieldStatus, m.Status)
	if m.AvatarData != "" {
		f.SetIfNotEmpty(FieldAvatarType, m.AvatarType)
		f.SetIfNotEmpty(FieldAvatarEncoding, m.AvatarEncoding)
		f.Set(FieldAvatarData, m.AvatarData)
	}
	return m.trailer(f)
}

// ===== SOCIAL =====

// Post is a public broadcast post
type Post struct {
	Envelope
	Content string
	TTL     int
}

func (m *Post) Type() MessageType { return TypePost }

func (m *Post) Frame() *Frame {
	f := m.header(TypePost, FieldUserID)
	f.Set(FieldContent, m.Content)
	if m.TTL > 0 {
		f.Set(FieldTTL, strconv.Itoa(m.TTL))
	}
	return m.trailer(f)
}

// DirectMessage is a private message to one peer
type DirectMessage struct {
	Envelope
	Content string
}

func (m *DirectMessage) Type() MessageType { return TypeDM }

func (m *DirectMessage) Frame() *Frame {
	f := m.header(TypeDM, FieldFrom)
	f.Set(FieldContent, m.Content)
	return m.trailer(f)
}

// Follow is a FOLLOW or UNFOLLOW notice
type Follow struct {
	Envelope
	Kind MessageType
}

func (m *Follow) Type() MessageType {
	if m.Kind == "" {
		return TypeFollow
	}
	return m.Kind
}

func (m *Follow) Frame() *Frame {
	return m.trailer(m.header(m.Type(), FieldFrom))
}

// Like is a LIKE or UNLIKE of a post identified by its timestamp
type Like struct {
	Envelope
	Kind          MessageType
	PostTimestamp int64
	Action        string
}

func (m *Like) Type() MessageType {
	if m.Kind == "" {
		return TypeLike
	}
	return m.Kind
}

// Unliked reports whether the message withdraws a like.
// A LIKE frame carrying ACTION: UNLIKE counts as an unlike.
func (m *Like) Unliked() bool {
	return m.Type() == TypeUnlike || strings.EqualFold(m.Action, string(TypeUnlike))
}

func (m *Like) Frame() *Frame {
	f := m.header(m.Type(), FieldFrom)
	f.Set(FieldPostTimestamp, strconv.FormatInt(m.PostTimestamp, 10))
	f.SetIfNotEmpty(FieldAction, m.Action)
	return m.trailer(f)
}

// ===== GROUPS =====

// GroupCreate announces a group and its initial members
type GroupCreate struct {
	Envelope
	GroupID   string
	GroupName string
	Members   []string
}

func (m *GroupCreate) Type() MessageType { return TypeGroupCreate }

func (m *GroupCreate) Frame() *Frame {
	f := m.header(TypeGroupCreate, FieldFrom)
	f.Set(FieldGroupID, m.GroupID)
	f.SetIfNotEmpty(FieldGroupName, m.GroupName)
	f.Set(FieldMembers, JoinList(m.Members))
	return m.trailer(f)
}

// GroupUpdate changes group membership. Members carries the resulting list
// so that newly added members can build their record.
type GroupUpdate struct {
	Envelope
	GroupID   string
	GroupName string
	Add       []string
	Remove    []string
	Members   []string
}

func (m *GroupUpdate) Type() MessageType { return TypeGroupUpdate }

func (m *GroupUpdate) Frame() *Frame {
	f := m.header(TypeGroupUpdate, FieldFrom)
	f.Set(FieldGroupID, m.GroupID)
	f.SetIfNotEmpty(FieldGroupName, m.GroupName)
	f.SetIfNotEmpty(FieldAdd, JoinList(m.Add))
	f.SetIfNotEmpty(FieldRemove, JoinList(m.Remove))
	f.SetIfNotEmpty(FieldMembers, JoinList(m.Members))
	return m.trailer(f)
}

// GroupMessage is a message to every member of a group
type GroupMessage struct {
	Envelope
	GroupID string
	Content string
}

func (m *GroupMessage) Type() MessageType { return TypeGroupMessage }

func (m *GroupMessage) Frame() *Frame {
	f := m.header(TypeGroupMessage, FieldFrom)
	f.Set(FieldGroupID, m.GroupID)
	f.Set(FieldContent, m.Content)
	return m.trailer(f)
}

// ===== FILE TRANSFER =====

// FileOffer proposes a file to a peer
type FileOffer struct {
	Envelope
	FileID      string
	Filename    string
	Filesize    int64
	Filetype    string
	Description string
	Checksum    string
}

func (m *FileOffer) Type() MessageType { return TypeFileOffer }

func (m *FileOffer) Frame() *Frame {
	f := m.header(TypeFileOffer, FieldFrom)
	f.Set(FieldFileID, m.FileID)
	f.Set(FieldFilename, m.Filename)
	f.Set(FieldFilesize, strconv.FormatInt(m.Filesize, 10))
	f.SetIfNotEmpty(FieldFiletype, m.Filetype)
	f.SetIfNotEmpty(FieldDescription, m.Description)
	f.SetIfNotEmpty(FieldChecksum, m.Checksum)
	return m.trailer(f)
}

// FileAccept accepts an offer
type FileAccept struct {
	Envelope
	FileID string
}

func (m *FileAccept) Type() MessageType { return TypeFileAccept }

func (m *FileAccept) Frame() *Frame {
	f := m.header(TypeFileAccept, FieldFrom)
	f.Set(FieldFileID, m.FileID)
	return m.trailer(f)
}

// FileChunk carries one slice of the encoded file content.
// Indices at or above TotalChunks are Reed-Solomon parity shards.
type FileChunk struct {
	Envelope
	FileID       string
	ChunkIndex   int
	TotalChunks  int
	ChunkSize    int
	ParityChunks int
	EncodedSize  int
	Data         string
}

func (m *FileChunk) Type() MessageType { return TypeFileChunk }

func (m *FileChunk) Frame() *Frame {
	f := m.header(TypeFileChunk, FieldFrom)
	f.Set(FieldFileID, m.FileID)
	f.Set(FieldChunkIndex, strconv.Itoa(m.ChunkIndex))
	f.Set(FieldTotalChunks, strconv.Itoa(m.TotalChunks))
	if m.ChunkSize > 0 {
		f.Set(FieldChunkSize, strconv.Itoa(m.ChunkSize))
	}
	if m.ParityChunks > 0 {
		f.Set(FieldParityChunks, strconv.Itoa(m.ParityChunks))
		f.Set(FieldEncodedSize, strconv.Itoa(m.EncodedSize))
	}
	f.Set(FieldData, m.Data)
	return m.trailer(f)
}

// ===== TIC-TAC-TOE =====

// GameInvite invites a peer to a game; the inviter plays SYMBOL
type GameInvite struct {
	Envelope
	GameID string
	Symbol string
}

func (m *GameInvite) Type() MessageType { return TypeGameInvite }

func (m *GameInvite) Frame() *Frame {
	f := m.header(TypeGameInvite, FieldFrom)
	f.Set(FieldGameID, m.GameID)
	f.SetIfNotEmpty(FieldSymbol, m.Symbol)
	return m.trailer(f)
}

// GameAccept accepts an invite
type GameAccept struct {
	Envelope
	GameID string
}

func (m *GameAccept) Type() MessageType { return TypeGameAccept }

func (m *GameAccept) Frame() *Frame {
	f := m.header(TypeGameAccept, FieldFrom)
	f.Set(FieldGameID, m.GameID)
	return m.trailer(f)
}

// GameMove places a symbol on the board
type GameMove struct {
	Envelope
	GameID   string
	Position int
	Symbol   string
	Turn     int
}

func (m *GameMove) Type() MessageType { return TypeGameMove }

func (m *GameMove) Frame() *Frame {
	f := m.header(TypeGameMove, FieldFrom)
	f.Set(FieldGameID, m.GameID)
	f.Set(FieldPosition, strconv.Itoa(m.Position))
	f.SetIfNotEmpty(FieldSymbol, m.Symbol)
	if m.Turn > 0 {
		f.Set(FieldTurn, strconv.Itoa(m.Turn))
	}
	return m.trailer(f)
}

// GameResult reports a terminal game from the sender's perspective
type GameResult struct {
	Envelope
	GameID      string
	Result      string
	Symbol      string
	WinningLine []int
}

func (m *GameResult) Type() MessageType { return TypeGameResult }

func (m *GameResult) Frame() *Frame {
	f := m.header(TypeGameResult, FieldFrom)
	f.Set(FieldGameID, m.GameID)
	f.Set(FieldResult, m.Result)
	f.SetIfNotEmpty(FieldSymbol, m.Symbol)
	if len(m.WinningLine) > 0 {
		parts := make([]string, len(m.WinningLine))
		for i, p := range m.WinningLine {
			parts[i] = strconv.Itoa(p)
		}
		f.Set(FieldWinningLine, strings.Join(parts, ","))
	}
	return m.trailer(f)
}

// ===== ENCODE / DECODE =====

// Encode serializes a message to datagram bytes
func Encode(m Message) ([]byte, error) {
	return m.Frame().Encode()
}

// Decode parses datagram bytes into a typed message
func Decode(data []byte) (Message, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	return ParseMessage(f)
}

// ParseMessage maps a frame to its typed message, validating required fields
func ParseMessage(f *Frame) (Message, error) {
	r := &fieldReader{f: f}
	t := MessageType(r.required(FieldType))
	if r.err != nil {
		return nil, r.err
	}

	var m Message
	switch t {
	case TypeProfile, TypePing:
		m = &Profile{
			Envelope:       r.envelope(FieldUserID, false),
			Kind:           t,
			DisplayName:    r.required(FieldDisplayName),
			Status:         r.required(FieldStatus),
			AvatarType:     r.optional(FieldAvatarType),
			AvatarEncoding: r.optional(FieldAvatarEncoding),
			AvatarData:     r.optional(FieldAvatarData),
		}
	case TypePost:
		env := r.envelope(FieldUserID, false)
		m = &Post{
			Envelope: env,
			Content:  r.required(FieldContent),
			TTL:      r.intField(FieldTTL, false),
		}
		r.requireTimestamp(env.Timestamp)
	case TypeDM:
		m = &DirectMessage{
			Envelope: r.envelope(FieldFrom, true),
			Content:  r.required(FieldContent),
		}
	case TypeFollow, TypeUnfollow:
		m = &Follow{Envelope: r.envelope(FieldFrom, true), Kind: t}
	case TypeLike, TypeUnlike:
		m = &Like{
			Envelope:      r.envelope(FieldFrom, true),
			Kind:          t,
			PostTimestamp: r.int64Field(FieldPostTimestamp, true),
			Action:        r.optional(FieldAction),
		}
	case TypeGroupCreate:
		m = &GroupCreate{
			Envelope:  r.envelope(FieldFrom, false),
			GroupID:   r.required(FieldGroupID),
			GroupName: r.optional(FieldGroupName),
			Members:   SplitList(r.optional(FieldMembers)),
		}
	case TypeGroupUpdate:
		m = &GroupUpdate{
			Envelope:  r.envelope(FieldFrom, false),
			GroupID:   r.required(FieldGroupID),
			GroupName: r.optional(FieldGroupName),
			Add:       SplitList(r.optional(FieldAdd)),
			Remove:    SplitList(r.optional(FieldRemove)),
			Members:   SplitList(r.optional(FieldMembers)),
		}
	case TypeGroupMessage:
		m = &GroupMessage{
			Envelope: r.envelope(FieldFrom, false),
			GroupID:  r.required(FieldGroupID),
			Content:  r.required(FieldContent),
		}
	case TypeFileOffer:
		m = &FileOffer{
			Envelope:    r.envelope(FieldFrom, true),
			FileID:      r.required(FieldFileID),
			Filename:    r.required(FieldFilename),
			Filesize:    r.int64Field(FieldFilesize, false),
			Filetype:    r.optional(FieldFiletype),
			Description: r.optional(FieldDescription),
			Checksum:    r.optional(FieldChecksum),
		}
	case TypeFileAccept:
		m = &FileAccept{
			Envelope: r.envelope(FieldFrom, true),
			FileID:   r.required(FieldFileID),
		}
	case TypeFileChunk:
		m = &FileChunk{
			Envelope:     r.envelope(FieldFrom, true),
			FileID:       r.required(FieldFileID),
			ChunkIndex:   r.intField(FieldChunkIndex, true),
			TotalChunks:  r.intField(FieldTotalChunks, true),
			ChunkSize:    r.intField(FieldChunkSize, false),
			ParityChunks: r.intField(FieldParityChunks, false),
			EncodedSize:  r.intField(FieldEncodedSize, false),
			Data:         r.present(FieldData),
		}
	case TypeGameInvite:
		m = &GameInvite{
			Envelope: r.envelope(FieldFrom, true),
			GameID:   r.required(FieldGameID),
			Symbol:   r.optional(FieldSymbol),
		}
	case TypeGameAccept:
		m = &GameAccept{
			Envelope: r.envelope(FieldFrom, true),
			GameID:   r.required(FieldGameID),
		}
	case TypeGameMove:
		m = &GameMove{
			Envelope: r.envelope(FieldFrom, true),
			GameID:   r.required(FieldGameID),
			Position: r.intField(FieldPosition, true),
			Symbol:   r.optional(FieldSymbol),
			Turn:     r.intField(FieldTurn, false),
		}
	case TypeGameResult:
		m = &GameResult{
			Envelope:    r.envelope(FieldFrom, true),
			GameID:      r.required(FieldGameID),
			Result:      r.required(FieldResult),
			Symbol:      r.optional(FieldSymbol),
			WinningLine: r.intList(FieldWinningLine),
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", t, r.err)
	}
	return m, nil
}

// JoinList encodes a user id list as a comma separated value
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

// SplitList decodes a comma separated value, dropping empty items
func SplitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// fieldReader extracts typed fields and keeps the first error
type fieldReader struct {
	f   *Frame
	err error
}

func (r *fieldReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *fieldReader) required(key string) string {
	v := r.f.Get(key)
	if v == "" {
		r.fail(fmt.Errorf("%w: %w: %s", ErrFraming, ErrMissingField, key))
	}
	return v
}

// present requires the key but accepts an empty value
func (r *fieldReader) present(key string) string {
	v, ok := r.f.Lookup(key)
	if !ok {
		r.fail(fmt.Errorf("%w: %w: %s", ErrFraming, ErrMissingField, key))
	}
	return v
}

func (r *fieldReader) optional(key string) string {
	return r.f.Get(key)
}

func (r *fieldReader) int64Field(key string, required bool) int64 {
	var v string
	if required {
		v = r.required(key)
	} else {
		v = r.optional(key)
	}
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(fmt.Errorf("%w: %w: %s=%q", ErrFraming, ErrBadField, key, v))
		return 0
	}
	return n
}

func (r *fieldReader) intField(key string, required bool) int {
	return int(r.int64Field(key, required))
}

func (r *fieldReader) intList(key string) []int {
	items := SplitList(r.optional(key))
	if len(items) == 0 {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(item)
		if err != nil {
			r.fail(fmt.Errorf("%w: %w: %s=%q", ErrFraming, ErrBadField, key, item))
			return nil
		}
		out = append(out, n)
	}
	return out
}

func (r *fieldReader) requireTimestamp(ts int64) {
	if ts == 0 {
		r.fail(fmt.Errorf("%w: %w: %s", ErrFraming, ErrMissingField, FieldTimestamp))
	}
}

// envelope reads the shared fields. TOKEN is never required here: a missing
// token is an authorization failure, not a framing one.
func (r *fieldReader) envelope(senderKey string, needTo bool) Envelope {
	env := Envelope{
		From:      r.required(senderKey),
		Timestamp: r.int64Field(FieldTimestamp, false),
		MessageID: r.optional(FieldMessageID),
		Token:     r.optional(FieldToken),
		raw:       r.f,
	}
	if needTo {
		env.To = r.required(FieldTo)
	} else {
		env.To = r.optional(FieldTo)
	}
	return env
}
