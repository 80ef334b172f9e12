package protocol

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Protocol constants
const (
	// DefaultPort is the UDP port every peer listens on
	DefaultPort = 50999

	// DefaultTokenTTL is the validity window of minted tokens
	DefaultTokenTTL = time.Hour

	// DefaultPostTTL is advertised on POST messages
	DefaultPostTTL = 3600

	// DefaultStatus is broadcast in PROFILE until the user changes it
	DefaultStatus = "Online"
)

// MessageType is the value of the TYPE field
type MessageType string

// Message types
const (
	// Presence
	TypeProfile MessageType = "PROFILE"
	TypePing    MessageType = "PING"

	// Social
	TypePost     MessageType = "POST"
	TypeDM       MessageType = "DM"
	TypeFollow   MessageType = "FOLLOW"
	TypeUnfollow MessageType = "UNFOLLOW"
	TypeLike     MessageType = "LIKE"
	TypeUnlike   MessageType = "UNLIKE"

	// Groups
	TypeGroupCreate  MessageType = "GROUP_CREATE"
	TypeGroupUpdate  MessageType = "GROUP_UPDATE"
	TypeGroupMessage MessageType = "GROUP_MESSAGE"

	// File transfer
	TypeFileOffer  MessageType = "FILE_OFFER"
	TypeFileAccept MessageType = "FILE_ACCEPT"
	TypeFileChunk  MessageType = "FILE_CHUNK"

	// Tic-tac-toe
	TypeGameInvite MessageType = "TICTACTOE_INVITE"
	TypeGameAccept MessageType = "TICTACTOE_ACCEPT"
	TypeGameMove   MessageType = "TICTACTOE_MOVE"
	TypeGameResult MessageType = "TICTACTOE_RESULT"
)

// Field keys
const (
	FieldType           = "TYPE"
	FieldUserID         = "USER_ID"
	FieldFrom           = "FROM"
	FieldTo             = "TO"
	FieldDisplayName    = "DISPLAY_NAME"
	FieldStatus         = "STATUS"
	FieldAvatarType     = "AVATAR_TYPE"
	FieldAvatarEncoding = "AVATAR_ENCODING"
	FieldAvatarData     = "AVATAR_DATA"
	FieldContent        = "CONTENT"
	FieldTTL            = "TTL"
	FieldTimestamp      = "TIMESTAMP"
	FieldMessageID      = "MESSAGE_ID"
	FieldToken          = "TOKEN"
	FieldPostTimestamp  = "POST_TIMESTAMP"
	FieldAction         = "ACTION"
	FieldGroupID        = "GROUP_ID"
	FieldGroupName      = "GROUP_NAME"
	FieldMembers        = "MEMBERS"
	FieldAdd            = "ADD"
	FieldRemove         = "REMOVE"
	FieldFileID         = "FILEID"
	FieldFilename       = "FILENAME"
	FieldFilesize       = "FILESIZE"
	FieldFiletype       = "FILETYPE"
	FieldDescription    = "DESCRIPTION"
	FieldChecksum       = "CHECKSUM"
	FieldChunkIndex     = "CHUNK_INDEX"
	FieldTotalChunks    = "TOTAL_CHUNKS"
	FieldChunkSize      = "CHUNK_SIZE"
	FieldParityChunks   = "PARITY_CHUNKS"
	FieldEncodedSize    = "ENCODED_SIZE"
	FieldData           = "DATA"
	FieldGameID         = "GAMEID"
	FieldSymbol         = "SYMBOL"
	FieldPosition       = "POSITION"
	FieldTurn           = "TURN"
	FieldResult         = "RESULT"
	FieldWinningLine    = "WINNING_LINE"
)

// multiLineFields may continue over following colon-free lines
var multiLineFields = map[string]bool{
	FieldAvatarData: true,
	FieldData:       true,
}

// IsMultiLine reports whether a field may span several lines
func IsMultiLine(key string) bool {
	return multiLineFields[key]
}

// Scope is the capability a token grants
type Scope string

// Token scopes
const (
	ScopeBroadcast Scope = "broadcast"
	ScopeChat      Scope = "chat"
	ScopeFollow    Scope = "follow"
	ScopeGroup     Scope = "group"
	ScopeFile      Scope = "file"
	ScopeGame      Scope = "game"
)

var typeScopes = map[MessageType]Scope{
	TypePost:         ScopeBroadcast,
	TypeLike:         ScopeBroadcast,
	TypeUnlike:       ScopeBroadcast,
	TypeDM:           ScopeChat,
	TypeFollow:       ScopeFollow,
	TypeUnfollow:     ScopeFollow,
	TypeGroupCreate:  ScopeGroup,
	TypeGroupUpdate:  ScopeGroup,
	TypeGroupMessage: ScopeGroup,
	TypeFileOffer:    ScopeFile,
	TypeFileAccept:   ScopeFile,
	TypeFileChunk:    ScopeFile,
	TypeGameInvite:   ScopeGame,
	TypeGameAccept:   ScopeGame,
	TypeGameMove:     ScopeGame,
	TypeGameResult:   ScopeGame,
}

// ScopeFor returns the scope a message type requires.
// PROFILE and PING carry no token and report false.
func ScopeFor(t MessageType) (Scope, bool) {
	s, ok := typeScopes[t]
	return s, ok
}

// Known reports whether t is part of the message catalogue
func (t MessageType) Known() bool {
	if t == TypeProfile || t == TypePing {
		return true
	}
	_, ok := typeScopes[t]
	return ok
}

// ===== HELPER FUNCTIONS =====

// GenerateMessageID returns a short random identifier for MESSAGE_ID
func GenerateMessageID() string {
	return shortID(16)
}

// GenerateFileID returns a random identifier for FILEID
func GenerateFileID() string {
	return shortID(16)
}

// GenerateGameID returns a random game identifier
func GenerateGameID() string {
	return "g" + shortID(8)
}

func shortID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:n]
}

// NowUnix returns the current unix time in seconds
func NowUnix() int64 {
	return time.Now().Unix()
}
