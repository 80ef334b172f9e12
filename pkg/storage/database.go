// Package storage keeps a local sqlite history of social traffic: posts,
// direct messages, group messages, likes, received files and the last known
// profile of every peer. Engine state is never restored from it.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	_ "github.com/mattn/go-sqlite3"
)

var log = logging.Logger("lsnp/storage")

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already archived")
)

// MemoryPath opens a private in-memory archive
const MemoryPath = ":memory:"

// Kind distinguishes the message families kept in the messages table
type Kind string

const (
	KindPost   Kind = "post"
	KindDirect Kind = "dm"
	KindGroup  Kind = "group"
)

// StoredMessage is one archived post, DM or group message.
// To is the recipient for DMs, the group id for group messages and empty for posts.
type StoredMessage struct {
	ID        int64  `json:"id"`
	Kind      Kind   `json:"kind"`
	MessageID string `json:"messageId,omitempty"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Outgoing  bool   `json:"outgoing"`
}

// Conversation summarizes the DM thread with one peer
type Conversation struct {
	Peer          string `json:"peer"`
	LastMessageID string `json:"lastMessageId,omitempty"`
	LastMessage   string `json:"lastMessage"`
	LastTimestamp int64  `json:"lastTimestamp"`
	UnreadCount   int    `json:"unreadCount"`
}

// Like records the latest like state of one post by one peer
type Like struct {
	From          string `json:"from"`
	To            string `json:"to"`
	PostTimestamp int64  `json:"postTimestamp"`
	Liked         bool   `json:"liked"`
	Timestamp     int64  `json:"timestamp"`
}

// FileRecord describes a file received and written to disk
type FileRecord struct {
	FileID     string `json:"fileId"`
	From       string `json:"from"`
	Filename   string `json:"filename"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum,omitempty"`
	Recovered  bool   `json:"recovered"`
	ReceivedAt int64  `json:"receivedAt"`
}

// Archive is the sqlite-backed history store
type Archive struct {
	db *sql.DB
}

// Open opens or creates the archive at path. MemoryPath gives a private
// in-memory database that lives as long as the Archive.
func Open(path string) (*Archive, error) {
	if path == "" {
		path = MemoryPath
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == MemoryPath || strings.HasPrefix(path, "file::memory:") {
		// every connection would see its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	a := &Archive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debugf("archive opened at %s", path)
	return a, nil
}

// initSchema creates database tables
func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		message_id TEXT NOT NULL DEFAULT '',
		from_user TEXT NOT NULL,
		to_user TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		is_outgoing INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS conversations (
		peer TEXT PRIMARY KEY,
		last_message_id TEXT NOT NULL DEFAULT '',
		last_message TEXT NOT NULL DEFAULT '',
		last_timestamp INTEGER NOT NULL DEFAULT 0,
		unread_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS likes (
		from_user TEXT NOT NULL,
		to_user TEXT NOT NULL,
		post_timestamp INTEGER NOT NULL,
		liked INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (from_user, to_user, post_timestamp)
	);

	CREATE TABLE IF NOT EXISTS files (
		file_id TEXT PRIMARY KEY,
		from_user TEXT NOT NULL,
		filename TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		recovered INTEGER NOT NULL DEFAULT 0,
		received_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS peers (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		avatar_type TEXT NOT NULL DEFAULT '',
		last_seen INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_message_id ON messages(kind, message_id) WHERE message_id != '';
	CREATE INDEX IF NOT EXISTS idx_messages_kind ON messages(kind, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_user, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_timestamp ON conversations(last_timestamp DESC);
	`

	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (a *Archive) Close() error {
	return a.db.Close()
}
