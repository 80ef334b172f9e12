package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ===== MESSAGE OPERATIONS =====

const messageColumns = `id, kind, message_id, from_user, to_user, content, timestamp, is_outgoing`

// SaveMessage archives a post, DM or group message. A message whose
// MESSAGE_ID was already archived for the same kind returns ErrDuplicate.
func (a *Archive) SaveMessage(msg *StoredMessage) error {
	switch msg.Kind {
	case KindPost, KindDirect, KindGroup:
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}

	query := `
		INSERT OR IGNORE INTO messages (
			kind, message_id, from_user, to_user, content, timestamp, is_outgoing
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := a.db.Exec(
		query,
		msg.Kind,
		msg.MessageID,
		msg.From,
		msg.To,
		msg.Content,
		msg.Timestamp,
		boolToInt(msg.Outgoing),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", ErrDuplicate, msg.Kind, msg.MessageID)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id

	if msg.Kind == KindDirect {
		if err := a.updateConversation(msg); err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
	}
	return nil
}

// GetMessage retrieves a message by its archive id
func (a *Archive) GetMessage(id int64) (*StoredMessage, error) {
	row := a.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages lists messages of one kind, newest first
func (a *Archive) Messages(kind Kind, limit, offset int) ([]*StoredMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE kind = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	return a.queryMessages(query, kind, normalizeLimit(limit), offset)
}

// ConversationMessages lists the DM thread with peer, newest first
func (a *Archive) ConversationMessages(peer string, limit, offset int) ([]*StoredMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE kind = ? AND ((is_outgoing = 1 AND to_user = ?) OR (is_outgoing = 0 AND from_user = ?))
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	return a.queryMessages(query, KindDirect, peer, peer, normalizeLimit(limit), offset)
}

// GroupMessages lists the messages of one group, newest first
func (a *Archive) GroupMessages(groupID string, limit, offset int) ([]*StoredMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE kind = ? AND to_user = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	return a.queryMessages(query, KindGroup, groupID, normalizeLimit(limit), offset)
}

// SearchMessages returns messages whose content contains text, newest first
func (a *Archive) SearchMessages(text string, limit int) ([]*StoredMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE instr(lower(content), ?) > 0
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`
	return a.queryMessages(query, strings.ToLower(text), normalizeLimit(limit))
}

// DeleteMessage deletes a message
func (a *Archive) DeleteMessage(id int64) error {
	_, err := a.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

func (a *Archive) queryMessages(query string, args ...any) ([]*StoredMessage, error) {
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*StoredMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*StoredMessage, error) {
	var msg StoredMessage
	var isOutgoing int

	err := s.Scan(
		&msg.ID,
		&msg.Kind,
		&msg.MessageID,
		&msg.From,
		&msg.To,
		&msg.Content,
		&msg.Timestamp,
		&isOutgoing,
	)
	if err != nil {
		return nil, err
	}

	msg.Outgoing = intToBool(isOutgoing)
	return &msg, nil
}
