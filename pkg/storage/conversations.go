package storage

// ===== CONVERSATION OPERATIONS =====

// updateConversation updates the thread summary after a new DM
func (a *Archive) updateConversation(msg *StoredMessage) error {
	query := `
		INSERT INTO conversations (
			peer, last_message_id, last_message, last_timestamp, unread_count
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(peer) DO UPDATE SET
			last_message_id = excluded.last_message_id,
			last_message = excluded.last_message,
			last_timestamp = excluded.last_timestamp,
			unread_count = conversations.unread_count + excluded.unread_count
		WHERE excluded.last_timestamp >= conversations.last_timestamp
	`

	unread := 1
	if msg.Outgoing {
		unread = 0
	}

	_, err := a.db.Exec(
		query,
		otherParty(msg),
		msg.MessageID,
		preview(msg.Content),
		msg.Timestamp,
		unread,
	)
	return err
}

// Conversations lists DM threads, most recent first
func (a *Archive) Conversations() ([]*Conversation, error) {
	query := `
		SELECT peer, last_message_id, last_message, last_timestamp, unread_count
		FROM conversations
		ORDER BY last_timestamp DESC
	`

	rows, err := a.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var conv Conversation
		err := rows.Scan(
			&conv.Peer,
			&conv.LastMessageID,
			&conv.LastMessage,
			&conv.LastTimestamp,
			&conv.UnreadCount,
		)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, &conv)
	}
	return conversations, rows.Err()
}

// MarkConversationRead clears the unread counter of the thread with peer
func (a *Archive) MarkConversationRead(peer string) error {
	_, err := a.db.Exec(`UPDATE conversations SET unread_count = 0 WHERE peer = ?`, peer)
	return err
}
