package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ZentaChain/lsnp-node/pkg/directory"
)

// ===== PEER OPERATIONS =====

// SavePeer stores the latest profile of a peer. Avatar data is not archived.
func (a *Archive) SavePeer(rec directory.PeerRecord) error {
	query := `
		INSERT INTO peers (user_id, display_name, status, avatar_type, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			status = excluded.status,
			avatar_type = excluded.avatar_type,
			last_seen = excluded.last_seen
	`

	_, err := a.db.Exec(
		query,
		rec.UserID,
		rec.DisplayName,
		rec.Status,
		rec.AvatarType,
		rec.LastSeen.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save peer: %w", err)
	}
	return nil
}

// GetPeer retrieves the archived profile of a peer
func (a *Archive) GetPeer(userID string) (directory.PeerRecord, error) {
	row := a.db.QueryRow(`
		SELECT user_id, display_name, status, avatar_type, last_seen
		FROM peers WHERE user_id = ?
	`, userID)

	rec, err := scanPeer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.PeerRecord{}, ErrNotFound
	}
	return rec, err
}

// AllPeers lists every archived peer ordered by display name
func (a *Archive) AllPeers() ([]directory.PeerRecord, error) {
	rows, err := a.db.Query(`
		SELECT user_id, display_name, status, avatar_type, last_seen
		FROM peers
		ORDER BY display_name ASC, user_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []directory.PeerRecord
	for rows.Next() {
		rec, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, rec)
	}
	return peers, rows.Err()
}

// DeletePeer removes a peer from the archive
func (a *Archive) DeletePeer(userID string) error {
	_, err := a.db.Exec(`DELETE FROM peers WHERE user_id = ?`, userID)
	return err
}

func scanPeer(s scanner) (directory.PeerRecord, error) {
	var rec directory.PeerRecord
	var lastSeen int64
	err := s.Scan(
		&rec.UserID,
		&rec.DisplayName,
		&rec.Status,
		&rec.AvatarType,
		&lastSeen,
	)
	if err != nil {
		return directory.PeerRecord{}, err
	}
	rec.LastSeen = unixTime(lastSeen)
	return rec, nil
}
