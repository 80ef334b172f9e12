package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ===== LIKE OPERATIONS =====

// SaveLike records a like or unlike. The newest event per post and peer
// wins; an older one arriving late leaves the stored state untouched.
func (a *Archive) SaveLike(l Like) error {
	query := `
		INSERT INTO likes (from_user, to_user, post_timestamp, liked, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(from_user, to_user, post_timestamp) DO UPDATE SET
			liked = excluded.liked,
			timestamp = excluded.timestamp
		WHERE excluded.timestamp >= likes.timestamp
	`

	_, err := a.db.Exec(query, l.From, l.To, l.PostTimestamp, boolToInt(l.Liked), l.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save like: %w", err)
	}
	return nil
}

// LikesOf lists the current likers of a post by author
func (a *Archive) LikesOf(author string, postTimestamp int64) ([]string, error) {
	rows, err := a.db.Query(`
		SELECT from_user FROM likes
		WHERE to_user = ? AND post_timestamp = ? AND liked = 1
		ORDER BY from_user ASC
	`, author, postTimestamp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var likers []string
	for rows.Next() {
		var from string
		if err := rows.Scan(&from); err != nil {
			return nil, err
		}
		likers = append(likers, from)
	}
	return likers, rows.Err()
}

// Likes lists every like event touching user, as liker or author
func (a *Archive) Likes(user string) ([]Like, error) {
	rows, err := a.db.Query(`
		SELECT from_user, to_user, post_timestamp, liked, timestamp FROM likes
		WHERE from_user = ? OR to_user = ?
		ORDER BY timestamp DESC
	`, user, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var likes []Like
	for rows.Next() {
		var l Like
		var liked int
		if err := rows.Scan(&l.From, &l.To, &l.PostTimestamp, &liked, &l.Timestamp); err != nil {
			return nil, err
		}
		l.Liked = intToBool(liked)
		likes = append(likes, l)
	}
	return likes, rows.Err()
}

// ===== FILE OPERATIONS =====

// SaveFile records a received file
func (a *Archive) SaveFile(f FileRecord) error {
	query := `
		INSERT INTO files (
			file_id, from_user, filename, path, size, checksum, recovered, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := a.db.Exec(
		query,
		f.FileID,
		f.From,
		f.Filename,
		f.Path,
		f.Size,
		f.Checksum,
		boolToInt(f.Recovered),
		f.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save file record: %w", err)
	}
	return nil
}

// GetFile retrieves a received file record by file id
func (a *Archive) GetFile(fileID string) (*FileRecord, error) {
	row := a.db.QueryRow(`
		SELECT file_id, from_user, filename, path, size, checksum, recovered, received_at
		FROM files WHERE file_id = ?
	`, fileID)

	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// Files lists received files, newest first
func (a *Archive) Files() ([]*FileRecord, error) {
	rows, err := a.db.Query(`
		SELECT file_id, from_user, filename, path, size, checksum, recovered, received_at
		FROM files
		ORDER BY received_at DESC, file_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func scanFile(s scanner) (*FileRecord, error) {
	var f FileRecord
	var recovered int
	err := s.Scan(
		&f.FileID,
		&f.From,
		&f.Filename,
		&f.Path,
		&f.Size,
		&f.Checksum,
		&recovered,
		&f.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Recovered = intToBool(recovered)
	return &f, nil
}
