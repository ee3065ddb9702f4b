package membership

import (
	"database/sql"
	"fmt"
	"strings"

	"groupdrop/internal/models"
)

// Attachment describes a file already written to disk by the upload handler,
// waiting to be recorded against the new message.
type Attachment struct {
	ID       string
	FileName string
	FilePath string
	MimeType string
	FileSize int64
}

// PostMessage stores a message with its attachments. Messages from
// admin-equivalent members go out immediately; everyone else's wait in the
// pending queue until an admin approves them.
func (s *Service) PostMessage(senderID, groupID int, description string, attachments []Attachment) (*models.Message, error) {
	description = strings.TrimSpace(description)
	if description == "" && len(attachments) == 0 {
		return nil, fmt.Errorf("%w: message should not be empty", ErrInvalidInput)
	}
	if len(description) > 2000 {
		return nil, fmt.Errorf("%w: message should not be longer than 2000 characters", ErrInvalidInput)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	group, err := getGroupTx(tx, groupID)
	if err != nil {
		return nil, err
	}

	if _, ok, err := memberRoleTx(tx, groupID, senderID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotMember
	}

	state := models.MessagePending
	if isAdminEquivalentTx(tx, group, senderID) {
		state = models.MessageSent
	}

	result, err := tx.Exec(
		"INSERT INTO messages (group_id, sender_id, description, state) VALUES (?, ?, ?, ?)",
		groupID, senderID, description, state,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	messageID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message id: %w", err)
	}

	for _, att := range attachments {
		_, err := tx.Exec(
			"INSERT INTO files (id, message_id, file_name, file_path, mime_type, file_size) VALUES (?, ?, ?, ?, ?, ?)",
			att.ID, messageID, att.FileName, att.FilePath, att.MimeType, att.FileSize,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert file record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	return s.GetMessage(int(messageID))
}

// ApproveMessage moves a pending message to sent. Admin-equivalent only.
// Returns the message so the caller can fan it out to the group.
func (s *Service) ApproveMessage(actorID, groupID, messageID int) (*models.Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	group, err := getGroupTx(tx, groupID)
	if err != nil {
		return nil, err
	}

	if !isAdminEquivalentTx(tx, group, actorID) {
		return nil, ErrNotAuthorized
	}

	result, err := tx.Exec(
		"UPDATE messages SET state = ? WHERE id = ? AND group_id = ? AND state = ?",
		models.MessageSent, messageID, groupID, models.MessagePending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to approve message: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, ErrMessageNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}

	return s.GetMessage(messageID)
}

// RejectMessage deletes a pending message with its attachments.
// Admin-equivalent only.
func (s *Service) RejectMessage(actorID, groupID, messageID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	group, err := getGroupTx(tx, groupID)
	if err != nil {
		return err
	}

	if !isAdminEquivalentTx(tx, group, actorID) {
		return ErrNotAuthorized
	}

	var state string
	err = tx.QueryRow(
		"SELECT state FROM messages WHERE id = ? AND group_id = ?",
		messageID, groupID,
	).Scan(&state)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrMessageNotFound
		}
		return fmt.Errorf("failed to query message: %w", err)
	}
	if state != models.MessagePending {
		return ErrMessageNotFound
	}

	var paths []string
	rows, err := tx.Query("SELECT file_path FROM files WHERE message_id = ?", messageID)
	if err != nil {
		return fmt.Errorf("failed to query message files: %w", err)
	}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan file path: %w", err)
		}
		paths = append(paths, path)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read message files: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM files WHERE message_id = ?", messageID); err != nil {
		return fmt.Errorf("failed to delete message files: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE id = ?", messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rejection: %w", err)
	}

	removeStoredFiles(paths)
	return nil
}

// GetMessage loads one message with its sender name and attachments,
// regardless of state.
func (s *Service) GetMessage(messageID int) (*models.Message, error) {
	row := s.db.QueryRow(`
		SELECT m.id, m.group_id, m.sender_id, COALESCE(u.username, ''), m.description, m.state, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`, messageID)

	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}

	if err := s.attachFiles([]*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the group's sent messages in posting order. Pending
// messages never show up here.
func (s *Service) ListMessages(groupID int) ([]*models.Message, error) {
	return s.listMessages(groupID, models.MessageSent)
}

// ListPendingMessages returns the moderation queue. Admin-equivalent only.
func (s *Service) ListPendingMessages(actorID, groupID int) ([]*models.Message, error) {
	admin, err := s.IsAdmin(groupID, actorID)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, ErrNotAuthorized
	}
	return s.listMessages(groupID, models.MessagePending)
}

func (s *Service) listMessages(groupID int, state string) ([]*models.Message, error) {
	rows, err := s.db.Query(`
		SELECT m.id, m.group_id, m.sender_id, COALESCE(u.username, ''), m.description, m.state, m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.group_id = ? AND m.state = ?
		ORDER BY m.created_at, m.id
	`, groupID, state)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	if err := s.attachFiles(messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetFile resolves a stored file and the group it belongs to, so the handler
// can check the caller's access before serving it.
func (s *Service) GetFile(fileID string) (*models.File, int, error) {
	var (
		file    models.File
		groupID int
		state   string
	)
	err := s.db.QueryRow(`
		SELECT f.id, f.message_id, f.file_name, f.file_path, f.mime_type, f.file_size, f.created_at, m.group_id, m.state
		FROM files f
		JOIN messages m ON m.id = f.message_id
		WHERE f.id = ?
	`, fileID).Scan(
		&file.ID, &file.MessageID, &file.FileName, &file.FilePath,
		&file.MimeType, &file.FileSize, &file.CreatedAt, &groupID, &state,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, ErrFileNotFound
		}
		return nil, 0, fmt.Errorf("failed to query file: %w", err)
	}
	if state != models.MessageSent {
		return nil, 0, ErrFileNotFound
	}
	return &file, groupID, nil
}

// SaveToPersonalStorage bookmarks a sent file for the user within the group.
// Saving the same file twice is a no-op.
func (s *Service) SaveToPersonalStorage(userID, groupID int, fileID string) error {
	member, err := s.IsMember(groupID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}

	_, fileGroupID, err := s.GetFile(fileID)
	if err != nil {
		return err
	}
	if fileGroupID != groupID {
		return ErrFileNotFound
	}

	_, err = s.db.Exec(
		"INSERT OR IGNORE INTO personal_files (group_id, user_id, file_id) VALUES (?, ?, ?)",
		groupID, userID, fileID,
	)
	if err != nil {
		return fmt.Errorf("failed to save to personal storage: %w", err)
	}
	return nil
}

// ListPersonalStorage returns the user's saved files in the group, newest
// save first.
func (s *Service) ListPersonalStorage(userID, groupID int) ([]*models.File, error) {
	rows, err := s.db.Query(`
		SELECT f.id, f.message_id, f.file_name, f.file_path, f.mime_type, f.file_size, f.created_at
		FROM personal_files p
		JOIN files f ON f.id = p.file_id
		WHERE p.group_id = ? AND p.user_id = ?
		ORDER BY p.saved_at DESC, f.id
	`, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query personal storage: %w", err)
	}
	defer rows.Close()

	files := []*models.File{}
	for rows.Next() {
		var f models.File
		err := rows.Scan(&f.ID, &f.MessageID, &f.FileName, &f.FilePath, &f.MimeType, &f.FileSize, &f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg      models.Message
		senderID sql.NullInt64
	)
	err := row.Scan(&msg.ID, &msg.GroupID, &senderID, &msg.SenderName, &msg.Description, &msg.State, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if senderID.Valid {
		msg.SenderID = int(senderID.Int64)
	}
	return &msg, nil
}

// attachFiles fills in the Files slice for each message in one query.
func (s *Service) attachFiles(messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	byID := make(map[int]*models.Message, len(messages))
	ids := make([]string, 0, len(messages))
	args := make([]interface{}, 0, len(messages))
	for _, msg := range messages {
		msg.Files = []*models.File{}
		byID[msg.ID] = msg
		ids = append(ids, "?")
		args = append(args, msg.ID)
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, message_id, file_name, file_path, mime_type, file_size, created_at
		FROM files
		WHERE message_id IN (%s)
		ORDER BY created_at, id
	`, strings.Join(ids, ",")), args...)
	if err != nil {
		return fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f models.File
		err := rows.Scan(&f.ID, &f.MessageID, &f.FileName, &f.FilePath, &f.MimeType, &f.FileSize, &f.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to scan file: %w", err)
		}
		if msg, ok := byID[f.MessageID]; ok {
			msg.Files = append(msg.Files, &f)
		}
	}
	return rows.Err()
}
