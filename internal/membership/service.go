package membership

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"groupdrop/internal/models"
)

// Service owns the group/membership state machine. Every mutating operation
// runs inside a single immediate transaction so concurrent requests on the
// same group cannot both act on a stale member list and double-trigger
// contradictory cascades.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateGroup makes the creator owner, admin, and sole participant, and
// assigns a fresh unique join code.
func (s *Service) CreateGroup(creatorID int, name, description, password string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)

	if name == "" {
		return nil, fmt.Errorf("%w: name should not be empty", ErrInvalidInput)
	}
	if len(name) > 20 {
		return nil, fmt.Errorf("%w: name should not be longer than 20 characters", ErrInvalidInput)
	}
	if description == "" {
		return nil, fmt.Errorf("%w: description should not be empty", ErrInvalidInput)
	}
	if len(description) > 200 {
		return nil, fmt.Errorf("%w: description should not be longer than 200 characters", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password should be at least 8 characters long", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash group password: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", creatorID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to query creator: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	group := &models.Group{Name: name, Description: description, OwnerID: creatorID}

	// Codes are short random hex; regenerate on the rare collision.
	for attempt := 0; ; attempt++ {
		group.Code, err = generateCode()
		if err != nil {
			return nil, err
		}

		result, err := tx.Exec(
			"INSERT INTO groups (name, description, password_hash, code, owner_id) VALUES (?, ?, ?, ?, ?)",
			name, description, string(hash), group.Code, creatorID,
		)
		if err == nil {
			id, err := result.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("failed to get group id: %w", err)
			}
			group.ID = int(id)
			break
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") && attempt < 5 {
			continue
		}
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO group_members (group_id, user_id, role) VALUES (?, ?, ?)",
		group.ID, creatorID, models.RoleAdmin,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add creator as member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit group creation: %w", err)
	}

	return group, nil
}

// CheckGroupPassword resolves a group by join code and verifies the password.
// It grants nothing by itself; guests get a session-scoped token from the
// handler, members proceed to JoinGroup.
func (s *Service) CheckGroupPassword(code, password string) (*models.Group, error) {
	group, err := s.getGroupByCode(code)
	if err != nil {
		return nil, err
	}

	var hash string
	if err := s.db.QueryRow("SELECT password_hash FROM groups WHERE id = ?", group.ID).Scan(&hash); err != nil {
		return nil, fmt.Errorf("failed to query group password: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}

	return group, nil
}

// JoinGroup adds an authenticated user to the group resolved by code.
// Joining a group you are already in is a no-op.
func (s *Service) JoinGroup(userID int, code, password string) (*models.Group, error) {
	group, err := s.CheckGroupPassword(code, password)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(
		"INSERT OR IGNORE INTO group_members (group_id, user_id, role) VALUES (?, ?, ?)",
		group.ID, userID, models.RoleParticipant,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to join group: %w", err)
	}

	return group, nil
}

// LeaveGroup removes the user and runs the demotion cascade. Reports whether
// the group was deleted because its last participant left.
func (s *Service) LeaveGroup(userID, groupID int) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	group, err := getGroupTx(tx, groupID)
	if err != nil {
		return false, err
	}

	if _, ok, err := memberRoleTx(tx, groupID, userID); err != nil {
		return false, err
	} else if !ok {
		return false, ErrNotMember
	}

	deleted, removedPaths, err := s.removeMemberTx(tx, group, userID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit leave: %w", err)
	}

	removeStoredFiles(removedPaths)
	return deleted, nil
}

// RemoveUser kicks a member. The acting user must be admin-equivalent, only
// the owner may remove another admin, and the owner is never a valid target.
func (s *Service) RemoveUser(actorID, groupID, targetID int) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	group, err := getGroupTx(tx, groupID)
	if err != nil {
		return false, err
	}

	if !isAdminEquivalentTx(tx, group, actorID) {
		return false, ErrNotAuthorized
	}

	if targetID == group.OwnerID {
		return false, ErrOwnerImmutable
	}

	targetRole, ok, err := memberRoleTx(tx, groupID, targetID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotMember
	}

	if targetRole == models.RoleAdmin && actorID != group.OwnerID {
		return false, ErrNotAuthorized
	}

	deleted, removedPaths, err := s.removeMemberTx(tx, group, targetID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit removal: %w", err)
	}

	removeStoredFiles(removedPaths)
	return deleted, nil
}

// PromoteAdmin makes a participant an admin. Owner only.
func (s *Service) PromoteAdmin(actorID, groupID, targetID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	group, err := getGroupTx(tx, groupID)
	if err != nil {
		return err
	}

	if actorID != group.OwnerID {
		return ErrNotAuthorized
	}

	if _, ok, err := memberRoleTx(tx, groupID, targetID); err != nil {
		return err
	} else if !ok {
		return ErrNotMember
	}

	_, err = tx.Exec(
		"UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?",
		models.RoleAdmin, groupID, targetID,
	)
	if err != nil {
		return fmt.Errorf("failed to promote member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit promotion: %w", err)
	}
	return nil
}

// DemoteAdmin turns a non-owner admin back into a regular participant. Owner
// only; the owner itself is not addressable as a normal admin.
func (s *Service) DemoteAdmin(actorID, groupID, targetID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	group, err := getGroupTx(tx, groupID)
	if err != nil {
		return err
	}

	if actorID != group.OwnerID || targetID == group.OwnerID {
		return ErrNotAuthorized
	}

	role, ok, err := memberRoleTx(tx, groupID, targetID)
	if err != nil {
		return err
	}
	if !ok || role != models.RoleAdmin {
		return ErrNotAuthorized
	}

	_, err = tx.Exec(
		"UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?",
		models.RoleParticipant, groupID, targetID,
	)
	if err != nil {
		return fmt.Errorf("failed to demote admin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit demotion: %w", err)
	}
	return nil
}

// DeleteGroup removes the group outright with its messages and files. Owner
// only.
func (s *Service) DeleteGroup(actorID, groupID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	group, err := getGroupTx(tx, groupID)
	if err != nil {
		return err
	}

	if actorID != group.OwnerID {
		return ErrNotAuthorized
	}

	removedPaths, err := deleteGroupTx(tx, groupID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group deletion: %w", err)
	}

	removeStoredFiles(removedPaths)
	return nil
}

// DeleteAccount runs the leave cascade in every group the user participates
// in, then deletes the account itself. Groups never lose their required
// owner/admin structure in the process.
func (s *Service) DeleteAccount(userID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT group_id FROM group_members WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to query memberships: %w", err)
	}
	var groupIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan membership: %w", err)
		}
		groupIDs = append(groupIDs, id)
	}
	rows.Close()

	var removedPaths []string
	for _, groupID := range groupIDs {
		group, err := getGroupTx(tx, groupID)
		if err != nil {
			return err
		}
		_, paths, err := s.removeMemberTx(tx, group, userID)
		if err != nil {
			return err
		}
		removedPaths = append(removedPaths, paths...)
	}

	if _, err := tx.Exec("DELETE FROM personal_files WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete personal storage: %w", err)
	}

	result, err := tx.Exec("DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account deletion: %w", err)
	}

	removeStoredFiles(removedPaths)
	return nil
}

func (s *Service) GetGroup(groupID int) (*models.Group, error) {
	var group models.Group
	err := s.db.QueryRow(
		"SELECT id, name, description, code, owner_id, created_at FROM groups WHERE id = ?",
		groupID,
	).Scan(&group.ID, &group.Name, &group.Description, &group.Code, &group.OwnerID, &group.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to query group: %w", err)
	}
	return &group, nil
}

// ListUserGroups returns the groups the user participates in, oldest first.
func (s *Service) ListUserGroups(userID int) ([]*models.Group, error) {
	rows, err := s.db.Query(`
		SELECT g.id, g.name, g.description, g.code, g.owner_id, g.created_at
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY m.joined_at, g.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	groups := []*models.Group{}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.Code, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// GroupMembers lists all participants with their role, join order first.
func (s *Service) GroupMembers(groupID int) ([]*models.GroupMember, error) {
	rows, err := s.db.Query(`
		SELECT m.group_id, m.user_id, u.username, m.role, m.joined_at
		FROM group_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = ?
		ORDER BY m.joined_at, m.user_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	members := []*models.GroupMember{}
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Username, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

func (s *Service) IsMember(groupID, userID int) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)",
		groupID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	return exists, nil
}

// IsAdmin reports whether the user is admin-equivalent: an admin member or
// the owner.
func (s *Service) IsAdmin(groupID, userID int) (bool, error) {
	group, err := s.GetGroup(groupID)
	if err != nil {
		return false, err
	}
	if userID == group.OwnerID {
		return true, nil
	}

	var role string
	err = s.db.QueryRow(
		"SELECT role FROM group_members WHERE group_id = ? AND user_id = ?",
		groupID, userID,
	).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	return role == models.RoleAdmin, nil
}

// MemberIDs returns all participant IDs, used for fan-out (websocket, push).
func (s *Service) MemberIDs(groupID int) ([]int, error) {
	return s.queryIDs("SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at, user_id", groupID)
}

// AdminIDs returns admin-equivalent member IDs (admins plus the owner).
func (s *Service) AdminIDs(groupID int) ([]int, error) {
	group, err := s.GetGroup(groupID)
	if err != nil {
		return nil, err
	}

	ids, err := s.queryIDs(
		"SELECT user_id FROM group_members WHERE group_id = ? AND role = ? ORDER BY joined_at, user_id",
		groupID, models.RoleAdmin,
	)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if id == group.OwnerID {
			return ids, nil
		}
	}
	return append(ids, group.OwnerID), nil
}

func (s *Service) queryIDs(query string, args ...interface{}) ([]int, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) getGroupByCode(code string) (*models.Group, error) {
	var group models.Group
	err := s.db.QueryRow(
		"SELECT id, name, description, code, owner_id, created_at FROM groups WHERE code = ?",
		strings.TrimSpace(code),
	).Scan(&group.ID, &group.Name, &group.Description, &group.Code, &group.OwnerID, &group.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to query group: %w", err)
	}
	return &group, nil
}

// removeMemberTx deletes one member row and restores the invariants: empty
// group means delete with cascade, no admins left means promote the
// earliest-joined participant, departed owner means hand ownership to the
// promoted admin or the earliest-joined existing one.
func (s *Service) removeMemberTx(tx *sql.Tx, group *models.Group, userID int) (bool, []string, error) {
	_, err := tx.Exec("DELETE FROM group_members WHERE group_id = ? AND user_id = ?", group.ID, userID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to remove member: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM personal_files WHERE group_id = ? AND user_id = ?", group.ID, userID); err != nil {
		return false, nil, fmt.Errorf("failed to clear personal storage: %w", err)
	}

	var participants int
	if err := tx.QueryRow("SELECT COUNT(*) FROM group_members WHERE group_id = ?", group.ID).Scan(&participants); err != nil {
		return false, nil, fmt.Errorf("failed to count participants: %w", err)
	}

	if participants == 0 {
		paths, err := deleteGroupTx(tx, group.ID)
		if err != nil {
			return false, nil, err
		}
		return true, paths, nil
	}

	var admins int
	err = tx.QueryRow(
		"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND role = ?",
		group.ID, models.RoleAdmin,
	).Scan(&admins)
	if err != nil {
		return false, nil, fmt.Errorf("failed to count admins: %w", err)
	}

	promotedID := 0
	if admins == 0 {
		err = tx.QueryRow(
			"SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at, user_id LIMIT 1",
			group.ID,
		).Scan(&promotedID)
		if err != nil {
			return false, nil, fmt.Errorf("failed to pick replacement admin: %w", err)
		}

		_, err = tx.Exec(
			"UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?",
			models.RoleAdmin, group.ID, promotedID,
		)
		if err != nil {
			return false, nil, fmt.Errorf("failed to promote replacement admin: %w", err)
		}
	}

	if userID == group.OwnerID {
		newOwner := promotedID
		if newOwner == 0 {
			err = tx.QueryRow(
				"SELECT user_id FROM group_members WHERE group_id = ? AND role = ? ORDER BY joined_at, user_id LIMIT 1",
				group.ID, models.RoleAdmin,
			).Scan(&newOwner)
			if err != nil {
				return false, nil, fmt.Errorf("failed to pick new owner: %w", err)
			}
		}

		if _, err := tx.Exec("UPDATE groups SET owner_id = ? WHERE id = ?", newOwner, group.ID); err != nil {
			return false, nil, fmt.Errorf("failed to transfer ownership: %w", err)
		}
	}

	return false, nil, nil
}

// deleteGroupTx deletes the group record with everything hanging off it and
// returns the stored file paths for best-effort disk cleanup after commit.
func deleteGroupTx(tx *sql.Tx, groupID int) ([]string, error) {
	rows, err := tx.Query(`
		SELECT f.file_path
		FROM files f
		JOIN messages m ON m.id = f.message_id
		WHERE m.group_id = ?
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group files: %w", err)
	}
	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan file path: %w", err)
		}
		paths = append(paths, path)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read group files: %w", err)
	}

	steps := []struct {
		query string
		desc  string
	}{
		{"DELETE FROM personal_files WHERE group_id = ?", "personal storage"},
		{"DELETE FROM files WHERE message_id IN (SELECT id FROM messages WHERE group_id = ?)", "files"},
		{"DELETE FROM messages WHERE group_id = ?", "messages"},
		{"DELETE FROM group_members WHERE group_id = ?", "members"},
		{"DELETE FROM groups WHERE id = ?", "group"},
	}
	for _, step := range steps {
		if _, err := tx.Exec(step.query, groupID); err != nil {
			return nil, fmt.Errorf("failed to delete %s: %w", step.desc, err)
		}
	}

	return paths, nil
}

func getGroupTx(tx *sql.Tx, groupID int) (*models.Group, error) {
	var group models.Group
	err := tx.QueryRow(
		"SELECT id, name, description, code, owner_id, created_at FROM groups WHERE id = ?",
		groupID,
	).Scan(&group.ID, &group.Name, &group.Description, &group.Code, &group.OwnerID, &group.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to query group: %w", err)
	}
	return &group, nil
}

func memberRoleTx(tx *sql.Tx, groupID, userID int) (string, bool, error) {
	var role string
	err := tx.QueryRow(
		"SELECT role FROM group_members WHERE group_id = ? AND user_id = ?",
		groupID, userID,
	).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query membership: %w", err)
	}
	return role, true, nil
}

func isAdminEquivalentTx(tx *sql.Tx, group *models.Group, userID int) bool {
	if userID == group.OwnerID {
		return true
	}
	role, ok, err := memberRoleTx(tx, group.ID, userID)
	if err != nil || !ok {
		return false
	}
	return role == models.RoleAdmin
}

// removeStoredFiles unlinks files after the database delete committed.
// Filesystem cleanup is best-effort; the invariant being protected is
// database consistency.
func removeStoredFiles(paths []string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to remove stored file %s: %v", path, err)
		}
	}
}

func generateCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate join code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
