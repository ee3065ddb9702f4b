package models

import "time"

// Member roles inside a group. The owner is stored on the group itself and is
// treated as admin-equivalent everywhere authority is checked.
const (
	RoleAdmin       = "admin"
	RoleParticipant = "participant"
)

// Message states.
const (
	MessageSent    = "sent"
	MessagePending = "pending"
)

type User struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Group struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Code        string    `json:"code"`
	OwnerID     int       `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type GroupMember struct {
	GroupID  int       `json:"group_id"`
	UserID   int       `json:"user_id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type Message struct {
	ID          int       `json:"id"`
	GroupID     int       `json:"group_id"`
	SenderID    int       `json:"sender_id"`
	SenderName  string    `json:"sender_name,omitempty"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	Files       []*File   `json:"files,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// File ID is the random storage key the upload was saved under, not a rowid.
type File struct {
	ID        string    `json:"id"`
	MessageID int       `json:"message_id"`
	FileName  string    `json:"file_name"`
	FilePath  string    `json:"-"`
	MimeType  string    `json:"mime_type"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}
