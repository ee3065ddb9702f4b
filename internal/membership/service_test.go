package membership

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"groupdrop/internal/db"
	"groupdrop/internal/models"
)

var (
	testDB  *sql.DB
	testSvc *Service
)

func TestMain(m *testing.M) {
	// Shared cache mode so all pooled connections see the same database
	var err error
	testDB, err = sql.Open("sqlite3", "file:membershiptest?mode=memory&cache=shared")
	if err != nil {
		panic(err)
	}

	if _, err := testDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		panic(err)
	}
	if _, err := testDB.Exec(db.Schema); err != nil {
		panic(err)
	}

	testSvc = NewService(testDB)

	code := m.Run()

	testDB.Close()
	os.Exit(code)
}

func clearTestData() {
	testDB.Exec("DELETE FROM push_subscriptions")
	testDB.Exec("DELETE FROM personal_files")
	testDB.Exec("DELETE FROM files")
	testDB.Exec("DELETE FROM messages")
	testDB.Exec("DELETE FROM group_members")
	testDB.Exec("DELETE FROM groups")
	testDB.Exec("DELETE FROM name_counters")
	testDB.Exec("DELETE FROM users")
}

// createTestUser inserts a user row directly, bypassing the signup flow.
func createTestUser(t *testing.T, name string) int {
	t.Helper()
	result, err := testDB.Exec(
		"INSERT INTO users (name, username, email, password_hash) VALUES (?, ?, ?, ?)",
		name, name+"#0001", name+"@example.com", "x",
	)
	if err != nil {
		t.Fatalf("Failed to create test user %s: %v", name, err)
	}
	id, _ := result.LastInsertId()
	return int(id)
}

func createTestGroup(t *testing.T, ownerID int) *models.Group {
	t.Helper()
	group, err := testSvc.CreateGroup(ownerID, "book club", "weekly reading group", "password123")
	if err != nil {
		t.Fatalf("Failed to create test group: %v", err)
	}
	return group
}

func joinTestGroup(t *testing.T, userID int, group *models.Group) {
	t.Helper()
	if _, err := testSvc.JoinGroup(userID, group.Code, "password123"); err != nil {
		t.Fatalf("Failed to join test group: %v", err)
	}
}

func groupRole(t *testing.T, groupID, userID int) string {
	t.Helper()
	var role string
	err := testDB.QueryRow(
		"SELECT role FROM group_members WHERE group_id = ? AND user_id = ?",
		groupID, userID,
	).Scan(&role)
	if err != nil {
		t.Fatalf("Failed to query role: %v", err)
	}
	return role
}

func TestCreateGroup(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")

	tests := []struct {
		name        string
		groupName   string
		description string
		password    string
		wantErr     error
	}{
		{"valid group", "book club", "weekly reading group", "password123", nil},
		{"empty name", "", "weekly reading group", "password123", ErrInvalidInput},
		{"name too long", "a group name that never ends", "desc", "password123", ErrInvalidInput},
		{"empty description", "book club", "", "password123", ErrInvalidInput},
		{"short password", "book club", "desc", "short", ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, err := testSvc.CreateGroup(owner, tt.groupName, tt.description, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("CreateGroup() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateGroup() error = %v", err)
			}
			if group.OwnerID != owner {
				t.Errorf("OwnerID = %d, want %d", group.OwnerID, owner)
			}
			if len(group.Code) != 8 {
				t.Errorf("Code = %q, want 8 hex characters", group.Code)
			}
			if role := groupRole(t, group.ID, owner); role != models.RoleAdmin {
				t.Errorf("creator role = %q, want %q", role, models.RoleAdmin)
			}
			members, err := testSvc.GroupMembers(group.ID)
			if err != nil {
				t.Fatalf("GroupMembers() error = %v", err)
			}
			if len(members) != 1 {
				t.Errorf("member count = %d, want 1", len(members))
			}
		})
	}

	t.Run("unknown creator", func(t *testing.T) {
		if _, err := testSvc.CreateGroup(99999, "book club", "desc", "password123"); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("CreateGroup() error = %v, want ErrUserNotFound", err)
		}
	})
}

func TestJoinGroup(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	joiner := createTestUser(t, "bob")
	group := createTestGroup(t, owner)

	t.Run("wrong code", func(t *testing.T) {
		if _, err := testSvc.JoinGroup(joiner, "deadbeef", "password123"); !errors.Is(err, ErrGroupNotFound) {
			t.Errorf("JoinGroup() error = %v, want ErrGroupNotFound", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := testSvc.JoinGroup(joiner, group.Code, "wrongpassword"); !errors.Is(err, ErrWrongPassword) {
			t.Errorf("JoinGroup() error = %v, want ErrWrongPassword", err)
		}
	})

	t.Run("successful join", func(t *testing.T) {
		joined, err := testSvc.JoinGroup(joiner, group.Code, "password123")
		if err != nil {
			t.Fatalf("JoinGroup() error = %v", err)
		}
		if joined.ID != group.ID {
			t.Errorf("group ID = %d, want %d", joined.ID, group.ID)
		}
		if role := groupRole(t, group.ID, joiner); role != models.RoleParticipant {
			t.Errorf("joiner role = %q, want %q", role, models.RoleParticipant)
		}
	})

	t.Run("joining twice is a no-op", func(t *testing.T) {
		if _, err := testSvc.JoinGroup(joiner, group.Code, "password123"); err != nil {
			t.Fatalf("JoinGroup() error = %v", err)
		}
		members, err := testSvc.GroupMembers(group.ID)
		if err != nil {
			t.Fatalf("GroupMembers() error = %v", err)
		}
		if len(members) != 2 {
			t.Errorf("member count = %d, want 2", len(members))
		}
	})
}

func TestLeaveGroupLastParticipantDeletesGroup(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	group := createTestGroup(t, owner)

	msg, err := testSvc.PostMessage(owner, group.ID, "hello", []Attachment{
		{ID: "filekey1", FileName: "notes.txt", FilePath: "/tmp/none/filekey1", MimeType: "text/plain", FileSize: 5},
	})
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	deleted, err := testSvc.LeaveGroup(owner, group.ID)
	if err != nil {
		t.Fatalf("LeaveGroup() error = %v", err)
	}
	if !deleted {
		t.Error("LeaveGroup() deleted = false, want true")
	}

	if _, err := testSvc.GetGroup(group.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("GetGroup() error = %v, want ErrGroupNotFound", err)
	}
	if _, err := testSvc.GetMessage(msg.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("GetMessage() error = %v, want ErrMessageNotFound", err)
	}
	if _, _, err := testSvc.GetFile("filekey1"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("GetFile() error = %v, want ErrFileNotFound", err)
	}
}

func TestLeaveGroupPromotesAndTransfersOwnership(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	second := createTestUser(t, "bob")
	third := createTestUser(t, "carol")
	group := createTestGroup(t, owner)
	joinTestGroup(t, second, group)
	joinTestGroup(t, third, group)

	// Owner was the only admin. Leaving must promote the earliest-joined
	// remaining participant and hand them ownership.
	deleted, err := testSvc.LeaveGroup(owner, group.ID)
	if err != nil {
		t.Fatalf("LeaveGroup() error = %v", err)
	}
	if deleted {
		t.Error("LeaveGroup() deleted = true, want false")
	}

	updated, err := testSvc.GetGroup(group.ID)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if updated.OwnerID != second {
		t.Errorf("new owner = %d, want %d", updated.OwnerID, second)
	}
	if role := groupRole(t, group.ID, second); role != models.RoleAdmin {
		t.Errorf("promoted role = %q, want %q", role, models.RoleAdmin)
	}
	if role := groupRole(t, group.ID, third); role != models.RoleParticipant {
		t.Errorf("bystander role = %q, want %q", role, models.RoleParticipant)
	}
}

func TestLeaveGroupKeepsExistingAdmins(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	admin := createTestUser(t, "bob")
	participant := createTestUser(t, "carol")
	group := createTestGroup(t, owner)
	joinTestGroup(t, admin, group)
	joinTestGroup(t, participant, group)

	if err := testSvc.PromoteAdmin(owner, group.ID, admin); err != nil {
		t.Fatalf("PromoteAdmin() error = %v", err)
	}

	if _, err := testSvc.LeaveGroup(owner, group.ID); err != nil {
		t.Fatalf("LeaveGroup() error = %v", err)
	}

	// An admin already existed, so ownership goes there with no promotion.
	updated, err := testSvc.GetGroup(group.ID)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if updated.OwnerID != admin {
		t.Errorf("new owner = %d, want %d", updated.OwnerID, admin)
	}
	if role := groupRole(t, group.ID, participant); role != models.RoleParticipant {
		t.Errorf("participant role = %q, want %q", role, models.RoleParticipant)
	}
}

func TestLeaveGroupNotMember(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	outsider := createTestUser(t, "bob")
	group := createTestGroup(t, owner)

	if _, err := testSvc.LeaveGroup(outsider, group.ID); !errors.Is(err, ErrNotMember) {
		t.Errorf("LeaveGroup() error = %v, want ErrNotMember", err)
	}
}

func TestRemoveUser(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	admin := createTestUser(t, "bob")
	participant := createTestUser(t, "carol")
	outsider := createTestUser(t, "dave")
	group := createTestGroup(t, owner)
	joinTestGroup(t, admin, group)
	joinTestGroup(t, participant, group)

	if err := testSvc.PromoteAdmin(owner, group.ID, admin); err != nil {
		t.Fatalf("PromoteAdmin() error = %v", err)
	}

	tests := []struct {
		name    string
		actor   int
		target  int
		wantErr error
	}{
		{"participant cannot remove", participant, admin, ErrNotAuthorized},
		{"nobody removes the owner", admin, owner, ErrOwnerImmutable},
		{"admin cannot remove admin", admin, admin, ErrNotAuthorized},
		{"target not a member", owner, outsider, ErrNotMember},
		{"admin removes participant", admin, participant, nil},
		{"owner removes admin", owner, admin, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testSvc.RemoveUser(tt.actor, group.ID, tt.target)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("RemoveUser() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RemoveUser() error = %v", err)
			}
			if member, _ := testSvc.IsMember(group.ID, tt.target); member {
				t.Error("target still a member after removal")
			}
		})
	}
}

func TestRemoveLastAdminPromotesEarliestParticipant(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	admin := createTestUser(t, "bob")
	first := createTestUser(t, "carol")
	second := createTestUser(t, "dave")
	group := createTestGroup(t, owner)
	joinTestGroup(t, admin, group)
	joinTestGroup(t, first, group)
	joinTestGroup(t, second, group)

	if err := testSvc.PromoteAdmin(owner, group.ID, admin); err != nil {
		t.Fatalf("PromoteAdmin() error = %v", err)
	}

	// Owner leaves, then the remaining admin is removed by the new owner's
	// successor chain: at every step exactly one admin-equivalent must exist.
	if _, err := testSvc.LeaveGroup(owner, group.ID); err != nil {
		t.Fatalf("LeaveGroup() error = %v", err)
	}
	if _, err := testSvc.LeaveGroup(admin, group.ID); err != nil {
		t.Fatalf("LeaveGroup() error = %v", err)
	}

	updated, err := testSvc.GetGroup(group.ID)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if updated.OwnerID != first {
		t.Errorf("new owner = %d, want %d", updated.OwnerID, first)
	}
	if role := groupRole(t, group.ID, first); role != models.RoleAdmin {
		t.Errorf("promoted role = %q, want %q", role, models.RoleAdmin)
	}
	if role := groupRole(t, group.ID, second); role != models.RoleParticipant {
		t.Errorf("later joiner role = %q, want %q", role, models.RoleParticipant)
	}
}

func TestPromoteAndDemoteAdmin(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	admin := createTestUser(t, "bob")
	participant := createTestUser(t, "carol")
	group := createTestGroup(t, owner)
	joinTestGroup(t, admin, group)
	joinTestGroup(t, participant, group)

	t.Run("only the owner promotes", func(t *testing.T) {
		if err := testSvc.PromoteAdmin(admin, group.ID, participant); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("PromoteAdmin() error = %v, want ErrNotAuthorized", err)
		}
	})

	t.Run("promote non-member", func(t *testing.T) {
		stranger := createTestUser(t, "eve")
		if err := testSvc.PromoteAdmin(owner, group.ID, stranger); !errors.Is(err, ErrNotMember) {
			t.Errorf("PromoteAdmin() error = %v, want ErrNotMember", err)
		}
	})

	t.Run("promote then demote", func(t *testing.T) {
		if err := testSvc.PromoteAdmin(owner, group.ID, admin); err != nil {
			t.Fatalf("PromoteAdmin() error = %v", err)
		}
		if role := groupRole(t, group.ID, admin); role != models.RoleAdmin {
			t.Errorf("role = %q, want %q", role, models.RoleAdmin)
		}
		if err := testSvc.DemoteAdmin(owner, group.ID, admin); err != nil {
			t.Fatalf("DemoteAdmin() error = %v", err)
		}
		if role := groupRole(t, group.ID, admin); role != models.RoleParticipant {
			t.Errorf("role = %q, want %q", role, models.RoleParticipant)
		}
	})

	t.Run("demote a plain participant", func(t *testing.T) {
		if err := testSvc.DemoteAdmin(owner, group.ID, participant); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("DemoteAdmin() error = %v, want ErrNotAuthorized", err)
		}
	})

	t.Run("owner is not demotable", func(t *testing.T) {
		if err := testSvc.DemoteAdmin(owner, group.ID, owner); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("DemoteAdmin() error = %v, want ErrNotAuthorized", err)
		}
	})
}

func TestDeleteGroup(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	member := createTestUser(t, "bob")
	group := createTestGroup(t, owner)
	joinTestGroup(t, member, group)

	msg, err := testSvc.PostMessage(owner, group.ID, "archive this", []Attachment{
		{ID: "delkey1", FileName: "data.bin", FilePath: "/tmp/none/delkey1", FileSize: 3},
	})
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	if err := testSvc.DeleteGroup(member, group.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("DeleteGroup() error = %v, want ErrNotAuthorized", err)
	}

	if err := testSvc.DeleteGroup(owner, group.ID); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}

	if _, err := testSvc.GetGroup(group.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("GetGroup() error = %v, want ErrGroupNotFound", err)
	}
	if _, err := testSvc.GetMessage(msg.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("GetMessage() error = %v, want ErrMessageNotFound", err)
	}
	if member, _ := testSvc.IsMember(group.ID, owner); member {
		t.Error("membership rows survived group deletion")
	}
}

func TestDeleteAccount(t *testing.T) {
	clearTestData()
	leaver := createTestUser(t, "alice")
	survivor := createTestUser(t, "bob")

	owned := createTestGroup(t, leaver)
	joinTestGroup(t, survivor, owned)

	solo := createTestGroup(t, leaver)

	msg, err := testSvc.PostMessage(leaver, owned.ID, "left behind", nil)
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	if err := testSvc.DeleteAccount(leaver); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}

	var count int
	testDB.QueryRow("SELECT COUNT(*) FROM users WHERE id = ?", leaver).Scan(&count)
	if count != 0 {
		t.Error("user row survived account deletion")
	}

	// Group with remaining members survives under a new owner.
	updated, err := testSvc.GetGroup(owned.ID)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if updated.OwnerID != survivor {
		t.Errorf("new owner = %d, want %d", updated.OwnerID, survivor)
	}

	// Sole-member group is gone.
	if _, err := testSvc.GetGroup(solo.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("GetGroup() error = %v, want ErrGroupNotFound", err)
	}

	// The departed user's messages survive with the sender detached.
	got, err := testSvc.GetMessage(msg.ID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if got.SenderID != 0 || got.SenderName != "" {
		t.Errorf("sender = %d %q, want detached", got.SenderID, got.SenderName)
	}

	if err := testSvc.DeleteAccount(leaver); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("DeleteAccount() error = %v, want ErrUserNotFound", err)
	}
}

func TestPostMessageModeration(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	participant := createTestUser(t, "bob")
	outsider := createTestUser(t, "carol")
	group := createTestGroup(t, owner)
	joinTestGroup(t, participant, group)

	t.Run("non-member cannot post", func(t *testing.T) {
		if _, err := testSvc.PostMessage(outsider, group.ID, "hi", nil); !errors.Is(err, ErrNotMember) {
			t.Errorf("PostMessage() error = %v, want ErrNotMember", err)
		}
	})

	t.Run("empty message rejected", func(t *testing.T) {
		if _, err := testSvc.PostMessage(owner, group.ID, "   ", nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("PostMessage() error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("admin posts go out immediately", func(t *testing.T) {
		msg, err := testSvc.PostMessage(owner, group.ID, "announcement", nil)
		if err != nil {
			t.Fatalf("PostMessage() error = %v", err)
		}
		if msg.State != models.MessageSent {
			t.Errorf("state = %q, want %q", msg.State, models.MessageSent)
		}
	})

	t.Run("participant posts wait for approval", func(t *testing.T) {
		msg, err := testSvc.PostMessage(participant, group.ID, "question", nil)
		if err != nil {
			t.Fatalf("PostMessage() error = %v", err)
		}
		if msg.State != models.MessagePending {
			t.Errorf("state = %q, want %q", msg.State, models.MessagePending)
		}

		sent, err := testSvc.ListMessages(group.ID)
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		for _, m := range sent {
			if m.ID == msg.ID {
				t.Error("pending message leaked into the sent feed")
			}
		}
	})
}

func TestApproveAndRejectMessage(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	participant := createTestUser(t, "bob")
	group := createTestGroup(t, owner)
	joinTestGroup(t, participant, group)

	pendingA, err := testSvc.PostMessage(participant, group.ID, "approve me", nil)
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	pendingB, err := testSvc.PostMessage(participant, group.ID, "reject me", []Attachment{
		{ID: "rejkey1", FileName: "spam.txt", FilePath: "/tmp/none/rejkey1", FileSize: 4},
	})
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	t.Run("queue is admin only", func(t *testing.T) {
		if _, err := testSvc.ListPendingMessages(participant, group.ID); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("ListPendingMessages() error = %v, want ErrNotAuthorized", err)
		}
		if _, err := testSvc.ApproveMessage(participant, group.ID, pendingA.ID); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("ApproveMessage() error = %v, want ErrNotAuthorized", err)
		}
		if err := testSvc.RejectMessage(participant, group.ID, pendingB.ID); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("RejectMessage() error = %v, want ErrNotAuthorized", err)
		}
	})

	t.Run("approve moves message to the feed", func(t *testing.T) {
		queue, err := testSvc.ListPendingMessages(owner, group.ID)
		if err != nil {
			t.Fatalf("ListPendingMessages() error = %v", err)
		}
		if len(queue) != 2 {
			t.Fatalf("queue length = %d, want 2", len(queue))
		}

		approved, err := testSvc.ApproveMessage(owner, group.ID, pendingA.ID)
		if err != nil {
			t.Fatalf("ApproveMessage() error = %v", err)
		}
		if approved.State != models.MessageSent {
			t.Errorf("state = %q, want %q", approved.State, models.MessageSent)
		}

		sent, err := testSvc.ListMessages(group.ID)
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if len(sent) != 1 || sent[0].ID != pendingA.ID {
			t.Errorf("sent feed = %d messages, want just the approved one", len(sent))
		}
	})

	t.Run("approving twice fails", func(t *testing.T) {
		if _, err := testSvc.ApproveMessage(owner, group.ID, pendingA.ID); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("ApproveMessage() error = %v, want ErrMessageNotFound", err)
		}
	})

	t.Run("reject deletes message and files", func(t *testing.T) {
		if err := testSvc.RejectMessage(owner, group.ID, pendingB.ID); err != nil {
			t.Fatalf("RejectMessage() error = %v", err)
		}
		if _, err := testSvc.GetMessage(pendingB.ID); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("GetMessage() error = %v, want ErrMessageNotFound", err)
		}
		if _, _, err := testSvc.GetFile("rejkey1"); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("GetFile() error = %v, want ErrFileNotFound", err)
		}
	})

	t.Run("rejecting a sent message fails", func(t *testing.T) {
		if err := testSvc.RejectMessage(owner, group.ID, pendingA.ID); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("RejectMessage() error = %v, want ErrMessageNotFound", err)
		}
	})
}

func TestPersonalStorage(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	member := createTestUser(t, "bob")
	outsider := createTestUser(t, "carol")
	group := createTestGroup(t, owner)
	joinTestGroup(t, member, group)

	if _, err := testSvc.PostMessage(owner, group.ID, "shared file", []Attachment{
		{ID: "savekey1", FileName: "slides.pdf", FilePath: "/tmp/none/savekey1", MimeType: "application/pdf", FileSize: 9},
	}); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	if _, err := testSvc.PostMessage(member, group.ID, "unapproved file", []Attachment{
		{ID: "pendkey1", FileName: "draft.pdf", FilePath: "/tmp/none/pendkey1", FileSize: 2},
	}); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	t.Run("non-member cannot save", func(t *testing.T) {
		if err := testSvc.SaveToPersonalStorage(outsider, group.ID, "savekey1"); !errors.Is(err, ErrNotMember) {
			t.Errorf("SaveToPersonalStorage() error = %v, want ErrNotMember", err)
		}
	})

	t.Run("pending attachments are not resolvable", func(t *testing.T) {
		if err := testSvc.SaveToPersonalStorage(member, group.ID, "pendkey1"); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("SaveToPersonalStorage() error = %v, want ErrFileNotFound", err)
		}
	})

	t.Run("save and list", func(t *testing.T) {
		if err := testSvc.SaveToPersonalStorage(member, group.ID, "savekey1"); err != nil {
			t.Fatalf("SaveToPersonalStorage() error = %v", err)
		}
		// Duplicate save is a no-op.
		if err := testSvc.SaveToPersonalStorage(member, group.ID, "savekey1"); err != nil {
			t.Fatalf("SaveToPersonalStorage() error = %v", err)
		}

		files, err := testSvc.ListPersonalStorage(member, group.ID)
		if err != nil {
			t.Fatalf("ListPersonalStorage() error = %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("personal storage = %d files, want 1", len(files))
		}
		if files[0].ID != "savekey1" || files[0].FileName != "slides.pdf" {
			t.Errorf("saved file = %q %q", files[0].ID, files[0].FileName)
		}
	})

	t.Run("leaving clears personal storage", func(t *testing.T) {
		if _, err := testSvc.LeaveGroup(member, group.ID); err != nil {
			t.Fatalf("LeaveGroup() error = %v", err)
		}
		files, err := testSvc.ListPersonalStorage(member, group.ID)
		if err != nil {
			t.Fatalf("ListPersonalStorage() error = %v", err)
		}
		if len(files) != 0 {
			t.Errorf("personal storage = %d files, want 0", len(files))
		}
	})
}

func TestMemberAndAdminIDs(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	admin := createTestUser(t, "bob")
	participant := createTestUser(t, "carol")
	group := createTestGroup(t, owner)
	joinTestGroup(t, admin, group)
	joinTestGroup(t, participant, group)

	if err := testSvc.PromoteAdmin(owner, group.ID, admin); err != nil {
		t.Fatalf("PromoteAdmin() error = %v", err)
	}

	members, err := testSvc.MemberIDs(group.ID)
	if err != nil {
		t.Fatalf("MemberIDs() error = %v", err)
	}
	if len(members) != 3 {
		t.Errorf("member IDs = %v, want 3 entries", members)
	}

	admins, err := testSvc.AdminIDs(group.ID)
	if err != nil {
		t.Fatalf("AdminIDs() error = %v", err)
	}
	if len(admins) != 2 {
		t.Errorf("admin IDs = %v, want owner and promoted admin", admins)
	}
	want := map[int]bool{owner: true, admin: true}
	for _, id := range admins {
		if !want[id] {
			t.Errorf("unexpected admin ID %d", id)
		}
	}
}

func TestGroupInvariantsUnderOperationSequence(t *testing.T) {
	clearTestData()
	owner := createTestUser(t, "alice")
	users := []int{owner}
	for i := 0; i < 4; i++ {
		users = append(users, createTestUser(t, fmt.Sprintf("user%d", i)))
	}

	group := createTestGroup(t, owner)
	for _, id := range users[1:] {
		joinTestGroup(t, id, group)
	}
	if err := testSvc.PromoteAdmin(owner, group.ID, users[2]); err != nil {
		t.Fatalf("PromoteAdmin() error = %v", err)
	}

	checkInvariants := func(t *testing.T) {
		t.Helper()
		g, err := testSvc.GetGroup(group.ID)
		if errors.Is(err, ErrGroupNotFound) {
			return
		}
		if err != nil {
			t.Fatalf("GetGroup() error = %v", err)
		}
		members, err := testSvc.GroupMembers(group.ID)
		if err != nil {
			t.Fatalf("GroupMembers() error = %v", err)
		}
		if len(members) == 0 {
			t.Fatal("group exists with no participants")
		}
		ownerIsMember := false
		adminCount := 0
		for _, m := range members {
			if m.UserID == g.OwnerID {
				ownerIsMember = true
			}
			if m.Role == models.RoleAdmin {
				adminCount++
			}
		}
		if !ownerIsMember {
			t.Errorf("owner %d is not a participant", g.OwnerID)
		}
		if adminCount == 0 {
			admin, err := testSvc.IsAdmin(group.ID, g.OwnerID)
			if err != nil || !admin {
				t.Error("group has no admin-equivalent member")
			}
		}
	}

	ops := []func() error{
		func() error { _, err := testSvc.LeaveGroup(users[3], group.ID); return err },
		func() error { _, err := testSvc.RemoveUser(owner, group.ID, users[2]); return err },
		func() error { _, err := testSvc.LeaveGroup(owner, group.ID); return err },
		func() error {
			g, err := testSvc.GetGroup(group.ID)
			if err != nil {
				return err
			}
			_, err = testSvc.LeaveGroup(g.OwnerID, group.ID)
			return err
		},
		func() error {
			g, err := testSvc.GetGroup(group.ID)
			if err != nil {
				return err
			}
			_, err = testSvc.LeaveGroup(g.OwnerID, group.ID)
			return err
		},
	}

	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("operation %d failed: %v", i, err)
		}
		checkInvariants(t)
	}

	// Everyone left, so the group must be gone.
	if _, err := testSvc.GetGroup(group.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("GetGroup() error = %v, want ErrGroupNotFound", err)
	}
}
