package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"groupdrop/internal/membership"
	"groupdrop/internal/models"
	"groupdrop/internal/push"
	"groupdrop/internal/ws"
	"groupdrop/pkg/i18n"
)

type MessageHandler struct {
	svc           *membership.Service
	hub           *ws.Hub
	notifier      *push.Notifier
	uploadDir     string
	maxUploadSize int64
}

func NewMessageHandler(svc *membership.Service, hub *ws.Hub, notifier *push.Notifier, uploadDir string, maxUploadSize int64) *MessageHandler {
	return &MessageHandler{
		svc:           svc,
		hub:           hub,
		notifier:      notifier,
		uploadDir:     uploadDir,
		maxUploadSize: maxUploadSize,
	}
}

// PostMessage accepts a multipart form with a description and any number of
// attachments. Uploads land on disk under a random key before the database
// records them; on failure the orphaned files are unlinked again.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	description := c.PostForm("description")

	var attachments []membership.Attachment
	cleanup := func() {
		for _, att := range attachments {
			os.Remove(att.FilePath)
		}
	}

	for _, header := range form.File["files"] {
		if header.Size > h.maxUploadSize {
			cleanup()
			errorJSON(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}

		key := uuid.NewString()
		dst := filepath.Join(h.uploadDir, key)
		if err := c.SaveUploadedFile(header, dst); err != nil {
			cleanup()
			errorJSON(c, http.StatusInternalServerError, "failed to save file: "+err.Error())
			return
		}

		attachments = append(attachments, membership.Attachment{
			ID:       key,
			FileName: filepath.Base(header.Filename),
			FilePath: dst,
			MimeType: header.Header.Get("Content-Type"),
			FileSize: header.Size,
		})
	}

	msg, err := h.svc.PostMessage(userID, groupID, description, attachments)
	if err != nil {
		cleanup()
		serviceError(c, err)
		return
	}

	h.fanOut(msg)

	if msg.State == models.MessagePending {
		c.JSON(http.StatusAccepted, gin.H{
			"message": msg,
			"note":    i18n.Translate("message pending"),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// ListPendingMessages returns the moderation queue. Admin-equivalent only.
func (h *MessageHandler) ListPendingMessages(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	messages, err := h.svc.ListPendingMessages(userID, groupID)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// ApproveMessage publishes a pending message to the group.
func (h *MessageHandler) ApproveMessage(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}
	messageID, ok := paramID(c, "messageID")
	if !ok {
		return
	}

	msg, err := h.svc.ApproveMessage(userID, groupID, messageID)
	if err != nil {
		serviceError(c, err)
		return
	}

	h.fanOut(msg)
	if h.hub != nil && msg.SenderID != 0 {
		h.hub.NotifyModeration(msg.SenderID, groupID, msg.ID, true)
	}

	messageJSON(c, http.StatusOK, "message approved")
}

// RejectMessage drops a pending message and its attachments.
func (h *MessageHandler) RejectMessage(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}
	messageID, ok := paramID(c, "messageID")
	if !ok {
		return
	}

	msg, err := h.svc.GetMessage(messageID)
	if err != nil || msg.GroupID != groupID {
		serviceError(c, membership.ErrMessageNotFound)
		return
	}

	if err := h.svc.RejectMessage(userID, groupID, messageID); err != nil {
		serviceError(c, err)
		return
	}

	if h.hub != nil && msg.SenderID != 0 {
		h.hub.NotifyModeration(msg.SenderID, groupID, msg.ID, false)
	}

	messageJSON(c, http.StatusOK, "message rejected")
}

// DownloadFile streams a stored attachment to members and guests of its
// group.
func (h *MessageHandler) DownloadFile(c *gin.Context) {
	fileID := c.Param("fileID")

	file, groupID, err := h.svc.GetFile(fileID)
	if err != nil {
		serviceError(c, err)
		return
	}

	if !h.canAccess(c, groupID) {
		serviceError(c, membership.ErrNotMember)
		return
	}

	if file.MimeType != "" {
		c.Header("Content-Type", file.MimeType)
	}
	c.FileAttachment(file.FilePath, file.FileName)
}

// SaveToPersonalStorage bookmarks a group file for the caller.
func (h *MessageHandler) SaveToPersonalStorage(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}
	fileID := c.Param("fileID")

	if err := h.svc.SaveToPersonalStorage(userID, groupID, fileID); err != nil {
		serviceError(c, err)
		return
	}

	messageJSON(c, http.StatusOK, "saved to personal storage")
}

// ListPersonalStorage returns the caller's saved files in the group.
func (h *MessageHandler) ListPersonalStorage(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	member, err := h.svc.IsMember(groupID, userID)
	if err != nil {
		serviceError(c, err)
		return
	}
	if !member {
		serviceError(c, membership.ErrNotMember)
		return
	}

	files, err := h.svc.ListPersonalStorage(userID, groupID)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files})
}

// SubscribePush stores a Web Push subscription for the caller.
func (h *MessageHandler) SubscribePush(c *gin.Context) {
	userID := c.GetInt("user_id")

	var sub push.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil || sub.Endpoint == "" {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.notifier.Subscribe(userID, sub); err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"subscribed": true})
}

// VAPIDPublicKey hands the frontend the key it needs to subscribe.
func (h *MessageHandler) VAPIDPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"key": h.notifier.VAPIDPublicKey()})
}

// fanOut pushes a message to the right audience: the whole group once it is
// sent, only the admins while it waits for approval.
func (h *MessageHandler) fanOut(msg *models.Message) {
	group, err := h.svc.GetGroup(msg.GroupID)
	if err != nil {
		return
	}

	if msg.State == models.MessageSent {
		memberIDs, err := h.svc.MemberIDs(msg.GroupID)
		if err != nil {
			return
		}
		if h.hub != nil {
			h.hub.BroadcastGroupMessage(memberIDs, group.Name, msg)
		}
		h.notifier.SendNewMessageNotification(memberIDs, msg.GroupID, group.Name, msg.SenderName)
		return
	}

	adminIDs, err := h.svc.AdminIDs(msg.GroupID)
	if err != nil {
		return
	}
	if h.hub != nil {
		h.hub.NotifyPendingMessage(adminIDs, group.Name, msg)
	}
	h.notifier.SendPendingApprovalNotification(adminIDs, msg.GroupID, group.Name, msg.SenderName)
}

func (h *MessageHandler) canAccess(c *gin.Context, groupID int) bool {
	if guestCanAccess(c, groupID) {
		return true
	}
	if c.GetBool("guest") {
		return false
	}
	member, err := h.svc.IsMember(groupID, c.GetInt("user_id"))
	return err == nil && member
}
