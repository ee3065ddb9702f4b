package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"groupdrop/internal/auth"
	"groupdrop/internal/membership"
)

type GroupHandler struct {
	svc     *membership.Service
	authSvc *auth.Service
}

func NewGroupHandler(svc *membership.Service, authSvc *auth.Service) *GroupHandler {
	return &GroupHandler{svc: svc, authSvc: authSvc}
}

type CreateGroupRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

// CreateGroup starts a new group owned by the caller.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	userID := c.GetInt("user_id")

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	group, err := h.svc.CreateGroup(userID, req.Name, req.Description, req.Password)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, group)
}

type JoinGroupRequest struct {
	Code     string `json:"code" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// JoinGroup unlocks a group by code and password. Signed-in callers become
// members; anonymous callers get a guest token scoped to this one group.
func (h *GroupHandler) JoinGroup(c *gin.Context) {
	var req JoinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	if userID, ok := h.signedInUser(c); ok {
		group, err := h.svc.JoinGroup(userID, req.Code, req.Password)
		if err != nil {
			serviceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"group": group})
		return
	}

	group, err := h.svc.CheckGroupPassword(req.Code, req.Password)
	if err != nil {
		serviceError(c, err)
		return
	}

	token, err := h.authSvc.GenerateGuestToken(group.ID)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"group": group, "guest_token": token})
}

// ListMyGroups returns the caller's groups.
func (h *GroupHandler) ListMyGroups(c *gin.Context) {
	userID := c.GetInt("user_id")

	groups, err := h.svc.ListUserGroups(userID)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// GetGroup returns the group with its member list and sent messages. Members
// and guests holding a grant for this group may look.
func (h *GroupHandler) GetGroup(c *gin.Context) {
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	group, err := h.svc.GetGroup(groupID)
	if err != nil {
		serviceError(c, err)
		return
	}

	if !h.canView(c, groupID) {
		serviceError(c, membership.ErrNotMember)
		return
	}

	members, err := h.svc.GroupMembers(groupID)
	if err != nil {
		serviceError(c, err)
		return
	}
	messages, err := h.svc.ListMessages(groupID)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"group":    group,
		"members":  members,
		"messages": messages,
	})
}

// LeaveGroup removes the caller from the group.
func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	deleted, err := h.svc.LeaveGroup(userID, groupID)
	if err != nil {
		serviceError(c, err)
		return
	}

	if deleted {
		messageJSON(c, http.StatusOK, "group deleted")
		return
	}
	messageJSON(c, http.StatusOK, "left group")
}

// DeleteGroup deletes the group outright. Owner only.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteGroup(userID, groupID); err != nil {
		serviceError(c, err)
		return
	}

	messageJSON(c, http.StatusOK, "group deleted")
}

// RemoveMember kicks another member out of the group.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}
	targetID, ok := paramID(c, "userID")
	if !ok {
		return
	}

	if _, err := h.svc.RemoveUser(userID, groupID, targetID); err != nil {
		serviceError(c, err)
		return
	}

	messageJSON(c, http.StatusOK, "member removed")
}

// PromoteMember makes a participant an admin. Owner only.
func (h *GroupHandler) PromoteMember(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}
	targetID, ok := paramID(c, "userID")
	if !ok {
		return
	}

	if err := h.svc.PromoteAdmin(userID, groupID, targetID); err != nil {
		serviceError(c, err)
		return
	}

	messageJSON(c, http.StatusOK, "member promoted")
}

// DemoteMember turns an admin back into a participant. Owner only.
func (h *GroupHandler) DemoteMember(c *gin.Context) {
	userID := c.GetInt("user_id")
	groupID, ok := paramID(c, "id")
	if !ok {
		return
	}
	targetID, ok := paramID(c, "userID")
	if !ok {
		return
	}

	if err := h.svc.DemoteAdmin(userID, groupID, targetID); err != nil {
		serviceError(c, err)
		return
	}

	messageJSON(c, http.StatusOK, "admin demoted")
}

// signedInUser reads an optional bearer token on an otherwise public
// endpoint.
func (h *GroupHandler) signedInUser(c *gin.Context) (int, bool) {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) <= 7 || authHeader[:7] != "Bearer " {
		return 0, false
	}

	claims, err := h.authSvc.ValidateToken(authHeader[7:])
	if err != nil || claims.Guest {
		return 0, false
	}

	exists, err := h.authSvc.UserExists(claims.UserID)
	if err != nil || !exists {
		return 0, false
	}
	return claims.UserID, true
}

func (h *GroupHandler) canView(c *gin.Context, groupID int) bool {
	if guestCanAccess(c, groupID) {
		return true
	}
	if c.GetBool("guest") {
		return false
	}
	member, err := h.svc.IsMember(groupID, c.GetInt("user_id"))
	return err == nil && member
}

func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return 0, false
	}
	return id, true
}
