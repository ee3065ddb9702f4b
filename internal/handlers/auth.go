package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"groupdrop/internal/auth"
	"groupdrop/internal/mail"
	"groupdrop/internal/membership"
	"groupdrop/internal/models"
)

type AuthHandler struct {
	authSvc   *auth.Service
	memberSvc *membership.Service
	mailer    *mail.Mailer
	baseURL   string
}

func NewAuthHandler(authSvc *auth.Service, memberSvc *membership.Service, mailer *mail.Mailer, baseURL string) *AuthHandler {
	return &AuthHandler{
		authSvc:   authSvc,
		memberSvc: memberSvc,
		mailer:    mailer,
		baseURL:   baseURL,
	}
}

type SignupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Signup creates a new account and signs it in.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.authSvc.Signup(req.Name, req.Email, req.Password)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.authSvc.GenerateToken(user.ID, user.Username)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login authenticates by email and password.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	token, user, err := h.authSvc.Login(req.Email, req.Password)
	if err != nil {
		errorJSON(c, http.StatusUnauthorized, err.Error())
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token, User: user})
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

// ForgotPassword issues a reset token and mails the link. The response is the
// same whether or not the address has an account.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	token, err := h.authSvc.CreateResetToken(req.Email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			serviceError(c, err)
			return
		}
	} else {
		resetURL := fmt.Sprintf("%s/reset-password?token=%s", h.baseURL, token)
		if err := h.mailer.SendPasswordReset(req.Email, resetURL); err != nil {
			log.Printf("Failed to send reset mail to %s: %v", req.Email, err)
		}
	}

	messageJSON(c, http.StatusOK, "reset email sent")
}

type ResetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ResetPassword exchanges a valid reset token for a new password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.authSvc.ResetPassword(req.Token, req.Password); err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	messageJSON(c, http.StatusOK, "password updated")
}

// GetMyProfile returns the signed-in account.
func (h *AuthHandler) GetMyProfile(c *gin.Context) {
	userID := c.GetInt("user_id")

	user, err := h.authSvc.GetUser(userID)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

// DeleteAccount removes the account after re-checking the password. Every
// group membership goes through the normal leave cascade first.
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	userID := c.GetInt("user_id")

	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.authSvc.GetUser(userID)
	if err != nil {
		serviceError(c, err)
		return
	}
	if _, _, err := h.authSvc.Login(user.Email, req.Password); err != nil {
		errorJSON(c, http.StatusUnauthorized, err.Error())
		return
	}

	if err := h.memberSvc.DeleteAccount(userID); err != nil {
		serviceError(c, err)
		return
	}

	messageJSON(c, http.StatusOK, "account deleted")
}

// AuthMiddleware validates the bearer token and stores the caller's identity
// on the context. Guest grants pass through with their single group; handlers
// that need an account put RequireUser after this.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := ""

		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}

		// WebSocket clients cannot set headers
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			errorJSON(c, http.StatusUnauthorized, "missing authorization token")
			c.Abort()
			return
		}

		claims, err := h.authSvc.ValidateToken(token)
		if err != nil {
			errorJSON(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}

		if claims.Guest {
			c.Set("guest", true)
			c.Set("guest_group_id", claims.GroupID)
			c.Next()
			return
		}

		exists, err := h.authSvc.UserExists(claims.UserID)
		if err != nil {
			serviceError(c, err)
			c.Abort()
			return
		}
		if !exists {
			errorJSON(c, http.StatusUnauthorized, "user not found")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// RequireUser rejects guest grants on endpoints that need a real account.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool("guest") {
			errorJSON(c, http.StatusForbidden, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

// guestCanAccess reports whether the context carries a guest grant for the
// group.
func guestCanAccess(c *gin.Context, groupID int) bool {
	return c.GetBool("guest") && c.GetInt("guest_group_id") == groupID
}
