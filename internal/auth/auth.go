package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"groupdrop/internal/models"
)

type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
}

// Claims covers both account sessions and guest group grants. A guest token
// carries no user identity, only the single group it unlocks.
type Claims struct {
	UserID   int    `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	GroupID  int    `json:"group_id,omitempty"`
	Guest    bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

func New(db *sql.DB, jwtSecret string) *Service {
	return NewWithTokenTTL(db, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// Signup creates an account. The public username is the display name plus a
// numeric suffix from an atomically incremented per-name counter, so two
// people named "ana" become ana#0001 and ana#0002 even under concurrent
// signups.
func (s *Service) Signup(name, email, password string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 || len(name) > 28 {
		return nil, fmt.Errorf("name should contain from 2 to 28 characters")
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("please enter a valid email")
	}

	if len(password) < 8 {
		return nil, fmt.Errorf("password should be at least 8 characters long")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var suffix int
	err = tx.QueryRow(`
		INSERT INTO name_counters (name, count) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET count = count + 1
		RETURNING count
	`, strings.ToLower(name)).Scan(&suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to assign username: %w", err)
	}

	username := fmt.Sprintf("%s#%04d", name, suffix)

	result, err := tx.Exec(
		"INSERT INTO users (name, username, email, password_hash) VALUES (?, ?, ?, ?)",
		name, username, email, string(hash),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("email address already exists")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit signup: %w", err)
	}

	return &models.User{ID: int(id), Name: name, Username: username, Email: email}, nil
}

func (s *Service) Login(email, password string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	var passwordHash string
	err := s.db.QueryRow(
		"SELECT id, name, username, email, password_hash FROM users WHERE email = ?",
		email,
	).Scan(&user.ID, &user.Name, &user.Username, &user.Email, &passwordHash)

	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil, fmt.Errorf("invalid email or password")
		}
		return "", nil, fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("invalid email or password")
	}

	token, err := s.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, &user, nil
}

func (s *Service) GenerateToken(userID int, username string) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// GenerateGuestToken issues a session-scoped grant for exactly one group.
// Guests hold no persistent membership; access dies with the token.
func (s *Service) GenerateGuestToken(groupID int) (string, error) {
	claims := Claims{
		GroupID: groupID,
		Guest:   true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// CreateResetToken stores a one-hour password reset token for the account and
// returns it. Returns sql.ErrNoRows when no account has this email; the
// handler still reports success to the client so addresses cannot be probed.
func (s *Service) CreateResetToken(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	token := hex.EncodeToString(buf)

	result, err := s.db.Exec(`
		UPDATE users SET reset_token = ?, reset_token_expires_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE email = ?
	`, token, time.Now().Add(time.Hour).UTC(), email)
	if err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}
	if affected == 0 {
		return "", sql.ErrNoRows
	}

	return token, nil
}

// ResetPassword sets a new password for the account holding a live reset
// token, then clears the token.
func (s *Service) ResetPassword(token, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password should be at least 8 characters long")
	}

	var userID int
	var expiresAt time.Time
	err := s.db.QueryRow(
		"SELECT id, reset_token_expires_at FROM users WHERE reset_token = ?",
		token,
	).Scan(&userID, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("reset token expired or is invalid")
		}
		return fmt.Errorf("failed to query reset token: %w", err)
	}

	if time.Now().After(expiresAt) {
		return fmt.Errorf("reset token expired or is invalid")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE users
		SET password_hash = ?, reset_token = NULL, reset_token_expires_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(hash), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

func (s *Service) GetUser(userID int) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(
		"SELECT id, name, username, email, created_at FROM users WHERE id = ?",
		userID,
	).Scan(&user.ID, &user.Name, &user.Username, &user.Email, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// UserExists checks if a user with the given ID exists
func (s *Service) UserExists(userID int) (bool, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}
