// handlers/auth_handlers.go
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"tourtrack/api/models"
	"tourtrack/api/store"
	"tourtrack/api/utils"
)

const tokenCookie = "jwt_token"

// UserStore holds dashboard accounts.
type UserStore interface {
	CreateUser(ctx context.Context, email, displayName string, hashedPassword []byte) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type AuthHandlers struct {
	UserStore UserStore
	Tokens    *utils.TokenIssuer
}

func NewAuthHandlers(userStore UserStore, tokens *utils.TokenIssuer) *AuthHandlers {
	return &AuthHandlers{UserStore: userStore, Tokens: tokens}
}

func (h *AuthHandlers) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	logger := log.Ctx(c.Request.Context())

	_, err := h.UserStore.GetUserByEmail(c.Request.Context(), req.Email)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
		return
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		logger.Error().Err(err).Msg("database error during signup email check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check user existence"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error().Err(err).Str("email", req.Email).Msg("failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user, err := h.UserStore.CreateUser(c.Request.Context(), req.Email, req.DisplayName, hashedPassword)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "User with this email already exists"})
			return
		}
		logger.Error().Err(err).Str("email", req.Email).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	logger.Info().Int("user_id", user.ID).Msg("user registered")
	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully", "user_email": user.Email})
}

// Login handles user authentication and JWT token creation.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	logger := log.Ctx(c.Request.Context())

	user, err := h.UserStore.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		logger.Info().Err(err).Str("email", req.Email).Msg("login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(req.Password)); err != nil {
		logger.Info().Str("email", req.Email).Msg("login failed: password mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := h.Tokens.GenerateJWT(user)
	if err != nil {
		logger.Error().Err(err).Int("user_id", user.ID).Msg("failed to generate JWT")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetCookie(tokenCookie, tokenString, int(h.Tokens.TTL().Seconds()), "/", "", false, true)

	logger.Info().Int("user_id", user.ID).Msg("user logged in")
	c.JSON(http.StatusOK, gin.H{
		"message":      "Login successful",
		"user_email":   user.Email,
		"display_name": user.DisplayName,
	})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie(tokenCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
