package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"paper-showcase/internal/domain/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Handler checks the single admin credential.
type Handler struct {
	Username     string
	PasswordHash string
	Secret       []byte
	Log          *zap.Logger
	Now          func() time.Time
}

func (h *Handler) Login(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.PasswordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Admin login is disabled"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(input.Username), []byte(h.Username)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.PasswordHash), []byte(input.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	sess := session.New(true)
	tokenString, err := IssueToken(h.Secret, sess, now())
	if err != nil {
		if h.Log != nil {
			h.Log.Error("token signing failed", zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": tokenString, "session": sess.ID})
}
