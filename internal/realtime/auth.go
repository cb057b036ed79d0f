package realtime

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mkhodary/chat-gateway/internal/models"
)

// TokenManager handles JWT authentication for the upgrade endpoint
type TokenManager struct {
	jwtSecret []byte
}

// NewTokenManager creates a new token manager
func NewTokenManager(jwtSecret string) *TokenManager {
	return &TokenManager{
		jwtSecret: []byte(jwtSecret),
	}
}

// ValidateToken validates a JWT token and returns the user ID and, when the
// token carries one, the session ID.
func (a *TokenManager) ValidateToken(tokenString string) (string, string, error) {
	if len(a.jwtSecret) == 0 {
		// MVP: If no JWT secret is configured, allow all connections with default user
		// In production, this should be required
		return "default", "", nil
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})

	if err != nil {
		return "", "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", "", models.ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", models.ErrInvalidToken
	}

	sessionID, _ := claims["session_id"].(string)

	userID, ok := claims["user_id"].(string)
	if !ok {
		// Try "sub" (subject) as fallback
		if sub, ok := claims["sub"].(string); ok {
			return sub, sessionID, nil
		}
		return "", "", fmt.Errorf("user_id not found in token")
	}

	return userID, sessionID, nil
}

// ExtractTokenFromHeader extracts a JWT token from an Authorization header
func (a *TokenManager) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", fmt.Errorf("authorization header is empty")
	}

	// Support both "Bearer <token>" and just "<token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 {
		if strings.ToLower(parts[0]) != "bearer" {
			return "", fmt.Errorf("invalid authorization header format")
		}
		return parts[1], nil
	} else if len(parts) == 1 {
		return parts[0], nil
	}

	return "", fmt.Errorf("invalid authorization header format")
}
