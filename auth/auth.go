package auth

import (
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// SessionCookieName is the per-browser participant identifier cookie.
	SessionCookieName = "pp_session"
	// SessionHeaderName lets clients pin an explicit session id (tabs that
	// cannot share cookies, test clients).
	SessionHeaderName = "X-Session-Id"

	sessionContextKey = "participant_session_id"
)

var jwtSecret = []byte(os.Getenv("JWT_SECRET"))

// SessionMiddleware assigns every request a durable participant identifier.
// An explicit header wins over the cookie; a missing identifier is minted and
// set as a cookie so the same browser keeps it across requests.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetHeader(SessionHeaderName)
		if sessionID == "" {
			if cookie, err := c.Cookie(SessionCookieName); err == nil {
				sessionID = cookie
			}
		}
		if sessionID == "" {
			sessionID = uuid.New().String()
			// 30天有效期，与前端会话保持一致
			c.SetCookie(SessionCookieName, sessionID, 30*24*3600, "/", "", false, true)
		}
		c.Set(sessionContextKey, sessionID)
		c.Next()
	}
}

// ParticipantID returns the session identifier assigned by SessionMiddleware.
func ParticipantID(c *gin.Context) string {
	if v, ok := c.Get(sessionContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// VerifiedUserID parses an optional Bearer token and returns its subject.
// Returns the empty string for missing or invalid tokens; owner checks treat
// that as "no verified identity", never as an error.
func VerifiedUserID(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == "" || len(jwtSecret) == 0 {
		return ""
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

// SetSecretForTest overrides the JWT secret; tests only.
func SetSecretForTest(secret string) {
	jwtSecret = []byte(secret)
}
