package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func newSessionRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)

	var captured string
	router := gin.New()
	router.Use(SessionMiddleware())
	router.GET("/whoami", func(c *gin.Context) {
		captured = ParticipantID(c)
		c.JSON(http.StatusOK, gin.H{"session": captured, "user": VerifiedUserID(c)})
	})
	return router, &captured
}

func TestSessionMiddleware_MintsSession(t *testing.T) {
	router, captured := newSessionRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/whoami", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, *captured)

	// The minted id comes back as a cookie for later requests
	var sessionCookie *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			sessionCookie = cookie
		}
	}
	assert.NotNil(t, sessionCookie)
	assert.Equal(t, *captured, sessionCookie.Value)
}

func TestSessionMiddleware_CookieReused(t *testing.T) {
	router, captured := newSessionRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-session"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cookie-session", *captured)
	// No new cookie is minted when one is already present
	assert.Empty(t, w.Result().Cookies())
}

func TestSessionMiddleware_HeaderWinsOverCookie(t *testing.T) {
	router, captured := newSessionRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-session"})
	req.Header.Set(SessionHeaderName, "header-session")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "header-session", *captured)
}

func signToken(t *testing.T, secret, subject string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestVerifiedUserID(t *testing.T) {
	SetSecretForTest("test-secret")
	t.Cleanup(func() { SetSecretForTest("") })

	router, _ := newSessionRouter()

	do := func(authorization string) map[string]string {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/whoami", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		return map[string]string{"body": w.Body.String()}
	}

	// Valid token resolves to its subject
	resp := do("Bearer " + signToken(t, "test-secret", "user-42"))
	assert.Contains(t, resp["body"], `"user":"user-42"`)

	// Wrong secret, malformed token and missing header all degrade to anonymous
	resp = do("Bearer " + signToken(t, "wrong-secret", "user-42"))
	assert.Contains(t, resp["body"], `"user":""`)

	resp = do("Bearer not-a-token")
	assert.Contains(t, resp["body"], `"user":""`)

	resp = do("")
	assert.Contains(t, resp["body"], `"user":""`)

	resp = do("Basic dXNlcjpwYXNz")
	assert.Contains(t, resp["body"], `"user":""`)
}

func TestVerifiedUserID_ExpiredToken(t *testing.T) {
	SetSecretForTest("test-secret")
	t.Cleanup(func() { SetSecretForTest("") })

	router, _ := newSessionRouter()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	assert.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":""`)
}
