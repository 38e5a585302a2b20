package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "campusattend"
)

func TestIssueParse(t *testing.T) {
	now := time.Now()
	tok, err := Issue("S100", "student", testIssuer, testKey, 24*time.Hour, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(24*time.Hour), tok.ExpiresAt, time.Second)

	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "S100", claims.UserID)
	assert.Equal(t, "student", claims.Role)
}

func TestParse_Rejects(t *testing.T) {
	now := time.Now()
	expired, err := Issue("S100", "student", testIssuer, testKey, time.Hour, now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = Parse(expired.AccessToken, testKey, testIssuer)
	assert.Error(t, err)

	tok, err := Issue("S100", "student", "someone-else", testKey, time.Hour, now)
	require.NoError(t, err)
	_, err = Parse(tok.AccessToken, testKey, testIssuer)
	assert.Error(t, err)

	_, err = Parse(tok.AccessToken, "wrong-key", "")
	assert.Error(t, err)
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/faculty", UserAuth(testKey, testIssuer), RequireRole("faculty"))
	g.GET("/ping", func(c *gin.Context) {
		claims, _ := FromContext(c)
		c.String(http.StatusOK, claims.UserID)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	r := newRouter()
	faculty, err := Issue("F1", "faculty", testIssuer, testKey, time.Hour, time.Now())
	require.NoError(t, err)
	student, err := Issue("S1", "student", testIssuer, testKey, time.Hour, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"ok", "Bearer " + faculty.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/faculty/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
