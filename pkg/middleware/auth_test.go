package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-io-live/pkg/jwt"
)

func TestRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mgr, err := jwt.NewHMACManager([]byte("secret"), "")
	if err != nil {
		t.Fatal(err)
	}
	token, err := mgr.Sign("42", "alice", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET("/me", NewAuthMiddleware(mgr).RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c)+"/"+GetUsername(c))
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
		{"ok", "Bearer " + token, http.StatusOK, "42/alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}
