package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewTokenManager("secret")
	if err != nil {
		t.Fatal(err)
	}

	token, err := m.GenerateToken("ops", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "ops" || claims.Role != adminRole {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	m, _ := NewTokenManager("secret")
	other, _ := NewTokenManager("other")

	expired, _ := m.GenerateToken("ops", -time.Minute)
	foreign, _ := other.GenerateToken("ops", time.Hour)
	wrongRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Role: "viewer"}).SignedString([]byte("secret"))

	for name, token := range map[string]string{
		"expired":    expired,
		"foreign":    foreign,
		"wrong role": wrongRole,
		"garbage":    "not.a.token",
	} {
		if _, err := m.ValidateToken(token); err == nil {
			t.Errorf("%s token accepted", name)
		}
	}

	if _, err := NewTokenManager(""); err == nil {
		t.Error("empty secret accepted")
	}
}

func TestAdminMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := NewTokenManager("secret")
	valid, _ := m.GenerateToken("ops", time.Hour)

	router := gin.New()
	router.GET("/admin", m.AdminMiddleware(zap.NewNop()), func(c *gin.Context) {
		subject, _ := GetSubject(c)
		c.String(http.StatusOK, subject)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token " + valid, http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK && w.Body.String() != "ops" {
				t.Errorf("subject = %q", w.Body.String())
			}
		})
	}
}
