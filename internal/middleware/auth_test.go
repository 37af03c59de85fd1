package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"expedify/internal/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims map[string]interface{}, secret string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret

	r := gin.New()
	r.GET("/protected", AuthMiddleware(cfg), func(c *gin.Context) {
		uid, _ := c.Get("user_id")
		c.JSON(http.StatusOK, gin.H{"user_id": uid})
	})
	return r
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	r := authRouter()
	token := signToken(t, map[string]interface{}{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["user_id"] != "user-42" {
		t.Fatalf("user_id = %q", body["user_id"])
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	r := authRouter()

	expired := signToken(t, map[string]interface{}{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, testSecret)
	notYet := signToken(t, map[string]interface{}{
		"sub": "user-42",
		"nbf": time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	wrongKey := signToken(t, map[string]interface{}{"sub": "user-42"}, "other-secret")

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired", "Bearer " + expired},
		{"not yet valid", "Bearer " + notYet},
		{"wrong signature", "Bearer " + wrongKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestValidateHS256JWT_RejectsOtherAlgs(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"user-42"}`))
	token := header + "." + payload + "."

	if _, err := validateHS256JWT(token, testSecret, time.Now()); err == nil {
		t.Fatal("alg=none token must be rejected")
	}
}
