package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

func authRouter() *gin.Engine {
	r := gin.New()
	r.Use(JWTAuth(testSecret))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	valid, err := GenerateToken(testSecret, "operator", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	expired, _ := GenerateToken(testSecret, "operator", -time.Minute)
	wrongKey, _ := GenerateToken("other-secret", "operator", time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "operator"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"valid", valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"expired", expired, http.StatusUnauthorized},
		{"wrong key", wrongKey, http.StatusUnauthorized},
		{"alg none", none, http.StatusUnauthorized},
		{"garbage", "abc.def.ghi", http.StatusUnauthorized},
	}
	r := authRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, "/me", tt.token)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status == http.StatusOK && w.Body.String() != "operator" {
				t.Fatalf("subject = %q", w.Body.String())
			}
		})
	}
}

func TestJWTAuthRequiresBearerScheme(t *testing.T) {
	valid, _ := GenerateToken(testSecret, "operator", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token "+valid)
	w := httptest.NewRecorder()
	authRouter().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

type countingLimiter struct {
	counts map[string]int
	err    error
}

func (l *countingLimiter) Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.counts[key]++
	n := l.counts[key]
	return &RateLimitResult{
		Allowed:   n <= config.Limit,
		Remaining: config.Limit - n,
		Limit:     config.Limit,
		ResetAt:   time.Now().Add(config.Window).Unix(),
	}, nil
}

func limitedRouter(l RateLimiter, cfg *RateLimitConfig) *gin.Engine {
	r := gin.New()
	r.Use(RateLimit(l, cfg))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimit(t *testing.T) {
	l := &countingLimiter{counts: map[string]int{}}
	r := limitedRouter(l, &RateLimitConfig{Limit: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		w := get(r, "/ping", "")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("limit header = %q", w.Header().Get("X-RateLimit-Limit"))
		}
	}
	w := get(r, "/ping", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", w.Code)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	l := &countingLimiter{err: errors.New("redis down")}
	r := limitedRouter(l, &RateLimitConfig{Limit: 1, Window: time.Minute})
	for i := 0; i < 3; i++ {
		if w := get(r, "/ping", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
}

func TestBySubject(t *testing.T) {
	l := &countingLimiter{counts: map[string]int{}}
	r := gin.New()
	r.Use(JWTAuth(testSecret), RateLimit(l, &RateLimitConfig{Limit: 5, Window: time.Minute, KeyFunc: BySubject}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	token, _ := GenerateToken(testSecret, "alice", time.Hour)
	get(r, "/ping", token)
	if l.counts["sub:alice"] != 1 {
		t.Fatalf("counts = %v", l.counts)
	}
}
