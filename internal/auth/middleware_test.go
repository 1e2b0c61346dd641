package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newGuardedRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/guarded", NewService(token).Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doGuarded(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareWithoutTokenIsOpen(t *testing.T) {
	rec := doGuarded(newGuardedRouter(""), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open route, got %d", rec.Code)
	}
}

func TestMiddlewareChecksBearerToken(t *testing.T) {
	router := newGuardedRouter("s3cret")
	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"s3cret", http.StatusUnauthorized},
		{"Bearer s3cret", http.StatusOK},
		{"bearer   s3cret ", http.StatusOK},
	}
	for _, tc := range cases {
		if rec := doGuarded(router, tc.header); rec.Code != tc.want {
			t.Fatalf("header %q: expected %d, got %d", tc.header, tc.want, rec.Code)
		}
	}
}

func TestValidateToken(t *testing.T) {
	svc := NewService("abc")
	if err := svc.ValidateToken(""); err != ErrMissingToken {
		t.Fatalf("expected missing token, got %v", err)
	}
	if err := svc.ValidateToken("abd"); err != ErrInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if err := svc.ValidateToken("abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
