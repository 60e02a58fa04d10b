package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func newService(t *testing.T) *AuthService {
	t.Helper()
	opHash, err := HashPassword("op-pass", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	viewHash, err := HashPassword("view-pass", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	s, err := NewAuthService(Config{
		Users: []User{
			{Username: "ops", PasswordHash: opHash, Roles: []string{RoleOperator}},
			{Username: "dash", PasswordHash: viewHash, Roles: []string{RoleViewer}},
		},
		JWTSecret: "test-secret",
		TokenTTL:  time.Minute,
	})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return s
}

func TestNewAuthServiceValidation(t *testing.T) {
	if _, err := NewAuthService(Config{}); !errors.Is(err, ErrNoUsers) {
		t.Fatalf("expected ErrNoUsers, got %v", err)
	}
	if _, err := NewAuthService(Config{Users: []User{{Username: "a", PasswordHash: "plain"}}}); err == nil {
		t.Fatal("expected error for non-bcrypt hash")
	}
	if _, err := NewAuthService(Config{Users: []User{{Username: "a"}}}); err == nil {
		t.Fatal("expected error for missing hash")
	}
}

func TestBasicThenBearer(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	res, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodBasic, Username: "ops", Password: "op-pass"})
	if err != nil || !res.Success {
		t.Fatalf("basic login failed: %v", err)
	}
	if res.Token == nil || res.Token.Type != "Bearer" {
		t.Fatalf("expected bearer token, got %+v", res.Token)
	}

	res2, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: res.Token.Value})
	if err != nil || !res2.Success {
		t.Fatalf("jwt login failed: %v", err)
	}
	if res2.Username != "ops" || len(res2.Roles) != 1 || res2.Roles[0] != RoleOperator {
		t.Fatalf("unexpected claims: %+v", res2)
	}
}

func TestRejectedCredentials(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	cases := []LoginRequest{
		{Method: AuthMethodBasic, Username: "ops", Password: "wrong"},
		{Method: AuthMethodBasic, Username: "nobody", Password: "op-pass"},
		{Method: AuthMethodBasic},
		{Method: AuthMethodJWT, Token: "not-a-jwt"},
		{Method: AuthMethodJWT},
	}
	for _, req := range cases {
		if res, err := s.Authenticate(ctx, req); err == nil || res.Success {
			t.Fatalf("expected rejection for %+v", req)
		}
	}
	if _, err := s.Authenticate(ctx, LoginRequest{Method: "client_secret"}); err == nil {
		t.Fatal("expected unsupported method error")
	}
}

func TestTokenFromOtherSecretOrExpired(t *testing.T) {
	s := newService(t)
	sign := func(secret string, exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
			Username: "ops",
			Roles:    []string{RoleOperator},
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(exp),
			},
		})
		v, err := tok.SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return v
	}
	ctx := context.Background()
	if _, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: sign("other", time.Now().Add(time.Hour))}); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
	if _, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: sign("test-secret", time.Now().Add(-time.Minute))}); err == nil {
		t.Fatal("expired token accepted")
	}
	if res, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: sign("test-secret", time.Now().Add(time.Hour))}); err != nil || !res.Success {
		t.Fatalf("valid token rejected: %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	s := newService(t)
	if !s.HasPermission([]string{RoleViewer}, ActionRead) {
		t.Fatal("viewer should read")
	}
	if s.HasPermission([]string{RoleViewer}, ActionWrite) {
		t.Fatal("viewer must not write")
	}
	if !s.HasPermission([]string{"unknown", RoleOperator}, ActionWrite) {
		t.Fatal("operator should write")
	}
	if s.HasPermission(nil, ActionRead) {
		t.Fatal("no roles, no permission")
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMiddleware(newService(t))
	r := gin.New()
	g := r.Group("/", m.GinAuth())
	g.GET("/read", m.GinRequirePermission(ActionRead), func(c *gin.Context) { c.Status(http.StatusOK) })
	g.POST("/write", m.GinRequirePermission(ActionWrite), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string, set func(*http.Request)) int {
		req := httptest.NewRequest(method, path, nil)
		if set != nil {
			set(req)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	basic := func(u, p string) func(*http.Request) {
		return func(r *http.Request) { r.SetBasicAuth(u, p) }
	}

	if code := do(http.MethodGet, "/read", nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous read: %d", code)
	}
	if code := do(http.MethodGet, "/read", basic("dash", "view-pass")); code != http.StatusOK {
		t.Fatalf("viewer read: %d", code)
	}
	if code := do(http.MethodPost, "/write", basic("dash", "view-pass")); code != http.StatusForbidden {
		t.Fatalf("viewer write: %d", code)
	}
	if code := do(http.MethodPost, "/write", basic("ops", "bad")); code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", code)
	}

	res, err := m.Service().Authenticate(context.Background(), LoginRequest{Method: AuthMethodBasic, Username: "ops", Password: "op-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	bearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+res.Token.Value) }
	if code := do(http.MethodPost, "/write", bearer); code != http.StatusOK {
		t.Fatalf("operator bearer write: %d", code)
	}
}
