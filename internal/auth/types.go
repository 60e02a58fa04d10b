// Package auth guards the status API. Users are declared in the agent
// settings with bcrypt password hashes; a successful basic login can be
// exchanged for a short-lived HS256 bearer token.
package auth

import (
	"errors"
	"time"
)

// AuthMethod represents the type of authentication
type AuthMethod string

const (
	AuthMethodBasic AuthMethod = "basic" // username/password
	AuthMethodJWT   AuthMethod = "jwt"   // bearer token
)

// Roles understood by the status API. Operators may change runtime state
// (log levels); viewers only read.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Actions on the runtime resource.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoUsers            = errors.New("auth enabled but no users configured")
)

// User is one configured account.
type User struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Roles        []string `mapstructure:"roles"`
}

// Config is the status.auth section of the agent settings.
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	Users      []User        `mapstructure:"users"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// AuthResult represents the result of authentication
type AuthResult struct {
	Success  bool     `json:"success"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Token    *Token   `json:"token,omitempty"`
}

// Token represents a JWT token
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Method   AuthMethod `json:"method"`
	Username string     `json:"username,omitempty"`
	Password string     `json:"password,omitempty"`
	Token    string     `json:"token,omitempty"`
}

// permissions maps a role onto the actions it grants on the runtime.
var permissions = map[string][]string{
	RoleViewer:   {ActionRead},
	RoleOperator: {ActionRead, ActionWrite},
	RoleAdmin:    {ActionRead, ActionWrite},
}
