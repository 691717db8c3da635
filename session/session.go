// Package session carries the caller's identity through every operation.
//
// A Session is created at the boundary (HTTP middleware, CLI, scheduler) and
// passed explicitly into the engines. Core code never looks up the current
// user from ambient state.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleManager     Role = "MANAGER"
	RoleAccountant  Role = "ACCOUNTANT"
	RoleMaintenance Role = "MAINTENANCE"
	RoleTenant      Role = "TENANT"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleAccountant, RoleMaintenance, RoleTenant:
		return true
	}
	return false
}

// Session identifies who is acting.
type Session struct {
	UserID string
	Name   string
	Role   Role
}

// System is the session used by scheduled jobs, the CLI and unauthenticated
// dev servers.
func System() Session {
	return Session{UserID: "system", Name: "System", Role: RoleAdmin}
}

// CanManageLedger reports whether the session may post charges, payments and
// late fees.
func (s Session) CanManageLedger() bool {
	switch s.Role {
	case RoleAdmin, RoleManager, RoleAccountant:
		return true
	}
	return false
}

// Actor is the value recorded as created-by on ledger entries.
func (s Session) Actor() string {
	if s.UserID == "" {
		return "system"
	}
	return s.UserID
}

// =============================================================================
// TOKENS
// =============================================================================

// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
var ErrInvalidToken = errors.New("session: invalid or expired token")

type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
}

// IssueToken signs an HS256 access token for s.
func IssueToken(secret string, s Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "rent-ledger",
		},
		UserID: s.UserID,
		Name:   s.Name,
		Role:   string(s.Role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("session.IssueToken: %w", err)
	}
	return signed, nil
}

// ParseToken validates tokenString and returns the session it carries.
func ParseToken(secret, tokenString string) (Session, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Session{}, fmt.Errorf("session.ParseToken: %w", ErrInvalidToken)
	}

	role := Role(claims.Role)
	if claims.UserID == "" || !role.Valid() {
		return Session{}, fmt.Errorf("session.ParseToken: %w", ErrInvalidToken)
	}
	return Session{UserID: claims.UserID, Name: claims.Name, Role: role}, nil
}
