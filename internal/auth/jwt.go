package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in tokens.
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// Token is a signed bearer token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Claims represents JWT payload. For admins Subject is the admin id; for
// students Subject is the student id and Tenant the owning admin id.
type Claims struct {
	Role   string `json:"role"`
	Tenant string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs tokens with a shared HS256 key.
type Issuer struct {
	Name string
	Key  []byte
}

// NewIssuer creates an issuer.
func NewIssuer(name, key string) Issuer {
	return Issuer{Name: name, Key: []byte(key)}
}

// IssueAdmin issues a token for an admin identified by the identity provider.
func (i Issuer) IssueAdmin(adminID string, ttl time.Duration) (Token, error) {
	if adminID == "" {
		return Token{}, errors.New("admin id required")
	}
	return i.issue(adminID, RoleAdmin, "", ttl)
}

// IssueStudent issues a token proving a student signed in.
func (i Issuer) IssueStudent(studentID, adminID string, ttl time.Duration) (Token, error) {
	if studentID == "" || adminID == "" {
		return Token{}, errors.New("student and admin id required")
	}
	return i.issue(studentID, RoleStudent, adminID, ttl)
}

func (i Issuer) issue(subject, role, tenant string, ttl time.Duration) (Token, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role:   role,
		Tenant: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.Name,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Key)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func (i Issuer) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.Key, nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if i.Name != "" && claims.Issuer != i.Name {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("token has no subject")
	}
	if claims.Role == RoleStudent && claims.Tenant == "" {
		return Claims{}, errors.New("student token has no tenant")
	}
	return *claims, nil
}
