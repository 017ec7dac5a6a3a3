// Package auth resolves the caller's session from a signed bearer token.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inventory-importer/internal/types"
)

var (
	// ErrMissingToken is returned when the request carries no bearer token
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for tokens that fail signature, expiry or claim checks
	ErrInvalidToken = errors.New("invalid session token")
)

var signingMethod = jwt.SigningMethodHS256

// Session identifies who is calling and on behalf of which company
type Session struct {
	ActorID   string     `json:"actorId"`
	CompanyID string     `json:"companyId"`
	Role      types.Role `json:"role"`
	CSRFToken string     `json:"-"`
}

// Claims is the token payload. The subject is the actor id.
type Claims struct {
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
	CSRF      string `json:"csrf"`
	jwt.RegisteredClaims
}

// SessionResolver signs and verifies session tokens
type SessionResolver struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSessionResolver creates a resolver for HS256 tokens
func NewSessionResolver(secret, issuer string, ttl time.Duration) (*SessionResolver, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionResolver{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// IssueToken signs a token for session. An empty CSRF token is generated.
func (r *SessionResolver) IssueToken(session Session) (string, Session, error) {
	if session.CSRFToken == "" {
		token, err := NewCSRFToken()
		if err != nil {
			return "", Session{}, err
		}
		session.CSRFToken = token
	}

	now := time.Now()
	claims := &Claims{
		CompanyID: session.CompanyID,
		Role:      string(session.Role),
		CSRF:      session.CSRFToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.ActorID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(r.secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, session, nil
}

// Resolve verifies a raw token and returns its session
func (r *SessionResolver) Resolve(raw string) (Session, error) {
	if raw == "" {
		return Session{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" || claims.CompanyID == "" {
		return Session{}, fmt.Errorf("%w: subject and company are required", ErrInvalidToken)
	}

	return Session{
		ActorID:   claims.Subject,
		CompanyID: claims.CompanyID,
		Role:      types.Role(claims.Role),
		CSRFToken: claims.CSRF,
	}, nil
}

// ResolveRequest reads the Authorization bearer header
func (r *SessionResolver) ResolveRequest(req *http.Request) (Session, error) {
	header := req.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Session{}, ErrMissingToken
	}
	return r.Resolve(strings.TrimSpace(raw))
}

// VerifyCSRF compares the submitted anti-forgery token with the session's
func VerifyCSRF(session Session, token string) bool {
	if session.CSRFToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(token)) == 1
}

// NewCSRFToken returns 32 random bytes, hex encoded
func NewCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type sessionKey struct{}

// WithSession stores a session in the context
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored by WithSession
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
