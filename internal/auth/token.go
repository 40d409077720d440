package auth

import (
	"errors"
	"strings"
	"time"

	"chat-relay/internal/apperror"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier turns a bearer credential into the identity it was issued for.
// The same verifier guards the websocket handshake, guarded realtime actions
// and REST requests.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

// Verify fails with apperror.KindUnauthorized when the token is absent,
// malformed, badly signed, expired, or carries an empty subject.
func (v *JWTVerifier) Verify(token string) (string, error) {
	token = StripBearer(token)
	if token == "" {
		return "", apperror.Unauthorized("missing token")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperror.Wrap(apperror.KindUnauthorized, "token expired", err)
		}
		return "", apperror.Wrap(apperror.KindUnauthorized, "invalid token", err)
	}
	if !parsed.Valid {
		return "", apperror.Unauthorized("invalid token")
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", apperror.Unauthorized("invalid token subject")
	}
	return subject, nil
}

// StripBearer removes an optional "Bearer " prefix.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= 6 && strings.EqualFold(token[:6], "bearer") && (len(token) == 6 || token[6] == ' ') {
		return strings.TrimSpace(token[6:])
	}
	return token
}

// Issuer signs tokens for an identity. Only the seed tool and tests use it;
// production tokens come from the identity provider.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(subject string) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
