package auth

import (
	"errors"
	"testing"
	"time"

	"chat-relay/internal/apperror"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestVerifyIssuedToken(t *testing.T) {
	token, err := NewIssuer(testSecret, time.Hour).Issue("user-1")
	require.NoError(t, err)

	identity, err := NewJWTVerifier(testSecret).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity)

	identity, err = NewJWTVerifier(testSecret).Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity)
}

func TestVerifyRejects(t *testing.T) {
	valid, err := NewIssuer(testSecret, time.Hour).Issue("user-1")
	require.NoError(t, err)

	expiredIssuer := NewIssuer(testSecret, time.Minute)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiredIssuer.Issue("user-1")
	require.NoError(t, err)

	emptySubject, err := NewIssuer(testSecret, time.Hour).Issue("  ")
	require.NoError(t, err)

	otherSecret, err := NewIssuer("other-secret", time.Hour).Issue("user-1")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{"absent", "", "missing token"},
		{"bearer only", "Bearer ", "missing token"},
		{"malformed", "not-a-jwt", "invalid token"},
		{"expired", expired, "token expired"},
		{"empty subject", emptySubject, "invalid token subject"},
		{"wrong secret", otherSecret, "invalid token"},
		{"alg none", none, "invalid token"},
	}

	verifier := NewJWTVerifier(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := verifier.Verify(tt.token)
			require.Error(t, err)
			assert.Empty(t, identity)
			assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
			assert.Equal(t, tt.message, apperror.MessageOf(err))
		})
	}

	_, err = verifier.Verify(valid)
	assert.NoError(t, err)
}

func TestStripBearer(t *testing.T) {
	assert.Equal(t, "abc", StripBearer("Bearer abc"))
	assert.Equal(t, "abc", StripBearer("bearer  abc "))
	assert.Equal(t, "abc", StripBearer("abc"))
	assert.Equal(t, "", StripBearer("Bearer"))
}
