package jwtauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_IssueAndValidate(t *testing.T) {
	auth, err := New(Config{SecretKey: "secret", TokenDuration: time.Hour})
	require.NoError(t, err)

	token, err := auth.Issue("release-manager", time.Now())
	require.NoError(t, err)

	subject, err := auth.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "release-manager", subject)
}

func TestAuthenticator_Rejects(t *testing.T) {
	auth, err := New(Config{SecretKey: "secret", TokenDuration: time.Hour})
	require.NoError(t, err)
	other, err := New(Config{SecretKey: "other", TokenDuration: time.Hour})
	require.NoError(t, err)

	expired, err := auth.Issue("alice", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	foreign, err := other.Issue("alice", time.Now())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong key", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestIssue_RequiresSubject(t *testing.T) {
	auth, err := New(Config{SecretKey: "secret"})
	require.NoError(t, err)
	_, err = auth.Issue("", time.Now())
	assert.Error(t, err)
}
