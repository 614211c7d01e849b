package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bissquit/cutover-garden/internal/pkg/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCmd_IssuesValidToken(t *testing.T) {
	t.Setenv("CUTOVER_DATABASE_URL", "postgres://localhost/cutover")
	t.Setenv("CUTOVER_JWT_SECRET_KEY", "test-secret")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "alice"})

	require.NoError(t, cmd.Execute())

	auth, err := jwtauth.New(jwtauth.Config{SecretKey: "test-secret"})
	require.NoError(t, err)
	subject, err := auth.ValidateToken(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestTokenCmd_RequiresUser(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token"})

	assert.Error(t, cmd.Execute())
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "token"})
}
