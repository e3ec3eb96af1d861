package mesh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCredentialAuthenticatorChecksPasswordHash(t *testing.T) {
	db := seedAuthdb(t)
	auth := &CredentialAuthenticator{DB: db}

	ok, err := auth.Authenticate("alice", "$6$abc")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = auth.Authenticate("alice", "wrong-hash")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCredentialAuthenticatorRejectsEmptyAuth(t *testing.T) {
	db := seedAuthdb(t)
	auth := &CredentialAuthenticator{DB: db}

	ok, err := auth.Authenticate("alice", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCredentialAuthenticatorRejectsUnknownUser(t *testing.T) {
	db := seedAuthdb(t)
	auth := &CredentialAuthenticator{DB: db}

	ok, err := auth.Authenticate("nobody", "anything")
	require.NoError(t, err)
	require.False(t, ok)
}
