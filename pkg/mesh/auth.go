package mesh

import (
	"github.com/clockwork-mesh/clockwork/pkg/authdb"
)

// Authenticator verifies a REQUEST PDU's auth field for username. Two
// forms are plausible here: a signed challenge checked against an
// on-file credential, or a plaintext password checked through a
// PAM-like service. This interface is the seam: CredentialAuthenticator
// below implements the on-file-credential form; a PAM-backed
// Authenticator is deployment-specific and out of scope here.
type Authenticator interface {
	Authenticate(username, auth string) (bool, error)
}

// CredentialAuthenticator checks auth against the username's on-file
// password hash in AuthDB.
type CredentialAuthenticator struct {
	DB *authdb.DB
}

// Authenticate reports whether auth matches the stored credential for
// username. A lookup failure or empty auth is never authenticated.
func (a *CredentialAuthenticator) Authenticate(username, auth string) (bool, error) {
	if auth == "" {
		return false, nil
	}
	u, err := a.DB.FindUser(username, 0)
	if err != nil {
		return false, nil
	}
	return auth == u.PasswordHash, nil
}
