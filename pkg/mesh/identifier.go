package mesh

import (
	"fmt"
	"regexp"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

const maxFQDNLength = 253

var fqdnRe = regexp.MustCompile(`^[A-Za-z0-9]+(?:[._-][A-Za-z0-9]+)*$`)

// validateFQDN rejects hostnames that are empty, oversized, or contain
// anything outside the alphanumeric-plus-dot/dash/underscore charset
// before they are trusted as a cache key or logged verbatim.
func validateFQDN(s string) error {
	if len(s) == 0 {
		return fmt.Errorf("fqdn must not be empty: %w", errdefs.ErrInvalidArgument)
	}
	if len(s) > maxFQDNLength {
		return fmt.Errorf("fqdn %q exceeds %d characters: %w", s, maxFQDNLength, errdefs.ErrInvalidArgument)
	}
	if !fqdnRe.MatchString(s) {
		return fmt.Errorf("fqdn %q must match %s: %w", s, fqdnRe.String(), errdefs.ErrInvalidArgument)
	}
	return nil
}
