package session

import (
	"fmt"
	"regexp"
)

// Session names become credential directory names, so they are restricted
// to a single safe path element.
var sessionNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateName reports whether name can key a session.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionName)
	}
	if !sessionNameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionName, name)
	}
	return nil
}
