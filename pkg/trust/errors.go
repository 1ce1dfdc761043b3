package trust

import (
	"errors"
	"fmt"
)

var (
	ErrCertificateDenied = errors.New("certificate denied")
	ErrNoCertificate     = errors.New("server presented no certificate")
	ErrLockTimeout       = errors.New("timeout acquiring trust store lock")
)

// SecurityError aborts a TLS handshake. It is fatal to the connection attempt.
type SecurityError struct {
	Identity    Identity
	Reason      Reason
	Fingerprint string
	Err         error
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("could not trust certificate %s for %s (%s): %v", e.Fingerprint, e.Identity.ID(), e.Reason, e.Err)
}

func (e *SecurityError) Unwrap() error { return e.Err }
