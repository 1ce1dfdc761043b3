package trust

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Identity is the subject certificates are pinned to.
type Identity struct {
	Host   string
	Port   int
	Secure bool
}

// IdentityFromAddr parses a host:port dial address.
func IdentityFromAddr(addr string, secure bool) (Identity, error) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return Identity{}, err
	}

	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return Identity{}, fmt.Errorf("could not parse port %q: %w", rawPort, err)
	}

	return Identity{Host: host, Port: port, Secure: secure}, nil
}

func (i Identity) Scheme() string {
	if i.Secure {
		return "https"
	}

	return "http"
}

// ID is the canonical form of the identity. Hosts compare case-insensitively.
func (i Identity) ID() string {
	return i.Scheme() + "://" + net.JoinHostPort(strings.ToLower(i.Host), strconv.Itoa(i.Port))
}

func (i Identity) String() string {
	return i.ID()
}

// Certificate is the pinned summary of a server certificate.
type Certificate struct {
	CommonName   string    `yaml:"commonName" json:"commonName"`
	Organization string    `yaml:"organization,omitempty" json:"organization,omitempty"`
	NotBefore    time.Time `yaml:"notBefore" json:"notBefore"`
	NotAfter     time.Time `yaml:"notAfter" json:"notAfter"`
	Fingerprint  string    `yaml:"fingerprint" json:"fingerprint"`
}

func NewCertificate(cert *x509.Certificate) Certificate {
	return Certificate{
		CommonName:   cert.Subject.CommonName,
		Organization: strings.Join(cert.Subject.Organization, ", "),
		NotBefore:    cert.NotBefore.UTC(),
		NotAfter:     cert.NotAfter.UTC(),
		Fingerprint:  Fingerprint(cert.Raw),
	}
}

// Fingerprint is the lowercase hex SHA-256 of a DER certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)

	return hex.EncodeToString(sum[:])
}

// Equal compares fingerprint and subject, ignoring the validity window.
func (c Certificate) Equal(other Certificate) bool {
	return strings.EqualFold(c.Fingerprint, other.Fingerprint) &&
		c.CommonName == other.CommonName &&
		c.Organization == other.Organization
}

type State int

const (
	StateUnknown State = iota
	StateEvaluating
	StateTrustedOnce
	StateTrustedPermanently
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateEvaluating:
		return "evaluating"
	case StateTrustedOnce:
		return "trusted-once"
	case StateTrustedPermanently:
		return "trusted-permanently"
	case StateDenied:
		return "denied"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Reason explains why a decision is requested.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUntrustedCertificate
	ReasonFingerprintChanged
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUntrustedCertificate:
		return "untrusted-certificate"
	case ReasonFingerprintChanged:
		return "fingerprint-changed"
	default:
		return "reason(" + strconv.Itoa(int(r)) + ")"
	}
}

type Decision int

const (
	DecisionNone Decision = iota
	DecisionTrustOnce
	DecisionTrustPermanently
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionTrustOnce:
		return "trust-once"
	case DecisionTrustPermanently:
		return "trust-permanently"
	case DecisionDeny:
		return "deny"
	default:
		return "none"
	}
}
