// Package confirm derives and checks signup confirmation codes.
//
// Codes are never stored: each one is an HMAC over the shared secret,
// the user's username, and a digest of the user's mutable state, plus
// the issue timestamp. Changing email, role, or bio changes the digest
// and silently invalidates every previously issued code. A code also
// stops verifying once it is older than the configured TTL.
package confirm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"reviewboard/pkg/domain"
)

const macLength = 32

// Issuer derives confirmation codes from an injected secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an issuer. The secret is required; ttl defaults to
// 24 hours when unset.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("confirmation secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue derives a code for the user's current state. The result is
// deterministic for a fixed secret, state, and issue time.
func (i *Issuer) Issue(user domain.User) string {
	return i.issueAt(user, time.Now().UTC())
}

// Check reports whether the code matches the user's current state and
// is still within the validity window. The MAC comparison is constant
// time.
func (i *Issuer) Check(user domain.User, code string) bool {
	code = strings.TrimSpace(code)
	tsPart, macPart, ok := strings.Cut(code, "-")
	if !ok || tsPart == "" || len(macPart) != macLength {
		return false
	}
	issuedUnix, err := strconv.ParseInt(tsPart, 36, 64)
	if err != nil {
		return false
	}
	issued := time.Unix(issuedUnix, 0).UTC()
	if time.Now().UTC().Sub(issued) > i.ttl {
		return false
	}
	expected := i.mac(user, tsPart)
	return hmac.Equal([]byte(macPart), []byte(expected))
}

func (i *Issuer) issueAt(user domain.User, now time.Time) string {
	tsPart := strconv.FormatInt(now.Unix(), 36)
	return tsPart + "-" + i.mac(user, tsPart)
}

func (i *Issuer) mac(user domain.User, tsPart string) string {
	h := hmac.New(sha256.New, i.secret)
	h.Write([]byte(tsPart))
	h.Write([]byte{0})
	h.Write([]byte(user.Username))
	h.Write([]byte{0})
	h.Write(stateDigest(user))
	return hex.EncodeToString(h.Sum(nil))[:macLength]
}

// stateDigest hashes the mutable fields whose change must void
// outstanding codes.
func stateDigest(user domain.User) []byte {
	h := sha256.New()
	h.Write([]byte(user.Email))
	h.Write([]byte{0})
	h.Write([]byte(user.Role))
	h.Write([]byte{0})
	h.Write([]byte(user.Bio))
	sum := h.Sum(nil)
	return sum
}
