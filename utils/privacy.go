package utils

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"

	userAgentHashLen = 16
)

// Anonymizer replaces network identifiers with one-way hashes before
// anything is persisted.
type Anonymizer struct {
	key []byte
}

// NewAnonymizer creates an Anonymizer keyed by salt. Salts longer than a
// BLAKE2b key are folded down to one.
func NewAnonymizer(salt string) *Anonymizer {
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	return &Anonymizer{key: key}
}

// HashIP returns the keyed BLAKE2b-256 of ip, hex encoded. Without the salt
// the hash cannot be reversed by enumerating the IPv4 space.
func (a *Anonymizer) HashIP(ip string) string {
	h, err := blake2b.New256(a.key)
	if err != nil {
		// only possible with a key over 64 bytes, which NewAnonymizer prevents
		panic(err)
	}
	h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}

// HashUserAgent returns a truncated unkeyed hash of the user agent, enough
// to group identical browsers without storing the string.
func (a *Anonymizer) HashUserAgent(ua string) string {
	if ua == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])[:userAgentHashLen]
}

// DeviceType classifies a user agent as mobile, tablet or desktop.
func DeviceType(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "mobile"):
		return DeviceMobile
	case strings.Contains(lower, "tablet"):
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}
