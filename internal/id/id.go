package id

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a random identifier with the given prefix, e.g. "pz_3f9a...".
func New(prefix string) string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("id: crypto/rand unavailable: " + err.Error())
	}
	if prefix == "" {
		return hex.EncodeToString(b[:])
	}
	return prefix + "_" + hex.EncodeToString(b[:])
}
